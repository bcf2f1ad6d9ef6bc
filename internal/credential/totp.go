package credential

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"github.com/R3E-Network/service_layer/infrastructure/crypto"
)

const totpEnvelopeInfo = "credential.mfa_secret"

// mfaCrypto seals and opens TOTP secrets at rest using envelope encryption
// keyed by the owning user id, mirroring how Service stores password hashes
// never in plaintext.
type mfaCrypto struct {
	masterKey []byte
}

func newMFACrypto(masterKey []byte) *mfaCrypto {
	return &mfaCrypto{masterKey: masterKey}
}

func (m *mfaCrypto) seal(userID, secret string) (string, error) {
	out, err := crypto.EncryptEnvelope(m.masterKey, []byte(userID), totpEnvelopeInfo, []byte(secret))
	if err != nil {
		return "", fmt.Errorf("seal mfa secret: %w", err)
	}
	return string(out), nil
}

func (m *mfaCrypto) open(userID, sealed string) (string, error) {
	out, err := crypto.DecryptEnvelope(m.masterKey, []byte(userID), totpEnvelopeInfo, []byte(sealed))
	if err != nil {
		return "", fmt.Errorf("open mfa secret: %w", err)
	}
	return string(out), nil
}

// generateTOTPSecret issues a new random TOTP key for issuer/accountName,
// mirroring original_source's pyotp.random_base32() + provisioning URI.
func generateTOTPSecret(issuer, accountName string) (*otp.Key, error) {
	return totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountName,
	})
}

func validateTOTPCode(secret, code string) bool {
	ok, _ := totp.ValidateCustom(code, secret, time.Now(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return ok
}

// generateBackupCodes produces n single-use recovery codes, following
// original_source's secrets.token_hex(8) shape (16 hex chars), and their
// bcrypt hashes for storage. Plaintext codes are returned once for display
// and never retained.
func generateBackupCodes(n, cost int) (plaintext []string, hashes []string, err error) {
	plaintext = make([]string, n)
	hashes = make([]string, n)
	for i := 0; i < n; i++ {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			return nil, nil, fmt.Errorf("generate backup code: %w", err)
		}
		code := hex.EncodeToString(buf)
		hash, err := bcrypt.GenerateFromPassword([]byte(code), cost)
		if err != nil {
			return nil, nil, fmt.Errorf("hash backup code: %w", err)
		}
		plaintext[i] = code
		hashes[i] = string(hash)
	}
	return plaintext, hashes, nil
}

// matchBackupCode finds and returns the index of the hash matching code, or
// -1 if none match. Callers must remove the matched hash from storage
// (single use).
func matchBackupCode(hashes []string, code string) int {
	for i, h := range hashes {
		if bcrypt.CompareHashAndPassword([]byte(h), []byte(code)) == nil {
			return i
		}
	}
	return -1
}

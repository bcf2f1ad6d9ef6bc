// Package requestnum allocates the human-facing work-order identifier: a
// YYMMDD-NNN daily sequence, primarily served from the shared KV
// substrate with a Postgres fallback when the substrate is unavailable.
package requestnum

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/R3E-Network/service_layer/infrastructure/database"
	"github.com/R3E-Network/service_layer/infrastructure/errors"
	"github.com/R3E-Network/service_layer/infrastructure/kv"
	"github.com/R3E-Network/service_layer/infrastructure/logging"
)

const (
	ttl      = 48 * time.Hour
	maxDaily = 999
	// maxFallbackAttempts bounds the DB-fallback retry loop on unique
	// constraint conflicts before giving up.
	maxFallbackAttempts = 10
)

// Allocator generates request numbers for a single configured timezone.
type Allocator struct {
	kv       *kv.Client
	db       *sql.DB
	location *time.Location
	logger   *logging.Logger
}

func New(kvClient *kv.Client, db *sql.DB, location *time.Location, logger *logging.Logger) *Allocator {
	if location == nil {
		location = time.UTC
	}
	return &Allocator{kv: kvClient, db: db, location: location, logger: logger}
}

// Generate allocates the next request number for "today" in the
// allocator's configured timezone. It prefers the KV substrate's atomic
// counter; on substrate failure it falls back to a Postgres-backed
// sequence scan with bounded-retry INSERT-on-conflict.
func (a *Allocator) Generate(ctx context.Context) (string, error) {
	datePrefix := time.Now().In(a.location).Format("060102")

	n, err := a.kv.IncrWithTTL(ctx, counterKey(datePrefix), ttl)
	if err != nil {
		if a.logger != nil {
			a.logger.Error(ctx, "request number counter fell back to database", err, map[string]interface{}{"date": datePrefix})
		}
		return a.generateFromDB(ctx, datePrefix)
	}

	return a.finalize(datePrefix, n)
}

func (a *Allocator) finalize(datePrefix string, n int64) (string, error) {
	if n > maxDaily {
		return "", errors.Overflow("request_number")
	}
	number := fmt.Sprintf("%s-%03d", datePrefix, n)
	if err := database.ValidateRequestNumber(number); err != nil {
		return "", fmt.Errorf("generated request number failed validation: %w", err)
	}
	return number, nil
}

// generateFromDB scans request_number_sequences for the count allocated
// today and attempts to claim the next one under a unique constraint,
// retrying on conflict up to maxFallbackAttempts times.
func (a *Allocator) generateFromDB(ctx context.Context, datePrefix string) (string, error) {
	if a.db == nil {
		return "", fmt.Errorf("%w: kv substrate unavailable and no database fallback configured", kv.ErrUnavailable)
	}

	var count int
	if err := a.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM request_number_sequences WHERE date_prefix = $1
	`, datePrefix).Scan(&count); err != nil {
		return "", fmt.Errorf("%w: count existing sequence rows: %v", database.ErrDatabaseError, err)
	}

	for attempt := 0; attempt < maxFallbackAttempts; attempt++ {
		candidate := count + 1 + attempt
		number, err := a.finalize(datePrefix, int64(candidate))
		if err != nil {
			return "", err
		}

		_, err = a.db.ExecContext(ctx, `
			INSERT INTO request_number_sequences (date_prefix, sequence, number)
			VALUES ($1, $2, $3)
		`, datePrefix, candidate, number)
		if err == nil {
			return number, nil
		}
		if !database.IsUniqueViolation(err) {
			return "", fmt.Errorf("%w: claim sequence row: %v", database.ErrDatabaseError, err)
		}
		// Another caller claimed this sequence number first; retry with the next.
	}

	return "", errors.Overflow("request_number")
}

func counterKey(datePrefix string) string {
	return "requestnum:counter:" + datePrefix
}

// Command auth runs the credential and session service: password
// verification, MFA enrollment, and session issuance, renewal and
// revocation for end users signing in through the portal or the bot.
package main

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/service_layer/infrastructure/config"
	"github.com/R3E-Network/service_layer/infrastructure/database"
	"github.com/R3E-Network/service_layer/infrastructure/httputil"
	"github.com/R3E-Network/service_layer/infrastructure/kv"
	"github.com/R3E-Network/service_layer/infrastructure/logging"
	"github.com/R3E-Network/service_layer/infrastructure/metrics"
	"github.com/R3E-Network/service_layer/infrastructure/middleware"
	"github.com/R3E-Network/service_layer/infrastructure/ratelimit"
	"github.com/R3E-Network/service_layer/infrastructure/resilience"
	"github.com/R3E-Network/service_layer/infrastructure/serviceauth"
	"github.com/R3E-Network/service_layer/internal/credential"
)

const serviceName = "auth"

type loginRequest struct {
	UserID    string `json:"user_id"`
	Password  string `json:"password"`
	IPAddress string `json:"ip_address"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type mfaVerifyRequest struct {
	UserID    string `json:"user_id"`
	Code      string `json:"code"`
	IPAddress string `json:"ip_address"`
}

type mfaVerifyResponse struct {
	Valid bool `json:"valid"`
}

type botRenewRequest struct {
	PlatformUserID    string `json:"platform_user_id"`
	DeviceFingerprint string `json:"device_fingerprint"`
}

type botRenewResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Role      string    `json:"role"`
	TenantID  string    `json:"tenant_id"`
}

func main() {
	logger := logging.NewFromEnv(serviceName)
	ctx := context.Background()

	dbCtx, cancel := context.WithTimeout(ctx, config.GetDefaultTimeouts().Database)
	db, err := database.Open(dbCtx, database.DefaultConfig(config.RequireEnvOrSecretFile("DATABASE_URL")))
	cancel()
	if err != nil {
		logger.WithError(err).Fatal("open database")
	}
	defer db.Close()

	redisClient, err := kv.New(ctx, kv.DefaultConfig(config.GetEnv("REDIS_ADDR", "localhost:6379")))
	if err != nil {
		logger.WithError(err).Fatal("connect redis")
	}
	defer redisClient.Close()

	policy := credential.DefaultPolicy()
	mfaMasterKey := []byte(config.RequireEnvOrSecretFile("MFA_MASTER_KEY"))
	accessTokenSecret := []byte(config.RequireEnvOrSecretFile("ACCESS_TOKEN_SECRET"))

	repo := credential.NewPostgresRepository(db)
	svc := credential.NewService(repo, policy, mfaMasterKey, accessTokenSecret, "service-layer-auth", logger)

	trustStore := serviceauth.NewTrustStore(serviceauth.LoadPeersFromEnv([]string{
		"request", "bot-gateway", "integration", "dispatcher", "notification", "media",
	}))
	trustAuth := middleware.NewTrustAuthMiddleware(trustStore, logger)

	m := metrics.New(serviceName)
	limiter := ratelimit.New(redisClient)
	breakers := resilience.NewRegistry()

	health := middleware.NewHealthChecker("1.0.0")
	health.RegisterCheck("database", func() error { return db.PingContext(ctx) })

	detailed := middleware.NewDetailedHealthChecker(serviceName, "1.0.0", breakers)
	detailed.RegisterCheck("database", func() middleware.CheckResult {
		if err := db.PingContext(ctx); err != nil {
			return middleware.CheckResult{Status: middleware.CheckUnreachable, Detail: err.Error()}
		}
		return middleware.CheckResult{Status: middleware.CheckHealthy}
	})

	router := chi.NewRouter()
	// Middleware order is fixed: metrics outermost so it times rejected and
	// throttled requests too, then recovery to protect everything beneath
	// it, then CORS/body-limit, then rate-limiting, then logging (so logs
	// reflect only requests that passed the limiter), then per-route auth.
	router.Use(metrics.MetricsMiddleware(serviceName, m))
	router.Use(middleware.NewRecoveryMiddleware(logger).Handler)
	router.Use(middleware.NewCORSMiddleware(nil).Handler)
	router.Use(middleware.NewBodyLimitMiddleware(1 << 20).Handler)
	router.Use(middleware.NewRateLimiter(limiter, logger,
		ratelimit.Limit{Name: "auth-per-caller", Max: 60, Window: time.Minute},
	).Handler)
	router.Use(middleware.LoggingMiddleware(logger))

	router.Get("/health", health.Handler())
	router.Get("/health/detailed", detailed.Handler())
	router.Get("/health/live", middleware.LivenessHandler())
	router.Handle("/metrics", promhttp.Handler())

	router.Post("/v1/sessions", httputil.HandleJSON(logger, func(ctx context.Context, req *loginRequest) (*credential.VerifyResult, error) {
		return svc.VerifyPassword(ctx, credential.VerifyPasswordInput{
			UserID:    req.UserID,
			Password:  req.Password,
			IPAddress: req.IPAddress,
		})
	}))

	router.Post("/v1/sessions/{sessionID}/refresh", func(w http.ResponseWriter, r *http.Request) {
		var req refreshRequest
		if !httputil.DecodeJSON(w, r, &req) {
			return
		}
		session, err := svc.RefreshSession(r.Context(), chi.URLParam(r, "sessionID"), req.RefreshToken)
		if err != nil {
			httputil.Unauthorized(w, err.Error())
			return
		}
		httputil.WriteJSON(w, http.StatusOK, session)
	})

	router.Post("/v1/sessions/{sessionID}/touch", func(w http.ResponseWriter, r *http.Request) {
		session, err := svc.TouchSession(r.Context(), chi.URLParam(r, "sessionID"))
		if err != nil {
			httputil.Unauthorized(w, err.Error())
			return
		}
		httputil.WriteJSON(w, http.StatusOK, session)
	})

	router.Delete("/v1/sessions/{sessionID}", func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Logout(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
			httputil.InternalError(w, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	router.Route("/internal", func(r chi.Router) {
		r.Use(trustAuth.Handler)
		r.Post("/v1/mfa/verify", httputil.HandleJSONWithServiceAuth(logger, func(ctx context.Context, serviceID string, req *mfaVerifyRequest) (*mfaVerifyResponse, error) {
			ok, err := svc.VerifyMFA(ctx, req.UserID, req.Code, req.IPAddress)
			if err != nil {
				return nil, err
			}
			return &mfaVerifyResponse{Valid: ok}, nil
		}))

		// Bot Gateway renews a conversational session's access token on the
		// platform user's behalf; the caller is already trust-authenticated
		// above, so no end-user credential is presented here.
		r.Post("/v1/bot-sessions/renew", httputil.HandleJSONWithServiceAuth(logger, func(ctx context.Context, serviceID string, req *botRenewRequest) (*botRenewResponse, error) {
			session, err := svc.IssueSession(ctx, req.PlatformUserID, "bot-gateway", req.DeviceFingerprint, "", "bot-gateway")
			if err != nil {
				return nil, err
			}
			return &botRenewResponse{
				Token:     session.AccessToken,
				ExpiresAt: session.ExpiresAt,
				Role:      "user",
			}, nil
		}))
	})

	sweeper := cron.New()
	if _, err := sweeper.AddFunc("@every 5m", func() {
		expired, locks, err := svc.SweepExpired(ctx)
		if err != nil {
			logger.WithError(err).Warn("sweep expired sessions/locks failed")
			return
		}
		logger.WithFields(map[string]interface{}{
			"expired_sessions": expired,
			"cleared_locks":    locks,
		}).Info("swept expired sessions and locks")
	}); err != nil {
		logger.WithError(err).Fatal("schedule sweep job")
	}
	sweeper.Start()
	defer sweeper.Stop()

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(config.GetPort(serviceName, 8081)),
		Handler:      router,
		ReadTimeout:  config.GetDefaultTimeouts().HTTP,
		WriteTimeout: config.GetDefaultTimeouts().HTTP,
	}

	shutdown := middleware.NewGracefulShutdown(server, 30*time.Second)
	shutdown.OnShutdown(func() {
		logger.WithFields(nil).Info("auth service shutting down")
	})

	shutdown.ListenForSignals()

	logger.WithFields(map[string]interface{}{"addr": server.Addr}).Info("auth service listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.WithError(err).Fatal("listen and serve")
	}
	shutdown.Wait()
}

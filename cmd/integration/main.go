// Command integration runs the webhook ingress service: deduplicated,
// signature-verified intake of inbound webhook deliveries from scheduling
// partners and other third parties, republished as domain events.
package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

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
	"github.com/R3E-Network/service_layer/internal/events"
)

const serviceName = "integration"

// knownSources lists the webhook partners this service accepts deliveries
// from. Each gets its own event kind (so downstream consumers can subscribe
// per source) and its own SOURCE_<NAME>_SIGNING_SECRET / REQUIRE_HTTPS
// configuration.
var knownSources = []string{"scheduling-partner", "sms-provider", "payment-provider"}

// publishingHandler republishes a verified webhook body as a domain event
// named after its source, satisfying events.Handler. The source's schema
// is registered with no required fields, so any well-formed JSON object is
// accepted as payload.
type publishingHandler struct {
	publisher *events.Publisher
}

func (h *publishingHandler) Handle(ctx context.Context, source, declaredKind string, body []byte) (string, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", err
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}
	payload["declared_kind"] = declaredKind

	env, err := h.publisher.Publish(ctx, source, payload, events.IdempotencyKey(body))
	if err != nil {
		return "", err
	}
	return env.EventID, nil
}

func loadPolicies() map[string]events.SourcePolicy {
	policies := make(map[string]events.SourcePolicy, len(knownSources))
	for _, source := range knownSources {
		envName := strings.ToUpper(strings.ReplaceAll(source, "-", "_"))
		secret := config.EnvOrSecretFile("SOURCE_"+envName+"_SIGNING_SECRET", "")
		policies[source] = events.SourcePolicy{
			Source:         source,
			SigningSecret:  []byte(secret),
			RequireHTTPS:   config.GetEnvBool("SOURCE_"+envName+"_REQUIRE_HTTPS", true),
			MaxAttempts:    5,
			InitialBackoff: time.Second,
			MaxBackoff:     5 * time.Minute,
		}
	}
	return policies
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

	registry := events.NewRegistry()
	for _, source := range knownSources {
		registry.Register(events.Schema{Kind: source})
	}
	publisher := events.NewPublisher(redisClient, registry, serviceName, 1, logger)
	repo := events.NewPostgresRepository(db)
	ingress := events.NewIngress(repo, loadPolicies(), logger)
	handler := &publishingHandler{publisher: publisher}

	trustStore := serviceauth.NewTrustStore(serviceauth.LoadPeersFromEnv([]string{"dispatcher", "notification"}))
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
	// it, then body-limit, then rate-limiting, then logging (so logs
	// reflect only requests that passed the limiter), then per-route auth.
	router.Use(metrics.MetricsMiddleware(serviceName, m))
	router.Use(middleware.NewRecoveryMiddleware(logger).Handler)
	router.Use(middleware.NewBodyLimitMiddleware(1 << 20).Handler)
	router.Use(middleware.NewRateLimiter(limiter, logger,
		ratelimit.Limit{Name: "integration-per-source", Max: 300, Window: time.Minute},
	).Handler)
	router.Use(middleware.LoggingMiddleware(logger))

	router.Get("/health", health.Handler())
	router.Get("/health/detailed", detailed.Handler())
	router.Get("/health/live", middleware.LivenessHandler())
	router.Handle("/metrics", promhttp.Handler())

	router.Post("/v1/webhooks/{source}/{kind}", func(w http.ResponseWriter, r *http.Request) {
		source := chi.URLParam(r, "source")
		kind := chi.URLParam(r, "kind")

		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			httputil.BadRequest(w, "failed to read request body")
			return
		}

		isTLS := r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https"
		signature := r.Header.Get("X-Webhook-Signature")

		intake, err := ingress.Ingest(r.Context(), source, kind, nil, body, signature, isTLS, handler)
		if err != nil {
			logger.WithError(err).Warn("webhook ingest failed")
			httputil.InternalError(w, "webhook processing failed")
			return
		}
		httputil.WriteJSON(w, http.StatusAccepted, intake)
	})

	router.Route("/internal", func(r chi.Router) {
		r.Use(trustAuth.Handler)
		r.Get("/v1/webhooks/{source}/{idempotencyKey}", func(w http.ResponseWriter, r *http.Request) {
			intake, err := repo.FindByIdempotencyKey(r.Context(), chi.URLParam(r, "source"), chi.URLParam(r, "idempotencyKey"))
			if err != nil {
				httputil.NotFound(w, "intake not found")
				return
			}
			httputil.WriteJSON(w, http.StatusOK, intake)
		})
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(config.GetPort(serviceName, 8084)),
		Handler:      router,
		ReadTimeout:  config.GetDefaultTimeouts().HTTP,
		WriteTimeout: config.GetDefaultTimeouts().HTTP,
	}

	shutdown := middleware.NewGracefulShutdown(server, 30*time.Second)
	shutdown.ListenForSignals()

	logger.WithFields(map[string]interface{}{"addr": server.Addr}).Info("integration service listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.WithError(err).Fatal("listen and serve")
	}
	shutdown.Wait()
}

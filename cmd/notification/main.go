// Command notification runs the notification delivery pipeline: template
// rendering and per-channel dispatch with idempotency and retry
// bookkeeping.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/R3E-Network/service_layer/infrastructure/cache"
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
	"github.com/R3E-Network/service_layer/internal/notify"
)

const serviceName = "notification"

// cachedTemplateStore wraps a notify.TemplateStore with a short-lived
// in-memory cache. Templates change rarely but Deliver looks one up on
// every single notification, so caching avoids a DB round trip per send.
type cachedTemplateStore struct {
	underlying notify.TemplateStore
	cache      *cache.Cache
}

func newCachedTemplateStore(underlying notify.TemplateStore) *cachedTemplateStore {
	return &cachedTemplateStore{
		underlying: underlying,
		cache:      cache.NewCache(cache.CacheConfig{DefaultTTL: 5 * time.Minute, MaxSize: 500, CleanupInterval: 10 * time.Minute}),
	}
}

func (s *cachedTemplateStore) Lookup(kind string, channel notify.Channel, language string) (*notify.NotificationTemplate, error) {
	key := kind + "|" + string(channel) + "|" + language
	if v, ok := s.cache.Get(key); ok {
		tmpl, _ := v.(*notify.NotificationTemplate)
		return tmpl, nil
	}
	tmpl, err := s.underlying.Lookup(kind, channel, language)
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, tmpl, 0)
	return tmpl, nil
}

var _ notify.TemplateStore = (*cachedTemplateStore)(nil)

// webhookAdapter delivers a rendered message by POSTing it as JSON to a
// per-channel provider webhook URL. It is the one concrete transport every
// channel can share; which provider sits behind the URL (a messenger
// relay, an email gateway, an SMS aggregator) is configuration, not code.
type webhookAdapter struct {
	channel notify.Channel
	url     string
	client  *http.Client
}

func newWebhookAdapter(channel notify.Channel, url string) *webhookAdapter {
	return &webhookAdapter{
		channel: channel,
		url:     url,
		client:  &http.Client{Timeout: config.GetDefaultTimeouts().Service},
	}
}

func (a *webhookAdapter) Channel() notify.Channel { return a.channel }

func (a *webhookAdapter) Send(ctx context.Context, n notify.Notification, msg notify.RenderedMessage) error {
	body, err := json.Marshal(map[string]interface{}{
		"recipient": n.Recipient,
		"title":     msg.Title,
		"body":      msg.Body,
		"markup":    msg.Markup,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%s provider returned %d", a.channel, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return &notify.PermanentError{Err: fmt.Errorf("%s provider rejected delivery: %d", a.channel, resp.StatusCode)}
	}
	return nil
}

// Broadcast is a no-op: this adapter has no auxiliary mirror configured, so
// a messenger delivery is never mirrored and nothing is sent or logged.
func (a *webhookAdapter) Broadcast(ctx context.Context, msg notify.RenderedMessage) {}

var _ notify.MessengerAdapter = (*webhookAdapter)(nil)

// buildAdapters wires one adapter per channel: a webhookAdapter when an
// operator has configured NOTIFY_<CHANNEL>_WEBHOOK_URL, otherwise a
// disabled no-op adapter that reports every delivery as skipped.
func buildAdapters() map[notify.Channel]notify.Adapter {
	channels := []notify.Channel{notify.ChannelMessenger, notify.ChannelEmail, notify.ChannelSMS}
	adapters := make(map[notify.Channel]notify.Adapter, len(channels))
	for _, ch := range channels {
		url := config.GetEnv("NOTIFY_"+strings.ToUpper(string(ch))+"_WEBHOOK_URL", "")
		if url == "" {
			adapters[ch] = notify.NewDisabledAdapter(ch)
			continue
		}
		adapters[ch] = newWebhookAdapter(ch, url)
	}
	return adapters
}

type deliverRequest struct {
	Kind          string            `json:"kind"`
	Channel       string            `json:"channel"`
	Recipient     string            `json:"recipient"`
	Language      string            `json:"language"`
	Payload       map[string]string `json:"payload"`
	ServiceOrigin string            `json:"service_origin"`
	CorrelationID string            `json:"correlation_id"`
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

	breakers := resilience.NewRegistry()
	repo := notify.NewPostgresRepository(db)
	templates := newCachedTemplateStore(notify.NewPostgresTemplateStore(db))
	svc := notify.NewService(repo, templates, buildAdapters(), breakers, logger).
		WithBreakerConfig(resilience.DefaultConfig())

	trustStore := serviceauth.NewTrustStore(serviceauth.LoadPeersFromEnv([]string{
		"request", "dispatcher", "integration", "bot-gateway",
	}))
	trustAuth := middleware.NewTrustAuthMiddleware(trustStore, logger)

	m := metrics.New(serviceName)
	limiter := ratelimit.New(redisClient)

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
		ratelimit.Limit{Name: "notification-per-caller", Max: 300, Window: time.Minute},
	).Handler)
	router.Use(middleware.LoggingMiddleware(logger))

	router.Get("/health", health.Handler())
	router.Get("/health/detailed", detailed.Handler())
	router.Get("/health/live", middleware.LivenessHandler())
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/internal", func(r chi.Router) {
		r.Use(trustAuth.Handler)
		r.Post("/v1/notifications", httputil.HandleJSONWithServiceAuth(logger, func(ctx context.Context, serviceID string, req *deliverRequest) (*notify.NotificationLog, error) {
			return svc.Deliver(ctx, notify.Notification{
				Kind:          req.Kind,
				Channel:       notify.Channel(req.Channel),
				Recipient:     req.Recipient,
				Language:      req.Language,
				Payload:       req.Payload,
				ServiceOrigin: req.ServiceOrigin,
				CorrelationID: req.CorrelationID,
			})
		}))
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(config.GetPort(serviceName, 8086)),
		Handler:      router,
		ReadTimeout:  config.GetDefaultTimeouts().HTTP,
		WriteTimeout: config.GetDefaultTimeouts().HTTP,
	}

	shutdown := middleware.NewGracefulShutdown(server, 30*time.Second)
	shutdown.ListenForSignals()

	logger.WithFields(map[string]interface{}{"addr": server.Addr}).Info("notification service listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.WithError(err).Fatal("listen and serve")
	}
	shutdown.Wait()
}

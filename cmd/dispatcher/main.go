// Command dispatcher runs the assignment scoring service: evaluating and
// committing the weighted-scoring recommendation that assigns a work order
// to an executor.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/R3E-Network/service_layer/infrastructure/config"
	"github.com/R3E-Network/service_layer/infrastructure/database"
	"github.com/R3E-Network/service_layer/infrastructure/errors"
	"github.com/R3E-Network/service_layer/infrastructure/httputil"
	"github.com/R3E-Network/service_layer/infrastructure/kv"
	"github.com/R3E-Network/service_layer/infrastructure/logging"
	"github.com/R3E-Network/service_layer/infrastructure/metrics"
	"github.com/R3E-Network/service_layer/infrastructure/middleware"
	"github.com/R3E-Network/service_layer/infrastructure/ratelimit"
	"github.com/R3E-Network/service_layer/infrastructure/resilience"
	"github.com/R3E-Network/service_layer/infrastructure/serviceauth"
	"github.com/R3E-Network/service_layer/internal/assignment"
)

const serviceName = "dispatcher"

// httpUserServiceClient implements assignment.UserService against the auth
// service's executor-profile endpoints, behind a circuit breaker so a
// flapping auth service degrades dispatching instead of hanging it.
type httpUserServiceClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	breaker *resilience.CircuitBreaker
}

func newHTTPUserServiceClient(baseURL, apiKey string, breakers *resilience.Registry, logger *logging.Logger) *httpUserServiceClient {
	return &httpUserServiceClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: config.GetDefaultTimeouts().Service},
		breaker: breakers.GetOrCreate("user-service", resilience.DefaultServiceCBConfig(logger)),
	}
}

func (c *httpUserServiceClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set(serviceauth.HeaderServiceName, serviceName)
	req.Header.Set(serviceauth.HeaderServiceAPIKey, c.apiKey)

	var resp *http.Response
	execErr := c.breaker.Execute(ctx, func() error {
		var doErr error
		resp, doErr = c.client.Do(req)
		if doErr != nil {
			return doErr
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("user-service returned %d", resp.StatusCode)
		}
		return nil
	})
	if execErr != nil {
		return errors.Unavailable("user-service", execErr)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("executor profile not found")
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("user-service returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *httpUserServiceClient) GetExecutorProfile(ctx context.Context, executorID string) (*assignment.ExecutorProfile, error) {
	var profile assignment.ExecutorProfile
	if err := c.get(ctx, "/internal/v1/executors/"+executorID, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

func (c *httpUserServiceClient) ListCandidates(ctx context.Context, category string) ([]assignment.ExecutorProfile, error) {
	var profiles []assignment.ExecutorProfile
	if err := c.get(ctx, "/internal/v1/executors?category="+category, &profiles); err != nil {
		return nil, err
	}
	return profiles, nil
}

type recommendRequest struct {
	WorkOrderID string `json:"work_order_id"`
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
	userService := newHTTPUserServiceClient(
		config.GetEnv("AUTH_SERVICE_URL", "http://auth:8081"),
		config.RequireEnvOrSecretFile("DISPATCHER_PEER_API_KEY"),
		breakers, logger,
	)

	repo := assignment.NewPostgresRepository(db)
	engine := assignment.NewEngine(repo, userService, logger)

	trustStore := serviceauth.NewTrustStore(serviceauth.LoadPeersFromEnv([]string{"request", "bot-gateway"}))
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
		ratelimit.Limit{Name: "dispatcher-per-caller", Max: 120, Window: time.Minute},
	).Handler)
	router.Use(middleware.LoggingMiddleware(logger))

	router.Get("/health", health.Handler())
	router.Get("/health/detailed", detailed.Handler())
	router.Get("/health/live", middleware.LivenessHandler())
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/internal", func(r chi.Router) {
		r.Use(trustAuth.Handler)

		r.Post("/v1/assignments/recommend", httputil.HandleJSONWithServiceAuth(logger, func(ctx context.Context, serviceID string, req *recommendRequest) ([]assignment.ScoredCandidate, error) {
			wo, err := getWorkOrder(ctx, repo, req.WorkOrderID)
			if err != nil {
				return nil, err
			}
			return engine.Recommend(ctx, wo)
		}))

		r.Post("/v1/assignments/commit", httputil.HandleJSONWithServiceAuth(logger, func(ctx context.Context, serviceID string, req *recommendRequest) (*assignment.AssignmentRecord, error) {
			wo, err := getWorkOrder(ctx, repo, req.WorkOrderID)
			if err != nil {
				return nil, err
			}
			return engine.Assign(ctx, wo)
		}))
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(config.GetPort(serviceName, 8085)),
		Handler:      router,
		ReadTimeout:  config.GetDefaultTimeouts().HTTP,
		WriteTimeout: config.GetDefaultTimeouts().HTTP,
	}

	shutdown := middleware.NewGracefulShutdown(server, 30*time.Second)
	shutdown.ListenForSignals()

	logger.WithFields(map[string]interface{}{"addr": server.Addr}).Info("dispatcher service listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.WithError(err).Fatal("listen and serve")
	}
	shutdown.Wait()
}

func getWorkOrder(ctx context.Context, repo *assignment.PostgresRepository, id string) (*assignment.WorkOrder, error) {
	wo, err := repo.GetWorkOrder(ctx, id)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, fmt.Errorf("work order %s not found", id)
		}
		return nil, err
	}
	return wo, nil
}

// Command request runs the work-order intake service: request creation
// (with the daily human-facing request number) and the read/update surface
// over a work order's lifecycle.
package main

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
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
	"github.com/R3E-Network/service_layer/internal/assignment"
	"github.com/R3E-Network/service_layer/internal/requestnum"
)

const serviceName = "request"

type createWorkOrderRequest struct {
	ApplicantID string   `json:"applicant_id"`
	Category    string   `json:"category"`
	Urgency     int      `json:"urgency"`
	Description string   `json:"description"`
	Address     string   `json:"address"`
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
}

// workOrderStore extends assignment.PostgresRepository with the INSERT the
// scoring/assignment repository interface has no business exposing.
type workOrderStore struct {
	db  *sql.DB
	num *requestnum.Allocator
}

func (s *workOrderStore) Create(ctx context.Context, req createWorkOrderRequest) (*assignment.WorkOrder, error) {
	number, err := s.num.Generate(ctx)
	if err != nil {
		return nil, err
	}

	wo := &assignment.WorkOrder{
		ID:            uuid.NewString(),
		RequestNumber: number,
		ApplicantID:   req.ApplicantID,
		Category:      req.Category,
		Urgency:       req.Urgency,
		Description:   req.Description,
		Address:       req.Address,
		Latitude:      req.Latitude,
		Longitude:     req.Longitude,
		Status:        assignment.StatusNew,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO work_orders (id, request_number, applicant_id, category, urgency, description, address, latitude, longitude, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, wo.ID, wo.RequestNumber, wo.ApplicantID, wo.Category, wo.Urgency, wo.Description, wo.Address, wo.Latitude, wo.Longitude, wo.Status)
	if err != nil {
		return nil, err
	}
	return wo, nil
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

	loc, err := time.LoadLocation(config.GetEnv("REQUEST_NUMBER_TIMEZONE", "UTC"))
	if err != nil {
		loc = time.UTC
	}
	allocator := requestnum.New(redisClient, db, loc, logger)
	store := &workOrderStore{db: db, num: allocator}
	assignmentRepo := assignment.NewPostgresRepository(db)

	trustStore := serviceauth.NewTrustStore(serviceauth.LoadPeersFromEnv([]string{
		"dispatcher", "bot-gateway", "integration", "notification", "auth",
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
		ratelimit.Limit{Name: "request-per-caller", Max: 120, Window: time.Minute},
	).Handler)
	router.Use(middleware.LoggingMiddleware(logger))

	router.Get("/health", health.Handler())
	router.Get("/health/detailed", detailed.Handler())
	router.Get("/health/live", middleware.LivenessHandler())
	router.Handle("/metrics", promhttp.Handler())

	router.Post("/v1/work-orders", httputil.HandleJSONWithUserAuth(logger, func(ctx context.Context, userID string, req *createWorkOrderRequest) (*assignment.WorkOrder, error) {
		req.ApplicantID = userID
		return store.Create(ctx, *req)
	}))

	router.Get("/v1/work-orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		wo, err := assignmentRepo.GetWorkOrder(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			httputil.NotFound(w, "work order not found")
			return
		}
		httputil.WriteJSON(w, http.StatusOK, wo)
	})

	router.Route("/internal", func(r chi.Router) {
		r.Use(trustAuth.Handler)
		r.Use(trustAuth.RequirePermission("request.write"))
		r.Put("/v1/work-orders/{id}/status", func(w http.ResponseWriter, r *http.Request) {
			var body struct {
				Status string `json:"status"`
			}
			if !httputil.DecodeJSON(w, r, &body) {
				return
			}
			wo, err := assignmentRepo.GetWorkOrder(r.Context(), chi.URLParam(r, "id"))
			if err != nil {
				httputil.NotFound(w, "work order not found")
				return
			}
			wo.Status = assignment.Status(body.Status)
			if err := assignmentRepo.UpdateWorkOrderStatus(r.Context(), wo); err != nil {
				httputil.InternalError(w, err.Error())
				return
			}
			httputil.WriteJSON(w, http.StatusOK, wo)
		})
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(config.GetPort(serviceName, 8082)),
		Handler:      router,
		ReadTimeout:  config.GetDefaultTimeouts().HTTP,
		WriteTimeout: config.GetDefaultTimeouts().HTTP,
	}

	shutdown := middleware.NewGracefulShutdown(server, 30*time.Second)
	shutdown.ListenForSignals()

	logger.WithFields(map[string]interface{}{"addr": server.Addr}).Info("request service listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.WithError(err).Fatal("listen and serve")
	}
	shutdown.Wait()
}

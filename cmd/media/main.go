// Command media runs the streaming upload service: bounded-memory chunked
// ingestion, content-type sniffing, size-tiered rate limiting, and
// handoff to durable storage.
package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"path/filepath"
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
	"github.com/R3E-Network/service_layer/internal/upload"
)

const serviceName = "media"

// uploadRecordStore persists the completed-upload row. internal/upload has
// no Repository of its own — Process is a plain callback, so the storage
// write lives at the wiring layer that owns both the uploader and the
// database connection.
type uploadRecordStore struct {
	db         *sql.DB
	storageDir string
}

func (s *uploadRecordStore) save(ctx context.Context, ownerID, declaredName, tempPath string, meta upload.Metadata) (string, error) {
	id := uuid.NewString()
	storageKey := filepath.Join(s.storageDir, id)

	if err := os.MkdirAll(s.storageDir, 0o750); err != nil {
		return "", err
	}
	if err := copyFile(tempPath, storageKey); err != nil {
		return "", err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO upload_records (id, owner_id, declared_name, detected_mime, size_bytes, storage_key, tier)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id, ownerID, declaredName, meta.DetectedContentType, meta.Size, storageKey, string(meta.Tier))
	if err != nil {
		os.Remove(storageKey)
		return "", err
	}
	return id, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = out.ReadFrom(in)
	return err
}

type uploadResponse struct {
	ID                  string `json:"id"`
	Size                int64  `json:"size"`
	DetectedContentType string `json:"detected_content_type"`
	Tier                string `json:"tier"`
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

	uploader := upload.NewUploader(upload.Config{
		MaxSize:      32 * 1024 * 1024,
		AllowedTypes: []string{"image/jpeg", "image/png", "application/pdf"},
		Thresholds:   upload.DefaultTierThresholds,
	}, logger)

	store := &uploadRecordStore{db: db, storageDir: config.GetEnv("UPLOAD_STORAGE_DIR", "/var/lib/service-layer/uploads")}
	limiter := ratelimit.New(redisClient)

	m := metrics.New(serviceName)
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
	// it, then rate-limiting, then logging (so logs reflect only requests
	// that passed the limiter), then per-route auth.
	router.Use(metrics.MetricsMiddleware(serviceName, m))
	router.Use(middleware.NewRecoveryMiddleware(logger).Handler)
	router.Use(middleware.NewRateLimiter(limiter, logger,
		ratelimit.Limit{Name: "media-per-caller", Max: 60, Window: time.Minute},
	).Handler)
	router.Use(middleware.LoggingMiddleware(logger))

	router.Get("/health", health.Handler())
	router.Get("/health/detailed", detailed.Handler())
	router.Get("/health/live", middleware.LivenessHandler())
	router.Handle("/metrics", promhttp.Handler())

	router.Post("/v1/uploads", func(w http.ResponseWriter, r *http.Request) {
		userID, ok := httputil.RequireUserID(w, r)
		if !ok {
			return
		}

		result, err := upload.CheckTierLimit(r.Context(), limiter, userID, r.ContentLength, upload.DefaultTierThresholds)
		if err != nil {
			httputil.InternalError(w, "rate limit check failed")
			return
		}
		if !result.Allowed {
			httputil.WriteErrorWithCode(w, http.StatusTooManyRequests, "RATE_LIMITED", "upload rate limit exceeded for this size tier")
			return
		}

		declaredName := r.Header.Get("X-Declared-Filename")
		contentType := r.Header.Get("Content-Type")

		var uploadID string
		meta, err := uploader.Stream(r.Context(), r.Body, contentType, func(ctx context.Context, path string, meta upload.Metadata) error {
			id, saveErr := store.save(ctx, userID, declaredName, path, meta)
			uploadID = id
			return saveErr
		})
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}

		httputil.WriteJSON(w, http.StatusCreated, uploadResponse{
			ID:                  uploadID,
			Size:                meta.Size,
			DetectedContentType: meta.DetectedContentType,
			Tier:                string(meta.Tier),
		})
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(config.GetPort(serviceName, 8087)),
		Handler:      router,
		ReadTimeout:  config.GetDefaultTimeouts().HTTP,
		WriteTimeout: 2 * time.Minute,
	}

	shutdown := middleware.NewGracefulShutdown(server, 30*time.Second)
	shutdown.ListenForSignals()

	logger.WithFields(map[string]interface{}{"addr": server.Addr}).Info("media service listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.WithError(err).Fatal("listen and serve")
	}
	shutdown.Wait()
}

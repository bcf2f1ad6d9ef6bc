// Command bot-gateway runs the conversational session service: per-user
// FSM state, access-token renewal against the auth service, and the
// inbound message pipeline driving the messenger bot.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
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
	"github.com/R3E-Network/service_layer/internal/botsession"
)

const serviceName = "bot-gateway"

// httpAuthClient implements botsession.AuthClient against the auth
// service's bot-session renewal endpoint, behind a circuit breaker.
type httpAuthClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	breaker *resilience.CircuitBreaker
}

func newHTTPAuthClient(baseURL, apiKey string, breakers *resilience.Registry, logger *logging.Logger) *httpAuthClient {
	return &httpAuthClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: config.GetDefaultTimeouts().Service},
		breaker: breakers.GetOrCreate("auth-service", resilience.DefaultServiceCBConfig(logger)),
	}
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

func (c *httpAuthClient) Renew(ctx context.Context, userID string) (string, time.Time, string, string, error) {
	body, err := json.Marshal(botRenewRequest{PlatformUserID: userID})
	if err != nil {
		return "", time.Time{}, "", "", err
	}

	var result botRenewResponse
	execErr := c.breaker.Execute(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/internal/v1/bot-sessions/renew", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(serviceauth.HeaderServiceName, serviceName)
		req.Header.Set(serviceauth.HeaderServiceAPIKey, c.apiKey)

		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("auth service returned %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&result)
	})
	if execErr != nil {
		return "", time.Time{}, "", "", errors.Unavailable("auth-service", execErr)
	}
	return result.Token, result.ExpiresAt, result.Role, result.TenantID, nil
}

var _ botsession.AuthClient = (*httpAuthClient)(nil)

// buildRouter wires the minimal FSM every conversation starts from: a main
// menu that branches to new-request intake or a status check, and a
// fallback that routes any unrecognized state back to the main menu.
func buildRouter() *botsession.Router {
	router := botsession.NewRouter()

	router.Register(botsession.MainMenuState, botsession.HandlerFunc(func(ctx context.Context, hc *botsession.HandlerContext, in botsession.Inbound) (*botsession.Transition, error) {
		switch in.CallbackData {
		case "new_request":
			return &botsession.Transition{NextState: "work_order:category", Response: "What type of issue are you reporting?"}, nil
		case "check_status":
			return &botsession.Transition{NextState: "work_order:status_lookup", Response: "Send your request number."}, nil
		default:
			return &botsession.Transition{Response: "Welcome back. Choose: new_request or check_status."}, nil
		}
	}))

	router.Register("work_order:category", botsession.HandlerFunc(func(ctx context.Context, hc *botsession.HandlerContext, in botsession.Inbound) (*botsession.Transition, error) {
		if in.Text == "" {
			return &botsession.Transition{Response: "Please describe the category (e.g. plumbing, electrical)."}, nil
		}
		payload := map[string]interface{}{"category": in.Text}
		return &botsession.Transition{NextState: "work_order:description", Payload: payload, Response: "Describe the problem in a few words."}, nil
	}))

	router.Register("work_order:description", botsession.HandlerFunc(func(ctx context.Context, hc *botsession.HandlerContext, in botsession.Inbound) (*botsession.Transition, error) {
		if in.Text == "" {
			return &botsession.Transition{Response: "A short description is required before I can submit this."}, nil
		}
		return &botsession.Transition{ClearState: true, Response: "Thanks, your request has been submitted."}, nil
	}))

	router.Register("work_order:status_lookup", botsession.HandlerFunc(func(ctx context.Context, hc *botsession.HandlerContext, in botsession.Inbound) (*botsession.Transition, error) {
		return &botsession.Transition{ClearState: true, Response: "Looking up " + in.Text + "..."}, nil
	}))

	router.Fallback(botsession.HandlerFunc(func(ctx context.Context, hc *botsession.HandlerContext, in botsession.Inbound) (*botsession.Transition, error) {
		return &botsession.Transition{ClearState: true, Response: "Let's start over. Choose: new_request or check_status."}, nil
	}))

	return router
}

type inboundMessage struct {
	PlatformUserID    string `json:"platform_user_id"`
	Username          string `json:"username"`
	FirstName         string `json:"first_name"`
	LastName          string `json:"last_name"`
	Language          string `json:"language"`
	DeviceFingerprint string `json:"device_fingerprint"`
	Text              string `json:"text"`
	CallbackData      string `json:"callback_data"`
}

type processResponse struct {
	Response string `json:"response"`
	StateID  string `json:"state_id"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The messenger adapter is a trusted internal peer, not a browser, so
	// there is no third-party origin to validate here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// newWebsocketHandler upgrades the messenger adapter's long-lived
// connection and runs every inbound frame through the same Process
// pipeline as the plain HTTP endpoint, one frame at a time per connection.
func newWebsocketHandler(svc *botsession.Service, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.WithError(err).Warn("websocket upgrade failed")
			return
		}
		defer conn.Close()

		for {
			var in inboundMessage
			if err := conn.ReadJSON(&in); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.WithError(err).Warn("websocket read failed")
				}
				return
			}

			sess, transition, err := svc.Process(r.Context(), botsession.Inbound{
				PlatformUserID:    in.PlatformUserID,
				Username:          in.Username,
				FirstName:         in.FirstName,
				LastName:          in.LastName,
				Language:          in.Language,
				DeviceFingerprint: in.DeviceFingerprint,
				Text:              in.Text,
				CallbackData:      in.CallbackData,
			})
			if err != nil {
				logger.WithError(err).Warn("process inbound message failed")
				if writeErr := conn.WriteJSON(processResponse{Response: "something went wrong, please try again"}); writeErr != nil {
					return
				}
				continue
			}

			resp := processResponse{StateID: sess.StateID}
			if transition != nil {
				resp.Response = transition.Response
			}
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
		}
	}
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
	authClient := newHTTPAuthClient(
		config.GetEnv("AUTH_SERVICE_URL", "http://auth:8081"),
		config.RequireEnvOrSecretFile("BOT_GATEWAY_PEER_API_KEY"),
		breakers, logger,
	)

	repo := botsession.NewPostgresRepository(db)
	svc := botsession.NewService(repo, authClient, buildRouter(), logger)

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
		ratelimit.Limit{Name: "bot-gateway-per-user", Max: 30, Window: time.Minute},
	).Handler)
	router.Use(middleware.LoggingMiddleware(logger))

	router.Get("/health", health.Handler())
	router.Get("/health/detailed", detailed.Handler())
	router.Get("/health/live", middleware.LivenessHandler())
	router.Handle("/metrics", promhttp.Handler())

	router.Post("/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		var in inboundMessage
		if !httputil.DecodeJSON(w, r, &in) {
			return
		}

		sess, transition, err := svc.Process(r.Context(), botsession.Inbound{
			PlatformUserID:    in.PlatformUserID,
			Username:          in.Username,
			FirstName:         in.FirstName,
			LastName:          in.LastName,
			Language:          in.Language,
			DeviceFingerprint: in.DeviceFingerprint,
			Text:              in.Text,
			CallbackData:      in.CallbackData,
		})
		if err != nil {
			httputil.InternalError(w, err.Error())
			return
		}

		resp := processResponse{StateID: sess.StateID}
		if transition != nil {
			resp.Response = transition.Response
		}
		httputil.WriteJSON(w, http.StatusOK, resp)
	})

	router.Get("/v1/ws", newWebsocketHandler(svc, logger))

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(config.GetPort(serviceName, 8083)),
		Handler:      router,
		ReadTimeout:  config.GetDefaultTimeouts().HTTP,
		WriteTimeout: config.GetDefaultTimeouts().HTTP,
	}

	shutdown := middleware.NewGracefulShutdown(server, 30*time.Second)
	shutdown.ListenForSignals()

	logger.WithFields(map[string]interface{}{"addr": server.Addr}).Info("bot-gateway service listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.WithError(err).Fatal("listen and serve")
	}
	shutdown.Wait()
}

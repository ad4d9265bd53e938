package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/xielinshan811-lab/svg-animate/internal/auth"
	"github.com/xielinshan811-lab/svg-animate/internal/config"
	"github.com/xielinshan811-lab/svg-animate/internal/credit"
	"github.com/xielinshan811-lab/svg-animate/internal/http/handlers"
	"github.com/xielinshan811-lab/svg-animate/internal/llm"
	"github.com/xielinshan811-lab/svg-animate/internal/middleware"
	"github.com/xielinshan811-lab/svg-animate/internal/ratelimit"
	"github.com/xielinshan811-lab/svg-animate/internal/storage"
)

// Server wraps an http.Server with configured routes.
type Server struct {
	inner *http.Server
}

// New wires up middleware, routes, and returns a ready server.
func New(cfg config.Config, log *logrus.Logger, store storage.Store) *Server {
	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.TokenTTL)
	credits := credit.NewService(store, log)
	client := llm.NewClient(cfg.DeepSeekAPIKey, cfg.DeepSeekModel, cfg.DeepSeekBaseURL, log)
	limiter := newLimiter(cfg, log)

	authHandler := handlers.NewAuthHandler(store, credits, tokens, log)
	userHandler := handlers.NewUserHandler(store, credits, log)
	rechargeHandler := handlers.NewRechargeHandler(credits, log)
	generateHandler := handlers.NewGenerateHandler(store, credits, tokens, client, limiter, log)
	healthHandler := handlers.NewHealthHandler(time.Now())

	r := mux.NewRouter()
	r.Use(middleware.Metrics)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", healthHandler.Handle).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/auth/register", authHandler.Register).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", authHandler.Login).Methods(http.MethodPost)
	api.HandleFunc("/recharge", rechargeHandler.ListPackages).Methods(http.MethodGet)
	api.HandleFunc("/generate", generateHandler.Generate).Methods(http.MethodPost)

	protected := r.PathPrefix("/api").Subrouter()
	protected.Use(middleware.Auth(tokens))
	protected.HandleFunc("/user", userHandler.Me).Methods(http.MethodGet)
	protected.HandleFunc("/transactions", userHandler.Transactions).Methods(http.MethodGet)
	protected.HandleFunc("/recharge", rechargeHandler.Redeem).Methods(http.MethodPost)

	handler := middleware.CORS(cfg.CORSOrigins, middleware.Logging(log, r))

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddress(),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// No WriteTimeout: the generate endpoint streams for as long as the
		// model keeps producing output.
		IdleTimeout: 120 * time.Second,
	}

	return &Server{inner: httpServer}
}

func newLimiter(cfg config.Config, log *logrus.Logger) ratelimit.Limiter {
	if cfg.RedisAddr != "" {
		log.WithField("addr", cfg.RedisAddr).Info("using redis-backed rate limiter")
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return ratelimit.NewRedisLimiter(client, cfg.AnonRateLimit, cfg.AnonRateWindow)
	}
	return ratelimit.NewMemoryLimiter(cfg.AnonRateLimit, cfg.AnonRateWindow)
}

// Start begins serving HTTP traffic.
func (s *Server) Start() error {
	return s.inner.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.inner.Shutdown(ctx)
}

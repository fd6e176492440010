package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bujinwang/agentOps-sub012/internal/config"
	infrahttp "github.com/bujinwang/agentOps-sub012/internal/infra/http"
	"github.com/bujinwang/agentOps-sub012/internal/infra/http/handler"
	"github.com/bujinwang/agentOps-sub012/internal/infra/http/middleware"
	"github.com/bujinwang/agentOps-sub012/internal/infra/http/routes"
	"github.com/bujinwang/agentOps-sub012/internal/infra/redis"
	"github.com/bujinwang/agentOps-sub012/pkg/jwt"
	"github.com/bujinwang/agentOps-sub012/pkg/logger"
	"github.com/bujinwang/agentOps-sub012/pkg/securityevent"
	"github.com/bujinwang/agentOps-sub012/pkg/validator"
)

// Command line flags.
var (
	showRoutes  = flag.Bool("routes", false, "Print all registered routes and exit")
	routeFormat = flag.String("route-format", "table", "Route output format: table, json, csv, simple")
	routeMethod = flag.String("route-method", "", "Filter routes by HTTP method")
	routePath   = flag.String("route-path", "", "Filter routes containing this path")
	routeSort   = flag.String("route-sort", "path", "Sort routes by: path, method, handler")
)

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		log := logger.NewDefault()
		log.Error("failed to load configuration", "error", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		log := logger.NewDefault()
		log.Error("invalid configuration", "error", err)
		return 1
	}

	log := initLogger(cfg)
	log.Info("starting application", "app", cfg.App.Name, "env", cfg.App.Env)

	// Redis is optional; without it the rate limiter keeps its windows
	// in process memory only.
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redis.New(&cfg.Redis, log)
		if err != nil {
			log.Error("failed to connect to redis", "error", err)
			return 1
		}
		defer closeWithLog(redisClient, "redis", log)
		log.Info("redis connected")

		stopStats := redis.StartPoolStatsCollector(context.Background(), redisClient, 15*time.Second)
		defer stopStats()
	}

	events := newEventRecorder(log)
	tokens := jwt.NewGenerator(jwt.TokenConfig{
		Secret:               cfg.Auth.JWTSecret,
		Issuer:               cfg.Auth.JWTIssuer,
		AccessTokenDuration:  cfg.Auth.AccessTokenDuration,
		RefreshTokenDuration: cfg.Auth.RefreshTokenDuration,
	})

	pipeline, err := buildPipeline(cfg, redisClient, events, tokens, log)
	if err != nil {
		log.Error("failed to build security pipeline", "error", err)
		return 1
	}

	v := validator.New()
	cookies := handler.NewCookieConfig(cfg.Auth, cfg.Security.CSRF)

	healthHandler := newHealthHandler(redisClient)
	authHandler := handler.NewAuthHandler(tokens, pipeline.Csrf, cookies, v, log)
	seedAdmin(authHandler, log)

	handlers := routes.Handlers{
		Health: healthHandler,
		Auth:   authHandler,
		Lead:   handler.NewLeadHandler(v, log),
	}
	if events.memory != nil {
		handlers.Security = handler.NewSecurityHandler(events.memory, pipeline.Monitor, pipeline.BruteForce, log)
	}

	server := infrahttp.NewServer(cfg, log, pipeline)
	routes.Register(server.Router(), handlers, pipeline, tokens, log)

	// Handle --routes flag
	if *showRoutes {
		stats := infrahttp.CollectRoutes(server.Router())
		filters := infrahttp.RouteFilters{
			Method: *routeMethod,
			Path:   *routePath,
			SortBy: *routeSort,
		}
		infrahttp.PrintRoutes(os.Stdout, stats, *routeFormat, filters)
		return 0
	}

	go func() {
		if err := server.Start(); err != nil {
			log.Error("server error", "error", err)
		}
	}()
	log.Info("application started", "http_addr", cfg.Server.Addr())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
		return 1
	}

	log.Info("application stopped")
	return 0
}

// eventRecorder fans security events out to the structured log and, for
// the admin API, an in-memory ring.
type eventRecorder struct {
	log    *securityevent.LogRecorder
	memory *securityevent.MemoryRecorder
}

func (r *eventRecorder) Record(event securityevent.Event) {
	r.log.Record(event)
	if r.memory != nil {
		r.memory.Record(event)
	}
}

func newEventRecorder(log *logger.Logger) *eventRecorder {
	return &eventRecorder{
		log:    securityevent.NewLogRecorder(log),
		memory: securityevent.NewMemoryRecorder(10000),
	}
}

// buildPipeline assembles the enabled security stages. Disabled stages
// stay nil and the orchestrator skips them.
func buildPipeline(cfg *config.Config, redisClient *redis.Client, events securityevent.Recorder, tokens *jwt.Generator, log *logger.Logger) (*middleware.Pipeline, error) {
	pipeline := &middleware.Pipeline{
		HSTSEnabled: cfg.IsProduction(),
	}

	sec := cfg.Security
	if sec.RateLimit.Enabled {
		var opts []middleware.RateLimiterOption
		if sec.RateLimit.Distributed && redisClient != nil {
			opts = append(opts, middleware.WithDistributedStore(redis.NewRateLimiter(redisClient, "ratelimit")))
		}
		pipeline.RateLimiter = middleware.NewRateLimiter(sec.RateLimit, events, log, opts...)
	}
	if sec.BruteForce.Enabled {
		pipeline.BruteForce = middleware.NewBruteForceGuard(sec.BruteForce, events, log)
	}
	if sec.CSRF.Enabled {
		pipeline.Csrf = middleware.NewCsrfGuard(sec.CSRF, events, log,
			middleware.WithBearerValidator(middleware.HasValidBearer(tokens)))
	}
	if sec.Monitor.Enabled {
		pipeline.Monitor = middleware.NewSecurityMonitor(sec.Monitor, events, log)
	}
	if sec.Sanitizer.Enabled {
		sanitizer, err := middleware.NewInputSanitizer(sec.Sanitizer, pipeline.Monitor, events, log)
		if err != nil {
			return nil, err
		}
		pipeline.Sanitizer = sanitizer
	}

	return pipeline, nil
}

func newHealthHandler(redisClient *redis.Client) *handler.HealthHandler {
	if redisClient != nil {
		return handler.NewHealthHandler(handler.WithRedis(redisClient))
	}
	return handler.NewHealthHandler()
}

// seedAdmin creates a bootstrap admin account when ADMIN_EMAIL and
// ADMIN_PASSWORD are set. Accounts live in memory, so the seed runs on
// every boot.
func seedAdmin(h *handler.AuthHandler, log *logger.Logger) {
	email := os.Getenv("ADMIN_EMAIL")
	pass := os.Getenv("ADMIN_PASSWORD")
	if email == "" || pass == "" {
		return
	}
	if _, err := h.Seed(email, "Administrator", pass, "admin"); err != nil {
		log.Error("failed to seed admin account", "error", err)
		return
	}
	log.Info("admin account seeded", "email", email)
}

func initLogger(cfg *config.Config) *logger.Logger {
	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	log.SetDefault()
	return log
}

type closer interface {
	Close() error
}

func closeWithLog(c closer, name string, log *logger.Logger) {
	if err := c.Close(); err != nil {
		log.Error("failed to close "+name, "error", err)
	}
}

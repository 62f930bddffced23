package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"achievekit/achieve"
	mem "achievekit/adapters/memory"
	mongoAdapter "achievekit/adapters/mongo"
	redisAdapter "achievekit/adapters/redis"
	sqlxAdapter "achievekit/adapters/sqlx"
	"achievekit/api/httpapi"
	"achievekit/config"
	"achievekit/engine"
	"achievekit/integrations/webhook"
	"achievekit/logic"
	"achievekit/logic/cel"
	"achievekit/realtime"
)

// App aggregates the assembled server components.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Hub     *realtime.Hub
	Service *achieve.Service
	Handler http.Handler
	Server  *http.Server
}

func provideConfig() (*config.Config, error) {
	if path := os.Getenv("ACHIEVEKIT_CONFIG_FILE"); path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func provideLogger(cfg *config.Config) *slog.Logger {
	return setupLogging(cfg)
}

func provideHub() *realtime.Hub {
	return realtime.NewHub()
}

func provideStore(cfg *config.Config) (engine.Store, error) {
	return setupStorage(cfg)
}

func provideService(cfg *config.Config, hub *realtime.Hub, store engine.Store) *achieve.Service {
	opts := []achieve.Option{
		achieve.WithStore(store),
		achieve.WithRealtime(hub),
		achieve.WithLeaderboards(),
		achieve.WithNewUnlocksOnly(cfg.Engine.NewUnlocksOnly),
	}
	if cfg.Engine.Evaluator == "cel" {
		opts = append(opts, achieve.WithEvaluator(cel.New()))
	} else {
		opts = append(opts, achieve.WithEvaluator(logic.NewDefault()))
	}
	if cfg.Engine.Dispatch == "async" {
		opts = append(opts, achieve.WithDispatchMode(engine.DispatchAsync))
	}
	if cfg.Scoring.PointsMetric != "" {
		opts = append(opts, achieve.WithPointsMetric(cfg.Scoring.PointsMetric))
	}
	if len(cfg.Webhooks.Endpoints) > 0 {
		opts = append(opts, achieve.WithWebhooks(webhook.New(cfg.Webhooks.Endpoints)))
	}
	return achieve.New(opts...)
}

func provideHandler(svc *achieve.Service, hub *realtime.Hub, cfg *config.Config) http.Handler {
	return httpapi.NewMux(svc, hub, httpapi.Options{
		PathPrefix:       cfg.Server.PathPrefix,
		AllowCORSOrigin:  cfg.Server.CORSOrigin,
		APIKeys:          cfg.Security.APIKeys,
		RateLimitEnabled: cfg.Security.EnableRateLimit,
		RateLimitRPM:     cfg.Security.RateLimit.RequestsPerMinute,
		RateLimitBurst:   cfg.Security.RateLimit.BurstSize,
	})
}

func provideServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
}

// setupLogging configures the logger based on configuration.
func setupLogging(cfg *config.Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}

	switch cfg.Logging.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	if len(cfg.Logging.Attributes) > 0 {
		handler = handler.WithAttrs(convertAttributes(cfg.Logging.Attributes))
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// convertAttributes converts map[string]string to []slog.Attr.
func convertAttributes(attrs map[string]string) []slog.Attr {
	var result []slog.Attr
	for k, v := range attrs {
		result = append(result, slog.String(k, v))
	}
	return result
}

// setupStorage creates the appropriate storage adapter based on configuration.
func setupStorage(cfg *config.Config) (engine.Store, error) {
	switch cfg.Storage.Adapter {
	case "memory":
		return mem.New(), nil
	case "mongo":
		return mongoAdapter.New(cfg.Storage.Mongo)
	case "redis":
		return redisAdapter.New(cfg.Storage.Redis)
	case "sql":
		return sqlxAdapter.New(cfg.Storage.SQL)
	default:
		return nil, fmt.Errorf("unknown storage adapter: %s", cfg.Storage.Adapter)
	}
}

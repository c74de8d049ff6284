package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"golang.org/x/time/rate"

	"api-gateway/internal/client"
	"api-gateway/internal/config"
	"api-gateway/internal/handler"
	"api-gateway/internal/metrics"
	"api-gateway/internal/middleware"
	"api-gateway/internal/ratelimit"
	"api-gateway/internal/route"
	"api-gateway/internal/service"
	"api-gateway/internal/upstream"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("api-gateway"),
		kong.Description("HTTP gateway in front of the auth and product services."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newLimiter,
			newStatsRecorder,
			newEcho,
			upstream.NewRegistry,
			route.NewDefaultTable,
			client.NewUpstreamClient,
			service.NewForwarder,
			handler.NewGatewayHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(handler.RegisterRoutes, warnConfigPermissions, startLimiterJanitor, startServer),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h).With("service", handler.ServiceName)
}

func newLimiter(cfg *config.Config, logger *slog.Logger) *ratelimit.FixedWindow {
	sweepLog := logger.With("component", "rate_limiter")
	return ratelimit.NewFixedWindow(
		cfg.RateLimit.MaxRequests,
		cfg.RateLimit.Window(),
		ratelimit.WithMaxKeys(cfg.RateLimit.MaxKeys),
		ratelimit.WithSweepHook(func(removed int) {
			if removed > 0 {
				sweepLog.Debug("swept expired windows", "removed", removed)
			}
		}),
	)
}

// newStatsRecorder returns nil when no Redis address is configured. Writes go
// through a bounded queue drained by one goroutine.
func newStatsRecorder(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) ratelimit.StatsRecorder {
	sc := cfg.RateLimit.Stats
	if cfg.RateLimit.Disabled || sc.RedisAddr == "" {
		return nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     sc.RedisAddr,
		Password: sc.RedisPassword,
		DB:       sc.RedisDB,
	})
	store := ratelimit.NewRedisStats(rdb,
		ratelimit.WithStatsPrefix(sc.Prefix),
		ratelimit.WithStatsTTL(time.Duration(sc.TTLSeconds)*time.Second),
	)

	writeLog := &rate.Sometimes{Interval: 10 * time.Second}
	async := ratelimit.NewAsyncStats(store, sc.QueueSize, time.Second, func(err error) {
		writeLog.Do(func() { logger.Warn("write rate limit stats", "err", err) })
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			// Stats are best-effort: an unreachable Redis is reported, not fatal.
			if err := rdb.Ping(startCtx).Err(); err != nil {
				logger.Warn("rate limit stats store unreachable", "addr", sc.RedisAddr, "err", err)
			} else {
				logger.Info("rate limit stats enabled", "addr", sc.RedisAddr, "prefix", sc.Prefix, "queue_size", sc.QueueSize)
			}
			go func() {
				defer close(done)
				async.Run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			if n := async.Dropped(); n > 0 {
				logger.Warn("rate limit stats dropped", "events", n)
			}
			return rdb.Close()
		},
	})

	return async
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, limiter *ratelimit.FixedWindow, stats ratelimit.StatsRecorder) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Inbound timeouts to mitigate slow-client attacks.
	e.Server.ReadTimeout = 30 * time.Second
	e.Server.WriteTimeout = cfg.Upstreams.Timeout() + 10*time.Second
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	// The client key for rate limiting. Forwarded headers are only honoured
	// when the gateway sits behind a trusted proxy.
	if cfg.RateLimit.TrustProxyHeaders {
		e.IPExtractor = echo.ExtractIPFromXFFHeader()
	} else {
		e.IPExtractor = echo.ExtractIPDirect()
	}
	e.HTTPErrorHandler = handler.ErrorHandler(logger)

	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.RequestLogger(logger))
	if cfg.Metrics.Enabled {
		e.Use(middleware.MetricsMiddleware(m))
	}
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{AllowOrigins: cfg.Server.CORSOrigins}))
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(middleware.SecurityHeaders())

	if cfg.RateLimit.Disabled {
		logger.Warn("rate limiter disabled")
		return e
	}
	unlimited := []string{handler.PathHealth, handler.PathStatus}
	if cfg.Metrics.Enabled {
		unlimited = append(unlimited, cfg.Metrics.Path)
	}
	e.Use(middleware.RateLimiter(middleware.RateLimiterConfig{
		Skipper: middleware.PathSkipper(unlimited...),
		Limiter: limiter,
		Stats:   stats,
		Metrics: m,
		Logger:  logger,
	}))
	logger.Info("rate limiter enabled",
		"max_requests", cfg.RateLimit.MaxRequests,
		"window", cfg.RateLimit.Window().String(),
		"trust_proxy_headers", cfg.RateLimit.TrustProxyHeaders,
	)

	return e
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

// startLimiterJanitor sweeps expired rate limit windows for the life of the app.
func startLimiterJanitor(lc fx.Lifecycle, cfg *config.Config, limiter *ratelimit.FixedWindow) {
	if cfg.RateLimit.Disabled {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				defer close(done)
				limiter.Run(ctx, cfg.RateLimit.SweepEvery())
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, registry *upstream.Registry, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			attrs := []any{"addr", addr, "version", version}
			for _, name := range registry.Names() {
				if u, err := registry.Resolve(name); err == nil {
					attrs = append(attrs, name, u.String())
				}
			}
			logger.Info("starting server", attrs...)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}

package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"api-gateway/internal/metrics"
	"api-gateway/internal/ratelimit"
	"api-gateway/internal/service"
)

// MessageTooManyRequests is the error text sent with a 429.
const MessageTooManyRequests = "Too many requests, please try again later."

// Rate limit response headers.
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
)

// Admitter decides whether a client key may proceed.
type Admitter interface {
	Admit(key string) ratelimit.Decision
}

// RateLimiterConfig configures RateLimiter.
type RateLimiterConfig struct {
	// Skipper defines a function to skip middleware.
	Skipper echomw.Skipper
	Limiter Admitter
	// Stats, when set, receives every decision. It is called inline and
	// must not block; see ratelimit.AsyncStats. Failures are logged only.
	Stats   ratelimit.StatsRecorder
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	// RejectLogEvery bounds how often rejections are logged. Defaults to 10s.
	RejectLogEvery time.Duration
}

// RateLimiter returns an Echo middleware enforcing a per-client quota keyed
// by c.RealIP(). Rejected requests get 429 and never reach the handler.
func RateLimiter(cfg RateLimiterConfig) echo.MiddlewareFunc {
	if cfg.Skipper == nil {
		cfg.Skipper = echomw.DefaultSkipper
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.RejectLogEvery <= 0 {
		cfg.RejectLogEvery = 10 * time.Second
	}
	logger := cfg.Logger.With("component", "rate_limiter")
	rejectLog := &rate.Sometimes{Interval: cfg.RejectLogEvery}
	statsLog := &rate.Sometimes{Interval: cfg.RejectLogEvery}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper(c) {
				return next(c)
			}

			key := c.RealIP()
			d := cfg.Limiter.Admit(key)
			setRateLimitHeaders(c.Response().Header(), d)

			if cfg.Metrics != nil {
				result := "allowed"
				if !d.Allowed {
					result = "denied"
				}
				cfg.Metrics.RateLimitDecisions.WithLabelValues(result).Inc()
			}
			if cfg.Stats != nil {
				err := cfg.Stats.Record(c.Request().Context(), ratelimit.Event{
					Key:     key,
					Allowed: d.Allowed,
					Method:  metrics.NormalizeMethod(c.Request().Method),
					Path:    metrics.NormalizePath(c.Request().URL.Path),
					At:      time.Now(),
				})
				if err != nil {
					statsLog.Do(func() { logger.Warn("record rate limit stats", "err", err) })
				}
			}

			if d.Allowed {
				return next(c)
			}

			rejectLog.Do(func() {
				logger.Warn("rate limit exceeded",
					"remote_ip", key,
					"path", c.Request().URL.Path,
					"retry_after", d.RetryAfter.String(),
				)
			})
			c.Response().Header().Set(echo.HeaderRetryAfter, strconv.Itoa(retryAfterSeconds(d.RetryAfter)))
			return c.JSONBlob(http.StatusTooManyRequests, service.ErrorBody(MessageTooManyRequests))
		}
	}
}

func setRateLimitHeaders(h http.Header, d ratelimit.Decision) {
	h.Set(HeaderRateLimitLimit, strconv.Itoa(d.Limit))
	h.Set(HeaderRateLimitRemaining, strconv.Itoa(d.Remaining))
	h.Set(HeaderRateLimitReset, strconv.FormatInt(d.ResetAt.Unix(), 10))
}

// retryAfterSeconds rounds up so clients never retry early. Never below 1.
func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	return max(secs, 1)
}

// PathSkipper skips the middleware for the given exact paths.
func PathSkipper(paths ...string) echomw.Skipper {
	skip := make(map[string]bool, len(paths))
	for _, p := range paths {
		skip[p] = true
	}
	return func(c echo.Context) bool {
		return skip[c.Request().URL.Path]
	}
}

package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/branchledger/branchledger/internal/observability"
	"github.com/branchledger/branchledger/internal/platform/httpx"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultRatePerMinute  = 120
)

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
}

func (c MiddlewareConfig) timeout() time.Duration {
	if c.Config != nil && c.Config.AppRequestTimeout > 0 {
		return c.Config.AppRequestTimeout
	}
	return defaultRequestTimeout
}

func (c MiddlewareConfig) ratePerMinute() int {
	if c.Config != nil && c.Config.RateLimitPerMinute > 0 {
		return c.Config.RateLimitPerMinute
	}
	return defaultRatePerMinute
}

// MiddlewareStack returns the API chain, outermost first. Request ids are
// assigned before logging so every log line carries one.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	prod := cfg.Config.IsProduction()
	headers := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		STSSeconds:            31536000,
		SSLRedirect:           prod,
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
		IsDevelopment:         !prod,
	})
	headers.SetBadHostHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cfg.Logger.Warn("request rejected by secure headers", slog.String("host", r.Host))
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "")
	}))

	limiter := httprate.Limit(cfg.ratePerMinute(), time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "request rate limit exceeded")
		}),
	)

	chain := []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		RequestLogger(cfg.Logger),
		middleware.Recoverer,
		middleware.Timeout(cfg.timeout()),
		headers.Handler,
		observability.TracingMiddleware,
		limiter,
	}
	if cfg.Metrics != nil {
		chain = append(chain, cfg.Metrics.Middleware)
	}
	return chain
}

// RequestLogger writes one line per request at a level picked from the status.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				logger.Log(r.Context(), statusLevel(status), "http request",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Int("status", status),
					slog.Int("bytes", ww.BytesWritten()),
					slog.Duration("latency", time.Since(start)),
					slog.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

func statusLevel(status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

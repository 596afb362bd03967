package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/flooringops/opsdesk/internal/observability"
	"github.com/flooringops/opsdesk/internal/platform/httpx"
)

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
}

// MiddlewareStack returns the global chain in the order it must be applied.
// Metrics sit innermost so recorded routes carry the chi pattern.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	stack := []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(cfg.Config.requestTimeout()),
		apiHeaders(cfg.Config, cfg.Logger),
		middleware.Compress(5),
		rateLimiter(cfg.Config, cfg.Logger),
	}
	if cfg.Metrics != nil {
		stack = append(stack, cfg.Metrics.Middleware)
	}
	return stack
}

// apiHeaders sets the JSON API security headers and redirects plain HTTP in
// production.
func apiHeaders(cfg *Config, logger *slog.Logger) func(http.Handler) http.Handler {
	prod := cfg.IsProduction()
	sec := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		STSSeconds:            stsSeconds(prod),
		SSLRedirect:           prod,
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
		IsDevelopment:         !prod,
	})
	sec.SetBadHostHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Warn("rejected host", slog.String("host", r.Host))
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
	}))
	return sec.Handler
}

func stsSeconds(prod bool) int64 {
	if !prod {
		return 0
	}
	return int64((365 * 24 * time.Hour).Seconds())
}

// rateLimiter caps requests per client IP per minute.
func rateLimiter(cfg *Config, logger *slog.Logger) func(http.Handler) http.Handler {
	return httprate.Limit(cfg.rateLimit(), time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			logger.Warn("rate limited", slog.String("remote", r.RemoteAddr), slog.String("path", r.URL.Path))
			httpx.Problem(w, http.StatusTooManyRequests, "rate limited", "too many requests, retry shortly")
		}),
	)
}

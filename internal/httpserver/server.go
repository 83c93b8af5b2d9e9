package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/lucidlens/server/internal/callbacks"
	"github.com/lucidlens/server/internal/circuitbreaker"
	"github.com/lucidlens/server/internal/config"
	"github.com/lucidlens/server/internal/dream"
	"github.com/lucidlens/server/internal/entitlement"
	"github.com/lucidlens/server/internal/idempotency"
	"github.com/lucidlens/server/internal/identity"
	"github.com/lucidlens/server/internal/logger"
	"github.com/lucidlens/server/internal/metrics"
	"github.com/lucidlens/server/internal/payment"
	"github.com/lucidlens/server/internal/ratelimit"
)

var serverStartTime = time.Now()

// Deps are the services the HTTP layer dispatches to. Dreams may be nil when
// the dream feature is disabled; Gatherer may be nil to use the default registry.
type Deps struct {
	Payments     *payment.Service
	Dreams       *dream.Service
	Entitlements entitlement.Store
	Verifier     identity.Verifier
	Idempotency  idempotency.Store
	Notifier     callbacks.Notifier
	Metrics      *metrics.Metrics
	Breakers     *circuitbreaker.Manager
	Gatherer     prometheus.Gatherer
	Logger       zerolog.Logger
}

// Server is the standalone HTTP server for a configured router.
type Server struct {
	httpServer *http.Server
}

type handlers struct {
	cfg          *config.Config
	payments     *payment.Service
	dreams       *dream.Service
	entitlements entitlement.Store
	notifier     callbacks.Notifier
	metrics      *metrics.Metrics
	breakers     *circuitbreaker.Manager
	logger       zerolog.Logger
}

func newHandlers(cfg *config.Config, deps Deps) handlers {
	notifier := deps.Notifier
	if notifier == nil {
		notifier = callbacks.NoopNotifier{}
	}
	return handlers{
		cfg:          cfg,
		payments:     deps.Payments,
		dreams:       deps.Dreams,
		entitlements: deps.Entitlements,
		notifier:     notifier,
		metrics:      deps.Metrics,
		breakers:     deps.Breakers,
		logger:       deps.Logger,
	}
}

// New wraps handler in an http.Server using the configured address and timeouts.
func New(cfg *config.Config, handler http.Handler) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
			Handler:      handler,
		},
	}
}

// Addr is the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// ConfigureRouter attaches LucidLens routes to an existing router.
func ConfigureRouter(router chi.Router, cfg *config.Config, deps Deps) {
	if router == nil {
		return
	}
	handler := newHandlers(cfg, deps)

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type", idempotency.HeaderKey, "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID", idempotency.ReplayHeader, "Retry-After"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	router.Use(securityHeadersMiddleware)
	router.Use(logger.Middleware(deps.Logger))
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	rateLimitCfg := ratelimit.FromConfig(cfg.RateLimit, deps.Metrics)
	router.Use(ratelimit.GlobalLimiter(rateLimitCfg))
	router.Use(ratelimit.IPLimiter(rateLimitCfg))

	prefix := cfg.Server.RoutePrefix
	requireUser := identity.Middleware(deps.Verifier, identity.RejectJSON)
	userLimiter := ratelimit.UserLimiter(rateLimitCfg)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	// Lightweight endpoints.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get(prefix+"/health", handler.health)
		r.With(adminMetricsAuth(cfg.Server.AdminMetricsAPIKey)).
			Handle(prefix+"/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	})

	// Payment endpoints.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Use(requireUser, userLimiter)

		r.Post(prefix+"/createOrder", handler.createOrder)
		r.Post(prefix+"/verifyPayment", handler.verifyPayment)
		r.Get(prefix+"/entitlement", handler.getEntitlement)
		mountDevBypass(r, cfg, prefix, handler)
	})

	if cfg.Server.CallableEnabled {
		router.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Use(identity.Middleware(deps.Verifier, identity.RejectCallable), userLimiter)

			r.Post(prefix+"/callable/createOrder", handler.callableCreateOrder)
			r.Post(prefix+"/callable/verifyPayment", handler.callableVerifyPayment)
		})
	}

	// Long-lived stream; no route timeout.
	router.With(requireUser).Get(prefix+"/entitlement/stream", handler.streamEntitlement)

	if deps.Dreams != nil {
		idempotencyMW := func(next http.Handler) http.Handler { return next }
		if deps.Idempotency != nil {
			idempotencyMW = idempotency.Middleware(deps.Idempotency, cfg.Idempotency.TTL.Duration, deps.Metrics)
		}
		router.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(120 * time.Second))
			r.Use(requireUser, userLimiter)

			r.With(idempotencyMW).Post(prefix+"/dreams/visualize", handler.visualizeDream)
			r.Post(prefix+"/dreams", handler.saveDream)
			r.Get(prefix+"/dreams", handler.listDreams)
		})
	}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Package lucidlens assembles the payment, entitlement and dream services
// behind one router, for standalone serving or embedding.
package lucidlens

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/lucidlens/server/internal/auth"
	"github.com/lucidlens/server/internal/callbacks"
	"github.com/lucidlens/server/internal/circuitbreaker"
	"github.com/lucidlens/server/internal/config"
	"github.com/lucidlens/server/internal/dbpool"
	"github.com/lucidlens/server/internal/dream"
	"github.com/lucidlens/server/internal/entitlement"
	"github.com/lucidlens/server/internal/httpserver"
	"github.com/lucidlens/server/internal/idempotency"
	"github.com/lucidlens/server/internal/identity"
	"github.com/lucidlens/server/internal/lifecycle"
	"github.com/lucidlens/server/internal/logger"
	"github.com/lucidlens/server/internal/metrics"
	"github.com/lucidlens/server/internal/payment"
	"github.com/lucidlens/server/internal/razorpay"
)

// App holds the wired services. SDK clients are created once here and shared.
type App struct {
	Config       *config.Config
	Entitlements entitlement.Store
	Verifier     identity.Verifier
	Notifier     callbacks.Notifier
	Payments     *payment.Service
	Dreams       *dream.Service
	Idempotency  idempotency.Store
	Breakers     *circuitbreaker.Manager
	Logger       zerolog.Logger

	router          chi.Router
	resourceManager *lifecycle.Manager
	metrics         *metrics.Metrics
	gatherer        prometheus.Gatherer
	firebaseApp     *firebase.App
	firestore       *firestore.Client
}

// Option configures App construction.
type Option func(*options)

type options struct {
	store       entitlement.Store
	notifier    callbacks.Notifier
	verifier    identity.Verifier
	gateway     razorpay.OrderCreator
	interpreter dream.Interpreter
	images      dream.ImageGenerator
	router      chi.Router
	registry    *prometheus.Registry
	logger      *zerolog.Logger
}

// WithStore sets a custom entitlement store. The caller keeps ownership.
func WithStore(store entitlement.Store) Option {
	return func(o *options) { o.store = store }
}

// WithNotifier injects an entitlement callback notifier.
func WithNotifier(notifier callbacks.Notifier) Option {
	return func(o *options) { o.notifier = notifier }
}

// WithVerifier replaces Firebase identity token verification.
func WithVerifier(verifier identity.Verifier) Option {
	return func(o *options) { o.verifier = verifier }
}

// WithGateway replaces the Razorpay Orders client.
func WithGateway(gateway razorpay.OrderCreator) Option {
	return func(o *options) { o.gateway = gateway }
}

// WithDreamModels replaces the Gemini interpreter and the image generator.
func WithDreamModels(interpreter dream.Interpreter, images dream.ImageGenerator) Option {
	return func(o *options) {
		o.interpreter = interpreter
		o.images = images
	}
}

// WithRouter registers routes onto an existing chi.Router.
func WithRouter(router chi.Router) Option {
	return func(o *options) { o.router = router }
}

// WithRegistry registers metrics on registry instead of the default registry.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(o *options) { o.registry = registry }
}

// WithLogger sets the root logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = &l }
}

// NewApp assembles the services. On error every resource opened so far is closed.
func NewApp(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("lucidlens: config required")
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	app := &App{
		Config:          cfg,
		resourceManager: lifecycle.NewManager(),
	}
	if err := app.build(ctx, o); err != nil {
		_ = app.resourceManager.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context, o options) error {
	cfg := a.Config

	if o.logger != nil {
		a.Logger = *o.logger
	} else {
		a.Logger = logger.New(logger.Config{
			Level:       cfg.Logging.Level,
			Format:      cfg.Logging.Format,
			Service:     "lucidlens",
			Environment: cfg.Logging.Environment,
		})
	}

	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	a.gatherer = prometheus.DefaultGatherer
	if o.registry != nil {
		registerer, a.gatherer = o.registry, o.registry
	}
	a.metrics = metrics.New(registerer)
	a.Breakers = circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker)

	if err := a.initFirebase(ctx, o); err != nil {
		return err
	}
	if err := a.initEntitlements(ctx, o); err != nil {
		return err
	}

	if o.notifier != nil {
		a.Notifier = o.notifier
	} else {
		a.Notifier = callbacks.NewRetryableClient(cfg.Callbacks,
			callbacks.WithRetryLogger(a.Logger),
			callbacks.WithMetrics(a.metrics),
			callbacks.WithBreakers(a.Breakers),
		)
		a.resourceManager.RegisterIfCloser("callbacks", a.Notifier)
	}

	gateway := o.gateway
	if gateway == nil {
		gateway = razorpay.NewClient(cfg.Razorpay, a.Breakers)
	}
	a.Payments = payment.NewService(gateway, auth.NewPaymentSigner(cfg.Razorpay.KeySecret), a.Entitlements,
		payment.WithNotifier(a.Notifier),
		payment.WithMetrics(a.metrics),
	)

	idem, closeIdem, err := idempotency.NewStore(cfg.Idempotency)
	if err != nil {
		return fmt.Errorf("init idempotency store: %w", err)
	}
	a.Idempotency = idem
	a.resourceManager.RegisterFunc("idempotency-store", closeIdem)

	if cfg.Dreams.Enabled {
		if err := a.initDreams(ctx, o); err != nil {
			return err
		}
	}

	if o.router != nil {
		a.router = o.router
	} else {
		a.router = chi.NewRouter()
	}
	httpserver.ConfigureRouter(a.router, cfg, a.deps())
	return nil
}

// initFirebase creates the Firebase app and the clients derived from it, but
// only when something needs them.
func (a *App) initFirebase(ctx context.Context, o options) error {
	cfg := a.Config
	needFirestore := cfg.NeedsFirestore()
	if o.store != nil {
		// An injected store replaces the configured entitlement backend.
		needFirestore = cfg.Dreams.UsesFirestore()
	}
	if o.verifier != nil && !needFirestore {
		a.Verifier = o.verifier
		return nil
	}

	fbApp, err := identity.NewFirebaseApp(ctx, cfg.Firebase)
	if err != nil {
		return err
	}
	a.firebaseApp = fbApp

	if o.verifier != nil {
		a.Verifier = o.verifier
	} else {
		authClient, err := fbApp.Auth(ctx)
		if err != nil {
			return fmt.Errorf("init firebase auth: %w", err)
		}
		a.Verifier = identity.NewFirebaseVerifier(authClient)
	}

	if needFirestore {
		client, err := fbApp.Firestore(ctx)
		if err != nil {
			return fmt.Errorf("init firestore: %w", err)
		}
		a.firestore = client
		a.resourceManager.Register("firestore", client)
	}
	return nil
}

func (a *App) initEntitlements(ctx context.Context, o options) error {
	if o.store != nil {
		a.Entitlements = o.store
		return nil
	}

	cfg := a.Config.Entitlements
	backends := entitlement.Backends{Firestore: a.firestore}
	if cfg.Backend == "postgres" {
		pool, err := dbpool.NewSharedPool(ctx, cfg.PostgresURL, cfg.PostgresPool)
		if err != nil {
			return fmt.Errorf("init postgres pool: %w", err)
		}
		a.resourceManager.Register("postgres-pool", pool)
		backends.SharedDB = pool.DB()
	}

	store, err := entitlement.NewStore(cfg, backends)
	if err != nil {
		return fmt.Errorf("init entitlement store: %w", err)
	}
	a.resourceManager.Register("entitlement-store", store)

	backend := cfg.Backend
	if backend == "" {
		backend = "firestore"
	}
	a.Entitlements = entitlement.Instrument(store, a.metrics, backend)
	return nil
}

func (a *App) initDreams(ctx context.Context, o options) error {
	cfg := a.Config.Dreams

	interpreter := o.interpreter
	if interpreter == nil {
		gemini, err := dream.NewGeminiInterpreter(ctx, cfg.GeminiAPIKey, cfg.GeminiBaseURL, cfg.GeminiModel, a.Breakers)
		if err != nil {
			return fmt.Errorf("init dream interpreter: %w", err)
		}
		interpreter = gemini
	}
	images := o.images
	if images == nil {
		images = dream.NewHuggingFaceGenerator(cfg.ImageModelURL, cfg.HuggingFaceAPIKey, cfg.Timeout.Duration, a.Breakers)
	}

	var repo dream.Repository
	switch cfg.Repository {
	case "memory":
		repo = dream.NewMemoryRepository()
	default:
		repo = dream.NewFirestoreRepository(a.firestore, cfg.AppID)
	}

	blobs, err := dream.NewFileBlobStore(cfg.BlobDir)
	if err != nil {
		return err
	}

	a.Dreams = dream.NewService(a.Entitlements, interpreter, images, repo, blobs,
		dream.WithImageCount(cfg.ImageCount),
		dream.WithStyle(cfg.Style),
		dream.WithMetrics(a.metrics),
	)
	return nil
}

func (a *App) deps() httpserver.Deps {
	return httpserver.Deps{
		Payments:     a.Payments,
		Dreams:       a.Dreams,
		Entitlements: a.Entitlements,
		Verifier:     a.Verifier,
		Idempotency:  a.Idempotency,
		Notifier:     a.Notifier,
		Metrics:      a.metrics,
		Breakers:     a.Breakers,
		Gatherer:     a.gatherer,
		Logger:       a.Logger,
	}
}

// Router returns the chi router with LucidLens routes registered.
func (a *App) Router() chi.Router {
	return a.router
}

// Handler exposes the router as an http.Handler.
func (a *App) Handler() http.Handler {
	return a.router
}

// Server returns a standalone HTTP server for the app's routes.
func (a *App) Server() *httpserver.Server {
	return httpserver.New(a.Config, a.router)
}

// Close releases resources owned by the app in reverse creation order.
func (a *App) Close() error {
	return a.resourceManager.Close()
}

// Shutdown is Close bounded by ctx.
func (a *App) Shutdown(ctx context.Context) error {
	return a.resourceManager.Shutdown(ctx)
}

// RegisterRoutes attaches LucidLens endpoints to router using an existing App.
func RegisterRoutes(router chi.Router, app *App) {
	if router == nil || app == nil {
		return
	}
	httpserver.ConfigureRouter(router, app.Config, app.deps())
}

// Config is an exported alias of the internal configuration struct for embedding use.
type Config = config.Config

// LoadConfig wraps the internal loader for consumers embedding LucidLens.
func LoadConfig(path string) (*config.Config, error) {
	return config.Load(path)
}

package router

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/erp/woosync/internal/infrastructure/logger"
	"github.com/erp/woosync/internal/infrastructure/telemetry"
	"github.com/erp/woosync/internal/interfaces/http/handler"
	"github.com/erp/woosync/internal/interfaces/http/middleware"
)

// RouteRegistrar defines the interface for registering routes
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// Router manages HTTP route registration
type Router struct {
	engine     *gin.Engine
	apiVersion string
	middleware []gin.HandlerFunc
	registrars []RouteRegistrar
}

// RouterOption is a functional option for Router configuration
type RouterOption func(*Router)

// WithAPIVersion sets the API version prefix (e.g., "v1", "v2")
func WithAPIVersion(version string) RouterOption {
	return func(r *Router) {
		r.apiVersion = version
	}
}

// WithGroupMiddleware adds middleware that runs only on the versioned API group
func WithGroupMiddleware(handlers ...gin.HandlerFunc) RouterOption {
	return func(r *Router) {
		r.middleware = append(r.middleware, handlers...)
	}
}

// NewRouter creates a new Router instance
func NewRouter(engine *gin.Engine, opts ...RouterOption) *Router {
	r := &Router{
		engine:     engine,
		apiVersion: "v1",
		registrars: make([]RouteRegistrar, 0),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Register adds a RouteRegistrar to be registered later
func (r *Router) Register(registrar RouteRegistrar) *Router {
	r.registrars = append(r.registrars, registrar)
	return r
}

// Setup registers all routes with the engine
func (r *Router) Setup() {
	api := r.engine.Group("/api/"+r.apiVersion, r.middleware...)
	for _, registrar := range r.registrars {
		registrar.RegisterRoutes(api)
	}
}

// EngineConfig holds what NewEngine needs to assemble the HTTP stack
type EngineConfig struct {
	Logger         *zap.Logger
	Metrics        *telemetry.SyncMetrics
	Tracing        middleware.TracingConfig
	MaxBodySize    int64
	TrustedProxies []string
	Version        string
	// Auth guards the API group; nil leaves it open
	Auth middleware.TokenValidator
	// Profiling labels request CPU samples by route
	Profiling bool
}

// NewEngine builds the gin engine serving the ingest API.
//
// Middleware order:
//  1. RequestID
//  2. Recovery
//  3. Tracing, then SpanAnnotator
//  4. Logger
//  5. Metrics
//  6. BodyLimit
//  7. Profiling labels, when enabled
//
// /healthz and /metrics live outside the versioned API group and are
// never authenticated.
func NewEngine(cfg EngineConfig, sync *handler.SyncHandler) *gin.Engine {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	engine := gin.New()
	if len(cfg.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(middleware.Tracing(cfg.Tracing))
	engine.Use(middleware.SpanAnnotator())
	engine.Use(logger.GinMiddleware(log, "/healthz", "/metrics"))
	engine.Use(middleware.Metrics(cfg.Metrics))
	if cfg.MaxBodySize > 0 {
		engine.Use(middleware.BodyLimit(cfg.MaxBodySize))
	}
	if cfg.Profiling {
		engine.Use(middleware.Profiling())
	}

	engine.GET("/healthz", handler.NewHealthHandler(cfg.Version).Health)
	if cfg.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	var opts []RouterOption
	if cfg.Auth != nil {
		opts = append(opts, WithGroupMiddleware(middleware.JWTAuth(cfg.Auth, log)))
	}
	r := NewRouter(engine, opts...)
	if sync != nil {
		r.Register(sync)
	}
	r.Setup()

	return engine
}

package rest

import (
	"net/http"
	"strconv"
	"time"

	"flowbuilder/application/editor"
	"flowbuilder/interfaces/http/rest/handlers"
	"flowbuilder/interfaces/http/rest/middleware"
	"flowbuilder/interfaces/websocket"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// Options configures the HTTP surface
type Options struct {
	AllowedOrigins []string
	AuthRequired   bool
	// RequestTimeout bounds every request except websocket watches
	RequestTimeout time.Duration
}

// Metrics is what the router needs from the metrics collector
type Metrics interface {
	middleware.RequestRecorder
	Handler() http.Handler
}

// Router creates and configures the HTTP router
type Router struct {
	manager  *editor.Manager
	hub      *websocket.Hub
	verifier middleware.Verifier
	metrics  Metrics
	options  Options
	logger   *zap.Logger
}

// NewRouter creates a new router instance. verifier and metrics may be nil.
func NewRouter(
	manager *editor.Manager,
	hub *websocket.Hub,
	verifier middleware.Verifier,
	metrics Metrics,
	options Options,
	logger *zap.Logger,
) *Router {
	if len(options.AllowedOrigins) == 0 {
		options.AllowedOrigins = []string{"*"}
	}
	return &Router{
		manager:  manager,
		hub:      hub,
		verifier: verifier,
		metrics:  metrics,
		options:  options,
		logger:   logger,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	// Global middleware
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.Logger(rt.logger))
	if rt.metrics != nil {
		router.Use(middleware.Metrics(rt.metrics))
	}

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   rt.options.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/healthz", rt.healthCheck)
	if rt.metrics != nil {
		router.Method(http.MethodGet, "/metrics", rt.metrics.Handler())
	}

	flows := handlers.NewFlowHandler(rt.manager, rt.hub, websocket.Upgrader(rt.options.AllowedOrigins), rt.logger)

	router.Route("/v1/flows/{flowID}", func(r chi.Router) {
		r.Use(middleware.Authenticate(rt.verifier, rt.options.AuthRequired, rt.logger))

		r.Get("/ws", flows.Watch)

		r.Group(func(r chi.Router) {
			if rt.options.RequestTimeout > 0 {
				r.Use(chimiddleware.Timeout(rt.options.RequestTimeout))
			}
			r.Get("/", flows.GetFrame)
			r.Delete("/session", flows.CloseSession)
			r.Post("/nodes", flows.AddNode)
			r.Patch("/nodes/{nodeID}", flows.RenameNode)
			r.Post("/connections", flows.Connect)
			r.Post("/pointer", flows.Pointer)
		})
	})

	return router
}

// healthCheck reports liveness and the flows currently mounted
func (rt *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy","mountedFlows":` + strconv.Itoa(len(rt.manager.FlowIDs())) + `}`))
}

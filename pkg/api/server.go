package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/featurestore/pkg/features"
	"github.com/platinummonkey/featurestore/pkg/httputil"
	"github.com/platinummonkey/featurestore/pkg/observability"
)

const defaultHealthTimeout = 5 * time.Second

// APIPrefix is the path prefix every API route is mounted under
const APIPrefix = "/api/v1"

// StoreHealth reports whether the backing store is reachable. Implementations
// log their own failures.
type StoreHealth interface {
	HealthCheck(ctx context.Context) bool
}

// Options configures the API server. Only Service is required.
type Options struct {
	Service *features.Service
	Store   StoreHealth
	Tables  []string

	Logger             *observability.Logger
	Metrics            *observability.Metrics
	CORSAllowedOrigins []string
	MaxBodyBytes       int64
}

// Server represents our API server
type Server struct {
	service *features.Service
	store   StoreHealth
	tables  []string
	router  *mux.Router
	handler http.Handler
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	tables := append([]string(nil), opts.Tables...)
	sort.Strings(tables)

	s := &Server{
		service: opts.Service,
		store:   opts.Store,
		tables:  tables,
		router:  mux.NewRouter(),
		logger:  logger,
		metrics: opts.Metrics,
		now:     time.Now,
	}
	s.setupRoutes()

	middlewares := []func(http.Handler) http.Handler{
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
		httputil.RecoveryMiddleware(logger),
		httputil.CORSMiddleware(opts.CORSAllowedOrigins),
	}
	if opts.MaxBodyBytes > 0 {
		middlewares = append(middlewares, httputil.MaxBytesMiddleware(opts.MaxBodyBytes))
	}
	middlewares = append(middlewares, httputil.ContentTypeMiddleware)

	s.handler = otelhttp.NewHandler(
		httputil.Chain(middlewares...)(s.router),
		"featurestore-api",
		otelhttp.WithSpanNameFormatter(s.spanName),
	)
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	if s.metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.metrics))
	}

	v1 := s.router.PathPrefix(APIPrefix).Subrouter()

	// Write
	v1.HandleFunc("/items", s.writeItem).Methods("POST")

	// Reads
	v1.HandleFunc("/get/item/{entity_value}/{category}", s.getItem).Methods("GET")
	v1.HandleFunc("/get/items", s.getItems).Methods("POST")

	// Store connectivity
	v1.HandleFunc("/health", s.health).Methods("GET")

	for _, router := range []*mux.Router{s.router, v1} {
		router.NotFoundHandler = http.HandlerFunc(notFound)
		router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	}
}

func notFound(w http.ResponseWriter, r *http.Request) {
	httputil.WriteNotFoundError(w, "route not found: "+r.URL.Path)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusMethodNotAllowed, httputil.ErrorResponse{Error: httputil.ErrorBody{
		StatusCode: http.StatusMethodNotAllowed,
		Detail:     "method " + r.Method + " not allowed",
		ErrorCode:  "METHOD_NOT_ALLOWED",
		Timestamp:  httputil.Now().UTC().Format(time.RFC3339Nano),
	}})
}

// spanName names server spans by route template so entity values never
// reach span names. It runs before routing, so the router is matched here.
func (s *Server) spanName(_ string, r *http.Request) string {
	var match mux.RouteMatch
	if s.router.Match(r, &match) && match.MatchErr == nil && match.Route != nil {
		if tmpl, err := match.Route.GetPathTemplate(); err == nil {
			return r.Method + " " + tmpl
		}
	}
	return r.Method + " unmatched"
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router exposes the bare router without middleware
func (s *Server) Router() *mux.Router {
	return s.router
}

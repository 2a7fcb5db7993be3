package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/user/price-monitor/internal/domain"
	"github.com/user/price-monitor/internal/monitoring"
	"github.com/user/price-monitor/internal/storage"
)

// Runner starts pipeline runs and reports their status.
type Runner interface {
	Start(ctx context.Context) (string, error)
	Status() domain.Status
}

// Pinger is a dependency checked by the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	Port      string
	AdminUser string
	AdminPass string
}

// Deps are the collaborators behind the HTTP handlers.
type Deps struct {
	Runner   Runner
	Targets  storage.TargetStore
	History  storage.HistoryStore
	Health   map[string]Pinger
	Gatherer prometheus.Gatherer
	Metrics  *monitoring.Metrics
	Logger   *zap.Logger
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	config     Config
	deps       Deps
	validate   *validator.Validate
	router     http.Handler
	httpServer *http.Server
	logger     *zap.Logger
}

func NewServer(cfg Config, deps Deps) *Server {
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		config:   cfg,
		deps:     deps,
		validate: validator.New(),
		logger:   deps.Logger,
	}
	s.router = s.setupRouter()
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks serving requests. After Shutdown it returns http.ErrServerClosed,
// also when Shutdown ran first.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

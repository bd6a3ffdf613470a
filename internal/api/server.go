// Package api provides the HTTP status server for a running backtest.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/quantfold/backtester/internal/engine"
	"github.com/quantfold/backtester/pkg/types"
)

// Server exposes run progress, the equity curve and prometheus metrics.
type Server struct {
	logger     *zap.Logger
	config     types.ServerConfig
	router     *mux.Router
	httpServer *http.Server
	strategy   StrategyReporter
	registry   *prometheus.Registry
}

// StrategyReporter is the read-only view of a running strategy.
type StrategyReporter interface {
	State() engine.State
	CurrentTime() time.Time
	Positions() map[string]int64
	Holdings() map[string]string
	EquityCurve() []types.EquityCurvePoint
}

// StrategyView adapts a strategy to the reporter interface. Both historical
// and live strategies embed the same core, so either fits.
type StrategyView struct {
	strategy *engine.Strategy
}

// NewStrategyView wraps a strategy for status reporting.
func NewStrategyView(strategy *engine.Strategy) *StrategyView {
	return &StrategyView{strategy: strategy}
}

func (v *StrategyView) State() engine.State    { return v.strategy.State() }
func (v *StrategyView) CurrentTime() time.Time { return v.strategy.CurrentTime() }

func (v *StrategyView) Positions() map[string]int64 {
	return v.strategy.Portfolio().CurrentPositions()
}

func (v *StrategyView) Holdings() map[string]string {
	holdings := v.strategy.Portfolio().CurrentHoldings()
	out := make(map[string]string, len(holdings))
	for field, value := range holdings {
		out[field] = value.String()
	}
	return out
}

func (v *StrategyView) EquityCurve() []types.EquityCurvePoint {
	return v.strategy.Portfolio().EquityCurve()
}

// NewServer creates a status server for one strategy run.
func NewServer(logger *zap.Logger, config types.ServerConfig, strategy StrategyReporter, registry *prometheus.Registry) *Server {
	server := &Server{
		logger:   logger,
		config:   config,
		router:   mux.NewRouter(),
		strategy: strategy,
		registry: registry,
	}
	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/v1/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/api/v1/positions", s.handlePositions).Methods("GET")
	s.router.HandleFunc("/api/v1/equity", s.handleEquity).Methods("GET")
	if s.registry != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
}

// Handler returns the routable handler, wrapped with CORS.
func (s *Server) Handler() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}).Handler(s.router)
}

// Start starts the HTTP server and blocks until it exits.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	s.logger.Info("starting status server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"state":       s.strategy.State().String(),
		"currentTime": s.strategy.CurrentTime(),
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"positions": s.strategy.Positions(),
		"holdings":  s.strategy.Holdings(),
	})
}

func (s *Server) handleEquity(w http.ResponseWriter, r *http.Request) {
	curve := s.strategy.EquityCurve()
	s.writeJSON(w, map[string]interface{}{
		"points": curve,
		"count":  len(curve),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("encoding response", zap.Error(err))
	}
}

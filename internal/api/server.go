// Package api serves the redaction pipeline over HTTP
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/pii-redactor/internal/config"
	"github.com/raaihank/pii-redactor/internal/logger"
	"github.com/raaihank/pii-redactor/internal/metrics"
	"github.com/raaihank/pii-redactor/internal/pipeline"
	"github.com/raaihank/pii-redactor/internal/store"
	"github.com/raaihank/pii-redactor/internal/websocket"
)

// Version is reported by /info
var Version = "0.1.0"

// Dependencies are the collaborators the server routes requests to.
// Hub and Metrics are optional.
type Dependencies struct {
	Pipeline *pipeline.Pipeline
	Store    store.Store
	Hub      *websocket.Hub
	Metrics  *metrics.Metrics
}

// Server represents the HTTP API server
type Server struct {
	config   *config.Config
	logger   *logger.Logger
	pipeline *pipeline.Pipeline
	store    store.Store
	wsHub    *websocket.Hub
	metrics  *metrics.Metrics
	router   *mux.Router
	server   *http.Server
	started  time.Time

	hubCancel context.CancelFunc
}

// New creates a new API server instance
func New(cfg *config.Config, deps Dependencies, log *logger.Logger) (*Server, error) {
	if deps.Pipeline == nil || deps.Store == nil {
		return nil, fmt.Errorf("pipeline and store are required")
	}

	s := &Server{
		config:   cfg,
		logger:   log.WithComponent("api"),
		pipeline: deps.Pipeline,
		store:    deps.Store,
		wsHub:    deps.Hub,
		metrics:  deps.Metrics,
		router:   mux.NewRouter(),
		started:  time.Now(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)

	if s.metrics != nil && s.config.Metrics.Enabled {
		s.router.Handle(s.config.Metrics.Path, s.metrics.Handler()).Methods(http.MethodGet)
	}

	// The upgrade needs the raw ResponseWriter, so /ws stays outside the logged routes
	if s.wsHub != nil && s.config.WebSocket.Enabled {
		s.router.HandleFunc(s.config.WebSocket.Path, s.wsHub.HandleWebSocket).Methods(http.MethodGet)
	}

	notes := s.router.NewRoute().Subrouter()
	notes.Use(s.loggingMiddleware)
	notes.Use(corsMiddleware)
	notes.HandleFunc("/detect", s.handleDetect).Methods(http.MethodPost, http.MethodOptions)
	notes.HandleFunc("/notes", s.handleListNotes).Methods(http.MethodGet, http.MethodOptions)
	notes.HandleFunc("/notes/{id}", s.handleGetNote).Methods(http.MethodGet, http.MethodOptions)
}

// Handler returns the routed handler, for embedding and tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the WebSocket hub and serves HTTP until Stop is called
func (s *Server) Start() error {
	s.logger.Info("Starting PII redactor API server",
		zap.Int("port", s.config.Server.Port),
		zap.String("detector_backend", s.config.Detector.Backend),
		zap.String("storage_driver", s.config.Storage.Driver),
		zap.Bool("websocket_enabled", s.wsHub != nil && s.config.WebSocket.Enabled),
		zap.Bool("metrics_enabled", s.metrics != nil && s.config.Metrics.Enabled),
	)

	if s.wsHub != nil {
		ctx, cancel := context.WithCancel(context.Background())
		s.hubCancel = cancel
		go s.wsHub.Run(ctx)
	}

	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server and the hub
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping PII redactor API server")
	if s.hubCancel != nil {
		s.hubCancel()
	}
	return s.server.Shutdown(ctx)
}

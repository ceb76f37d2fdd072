package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/pii-redactor/internal/api"
	"github.com/raaihank/pii-redactor/internal/config"
	"github.com/raaihank/pii-redactor/internal/detect"
	"github.com/raaihank/pii-redactor/internal/logger"
	"github.com/raaihank/pii-redactor/internal/metrics"
	"github.com/raaihank/pii-redactor/internal/pipeline"
	"github.com/raaihank/pii-redactor/internal/store"
	"github.com/raaihank/pii-redactor/internal/websocket"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		healthCheck = flag.String("health-check", "", "Check the health endpoint at this base URL and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("pii-redactor %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	if *healthCheck != "" {
		performHealthCheck(*healthCheck)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(loggerConfig(cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting PII redactor",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", cfg.Server.Port),
	)

	server, noteStore, err := buildServer(cfg, log)
	if err != nil {
		log.Fatal("Failed to create API server", zap.Error(err))
	}
	defer noteStore.Close()

	config.Watch(func(updated *config.Config) {
		if err := log.SetLevel(updated.Logging.Level); err != nil {
			log.Warn("Ignoring invalid log level", zap.String("level", updated.Logging.Level), zap.Error(err))
			return
		}
		log.Info("Configuration reloaded", zap.String("log_level", updated.Logging.Level))
	}, func(err error) {
		log.Warn("Configuration reload rejected", zap.Error(err))
	})

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		serverErrors <- server.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", zap.Error(err))
		}
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 30 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Stop(ctx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
			return
		}

		log.Info("Server shutdown complete")
	}
}

func loggerConfig(cfg *config.Config) logger.Config {
	lc := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		lc.File = &logger.FileConfig{
			Enabled: true,
			Path:    cfg.Logging.File.Path,
		}
	}
	return lc
}

// buildServer wires the detector, store, metrics and live feed into the API
func buildServer(cfg *config.Config, log *logger.Logger) (*api.Server, store.Store, error) {
	detector, err := detect.New(cfg.Detector, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize detector: %w", err)
	}

	noteStore, err := store.New(cfg.Storage, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		if m, err = metrics.New(); err != nil {
			noteStore.Close()
			return nil, nil, fmt.Errorf("failed to initialize metrics: %w", err)
		}
	}

	opts := []pipeline.Option{}
	if m != nil {
		opts = append(opts, pipeline.WithObserver(m))
	}

	var hub *websocket.Hub
	if cfg.WebSocket.Enabled {
		hubConfig := websocket.HubConfig{
			BroadcastRedactions:  cfg.WebSocket.Events.BroadcastRedactions,
			BroadcastRequests:    cfg.WebSocket.Events.BroadcastRequests,
			BroadcastConnections: cfg.WebSocket.Events.BroadcastConnections,
			MaxConnections:       cfg.WebSocket.MaxConnections,
			AllowedOrigins:       cfg.WebSocket.AllowedOrigins,
		}
		if m != nil {
			hubConfig.OnClientCount = m.SetWebSocketClients
		}
		hub = websocket.NewHub(hubConfig, log.WithComponent("websocket"))
		opts = append(opts, pipeline.WithListener(hub))
	}

	p := pipeline.New(detector, noteStore, cfg.Detector.LanguageCode, log.WithComponent("pipeline"), opts...)

	server, err := api.New(cfg, api.Dependencies{
		Pipeline: p,
		Store:    noteStore,
		Hub:      hub,
		Metrics:  m,
	}, log)
	if err != nil {
		noteStore.Close()
		return nil, nil, err
	}

	api.Version = version
	return server, noteStore, nil
}

// performHealthCheck performs a health check against a running server
func performHealthCheck(baseURL string) {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
}

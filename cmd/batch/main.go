package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/raaihank/pii-redactor/internal/batch"
	"github.com/raaihank/pii-redactor/internal/config"
	"github.com/raaihank/pii-redactor/internal/detect"
	"github.com/raaihank/pii-redactor/internal/logger"
	"github.com/raaihank/pii-redactor/internal/pipeline"
	"github.com/raaihank/pii-redactor/internal/store"
)

func main() {
	var (
		configPath = flag.String("config", "", "Configuration file path")
		inputFile  = flag.String("input", "", "Input dataset file (CSV, Parquet, or JSON lines) with a text column")
		exportFile = flag.String("export", "", "Write all stored records to this file (CSV, Parquet, or JSON lines)")
		workers    = flag.Int("workers", 4, "Number of worker goroutines")
		dryRun     = flag.Bool("dry-run", false, "Keep records in memory instead of the configured store")
	)
	flag.Parse()

	if (*inputFile == "") == (*exportFile == "") {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nExactly one of -input or -export is required.\n\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -input notes.csv -workers 8\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -input notes.parquet -dry-run\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -export notes.json\n", os.Args[0])
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling operations...")
		cancel()
	}()

	noteStore, err := openStore(cfg, *dryRun, log)
	if err != nil {
		log.Fatal("Failed to initialize store", zap.Error(err))
	}
	defer noteStore.Close()

	if *exportFile != "" {
		if _, err := batch.Export(ctx, noteStore, *exportFile, log); err != nil {
			log.Fatal("Export failed", zap.Error(err))
		}
		return
	}

	if err := processDataset(ctx, cfg, noteStore, *inputFile, *workers, log); err != nil {
		log.Fatal("Batch processing failed", zap.Error(err))
	}
}

func openStore(cfg *config.Config, dryRun bool, log *logger.Logger) (store.Store, error) {
	if dryRun {
		log.Info("Dry run: records are kept in memory")
		return store.NewMemory(), nil
	}
	return store.New(cfg.Storage, log)
}

// processDataset feeds every row of inputFile through the redaction pipeline
func processDataset(ctx context.Context, cfg *config.Config, noteStore store.Store, inputFile string, workers int, log *logger.Logger) error {
	if _, err := os.Stat(inputFile); os.IsNotExist(err) {
		return fmt.Errorf("input file does not exist: %s", inputFile)
	}

	detector, err := detect.New(cfg.Detector, log)
	if err != nil {
		return fmt.Errorf("failed to initialize detector: %w", err)
	}

	p := pipeline.New(detector, noteStore, cfg.Detector.LanguageCode, log.WithComponent("pipeline"))

	batchConfig := batch.DefaultConfig()
	batchConfig.WorkerCount = workers
	runner := batch.NewRunner(p, batchConfig, log)

	result, err := runner.ProcessFile(ctx, inputFile)
	if err != nil {
		return err
	}

	if result.Duration > 0 {
		log.Info("Dataset summary",
			zap.String("file", inputFile),
			zap.Float64("records_per_second", float64(result.TotalRecords)/result.Duration.Seconds()))
	}
	if len(result.Errors) > 0 {
		log.Warn("Processing completed with errors", zap.Strings("errors", result.Errors))
	}

	return nil
}

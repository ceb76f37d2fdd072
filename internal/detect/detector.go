// Package detect adapts PII entity detection capabilities to a single
// interface. The HTTP client talks to an external detection service; the
// pattern detector runs locally on regular expressions; Cached wraps either
// one with a result cache.
package detect

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/raaihank/pii-redactor/internal/config"
	"github.com/raaihank/pii-redactor/internal/logger"
	"github.com/raaihank/pii-redactor/internal/privacy"
)

// Detector finds PII entities in normalized text. Implementations must be
// safe for concurrent use and must not reorder or deduplicate on behalf of
// the caller.
type Detector interface {
	Detect(ctx context.Context, text, languageCode string) (privacy.DetectionResult, error)
}

// New builds the detector selected by cfg, wrapped in a cache when one is configured
func New(cfg config.DetectorConfig, log *logger.Logger) (Detector, error) {
	var detector Detector
	switch cfg.Backend {
	case "http":
		detector = NewClient(cfg, log.WithComponent("detector"))
	case "pattern":
		rules, err := SelectRules(DefaultRules(), cfg.Patterns)
		if err != nil {
			return nil, err
		}
		pd, err := NewPatternDetector(rules, cfg.MinScore)
		if err != nil {
			return nil, fmt.Errorf("failed to create pattern detector: %w", err)
		}
		detector = pd
	default:
		return nil, fmt.Errorf("unknown detector backend: %s", cfg.Backend)
	}

	switch cfg.Cache.Backend {
	case "", "none":
	case "memory":
		detector = NewCached(detector, NewMemoryCache(cfg.Cache.TTL), log.WithComponent("detector_cache"))
	case "redis":
		cache, err := NewRedisCache(cfg.Cache, log.WithComponent("detector_cache"))
		if err != nil {
			return nil, err
		}
		detector = NewCached(detector, cache, log.WithComponent("detector_cache"))
	default:
		return nil, fmt.Errorf("unknown detector cache backend: %s", cfg.Cache.Backend)
	}

	log.Info("Detector initialized",
		zap.String("backend", cfg.Backend),
		zap.String("cache", cfg.Cache.Backend),
		zap.String("language_code", cfg.LanguageCode),
	)

	return detector, nil
}

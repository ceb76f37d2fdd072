package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/raaihank/pii-redactor/internal/config"
	"github.com/raaihank/pii-redactor/internal/logger"
	"github.com/raaihank/pii-redactor/internal/privacy"
)

// DetectPath is appended to the configured endpoint
const DetectPath = "/detect-pii"

// ErrUnexpectedStatus is wrapped when the detection service answers with a non-2xx status
var ErrUnexpectedStatus = errors.New("unexpected detector status")

// Client calls an external detection service that speaks the
// DetectPiiEntities request/response shape. It never retries; pacing keeps
// outbound calls under the service's throughput quota.
type Client struct {
	url     string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	logger  *logger.Logger
}

type detectRequest struct {
	Text         string `json:"Text"`
	LanguageCode string `json:"LanguageCode"`
}

type detectResponse struct {
	Entities []privacy.Entity `json:"Entities"`
}

// NewClient creates a client for cfg.Endpoint
func NewClient(cfg config.DetectorConfig, log *logger.Logger) *Client {
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Client{
		url:     strings.TrimRight(cfg.Endpoint, "/") + DetectPath,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		logger:  log,
	}
}

// Detect sends text to the detection service and returns its entities as reported
func (c *Client) Detect(ctx context.Context, text, languageCode string) (privacy.DetectionResult, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("detector pacing: %w", err)
		}
	}

	body, err := json.Marshal(detectRequest{Text: text, LanguageCode: languageCode})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal detect request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create detect request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detect request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: %d: %s", ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var result detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode detect response: %w", err)
	}

	c.logger.Debug("Detector call completed",
		zap.Int("entities", len(result.Entities)),
		zap.Int("text_bytes", len(text)),
		zap.Duration("duration", time.Since(start)),
	)

	if result.Entities == nil {
		return privacy.DetectionResult{}, nil
	}
	return privacy.DetectionResult(result.Entities), nil
}

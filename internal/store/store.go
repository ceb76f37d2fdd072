// Package store persists audit records. Every adapter treats Put as an
// idempotent upsert keyed by the record id and is safe for concurrent use.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/raaihank/pii-redactor/internal/config"
	"github.com/raaihank/pii-redactor/internal/logger"
)

// ErrNotFound is returned when no record has the requested id
var ErrNotFound = errors.New("record not found")

// AuditRecord is the durable trace of one accepted request. It is never
// mutated after assembly.
type AuditRecord struct {
	ID                   string    `json:"id"`
	OriginalContent      string    `json:"originalContent"`
	DetectedDescriptions []string  `json:"detectedPiiEntities"`
	RedactedContent      string    `json:"redactedContent"`
	MessageLength        int       `json:"messageLength"`
	CreationDate         time.Time `json:"creationDate"`
}

// Writer durably stores one record per request
type Writer interface {
	Put(ctx context.Context, record AuditRecord) error
}

// Lister returns stored records, newest first
type Lister interface {
	List(ctx context.Context) ([]AuditRecord, error)
}

// Store is the full set of operations every adapter provides
type Store interface {
	Writer
	Lister
	Get(ctx context.Context, id string) (AuditRecord, error)
	Close() error
}

// New opens the store selected by cfg.Driver
func New(cfg config.StorageConfig, log *logger.Logger) (Store, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemory(), nil
	case "postgres":
		return NewPostgres(cfg.Postgres, log.WithComponent("store"))
	case "redis":
		return NewRedis(cfg.Redis, log.WithComponent("store"))
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Driver)
	}
}

// sortNewestFirst orders records by creation date descending, ties by id
func sortNewestFirst(records []AuditRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].CreationDate.Equal(records[j].CreationDate) {
			return records[i].CreationDate.After(records[j].CreationDate)
		}
		return records[i].ID < records[j].ID
	})
}

func cloneRecord(r AuditRecord) AuditRecord {
	descriptions := make([]string, len(r.DetectedDescriptions))
	copy(descriptions, r.DetectedDescriptions)
	r.DetectedDescriptions = descriptions
	return r
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/raaihank/pii-redactor/internal/config"
	"github.com/raaihank/pii-redactor/internal/logger"
)

// Postgres stores records in a PostgreSQL table
type Postgres struct {
	db     *sqlx.DB
	table  string
	logger *logger.Logger
}

type noteRow struct {
	ID                  string         `db:"id"`
	OriginalContent     string         `db:"original_content"`
	DetectedPiiEntities pq.StringArray `db:"detected_pii_entities"`
	RedactedContent     string         `db:"redacted_content"`
	MessageLength       int            `db:"message_length"`
	CreationDate        time.Time      `db:"creation_date"`
}

func (r noteRow) record() AuditRecord {
	descriptions := []string(r.DetectedPiiEntities)
	if descriptions == nil {
		descriptions = []string{}
	}
	return AuditRecord{
		ID:                   r.ID,
		OriginalContent:      r.OriginalContent,
		DetectedDescriptions: descriptions,
		RedactedContent:      r.RedactedContent,
		MessageLength:        r.MessageLength,
		CreationDate:         r.CreationDate.UTC(),
	}
}

// NewPostgres connects to cfg.DatabaseURL, verifies the connection and
// creates the notes table when cfg.Migrate is set
func NewPostgres(cfg config.PostgresConfig, log *logger.Logger) (*Postgres, error) {
	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	store := NewPostgresFromDB(db, cfg.Table, log)

	if err := store.initialize(cfg.Migrate); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	log.Info("Postgres store initialized",
		zap.String("database_url", logger.MaskURL(cfg.DatabaseURL)),
		zap.String("table", cfg.Table),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns))

	return store, nil
}

// NewPostgresFromDB uses an existing connection. table must be a plain identifier.
func NewPostgresFromDB(db *sqlx.DB, table string, log *logger.Logger) *Postgres {
	return &Postgres{db: db, table: table, logger: log}
}

func (s *Postgres) initialize(migrate bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if !migrate {
		return nil
	}
	return s.Migrate(ctx)
}

// Migrate creates the notes table if it does not exist
func (s *Postgres) Migrate(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			original_content TEXT NOT NULL,
			detected_pii_entities TEXT[] NOT NULL DEFAULT '{}',
			redacted_content TEXT NOT NULL,
			message_length INTEGER NOT NULL,
			creation_date TIMESTAMPTZ NOT NULL
		)`, s.table)

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create %s table: %w", s.table, err)
	}

	s.logger.Debug("Notes table ready", zap.String("table", s.table))
	return nil
}

// Put implements Writer
func (s *Postgres) Put(ctx context.Context, record AuditRecord) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, original_content, detected_pii_entities, redacted_content, message_length, creation_date)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			original_content = EXCLUDED.original_content,
			detected_pii_entities = EXCLUDED.detected_pii_entities,
			redacted_content = EXCLUDED.redacted_content,
			message_length = EXCLUDED.message_length,
			creation_date = EXCLUDED.creation_date`, s.table)

	descriptions := record.DetectedDescriptions
	if descriptions == nil {
		descriptions = []string{}
	}

	_, err := s.db.ExecContext(ctx, query,
		record.ID,
		record.OriginalContent,
		pq.Array(descriptions),
		record.RedactedContent,
		record.MessageLength,
		record.CreationDate,
	)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}

	s.logger.Debug("Record stored", zap.String("id", record.ID))
	return nil
}

// Get returns the record with id
func (s *Postgres) Get(ctx context.Context, id string) (AuditRecord, error) {
	query := fmt.Sprintf(`
		SELECT id, original_content, detected_pii_entities, redacted_content, message_length, creation_date
		FROM %s WHERE id = $1`, s.table)

	var row noteRow
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AuditRecord{}, ErrNotFound
		}
		return AuditRecord{}, fmt.Errorf("failed to get record: %w", err)
	}
	return row.record(), nil
}

// List implements Lister
func (s *Postgres) List(ctx context.Context) ([]AuditRecord, error) {
	query := fmt.Sprintf(`
		SELECT id, original_content, detected_pii_entities, redacted_content, message_length, creation_date
		FROM %s ORDER BY creation_date DESC, id ASC`, s.table)

	var rows []noteRow
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	records := make([]AuditRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.record())
	}
	return records, nil
}

// Close closes the database connection
func (s *Postgres) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/virtual-tryon/internal/tryon"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "tryon_results"

// RecordStoreConfig controls the Postgres connection pool used for try-on records.
type RecordStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	AutoMigrate     bool
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Ping(context.Context) error
	Close()
}

// RecordStore writes try-on records into Postgres.
type RecordStore struct {
	pool  pool
	table string
}

// NewRecordStore creates a Postgres-backed RecordStore using the provided config.
func NewRecordStore(ctx context.Context, cfg RecordStoreConfig) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewRecordStoreWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			p.Close()
			return nil, err
		}
	}
	return store, nil
}

// NewRecordStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRecordStoreWithPool(p pool, table string) (*RecordStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RecordStore{pool: p, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity.
func (s *RecordStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the records table and its session index when missing.
func (s *RecordStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id              TEXT PRIMARY KEY,
	session_id      TEXT NOT NULL,
	person_image    TEXT NOT NULL,
	clothing_image  TEXT NOT NULL,
	result_image    TEXT NOT NULL,
	processing_time TEXT,
	garment_source  TEXT NOT NULL,
	garment_url     TEXT,
	blob_uris       JSONB NOT NULL DEFAULT '[]'::jsonb,
	created_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]s_session_idx ON %[1]s (session_id, created_at)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Save inserts a try-on record.
func (s *RecordStore) Save(ctx context.Context, record tryon.TryOnRecord) error {
	if record.ID == "" || record.SessionID == "" {
		return fmt.Errorf("record id and session id are required")
	}
	uris := record.BlobURIs
	if uris == nil {
		uris = []string{}
	}
	urisJSON, err := json.Marshal(uris)
	if err != nil {
		return fmt.Errorf("marshal blob uris: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	session_id,
	person_image,
	clothing_image,
	result_image,
	processing_time,
	garment_source,
	garment_url,
	blob_uris,
	created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)`, s.table)

	args := []any{
		record.ID,
		record.SessionID,
		record.PersonImage,
		record.ClothingImage,
		record.ResultImage,
		record.ProcessingTime,
		string(record.GarmentSource),
		record.GarmentURL,
		urisJSON,
		record.CreatedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert tryon record: %w", err)
	}
	return nil
}

// FindBySession returns up to limit records for a session, oldest first.
func (s *RecordStore) FindBySession(ctx context.Context, sessionID string, limit int) ([]tryon.TryOnRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`
SELECT
	id,
	session_id,
	person_image,
	clothing_image,
	result_image,
	COALESCE(processing_time, ''),
	garment_source,
	COALESCE(garment_url, ''),
	blob_uris,
	created_at
FROM %s
WHERE session_id = $1
ORDER BY created_at ASC
LIMIT $2`, s.table)

	rows, err := s.pool.Query(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query tryon records: %w", err)
	}
	defer rows.Close()

	var out []tryon.TryOnRecord
	for rows.Next() {
		var (
			rec      tryon.TryOnRecord
			source   string
			urisJSON []byte
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.SessionID,
			&rec.PersonImage,
			&rec.ClothingImage,
			&rec.ResultImage,
			&rec.ProcessingTime,
			&source,
			&rec.GarmentURL,
			&urisJSON,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan tryon record: %w", err)
		}
		rec.GarmentSource = tryon.GarmentSource(source)
		if len(urisJSON) > 0 {
			if err := json.Unmarshal(urisJSON, &rec.BlobURIs); err != nil {
				return nil, fmt.Errorf("decode blob uris: %w", err)
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tryon records: %w", err)
	}
	return out, nil
}

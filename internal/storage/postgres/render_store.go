// Package postgres persists render audit rows in Postgres.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/screenshot-service/internal/events"
)

const defaultTable = "render_records"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// RenderStoreConfig controls the Postgres connection pool used for render rows.
type RenderStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// RenderStore writes one row per render outcome. Image bytes are never stored.
type RenderStore struct {
	pool  execCloser
	query string
}

// NewRenderStore connects a pool using cfg.
func NewRenderStore(ctx context.Context, cfg RenderStoreConfig) (*RenderStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("events.db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RenderStore{pool: pool, query: insertQuery(table)}, nil
}

// NewRenderStoreWithPool constructs a store from an existing pool.
func NewRenderStoreWithPool(pool execCloser, table string) (*RenderStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &RenderStore{pool: pool, query: insertQuery(name)}, nil
}

// RecordRenders inserts every render event in batch. Non-render events are skipped.
func (s *RenderStore) RecordRenders(ctx context.Context, batch []events.Event) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("render store is not configured")
	}
	for _, evt := range batch {
		if !evt.IsRender() {
			continue
		}
		_, err := s.pool.Exec(ctx, s.query,
			evt.ID,
			evt.TS,
			string(evt.Stage),
			evt.Site,
			evt.URL,
			evt.Status,
			evt.Bytes,
			evt.Dur.Milliseconds(),
			evt.Kind,
			evt.Note,
		)
		if err != nil {
			return fmt.Errorf("insert render %s: %w", evt.ID, err)
		}
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *RenderStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

func insertQuery(table string) string {
	return fmt.Sprintf(`
INSERT INTO %s (
	request_id,
	recorded_at,
	stage,
	site,
	url,
	status,
	bytes,
	duration_ms,
	kind,
	note
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)`, table)
}

// Package postgres implements a snapshot archive in a Postgres table.
package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"objectcore/internal/archive/core"
)

const (
	defaultDriver = "pgx"
	// DefaultDSN is used when NewStore receives an empty DSN.
	DefaultDSN = "postgres://localhost/objectcore?sslmode=disable"
)

// The payload column is JSON rather than JSONB so the stored document keeps
// its exact bytes and key order.
const schema = `CREATE TABLE IF NOT EXISTS snapshots (
	name TEXT PRIMARY KEY,
	payload JSON NOT NULL,
	size BIGINT NOT NULL,
	etag TEXT NOT NULL,
	object_count INTEGER NOT NULL,
	content_type TEXT NOT NULL,
	metadata JSONB,
	created_at TIMESTAMPTZ NOT NULL
)`

const infoColumns = `name, size, etag, object_count, content_type, metadata, created_at`

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store implements core.Archive on Postgres.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore connects to dsn and ensures the snapshots table exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("ensure snapshots table: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Driver returns the archive driver identifier.
func (s *Store) Driver() core.Driver { return core.DriverPostgres }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Put inserts a new snapshot row.
func (s *Store) Put(ctx context.Context, name string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	if err := core.ValidateName(name); err != nil {
		return core.Info{}, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return core.Info{}, err
	}
	info := core.NewInfo(name, data, opts, s.now())
	var md []byte
	if len(info.Metadata) > 0 {
		if md, err = json.Marshal(info.Metadata); err != nil {
			return core.Info{}, err
		}
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots(name, payload, size, etag, object_count, content_type, metadata, created_at) VALUES($1,$2,$3,$4,$5,$6,$7,$8) ON CONFLICT(name) DO NOTHING`,
		info.Name, data, info.Size, info.ETag, info.ObjectCount, info.ContentType, md, info.CreatedAt)
	if err != nil {
		return core.Info{}, fmt.Errorf("insert snapshot %s: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.Info{}, core.Exists(name)
	}
	return info, nil
}

// Get reads a snapshot row including its payload.
func (s *Store) Get(ctx context.Context, name string) (core.Info, io.ReadCloser, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+infoColumns+`, payload FROM snapshots WHERE name = $1`, name)
	var payload []byte
	info, err := scanInfo(row, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Info{}, nil, core.NotFound(name)
	}
	if err != nil {
		return core.Info{}, nil, err
	}
	return info, io.NopCloser(bytes.NewReader(payload)), nil
}

// Head reads a snapshot row without its payload.
func (s *Store) Head(ctx context.Context, name string) (core.Info, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+infoColumns+` FROM snapshots WHERE name = $1`, name)
	info, err := scanInfo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Info{}, core.NotFound(name)
	}
	return info, err
}

// Delete removes a snapshot row.
func (s *Store) Delete(ctx context.Context, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE name = $1`, name)
	if err != nil {
		return false, fmt.Errorf("delete snapshot %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// List returns the snapshots whose name starts with prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]core.Info, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+infoColumns+` FROM snapshots WHERE name LIKE $1 ESCAPE '\' ORDER BY name`, likePrefix(prefix))
	if err != nil {
		return nil, fmt.Errorf("select snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var infos []core.Info
	for rows.Next() {
		info, err := scanInfo(rows)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return infos, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInfo(row scanner, extra ...any) (core.Info, error) {
	var (
		info core.Info
		md   []byte
	)
	dest := append([]any{&info.Name, &info.Size, &info.ETag, &info.ObjectCount, &info.ContentType, &md, &info.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return core.Info{}, err
	}
	info.CreatedAt = info.CreatedAt.UTC()
	if len(md) > 0 {
		if err := json.Unmarshal(md, &info.Metadata); err != nil {
			return core.Info{}, fmt.Errorf("decode metadata of %s: %w", info.Name, err)
		}
	}
	return info, nil
}

func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}

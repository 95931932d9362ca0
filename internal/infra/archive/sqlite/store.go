// Package sqlite implements a snapshot archive in a single SQLite table.
package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"objectcore/internal/archive/core"
)

// DefaultPath is used when NewStore receives an empty path.
const DefaultPath = "objectcore.db"

const schema = `CREATE TABLE IF NOT EXISTS snapshots (
	name TEXT PRIMARY KEY,
	payload BLOB NOT NULL,
	size INTEGER NOT NULL,
	etag TEXT NOT NULL,
	object_count INTEGER NOT NULL,
	content_type TEXT NOT NULL,
	metadata TEXT,
	created_at TEXT NOT NULL
)`

const infoColumns = `name, size, etag, object_count, content_type, metadata, created_at`

// Store implements core.Archive on SQLite.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// NewStore opens (creating if needed) the database at path.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create snapshots table: %w", err)
	}
	return &Store{db: db, path: path, now: time.Now}, nil
}

// Driver returns the archive driver identifier.
func (s *Store) Driver() core.Driver { return core.DriverSQLite }

// DB exposes the underlying sql.DB for tests.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the database path.
func (s *Store) Path() string { return s.path }

// Close closes the database.
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
	md, err := encodeMetadata(info.Metadata)
	if err != nil {
		return core.Info{}, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots(name, payload, size, etag, object_count, content_type, metadata, created_at) VALUES(?,?,?,?,?,?,?,?) ON CONFLICT(name) DO NOTHING`,
		info.Name, data, info.Size, info.ETag, info.ObjectCount, info.ContentType, md, info.CreatedAt.Format(time.RFC3339Nano))
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
	row := s.db.QueryRowContext(ctx, `SELECT `+infoColumns+`, payload FROM snapshots WHERE name = ?`, name)
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
	row := s.db.QueryRowContext(ctx, `SELECT `+infoColumns+` FROM snapshots WHERE name = ?`, name)
	info, err := scanInfo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Info{}, core.NotFound(name)
	}
	return info, err
}

// Delete removes a snapshot row.
func (s *Store) Delete(ctx context.Context, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE name = ?`, name)
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
	rows, err := s.db.QueryContext(ctx, `SELECT `+infoColumns+` FROM snapshots WHERE name LIKE ? ESCAPE '\' ORDER BY name`, likePrefix(prefix))
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
		info      core.Info
		md        sql.NullString
		createdAt string
	)
	dest := append([]any{&info.Name, &info.Size, &info.ETag, &info.ObjectCount, &info.ContentType, &md, &createdAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return core.Info{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return core.Info{}, fmt.Errorf("decode created_at of %s: %w", info.Name, err)
	}
	info.CreatedAt = ts
	if md.Valid && md.String != "" {
		if err := json.Unmarshal([]byte(md.String), &info.Metadata); err != nil {
			return core.Info{}, fmt.Errorf("decode metadata of %s: %w", info.Name, err)
		}
	}
	return info, nil
}

func encodeMetadata(md map[string]string) (sql.NullString, error) {
	if len(md) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(md)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}

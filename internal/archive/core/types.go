// Package core defines the snapshot archive abstraction shared by the archive
// drivers and the checkpoint service.
package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Driver identifies an archive backend.
type Driver string

const (
	// DriverMemory keeps snapshots in process memory (tests).
	DriverMemory Driver = "memory"
	// DriverFilesystem writes snapshots under a local directory (default).
	DriverFilesystem Driver = "fs"
	// DriverS3 stores snapshots in an S3 / MinIO compatible bucket.
	DriverS3 Driver = "s3"
	// DriverSQLite stores snapshots in a SQLite database file.
	DriverSQLite Driver = "sqlite"
	// DriverPostgres stores snapshots in a Postgres table.
	DriverPostgres Driver = "postgres"
	// DriverRedis stores snapshots as Redis hashes.
	DriverRedis Driver = "redis"
)

// ContentTypeJSON is the content type of every archived document.
const ContentTypeJSON = "application/json"

// PutOptions carries the metadata recorded alongside a document.
type PutOptions struct {
	ObjectCount int
	Metadata    map[string]string
}

// Info describes an archived snapshot.
type Info struct {
	Name        string            `json:"name"`
	Size        int64             `json:"size_bytes"`
	ContentType string            `json:"content_type"`
	ETag        string            `json:"etag,omitempty"`
	ObjectCount int               `json:"object_count"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Archive stores named wire documents. Put is create-only.
type Archive interface {
	Put(ctx context.Context, name string, r io.Reader, opts PutOptions) (Info, error)
	Get(ctx context.Context, name string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, name string) (Info, error)
	Delete(ctx context.Context, name string) (bool, error)
	List(ctx context.Context, prefix string) ([]Info, error)
	Driver() Driver
}

var (
	// ErrNotFound is returned by Get and Head for unknown snapshot names.
	ErrNotFound = errors.New("archive: snapshot not found")
	// ErrExists is returned by Put when the name is taken.
	ErrExists = errors.New("archive: snapshot already exists")
	// ErrInvalidName is returned for empty or path-escaping names.
	ErrInvalidName = errors.New("archive: invalid snapshot name")
)

// NotFound wraps ErrNotFound with the snapshot name.
func NotFound(name string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Exists wraps ErrExists with the snapshot name.
func Exists(name string) error {
	return fmt.Errorf("%w: %s", ErrExists, name)
}

// ValidateName rejects names that are empty or could escape a key space.
func ValidateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: empty name", ErrInvalidName)
	case strings.Contains(name, ".."):
		return fmt.Errorf("%w: %q contains '..'", ErrInvalidName, name)
	case strings.HasPrefix(name, "/"):
		return fmt.Errorf("%w: %q is absolute", ErrInvalidName, name)
	case strings.ContainsAny(name, "\\\x00"):
		return fmt.Errorf("%w: %q contains a forbidden character", ErrInvalidName, name)
	}
	return nil
}

// ETag returns the hex SHA-256 of a document.
func ETag(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// NewInfo builds the Info recorded for a freshly stored document.
func NewInfo(name string, data []byte, opts PutOptions, now time.Time) Info {
	return Info{
		Name:        name,
		Size:        int64(len(data)),
		ContentType: ContentTypeJSON,
		ETag:        ETag(data),
		ObjectCount: opts.ObjectCount,
		Metadata:    CloneMetadata(opts.Metadata),
		CreatedAt:   now.UTC(),
	}
}

// CloneMetadata copies a metadata map; nil stays nil.
func CloneMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Package redis implements a snapshot archive on Redis: one hash per
// snapshot plus a sorted-set name index for prefix listing.
package redis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"objectcore/internal/archive/core"
)

// Options configures the Redis connection.
type Options struct {
	// URL is the connection string, e.g. "redis://localhost:6379/0".
	URL string `yaml:"url"`
	// KeyPrefix namespaces every key written by the archive.
	KeyPrefix      string        `yaml:"key_prefix"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// DefaultKeyPrefix is used when Options.KeyPrefix is empty.
const DefaultKeyPrefix = "objectcore:"

const (
	fieldName        = "name"
	fieldPayload     = "payload"
	fieldSize        = "size"
	fieldETag        = "etag"
	fieldObjectCount = "object_count"
	fieldContentType = "content_type"
	fieldMetadata    = "metadata"
	fieldCreatedAt   = "created_at"
)

var infoFields = []string{fieldName, fieldSize, fieldETag, fieldObjectCount, fieldContentType, fieldMetadata, fieldCreatedAt}

// Store implements core.Archive on Redis.
type Store struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// New connects using opts and verifies the connection with PING.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	redisOpts.DialTimeout = opts.ConnectTimeout
	client := redis.NewClient(redisOpts)

	pingCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewWithClient(client, opts.KeyPrefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, keyPrefix string) *Store {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &Store{client: client, prefix: keyPrefix, now: time.Now}
}

// Driver returns the archive driver identifier.
func (s *Store) Driver() core.Driver { return core.DriverRedis }

// Close closes the client.
func (s *Store) Close() error { return s.client.Close() }

func (s *Store) docKey(name string) string { return s.prefix + "snapshot:" + name }
func (s *Store) indexKey() string          { return s.prefix + "snapshots" }

// Put writes the snapshot hash and its index entry in one MULTI under WATCH.
// A hash without a payload is left over from an interrupted write and is
// overwritten.
func (s *Store) Put(ctx context.Context, name string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	if err := core.ValidateName(name); err != nil {
		return core.Info{}, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return core.Info{}, err
	}
	info := core.NewInfo(name, data, opts, s.now())
	md, err := json.Marshal(info.Metadata)
	if err != nil {
		return core.Info{}, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	key := s.docKey(name)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		taken, err := tx.HExists(ctx, key, fieldPayload).Result()
		if err != nil {
			return err
		}
		if taken {
			return core.Exists(name)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.HSet(ctx, key,
				fieldName, name,
				fieldPayload, data,
				fieldSize, strconv.FormatInt(info.Size, 10),
				fieldETag, info.ETag,
				fieldObjectCount, strconv.Itoa(info.ObjectCount),
				fieldContentType, info.ContentType,
				fieldMetadata, string(md),
				fieldCreatedAt, info.CreatedAt.Format(time.RFC3339Nano),
			)
			pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: 0, Member: name})
			return nil
		})
		return err
	}, key)
	switch {
	case err == nil:
		return info, nil
	case errors.Is(err, core.ErrExists):
		return core.Info{}, err
	case errors.Is(err, redis.TxFailedErr):
		return core.Info{}, core.Exists(name)
	default:
		return core.Info{}, fmt.Errorf("failed to write snapshot %s: %w", name, err)
	}
}

// Get reads a snapshot hash including its payload.
func (s *Store) Get(ctx context.Context, name string) (core.Info, io.ReadCloser, error) {
	values, err := s.client.HGetAll(ctx, s.docKey(name)).Result()
	if err != nil {
		return core.Info{}, nil, fmt.Errorf("failed to read snapshot %s: %w", name, err)
	}
	if _, ok := values[fieldPayload]; !ok {
		return core.Info{}, nil, core.NotFound(name)
	}
	info, err := decodeInfo(values)
	if err != nil {
		return core.Info{}, nil, err
	}
	return info, io.NopCloser(bytes.NewReader([]byte(values[fieldPayload]))), nil
}

// Head reads a snapshot hash without its payload.
func (s *Store) Head(ctx context.Context, name string) (core.Info, error) {
	vals, err := s.client.HMGet(ctx, s.docKey(name), infoFields...).Result()
	if err != nil {
		return core.Info{}, fmt.Errorf("failed to read snapshot %s: %w", name, err)
	}
	values := make(map[string]string, len(infoFields))
	for i, field := range infoFields {
		if str, ok := vals[i].(string); ok {
			values[field] = str
		}
	}
	if _, ok := values[fieldCreatedAt]; !ok {
		return core.Info{}, core.NotFound(name)
	}
	return decodeInfo(values)
}

// Delete removes the hash and its index entry.
func (s *Store) Delete(ctx context.Context, name string) (bool, error) {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.docKey(name))
		pipe.ZRem(ctx, s.indexKey(), name)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete snapshot %s: %w", name, err)
	}
	return del.Val() > 0, nil
}

// List reads the index lexicographically from prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]core.Info, error) {
	by := &redis.ZRangeBy{Min: "-", Max: "+"}
	if prefix != "" {
		by = &redis.ZRangeBy{Min: "[" + prefix, Max: "[" + prefix + "\xff"}
	}
	names, err := s.client.ZRangeByLex(ctx, s.indexKey(), by).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	infos := make([]core.Info, 0, len(names))
	for _, name := range names {
		info, err := s.Head(ctx, name)
		if errors.Is(err, core.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func decodeInfo(values map[string]string) (core.Info, error) {
	info := core.Info{
		Name:        values[fieldName],
		ETag:        values[fieldETag],
		ContentType: values[fieldContentType],
	}
	var err error
	if info.Size, err = strconv.ParseInt(values[fieldSize], 10, 64); err != nil {
		return core.Info{}, fmt.Errorf("decode size of %s: %w", info.Name, err)
	}
	if info.ObjectCount, err = strconv.Atoi(values[fieldObjectCount]); err != nil {
		return core.Info{}, fmt.Errorf("decode object count of %s: %w", info.Name, err)
	}
	if info.CreatedAt, err = time.Parse(time.RFC3339Nano, values[fieldCreatedAt]); err != nil {
		return core.Info{}, fmt.Errorf("decode created_at of %s: %w", info.Name, err)
	}
	if md := values[fieldMetadata]; md != "" && md != "null" {
		if err := json.Unmarshal([]byte(md), &info.Metadata); err != nil {
			return core.Info{}, fmt.Errorf("decode metadata of %s: %w", info.Name, err)
		}
	}
	return info, nil
}

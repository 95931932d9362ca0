// Package s3 implements a snapshot archive on an S3-compatible bucket (AWS
// S3 or MinIO).
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"objectcore/internal/archive/core"
)

// Reserved user-metadata keys. S3 lowercases metadata keys on the way back.
const (
	metaObjectCount = "objectcore-object-count"
	metaCreatedAt   = "objectcore-created-at"
	metaSHA256      = "objectcore-sha256"
)

// Config holds the bucket coordinates.
type Config struct {
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`   // optional key prefix inside the bucket
	Endpoint        string `yaml:"endpoint"` // optional; e.g. MinIO
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"-"` // optional; default credential chain otherwise
	SecretAccessKey string `yaml:"-"`
	SessionToken    string `yaml:"-"`
}

// Store implements core.Archive on one bucket.
type Store struct {
	client *s3.Client
	bucket string
	prefix string
	now    func() time.Time
}

// New builds an S3 archive from cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *s3.Client, bucket, prefix string) *Store {
	return &Store{client: client, bucket: bucket, prefix: prefix, now: time.Now}
}

// Driver returns the archive driver identifier.
func (s *Store) Driver() core.Driver { return core.DriverS3 }

func (s *Store) key(name string) string { return s.prefix + name }

// Put uploads a new document. Existence is checked with a Head first and
// enforced server-side with If-None-Match.
func (s *Store) Put(ctx context.Context, name string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	if err := core.ValidateName(name); err != nil {
		return core.Info{}, err
	}
	key := s.key(name)
	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: &key}); err == nil {
		return core.Info{}, core.Exists(name)
	} else if !isStatus(err, http.StatusNotFound) {
		return core.Info{}, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return core.Info{}, err
	}
	info := core.NewInfo(name, data, opts, s.now())
	md := core.CloneMetadata(opts.Metadata)
	if md == nil {
		md = make(map[string]string, 3)
	}
	md[metaObjectCount] = strconv.Itoa(info.ObjectCount)
	md[metaCreatedAt] = info.CreatedAt.Format(time.RFC3339Nano)
	md[metaSHA256] = info.ETag
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &s.bucket,
		Key:           &key,
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(core.ContentTypeJSON),
		Metadata:      md,
		IfNoneMatch:   aws.String("*"),
	})
	if err != nil {
		if isStatus(err, http.StatusPreconditionFailed) {
			return core.Info{}, core.Exists(name)
		}
		return core.Info{}, err
	}
	return info, nil
}

// Get downloads a document.
func (s *Store) Get(ctx context.Context, name string) (core.Info, io.ReadCloser, error) {
	key := s.key(name)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return core.Info{}, nil, core.NotFound(name)
		}
		return core.Info{}, nil, err
	}
	return s.info(name, aws.ToInt64(out.ContentLength), out.Metadata, out.LastModified), out.Body, nil
}

// Head reads document metadata.
func (s *Store) Head(ctx context.Context, name string) (core.Info, error) {
	key := s.key(name)
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return core.Info{}, core.NotFound(name)
		}
		return core.Info{}, err
	}
	return s.info(name, aws.ToInt64(out.ContentLength), out.Metadata, out.LastModified), nil
}

// Delete removes a document. S3 deletes are idempotent, so existence is
// checked first.
func (s *Store) Delete(ctx context.Context, name string) (bool, error) {
	if _, err := s.Head(ctx, name); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	key := s.key(name)
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &s.bucket, Key: &key}); err != nil {
		return false, err
	}
	return true, nil
}

// List pages through the bucket and heads every matching document.
func (s *Store) List(ctx context.Context, prefix string) ([]core.Info, error) {
	full := s.key(prefix)
	var names []string
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{Bucket: &s.bucket, Prefix: &full, ContinuationToken: token})
		if err != nil {
			return nil, err
		}
		for _, obj := range out.Contents {
			names = append(names, strings.TrimPrefix(aws.ToString(obj.Key), s.prefix))
		}
		if aws.ToBool(out.IsTruncated) && out.NextContinuationToken != nil {
			token = out.NextContinuationToken
			continue
		}
		break
	}
	sort.Strings(names)
	infos := make([]core.Info, 0, len(names))
	for _, name := range names {
		info, err := s.Head(ctx, name)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (s *Store) info(name string, size int64, md map[string]string, lastModified *time.Time) core.Info {
	info := core.Info{Name: name, Size: size, ContentType: core.ContentTypeJSON}
	user := make(map[string]string, len(md))
	for k, v := range md {
		switch strings.ToLower(k) {
		case metaObjectCount:
			info.ObjectCount, _ = strconv.Atoi(v)
		case metaCreatedAt:
			info.CreatedAt, _ = time.Parse(time.RFC3339Nano, v)
		case metaSHA256:
			info.ETag = v
		default:
			user[strings.ToLower(k)] = v
		}
	}
	if len(user) > 0 {
		info.Metadata = user
	}
	if info.CreatedAt.IsZero() && lastModified != nil {
		info.CreatedAt = lastModified.UTC()
	}
	return info
}

// isStatus reports whether err carries the given HTTP response status.
func isStatus(err error, code int) bool {
	var re interface{ HTTPStatusCode() int }
	return errors.As(err, &re) && re.HTTPStatusCode() == code
}

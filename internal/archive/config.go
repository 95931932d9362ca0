package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"objectcore/internal/infra/archive/fs"
	"objectcore/internal/infra/archive/memory"
	"objectcore/internal/infra/archive/postgres"
	"objectcore/internal/infra/archive/redis"
	"objectcore/internal/infra/archive/s3"
	"objectcore/internal/infra/archive/sqlite"
)

// Environment variables read by ConfigFromEnv.
const (
	EnvDriver      = "OBJECTCORE_ARCHIVE_DRIVER"
	EnvFSRoot      = "OBJECTCORE_ARCHIVE_FS_ROOT"
	EnvSQLitePath  = "OBJECTCORE_ARCHIVE_SQLITE_PATH"
	EnvPostgresDSN = "OBJECTCORE_ARCHIVE_POSTGRES_DSN"
	EnvRedisURL    = "OBJECTCORE_ARCHIVE_REDIS_URL"
	EnvS3Bucket    = "OBJECTCORE_ARCHIVE_S3_BUCKET"
	EnvS3Region    = "OBJECTCORE_ARCHIVE_S3_REGION"
	EnvS3Endpoint  = "OBJECTCORE_ARCHIVE_S3_ENDPOINT"
	EnvS3PathStyle = "OBJECTCORE_ARCHIVE_S3_PATH_STYLE"
)

// Config selects and configures an archive driver.
type Config struct {
	Driver      Driver        `yaml:"driver"`
	FSRoot      string        `yaml:"fs_root"`
	SQLitePath  string        `yaml:"sqlite_path"`
	PostgresDSN string        `yaml:"postgres_dsn"`
	Redis       redis.Options `yaml:"redis"`
	S3          s3.Config     `yaml:"s3"`
}

type fileConfig struct {
	Archive Config `yaml:"archive"`
}

// ConfigFromEnv reads the OBJECTCORE_ARCHIVE_* variables. The driver
// defaults to fs.
func ConfigFromEnv() Config {
	cfg := Config{
		Driver:      Driver(os.Getenv(EnvDriver)),
		FSRoot:      os.Getenv(EnvFSRoot),
		SQLitePath:  os.Getenv(EnvSQLitePath),
		PostgresDSN: os.Getenv(EnvPostgresDSN),
		Redis:       redis.Options{URL: os.Getenv(EnvRedisURL)},
		S3: s3.Config{
			Bucket:          os.Getenv(EnvS3Bucket),
			Region:          os.Getenv(EnvS3Region),
			Endpoint:        os.Getenv(EnvS3Endpoint),
			PathStyle:       strings.EqualFold(os.Getenv(EnvS3PathStyle), "true"),
			AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
			SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
		},
	}
	if cfg.Driver == "" {
		cfg.Driver = DriverFilesystem
	}
	return cfg
}

// LoadConfig reads the "archive" section of a YAML file.
func LoadConfig(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open archive config: %w", err)
	}
	defer func() { _ = f.Close() }()
	return DecodeConfig(f)
}

// DecodeConfig decodes the "archive" section of a YAML document. Unknown
// keys are rejected.
func DecodeConfig(r io.Reader) (Config, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var fc fileConfig
	if err := dec.Decode(&fc); err != nil && err != io.EOF {
		return Config{}, fmt.Errorf("decode archive config: %w", err)
	}
	if fc.Archive.Driver == "" {
		fc.Archive.Driver = DriverFilesystem
	}
	return fc.Archive, nil
}

// Open constructs the archive selected by cfg.
func Open(ctx context.Context, cfg Config) (Archive, error) {
	switch cfg.Driver {
	case "", DriverFilesystem:
		return fs.New(cfg.FSRoot)
	case DriverMemory:
		return memory.New(), nil
	case DriverS3:
		if cfg.S3.Bucket == "" {
			return nil, fmt.Errorf("%s required for s3 driver", EnvS3Bucket)
		}
		return s3.New(ctx, cfg.S3)
	case DriverSQLite:
		return sqlite.NewStore(cfg.SQLitePath)
	case DriverPostgres:
		return postgres.NewStore(ctx, cfg.PostgresDSN)
	case DriverRedis:
		return redis.New(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown archive driver %s", cfg.Driver)
	}
}

// OpenFromEnv is Open(ctx, ConfigFromEnv()).
func OpenFromEnv(ctx context.Context) (Archive, error) {
	return Open(ctx, ConfigFromEnv())
}

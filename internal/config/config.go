// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Storage modes accepted by STORAGE_MODE.
const (
	StorageLocal    = "local"
	StoragePostgres = "postgres"
	StorageS3       = "s3"
	StorageMemory   = "memory"
)

const mb = 1024 * 1024

// ConfigurationError reports an invalid or missing setting. It is fatal at startup.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Key, e.Reason)
}

// Config holds all server configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Transport
	Token       string
	Channels    []string
	DiscordHost string

	// Chunking
	ChunkSize int64
	MaxAtomic int64

	// Retry and concurrency
	UploadAttempts      int
	UploadBackoff       time.Duration
	BackoffCoefficient  float64
	TransportTimeout    time.Duration
	TransferConcurrency int
	FileConcurrency     int

	// Storage of virtual directories ("local", "postgres", "s3" or "memory")
	StorageMode    string
	LocalStorePath string
	DatabaseURL    string

	// S3 storage
	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3UseSSL    bool

	// Auth (optional - bearer tokens are only enforced when JWTSecret is set)
	JWTSecret       string
	DefaultUser     string
	DefaultPassword string

	// Uploads and downloads
	MaxUploadSize int64
	ArchiveDir    string
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	var errs []error
	record := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	chunkMB, err := envIntStrict("CHUNK_SIZE_MB", 5)
	record(err)
	atomicMB, err := envIntStrict("MAX_ATOMIC_MB", 24)
	record(err)
	coefficient, err := envFloatStrict("BACKOFF_COEFFICIENT", 1.5)
	record(err)

	cfg := &Config{
		ListenAddr:          envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr:         envOr("METRICS_ADDR", ":9090"),
		LogLevel:            envOr("LOG_LEVEL", "info"),
		LogFormat:           envOr("LOG_FORMAT", "json"),
		Token:               envOr("DSPACE_TOKEN", ""),
		Channels:            envList("DISCORD_CHANNELS"),
		DiscordHost:         envOr("DISCORD_HOST", "discord.com"),
		ChunkSize:           int64(chunkMB) * mb,
		MaxAtomic:           int64(atomicMB) * mb,
		UploadAttempts:      envInt("UPLOAD_ATTEMPTS", 5),
		UploadBackoff:       envDuration("UPLOAD_BACKOFF", time.Second),
		BackoffCoefficient:  coefficient,
		TransportTimeout:    envDuration("TRANSPORT_TIMEOUT", 50*time.Second),
		TransferConcurrency: envInt("TRANSFER_CONCURRENCY", 4),
		FileConcurrency:     envInt("FILE_CONCURRENCY", 4),
		StorageMode:         strings.ToLower(envOr("STORAGE_MODE", StorageLocal)),
		LocalStorePath:      envOr("LOCAL_STORE_PATH", "./data"),
		DatabaseURL:         envOr("DATABASE_URL", ""),
		S3Endpoint:          envOr("S3_ENDPOINT", "http://localhost:9000"),
		S3Bucket:            envOr("S3_BUCKET", "dspace"),
		S3AccessKey:         envOr("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:         envOr("S3_SECRET_KEY", "minioadmin"),
		S3Region:            envOr("S3_REGION", "us-east-1"),
		S3UseSSL:            envBool("S3_USE_SSL", false),
		JWTSecret:           envOr("JWT_SECRET", ""),
		DefaultUser:         envOr("DEFAULT_USER", "default"),
		DefaultPassword:     envOr("DEFAULT_PASSWORD", ""),
		MaxUploadSize:       envInt64("MAX_UPLOAD_SIZE", 512*mb),
		ArchiveDir:          envOr("ARCHIVE_DIR", ""),
	}

	if len(errs) > 0 {
		return nil, errs[0]
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the cross-field constraints of a configuration.
func (c *Config) Validate() error {
	if c.Token == "" {
		return &ConfigurationError{Key: "DSPACE_TOKEN", Reason: "is required"}
	}
	if len(c.Channels) == 0 {
		return &ConfigurationError{Key: "DISCORD_CHANNELS", Reason: "at least one channel id is required"}
	}
	if c.ChunkSize <= 0 {
		return &ConfigurationError{Key: "CHUNK_SIZE_MB", Reason: "must be positive"}
	}
	if c.ChunkSize >= c.MaxAtomic {
		return &ConfigurationError{Key: "CHUNK_SIZE_MB", Reason: "must be smaller than MAX_ATOMIC_MB"}
	}
	if c.UploadAttempts < 1 {
		return &ConfigurationError{Key: "UPLOAD_ATTEMPTS", Reason: "must be at least 1"}
	}
	if c.BackoffCoefficient < 1 {
		return &ConfigurationError{Key: "BACKOFF_COEFFICIENT", Reason: "must be at least 1"}
	}
	if c.TransferConcurrency < 1 || c.FileConcurrency < 1 {
		return &ConfigurationError{Key: "TRANSFER_CONCURRENCY", Reason: "concurrency limits must be at least 1"}
	}

	switch c.StorageMode {
	case StorageLocal, StorageMemory:
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return &ConfigurationError{Key: "DATABASE_URL", Reason: "is required in postgres mode"}
		}
	case StorageS3:
		if c.S3Bucket == "" {
			return &ConfigurationError{Key: "S3_BUCKET", Reason: "is required in s3 mode"}
		}
	default:
		return &ConfigurationError{Key: "STORAGE_MODE", Reason: fmt.Sprintf("unknown mode %q", c.StorageMode)}
	}

	if c.JWTSecret != "" && c.StorageMode != StoragePostgres {
		return &ConfigurationError{Key: "JWT_SECRET", Reason: "authentication requires postgres mode"}
	}
	return nil
}

// AuthEnabled reports whether requests must carry a bearer token.
func (c *Config) AuthEnabled() bool {
	return c.JWTSecret != ""
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// envIntStrict is envInt but reports malformed values instead of falling back.
func envIntStrict(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, &ConfigurationError{Key: key, Reason: fmt.Sprintf("not an integer: %q", v)}
	}
	return i, nil
}

func envFloatStrict(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, &ConfigurationError{Key: key, Reason: fmt.Sprintf("not a number: %q", v)}
	}
	return f, nil
}

// Package factory opens the DirectoryStore selected by STORAGE_MODE.
package factory

import (
	"context"
	"fmt"

	"github.com/maazmalik2004/Dspace/internal/config"
	"github.com/maazmalik2004/Dspace/internal/store"
	"github.com/maazmalik2004/Dspace/internal/store/local"
	"github.com/maazmalik2004/Dspace/internal/store/postgres"
	s3store "github.com/maazmalik2004/Dspace/internal/store/s3"
)

// New creates the store for cfg.StorageMode. An unknown mode is a
// *config.ConfigurationError.
func New(ctx context.Context, cfg *config.Config) (store.DirectoryStore, error) {
	switch cfg.StorageMode {
	case config.StorageLocal:
		return local.New(local.Config{RootPath: cfg.LocalStorePath, CreateDirs: true})
	case config.StoragePostgres:
		return postgres.New(ctx, cfg.DatabaseURL)
	case config.StorageS3:
		return s3store.New(ctx, s3store.Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
		})
	case config.StorageMemory:
		return store.NewMemory(), nil
	default:
		return nil, &config.ConfigurationError{
			Key:    "STORAGE_MODE",
			Reason: fmt.Sprintf("unknown mode %q", cfg.StorageMode),
		}
	}
}

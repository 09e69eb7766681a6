package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrNotFound is returned by Get when no object exists at the key.
var ErrNotFound = errors.New("object not found")

// Storage defines the minimal interface for document storage backends.
type Storage interface {
	// Save stores an object at key.
	Save(ctx context.Context, key string, reader io.Reader, contentType string) error

	// Get opens the object at key. Callers must close the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes an object. Returns nil if it doesn't exist.
	Delete(ctx context.Context, key string) error

	// GetURL returns the public URL for a key.
	GetURL(key string) string
}

// Config selects and configures a backend.
type Config struct {
	Driver      string // local | s3
	LocalPath   string
	BaseURL     string
	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
}

// New builds the backend named by cfg.Driver.
func New(cfg Config) (Storage, error) {
	switch cfg.Driver {
	case "", "local":
		return NewLocalStorage(cfg.LocalPath, cfg.BaseURL)
	case "s3":
		return NewS3Storage(cfg)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

package blob

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when no object exists under the key.
var ErrNotFound = errors.New("blob not found")

// Metadata travels with the object.
type Metadata struct {
	ContentType string
	Attrs       map[string]string
}

// Store is a flat key/value object store.
type Store interface {
	Put(ctx context.Context, key string, data []byte, meta Metadata) error
	Get(ctx context.Context, key string) ([]byte, Metadata, error)
	Delete(ctx context.Context, key string) error
}

// Backend names accepted by Open.
const (
	BackendLocal = "local"
	BackendS3    = "s3"
	BackendGCS   = "gcs"
)

type Config struct {
	Backend string
	// Root is the directory for the local backend.
	Root     string
	Bucket   string
	Region   string
	Endpoint string
}

// Open builds the Store selected by cfg.Backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendLocal:
		if cfg.Root == "" {
			return nil, fmt.Errorf("local blob store requires a root directory")
		}
		return NewLocal(cfg.Root), nil
	case BackendS3:
		return NewS3(ctx, cfg)
	case BackendGCS:
		return NewGCS(ctx, cfg)
	}
	return nil, fmt.Errorf("unknown blob backend %q", cfg.Backend)
}

// Key returns the object key of a report's PDF.
func Key(ownerID, reportID string) string {
	return ownerID + "/" + reportID + ".pdf"
}

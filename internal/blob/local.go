package blob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const metaSuffix = ".meta.json"

// Local stores objects as files under Root with a JSON metadata sidecar.
type Local struct {
	Root string
}

func NewLocal(root string) *Local {
	return &Local{Root: root}
}

type sidecar struct {
	ContentType string            `json:"content_type"`
	Attrs       map[string]string `json:"attrs,omitempty"`
}

func (l *Local) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return filepath.Join(l.Root, clean), nil
}

func (l *Local) Put(_ context.Context, key string, data []byte, meta Metadata) error {
	abs, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("creating blob directory: %w", err)
	}
	metaJSON, err := json.Marshal(sidecar{ContentType: meta.ContentType, Attrs: meta.Attrs})
	if err != nil {
		return fmt.Errorf("encoding blob metadata: %w", err)
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		return fmt.Errorf("writing blob %s: %w", key, err)
	}
	if err := os.WriteFile(abs+metaSuffix, metaJSON, 0o644); err != nil {
		os.Remove(abs)
		return fmt.Errorf("writing blob metadata %s: %w", key, err)
	}
	return nil
}

func (l *Local) Get(_ context.Context, key string) ([]byte, Metadata, error) {
	abs, err := l.path(key)
	if err != nil {
		return nil, Metadata{}, err
	}
	data, err := os.ReadFile(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, Metadata{}, ErrNotFound
	}
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("reading blob %s: %w", key, err)
	}

	var meta Metadata
	if raw, err := os.ReadFile(abs + metaSuffix); err == nil {
		var sc sidecar
		if err := json.Unmarshal(raw, &sc); err != nil {
			return nil, Metadata{}, fmt.Errorf("decoding blob metadata %s: %w", key, err)
		}
		meta = Metadata{ContentType: sc.ContentType, Attrs: sc.Attrs}
	}
	return data, meta, nil
}

// Delete removes the object and its metadata. Deleting a missing key is not an error.
func (l *Local) Delete(_ context.Context, key string) error {
	abs, err := l.path(key)
	if err != nil {
		return err
	}
	for _, p := range []string{abs, abs + metaSuffix} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("deleting blob %s: %w", key, err)
		}
	}
	return nil
}

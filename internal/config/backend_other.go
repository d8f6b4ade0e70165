//go:build !darwin

package config

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
)

// xdgPath resolves $<env>/appraise/<name>, falling back to ~/<home...> when
// the variable is unset.
func xdgPath(env, name string, home ...string) string {
	dir := os.Getenv(env)
	if dir == "" {
		h, err := os.UserHomeDir()
		if err != nil {
			h = "."
		}
		dir = filepath.Join(append([]string{h}, home...)...)
	}
	return filepath.Join(dir, "appraise", name)
}

func defaultDataDir() string {
	return xdgPath("XDG_DATA_HOME", "", ".local", "share")
}

// fileBackend keeps settings as one flat JSON object at
// $XDG_CONFIG_HOME/appraise/config.json, rewritten on every change.
type fileBackend struct {
	path string
	data map[string]any
}

func newPlatformBackend() Backend {
	return newFileBackend(xdgPath("XDG_CONFIG_HOME", "config.json", ".config"))
}

func newFileBackend(path string) *fileBackend {
	b := &fileBackend{path: path, data: map[string]any{}}
	if err := readJSONFile(path, &b.data); err != nil {
		slog.Warn("ignoring unreadable config file, using defaults", "path", path, "error", err)
		b.data = map[string]any{}
	}
	return b
}

func (b *fileBackend) Lookup(key string, kind keyType) (any, bool, error) {
	raw, ok := b.data[key]
	if !ok || raw == nil {
		return nil, false, nil
	}

	switch v := raw.(type) {
	case string:
		parsed, err := parseValue(kind, v)
		if err != nil {
			return nil, true, fmt.Errorf("%s: %w", key, err)
		}
		return parsed, true, nil
	case float64:
		switch kind {
		case kInt:
			if v != math.Trunc(v) || v < math.MinInt32 || v > math.MaxInt32 {
				return nil, true, fmt.Errorf("%s: %v is not an integer in range", key, v)
			}
			return int(v), true, nil
		case kString:
			return strconv.FormatFloat(v, 'f', -1, 64), true, nil
		}
	case bool:
		switch kind {
		case kBool:
			return v, true, nil
		case kString:
			return strconv.FormatBool(v), true, nil
		}
	}
	return nil, true, fmt.Errorf("%s: unexpected %T value in %s", key, raw, b.path)
}

func (b *fileBackend) Store(key string, v any) error {
	b.data[key] = v
	return writeJSONFile(b.path, b.data)
}

func (b *fileBackend) Delete(key string) error {
	delete(b.data, key)
	return writeJSONFile(b.path, b.data)
}

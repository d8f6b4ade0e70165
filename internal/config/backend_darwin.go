//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const defaultsDomain = "com.appraise.app"

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "appraise-data"
	}
	return filepath.Join(home, "Library", "Application Support", "appraise")
}

// defaultsBackend reads and writes the app's UserDefaults domain through the
// `defaults` tool.
type defaultsBackend struct {
	domain string
}

func newPlatformBackend() Backend {
	return defaultsBackend{domain: defaultsDomain}
}

func (b defaultsBackend) run(args ...string) (string, error) {
	out, err := exec.Command("defaults", args...).CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

func (b defaultsBackend) Lookup(key string, kind keyType) (any, bool, error) {
	out, err := b.run("read", b.domain, key)
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		// Key not set.
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("defaults read %s: %w (%s)", key, err, out)
	}
	// -bool values read back as 1 or 0, which ParseBool accepts.
	v, err := parseValue(kind, out)
	if err != nil {
		return nil, true, fmt.Errorf("%s: %w", key, err)
	}
	return v, true, nil
}

func (b defaultsBackend) Store(key string, v any) error {
	var typ, val string
	switch x := v.(type) {
	case int:
		typ, val = "-int", strconv.Itoa(x)
	case bool:
		typ, val = "-bool", strconv.FormatBool(x)
	default:
		typ, val = "-string", fmt.Sprint(x)
	}
	if out, err := b.run("write", b.domain, key, typ, val); err != nil {
		return fmt.Errorf("defaults write %s: %w (%s)", key, err, out)
	}
	return nil
}

func (b defaultsBackend) Delete(key string) error {
	if out, err := b.run("delete", b.domain, key); err != nil {
		return fmt.Errorf("defaults delete %s: %w (%s)", key, err, out)
	}
	return nil
}

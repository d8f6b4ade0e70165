//go:build !darwin

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "appraise", "config.json")
	b := newFileBackend(path)

	if err := b.Store("server.port", 4300); err != nil {
		t.Fatalf("Store port: %v", err)
	}
	if err := b.Store("blob.backend", "gcs"); err != nil {
		t.Fatalf("Store backend: %v", err)
	}
	if err := b.Store("upload.verify_pdf", false); err != nil {
		t.Fatalf("Store bool: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("config file mode = %v, want 0600", info.Mode().Perm())
	}

	// Values come back through JSON, so ints arrive as float64 and are converted.
	reloaded := newFileBackend(path)
	if v, ok, err := reloaded.Lookup("server.port", kInt); err != nil || !ok || v != 4300 {
		t.Errorf("Lookup port = %v, %v, %v", v, ok, err)
	}
	if v, ok, _ := reloaded.Lookup("blob.backend", kString); !ok || v != "gcs" {
		t.Errorf("Lookup backend = %v, %v", v, ok)
	}
	if v, ok, _ := reloaded.Lookup("upload.verify_pdf", kBool); !ok || v != false {
		t.Errorf("Lookup bool = %v, %v", v, ok)
	}

	if err := reloaded.Delete("server.port"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := newFileBackend(path).Lookup("server.port", kInt); ok {
		t.Error("server.port still present after Delete")
	}
}

func TestFileBackend_HandEdited(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"server.port":"4400","upload.max_mb":2.5,"log.level":true}`), 0o600); err != nil {
		t.Fatal(err)
	}
	b := newFileBackend(path)

	if v, ok, err := b.Lookup("server.port", kInt); err != nil || !ok || v != 4400 {
		t.Errorf("string port = %v, %v, %v", v, ok, err)
	}
	if _, _, err := b.Lookup("upload.max_mb", kInt); err == nil {
		t.Error("expected error for fractional integer")
	}
	if v, _, err := b.Lookup("log.level", kString); err != nil || v != "true" {
		t.Errorf("bool as string = %v, %v", v, err)
	}
}

func TestFileBackend_MissingFile(t *testing.T) {
	b := newFileBackend(filepath.Join(t.TempDir(), "missing.json"))
	if _, ok, err := b.Lookup("log.level", kString); ok || err != nil {
		t.Errorf("Lookup on missing file = %v, %v", ok, err)
	}
}

func TestKeychainFile(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	kc := NewKeychain()

	if _, err := kc.Get(keychainService, SecretJWT); !errors.Is(err, errSecretNotFound) {
		t.Errorf("Get before save = %v, want errSecretNotFound", err)
	}
	if err := kc.Set(keychainService, SecretJWT, "s3cret"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := kc.Set(keychainService, SecretPipeline, "tok"); err != nil {
		t.Fatalf("Set second: %v", err)
	}
	got, err := kc.Get(keychainService, SecretJWT)
	if err != nil || got != "s3cret" {
		t.Errorf("Get = %q, %v", got, err)
	}
}

func TestKeychainFile_Corrupt(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)
	path := filepath.Join(dir, "appraise", "secrets.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := NewKeychain().Set(keychainService, SecretJWT, "x"); err == nil {
		t.Error("expected Set to refuse overwriting an unreadable secrets file")
	}
	data, _ := os.ReadFile(path)
	if string(data) != "{not json" {
		t.Errorf("secrets file was rewritten: %q", data)
	}
}

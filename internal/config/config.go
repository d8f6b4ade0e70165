package config

import (
	"fmt"
	"time"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Log       LogConfig
	Blob      BlobConfig
	Upload    UploadConfig
	Projector ProjectorConfig
	Reconcile ReconcileConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type BlobConfig struct {
	Backend  string
	Bucket   string
	Region   string
	Endpoint string
}

type UploadConfig struct {
	MaxMB     int
	VerifyPDF bool
}

type ProjectorConfig struct {
	StageMarkers bool
}

type ReconcileConfig struct {
	PollInterval string
}

func defaults() Config {
	return Config{
		Server:  ServerConfig{Port: 4100},
		Storage: StorageConfig{DataDir: defaultDataDir()},
		Log:     LogConfig{Level: "info"},
		Blob: BlobConfig{
			Backend: "local",
			Region:  "us-east-1",
		},
		Upload: UploadConfig{
			MaxMB:     15,
			VerifyPDF: true,
		},
		Reconcile: ReconcileConfig{PollInterval: "1s"},
	}
}

// MaxUploadBytes is the upload size limit in bytes.
func (c Config) MaxUploadBytes() int64 {
	return int64(c.Upload.MaxMB) * 1024 * 1024
}

// ReconcilePoll parses reconcile.poll_interval.
func (c Config) ReconcilePoll() (time.Duration, error) {
	d, err := time.ParseDuration(c.Reconcile.PollInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid reconcile.poll_interval %q: %w", c.Reconcile.PollInterval, err)
	}
	return d, nil
}

// Load reads configuration from the platform-native backend and
// environment variables.
//
// On macOS the backend is UserDefaults (domain: com.appraise.app).
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/appraise/config.json.
//
// Environment variables (APPRAISE_*) override backend values on all platforms.
// Secrets are not part of Config; see Secret.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Blob.Backend {
	case "local", "s3", "gcs":
	default:
		return fmt.Errorf("invalid blob.backend %q: want local, s3 or gcs", c.Blob.Backend)
	}
	if c.Blob.Backend != "local" && c.Blob.Bucket == "" {
		return fmt.Errorf("blob.backend %s requires blob.bucket (env APPRAISE_BLOB_BUCKET)", c.Blob.Backend)
	}
	if c.Upload.MaxMB <= 0 {
		return fmt.Errorf("upload.max_mb must be positive, got %d", c.Upload.MaxMB)
	}
	if _, err := c.ReconcilePoll(); err != nil {
		return err
	}
	return nil
}

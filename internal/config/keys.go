package config

import (
	"fmt"
	"os"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "APPRAISE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "APPRAISE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "APPRAISE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "blob.backend", typ: kString, env: "APPRAISE_BLOB_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Blob.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Blob.Backend },
	},
	{
		key: "blob.bucket", typ: kString, env: "APPRAISE_BLOB_BUCKET",
		apply:   func(cfg *Config, v any) { cfg.Blob.Bucket = v.(string) },
		extract: func(cfg Config) any { return cfg.Blob.Bucket },
	},
	{
		key: "blob.region", typ: kString, env: "APPRAISE_BLOB_REGION",
		apply:   func(cfg *Config, v any) { cfg.Blob.Region = v.(string) },
		extract: func(cfg Config) any { return cfg.Blob.Region },
	},
	{
		key: "blob.endpoint", typ: kString, env: "APPRAISE_BLOB_ENDPOINT",
		apply:   func(cfg *Config, v any) { cfg.Blob.Endpoint = v.(string) },
		extract: func(cfg Config) any { return cfg.Blob.Endpoint },
	},
	{
		key: "upload.max_mb", typ: kInt, env: "APPRAISE_UPLOAD_MAX_MB",
		apply:   func(cfg *Config, v any) { cfg.Upload.MaxMB = v.(int) },
		extract: func(cfg Config) any { return cfg.Upload.MaxMB },
	},
	{
		key: "upload.verify_pdf", typ: kBool, env: "APPRAISE_UPLOAD_VERIFY_PDF",
		apply:   func(cfg *Config, v any) { cfg.Upload.VerifyPDF = v.(bool) },
		extract: func(cfg Config) any { return cfg.Upload.VerifyPDF },
	},
	{
		key: "projector.stage_markers", typ: kBool, env: "APPRAISE_PROJECTOR_STAGE_MARKERS",
		apply:   func(cfg *Config, v any) { cfg.Projector.StageMarkers = v.(bool) },
		extract: func(cfg Config) any { return cfg.Projector.StageMarkers },
	},
	{
		key: "reconcile.poll_interval", typ: kString, env: "APPRAISE_RECONCILE_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Reconcile.PollInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Reconcile.PollInterval },
	},
}

func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		v, ok, err := b.Lookup(s.key, s.typ)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if ok {
			s.apply(cfg, v)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if s.env == "" || raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] ignoring %s: %v. Using the configured value.\n", s.env, err)
			continue
		}
		s.apply(cfg, v)
	}
}

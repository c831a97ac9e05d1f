package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"BASTIONCORE_ADJUDICATION_POLICY",
		"BASTIONCORE_ADJUDICATION_TIMEOUT",
		"BASTIONCORE_STORAGE_DRIVER",
		"BASTIONCORE_SQLITE_PATH",
		"BASTIONCORE_POSTGRES_DSN",
		"BASTIONCORE_ARCHIVE_ENABLED",
		"BASTIONCORE_ARCHIVE_SEGMENT_TURNS",
		"BASTIONCORE_BLOB_DRIVER",
		"BASTIONCORE_BLOB_FS_ROOT",
	} {
		t.Setenv(key, "")
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("unset %s: %v", key, err)
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Adjudication.Policy != "atomic" || cfg.Adjudication.Timeout != 5*time.Second {
		t.Fatalf("unexpected adjudication defaults %+v", cfg.Adjudication)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Fatalf("unexpected storage default %+v", cfg.Storage)
	}
	if cfg.Archive.Enabled || cfg.Archive.SegmentTurns != 64 || cfg.Archive.BlobDriver != "fs" {
		t.Fatalf("unexpected archive defaults %+v", cfg.Archive)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "bastion.yaml")
	doc := `
adjudication:
  policy: per_call
  timeout: 250ms
storage:
  driver: postgres
  postgres_dsn: postgres://db/bastion
archive:
  enabled: true
  segment_turns: 8
  blob_driver: memory
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Adjudication.Policy != "per_call" || cfg.Adjudication.Timeout != 250*time.Millisecond {
		t.Fatalf("adjudication not loaded: %+v", cfg.Adjudication)
	}
	if cfg.Storage.Driver != "postgres" || cfg.Storage.PostgresDSN != "postgres://db/bastion" {
		t.Fatalf("storage not loaded: %+v", cfg.Storage)
	}
	if !cfg.Archive.Enabled || cfg.Archive.SegmentTurns != 8 || cfg.Archive.BlobDriver != "memory" {
		t.Fatalf("archive not loaded: %+v", cfg.Archive)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "bastion.yaml")
	if err := os.WriteFile(path, []byte("storage:\n  driver: sqlite\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("BASTIONCORE_STORAGE_DRIVER", "memory")
	t.Setenv("BASTIONCORE_ADJUDICATION_TIMEOUT", "1s")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != "memory" {
		t.Fatalf("env did not override file: %+v", cfg.Storage)
	}
	if cfg.Adjudication.Timeout != time.Second {
		t.Fatalf("env timeout not applied: %v", cfg.Adjudication.Timeout)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	clearEnv(t)
	cases := []Config{
		func() Config { c := defaults(); c.Adjudication.Policy = "optimistic"; return c }(),
		func() Config { c := defaults(); c.Storage.Driver = "etcd"; return c }(),
		func() Config { c := defaults(); c.Archive.SegmentTurns = 0; return c }(),
		func() Config { c := defaults(); c.Archive.BlobDriver = "tape"; return c }(),
		func() Config { c := defaults(); c.Adjudication.Timeout = -time.Second; return c }(),
	}
	for i, cfg := range cases {
		if err := cfg.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error for %+v", i, cfg)
		}
	}
}

func TestLoadRejectsMalformedEnvValues(t *testing.T) {
	cases := []struct{ key, value string }{
		{"BASTIONCORE_ADJUDICATION_TIMEOUT", "soon"},
		{"BASTIONCORE_ARCHIVE_ENABLED", "yep"},
		{"BASTIONCORE_ARCHIVE_SEGMENT_TURNS", "many"},
	}
	for _, tc := range cases {
		t.Run(tc.key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tc.key, tc.value)
			if _, err := Load(""); err == nil {
				t.Fatalf("%s=%q accepted silently", tc.key, tc.value)
			}
		})
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected read error for missing file")
	}
}

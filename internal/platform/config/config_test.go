package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("STORE_BACKEND", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Fatalf("expected default http addr :8080, got %q", cfg.HTTP.Addr)
	}
	if cfg.Store.Backend != BackendMemory {
		t.Fatalf("expected memory backend without DATABASE_URL, got %q", cfg.Store.Backend)
	}
	if cfg.Comments.MaxTextLength != 1000 {
		t.Fatalf("expected max text length 1000, got %d", cfg.Comments.MaxTextLength)
	}
	if cfg.Comments.RetryBaseDelay != 50*time.Millisecond {
		t.Fatalf("expected 50ms base delay, got %s", cfg.Comments.RetryBaseDelay)
	}
}

func TestLoad_DatabaseURLImpliesPostgres(t *testing.T) {
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("DATABASE_URL", "postgres://localhost/corner")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Backend != BackendPostgres {
		t.Fatalf("expected postgres backend, got %q", cfg.Store.Backend)
	}
	if cfg.Store.EffectiveLikesBackend() != BackendPostgres {
		t.Fatalf("expected likes to follow comments backend, got %q", cfg.Store.EffectiveLikesBackend())
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("LIKE_RETRY_BASE_DELAY", "10ms")
	t.Setenv("COMMENT_MAX_LENGTH", "280")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":9999" {
		t.Fatalf("expected :9999, got %q", cfg.HTTP.Addr)
	}
	if cfg.Comments.RetryBaseDelay != 10*time.Millisecond {
		t.Fatalf("expected 10ms, got %s", cfg.Comments.RetryBaseDelay)
	}
	if cfg.Comments.MaxTextLength != 280 {
		t.Fatalf("expected 280, got %d", cfg.Comments.MaxTextLength)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	dir := t.TempDir()
	path := filepath.Join(dir, "comments.yaml")
	body := "store_backend: sqlite\nsqlite_path: /tmp/corner-test.db\nfact_pack_dir: ./packs\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Backend != BackendSQLite {
		t.Fatalf("expected sqlite backend, got %q", cfg.Store.Backend)
	}
	if cfg.Store.SQLitePath != "/tmp/corner-test.db" {
		t.Fatalf("unexpected sqlite path %q", cfg.Store.SQLitePath)
	}
	if cfg.Comments.FactPackDir != "./packs" {
		t.Fatalf("unexpected fact pack dir %q", cfg.Comments.FactPackDir)
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown backend", map[string]string{"STORE_BACKEND": "cassandra"}},
		{"postgres without dsn", map[string]string{"STORE_BACKEND": "postgres", "DATABASE_URL": ""}},
		{"redis likes without url", map[string]string{"STORE_BACKEND": "sqlite", "LIKES_BACKEND": "redis", "REDIS_URL": ""}},
		{"mongo without uri", map[string]string{"STORE_BACKEND": "mongo", "MONGODB_URI": ""}},
		{"memory comments with redis likes", map[string]string{"STORE_BACKEND": "memory", "LIKES_BACKEND": "redis", "REDIS_URL": "redis://localhost:6379"}},
		{"production memory", map[string]string{"STORE_BACKEND": "memory", "APP_ENV": "production", "JWT_SECRET": "s"}},
		{"production without secret", map[string]string{"STORE_BACKEND": "sqlite", "APP_ENV": "production", "JWT_SECRET": ""}},
		{"zero attempts", map[string]string{"LIKE_INCREMENT_ATTEMPTS": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(""); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

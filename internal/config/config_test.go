package config

import (
	"testing"
	"time"
)

func TestLoadAPIFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("MSIM_STORE", "sqlite")
	t.Setenv("MSIM_SQLITE_PATH", "/tmp/x.db")
	t.Setenv("MSIM_ROUND_DURATION", "2h")
	t.Setenv("MSIM_RESEARCH_CACHE_SIZE", "not-a-number")

	cfg, err := LoadAPIFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr != ":9090" {
		t.Fatalf("addr = %q", cfg.Addr)
	}
	if cfg.Store.Kind != StoreSQLite || cfg.Store.SQLitePath != "/tmp/x.db" {
		t.Fatalf("unexpected store: %+v", cfg.Store)
	}
	if cfg.RoundDuration != 2*time.Hour {
		t.Fatalf("round duration = %v", cfg.RoundDuration)
	}
	if cfg.ResearchCacheSize != 256 {
		t.Fatalf("cache size = %d want fallback 256", cfg.ResearchCacheSize)
	}
}

func TestLoadStoreRequiresDatabaseURL(t *testing.T) {
	t.Setenv("MSIM_STORE", "postgres")
	t.Setenv("DATABASE_URL", "")
	if _, err := LoadWorkerFromEnv(); err == nil {
		t.Fatalf("expected missing DATABASE_URL to fail")
	}

	t.Setenv("MSIM_STORE", "mongo")
	if _, err := LoadWorkerFromEnv(); err == nil {
		t.Fatalf("expected unknown store to fail")
	}
}

func TestLoadWorkerFromEnv(t *testing.T) {
	t.Setenv("MSIM_STORE", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/msim")
	t.Setenv("MSIM_WORKER_TICK_EVERY", "30s")
	t.Setenv("MSIM_WORKER_RUN_ONCE", "true")

	cfg, err := LoadWorkerFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TickEvery != 30*time.Second || !cfg.RunOnce || cfg.Store.MaxConns != 20 {
		t.Fatalf("unexpected worker config: %+v", cfg)
	}
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// StoreConfig selects and locates the game store.
type StoreConfig struct {
	Kind        string
	DatabaseURL string
	SQLitePath  string
	MaxConns    int32
}

type APIConfig struct {
	Addr              string
	Store             StoreConfig
	APIToken          string
	ScenariosFile     string
	RoundDuration     time.Duration
	ResearchCacheSize int
}

type WorkerConfig struct {
	Store         StoreConfig
	ScenariosFile string
	TickEvery     time.Duration
	RunOnce       bool
}

type CLIConfig struct {
	APIBaseURL string
	APIToken   string
	LocalDB    string
}

// LoadDotEnv loads a .env file from the working directory when present.
// Variables already set in the environment win.
func LoadDotEnv() {
	_ = godotenv.Load()
}

func LoadAPIFromEnv() (APIConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("MSIM_API_ADDR", ":8080")
	}

	store, err := loadStore()
	if err != nil {
		return APIConfig{}, err
	}
	cfg := APIConfig{
		Addr:              addr,
		Store:             store,
		APIToken:          strings.TrimSpace(os.Getenv("MSIM_API_TOKEN")),
		ScenariosFile:     strings.TrimSpace(os.Getenv("MSIM_SCENARIOS_FILE")),
		RoundDuration:     envDurationDefault("MSIM_ROUND_DURATION", 168*time.Hour),
		ResearchCacheSize: envIntDefault("MSIM_RESEARCH_CACHE_SIZE", 256),
	}
	if cfg.ResearchCacheSize <= 0 {
		return cfg, fmt.Errorf("MSIM_RESEARCH_CACHE_SIZE must be positive")
	}
	return cfg, nil
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	store, err := loadStore()
	if err != nil {
		return WorkerConfig{}, err
	}
	cfg := WorkerConfig{
		Store:         store,
		ScenariosFile: strings.TrimSpace(os.Getenv("MSIM_SCENARIOS_FILE")),
		TickEvery:     envDurationDefault("MSIM_WORKER_TICK_EVERY", time.Minute),
		RunOnce:       envBoolDefault("MSIM_WORKER_RUN_ONCE", false),
	}
	if cfg.TickEvery <= 0 {
		return cfg, fmt.Errorf("MSIM_WORKER_TICK_EVERY must be positive")
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("MSIM_API_BASE_URL", "http://localhost:8080"), "/"),
		APIToken:   strings.TrimSpace(os.Getenv("MSIM_API_TOKEN")),
		LocalDB:    envDefault("MSIM_LOCAL_DB", defaultLocalDB()),
	}
}

func loadStore() (StoreConfig, error) {
	cfg := StoreConfig{
		Kind:        strings.ToLower(envDefault("MSIM_STORE", StorePostgres)),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SQLitePath:  envDefault("MSIM_SQLITE_PATH", "msim.db"),
		MaxConns:    int32(envIntDefault("MSIM_DB_MAX_CONNS", 20)),
	}
	switch cfg.Kind {
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return cfg, fmt.Errorf("DATABASE_URL is required")
		}
	case StoreSQLite:
	default:
		return cfg, fmt.Errorf("MSIM_STORE must be %q or %q, got %q", StorePostgres, StoreSQLite, cfg.Kind)
	}
	return cfg, nil
}

func defaultLocalDB() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "msim-local.db"
	}
	return filepath.Join(home, ".msim", "local.db")
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

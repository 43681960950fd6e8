// Package config loads the API server configuration from flags and the
// environment. Flags take precedence; each flag's default comes from its
// environment variable.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/malbeclabs/askql/lake/agent/pkg/llm"
	"github.com/malbeclabs/askql/lake/pkg/dataset"
	flag "github.com/spf13/pflag"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	defaultListenAddr     = ":8080"
	defaultMetricsAddr    = ":9090"
	defaultDatasetDSN     = "askql.db"
	defaultAllowedOrigins = "http://localhost:5173"
	defaultUploadDir      = "uploads"
	defaultMaxIterations  = 10
	defaultLockTTL        = 10 * time.Minute
	defaultHeartbeat      = 15 * time.Second
	defaultShutdown       = 30 * time.Second
)

type Config struct {
	ShowVersion bool
	Verbose     bool

	ListenAddr     string
	MetricsAddr    string
	AllowedOrigins []string

	// Store selects the persistence log backend.
	Store    string
	Postgres PostgresConfig

	DatasetDriver  dataset.Driver
	DatasetDSN     string
	DatasetMaxRows int

	// APIKeys are the server-side provider credentials.
	APIKeys         map[llm.Kind]string
	ProviderRetries int

	// UploadDir is where attachment files are served from.
	UploadDir string

	MaxIterations   int
	LockTTL         time.Duration
	Heartbeat       time.Duration
	ShutdownTimeout time.Duration
}

func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("listen address is required (set LISTEN_ADDR or --listen-addr)")
	}
	switch c.Store {
	case StorePostgres:
		if err := c.Postgres.Validate(); err != nil {
			return fmt.Errorf("invalid postgres config: %w", err)
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store %q (want %s or %s)", c.Store, StorePostgres, StoreMemory)
	}
	switch c.DatasetDriver {
	case dataset.DriverSQLite, dataset.DriverDuckDB:
	default:
		return fmt.Errorf("unknown dataset driver %q", c.DatasetDriver)
	}
	if c.DatasetDSN == "" {
		return errors.New("dataset dsn is required (set DATASET_DSN or --dataset-dsn)")
	}
	if c.ProviderRetries < 0 {
		return errors.New("provider retries must be non-negative")
	}
	if c.MaxIterations <= 0 {
		return errors.New("max iterations must be positive")
	}
	return nil
}

// Load parses args (without the program name) over the environment.
func Load(args []string) (*Config, error) {
	cfg := &Config{
		Postgres: PostgresConfig{
			Host:     getenv("POSTGRES_HOST", "localhost"),
			Port:     getenv("POSTGRES_PORT", "5432"),
			Database: getenv("POSTGRES_DB", "askql"),
			Username: getenv("POSTGRES_USER", "askql"),
			Password: getenv("POSTGRES_PASSWORD", "askql"),
		},
		APIKeys: map[llm.Kind]string{
			llm.KindGemini:    getenv("GOOGLE_API_KEY", ""),
			llm.KindOpenAI:    getenv("OPENAI_API_KEY", ""),
			llm.KindAnthropic: getenv("ANTHROPIC_API_KEY", ""),
			llm.KindDeepSeek:  getenv("DEEPSEEK_API_KEY", ""),
		},
	}

	retries, err := getenvInt("PROVIDER_RETRIES", 0)
	if err != nil {
		return nil, err
	}
	maxRows, err := getenvInt("DATASET_MAX_ROWS", 0)
	if err != nil {
		return nil, err
	}
	maxIterations, err := getenvInt("MAX_ITERATIONS", defaultMaxIterations)
	if err != nil {
		return nil, err
	}

	var driver, origins string
	fs := flag.NewFlagSet("askql-api", flag.ContinueOnError)
	fs.BoolVar(&cfg.ShowVersion, "version", false, "show version and exit")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", false, "verbose mode - show debug logs")
	fs.StringVar(&cfg.ListenAddr, "listen-addr", getenv("LISTEN_ADDR", defaultListenAddr), "address to serve the API on (env: LISTEN_ADDR)")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", getenv("METRICS_ADDR", defaultMetricsAddr), "address to listen on for prometheus metrics, empty to disable (env: METRICS_ADDR)")
	fs.StringVar(&origins, "allowed-origins", getenv("ALLOWED_ORIGINS", defaultAllowedOrigins), "CORS allowed origins csv (env: ALLOWED_ORIGINS)")
	fs.StringVar(&cfg.Store, "store", getenv("STORE", StorePostgres), "conversation store: postgres or memory (env: STORE)")
	fs.StringVar(&driver, "dataset-driver", getenv("DATASET_DRIVER", string(dataset.DriverSQLite)), "dataset engine: sqlite or duckdb (env: DATASET_DRIVER)")
	fs.StringVar(&cfg.DatasetDSN, "dataset-dsn", getenv("DATASET_DSN", defaultDatasetDSN), "dataset database path or dsn (env: DATASET_DSN)")
	fs.IntVar(&cfg.DatasetMaxRows, "dataset-max-rows", maxRows, "row cap for read statements, 0 for the store default (env: DATASET_MAX_ROWS)")
	fs.StringVar(&cfg.UploadDir, "upload-dir", getenv("UPLOAD_DIR", defaultUploadDir), "directory attachment urls resolve against (env: UPLOAD_DIR)")
	fs.IntVar(&cfg.ProviderRetries, "provider-retries", retries, "extra attempts for failed provider calls (env: PROVIDER_RETRIES)")
	fs.IntVar(&cfg.MaxIterations, "max-iterations", maxIterations, "step bound of a multi-step turn (env: MAX_ITERATIONS)")
	fs.DurationVar(&cfg.LockTTL, "lock-ttl", defaultLockTTL, "expiry of a conversation turn lock")
	fs.DurationVar(&cfg.Heartbeat, "heartbeat", defaultHeartbeat, "interval of keep-alive events on open streams")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", defaultShutdown, "grace period for in-flight requests on shutdown")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.ShowVersion {
		return cfg, nil
	}

	cfg.DatasetDriver = dataset.Driver(driver)
	cfg.AllowedOrigins = splitCSV(origins)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
	return i, nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
)

// Config holds all application configuration loaded from environment variables.
// Everything except the server address has a usable zero value: optional
// integrations (Postgres, NATS, Temporal, tracing) stay off when unset.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Local settings store (bbolt). Empty selects the per-user default.
	SettingsPath string

	// Solana configuration
	SolanaRPCURL     string // overrides the persisted endpoint when set
	RPCEndpointsFile string // extra known endpoints, YAML

	// Wallet configuration
	WalletKeypairPath  string
	WalletWatchAddress string

	// Confirmation polling
	ConfirmMaxAttempts  int
	ConfirmPollInterval time.Duration
	LogCapacity         int

	// Database configuration
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string
	WatchMaxAttempts  int

	// Observability
	MetricsAddr  string
	OTELEndpoint string
}

// Load reads configuration from environment variables and validates all fields.
// Returns an error listing every problem found.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.SettingsPath = os.Getenv("SETTINGS_PATH")

	// Solana configuration
	cfg.SolanaRPCURL = strings.TrimSpace(os.Getenv("SOLANA_RPC_URL"))
	cfg.RPCEndpointsFile = os.Getenv("RPC_ENDPOINTS_FILE")

	// Wallet configuration
	cfg.WalletKeypairPath = os.Getenv("WALLET_KEYPAIR_PATH")
	cfg.WalletWatchAddress = os.Getenv("WALLET_WATCH_ADDRESS")

	// Confirmation polling
	maxAttempts, err := parseInt("CONFIRM_MAX_ATTEMPTS", 30)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ConfirmMaxAttempts = maxAttempts
	}

	interval, err := parseDuration("CONFIRM_POLL_INTERVAL", "2s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ConfirmPollInterval = interval
	}

	capacity, err := parseInt("LOG_CAPACITY", 100)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.LogCapacity = capacity
	}

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")

	// NATS configuration
	cfg.NATSURL = os.Getenv("NATS_URL")

	// Temporal configuration
	cfg.TemporalHost = os.Getenv("TEMPORAL_HOST")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "txinspector-confirmations")

	watchAttempts, err := parseInt("WATCH_MAX_ATTEMPTS", 150)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.WatchMaxAttempts = watchAttempts
	}

	// Observability
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9091")
	cfg.OTELEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.ServerAddr == "" {
		errs = append(errs, fmt.Errorf("SERVER_ADDR is required"))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error (got %q)", c.LogLevel))
	}

	if c.SolanaRPCURL != "" && !strings.HasPrefix(c.SolanaRPCURL, "https://") {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URL must start with https://"))
	}

	if c.WalletWatchAddress != "" {
		if _, err := solana.PublicKeyFromBase58(c.WalletWatchAddress); err != nil {
			errs = append(errs, fmt.Errorf("WALLET_WATCH_ADDRESS is not a valid public key: %w", err))
		}
	}

	if c.ConfirmMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("CONFIRM_MAX_ATTEMPTS must be at least 1"))
	}

	if c.ConfirmPollInterval <= 0 {
		errs = append(errs, fmt.Errorf("CONFIRM_POLL_INTERVAL must be positive"))
	}

	if c.LogCapacity < 1 {
		errs = append(errs, fmt.Errorf("LOG_CAPACITY must be at least 1"))
	}

	if c.TemporalHost != "" {
		if c.TemporalNamespace == "" {
			errs = append(errs, fmt.Errorf("TEMPORAL_NAMESPACE is required when TEMPORAL_HOST is set"))
		}
		if c.TemporalTaskQueue == "" {
			errs = append(errs, fmt.Errorf("TEMPORAL_TASK_QUEUE is required when TEMPORAL_HOST is set"))
		}
		if c.WatchMaxAttempts < 1 {
			errs = append(errs, fmt.Errorf("WATCH_MAX_ATTEMPTS must be at least 1"))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

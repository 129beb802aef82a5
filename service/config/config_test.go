package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 30, cfg.ConfirmMaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.ConfirmPollInterval)
	assert.Equal(t, 100, cfg.LogCapacity)
	assert.Equal(t, "default", cfg.TemporalNamespace)
	assert.Equal(t, "txinspector-confirmations", cfg.TemporalTaskQueue)
	assert.Equal(t, ":9091", cfg.MetricsAddr)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.NATSURL)
	assert.Empty(t, cfg.TemporalHost)
}

func TestLoad_CustomValues(t *testing.T) {
	os.Setenv("SERVER_ADDR", ":9090")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("SOLANA_RPC_URL", " https://api.devnet.solana.com ")
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	os.Setenv("NATS_URL", "nats://nats.example.com:4222")
	os.Setenv("TEMPORAL_HOST", "temporal.example.com:7233")
	os.Setenv("CONFIRM_MAX_ATTEMPTS", "10")
	os.Setenv("CONFIRM_POLL_INTERVAL", "500ms")
	os.Setenv("WALLET_WATCH_ADDRESS", "11111111111111111111111111111111")
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ServerAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "https://api.devnet.solana.com", cfg.SolanaRPCURL)
	assert.Equal(t, "postgres://localhost/test", cfg.DatabaseURL)
	assert.Equal(t, "nats://nats.example.com:4222", cfg.NATSURL)
	assert.Equal(t, "temporal.example.com:7233", cfg.TemporalHost)
	assert.Equal(t, 10, cfg.ConfirmMaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.ConfirmPollInterval)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "interval", env: map[string]string{"CONFIRM_POLL_INTERVAL": "soon"}, want: "invalid duration"},
		{name: "attempts", env: map[string]string{"CONFIRM_MAX_ATTEMPTS": "many"}, want: "invalid integer"},
		{name: "plain http rpc", env: map[string]string{"SOLANA_RPC_URL": "http://localhost:8899"}, want: "must start with https://"},
		{name: "bad watch address", env: map[string]string{"WALLET_WATCH_ADDRESS": "not-a-key"}, want: "WALLET_WATCH_ADDRESS"},
		{name: "log level", env: map[string]string{"LOG_LEVEL": "trace"}, want: "LOG_LEVEL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer cleanupEnv()
			for k, v := range tt.env {
				os.Setenv(k, v)
			}

			cfg, err := Load()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := &Config{
		ServerAddr:          ":8080",
		LogLevel:            "info",
		ConfirmMaxAttempts:  30,
		ConfirmPollInterval: 2 * time.Second,
		LogCapacity:         100,
	}
	assert.NoError(t, cfg.Validate())
}

func TestValidate_AccumulatesErrors(t *testing.T) {
	cfg := &Config{
		LogLevel:     "info",
		TemporalHost: "localhost:7233",
	}

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"SERVER_ADDR is required",
		"CONFIRM_MAX_ATTEMPTS",
		"CONFIRM_POLL_INTERVAL",
		"LOG_CAPACITY",
		"TEMPORAL_NAMESPACE",
		"TEMPORAL_TASK_QUEUE",
		"WATCH_MAX_ATTEMPTS",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestMustLoad_Panics(t *testing.T) {
	os.Setenv("CONFIRM_MAX_ATTEMPTS", "0")
	defer cleanupEnv()

	assert.Panics(t, func() {
		MustLoad()
	})
}

func TestMustLoad_Success(t *testing.T) {
	defer cleanupEnv()

	assert.NotPanics(t, func() {
		cfg := MustLoad()
		assert.NotNil(t, cfg)
	})
}

// cleanupEnv clears all environment variables used in tests
func cleanupEnv() {
	for _, key := range []string{
		"SERVER_ADDR",
		"LOG_LEVEL",
		"SETTINGS_PATH",
		"SOLANA_RPC_URL",
		"RPC_ENDPOINTS_FILE",
		"WALLET_KEYPAIR_PATH",
		"WALLET_WATCH_ADDRESS",
		"CONFIRM_MAX_ATTEMPTS",
		"CONFIRM_POLL_INTERVAL",
		"LOG_CAPACITY",
		"DATABASE_URL",
		"NATS_URL",
		"TEMPORAL_HOST",
		"TEMPORAL_NAMESPACE",
		"TEMPORAL_TASK_QUEUE",
		"WATCH_MAX_ATTEMPTS",
		"METRICS_ADDR",
		"OTEL_EXPORTER_OTLP_ENDPOINT",
	} {
		os.Unsetenv(key)
	}
}

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/aatp-router/pkg/config"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, config.ModeStandalone, cfg.Mode)
	assert.Equal(t, config.APIKeyOptional, cfg.APIKeyPolicy)
	assert.Equal(t, "sql", cfg.LedgerBackend)
	assert.Equal(t, 20, cfg.RateLimit)
	assert.Equal(t, time.Minute, cfg.RateWindow)
	assert.Equal(t, 10*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, time.Hour, cfg.ApprovalTimeout)
	assert.Equal(t, 5*time.Minute, cfg.DirectoryCacheTTL)
}

func TestLoad_Overrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("AATP_PORT", "9090")
	t.Setenv("AATP_MODE", "cloud")
	t.Setenv("AATP_DIRECTORY_URL", "https://directory.example.com")
	t.Setenv("AATP_API_KEYS", "key-a, key-b")
	t.Setenv("AATP_RATE_LIMIT", "5")
	t.Setenv("AATP_RATE_WINDOW", "10s")
	t.Setenv("AATP_CORS_ORIGINS", "https://ui.example.com")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Addr())
	assert.Equal(t, config.ModeCloud, cfg.Mode)
	assert.Equal(t, config.APIKeyRequired, cfg.APIKeyPolicy)
	assert.Equal(t, []string{"key-a", "key-b"}, cfg.APIKeys)
	assert.Equal(t, "memory", cfg.LedgerBackend)
	assert.Equal(t, 5, cfg.RateLimit)
	assert.Equal(t, 10*time.Second, cfg.RateWindow)
	assert.Equal(t, []string{"https://ui.example.com"}, cfg.CORSOrigins)
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "router.env")
	require.NoError(t, os.WriteFile(path, []byte("AATP_LOG_LEVEL=DEBUG\nAATP_RATE_LIMIT=7\n"), 0o600))
	t.Cleanup(func() {
		_ = os.Unsetenv("AATP_LOG_LEVEL")
		_ = os.Unsetenv("AATP_RATE_LIMIT")
	})
	// Process environment wins over the file.
	t.Setenv("AATP_RATE_LIMIT", "3")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, 3, cfg.RateLimit)
}

func TestLoad_MissingEnvFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *config.Config {
		return &config.Config{
			Mode:            config.ModeStandalone,
			APIKeyPolicy:    config.APIKeyOptional,
			LedgerBackend:   "memory",
			RateLimit:       20,
			RateWindow:      time.Minute,
			ProviderTimeout: 10 * time.Second,
			ApprovalTimeout: time.Hour,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{"valid", func(*config.Config) {}, ""},
		{"unknown mode", func(c *config.Config) { c.Mode = "edge" }, "unknown mode"},
		{"cloud without directory", func(c *config.Config) { c.Mode = config.ModeCloud }, "DIRECTORY_URL"},
		{"required without keys", func(c *config.Config) { c.APIKeyPolicy = config.APIKeyRequired }, "at least one API key"},
		{"bad policy", func(c *config.Config) { c.APIKeyPolicy = "sometimes" }, "unknown API key policy"},
		{"bucket missing", func(c *config.Config) { c.LedgerBackend = "s3" }, "LEDGER_BUCKET"},
		{"bad backend", func(c *config.Config) { c.LedgerBackend = "tape" }, "unknown ledger backend"},
		{"limiting off", func(c *config.Config) { c.RateLimit = 0 }, ""},
		{"negative limit", func(c *config.Config) { c.RateLimit = -1 }, "RATE_LIMIT"},
		{"zero provider timeout", func(c *config.Config) { c.ProviderTimeout = 0 }, "PROVIDER_TIMEOUT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

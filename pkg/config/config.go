// Package config loads router settings from AATP_-prefixed environment
// variables, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

// Prefix is prepended to every environment variable name.
const Prefix = "AATP"

// Deployment modes.
const (
	ModeStandalone = "standalone"
	ModeCloud      = "cloud"
)

// API key policies.
const (
	APIKeyRequired = "required"
	APIKeyOptional = "optional"
	APIKeyDisabled = "disabled"
)

// Config holds server configuration.
type Config struct {
	Port     string `envconfig:"PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"INFO"`
	Mode     string `envconfig:"MODE" default:"standalone"`

	APIKeys      []string `envconfig:"API_KEYS"`
	APIKeyPolicy string   `envconfig:"API_KEY_POLICY"`

	AgentsFile        string        `envconfig:"AGENTS_FILE" default:"config/agents.yaml"`
	ServicesFile      string        `envconfig:"SERVICES_FILE" default:"config/services.yaml"`
	DirectoryURL      string        `envconfig:"DIRECTORY_URL"`
	DirectoryCacheTTL time.Duration `envconfig:"DIRECTORY_CACHE_TTL" default:"5m"`

	DatabaseURL string `envconfig:"DATABASE_URL"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"data/aatp.db"`
	RedisURL    string `envconfig:"REDIS_URL"`

	RateLimit  int           `envconfig:"RATE_LIMIT" default:"20"` // 0 disables per-agent limiting
	RateWindow time.Duration `envconfig:"RATE_WINDOW" default:"1m"`

	ProviderTimeout       time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"10s"`
	ApprovalTimeout       time.Duration `envconfig:"APPROVAL_TIMEOUT" default:"1h"`
	ApprovalSweepInterval time.Duration `envconfig:"APPROVAL_SWEEP_INTERVAL"`

	LedgerBackend string `envconfig:"LEDGER_BACKEND"`
	LedgerBucket  string `envconfig:"LEDGER_BUCKET"`
	LedgerPrefix  string `envconfig:"LEDGER_PREFIX"`
	LedgerDir     string `envconfig:"LEDGER_DIR" default:"data/ledger"`
	S3Region      string `envconfig:"S3_REGION"`
	S3Endpoint    string `envconfig:"S3_ENDPOINT"`

	OTLPEndpoint string   `envconfig:"OTLP_ENDPOINT"`
	CORSOrigins  []string `envconfig:"CORS_ORIGINS"`
	EdgeRPS      float64  `envconfig:"EDGE_RPS" default:"50"`
	EdgeBurst    int      `envconfig:"EDGE_BURST" default:"100"`
}

// Load reads an optional env file, then the process environment. An empty
// envFile loads ./.env when present. Variables already set in the process
// environment take precedence over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := exportEnvFile(envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	} else if err := exportEnvFileIfExists(".env"); err != nil {
		return nil, fmt.Errorf("failed to load default env file: %w", err)
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.applyModeDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyModeDefaults() {
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	c.APIKeyPolicy = strings.ToLower(strings.TrimSpace(c.APIKeyPolicy))
	c.LedgerBackend = strings.ToLower(strings.TrimSpace(c.LedgerBackend))

	if c.APIKeyPolicy == "" {
		if c.Mode == ModeCloud {
			c.APIKeyPolicy = APIKeyRequired
		} else {
			c.APIKeyPolicy = APIKeyOptional
		}
	}
	if c.LedgerBackend == "" {
		switch {
		case c.Mode == ModeCloud && c.DatabaseURL != "":
			c.LedgerBackend = "sql"
		case c.Mode == ModeCloud:
			c.LedgerBackend = "memory"
		default:
			c.LedgerBackend = "sql"
		}
	}
	keys := c.APIKeys[:0]
	for _, k := range c.APIKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	c.APIKeys = keys
}

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	var errs []error
	switch c.Mode {
	case ModeStandalone:
	case ModeCloud:
		if c.DirectoryURL == "" && c.DatabaseURL == "" {
			errs = append(errs, errors.New("cloud mode requires DIRECTORY_URL or DATABASE_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown mode %q", c.Mode))
	}

	switch c.APIKeyPolicy {
	case APIKeyRequired:
		if len(c.APIKeys) == 0 {
			errs = append(errs, errors.New("API_KEY_POLICY=required needs at least one API key"))
		}
	case APIKeyOptional, APIKeyDisabled:
	default:
		errs = append(errs, fmt.Errorf("unknown API key policy %q", c.APIKeyPolicy))
	}

	switch c.LedgerBackend {
	case "memory", "fs":
	case "sql":
		if c.Mode == ModeCloud && c.DatabaseURL == "" {
			errs = append(errs, errors.New("sql ledger in cloud mode requires DATABASE_URL"))
		}
	case "s3", "gcs":
		if c.LedgerBucket == "" {
			errs = append(errs, fmt.Errorf("%s ledger requires LEDGER_BUCKET", c.LedgerBackend))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ledger backend %q", c.LedgerBackend))
	}

	if c.RateLimit < 0 {
		errs = append(errs, errors.New("RATE_LIMIT must not be negative"))
	}
	if c.RateWindow <= 0 {
		errs = append(errs, errors.New("RATE_WINDOW must be positive"))
	}
	if c.ProviderTimeout <= 0 {
		errs = append(errs, errors.New("PROVIDER_TIMEOUT must be positive"))
	}
	if c.ApprovalTimeout <= 0 {
		errs = append(errs, errors.New("APPROVAL_TIMEOUT must be positive"))
	}
	if c.EdgeRPS < 0 || c.EdgeBurst < 0 {
		errs = append(errs, errors.New("EDGE_RPS and EDGE_BURST must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	if strings.Contains(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

func exportEnvFileIfExists(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if info.IsDir() {
		return nil
	}
	return exportEnvFile(path)
}

func exportEnvFile(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	if filepath.Ext(path) == "" || filepath.Base(path) == ".env" {
		v.SetConfigType("env")
	}
	if err := v.ReadInConfig(); err != nil {
		return err
	}
	for k, val := range v.AllSettings() {
		name := strings.ToUpper(k)
		if _, set := os.LookupEnv(name); set {
			continue
		}
		if err := os.Setenv(name, fmt.Sprint(val)); err != nil {
			return err
		}
	}
	return nil
}

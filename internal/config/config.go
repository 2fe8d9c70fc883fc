// Package config loads the typed, environment-driven configuration for
// the fleetd daemon, following the two-phase pattern the teacher uses
// for its own component configs (parse, then CheckAndSetDefaults).
package config

import (
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/gravitational/trace"
	"github.com/joho/godotenv"
)

// Config is the full process configuration, populated from environment
// variables named per spec.md §6's "Configuration (env vars)" list.
type Config struct {
	DBPath              string `env:"DB_PATH" envDefault:"fleet.db"`
	EncryptionKey       string `env:"ENCRYPTION_KEY"`
	KeyVaultMasterKey   string `env:"KEY_VAULT_MASTER_KEY"`
	JWTSecret           string `env:"JWT_SECRET"`
	JWTExpiration       int    `env:"JWT_EXPIRATION" envDefault:"86400"` // seconds
	TaskCommandMaxLen   int    `env:"TASK_COMMAND_MAX_LENGTH" envDefault:"4096"`
	TasksStoreOutput    bool   `env:"TASKS_STORE_OUTPUT_DEFAULT" envDefault:"true"`
	TasksOutputMaxBytes int    `env:"TASKS_OUTPUT_MAX_BYTES" envDefault:"65536"`
	TasksPerServerCap   int    `env:"TASKS_CONCURRENT_PER_SERVER" envDefault:"1"`
	TasksDefaultTimeout int    `env:"TASKS_DEFAULT_TIMEOUT" envDefault:"30"`
	TasksNumWorkers     int    `env:"TASKS_NUM_WORKERS" envDefault:"4"`
	TerminalIdleTimeout int    `env:"TERMINAL_IDLE_TIMEOUT_SECONDS" envDefault:"1800"`
	CI                  bool   `env:"CI" envDefault:"false"`

	RESTAddr     string `env:"REST_ADDR" envDefault:":9083"`
	TerminalAddr string `env:"TERMINAL_ADDR" envDefault:":9084"`
	StatsAddr    string `env:"STATS_ADDR" envDefault:":9085"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
}

// Load reads an optional .env file (dev-mode parity with the original
// Python service's load_dotenv() fallback) then parses the process
// environment into a Config and applies defaults.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, trace.Wrap(err, "loading .env")
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, trace.Wrap(err, "parsing environment")
	}
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return cfg, nil
}

// CheckAndSetDefaults validates required fields and fills in derived
// defaults, mirroring auth.APIConfig.CheckAndSetDefaults in the
// teacher.
func (c *Config) CheckAndSetDefaults() error {
	if c.EncryptionKey == "" {
		return trace.BadParameter("ENCRYPTION_KEY is required")
	}
	if c.KeyVaultMasterKey == "" {
		c.KeyVaultMasterKey = c.EncryptionKey
	}
	if c.JWTSecret == "" {
		return trace.BadParameter("JWT_SECRET is required")
	}
	if c.TasksNumWorkers <= 0 {
		c.TasksNumWorkers = 4
	}
	if c.TasksPerServerCap <= 0 {
		c.TasksPerServerCap = 1
	}
	if c.TasksOutputMaxBytes <= 0 {
		c.TasksOutputMaxBytes = 65536
	}
	if c.TerminalIdleTimeout <= 0 {
		c.TerminalIdleTimeout = 1800
	}
	if len(c.CORSAllowedOrigins) == 0 {
		c.CORSAllowedOrigins = []string{"http://localhost:3000"}
	}
	return nil
}

// Package config handles configuration loading and validation.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
)

// Config holds server configuration.
type Config struct {
	ListenAddr         string
	DatabasePath       string // Path to SQLite database file
	ChainsDir          string // Directory holding chain configuration JSON files
	CORSAllowedOrigins string // Comma-separated list of allowed origins, or "*" for all
	LogLevel           string // debug, info, warn, error
	MaxConcurrentJobs  int    // Running jobs beyond this are rejected
}

// Defaults
const (
	DefaultListenAddr         = ":3001"
	DefaultDatabasePath       = "./data/rpcbench.db"
	DefaultChainsDir          = "./data/chains"
	DefaultCORSAllowedOrigins = "*" // Allow all origins by default for dev
	DefaultLogLevel           = "info"
	DefaultMaxConcurrentJobs  = 4
)

// Load reads configuration from environment variables and command-line flags.
// Command-line flags take precedence over environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:         DefaultListenAddr,
		DatabasePath:       DefaultDatabasePath,
		ChainsDir:          DefaultChainsDir,
		CORSAllowedOrigins: DefaultCORSAllowedOrigins,
		LogLevel:           DefaultLogLevel,
		MaxConcurrentJobs:  DefaultMaxConcurrentJobs,
	}

	// Load from environment variables first
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("CHAINS_DIR"); v != "" {
		cfg.ChainsDir = v
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORSAllowedOrigins = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MAX_CONCURRENT_JOBS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxConcurrentJobs = n
		}
	}

	// Define command-line flags
	var (
		listenAddr = flag.String("listen", cfg.ListenAddr, "HTTP listen address")
		dbPath     = flag.String("db", cfg.DatabasePath, "SQLite database path")
		chainsDir  = flag.String("chains", cfg.ChainsDir, "Chain configurations directory")
		cors       = flag.String("cors", cfg.CORSAllowedOrigins, "Allowed CORS origins")
		logLevel   = flag.String("loglevel", cfg.LogLevel, "Log level (debug, info, warn, error)")
		maxJobs    = flag.Int("maxjobs", cfg.MaxConcurrentJobs, "Maximum concurrently running jobs")
	)

	flag.Parse()

	cfg.ListenAddr = *listenAddr
	cfg.DatabasePath = *dbPath
	cfg.ChainsDir = *chainsDir
	cfg.CORSAllowedOrigins = *cors
	cfg.LogLevel = *logLevel
	cfg.MaxConcurrentJobs = *maxJobs

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database path is required")
	}
	if c.ChainsDir == "" {
		return fmt.Errorf("chains directory is required")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}
	if c.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("max concurrent jobs must be positive")
	}
	return nil
}

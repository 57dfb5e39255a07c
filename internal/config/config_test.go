package config

import "testing"

func validConfig() *Config {
	return &Config{
		ListenAddr:         DefaultListenAddr,
		DatabasePath:       DefaultDatabasePath,
		ChainsDir:          DefaultChainsDir,
		CORSAllowedOrigins: DefaultCORSAllowedOrigins,
		LogLevel:           DefaultLogLevel,
		MaxConcurrentJobs:  DefaultMaxConcurrentJobs,
	}
}

func TestValidate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty listen addr", func(c *Config) { c.ListenAddr = "" }},
		{"empty db path", func(c *Config) { c.DatabasePath = "" }},
		{"empty chains dir", func(c *Config) { c.ChainsDir = "" }},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }},
		{"zero max jobs", func(c *Config) { c.MaxConcurrentJobs = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

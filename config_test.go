package main

import (
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		bind:           "127.0.0.1",
		port:           8080,
		orphanTimeout:  time.Minute,
		sessionTimeout: time.Hour,
		queueSize:      32,
		maxWordLength:  20,
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"port too low", func(c *Config) { c.port = 0 }, false},
		{"port too high", func(c *Config) { c.port = 70000 }, false},
		{"cert without key", func(c *Config) { c.tlsCert = "cert.pem" }, false},
		{"key without cert", func(c *Config) { c.tlsKey = "key.pem" }, false},
		{"cert and key", func(c *Config) { c.tlsCert, c.tlsKey = "cert.pem", "key.pem" }, true},
		{"zero orphan timeout", func(c *Config) { c.orphanTimeout = 0 }, false},
		{"negative session timeout", func(c *Config) { c.sessionTimeout = -time.Second }, false},
		{"reaper disabled", func(c *Config) { c.sessionTimeout = 0 }, true},
		{"nanosecond session timeout", func(c *Config) { c.sessionTimeout = time.Nanosecond }, false},
		{"session timeout below minimum", func(c *Config) { c.sessionTimeout = time.Second }, false},
		{"minimum session timeout", func(c *Config) { c.sessionTimeout = minSessionTimeout }, true},
		{"tiny queue", func(c *Config) { c.queueSize = 1 }, false},
		{"zero word length", func(c *Config) { c.maxWordLength = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)

			err := cfg.validate()
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestConfigScheme(t *testing.T) {
	cfg := validConfig()
	if cfg.scheme() != "http" {
		t.Fatalf("expected http, got %s", cfg.scheme())
	}

	cfg.tlsCert, cfg.tlsKey = "cert.pem", "key.pem"
	if cfg.scheme() != "https" {
		t.Fatalf("expected https, got %s", cfg.scheme())
	}
}

func TestNewCmdDefaults(t *testing.T) {
	cfg := &Config{}
	_ = newCmd(cfg)

	if cfg.port != 8080 || cfg.orphanTimeout != 5*time.Minute || cfg.queueSize != 32 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if err := cfg.validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
}

func TestNewCmdReadsEnvironment(t *testing.T) {
	t.Setenv("TOWNHALL_PORT", "9090")
	t.Setenv("TOWNHALL_ORPHAN_TIMEOUT", "90s")
	t.Setenv("TOWNHALL_VERBOSE", "true")

	cfg := &Config{}
	_ = newCmd(cfg)

	if cfg.port != 9090 {
		t.Fatalf("expected port 9090 from environment, got %d", cfg.port)
	}
	if cfg.orphanTimeout != 90*time.Second {
		t.Fatalf("expected 90s orphan timeout from environment, got %s", cfg.orphanTimeout)
	}
	if !cfg.verbose {
		t.Fatalf("expected verbose from environment")
	}
}

func TestNewCmdFlags(t *testing.T) {
	cfg := &Config{}
	cmd := newCmd(cfg)

	err := cmd.Flags().Parse([]string{"--port", "7000", "--queue_size", "8", "--prefix", "/live"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.port != 7000 || cfg.queueSize != 8 || cfg.prefix != "/live" {
		t.Fatalf("flags not applied: %+v", cfg)
	}
}

func TestEngineConfig(t *testing.T) {
	cfg := validConfig()

	ec := cfg.engineConfig(nil)
	if ec.OrphanTimeout != cfg.orphanTimeout || ec.IdleTimeout != cfg.sessionTimeout ||
		ec.QueueSize != cfg.queueSize || ec.MaxWordLength != cfg.maxWordLength {
		t.Fatalf("engine config does not match %+v: %+v", cfg, ec)
	}
	if ec.Logf == nil {
		t.Fatalf("expected a log function")
	}
	if ec.Tracer != nil {
		t.Fatalf("expected the global tracer to be left in place")
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAMLWithDefaults(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
logging: { level: debug, console: true }
phone: { country_code: "57", local_length: 10, mobile_lead: "3" }
transport: { listen_addr: "127.0.0.1:9900" }
throttle: { per_minute: 5 }
`)
	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" || cfg.Transport.ListenAddr != "127.0.0.1:9900" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	// Unset fields keep defaults.
	if cfg.Transport.ProbeTimeout != "3s" || cfg.Transport.FramesPerSec != 20 {
		t.Fatalf("defaults not applied: %+v", cfg.Transport)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get must return the committed config")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "config.json", `{"phone":{"country_code":"57","local_length":10,"mobile_lead":"3","area_code":"1"},"transport":{"listen_addr":"127.0.0.1:8787"},"throttle":{"per_minute":5}}`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"empty country code", func(c *Config) { c.Phone.CountryCode = "" }, false},
		{"non-digit country code", func(c *Config) { c.Phone.CountryCode = "5a" }, false},
		{"zero local length", func(c *Config) { c.Phone.LocalLength = 0 }, false},
		{"missing listen addr", func(c *Config) { c.Transport.ListenAddr = "" }, false},
		{"bad probe timeout", func(c *Config) { c.Transport.ProbeTimeout = "soon" }, false},
		{"zero throttle", func(c *Config) { c.Throttle.PerMinute = 0 }, false},
		{"inverted jitter", func(c *Config) { c.Throttle.JitterSeconds = []int{9, 3} }, false},
		{"jitter pair", func(c *Config) { c.Throttle.JitterSeconds = []int{3, 9} }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.ok && err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	path := writeConfig(t, "config.json", `{"throttle":{"per_minute":5}} {"extra":true}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

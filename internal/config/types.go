package config

import (
	"errors"
	"fmt"
	"strings"

	"wabridge/internal/phone"
)

// Config is the bridge's on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "3s", "1m").
type Config struct {
	Logging   LoggingConfig    `json:"logging"`
	Phone     PhoneConfig      `json:"phone"`
	Transport TransportConfig  `json:"transport"`
	Throttle  ThrottleConfig   `json:"throttle"`
	Storage   *StorageConfig   `json:"storage,omitempty"`
	Scheduler *SchedulerConfig `json:"scheduler,omitempty"`
}

type LoggingConfig struct {
	Level   string     `json:"level"`
	Console bool       `json:"console"`
	File    FileConfig `json:"file"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// PhoneConfig describes the operating region's numbering plan.
type PhoneConfig struct {
	CountryCode string `json:"country_code"`
	LocalLength int    `json:"local_length"`
	MobileLead  string `json:"mobile_lead"`
}

func (p PhoneConfig) Profile() phone.Profile {
	return phone.Profile{CountryCode: p.CountryCode, LocalLength: p.LocalLength, MobileLead: p.MobileLead}
}

type TransportConfig struct {
	// ListenAddr is where the agent extension connects. Keep it loopback.
	ListenAddr string `json:"listen_addr"`

	ProbeTimeout string `json:"probe_timeout,omitempty"`
	FramesPerSec int    `json:"frames_per_sec,omitempty"`

	// WatchdogInterval controls the mid-batch presence re-probe.
	WatchdogInterval string `json:"watchdog_interval,omitempty"`
}

// ThrottleConfig sets the default throttle carried to the agent when the
// caller does not specify one.
type ThrottleConfig struct {
	PerMinute     int   `json:"per_minute"`
	JitterSeconds []int `json:"jitter_seconds,omitempty"` // [min, max]
}

// StorageConfig controls the optional batch-report archive.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./wabridge.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// SchedulerConfig controls deferred/recurring campaign submission.
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"` // IANA TZ, e.g. "America/Bogota"
}

// Default returns the reference deployment configuration.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Phone:   PhoneConfig{CountryCode: "57", LocalLength: 10, MobileLead: "3"},
		Transport: TransportConfig{
			ListenAddr:   "127.0.0.1:8787",
			ProbeTimeout: "3s",
			FramesPerSec: 20,
		},
		Throttle: ThrottleConfig{PerMinute: 10, JitterSeconds: []int{3, 9}},
	}
}

// Validate checks invariants that would otherwise surface as confusing
// runtime behavior. It is also used as the hot-reload gate.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.Phone.CountryCode) == "" {
		return errors.New("phone.country_code is required")
	}
	for _, r := range c.Phone.CountryCode {
		if r < '0' || r > '9' {
			return fmt.Errorf("phone.country_code %q must be digits", c.Phone.CountryCode)
		}
	}
	if c.Phone.LocalLength <= 0 {
		return errors.New("phone.local_length must be > 0")
	}
	if strings.TrimSpace(c.Phone.MobileLead) == "" {
		return errors.New("phone.mobile_lead is required")
	}
	if strings.TrimSpace(c.Transport.ListenAddr) == "" {
		return errors.New("transport.listen_addr is required")
	}
	if _, err := ParseDurationField("transport.probe_timeout", c.Transport.ProbeTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("transport.watchdog_interval", c.Transport.WatchdogInterval); err != nil {
		return err
	}
	if c.Throttle.PerMinute <= 0 {
		return errors.New("throttle.per_minute must be > 0")
	}
	if j := c.Throttle.JitterSeconds; len(j) != 0 {
		if len(j) != 2 || j[0] < 0 || j[1] < j[0] {
			return errors.New("throttle.jitter_seconds must be [min, max] with 0 <= min <= max")
		}
	}
	if c.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	return nil
}

// Package config loads the simulator's runtime settings.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by WithDefaults.
// The watchdog settings count simulated seconds, one per tick.
type Config struct {
	HTTPAddr     string `json:"http_addr" yaml:"http_addr" toml:"http_addr"`
	DefaultCodec string `json:"default_codec" yaml:"default_codec" toml:"default_codec"`

	TickMs              int `json:"tick_ms" yaml:"tick_ms" toml:"tick_ms"`
	IdleRebroadcastMs   int `json:"idle_rebroadcast_ms" yaml:"idle_rebroadcast_ms" toml:"idle_rebroadcast_ms"`
	WatchdogPeriodS     int `json:"watchdog_period_s" yaml:"watchdog_period_s" toml:"watchdog_period_s"`
	StandbyAfterS       int `json:"standby_after_s" yaml:"standby_after_s" toml:"standby_after_s"`
	CoolDownAfterS      int `json:"cooldown_after_s" yaml:"cooldown_after_s" toml:"cooldown_after_s"`
	HistoryLimit        int `json:"history_limit" yaml:"history_limit" toml:"history_limit"`
	StatusHistoryKeep   int `json:"status_history_keep" yaml:"status_history_keep" toml:"status_history_keep"`
	HeartbeatS          int `json:"heartbeat_s" yaml:"heartbeat_s" toml:"heartbeat_s"`
	ShutdownGraceMs     int `json:"shutdown_grace_ms" yaml:"shutdown_grace_ms" toml:"shutdown_grace_ms"`
	ObserverQueueLength int `json:"observer_queue_length" yaml:"observer_queue_length" toml:"observer_queue_length"`

	DBPath string `json:"db_path" yaml:"db_path" toml:"db_path"`

	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format"`

	MQTTBroker   string `json:"mqtt_broker" yaml:"mqtt_broker" toml:"mqtt_broker"`
	MQTTClientID string `json:"mqtt_client_id" yaml:"mqtt_client_id" toml:"mqtt_client_id"`

	GPIOEnabled bool   `json:"gpio_enabled" yaml:"gpio_enabled" toml:"gpio_enabled"`
	GPIOChip    string `json:"gpio_chip" yaml:"gpio_chip" toml:"gpio_chip"`
	PinWater    int    `json:"pin_water" yaml:"pin_water" toml:"pin_water"`
	PinGrounds  int    `json:"pin_grounds" yaml:"pin_grounds" toml:"pin_grounds"`
	PollMs      int    `json:"poll_ms" yaml:"poll_ms" toml:"poll_ms"`
	DebounceMs  int    `json:"debounce_ms" yaml:"debounce_ms" toml:"debounce_ms"`

	MDNSEnabled  bool   `json:"mdns_enabled" yaml:"mdns_enabled" toml:"mdns_enabled"`
	MDNSInstance string `json:"mdns_instance" yaml:"mdns_instance" toml:"mdns_instance"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		HTTPAddr:            ":8080",
		DefaultCodec:        "json",
		TickMs:              1000,
		IdleRebroadcastMs:   1000,
		WatchdogPeriodS:     10,
		StandbyAfterS:       60,
		CoolDownAfterS:      120,
		HistoryLimit:        100,
		StatusHistoryKeep:   10000,
		HeartbeatS:          900,
		ShutdownGraceMs:     5000,
		ObserverQueueLength: 64,
		DBPath:              "coffee.db",
		LogLevel:            "info",
		LogFormat:           "console",
		MQTTClientID:        "coffee-machine",
		GPIOChip:            "gpiochip0",
		PinWater:            17,
		PinGrounds:          27,
		PollMs:              100,
		DebounceMs:          250,
		MDNSInstance:        "Coffee Machine",
	}
}

// WithDefaults fills every unspecified field from Default. Booleans and
// fields where empty means "disabled" (mqtt_broker) are left alone.
func (c Config) WithDefaults() Config {
	d := Default()
	str := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	num := func(v *int, def int) {
		if *v == 0 {
			*v = def
		}
	}
	str(&c.HTTPAddr, d.HTTPAddr)
	str(&c.DefaultCodec, d.DefaultCodec)
	num(&c.TickMs, d.TickMs)
	num(&c.IdleRebroadcastMs, d.IdleRebroadcastMs)
	num(&c.WatchdogPeriodS, d.WatchdogPeriodS)
	num(&c.StandbyAfterS, d.StandbyAfterS)
	num(&c.CoolDownAfterS, d.CoolDownAfterS)
	num(&c.HistoryLimit, d.HistoryLimit)
	num(&c.StatusHistoryKeep, d.StatusHistoryKeep)
	num(&c.HeartbeatS, d.HeartbeatS)
	num(&c.ShutdownGraceMs, d.ShutdownGraceMs)
	num(&c.ObserverQueueLength, d.ObserverQueueLength)
	str(&c.DBPath, d.DBPath)
	str(&c.LogLevel, d.LogLevel)
	str(&c.LogFormat, d.LogFormat)
	str(&c.MQTTClientID, d.MQTTClientID)
	str(&c.GPIOChip, d.GPIOChip)
	num(&c.PinWater, d.PinWater)
	num(&c.PinGrounds, d.PinGrounds)
	num(&c.PollMs, d.PollMs)
	num(&c.DebounceMs, d.DebounceMs)
	str(&c.MDNSInstance, d.MDNSInstance)
	return c
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	positive := func(name string, v int) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	positive("tick_ms", c.TickMs)
	positive("idle_rebroadcast_ms", c.IdleRebroadcastMs)
	positive("watchdog_period_s", c.WatchdogPeriodS)
	positive("standby_after_s", c.StandbyAfterS)
	positive("cooldown_after_s", c.CoolDownAfterS)
	positive("history_limit", c.HistoryLimit)
	positive("observer_queue_length", c.ObserverQueueLength)
	if c.HeartbeatS < 0 {
		errs = append(errs, fmt.Errorf("heartbeat_s must not be negative, got %d", c.HeartbeatS))
	}
	if c.StandbyAfterS >= c.CoolDownAfterS {
		errs = append(errs, fmt.Errorf("standby_after_s (%d) must be below cooldown_after_s (%d)", c.StandbyAfterS, c.CoolDownAfterS))
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be console or json, got %q", c.LogFormat))
	}
	if c.GPIOEnabled && c.PinWater == c.PinGrounds {
		errs = append(errs, fmt.Errorf("pin_water and pin_grounds must differ, both %d", c.PinWater))
	}
	return errors.Join(errs...)
}

// Tick returns the simulated second as a real duration.
func (c Config) Tick() time.Duration { return time.Duration(c.TickMs) * time.Millisecond }

// SimSeconds converts n simulated seconds to a real duration at the
// configured tick rate.
func (c Config) SimSeconds(n int) time.Duration { return time.Duration(n) * c.Tick() }

// WatchdogPeriod returns the watchdog check interval in real time.
func (c Config) WatchdogPeriod() time.Duration { return c.SimSeconds(c.WatchdogPeriodS) }

// StandbyAfter returns the inactivity before standby in real time.
func (c Config) StandbyAfter() time.Duration { return c.SimSeconds(c.StandbyAfterS) }

// CoolDownAfter returns the inactivity before cooling down in real time.
func (c Config) CoolDownAfter() time.Duration { return c.SimSeconds(c.CoolDownAfterS) }

// IdleRebroadcast returns the keep-alive interval.
func (c Config) IdleRebroadcast() time.Duration {
	return time.Duration(c.IdleRebroadcastMs) * time.Millisecond
}

// Heartbeat returns the MQTT heartbeat interval; zero disables it.
func (c Config) Heartbeat() time.Duration { return time.Duration(c.HeartbeatS) * time.Second }

// ShutdownGrace returns how long shutdown waits for the running task.
func (c Config) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceMs) * time.Millisecond
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

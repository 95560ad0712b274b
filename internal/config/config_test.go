package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	p := writeTempFile(t, t.TempDir(), "cfg.yaml", "http_addr: :9999\ntick_ms: 50\nmqtt_broker: tcp://broker:1883\ngpio_enabled: true\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":9999" || cfg.TickMs != 50 || cfg.MQTTBroker != "tcp://broker:1883" || !cfg.GPIOEnabled {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadJSON(t *testing.T) {
	p := writeTempFile(t, t.TempDir(), "cfg.json", `{"http_addr":":7070","standby_after_s":30,"cooldown_after_s":90,"log_format":"json"}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":7070" || cfg.StandbyAfterS != 30 || cfg.CoolDownAfterS != 90 || cfg.LogFormat != "json" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadTOML(t *testing.T) {
	p := writeTempFile(t, t.TempDir(), "cfg.toml", "http_addr=\":8081\"\ndb_path=\"/var/lib/coffee.db\"\npin_water=5\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8081" || cfg.DBPath != "/var/lib/coffee.db" || cfg.PinWater != 5 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error on empty path")
	}
	d := t.TempDir()
	if _, err := Load(writeTempFile(t, d, "cfg.txt", "not supported")); err == nil {
		t.Fatalf("expected unsupported extension error")
	}
	if _, err := Load(writeTempFile(t, d, "bad.json", "{")); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestWithDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := Config{TickMs: 10, HTTPAddr: ":1"}.WithDefaults()

	if cfg.TickMs != 10 || cfg.HTTPAddr != ":1" {
		t.Errorf("explicit values overwritten: %+v", cfg)
	}
	if cfg.StandbyAfterS != 60 || cfg.CoolDownAfterS != 120 || cfg.WatchdogPeriodS != 10 {
		t.Errorf("watchdog defaults: got %d/%d/%d", cfg.StandbyAfterS, cfg.CoolDownAfterS, cfg.WatchdogPeriodS)
	}
	if cfg.MQTTBroker != "" {
		t.Errorf("mqtt broker should stay disabled, got %q", cfg.MQTTBroker)
	}
	if cfg.Tick() != 10*time.Millisecond {
		t.Errorf("Tick: got %v", cfg.Tick())
	}
}

func TestWatchdogDurationsFollowTick(t *testing.T) {
	cfg := Default()
	if cfg.StandbyAfter() != 60*time.Second || cfg.CoolDownAfter() != 120*time.Second || cfg.WatchdogPeriod() != 10*time.Second {
		t.Errorf("at 1s ticks: got %v/%v/%v", cfg.StandbyAfter(), cfg.CoolDownAfter(), cfg.WatchdogPeriod())
	}

	cfg.TickMs = 100
	if cfg.StandbyAfter() != 6*time.Second || cfg.CoolDownAfter() != 12*time.Second || cfg.WatchdogPeriod() != time.Second {
		t.Errorf("at 100ms ticks: got %v/%v/%v", cfg.StandbyAfter(), cfg.CoolDownAfter(), cfg.WatchdogPeriod())
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestValidateReportsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.TickMs = 0
	cfg.StandbyAfterS = 200
	cfg.LogFormat = "xml"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"tick_ms", "standby_after_s", "log_format"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

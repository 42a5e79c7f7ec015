package conf

import (
	"testing"
	"time"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	cfg := LoadFromEnv()
	if cfg.Gateway.Port != 8321 {
		t.Fatalf("port = %d", cfg.Gateway.Port)
	}
	if cfg.Fleet.CommandPrefix != "." {
		t.Fatalf("prefix = %q", cfg.Fleet.CommandPrefix)
	}
	if cfg.Fleet.RestartDelay != 2*time.Second {
		t.Fatalf("restart delay = %s", cfg.Fleet.RestartDelay)
	}
	if cfg.Fleet.LogCapacity != 200 || cfg.Fleet.HistoryLimit != 500 {
		t.Fatalf("capacities = %d/%d", cfg.Fleet.LogCapacity, cfg.Fleet.HistoryLimit)
	}
	if cfg.Store.BotsDBPath == "" || cfg.Store.ArchivePath == "" {
		t.Fatal("store paths not derived")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("PANEL_PORT", "9000")
	t.Setenv("COMMAND_PREFIX", "!")
	t.Setenv("RESTART_DELAY_MS", "1500")
	t.Setenv("BOT_ADMINS", "111@s.whatsapp.net, 222@s.whatsapp.net")

	cfg := LoadFromEnv()
	if cfg.Gateway.Port != 9000 {
		t.Fatalf("port = %d", cfg.Gateway.Port)
	}
	if cfg.Fleet.CommandPrefix != "!" {
		t.Fatalf("prefix = %q", cfg.Fleet.CommandPrefix)
	}
	if cfg.Fleet.RestartDelay != 1500*time.Millisecond {
		t.Fatalf("restart delay = %s", cfg.Fleet.RestartDelay)
	}
	if len(cfg.Fleet.Admins) != 2 || cfg.Fleet.Admins[1] != "222@s.whatsapp.net" {
		t.Fatalf("admins = %v", cfg.Fleet.Admins)
	}
}

func TestValidate(t *testing.T) {
	cfg := LoadFromEnv()
	cfg.Gateway.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("invalid port accepted")
	}
	cfg = LoadFromEnv()
	cfg.Fleet.CommandPrefix = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("empty prefix accepted")
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

// inTempDir runs the test from an empty directory so no real config file is
// picked up.
func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestDefaults(t *testing.T) {
	inTempDir(t)
	cfg, err := Load(viper.New())
	if err != nil {
		t.Fatal(err)
	}
	checks := []struct {
		name string
		got  any
		want any
	}{
		{"connect timeout", cfg.Session.ConnectTimeout, 15 * time.Second},
		{"end ack", cfg.Session.EndAckTimeout, 3 * time.Second},
		{"acquire", cfg.Session.AcquireTimeout, 10 * time.Second},
		{"seat request", cfg.Session.SeatRequestTimeout, 60 * time.Second},
		{"accept window", cfg.PK.AcceptWindow, 30 * time.Second},
		{"pk tick", cfg.PK.Tick, time.Second},
		{"chat cap", cfg.Overlay.ChatCap, 100},
		{"gift cap", cfg.Overlay.GiftCap, 20},
		{"chat rate", cfg.Overlay.ChatRate, 5},
		{"chat window", cfg.Overlay.ChatWindow, 10 * time.Second},
		{"ice mode", cfg.ICE.Mode, "stun"},
		{"stun", len(cfg.ICE.STUNURLs), 1},
		{"port", cfg.Port, 8080},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
	if cfg.User.ID == "" {
		t.Error("user id not generated")
	}
}

func TestFileAndEnv(t *testing.T) {
	dir := inTempDir(t)
	if err := os.Mkdir(filepath.Join(dir, "config"), 0o755); err != nil {
		t.Fatal(err)
	}
	yaml := []byte("port: 9090\nuser:\n  id: host-1\n  name: Host\nsignal:\n  url: ws://bus:1/ws\n  reconnect_attempts: 2\n")
	if err := os.WriteFile(filepath.Join(dir, "config", "config.test.yaml"), yaml, 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_ENV", "test")
	t.Setenv("LIVECORE_PORT", "7070")
	t.Setenv("LIVECORE_SESSION_CONNECT_TIMEOUT", "5s")

	cfg, err := Load(viper.New())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 7070 {
		t.Errorf("env should win over file, port = %d", cfg.Port)
	}
	if cfg.User.ID != "host-1" || cfg.User.Name != "Host" {
		t.Errorf("user = %+v", cfg.User)
	}
	if cfg.Signal.URL != "ws://bus:1/ws" || cfg.Signal.ReconnectAttempts != 2 {
		t.Errorf("signal = %+v", cfg.Signal)
	}
	if cfg.Session.ConnectTimeout != 5*time.Second {
		t.Errorf("connect timeout = %s", cfg.Session.ConnectTimeout)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		edit func(*Config)
	}{
		{"bad port", func(c *Config) { c.Port = 0 }},
		{"bad device", func(c *Config) { c.Device = "toaster" }},
		{"turn without urls", func(c *Config) { c.ICE.Mode = "turn" }},
		{"unknown ice", func(c *Config) { c.ICE.Mode = "smoke" }},
		{"no signal url", func(c *Config) { c.Signal.URL = "" }},
		{"zero chat rate", func(c *Config) { c.Overlay.ChatRate = 0 }},
	}
	inTempDir(t)
	base, err := Load(viper.New())
	if err != nil {
		t.Fatal(err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *base
			tt.edit(&c)
			if err := c.Validate(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "daybridge.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Daemon.SyncInterval != 2*time.Minute {
		t.Errorf("sync_interval = %s, want 2m", cfg.Daemon.SyncInterval)
	}
	if cfg.Daemon.FullReconcile != "0 3 * * *" {
		t.Errorf("full_reconcile = %q", cfg.Daemon.FullReconcile)
	}
	if cfg.HTTP.Addr != "127.0.0.1:7180" {
		t.Errorf("http addr = %q", cfg.HTTP.Addr)
	}
	if cfg.Store.Path == "" {
		t.Error("expected a default store path")
	}
	if len(cfg.Bridges) != 3 {
		t.Fatalf("got %d default bridges, want 3", len(cfg.Bridges))
	}
	for _, b := range cfg.Bridges {
		if b.Timeout != 30*time.Second {
			t.Errorf("bridge %s timeout = %s, want 30s", b.System, b.Timeout)
		}
	}
}

func TestLoadFileOverrides(t *testing.T) {
	path := writeConfig(t, `
store:
  path: /tmp/custom.db
daemon:
  sync_interval: 45s
http:
  addr: 127.0.0.1:9999
bridges:
  - system: reminders
    kind: task
    list: Inbox
schedule:
  mask_path: /tmp/hours.yaml
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Store.Path != "/tmp/custom.db" {
		t.Errorf("store path = %q", cfg.Store.Path)
	}
	if cfg.Daemon.SyncInterval != 45*time.Second {
		t.Errorf("sync_interval = %s, want 45s", cfg.Daemon.SyncInterval)
	}
	if cfg.HTTP.Addr != "127.0.0.1:9999" {
		t.Errorf("http addr = %q", cfg.HTTP.Addr)
	}
	if len(cfg.Bridges) != 1 || cfg.Bridges[0].List != "Inbox" {
		t.Errorf("bridges = %+v", cfg.Bridges)
	}
	// Explicit bridges still get the timeout default.
	if cfg.Bridges[0].Timeout != 30*time.Second {
		t.Errorf("bridge timeout = %s, want 30s", cfg.Bridges[0].Timeout)
	}
	if cfg.Schedule.MaskPath != "/tmp/hours.yaml" {
		t.Errorf("mask path = %q", cfg.Schedule.MaskPath)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DAYBRIDGE_HTTP_ADDR", "127.0.0.1:7777")
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.HTTP.Addr != "127.0.0.1:7777" {
		t.Errorf("http addr = %q, want env override", cfg.HTTP.Addr)
	}
}

func TestLoadAnthropicKeyFallsBackToEnv(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Annotate.APIKey != "sk-test" {
		t.Errorf("api key = %q, want sk-test", cfg.Annotate.APIKey)
	}
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected missing explicit config file to fail")
	}
}

func TestValidateRejectsBadBridges(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"unknown system", "bridges:\n  - system: notes\n    kind: task\n"},
		{"unknown kind", "bridges:\n  - system: reminders\n    kind: widget\n"},
		{"duplicate kind", "bridges:\n  - system: reminders\n    kind: task\n  - system: reminders\n    kind: task\n"},
		{"zero interval", "daemon:\n  sync_interval: 0s\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.body)); err == nil {
				t.Errorf("expected %s to be rejected", tc.name)
			}
		})
	}
}

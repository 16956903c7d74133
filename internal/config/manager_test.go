package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{
  "telegram": {"token": "t", "owner_user_ids": [7], "group_log": "", "poll_timeout": "10s"},
  "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}, "chat": {"enabled": false, "thread_id": 0, "min_level": "", "rate_per_sec": 0}},
  "broadcast": {"enabled": true, "message_delay": "2s", "cooldown": "1h", "batch_limit": 75},
  "storage": {"driver": "memory", "path": ""}
}`)
	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "t" || len(cfg.Telegram.OwnerUserIDs) != 1 {
		t.Fatalf("telegram section mismatch: %+v", cfg.Telegram)
	}
	if cfg.Broadcast.BatchLimit != 75 || cfg.Broadcast.Cooldown != "1h" {
		t.Fatalf("broadcast section mismatch: %+v", cfg.Broadcast)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get() should return the committed config")
	}
}

func TestLoadYAMLCoercion(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
telegram:
  token: t
  owner_user_ids: [7, 8]
  group_log: ""
  poll_timeout: 10s
logging:
  level: debug
  console: true
  file: {enabled: false, path: ""}
  chat: {enabled: false, thread_id: 0, min_level: "", rate_per_sec: 0}
broadcast:
  enabled: true
  message_delay: 2s
  cooldown: 1h
  batch_limit: 75
storage:
  driver: memory
  path: ""
`)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Telegram.OwnerUserIDs) != 2 || cfg.Logging.Level != "debug" {
		t.Fatalf("yaml config mismatch: %+v", cfg)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"telegram": {"token": "t", "owner_user_ids": [], "group_log": "", "poll_timeout": ""}, "logging": {"level": "", "console": false, "file": {"enabled": false, "path": ""}, "chat": {"enabled": false, "thread_id": 0, "min_level": "", "rate_per_sec": 0}}, "broadcast": {"enabled": false}, "storage": {"driver": "", "path": ""}, "legacy_section": {}}`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected unknown-field error")
	}
}

func TestLoadRejectsTrailingData(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"telegram": {"token": "t", "owner_user_ids": [], "group_log": "", "poll_timeout": ""}, "logging": {"level": "", "console": false, "file": {"enabled": false, "path": ""}, "chat": {"enabled": false, "thread_id": 0, "min_level": "", "rate_per_sec": 0}}, "broadcast": {"enabled": false}, "storage": {"driver": "", "path": ""}} {"extra": true}`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected trailing-data error")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	cases := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"2s", 2 * time.Second, false},
		{"1h", time.Hour, false},
		{" 10s ", 10 * time.Second, false},
		{"-1s", 0, true},
		{"soon", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseDurationField("x", tc.raw)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseDurationField(%q) err = %v, wantErr %v", tc.raw, err, tc.wantErr)
			continue
		}
		if err == nil && got != tc.want {
			t.Errorf("ParseDurationField(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	got, err := ParseDurationOrDefault("x", "", 2*time.Second)
	if err != nil || got != 2*time.Second {
		t.Fatalf("empty = (%v, %v), want default 2s", got, err)
	}
	got, err = ParseDurationOrDefault("x", "5s", 2*time.Second)
	if err != nil || got != 5*time.Second {
		t.Fatalf("5s = (%v, %v), want 5s", got, err)
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validYAML = `
discord:
  token: "xyz"
  command_prefix: "!keeper"
  owner_user_ids: ["111", "222"]
logging:
  level: debug
  console: true
  file:
    enabled: false
    path: ""
engine:
  enabled: true
  interval: 30s
  grace: 2m
  workers: 2
  default_timezone: America/New_York
storage:
  path: data/keeper.db
`

func TestParseYAML(t *testing.T) {
	t.Parallel()

	m := NewManager(writeConfig(t, "config.yaml", validYAML))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Discord.Token != "xyz" {
		t.Fatalf("token = %q", cfg.Discord.Token)
	}
	if got := len(cfg.Discord.OwnerUserIDs); got != 2 {
		t.Fatalf("owner ids = %d, want 2", got)
	}
	if cfg.Engine.Interval != "30s" || cfg.Engine.DefaultTimezone != "America/New_York" {
		t.Fatalf("engine = %+v", cfg.Engine)
	}
	if cfg.Storage.Path != "data/keeper.db" {
		t.Fatalf("storage path = %q", cfg.Storage.Path)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	m := NewManager(writeConfig(t, "config.yaml", validYAML+"\nbogus_section:\n  x: 1\n"))
	if _, err := m.Parse(); err == nil {
		t.Fatal("Parse accepted unknown top-level section")
	}
}

func TestParseJSON(t *testing.T) {
	t.Parallel()

	body := `{"discord":{"token":"t"},"logging":{"level":"info","console":true,"file":{"enabled":false,"path":""}},"engine":{"enabled":false},"storage":{"path":"k.db"}}`
	m := NewManager(writeConfig(t, "config.json", body))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Discord.Token != "t" || cfg.Logging.Level != "info" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()

	body := `{"discord":{"token":"t"},"logging":{"level":"info","console":true,"file":{"enabled":false,"path":""}},"engine":{"enabled":false},"storage":{"path":"k.db"}} {"extra":1}`
	m := NewManager(writeConfig(t, "config.json", body))
	if _, err := m.Parse(); err == nil {
		t.Fatal("Parse accepted trailing JSON document")
	}
}

func TestLoadCommitsAndGetReturns(t *testing.T) {
	t.Parallel()

	m := NewManager(writeConfig(t, "config.yaml", validYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Get returned a different config than Load committed")
	}
}

func TestSubscribeDropsOldestWhenFull(t *testing.T) {
	t.Parallel()

	m := NewManager("unused")
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	first := &Config{Logging: LoggingConfig{Level: "info"}}
	second := &Config{Logging: LoggingConfig{Level: "debug"}}
	m.publish(first)
	m.publish(second)

	got := <-ch
	if got.Logging.Level != "debug" {
		t.Fatalf("subscriber got %q, want latest %q", got.Logging.Level, "debug")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	oldCfg := &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Engine:  EngineConfig{Enabled: true, Interval: "1m"},
	}
	newCfg := &Config{
		Logging: LoggingConfig{Level: "debug", Console: true},
		Engine:  EngineConfig{Enabled: true, Interval: "30s"},
	}

	changed, _ := SummarizeConfigChange(oldCfg, newCfg)
	want := map[string]bool{"engine": true, "logging": true}
	if len(changed) != len(want) {
		t.Fatalf("changed = %v", changed)
	}
	for _, c := range changed {
		if !want[c] {
			t.Fatalf("unexpected changed section %q in %v", c, changed)
		}
	}

	same, _ := SummarizeConfigChange(newCfg, newCfg)
	if len(same) != 0 {
		t.Fatalf("no-op diff reported %v", same)
	}
}

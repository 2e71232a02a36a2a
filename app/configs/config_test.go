package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewManagerCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config", "config.json")
	mgr, err := NewManager(path)
	if err != nil {
		t.Fatalf("new manager failed: %v", err)
	}

	cfg := mgr.Get()
	if cfg.Bot.Name != "Minuteman" {
		t.Fatalf("expected default bot name, got %q", cfg.Bot.Name)
	}
	if cfg.Server.Port != 8090 {
		t.Fatalf("expected default port, got %d", cfg.Server.Port)
	}
	if cfg.Remind.Cron != "0 9 * * 1-5" {
		t.Fatalf("expected default cron, got %q", cfg.Remind.Cron)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file should be written: %v", err)
	}
}

func TestNewManagerLoadsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
  "bot": {"name": "MeetingBot"},
  "server": {"port": 9000},
  "departments": {"sales": ["group:G1", "room:R1"]}
}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config failed: %v", err)
	}

	mgr, err := NewManager(path)
	if err != nil {
		t.Fatalf("new manager failed: %v", err)
	}
	cfg := mgr.Get()
	if cfg.Bot.Name != "MeetingBot" {
		t.Fatalf("expected file value, got %q", cfg.Bot.Name)
	}
	if cfg.Server.Port != 9000 {
		t.Fatalf("expected file port, got %d", cfg.Server.Port)
	}
	// omitted fields are backfilled
	if cfg.Extractor.Model != "gpt-4o-mini" {
		t.Fatalf("expected default model, got %q", cfg.Extractor.Model)
	}
	if cfg.Extractor.TimeoutSec != 30 {
		t.Fatalf("expected default timeout, got %d", cfg.Extractor.TimeoutSec)
	}
}

func TestNewManagerRejectsInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	if _, err := NewManager(path); err == nil {
		t.Fatal("invalid JSON should be rejected")
	}
}

func TestUpdatePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	mgr, err := NewManager(path)
	if err != nil {
		t.Fatalf("new manager failed: %v", err)
	}

	updated, err := mgr.Update(func(c *Config) {
		c.Remind.Enabled = false
		c.Server.Port = 0 // reset to default
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Remind.Enabled {
		t.Fatal("remind should be disabled")
	}
	if updated.Server.Port != 8090 {
		t.Fatalf("zero port should be defaulted, got %d", updated.Server.Port)
	}

	reloaded, err := NewManager(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.Get().Remind.Enabled {
		t.Fatal("update must persist across reloads")
	}
}

func TestDepartmentScopes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	mgr, err := NewManager(path)
	if err != nil {
		t.Fatalf("new manager failed: %v", err)
	}
	if _, err := mgr.Update(func(c *Config) {
		c.Departments = map[string][]string{"sales": {"group:G1", "room:R1"}}
	}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	scopes := mgr.DepartmentScopes("sales")
	if len(scopes) != 2 || scopes[0] != "group:G1" || scopes[1] != "room:R1" {
		t.Fatalf("unexpected scopes: %v", scopes)
	}
	if got := mgr.DepartmentScopes("unknown"); got != nil {
		t.Fatalf("unknown department should resolve to nil, got %v", got)
	}

	// returned slice is a copy
	scopes[0] = "mutated"
	if again := mgr.DepartmentScopes("sales"); again[0] != "group:G1" {
		t.Fatal("callers must not mutate stored scopes")
	}
}

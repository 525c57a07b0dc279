package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_PG_DSN", "postgres://real:secret@db/toolscope")

	path := writeConfig(t, `{
		"server": {"port": 9090},
		"database": {
			"postgres": {"dsn": "${TEST_PG_DSN}"},
			"redis": {"url": "${TEST_MISSING_VAR:redis://localhost:6379}"}
		}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Database.Postgres.DSN != "postgres://real:secret@db/toolscope" {
		t.Errorf("dsn = %q", cfg.Database.Postgres.DSN)
	}
	if cfg.Database.Redis.URL != "redis://localhost:6379" {
		t.Errorf("redis url = %q (default not applied)", cfg.Database.Redis.URL)
	}
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `{}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Search.SkillThreshold != 0.4 || cfg.Search.ToolThreshold != 0.3 {
		t.Errorf("thresholds = %v / %v", cfg.Search.SkillThreshold, cfg.Search.ToolThreshold)
	}
	if cfg.Search.SkillLimit != 5 || cfg.Search.Limit != 10 {
		t.Errorf("limits = %d / %d", cfg.Search.SkillLimit, cfg.Search.Limit)
	}
	if cfg.Search.MaxQueryLength != 1000 {
		t.Errorf("max query length = %d", cfg.Search.MaxQueryLength)
	}
	if cfg.Classify.MinConfidence != 0.5 {
		t.Errorf("min confidence = %v", cfg.Classify.MinConfidence)
	}
	if cfg.Collections.Skills != "toolscope_skills" || cfg.Collections.Items != "toolscope_items" {
		t.Errorf("collections = %+v", cfg.Collections)
	}
	if cfg.Refresh.Mode != "direct" {
		t.Errorf("refresh mode = %q", cfg.Refresh.Mode)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.json"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadInvalidJSON(t *testing.T) {
	path := writeConfig(t, `{`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

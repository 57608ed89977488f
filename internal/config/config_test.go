package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWithNoFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	def := Defaults()
	if cfg.DBPath != def.DBPath || cfg.LogLevel != def.LogLevel || cfg.CommunicationSocket != def.CommunicationSocket {
		t.Errorf("expected defaults to apply with no config file, got %+v", cfg)
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "raled.toml")
	contents := "node_id = 3\nnode_name = \"n3\"\ndb_path = \"/var/lib/rale\"\n"
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("fixture write failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.NodeID != 3 || cfg.NodeName != "n3" {
		t.Errorf("expected file overrides to apply, got %+v", cfg)
	}
	if cfg.DBPath != "/var/lib/rale" {
		t.Errorf("expected db_path override, got %q", cfg.DBPath)
	}
	if cfg.LogLevel != Defaults().LogLevel {
		t.Errorf("expected unset fields to keep their default, got log level %q", cfg.LogLevel)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("RALE_DB_PATH", "/from/env")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DBPath != "/from/env" {
		t.Errorf("expected RALE_DB_PATH to override db_path, got %q", cfg.DBPath)
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("expected Load to fail for an explicitly named missing config file")
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Retrieval.Alpha != 0.4 || cfg.Retrieval.Beta != 0.4 || cfg.Retrieval.Gamma != 0.2 {
		t.Errorf("unexpected default fusion weights: %+v", cfg.Retrieval)
	}
	if cfg.Linker.SemanticThreshold != 0.5 || cfg.Linker.TagJaccard != 0.3 {
		t.Errorf("unexpected default linker thresholds: %+v", cfg.Linker)
	}
}

func TestLoadFileAndEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("store:\n  path: from-file.db\ncluster:\n  resolution: 1.5\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("NOTEGRAPH_DB_PATH", "from-env.db")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Store.Path != "from-env.db" {
		t.Errorf("env should win over file, got %q", cfg.Store.Path)
	}
	if cfg.Cluster.Resolution != 1.5 {
		t.Errorf("file should win over default, got %v", cfg.Cluster.Resolution)
	}
	if cfg.Retrieval.Decay != 0.5 {
		t.Errorf("untouched defaults should survive, got %v", cfg.Retrieval.Decay)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if cfg.Store.Path != "notegraph.db" {
		t.Errorf("expected default store path, got %q", cfg.Store.Path)
	}
}

func TestValidateRejectsBadProvider(t *testing.T) {
	cfg := Default()
	cfg.LLM.Provider = "carrier-pigeon"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for unknown provider")
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Server.Host != "localhost" || cfg.Server.Port != 8080 {
		t.Errorf("server defaults: %+v", cfg.Server)
	}
	if cfg.Search.TopK != 4 {
		t.Errorf("TopK = %d, want 4", cfg.Search.TopK)
	}
	if cfg.Search.MinScore != 0.7 {
		t.Errorf("MinScore = %f, want 0.7", cfg.Search.MinScore)
	}
	if cfg.Embedding.Dimensions != 1024 || cfg.Embedding.ImageSize != 224 {
		t.Errorf("embedding defaults: %+v", cfg.Embedding)
	}
	if cfg.Storage.DatabasePath == "" || cfg.Storage.IndexDir == "" {
		t.Errorf("storage defaults: %+v", cfg.Storage)
	}
}

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	cfg := &Config{}
	cfg.Search.TopK = 10
	cfg.Search.MinScore = 0.5
	ApplyDefaults(cfg)

	if cfg.Search.TopK != 10 || cfg.Search.MinScore != 0.5 {
		t.Errorf("explicit values overwritten: %+v", cfg.Search)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  port: 9090
storage:
  database_path: ./data/patchdb.db
search:
  top_k: 6
  min_score: 0.8
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Debug {
		t.Error("debug not parsed")
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Search.TopK != 6 || cfg.Search.MinScore != 0.8 {
		t.Errorf("search config: %+v", cfg.Search)
	}
	// "./" paths are resolved relative to the config directory.
	want := filepath.Join(dir, "data/patchdb.db")
	if cfg.Storage.DatabasePath != want {
		t.Errorf("database path = %q, want %q", cfg.Storage.DatabasePath, want)
	}
	// Defaults still fill in unset fields.
	if cfg.Server.Host != "localhost" {
		t.Errorf("host default missing: %q", cfg.Server.Host)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config")
	}
}

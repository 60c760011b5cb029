// Package config provides configuration loading and structs for the PatchDB server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the catalog database, index blobs, stored
// images, and the group-name keyword index.
type StorageConfig struct {
	DatabasePath   string `yaml:"database_path"`
	IndexDir       string `yaml:"index_dir"`
	ImagesDir      string `yaml:"images_dir"`
	GroupIndexPath string `yaml:"group_index_path"`
}

// EmbeddingConfig holds CLIP ONNX embedder settings.
type EmbeddingConfig struct {
	ModelPath  string `yaml:"model_path"`
	Dimensions int    `yaml:"dimensions"`
	ImageSize  int    `yaml:"image_size"`
	// UseMock replaces the ONNX model with the deterministic mock embedder.
	// Useful for development without the onnxruntime library.
	UseMock bool `yaml:"use_mock"`
}

// SearchConfig holds similarity search settings.
type SearchConfig struct {
	// TopK is the maximum number of similarity results per query.
	TopK int `yaml:"top_k"`
	// MinScore is the minimum cosine similarity for a result to count as a match.
	MinScore float64 `yaml:"min_score"`
	// GroupSearchLimit caps group-name keyword search results.
	GroupSearchLimit int `yaml:"group_search_limit"`
}

// WatchConfig holds images-directory watch settings.
type WatchConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads and parses the config file at path, expands paths, and applies
// defaults. Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.IndexDir = expandPath(cfg.Storage.IndexDir, configDir)
	cfg.Storage.ImagesDir = expandPath(cfg.Storage.ImagesDir, configDir)
	cfg.Storage.GroupIndexPath = expandPath(cfg.Storage.GroupIndexPath, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)

	return &cfg, nil
}

// expandPath converts a path to absolute. Paths starting with "./" are
// relative to configDir; other relative paths are relative to the home
// directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}

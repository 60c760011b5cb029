package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/patchdb/data/db/patchdb.db"
	}
	if cfg.Storage.IndexDir == "" {
		cfg.Storage.IndexDir = "/usr/local/var/patchdb/data/indexes"
	}
	if cfg.Storage.ImagesDir == "" {
		cfg.Storage.ImagesDir = "/usr/local/var/patchdb/data/images"
	}
	if cfg.Storage.GroupIndexPath == "" {
		cfg.Storage.GroupIndexPath = "/usr/local/var/patchdb/data/indexes/groups.bleve"
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/patchdb/data/models/clip-rn50-image.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 1024
	}
	if cfg.Embedding.ImageSize == 0 {
		cfg.Embedding.ImageSize = 224
	}
	if cfg.Search.TopK == 0 {
		cfg.Search.TopK = 4
	}
	if cfg.Search.MinScore == 0 {
		cfg.Search.MinScore = 0.7
	}
	if cfg.Search.GroupSearchLimit == 0 {
		cfg.Search.GroupSearchLimit = 20
	}
}

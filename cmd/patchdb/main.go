// Package main is the PatchDB CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/patchdb/patchdb/internal/catalog"
	"github.com/patchdb/patchdb/internal/config"
	"github.com/patchdb/patchdb/internal/embedding"
	"github.com/patchdb/patchdb/internal/filestore"
	"github.com/patchdb/patchdb/internal/groupindex"
	"github.com/patchdb/patchdb/internal/patches"
	"github.com/patchdb/patchdb/internal/server"
	"github.com/patchdb/patchdb/internal/vector"
	"github.com/patchdb/patchdb/internal/watcher"
	"github.com/patchdb/patchdb/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/patchdb/config.yaml"

// loadConfig loads config from path. When path is the default, a config.yaml
// in the current directory takes precedence so running from the project dir
// uses the project's config.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("patchdb version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	cat, err := catalog.NewSQLiteCatalog(cfg.Storage.DatabasePath)
	if err != nil {
		logger.Fatal("failed to open catalog", zap.Error(err))
	}
	defer cat.Close()

	var embedder embedding.Embedder
	if cfg.Embedding.UseMock {
		logger.Warn("using mock embedder; similarity scores are not meaningful")
		embedder = embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
	} else {
		embedder, err = embedding.NewCLIPEmbedder(
			cfg.Embedding.ModelPath, cfg.Embedding.Dimensions, cfg.Embedding.ImageSize)
		if err != nil {
			logger.Fatal("failed to load embedding model", zap.Error(err))
		}
	}
	defer embedder.Close()

	groups, err := groupindex.New(cfg.Storage.GroupIndexPath)
	if err != nil {
		logger.Fatal("failed to open group index", zap.Error(err))
	}
	defer groups.Close()

	svc := patches.NewService(
		cat,
		embedder,
		vector.NewFileStore(cfg.Storage.IndexDir),
		filestore.NewStore(cfg.Storage.ImagesDir),
		groups,
		&cfg.Search,
		patches.WithLogger(logger),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Watch.Enabled {
		w := watcher.NewWatcher(cfg.Storage.ImagesDir, func(path string) {
			if err := svc.RemovePatchByPath(context.Background(), path); err != nil {
				logger.Warn("image cleanup failed", zap.String("path", path), zap.Error(err))
			}
		}, watcher.WithLogger(logger))
		if err := w.Start(ctx); err != nil {
			logger.Fatal("failed to start images watcher", zap.Error(err))
		}
		defer w.Stop()
	}

	srv := server.NewServer(svc, cat, cfg, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			logger.Error("shutdown failed", zap.Error(err))
		}
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	url := fmt.Sprintf("http://%s:%d/status", cfg.Server.Host, cfg.Server.Port)
	resp, err := http.Get(url)
	if err != nil {
		fmt.Printf("Server not reachable at %s: %v\n", url, err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Printf("Failed to read response: %v\n", err)
		os.Exit(1)
	}
	var pretty map[string]interface{}
	if err := json.Unmarshal(body, &pretty); err == nil {
		out, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Println(string(out))
	} else {
		fmt.Println(string(body))
	}
}

func printUsage() {
	fmt.Println(`patchdb - patch collection similarity service

Usage:
  patchdb server [--config path] [--debug]   start the HTTP server
  patchdb status [--config path]             show server status
  patchdb version                            print version
  patchdb help                               show this help`)
}

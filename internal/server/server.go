// Package server provides the HTTP API for PatchDB.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/patchdb/patchdb/internal/catalog"
	"github.com/patchdb/patchdb/internal/config"
	"github.com/patchdb/patchdb/internal/patches"
)

// Server is the HTTP server for the PatchDB API.
type Server struct {
	service *patches.Service
	catalog catalog.Catalog
	config  *config.Config
	logger  *zap.Logger
	server  *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	service *patches.Service,
	cat catalog.Catalog,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		service: service,
		catalog: cat,
		config:  cfg,
		logger:  logger,
	}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Post("/api/v1/user", s.handleUpsertUser)
	r.Route("/api/v1/{userID}", func(r chi.Router) {
		r.Post("/upload", s.handleUpload)
		r.Get("/patches", s.handleListPatches)
		r.Delete("/patches/{patchID}", s.handleDeletePatch)
		r.Post("/groups", s.handleCreateGroup)
		r.Patch("/groups", s.handleAddToGroup)
		r.Get("/groups/search", s.handleSearchGroups)
		r.Put("/groups/{groupID}/favorite", s.handleSetFavorite)
		r.Delete("/groups/{groupID}", s.handleDeleteGroup)
	})
	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)

	// Stored images are served statically, mirroring their on-disk layout.
	fileServer := http.StripPrefix("/images/", http.FileServer(http.Dir(s.config.Storage.ImagesDir)))
	r.Get("/images/*", fileServer.ServeHTTP)

	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

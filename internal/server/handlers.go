package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/patchdb/patchdb/internal/catalog"
	"github.com/patchdb/patchdb/internal/embedding"
	"github.com/patchdb/patchdb/internal/filestore"
	"github.com/patchdb/patchdb/internal/patches"
)

// maxUploadBytes caps multipart upload memory and request size.
const maxUploadBytes = 32 << 20

type upsertUserRequest struct {
	Username string `json:"username"`
}

func (s *Server) handleUpsertUser(w http.ResponseWriter, r *http.Request) {
	var req upsertUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
		s.respondError(w, http.StatusBadRequest, "username is required")
		return
	}
	user, created, err := s.service.UpsertUser(r.Context(), req.Username)
	if err != nil {
		s.logger.Error("user upsert failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	s.respondJSON(w, status, user)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userIDParam(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.respondError(w, http.StatusBadRequest, "you must provide an image to upload")
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "you must provide an image to upload")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read image")
		return
	}

	resp, err := s.service.Upload(r.Context(), userID, header.Filename, data)
	if err != nil {
		s.respondServiceError(w, "upload failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListPatches(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userIDParam(w, r)
	if !ok {
		return
	}
	listing, err := s.service.ListPatches(r.Context(), userID)
	if err != nil {
		s.respondServiceError(w, "list patches failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, listing)
}

func (s *Server) handleDeletePatch(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userIDParam(w, r)
	if !ok {
		return
	}
	patchID, err := strconv.ParseInt(chi.URLParam(r, "patchID"), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid patch id")
		return
	}
	if err := s.service.DeletePatch(r.Context(), userID, patchID); err != nil {
		s.respondServiceError(w, "delete patch failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"message": "patch deleted"})
}

type createGroupRequest struct {
	Name    string `json:"name"`
	PatchID int64  `json:"patch_id"`
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userIDParam(w, r)
	if !ok {
		return
	}
	var req createGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" || req.PatchID == 0 {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	group, err := s.service.CreateGroup(r.Context(), userID, req.Name, req.PatchID)
	if err != nil {
		s.respondServiceError(w, "create group failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"group_id":   group.ID,
		"group_name": group.Name,
	})
}

type addToGroupRequest struct {
	PatchID int64 `json:"patch_id"`
	GroupID int64 `json:"group_id"`
}

func (s *Server) handleAddToGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userIDParam(w, r)
	if !ok {
		return
	}
	var req addToGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PatchID == 0 || req.GroupID == 0 {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.service.AddToGroup(r.Context(), userID, req.PatchID, req.GroupID); err != nil {
		s.respondServiceError(w, "add to group failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"message": "patch added to group"})
}

type favoriteRequest struct {
	IsFavorite bool `json:"is_favorite"`
}

func (s *Server) handleSetFavorite(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userIDParam(w, r)
	if !ok {
		return
	}
	groupID, err := strconv.ParseInt(chi.URLParam(r, "groupID"), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid group id")
		return
	}
	var req favoriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.service.SetFavorite(r.Context(), userID, groupID, req.IsFavorite); err != nil {
		s.respondServiceError(w, "set favorite failed", err)
		return
	}
	msg := "patch group removed from favorites"
	if req.IsFavorite {
		msg = "patch group marked as favorite"
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"message": msg})
}

func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userIDParam(w, r)
	if !ok {
		return
	}
	groupID, err := strconv.ParseInt(chi.URLParam(r, "groupID"), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid group id")
		return
	}
	if err := s.service.DeleteGroup(r.Context(), userID, groupID); err != nil {
		s.respondServiceError(w, "delete group failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"message": "patch group deleted"})
}

func (s *Server) handleSearchGroups(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userIDParam(w, r)
	if !ok {
		return
	}
	query := r.URL.Query().Get("q")
	if query == "" {
		s.respondError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	groups, err := s.service.SearchGroups(r.Context(), userID, query, limit)
	if err != nil {
		s.respondServiceError(w, "group search failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"groups": groups})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	patchCount, err := s.catalog.CountPatches(ctx)
	if err != nil {
		s.logger.Error("status: count patches failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	groupCount, err := s.catalog.CountPatchGroups(ctx)
	if err != nil {
		s.logger.Error("status: count groups failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]interface{}{
		"patches":      patchCount,
		"patch_groups": groupCount,
	}
	diskBytes, err := filestore.DiskUsageBytes(
		s.config.Storage.DatabasePath,
		s.config.Storage.IndexDir,
		s.config.Storage.ImagesDir,
		s.config.Storage.GroupIndexPath,
	)
	if err == nil {
		resp["disk_usage_bytes"] = diskBytes
	}
	resp["config"] = map[string]interface{}{
		"embedding_dimensions": s.config.Embedding.Dimensions,
		"top_k":                s.config.Search.TopK,
		"min_score":            s.config.Search.MinScore,
		"database_path":        s.config.Storage.DatabasePath,
		"index_dir":            s.config.Storage.IndexDir,
		"images_dir":           s.config.Storage.ImagesDir,
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// userIDParam parses the {userID} route parameter, responding 400 on failure.
func (s *Server) userIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid user id")
		return 0, false
	}
	return id, true
}

// respondServiceError maps service errors to HTTP status codes.
func (s *Server) respondServiceError(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, patches.ErrForbidden):
		s.respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, embedding.ErrUnreadableImage):
		s.respondError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error(msg, zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

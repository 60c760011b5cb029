// Package patches orchestrates the catalog, image files, and the per-user
// vector index so that uploads and deletes keep the two stores consistent.
package patches

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/patchdb/patchdb/internal/catalog"
	"github.com/patchdb/patchdb/internal/config"
	"github.com/patchdb/patchdb/internal/embedding"
	"github.com/patchdb/patchdb/internal/filestore"
	"github.com/patchdb/patchdb/internal/groupindex"
	"github.com/patchdb/patchdb/internal/match"
	"github.com/patchdb/patchdb/internal/models"
	"github.com/patchdb/patchdb/internal/vector"
)

// ErrForbidden is returned when a caller tries to delete a patch or group
// they do not own.
var ErrForbidden = errors.New("forbidden")

// namespaceState is one user's index plus the mutex serializing its
// load -> mutate -> save cycles. The index is loaded lazily on first use and
// then reused; Save after every mutation keeps the blob current for other
// processes reading it.
type namespaceState struct {
	mu     sync.Mutex
	idx    *vector.Flat
	loaded bool
}

// Service sequences catalog writes and index writes for upload and delete
// operations. Mutations for one namespace serialize through the namespace's
// mutex; without it, two concurrent uploads could both persist a pre-update
// snapshot and silently drop a vector.
type Service struct {
	catalog    catalog.Catalog
	embedder   embedding.Embedder
	indexes    *vector.FileStore
	files      *filestore.Store
	groups     *groupindex.Index
	reconciler *match.Reconciler
	cfg        *config.SearchConfig
	logger     *zap.Logger

	mu         sync.Mutex
	namespaces map[string]*namespaceState
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets a logger for operational events.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// NewService creates a service with the given dependencies. groups may be nil
// to disable group-name keyword search.
func NewService(
	cat catalog.Catalog,
	embedder embedding.Embedder,
	indexes *vector.FileStore,
	files *filestore.Store,
	groups *groupindex.Index,
	cfg *config.SearchConfig,
	opts ...ServiceOption,
) *Service {
	s := &Service{
		catalog:    cat,
		embedder:   embedder,
		indexes:    indexes,
		files:      files,
		groups:     groups,
		cfg:        cfg,
		logger:     zap.NewNop(),
		namespaces: make(map[string]*namespaceState),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.reconciler = match.NewReconciler(cat, s.logger)
	return s
}

// Namespace returns the index namespace key for a user.
func Namespace(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

// namespace returns the state for ns, creating it if needed.
func (s *Service) namespace(ns string) *namespaceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.namespaces[ns]
	if !ok {
		state = &namespaceState{}
		s.namespaces[ns] = state
	}
	return state
}

// ensureLoadedLocked loads the namespace's index blob on first use. Must be
// called with state.mu held.
func (s *Service) ensureLoadedLocked(ns string, state *namespaceState) error {
	if state.loaded {
		return nil
	}
	idx, ok, err := s.indexes.Load(ns)
	if err != nil {
		return fmt.Errorf("load index for namespace %s: %w", ns, err)
	}
	if !ok {
		idx = vector.NewFlat()
	}
	state.idx = idx
	state.loaded = true
	return nil
}

// UpsertUser returns the existing user with the given username, or creates
// one. The second return is true when a new user was created.
func (s *Service) UpsertUser(ctx context.Context, username string) (*models.User, bool, error) {
	user, err := s.catalog.GetUserByUsername(ctx, username)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, catalog.ErrNotFound) {
		return nil, false, err
	}
	id, err := s.catalog.InsertUser(ctx, username)
	if err != nil {
		return nil, false, err
	}
	return &models.User{ID: id, Username: username}, true, nil
}

// Upload stores a new patch image, indexes its embedding, and returns the
// reconciled similarity matches against the user's existing patches.
//
// The vector is added to the index before searching, so the search sees
// everything indexed up to the lock release; the just-inserted id is then
// explicitly excluded from the raw hits. Skipping that exclusion would
// surface a spurious perfect-score self-match.
func (s *Service) Upload(ctx context.Context, userID int64, filename string, imageBytes []byte) (*models.UploadResponse, error) {
	if _, err := s.catalog.GetUserByID(ctx, userID); err != nil {
		return nil, err
	}

	path, err := s.files.Save(userID, filename, imageBytes)
	if err != nil {
		return nil, err
	}
	patchID, err := s.catalog.InsertPatch(ctx, userID, path)
	if err != nil {
		_ = s.files.Remove(path)
		return nil, err
	}

	vec, err := s.embedder.Embed(ctx, imageBytes)
	if err != nil {
		// Nothing reached the index yet; undo the file and row so an
		// unreadable image does not leave an unindexed patch behind.
		_ = s.files.Remove(path)
		_ = s.catalog.DeletePatchByID(ctx, patchID)
		return nil, err
	}

	ns := Namespace(userID)
	state := s.namespace(ns)
	state.mu.Lock()
	if err := s.ensureLoadedLocked(ns, state); err != nil {
		state.mu.Unlock()
		return nil, err
	}
	if err := state.idx.Add(patchID, vec); err != nil {
		state.mu.Unlock()
		return nil, err
	}
	if err := s.indexes.Save(ns, state.idx); err != nil {
		state.mu.Unlock()
		s.logger.Error("index save failed after add; catalog and index may diverge",
			zap.String("namespace", ns), zap.Int64("patch_id", patchID), zap.Error(err))
		return nil, fmt.Errorf("persist index: %w", err)
	}
	raw := state.idx.Search(vec, s.cfg.TopK, s.cfg.MinScore)
	state.mu.Unlock()

	hits := raw[:0]
	for _, h := range raw {
		if h.PatchID != patchID {
			hits = append(hits, h)
		}
	}

	matches, ungrouped, err := s.reconciler.Reconcile(ctx, hits)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("patch uploaded",
		zap.Int64("user_id", userID),
		zap.Int64("patch_id", patchID),
		zap.Int("grouped_matches", len(matches)),
		zap.Int("ungrouped_matches", len(ungrouped)))
	return &models.UploadResponse{
		Patch:            models.PatchRef{ID: patchID, Path: path},
		Matches:          matches,
		UngroupedMatches: ungrouped,
	}, nil
}

// removeFromIndex removes a patch's vector under the namespace lock and
// persists the index.
func (s *Service) removeFromIndex(ns string, patchID int64) error {
	state := s.namespace(ns)
	state.mu.Lock()
	defer state.mu.Unlock()
	if err := s.ensureLoadedLocked(ns, state); err != nil {
		return err
	}
	state.idx.Remove(patchID)
	if err := s.indexes.Save(ns, state.idx); err != nil {
		s.logger.Error("index save failed after remove; dangling entry remains",
			zap.String("namespace", ns), zap.Int64("patch_id", patchID), zap.Error(err))
		return fmt.Errorf("persist index: %w", err)
	}
	return nil
}

// DeletePatch removes a patch's image file, catalog row, and vector entry.
// If the index removal fails after the catalog delete, the dangling entry is
// tolerated by the reconciler and cleaned up on a later retry.
func (s *Service) DeletePatch(ctx context.Context, userID, patchID int64) error {
	patch, err := s.catalog.GetPatchByID(ctx, patchID)
	if err != nil {
		return err
	}
	if patch.UserID != userID {
		return fmt.Errorf("patch %d belongs to another user: %w", patchID, ErrForbidden)
	}
	if err := s.files.Remove(patch.Path); err != nil {
		return err
	}
	if err := s.catalog.DeletePatchByID(ctx, patchID); err != nil {
		return err
	}
	if err := s.removeFromIndex(Namespace(userID), patchID); err != nil {
		return err
	}
	s.logger.Debug("patch deleted", zap.Int64("user_id", userID), zap.Int64("patch_id", patchID))
	return nil
}

// DeleteGroup deletes every patch in the group, then the group row itself.
// The loop is not atomic; re-running after a partial failure deletes the
// remaining patches.
func (s *Service) DeleteGroup(ctx context.Context, userID, groupID int64) error {
	group, err := s.catalog.GetPatchGroupByID(ctx, groupID)
	if err != nil {
		return err
	}
	if group.UserID != userID {
		return fmt.Errorf("group %d belongs to another user: %w", groupID, ErrForbidden)
	}
	members, err := s.catalog.GetAllPatchesByGroupID(ctx, groupID)
	if err != nil {
		return err
	}
	ns := Namespace(userID)
	for _, patch := range members {
		if err := s.files.Remove(patch.Path); err != nil {
			return err
		}
		if err := s.catalog.DeletePatchByID(ctx, patch.ID); err != nil {
			return err
		}
		if err := s.removeFromIndex(ns, patch.ID); err != nil {
			return err
		}
	}
	if err := s.catalog.DeletePatchGroupByID(ctx, groupID); err != nil {
		return err
	}
	if s.groups != nil {
		if err := s.groups.Delete(ctx, groupID); err != nil {
			s.logger.Warn("group name deindex failed", zap.Int64("group_id", groupID), zap.Error(err))
		}
	}
	s.logger.Debug("group deleted",
		zap.Int64("user_id", userID), zap.Int64("group_id", groupID), zap.Int("patches", len(members)))
	return nil
}

// CreateGroup creates a named group owned by userID and puts the patch in it.
func (s *Service) CreateGroup(ctx context.Context, userID int64, name string, patchID int64) (*models.PatchGroup, error) {
	if _, err := s.catalog.GetUserByID(ctx, userID); err != nil {
		return nil, err
	}
	if _, err := s.catalog.GetPatchByID(ctx, patchID); err != nil {
		return nil, err
	}
	groupID, err := s.catalog.InsertPatchGroup(ctx, userID, name)
	if err != nil {
		return nil, err
	}
	if err := s.catalog.UpdatePatchGroup(ctx, patchID, groupID); err != nil {
		return nil, err
	}
	if s.groups != nil {
		if err := s.groups.Add(ctx, groupID, userID, name); err != nil {
			s.logger.Warn("group name index failed", zap.Int64("group_id", groupID), zap.Error(err))
		}
	}
	return &models.PatchGroup{ID: groupID, UserID: userID, Name: name}, nil
}

// AddToGroup assigns an existing patch to an existing group.
func (s *Service) AddToGroup(ctx context.Context, userID, patchID, groupID int64) error {
	if _, err := s.catalog.GetUserByID(ctx, userID); err != nil {
		return err
	}
	if _, err := s.catalog.GetPatchByID(ctx, patchID); err != nil {
		return err
	}
	if _, err := s.catalog.GetPatchGroupByID(ctx, groupID); err != nil {
		return err
	}
	return s.catalog.UpdatePatchGroup(ctx, patchID, groupID)
}

// SetFavorite sets a group's favorite flag.
func (s *Service) SetFavorite(ctx context.Context, userID, groupID int64, isFavorite bool) error {
	if _, err := s.catalog.GetUserByID(ctx, userID); err != nil {
		return err
	}
	if _, err := s.catalog.GetPatchGroupByID(ctx, groupID); err != nil {
		return err
	}
	return s.catalog.UpdateIsFavorite(ctx, groupID, isFavorite)
}

// ListPatches returns the user's patches grouped by patch group, plus the
// ungrouped remainder.
func (s *Service) ListPatches(ctx context.Context, userID int64) (*models.PatchListing, error) {
	rows, err := s.catalog.GetAllPatchesByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	listing := &models.PatchListing{
		Patches:          make([]*models.GroupedPatches, 0),
		UngroupedPatches: make([]models.PatchRef, 0),
	}
	byGroup := make(map[int64]*models.GroupedPatches)
	for _, row := range rows {
		ref := models.PatchRef{ID: row.ID, Path: row.Path}
		if row.GroupID == nil {
			listing.UngroupedPatches = append(listing.UngroupedPatches, ref)
			continue
		}
		group, ok := byGroup[*row.GroupID]
		if !ok {
			group = &models.GroupedPatches{ID: *row.GroupID}
			if row.GroupName != nil {
				group.Name = *row.GroupName
			}
			if row.IsFavorite != nil {
				group.IsFavorite = *row.IsFavorite
			}
			byGroup[*row.GroupID] = group
			listing.Patches = append(listing.Patches, group)
		}
		group.Images = append(group.Images, ref)
	}
	return listing, nil
}

// SearchGroups returns the user's groups whose name matches query.
func (s *Service) SearchGroups(ctx context.Context, userID int64, query string, limit int) ([]*models.PatchGroup, error) {
	if s.groups == nil {
		return nil, errors.New("group search not enabled")
	}
	if limit <= 0 || limit > s.cfg.GroupSearchLimit {
		limit = s.cfg.GroupSearchLimit
	}
	hits, err := s.groups.Search(ctx, userID, query, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*models.PatchGroup, 0, len(hits))
	for _, hit := range hits {
		group, err := s.catalog.GetPatchGroupByID(ctx, hit.GroupID)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, group)
	}
	return out, nil
}

// RemovePatchByPath deletes the catalog row and vector entry for the patch
// stored at path, without touching the file. Used by the images watcher when
// a file disappears out-of-band. Unknown paths are ignored.
func (s *Service) RemovePatchByPath(ctx context.Context, path string) error {
	patch, err := s.catalog.GetPatchByPath(ctx, path)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := s.catalog.DeletePatchByID(ctx, patch.ID); err != nil {
		return err
	}
	if err := s.removeFromIndex(Namespace(patch.UserID), patch.ID); err != nil {
		return err
	}
	s.logger.Info("cleaned up patch after image file removal",
		zap.Int64("patch_id", patch.ID), zap.String("path", path))
	return nil
}

// IndexSize returns the number of vectors in a user's index. A namespace
// with no blob yet reports 0.
func (s *Service) IndexSize(userID int64) (int, error) {
	ns := Namespace(userID)
	state := s.namespace(ns)
	state.mu.Lock()
	defer state.mu.Unlock()
	if err := s.ensureLoadedLocked(ns, state); err != nil {
		return 0, err
	}
	return state.idx.Size(), nil
}

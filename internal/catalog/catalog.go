// Package catalog defines the relational store for users, patches, and patch groups.
package catalog

import (
	"context"
	"errors"

	"github.com/patchdb/patchdb/internal/models"
)

// ErrNotFound is returned when a user, patch, or group does not exist.
// Callers check it with errors.Is.
var ErrNotFound = errors.New("not found")

// Catalog defines the persistence operations consumed by the core. The
// similarity index is deliberately not part of this contract; keeping the two
// stores consistent is the patches service's job.
type Catalog interface {
	// User operations
	InsertUser(ctx context.Context, username string) (int64, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)

	// Patch operations
	InsertPatch(ctx context.Context, userID int64, path string) (int64, error)
	GetPatchByID(ctx context.Context, id int64) (*models.Patch, error)
	GetPatchByPath(ctx context.Context, path string) (*models.Patch, error)
	GetAllPatchesByUserID(ctx context.Context, userID int64) ([]*PatchWithGroup, error)
	GetAllPatchesByGroupID(ctx context.Context, groupID int64) ([]*models.Patch, error)
	UpdatePatchGroup(ctx context.Context, patchID, groupID int64) error
	DeletePatchByID(ctx context.Context, id int64) error

	// Patch group operations
	InsertPatchGroup(ctx context.Context, userID int64, name string) (int64, error)
	GetPatchGroupByID(ctx context.Context, id int64) (*models.PatchGroup, error)
	UpdateIsFavorite(ctx context.Context, groupID int64, isFavorite bool) error
	DeletePatchGroupByID(ctx context.Context, id int64) error

	// Stats
	CountPatches(ctx context.Context) (int64, error)
	CountPatchGroups(ctx context.Context) (int64, error)

	Close() error
}

// PatchWithGroup is a patch joined with its group's name and favorite flag,
// as returned by the per-user listing query. GroupID, GroupName, and
// IsFavorite are nil for ungrouped patches.
type PatchWithGroup struct {
	ID         int64
	Path       string
	GroupID    *int64
	GroupName  *string
	IsFavorite *bool
}

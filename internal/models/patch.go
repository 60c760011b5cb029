// Package models defines core data structures for users, patches, and patch groups.
package models

// User represents a registered user owning patches and an index namespace.
type User struct {
	ID       int64  `json:"id" db:"id"`
	Username string `json:"username" db:"username"`
}

// Patch represents a single uploaded patch image. GroupID is nil while the
// patch is ungrouped.
type Patch struct {
	ID      int64  `json:"id" db:"id"`
	UserID  int64  `json:"user_id" db:"user_id"`
	Path    string `json:"path" db:"path"`
	GroupID *int64 `json:"patch_group_id" db:"patch_group_id"`
}

// PatchGroup is a named cluster of patches considered the same underlying item.
type PatchGroup struct {
	ID         int64  `json:"id" db:"id"`
	UserID     int64  `json:"user_id" db:"user_id"`
	Name       string `json:"name" db:"name"`
	IsFavorite bool   `json:"is_favorite" db:"is_favorite"`
}

// PatchRef identifies a patch in responses.
type PatchRef struct {
	ID   int64  `json:"id"`
	Path string `json:"path"`
}

// GroupedPatches is one group with its member images, as returned by the
// patch listing endpoint.
type GroupedPatches struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	IsFavorite bool       `json:"is_favorite"`
	Images     []PatchRef `json:"images"`
}

// PatchListing is the response for listing a user's patches.
type PatchListing struct {
	Patches          []*GroupedPatches `json:"patches"`
	UngroupedPatches []PatchRef        `json:"ungrouped_patches"`
}

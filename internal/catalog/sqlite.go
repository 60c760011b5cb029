// Package catalog provides the SQLite implementation of the Catalog interface.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/patchdb/patchdb/internal/models"
)

// SQLiteCatalog implements Catalog using SQLite.
type SQLiteCatalog struct {
	db *sql.DB
}

// NewSQLiteCatalog opens or creates a SQLite database at dbPath and
// initializes the schema. Parent directories are created if they do not exist.
func NewSQLiteCatalog(dbPath string) (*SQLiteCatalog, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteCatalog{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS patches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		path TEXT NOT NULL,
		patch_group_id INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_patches_user_id ON patches(user_id);
	CREATE INDEX IF NOT EXISTS idx_patches_group_id ON patches(patch_group_id);
	CREATE INDEX IF NOT EXISTS idx_patches_path ON patches(path);

	CREATE TABLE IF NOT EXISTS patch_groups (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		is_favorite INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_patch_groups_user_id ON patch_groups(user_id);
	`
	_, err := db.Exec(schema)
	return err
}

// InsertUser inserts a user and returns its ID.
func (c *SQLiteCatalog) InsertUser(ctx context.Context, username string) (int64, error) {
	res, err := c.db.ExecContext(ctx,
		`INSERT INTO users (username) VALUES (?)`, username)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetUserByUsername returns the user with the given username.
func (c *SQLiteCatalog) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	err := c.db.QueryRowContext(ctx,
		`SELECT id, username FROM users WHERE username = ?`, username,
	).Scan(&u.ID, &u.Username)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %q: %w", username, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByID returns the user with the given ID.
func (c *SQLiteCatalog) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	err := c.db.QueryRowContext(ctx,
		`SELECT id, username FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Username)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// InsertPatch inserts a patch with no group and returns its ID.
func (c *SQLiteCatalog) InsertPatch(ctx context.Context, userID int64, path string) (int64, error) {
	res, err := c.db.ExecContext(ctx,
		`INSERT INTO patches (user_id, path) VALUES (?, ?)`, userID, path)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetPatchByID returns the patch with the given ID.
func (c *SQLiteCatalog) GetPatchByID(ctx context.Context, id int64) (*models.Patch, error) {
	var p models.Patch
	err := c.db.QueryRowContext(ctx,
		`SELECT id, user_id, path, patch_group_id FROM patches WHERE id = ?`, id,
	).Scan(&p.ID, &p.UserID, &p.Path, &p.GroupID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("patch %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPatchByPath returns the patch stored at the given image path.
func (c *SQLiteCatalog) GetPatchByPath(ctx context.Context, path string) (*models.Patch, error) {
	var p models.Patch
	err := c.db.QueryRowContext(ctx,
		`SELECT id, user_id, path, patch_group_id FROM patches WHERE path = ?`, path,
	).Scan(&p.ID, &p.UserID, &p.Path, &p.GroupID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("patch at %q: %w", path, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetAllPatchesByUserID returns all of a user's patches joined with group
// name and favorite flag.
func (c *SQLiteCatalog) GetAllPatchesByUserID(ctx context.Context, userID int64) ([]*PatchWithGroup, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT p.id, p.path, p.patch_group_id, pg.name, pg.is_favorite
		 FROM patches p
		 LEFT JOIN patch_groups pg ON p.patch_group_id = pg.id
		 WHERE p.user_id = ?
		 ORDER BY p.id`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*PatchWithGroup
	for rows.Next() {
		var p PatchWithGroup
		if err := rows.Scan(&p.ID, &p.Path, &p.GroupID, &p.GroupName, &p.IsFavorite); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// GetAllPatchesByGroupID returns all patches in a group.
func (c *SQLiteCatalog) GetAllPatchesByGroupID(ctx context.Context, groupID int64) ([]*models.Patch, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, user_id, path, patch_group_id FROM patches WHERE patch_group_id = ? ORDER BY id`,
		groupID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Patch
	for rows.Next() {
		var p models.Patch
		if err := rows.Scan(&p.ID, &p.UserID, &p.Path, &p.GroupID); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// UpdatePatchGroup assigns a patch to a group.
func (c *SQLiteCatalog) UpdatePatchGroup(ctx context.Context, patchID, groupID int64) error {
	res, err := c.db.ExecContext(ctx,
		`UPDATE patches SET patch_group_id = ? WHERE id = ?`, groupID, patchID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("patch %d: %w", patchID, ErrNotFound)
	}
	return nil
}

// DeletePatchByID removes a patch row. Deleting an absent patch is a no-op.
func (c *SQLiteCatalog) DeletePatchByID(ctx context.Context, id int64) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM patches WHERE id = ?`, id)
	return err
}

// InsertPatchGroup inserts a patch group and returns its ID.
func (c *SQLiteCatalog) InsertPatchGroup(ctx context.Context, userID int64, name string) (int64, error) {
	res, err := c.db.ExecContext(ctx,
		`INSERT INTO patch_groups (user_id, name) VALUES (?, ?)`, userID, name)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetPatchGroupByID returns the patch group with the given ID.
func (c *SQLiteCatalog) GetPatchGroupByID(ctx context.Context, id int64) (*models.PatchGroup, error) {
	var g models.PatchGroup
	err := c.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, is_favorite FROM patch_groups WHERE id = ?`, id,
	).Scan(&g.ID, &g.UserID, &g.Name, &g.IsFavorite)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("patch group %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// UpdateIsFavorite sets the group's favorite flag.
func (c *SQLiteCatalog) UpdateIsFavorite(ctx context.Context, groupID int64, isFavorite bool) error {
	res, err := c.db.ExecContext(ctx,
		`UPDATE patch_groups SET is_favorite = ? WHERE id = ?`, isFavorite, groupID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("patch group %d: %w", groupID, ErrNotFound)
	}
	return nil
}

// DeletePatchGroupByID removes a patch group row.
func (c *SQLiteCatalog) DeletePatchGroupByID(ctx context.Context, id int64) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM patch_groups WHERE id = ?`, id)
	return err
}

// CountPatches returns the total number of patches.
func (c *SQLiteCatalog) CountPatches(ctx context.Context) (int64, error) {
	var count int64
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM patches`).Scan(&count)
	return count, err
}

// CountPatchGroups returns the total number of patch groups.
func (c *SQLiteCatalog) CountPatchGroups(ctx context.Context) (int64, error) {
	var count int64
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM patch_groups`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (c *SQLiteCatalog) Close() error {
	return c.db.Close()
}

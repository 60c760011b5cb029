// Package filestore stores uploaded patch images on disk.
package filestore

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// allowedExtensions are the image extensions accepted for upload.
var allowedExtensions = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "gif": true, "bmp": true, "webp": true,
}

// Store writes patch images under <root>/<userID>/<uuid>.<ext>.
type Store struct {
	root string
}

// NewStore creates a store rooted at root. Directories are created per user
// on first save.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// Save writes the image bytes under the user's directory with a fresh uuid
// filename, keeping the original extension when it is in the allow-list.
// Returns the stored path.
func (s *Store) Save(userID int64, filename string, data []byte) (string, error) {
	dir := filepath.Join(s.root, strconv.FormatInt(userID, 10))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create image dir: %w", err)
	}
	name := uuid.New().String()
	if ext := Extension(filename); ext != "" {
		name += "." + ext
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	return path, nil
}

// Remove deletes a stored image. A missing file is not an error; the catalog
// row is authoritative and the file may already be gone.
func (s *Store) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove image: %w", err)
	}
	return nil
}

// Extension returns the lower-cased extension of filename when it is in the
// allow-list, or "" otherwise.
func Extension(filename string) string {
	base := filepath.Base(filename)
	i := strings.LastIndex(base, ".")
	if i < 0 {
		return ""
	}
	ext := strings.ToLower(base[i+1:])
	if allowedExtensions[ext] {
		return ext
	}
	return ""
}

// DiskUsageBytes returns the total size in bytes of the given paths. Each
// path may be a file or a directory (recursively summed). Missing paths are
// skipped.
func DiskUsageBytes(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, err
		}
		if info.IsDir() {
			n, err := dirSize(p)
			if err != nil {
				return 0, err
			}
			total += n
		} else {
			total += info.Size()
		}
	}
	return total, nil
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}

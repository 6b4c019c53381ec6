// Package store holds the persistence collaborators around the core
// pipeline: a favorites list and versioned user settings as structured
// text files with a corrupt-file fallback, and a SQLite snapshot store
// for completed scans.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ohler55/ojg/oj"
)

// Favorite is one pinned scan root.
type Favorite struct {
	Path  string `json:"path"`
	Label string `json:"label,omitempty"`
}

// Favorites is a JSON-backed favorites list. An unreadable file is
// backed up and the list reinitializes empty; favorites are never worth
// failing startup over.
type Favorites struct {
	path  string
	Items []Favorite
}

// LoadFavorites reads the list at path, tolerating absence and
// corruption.
func LoadFavorites(path string) (*Favorites, error) {
	f := &Favorites{path: path}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read favorites: %w", err)
	}
	if err := oj.Unmarshal(data, &f.Items); err != nil {
		if backupErr := backupCorrupt(path); backupErr != nil {
			return nil, backupErr
		}
		f.Items = nil
	}
	return f, nil
}

// Add appends a favorite, replacing any existing entry for the same
// path.
func (f *Favorites) Add(path, label string) {
	for i, item := range f.Items {
		if item.Path == path {
			f.Items[i].Label = label
			return
		}
	}
	f.Items = append(f.Items, Favorite{Path: path, Label: label})
}

// Remove deletes the favorite for path, reporting whether it existed.
func (f *Favorites) Remove(path string) bool {
	for i, item := range f.Items {
		if item.Path == path {
			f.Items = append(f.Items[:i], f.Items[i+1:]...)
			return true
		}
	}
	return false
}

// Save writes the list back to disk.
func (f *Favorites) Save() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("favorites dir: %w", err)
	}
	data := []byte(oj.JSON(f.Items, 2))
	if err := os.WriteFile(f.path, data, 0o644); err != nil {
		return fmt.Errorf("write favorites: %w", err)
	}
	return nil
}

// backupCorrupt moves an unreadable store file aside so the caller can
// reinitialize defaults without destroying evidence.
func backupCorrupt(path string) error {
	backup := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
	if err := os.Rename(path, backup); err != nil {
		return fmt.Errorf("back up corrupt file %s: %w", path, err)
	}
	return nil
}

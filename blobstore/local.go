package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/PandiaJason/MidDB/persistence"
)

// LocalStore implements Store using a directory on the local file system.
// Writes go through the same temp-file-and-rename path as snapshots, so a
// mirrored blob is never observed half-written.
type LocalStore struct {
	root string
}

// NewLocalStore creates a new LocalStore rooted at the given directory.
func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, err
	}
	return &LocalStore{root: root}, nil
}

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// Put writes a blob atomically.
func (s *LocalStore) Put(_ context.Context, key string, r io.Reader, _ int64) error {
	path := s.path(key)

	if dir := filepath.Dir(path); dir != s.root {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	return persistence.SaveToFile(path, func(w io.Writer) error {
		_, err := io.Copy(w, r)
		return err
	})
}

// Get opens a blob for reading.
func (s *LocalStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

// Delete removes a blob. Missing blobs are not an error.
func (s *LocalStore) Delete(_ context.Context, key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// List returns all blob keys with the given prefix, sorted ascending.
func (s *LocalStore) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string

	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}

		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(keys)

	return keys, nil
}

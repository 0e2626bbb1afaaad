package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LocalArchive keeps archive blobs as files under a directory
type LocalArchive struct {
	dir string
}

var _ Archive = (*LocalArchive)(nil)

// NewLocalArchive creates the archive directory if needed
func NewLocalArchive(dir string) (*LocalArchive, error) {
	if dir == "" {
		return nil, fmt.Errorf("archive directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &LocalArchive{dir: dir}, nil
}

func (a *LocalArchive) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if key == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid archive key %q", key)
	}
	return filepath.Join(a.dir, clean), nil
}

// Store writes a blob, creating parent directories
func (a *LocalArchive) Store(key string, data []byte) error {
	p, err := a.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", key, err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}

	logrus.WithField("key", key).Debug("Archived blob")
	return nil
}

// Retrieve reads a blob
func (a *LocalArchive) Retrieve(key string) ([]byte, error) {
	p, err := a.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

// List returns slash-separated keys starting with prefix, sorted
func (a *LocalArchive) List(prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(a.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(a.dir, p)
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
		return nil, fmt.Errorf("failed to list archive: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes a blob
func (a *LocalArchive) Delete(key string) error {
	p, err := a.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

const archiveStamp = "20060102T150405Z"

// ArchiveKey names a JSON blob under a kind prefix, e.g. "reports/sweep/20260302T090000Z.json"
func ArchiveKey(kind string, at time.Time) string {
	return fmt.Sprintf("%s/%s.json", kind, at.UTC().Format(archiveStamp))
}

// ArchiveTime recovers the timestamp from a key built by ArchiveKey
func ArchiveTime(key string) (time.Time, bool) {
	base := path.Base(key)
	if !strings.HasSuffix(base, ".json") {
		return time.Time{}, false
	}
	at, err := time.Parse(archiveStamp, strings.TrimSuffix(base, ".json"))
	if err != nil {
		return time.Time{}, false
	}
	return at, true
}

// StoreJSON marshals v and stores it under key
func StoreJSON(a Archive, key string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return a.Store(key, data)
}

// OpenArchive selects Azure Blob Storage when an account is configured and a
// local directory otherwise
func OpenArchive(account, container, dir string) (Archive, error) {
	if account != "" {
		return NewAzureArchive(account, container)
	}
	logrus.WithField("dir", dir).Info("No storage account configured; archiving to local directory")
	return NewLocalArchive(dir)
}

// Package fs implements the resource store on the local filesystem, rooted
// at the git worktree that the partition committer operates on.
package fs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/turfarchive/zeturf-harvester/internal/harvest"
)

// Config captures the parameters for the filesystem resource store.
type Config struct {
	// BaseDir is the root directory of the harvested tree.
	BaseDir string `mapstructure:"base_dir"`
	// MinLeafBytes is the validity threshold for Exists; a smaller file is
	// treated as absent so truncated writes never count as satisfied.
	MinLeafBytes int64 `mapstructure:"min_leaf_bytes"`
}

// Store persists pages under BaseDir at each node's Location.
type Store struct {
	baseDir      string
	minLeafBytes int64
}

// New validates the base directory and returns a Store.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
				return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
			}
		} else {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}
	if cfg.MinLeafBytes <= 0 {
		cfg.MinLeafBytes = 1
	}
	return &Store{baseDir: cfg.BaseDir, minLeafBytes: cfg.MinLeafBytes}, nil
}

// BaseDir returns the store root, used by the committer to stage paths.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// path resolves a node location under the base directory, rejecting
// traversal outside it.
func (s *Store) path(location string) (string, error) {
	if strings.TrimSpace(location) == "" {
		return "", fmt.Errorf("node location is required")
	}
	full := filepath.Join(s.baseDir, location)
	cleanBase := filepath.Clean(s.baseDir)
	if !strings.HasPrefix(filepath.Clean(full), cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected in %q", location)
	}
	return full, nil
}

// Exists reports whether the node's file is present and at least
// MinLeafBytes long. Empty and truncated files count as absent.
func (s *Store) Exists(node harvest.ResourceNode) bool {
	full, err := s.path(node.Location)
	if err != nil {
		return false
	}
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Size() >= s.minLeafBytes
}

// Write atomically writes data to the node's location: the bytes land in a
// temp file in the target directory and are renamed into place, so a crash
// mid-write never leaves a file that Exists reports as valid. Concurrent
// writes for different nodes target disjoint files and are safe.
func (s *Store) Write(ctx context.Context, node harvest.ResourceNode, data []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled: %w", err)
	}
	full, err := s.path(node.Location)
	if err != nil {
		return err
	}
	location := node.Location
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create parent directories for %s: %w", location, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(full)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", location, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file for %s: %w", location, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file for %s: %w", location, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s into place: %w", location, err)
	}
	return nil
}

// Free reports the available bytes on the filesystem holding the store.
func (s *Store) Free() (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(s.baseDir, &stat); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", s.baseDir, err)
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

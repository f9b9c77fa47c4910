package harvest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ManifestStore persists one manifest per partition as JSON, addressable by
// partition key. Writes are atomic (temp file + rename) and replace any
// previous manifest wholesale.
type ManifestStore struct {
	dir string
}

// NewManifestStore creates the manifest directory if needed.
func NewManifestStore(dir string) (*ManifestStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("manifest directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create manifest dir %s: %w", dir, err)
	}
	return &ManifestStore{dir: dir}, nil
}

// Path returns the manifest file path for a partition key.
func (s *ManifestStore) Path(partition string) string {
	return filepath.Join(s.dir, partition+".json")
}

// Save writes the manifest atomically, replacing any prior one.
func (s *ManifestStore) Save(m *Manifest) error {
	if m == nil || m.Partition == "" {
		return fmt.Errorf("manifest with partition key is required")
	}
	payload, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	target := s.Path(m.Partition)
	tmp, err := os.CreateTemp(s.dir, m.Partition+".*.tmp")
	if err != nil {
		return fmt.Errorf("create manifest temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write manifest temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close manifest temp file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename manifest into place: %w", err)
	}
	return nil
}

// Load reads the manifest for a partition key.
func (s *ManifestStore) Load(partition string) (*Manifest, error) {
	payload, err := os.ReadFile(s.Path(partition))
	if err != nil {
		return nil, fmt.Errorf("read manifest for %s: %w", partition, err)
	}
	var m Manifest
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("decode manifest for %s: %w", partition, err)
	}
	if m.Partition != partition {
		return nil, fmt.Errorf("manifest partition mismatch: want %s, got %s", partition, m.Partition)
	}
	return &m, nil
}

// Package memory provides an in-memory resource store for tests and local
// development.
package memory

import (
	"context"
	"math"
	"sync"

	"github.com/turfarchive/zeturf-harvester/internal/harvest"
)

// Store keeps pages in a map keyed by node location.
type Store struct {
	mu           sync.RWMutex
	objects      map[string][]byte
	minLeafBytes int64

	// FreeBytes overrides the reported headroom; tests use it to trigger
	// the disk-critical abort. Zero means unlimited.
	FreeBytes uint64
	// WriteErr, when set, is returned by every Write.
	WriteErr error
}

// New returns an empty Store with the given validity threshold.
func New(minLeafBytes int64) *Store {
	if minLeafBytes <= 0 {
		minLeafBytes = 1
	}
	return &Store{
		objects:      make(map[string][]byte),
		minLeafBytes: minLeafBytes,
	}
}

// Exists reports presence with the same min-size validity rule as the
// filesystem store.
func (s *Store) Exists(node harvest.ResourceNode) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[node.Location]
	return ok && int64(len(data)) >= s.minLeafBytes
}

// Write stores a copy of data under the node's location.
func (s *Store) Write(_ context.Context, node harvest.ResourceNode, data []byte) error {
	if s.WriteErr != nil {
		return s.WriteErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[node.Location] = append([]byte(nil), data...)
	return nil
}

// Free reports the configured headroom, unlimited by default.
func (s *Store) Free() (uint64, error) {
	if s.FreeBytes > 0 {
		return s.FreeBytes, nil
	}
	return math.MaxUint64, nil
}

// Get returns the stored bytes for a location.
func (s *Store) Get(location string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[location]
	return data, ok
}

// Len returns the number of stored objects.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

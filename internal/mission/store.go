package mission

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store persists the mission and instance registries as one JSON document.
// Writes go through a temp file and rename so a crash never leaves a
// half-written registry.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a registry store under dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating mission directory: %w", err)
	}
	return &Store{path: filepath.Join(dir, "missions.json")}, nil
}

type registryDoc struct {
	Missions  []Mission  `json:"missions"`
	Instances []Instance `json:"instances"`
}

// Save writes the full registry. Instances carry spawn order.
func (s *Store) Save(missions []Mission, instances []Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.MarshalIndent(registryDoc{Missions: missions, Instances: instances}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding mission registry: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing mission registry: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("committing mission registry: %w", err)
	}
	return nil
}

// Load reads the registry back. A missing file is an empty registry.
func (s *Store) Load() ([]Mission, []Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("reading mission registry: %w", err)
	}
	var doc registryDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("decoding mission registry: %w", err)
	}
	return doc.Missions, doc.Instances, nil
}

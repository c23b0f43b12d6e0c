package records

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps records in a JSON array on disk.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store backed by path. The file and its directory
// are created on the first Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Save(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	deployments, err := s.load()
	if err != nil {
		return err
	}

	replaced := false
	for i := range deployments {
		if deployments[i].Name == rec.Name {
			deployments[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		deployments = append(deployments, rec)
	}

	data, err := json.MarshalIndent(deployments, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal deployments: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create records directory: %w", err)
	}

	// Write to a sibling and rename so readers never see a torn file.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write deployments: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace deployments file: %w", err)
	}
	return nil
}

func (s *FileStore) List(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *FileStore) Get(ctx context.Context, name string) (*Record, error) {
	deployments, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	for _, deployment := range deployments {
		if deployment.Name == name {
			rec := deployment
			return &rec, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) load() ([]Record, error) {
	var deployments []Record

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return deployments, nil
		}
		return nil, fmt.Errorf("failed to read deployments file: %w", err)
	}

	if err := json.Unmarshal(data, &deployments); err != nil {
		return nil, fmt.Errorf("failed to parse deployments: %w", err)
	}

	return deployments, nil
}

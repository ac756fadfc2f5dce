// Package statestore persists the sync state blob between runs.
package statestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/erp/woosync/internal/domain/integration"
)

// Ensure FileStore implements StateStore
var _ integration.StateStore = (*FileStore)(nil)

// FileStore keeps the state as a JSON file.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore writing to path
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("state file path is required")
	}
	return &FileStore{path: path}, nil
}

// Path returns the state file path
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the state file
func (s *FileStore) Load(_ context.Context) (*integration.SyncState, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, integration.ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	return integration.ParseSyncState(data)
}

// Save replaces the state file. The new content is written to a temporary
// file in the same directory and renamed over the old one.
func (s *FileStore) Save(_ context.Context, state *integration.SyncState) error {
	data, err := encode(state)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// Package storage persists gauge state and channel history.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/keshon/companion/internal/chat"
	"github.com/keshon/datastore"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("storage: not found")

func stateKey(kind string, key chat.Key) string {
	return kind + ":" + key.String()
}

// FileStateStore keeps gauge records in a JSON file through datastore.
type FileStateStore struct {
	ds *datastore.DataStore
}

func NewFileStateStore(filePath string) (*FileStateStore, error) {
	ds, err := datastore.New(filePath)
	if err != nil {
		return nil, fmt.Errorf("open state file: %w", err)
	}
	return &FileStateStore{ds: ds}, nil
}

// Close flushes pending writes to disk.
func (s *FileStateStore) Close() error {
	return s.ds.Close()
}

func (s *FileStateStore) LoadState(_ context.Context, kind string, key chat.Key, dst any) (bool, error) {
	data, exists := s.ds.Get(stateKey(kind, key))
	if !exists {
		return false, nil
	}

	// values read back from disk are generic maps
	jsonData, err := json.Marshal(data)
	if err != nil {
		return false, fmt.Errorf("error marshalling data: %w", err)
	}
	if err := json.Unmarshal(jsonData, dst); err != nil {
		return false, fmt.Errorf("error unmarshalling %s state: %w", kind, err)
	}
	return true, nil
}

func (s *FileStateStore) SaveState(_ context.Context, kind string, key chat.Key, v any) error {
	s.ds.Add(stateKey(kind, key), v)
	return nil
}

// Package memory is the in-memory localstore backend, used by tests and by
// the terminal when no database path is configured.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"salepoint/terminal/internal/localstore"
)

type Store struct {
	mu      sync.RWMutex
	schema  localstore.Schema
	open    bool
	records map[string]map[string]json.RawMessage
	// indexes[collection][index][value] -> record keys holding that value
	indexes map[string]map[string]map[string][]string
}

func New(schema localstore.Schema) *Store {
	return &Store{schema: schema}
}

func (s *Store) Initialize(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return nil
	}
	s.records = make(map[string]map[string]json.RawMessage, len(s.schema.Collections))
	s.indexes = make(map[string]map[string]map[string][]string, len(s.schema.Collections))
	for _, c := range s.schema.Collections {
		s.records[c.Name] = make(map[string]json.RawMessage)
		byIndex := make(map[string]map[string][]string, len(c.Indexes))
		for _, idx := range c.Indexes {
			byIndex[idx.Name] = make(map[string][]string)
		}
		s.indexes[c.Name] = byIndex
	}
	s.open = true
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	return nil
}

func (s *Store) Add(_ context.Context, collection string, record any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.collection(collection)
	if err != nil {
		return "", err
	}
	enc, err := localstore.Encode(c, record)
	if err != nil {
		return "", err
	}
	if _, exists := s.records[collection][enc.Key]; exists {
		return "", localstore.ErrDuplicateKey
	}
	if err := s.checkUnique(c, enc); err != nil {
		return "", err
	}
	s.records[collection][enc.Key] = enc.Data
	s.index(c, enc)
	return enc.Key, nil
}

func (s *Store) Get(_ context.Context, collection, key string) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, err := s.collection(collection); err != nil {
		return nil, err
	}
	raw, ok := s.records[collection][key]
	if !ok {
		return nil, localstore.ErrNotFound
	}
	return raw, nil
}

func (s *Store) Update(_ context.Context, collection string, record any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.collection(collection)
	if err != nil {
		return err
	}
	enc, err := localstore.Encode(c, record)
	if err != nil {
		return err
	}
	if err := s.checkUnique(c, enc); err != nil {
		return err
	}
	if _, exists := s.records[collection][enc.Key]; exists {
		s.unindex(c, enc.Key)
	}
	s.records[collection][enc.Key] = enc.Data
	s.index(c, enc)
	return nil
}

func (s *Store) Delete(_ context.Context, collection, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.collection(collection)
	if err != nil {
		return err
	}
	if _, exists := s.records[collection][key]; !exists {
		return nil
	}
	s.unindex(c, key)
	delete(s.records[collection], key)
	return nil
}

func (s *Store) GetAll(_ context.Context, collection string) ([]json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, err := s.collection(collection); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(s.records[collection]))
	for key := range s.records[collection] {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]json.RawMessage, 0, len(keys))
	for _, key := range keys {
		out = append(out, s.records[collection][key])
	}
	return out, nil
}

func (s *Store) GetByIndex(_ context.Context, collection, index, value string) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	keys, err := s.indexKeys(c, index, value)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, localstore.ErrNotFound
	}
	if len(keys) > 1 {
		return nil, &localstore.StorageError{
			Op: "get_by_index", Collection: collection, Key: value,
			Err: localstore.ErrDuplicateKey,
		}
	}
	return s.records[collection][keys[0]], nil
}

func (s *Store) GetAllByIndex(_ context.Context, collection, index, value string) ([]json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	keys, err := s.indexKeys(c, index, value)
	if err != nil {
		return nil, err
	}
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	out := make([]json.RawMessage, 0, len(sorted))
	for _, key := range sorted {
		out = append(out, s.records[collection][key])
	}
	return out, nil
}

func (s *Store) Count(_ context.Context, collection string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, err := s.collection(collection); err != nil {
		return 0, err
	}
	return len(s.records[collection]), nil
}

func (s *Store) collection(name string) (localstore.Collection, error) {
	if !s.open {
		return localstore.Collection{}, localstore.ErrClosed
	}
	c, ok := s.schema.Lookup(name)
	if !ok {
		return localstore.Collection{}, localstore.ErrUnknownCollection
	}
	return c, nil
}

func (s *Store) indexKeys(c localstore.Collection, index, value string) ([]string, error) {
	for _, idx := range c.Indexes {
		if idx.Name == index {
			return s.indexes[c.Name][index][value], nil
		}
	}
	return nil, localstore.ErrUnknownIndex
}

// checkUnique rejects mutations whose indexed values collide with a
// different record on a unique index.
func (s *Store) checkUnique(c localstore.Collection, enc localstore.EncodedRecord) error {
	for _, idx := range c.Indexes {
		if !idx.Unique {
			continue
		}
		value, ok := enc.Indexed[idx.Name]
		if !ok {
			continue
		}
		for _, key := range s.indexes[c.Name][idx.Name][value] {
			if key != enc.Key {
				return localstore.ErrDuplicateKey
			}
		}
	}
	return nil
}

func (s *Store) index(c localstore.Collection, enc localstore.EncodedRecord) {
	for name, value := range enc.Indexed {
		s.indexes[c.Name][name][value] = append(s.indexes[c.Name][name][value], enc.Key)
	}
}

func (s *Store) unindex(c localstore.Collection, key string) {
	for _, idx := range c.Indexes {
		for value, keys := range s.indexes[c.Name][idx.Name] {
			filtered := keys[:0]
			for _, k := range keys {
				if k != key {
					filtered = append(filtered, k)
				}
			}
			if len(filtered) == 0 {
				delete(s.indexes[c.Name][idx.Name], value)
			} else {
				s.indexes[c.Name][idx.Name][value] = filtered
			}
		}
	}
}

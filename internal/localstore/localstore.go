// Package localstore is the terminal's durable storage layer: named record
// collections with a JSON key path and secondary indexes, independent of any
// particular entity. Backends live in the memory and sqlite subpackages.
package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by point lookups when no record matches.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateKey is returned when an add would violate the primary key
	// or a unique secondary index. Recoverable: treat as "already exists".
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrClosed is returned for operations on a store that was never
	// initialized or has been closed.
	ErrClosed = errors.New("store closed")
	// ErrUnknownCollection is returned for a collection name that is not in
	// the schema.
	ErrUnknownCollection = errors.New("unknown collection")
	// ErrUnknownIndex is returned for an index name the collection does not
	// declare.
	ErrUnknownIndex = errors.New("unknown index")
)

// StorageError wraps backend I/O and schema failures with enough structure
// for callers to report the failing operation.
type StorageError struct {
	Op         string
	Collection string
	Key        string
	Err        error
}

func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("localstore: %s %s/%s: %v", e.Op, e.Collection, e.Key, e.Err)
	}
	return fmt.Sprintf("localstore: %s %s: %v", e.Op, e.Collection, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Store is the collection/index storage contract. All mutating operations
// are durable before they return. Initialize is idempotent.
type Store interface {
	Initialize(ctx context.Context) error
	Add(ctx context.Context, collection string, record any) (string, error)
	Get(ctx context.Context, collection, key string) (json.RawMessage, error)
	Update(ctx context.Context, collection string, record any) error
	Delete(ctx context.Context, collection, key string) error
	GetAll(ctx context.Context, collection string) ([]json.RawMessage, error)
	GetByIndex(ctx context.Context, collection, index, value string) (json.RawMessage, error)
	GetAllByIndex(ctx context.Context, collection, index, value string) ([]json.RawMessage, error)
	Count(ctx context.Context, collection string) (int, error)
	Close() error
}

// EncodedRecord is a record marshalled for storage: its primary key, raw
// JSON, and the extracted secondary index values. Index fields that are
// absent or empty are simply not indexed, mirroring key-path semantics.
type EncodedRecord struct {
	Key     string
	Data    json.RawMessage
	Indexed map[string]string
}

// Encode marshals a record against its collection definition, extracting the
// primary key and index values. Shared by all backends.
func Encode(c Collection, record any) (EncodedRecord, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return EncodedRecord{}, &StorageError{Op: "encode", Collection: c.Name, Err: err}
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return EncodedRecord{}, &StorageError{Op: "encode", Collection: c.Name, Err: err}
	}
	key := stringField(fields, c.KeyPath)
	if key == "" {
		return EncodedRecord{}, &StorageError{
			Op: "encode", Collection: c.Name,
			Err: fmt.Errorf("record has no %q key", c.KeyPath),
		}
	}
	indexed := make(map[string]string, len(c.Indexes))
	for _, idx := range c.Indexes {
		if v := stringField(fields, idx.Field); v != "" {
			indexed[idx.Name] = v
		}
	}
	return EncodedRecord{Key: key, Data: data, Indexed: indexed}, nil
}

func stringField(fields map[string]any, name string) string {
	v, ok := fields[name]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Get decodes a single record by primary key.
func Get[T any](ctx context.Context, s Store, collection, key string) (*T, error) {
	raw, err := s.Get(ctx, collection, key)
	if err != nil {
		return nil, err
	}
	return decode[T](collection, raw)
}

// GetByIndex decodes at most one record via a selective secondary index.
func GetByIndex[T any](ctx context.Context, s Store, collection, index, value string) (*T, error) {
	raw, err := s.GetByIndex(ctx, collection, index, value)
	if err != nil {
		return nil, err
	}
	return decode[T](collection, raw)
}

// GetAll decodes every record in a collection, optionally filtered by an
// in-memory predicate.
func GetAll[T any](ctx context.Context, s Store, collection string, pred func(T) bool) ([]T, error) {
	raws, err := s.GetAll(ctx, collection)
	if err != nil {
		return nil, err
	}
	return decodeAll[T](collection, raws, pred)
}

// GetAllByIndex decodes every record matching an index value.
func GetAllByIndex[T any](ctx context.Context, s Store, collection, index, value string) ([]T, error) {
	raws, err := s.GetAllByIndex(ctx, collection, index, value)
	if err != nil {
		return nil, err
	}
	return decodeAll[T](collection, raws, nil)
}

func decode[T any](collection string, raw json.RawMessage) (*T, error) {
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &StorageError{Op: "decode", Collection: collection, Err: err}
	}
	return &out, nil
}

func decodeAll[T any](collection string, raws []json.RawMessage, pred func(T) bool) ([]T, error) {
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		var rec T
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, &StorageError{Op: "decode", Collection: collection, Err: err}
		}
		if pred != nil && !pred(rec) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

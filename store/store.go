package store

import (
	"errors"
)

// Store - backing key value store. One record holds the full encoded
// contents of one persistent map, identified by a single hash key.
type Store interface {
	// Describe reports whether the table exists
	Describe(table string) (exists bool, err error)

	// Create provisions the table with a string hash key named
	// keyField and blocks until the table is ready to take writes
	Create(table, keyField string) error

	// Put writes the encoded value into the record identified by key
	Put(table, keyField, key, valueField string, value []byte) error

	// Get reads the encoded value stored under key. Returns
	// ErrRecordNotFound when the table exists but holds no record
	// for this key.
	Get(table, keyField, key, valueField string) (value []byte, err error)
}

// store errors. Adapters classify backend failures into these
// sentinels so callers can discriminate with errors.Is instead of
// re-parsing backend error codes.
var (
	ErrRecordNotFound = errors.New("record not found")
	ErrTableNotFound  = errors.New("table not found")
	ErrAccessDenied   = errors.New("access denied")
)

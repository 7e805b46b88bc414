// Package kvstore is the ordered key/value storage the notary core runs on.
// Its API surface is deliberately write-once: values can be read, scanned by
// prefix and inserted when absent, but never overwritten or deleted. Every
// mutation happens inside Update, which applies all inserts atomically or
// none of them.
package kvstore

import (
	"context"
	"errors"
)

var (
	ErrNotFound  = errors.New("kvstore: not found")
	ErrKeyExists = errors.New("kvstore: key exists")
	ErrClosed    = errors.New("kvstore: store closed")
	ErrReadOnly  = errors.New("kvstore: read-only view")
)

// Reader is a consistent read view.
type Reader interface {
	// Get returns the value stored at key or ErrNotFound.
	Get(key []byte) ([]byte, error)
	// Scan calls fn for every key with the given prefix in ascending byte
	// order. Returning an error from fn stops the scan and is returned.
	Scan(prefix []byte, fn func(key, value []byte) error) error
}

// Txn is a write transaction. Reads observe the transaction's own inserts.
type Txn interface {
	Reader
	// InsertIfAbsent stores value at key, or returns ErrKeyExists and
	// leaves the existing value untouched.
	InsertIfAbsent(key, value []byte) error
}

// Store is an append-only ordered key/value store.
type Store interface {
	// View runs fn against a read-only view.
	View(ctx context.Context, fn func(Reader) error) error
	// Update runs fn in a write transaction. If fn returns an error every
	// insert made through the transaction is discarded.
	Update(ctx context.Context, fn func(Txn) error) error
	Close() error
}

// prefixEnd returns the smallest key greater than every key with prefix,
// or nil when no such key exists (prefix is empty or all 0xff).
func prefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

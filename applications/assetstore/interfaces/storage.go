package interfaces

import (
	"context"
	"io"
	"iter"
)

// StorageBackend stores raw bytes on one physical medium, addressed by keys built with the keys
// package. Implementations must be safe for concurrent use.
type StorageBackend interface {
	// Put stores body under key and returns the number of bytes written. On success the object is
	// immediately readable with Get. A failed Put leaves no partial object at key and keeps any
	// object previously stored there.
	Put(ctx context.Context, key, contentType string, body io.Reader) (int64, error)

	// Get opens the object stored under key. The caller must close the returned reader.
	// A missing key fails with domain.ErrAssetNotFound.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// List yields the keys stored directly under prefix. Keys nested deeper than the prefix
	// level are not yielded. Every range over the sequence lists the backend again.
	List(ctx context.Context, prefix string) iter.Seq2[string, error]

	// Delete removes key. Deleting a missing key succeeds.
	Delete(ctx context.Context, key string) error

	// DeleteByPrefix removes every object whose key starts with prefix, at any depth.
	DeleteByPrefix(ctx context.Context, prefix string) error

	// Name returns the backend identifier used in configuration.
	Name() string
}

// Package objectstore defines the remote tier as the lifecycle engine sees it.
//
// Only three operations matter: copy a local file up, copy an object down
// into a local path, and delete a batch of keys. Keys are content keys
// ("<xx>/<digest>") used verbatim as object names.
//
//	store, err := s3.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	if err := store.Download(ctx, key, tmpPath); err != nil {
//	    if errors.Is(err, objectstore.ErrNotFound) {
//	        // nothing on the remote tier either
//	    }
//	    return err
//	}
//
// Calls are synchronous and never retried here; sweeps retry by leaving
// their markers in place.
package objectstore

import (
	"context"
	"errors"
	"fmt"
)

// MaxBatchDelete is the largest key set a single BatchDelete accepts.
const MaxBatchDelete = 1000

var (
	// ErrNotFound is returned when the requested object does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrAccessDenied is returned when the credentials lack permission for the operation.
	ErrAccessDenied = errors.New("access denied")

	// ErrBucketNotFound is returned when the configured bucket does not exist.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrBatchTooLarge is returned by BatchDelete for more than MaxBatchDelete keys.
	ErrBatchTooLarge = errors.New("batch too large")

	ErrClosed = errors.New("store is closed")
)

// ObjectError wraps an error with the object key for context.
type ObjectError struct {
	Op  string // Upload, Download, BatchDelete
	Key string
	Err error
}

func (e *ObjectError) Error() string {
	return fmt.Sprintf("objectstore: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *ObjectError) Unwrap() error {
	return e.Err
}

// DeleteResult reports a batch delete per key. Every requested key ends up
// in exactly one of Deleted or Failed.
type DeleteResult struct {
	Deleted []string
	// Failed maps key to the provider's reason.
	Failed map[string]string
}

// Store is the remote tier. Implementations must be safe for concurrent use.
type Store interface {
	// Upload copies the local file at src to key, replacing any object there.
	Upload(ctx context.Context, key string, src string) error

	// Download writes the object at key to the local path dst.
	//   - ErrNotFound: no such object
	Download(ctx context.Context, key string, dst string) error

	// BatchDelete removes up to MaxBatchDelete keys in one call. Deleting a
	// key that does not exist counts as deleted. A non-nil error means the
	// call as a whole failed and nothing can be said about individual keys.
	BatchDelete(ctx context.Context, keys []string) (DeleteResult, error)

	Close() error
}

// CheckBatch validates a BatchDelete key set.
func CheckBatch(keys []string) error {
	if len(keys) > MaxBatchDelete {
		return fmt.Errorf("%w: %d keys, max %d", ErrBatchTooLarge, len(keys), MaxBatchDelete)
	}
	return nil
}

// Chunk splits keys into slices of at most size elements.
func Chunk(keys []string, size int) [][]string {
	if size <= 0 || size > MaxBatchDelete {
		size = MaxBatchDelete
	}
	var out [][]string
	for start := 0; start < len(keys); start += size {
		out = append(out, keys[start:min(start+size, len(keys))])
	}
	return out
}

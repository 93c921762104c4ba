package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrAssetNotFound        = errors.New("asset not found")
	ErrStorageUnavailable   = errors.New("storage unavailable")
	ErrStorageQuotaExceeded = errors.New("storage quota exceeded")
	ErrInvalidKey           = errors.New("invalid storage key")

	ErrMissingContent = errors.New("new image has no content")
	ErrDuplicateImage = errors.New("duplicate image in request")
)

// StorageError is returned by storage backends. Kind is one of the sentinel errors above.
type StorageError struct {
	Op   string
	Key  string
	Kind error
	Err  error
}

func NewStorageError(op, key string, kind, err error) *StorageError {
	return &StorageError{Op: op, Key: key, Kind: kind, Err: err}
}

func (e *StorageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %q: %v", e.Op, e.Key, e.Kind)
	}
	return fmt.Sprintf("%s %q: %v: %v", e.Op, e.Key, e.Kind, e.Err)
}

func (e *StorageError) Is(target error) bool {
	return target == e.Kind
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// KindOf classifies err into the storage error taxonomy. Errors that match nothing known are
// reported as ErrStorageUnavailable.
func KindOf(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrAssetNotFound):
		return ErrAssetNotFound
	case errors.Is(err, ErrStorageQuotaExceeded):
		return ErrStorageQuotaExceeded
	case errors.Is(err, ErrInvalidKey):
		return ErrInvalidKey
	case errors.Is(err, ErrMissingContent):
		return ErrMissingContent
	case errors.Is(err, ErrDuplicateImage):
		return ErrDuplicateImage
	case errors.Is(err, context.DeadlineExceeded):
		return context.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return context.Canceled
	}
	return ErrStorageUnavailable
}

// Retryable reports whether the caller may retry the failed operation with backoff.
func Retryable(err error) bool {
	kind := KindOf(err)
	return kind == ErrStorageUnavailable || kind == context.DeadlineExceeded
}

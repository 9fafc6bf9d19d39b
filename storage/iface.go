// Package storage defines the key/value contract flow state is persisted
// through, and the errors backends signal with.
package storage

import (
	"context"
	"errors"
)

// Storage is an interface used by the state engine to persist flow state.
// Values are opaque strings, the engine serializes records to JSON before
// handing them to the store.
type Storage interface {
	// Get returns the value for the given key. If the key doesn't exist, an
	// IsNotFoundErr will be returned.
	Get(ctx context.Context, key string) (string, error)
	// Set stores the value under the key, replacing any existing value.
	Set(ctx context.Context, key, value string) error
	// Delete removes the key. Deleting a key that doesn't exist is not an
	// error.
	Delete(ctx context.Context, key string) error
}

// UpdateFunc is called with the current value of a key, and whether it was
// found. It returns the new value to store. Returning an error aborts the
// update, and the error is passed back to the caller of Update.
type UpdateFunc func(old string, found bool) (string, error)

// Updater is implemented by stores that can perform an atomic
// read-modify-write of a single key. When a store implements it, concurrent
// writers in different processes do not lose each others changes.
//
// The function may be called more than once if the store retries after a
// conflicting write, so it should not have side effects.
type Updater interface {
	Update(ctx context.Context, key string, fn UpdateFunc) error
}

type errNotFound interface {
	NotFoundErr()
}

// IsNotFoundErr checks to see if the passed error is because the item was not
// found, as opposed to an actual error state. Errors comply to this if they
// have an `NotFoundErr()` method.
func IsNotFoundErr(err error) bool {
	var nf errNotFound
	return errors.As(err, &nf)
}

type errConflict interface {
	ConflictErr()
}

// IsConflictErr checks to see if the passed error occurred because of a
// concurrent write that could not be resolved. Errors comply to this if they
// have a `ConflictErr()` method
func IsConflictErr(err error) bool {
	var c errConflict
	return errors.As(err, &c)
}

// NotFoundError is a general purpose not found error, backends can return it
// or their own type.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return "key " + e.Key + " not found"
}

func (*NotFoundError) NotFoundErr() {}

// ConflictError is returned when an update could not be applied because of
// concurrent modification, after the backend gave up retrying.
type ConflictError struct {
	Key string
}

func (e *ConflictError) Error() string {
	return "update of key " + e.Key + " conflicted with a concurrent write"
}

func (*ConflictError) ConflictErr() {}

package state

import (
	"errors"
	"fmt"
)

// ErrMissingIssuer is returned when creating a flow state without an issuer.
var ErrMissingIssuer = errors.New("issuer is required to create a flow state")

// NotFoundError is returned when a flow state, an item within it, or a
// correlation index entry does not exist. It satisfies storage.IsNotFoundErr.
type NotFoundError struct {
	// Key is the store key that was looked up.
	Key string
	// Item is set when the record exists but lacks the item.
	Item string
}

func (e *NotFoundError) Error() string {
	if e.Item != "" {
		return fmt.Sprintf("flow state %q has no %s", e.Key, e.Item)
	}
	return fmt.Sprintf("%q not found", e.Key)
}

func (*NotFoundError) NotFoundErr() {}

// InvalidKeyError is returned when a caller supplied primary key uses one of
// the wrappings reserved for index entries.
type InvalidKeyError struct {
	Key string
}

func (e *InvalidKeyError) Error() string {
	return fmt.Sprintf("%q can not be used as a state key, it matches a reserved pattern", e.Key)
}

// IsNotFound returns true if err, or any error it wraps, is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

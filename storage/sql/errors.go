package sql

import "fmt"

// migrationError reports which migration failed to apply.
type migrationError struct {
	idx int
	err error
}

func (e *migrationError) Error() string {
	return fmt.Sprintf("applying migration %d: %v", e.idx, e.err)
}

func (e *migrationError) Unwrap() error {
	return e.err
}

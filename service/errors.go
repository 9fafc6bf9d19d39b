package service

import "fmt"

// MissingParameterError is returned when a parameter the protocol requires
// could not be resolved from any source.
type MissingParameterError struct {
	Param string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("missing required parameter %q", e.Param)
}

// IssuerMismatchError is returned when a discovery document names a different
// issuer than the one configured.
type IssuerMismatchError struct {
	Configured string
	Discovered string
}

func (e *IssuerMismatchError) Error() string {
	return fmt.Sprintf("provider info issuer mismatch %q != %q", e.Configured, e.Discovered)
}

// ConstructionError is returned when a message does not satisfy its shape.
type ConstructionError struct {
	Schema string
	Err    error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("constructing %s: %v", e.Schema, e.Err)
}

func (e *ConstructionError) Unwrap() error {
	return e.Err
}

// PipelineError wraps a failure while building a request, recording the
// operation and the last stage it completed.
type PipelineError struct {
	Operation string
	Stage     Stage
	Err       error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s request failed after %s: %v", e.Operation, e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

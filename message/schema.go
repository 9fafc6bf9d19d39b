package message

import (
	"fmt"
	"strings"
)

// MissingRequiredError is returned when a message lacks parameters its schema
// requires.
type MissingRequiredError struct {
	Schema  string
	Missing []string
}

func (e *MissingRequiredError) Error() string {
	return fmt.Sprintf("%s is missing required parameters: %s", e.Schema, strings.Join(e.Missing, ", "))
}

// Schema describes a message type. Messages may carry parameters beyond the
// ones listed in Params, they are passed through untouched.
type Schema struct {
	// Name of the message type, used in errors.
	Name string
	// Params are the parameters this message type defines.
	Params []string
	// Required parameters must be present, and non-empty.
	Required []string
	// Defaults are applied when constructing a message and the parameter is
	// absent.
	Defaults map[string]interface{}
}

// HasParam returns true if the schema defines the parameter.
func (s Schema) HasParam(name string) bool {
	for _, p := range s.Params {
		if p == name {
			return true
		}
	}
	return false
}

// New builds a message of this type from args, applying defaults and verifying
// it. args is not modified.
func (s Schema) New(args Message) (Message, error) {
	m := args.Clone()
	for k, v := range s.Defaults {
		if !m.Has(k) {
			m[k] = v
		}
	}
	if err := s.Verify(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Verify checks that all required parameters are present.
func (s Schema) Verify(m Message) error {
	var missing []string
	for _, r := range s.Required {
		if m.String(r) == "" {
			missing = append(missing, r)
		}
	}
	if len(missing) > 0 {
		return &MissingRequiredError{Schema: s.Name, Missing: missing}
	}
	return nil
}

package state

import (
	"encoding/json"
	"fmt"
	"strings"
)

// IdentifierType is a kind of secondary identifier that can be correlated back
// to a flow.
type IdentifierType string

const (
	Nonce       IdentifierType = "nonce"
	LogoutState IdentifierType = "logout_state"
	SessionID   IdentifierType = "session_id"
	SubjectID   IdentifierType = "subject_id"
)

type wrapping struct {
	prefix, suffix string
}

func (w wrapping) wrap(v string) string {
	return w.prefix + v + w.suffix
}

func (w wrapping) matches(key string) bool {
	return len(key) >= len(w.prefix)+len(w.suffix) &&
		strings.HasPrefix(key, w.prefix) &&
		strings.HasSuffix(key, w.suffix)
}

var (
	identifierWrappings = map[IdentifierType]wrapping{
		Nonce:       {"__", "__"},
		LogoutState: {"::", "::"},
		SessionID:   {"..", ".."},
		SubjectID:   {"==", "=="},
	}
	reverseWrapping = wrapping{"ref", "ref"}
)

// indexKey returns the store key the correlation entry for value lives under.
func indexKey(typ IdentifierType, value string) (string, error) {
	w, ok := identifierWrappings[typ]
	if !ok {
		return "", fmt.Errorf("unknown identifier type %q", typ)
	}
	return w.wrap(value), nil
}

func reverseKey(key string) string {
	return reverseWrapping.wrap(key)
}

// isReservedKey reports whether key could collide with an index entry.
func isReservedKey(key string) bool {
	if reverseWrapping.matches(key) {
		return true
	}
	for _, w := range identifierWrappings {
		if w.matches(key) {
			return true
		}
	}
	return false
}

// identifier is an entry in the reverse index.
type identifier struct {
	Type  IdentifierType `json:"type"`
	Value string         `json:"value"`
}

// reverseIndex is the set of identifiers registered against a flow, in
// registration order.
type reverseIndex []identifier

func decodeReverseIndex(data string) (reverseIndex, error) {
	var ri reverseIndex
	if err := json.Unmarshal([]byte(data), &ri); err != nil {
		return nil, fmt.Errorf("decoding reverse index: %v", err)
	}
	return ri, nil
}

func (r reverseIndex) add(id identifier) reverseIndex {
	for _, e := range r {
		if e == id {
			return r
		}
	}
	return append(r, id)
}

func (r reverseIndex) encode() (string, error) {
	if r == nil {
		r = reverseIndex{}
	}
	b, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Package message implements the protocol message values that are passed
// through the request pipeline, along with the shapes (schemas) describing the
// parameters each OAuth2/OIDC message carries.
//
// It is intentionally small: messages are untyped parameter maps, and a Schema
// only knows which parameters a message type accepts, which it requires, and
// which defaults apply.
package message

import (
	"sort"
	"strconv"
	"strings"
)

// verifiedPrefix namespaces verified claims, so they never collide with the
// plain claim of the same name.
const verifiedPrefix = "__verified_"

// VerifiedClaimName returns the name under which the verified (signed and
// checked) variant of a claim is stored.
func VerifiedClaimName(claim string) string {
	return verifiedPrefix + claim
}

// Message is a set of protocol parameters. Values are whatever the JSON or
// form decoder produced: strings, float64s, bools, []interface{} and
// map[string]interface{}.
type Message map[string]interface{}

// Has returns true if the parameter is present.
func (m Message) Has(name string) bool {
	_, ok := m[name]
	return ok
}

// String returns the parameter formatted as a string. Missing parameters are
// returned as the empty string. Lists are space separated, as scopes are.
func (m Message) String(name string) string {
	v, ok := m[name]
	if !ok || v == nil {
		return ""
	}
	return formatValue(v)
}

// Strings returns a list parameter. A single string value is split on spaces.
func (m Message) Strings(name string) []string {
	switch v := m[name].(type) {
	case nil:
		return nil
	case []string:
		return append([]string(nil), v...)
	case []interface{}:
		ret := make([]string, 0, len(v))
		for _, i := range v {
			ret = append(ret, formatValue(i))
		}
		return ret
	case string:
		return strings.Fields(v)
	default:
		return []string{formatValue(v)}
	}
}

// Keys returns the parameter names, sorted.
func (m Message) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy of the message. It is never nil.
func (m Message) Clone() Message {
	ret := make(Message, len(m))
	for k, v := range m {
		ret[k] = v
	}
	return ret
}

// Update copies all parameters from other into m, overwriting existing values.
func (m Message) Update(other Message) {
	for k, v := range other {
		m[k] = v
	}
}

func formatValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case []string:
		return strings.Join(t, " ")
	case []interface{}:
		parts := make([]string, 0, len(t))
		for _, i := range t {
			parts = append(parts, formatValue(i))
		}
		return strings.Join(parts, " ")
	default:
		b, err := marshalJSON(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

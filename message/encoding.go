package message

import (
	"encoding/json"
	"fmt"
	"net/url"
)

// Body encodings a message can be serialized with.
const (
	URLEncoded = "urlencoded"
	JSON       = "json"
)

func marshalJSON(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// ToJSON serializes the message as a JSON object.
func (m Message) ToJSON() (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]interface{}(m))
	if err != nil {
		return "", fmt.Errorf("marshaling message: %v", err)
	}
	return string(b), nil
}

// FromJSON parses a JSON object into a message.
func FromJSON(data string) (Message, error) {
	m := Message{}
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("unmarshaling message: %v", err)
	}
	return m, nil
}

// ToURLEncoded serializes the message in application/x-www-form-urlencoded
// format. Keys are sorted, so the output is deterministic.
func (m Message) ToURLEncoded() string {
	v := url.Values{}
	for k, val := range m {
		if val == nil {
			continue
		}
		v.Set(k, formatValue(val))
	}
	return v.Encode()
}

// FromURLEncoded parses a form/query encoded string. Parameters appearing once
// become strings, repeated parameters become lists.
func FromURLEncoded(data string) (Message, error) {
	vals, err := url.ParseQuery(data)
	if err != nil {
		return nil, fmt.Errorf("parsing urlencoded message: %v", err)
	}
	m := Message{}
	for k, vs := range vals {
		if len(vs) == 1 {
			m[k] = vs[0]
			continue
		}
		l := make([]interface{}, 0, len(vs))
		for _, s := range vs {
			l = append(l, s)
		}
		m[k] = l
	}
	return m, nil
}

// Serialize encodes the message in the given body type.
func (m Message) Serialize(bodyType string) (string, error) {
	switch bodyType {
	case URLEncoded, "":
		return m.ToURLEncoded(), nil
	case JSON:
		return m.ToJSON()
	default:
		return "", fmt.Errorf("unsupported body type %q", bodyType)
	}
}

// Deserialize decodes data in the given body type.
func Deserialize(data, bodyType string) (Message, error) {
	switch bodyType {
	case URLEncoded:
		return FromURLEncoded(data)
	case JSON, "":
		return FromJSON(data)
	default:
		return nil, fmt.Errorf("unsupported body type %q", bodyType)
	}
}

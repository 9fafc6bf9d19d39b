package state

import (
	"encoding/json"
	"fmt"

	"github.com/pardot/oidcservice/message"
)

// Item types a flow state can carry.
const (
	ItemAuthRequest          = "auth_request"
	ItemAuthResponse         = "auth_response"
	ItemTokenResponse        = "token_response"
	ItemRefreshTokenRequest  = "refresh_token_request"
	ItemRefreshTokenResponse = "refresh_token_response"
	ItemUserInfo             = "user_info"
)

const issuerField = "iss"

// FlowState is the persisted record for one protocol flow. It is keyed by the
// flow's primary "state" value. Items are only ever added or replaced, the
// record as a whole is never rewritten from scratch.
type FlowState struct {
	// Issuer the flow is run against. Set at creation and never changed.
	Issuer string
	// Items are the messages collected over the flow, by item type.
	Items map[string]message.Message
}

// Item returns a copy of the item of the given type.
func (f *FlowState) Item(itemType string) (message.Message, bool) {
	i, ok := f.Items[itemType]
	if !ok {
		return nil, false
	}
	return i.Clone(), true
}

// MarshalJSON writes the state as a single flat object, with the issuer under
// "iss" and each item as a nested object under its type.
func (f FlowState) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, len(f.Items)+1)
	for k, v := range f.Items {
		m[k] = map[string]interface{}(v)
	}
	m[issuerField] = f.Issuer
	return json.Marshal(m)
}

func (f *FlowState) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	f.Issuer = ""
	f.Items = make(map[string]message.Message, len(raw))
	for k, v := range raw {
		if k == issuerField {
			if err := json.Unmarshal(v, &f.Issuer); err != nil {
				return fmt.Errorf("decoding issuer: %v", err)
			}
			continue
		}
		item, err := decodeItem(v)
		if err != nil {
			return fmt.Errorf("decoding %s: %v", k, err)
		}
		f.Items[k] = item
	}
	return nil
}

// decodeItem accepts an item either as a nested object, or as a string holding
// the serialized object.
func decodeItem(v json.RawMessage) (message.Message, error) {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return message.FromJSON(s)
	}
	m := message.Message{}
	if err := json.Unmarshal(v, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeFlowState(data string) (*FlowState, error) {
	fs := &FlowState{}
	if err := json.Unmarshal([]byte(data), fs); err != nil {
		return nil, err
	}
	return fs, nil
}

func (f *FlowState) encode() (string, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Package idtoken decodes the claims of a verified ID token, as they are kept
// in flow state.
package idtoken

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/pardot/oidcservice/message"
)

// standard holds the claim names with a Claims field.
var standard = []string{
	"iss", "sub", "aud", "exp", "iat", "auth_time", "nonce", "acr", "amr", "azp", "sid",
}

// Claims of an ID token.
//
// https://openid.net/specs/openid-connect-core-1_0.html#IDToken
type Claims struct {
	Issuer   string   `json:"iss,omitempty"`
	Subject  string   `json:"sub,omitempty"`
	Audience Audience `json:"aud,omitempty"`
	Expiry   UnixTime `json:"exp,omitempty"`
	IssuedAt UnixTime `json:"iat,omitempty"`
	AuthTime UnixTime `json:"auth_time,omitempty"`
	// Nonce echoes the nonce of the authentication request.
	Nonce string   `json:"nonce,omitempty"`
	ACR   string   `json:"acr,omitempty"`
	AMR   []string `json:"amr,omitempty"`
	AZP   string   `json:"azp,omitempty"`
	// SessionID identifies the provider session, for logout.
	//
	// https://openid.net/specs/openid-connect-frontchannel-1_0.html#ClaimsContents
	SessionID string `json:"sid,omitempty"`

	// Extra holds the claims without a field. Fields win over Extra when
	// marshaling.
	Extra map[string]interface{} `json:"-"`
}

// FromMessage decodes claims stored as a message.
func FromMessage(m message.Message) (*Claims, error) {
	b, err := json.Marshal(map[string]interface{}(m))
	if err != nil {
		return nil, err
	}
	c := &Claims{}
	if err := json.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("decoding id token claims: %v", err)
	}
	return c, nil
}

// Message returns the claims as a message, for storage.
func (c Claims) Message() (message.Message, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return message.FromJSON(string(b))
}

// Expired reports if the token's expiry is at or before now.
func (c Claims) Expired(now time.Time) bool {
	return c.Expiry != 0 && !now.Before(c.Expiry.Time())
}

func (c Claims) MarshalJSON() ([]byte, error) {
	type plain Claims
	sj, err := json.Marshal(plain(c))
	if err != nil {
		return nil, err
	}
	fields := map[string]interface{}{}
	if err := json.Unmarshal(sj, &fields); err != nil {
		return nil, err
	}

	out := make(map[string]interface{}, len(c.Extra)+len(fields))
	for k, v := range c.Extra {
		out[k] = v
	}
	for k, v := range fields {
		out[k] = v
	}
	return json.Marshal(out)
}

func (c *Claims) UnmarshalJSON(b []byte) error {
	type plain Claims
	p := plain{}
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}

	extra := map[string]interface{}{}
	if err := json.Unmarshal(b, &extra); err != nil {
		return err
	}
	for _, f := range standard {
		delete(extra, f)
	}
	if len(extra) > 0 {
		p.Extra = extra
	}

	*c = Claims(p)
	return nil
}

// Audience is a single audience or a list of them.
type Audience []string

// Contains returns true if aud is one of the audiences.
func (a Audience) Contains(aud string) bool {
	for _, ia := range a {
		if ia == aud {
			return true
		}
	}
	return false
}

func (a Audience) MarshalJSON() ([]byte, error) {
	if len(a) == 1 {
		return json.Marshal(a[0])
	}
	return json.Marshal([]string(a))
}

func (a *Audience) UnmarshalJSON(b []byte) error {
	var ua interface{}
	if err := json.Unmarshal(b, &ua); err != nil {
		return err
	}

	switch ja := ua.(type) {
	case string:
		*a = []string{ja}
	case []interface{}:
		aa := make([]string, len(ja))
		for i, ia := range ja {
			sa, ok := ia.(string)
			if !ok {
				return fmt.Errorf("audience must be a string or list of strings, found %T in list", ia)
			}
			aa[i] = sa
		}
		*a = aa
	default:
		return fmt.Errorf("audience must be a string or list of strings, found %T", ua)
	}
	return nil
}

// UnixTime is a JSON NumericDate, seconds since the epoch.
type UnixTime int64

// NewUnixTime returns t as a UnixTime.
func NewUnixTime(t time.Time) UnixTime {
	return UnixTime(t.Unix())
}

// Time returns the time u represents.
func (u UnixTime) Time() time.Time {
	return time.Unix(int64(u), 0)
}

func (u UnixTime) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(int64(u), 10)), nil
}

// UnmarshalJSON accepts fractional values, they are truncated.
func (u *UnixTime) UnmarshalJSON(b []byte) error {
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("parsing NumericDate: %v", err)
	}
	*u = UnixTime(int64(f))
	return nil
}

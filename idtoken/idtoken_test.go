package idtoken

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pardot/oidcservice/message"
)

func TestClaimsMarshaling(t *testing.T) {
	for _, tc := range []struct {
		Name     string
		Claims   Claims
		WantJSON string
	}{
		{
			Name: "basic",
			Claims: Claims{
				Issuer:   "https://issuer",
				Audience: Audience{"aud"},
				Expiry:   NewUnixTime(time.Date(2019, 11, 20, 0, 0, 0, 0, time.UTC)),
				Extra: map[string]interface{}{
					"hello": "world",
				},
			},
			WantJSON: `{
  "aud": "aud",
  "exp": 1574208000,
  "hello": "world",
  "iss": "https://issuer"
}`,
		},
		{
			Name: "multiple audiences",
			Claims: Claims{
				Audience: Audience{"aud1", "aud2"},
			},
			WantJSON: `{
  "aud": [
    "aud1",
    "aud2"
  ]
}`,
		},
		{
			Name: "extra does not shadow fields",
			Claims: Claims{
				Issuer:    "https://issuer",
				SessionID: "08a5019c",
				Extra: map[string]interface{}{
					"iss": "https://bad",
				},
			},
			WantJSON: `{
  "iss": "https://issuer",
  "sid": "08a5019c"
}`,
		},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			jb, err := json.MarshalIndent(tc.Claims, "", "  ")
			if err != nil {
				t.Fatalf("Unexpected error marshaling JSON: %v", err)
			}
			if diff := cmp.Diff(tc.WantJSON, string(jb)); diff != "" {
				t.Error(diff)
			}
		})
	}
}

func TestFromMessage(t *testing.T) {
	// as claims come back out of flow state, numbers decoded as floats
	m := message.Message{
		"iss":   "https://issuer",
		"sub":   "248289761001",
		"aud":   []interface{}{"client_id"},
		"exp":   float64(1576187854),
		"nonce": "n-0S6_WzA2Mj",
		"sid":   "08a5019c",
		"email": "janedoe@example.com",
	}

	c, err := FromMessage(m)
	if err != nil {
		t.Fatal(err)
	}
	want := &Claims{
		Issuer:    "https://issuer",
		Subject:   "248289761001",
		Audience:  Audience{"client_id"},
		Expiry:    1576187854,
		Nonce:     "n-0S6_WzA2Mj",
		SessionID: "08a5019c",
		Extra:     map[string]interface{}{"email": "janedoe@example.com"},
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Error(diff)
	}

	back, err := c.Message()
	if err != nil {
		t.Fatal(err)
	}
	if back.String("email") != "janedoe@example.com" || back.String("aud") != "client_id" {
		t.Errorf("unexpected message %v", back)
	}
}

func TestExpired(t *testing.T) {
	exp := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Claims{Expiry: NewUnixTime(exp)}

	if c.Expired(exp.Add(-time.Second)) {
		t.Error("Want: not expired before exp")
	}
	if !c.Expired(exp) {
		t.Error("Want: expired at exp")
	}
	if (Claims{}).Expired(exp) {
		t.Error("Want: no expiry to never expire")
	}
}

func TestAudienceContains(t *testing.T) {
	a := Audience{"a", "b"}
	if !a.Contains("b") || a.Contains("c") {
		t.Errorf("unexpected Contains results for %v", a)
	}

	var single Audience
	if err := json.Unmarshal([]byte(`"x"`), &single); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Audience{"x"}, single); diff != "" {
		t.Error(diff)
	}
	if err := json.Unmarshal([]byte(`[1]`), &single); err == nil {
		t.Error("Want: error for a non string audience")
	}
}

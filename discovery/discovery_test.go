package discovery

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pardot/oidcservice/keyjar"
	"github.com/pardot/oidcservice/message"
)

func TestConfigurationURL(t *testing.T) {
	for _, iss := range []string{"https://idp.example", "https://idp.example/"} {
		if got := ConfigurationURL(iss); got != "https://idp.example/.well-known/openid-configuration" {
			t.Errorf("%s: got %s", iss, got)
		}
	}
}

func TestValidate(t *testing.T) {
	valid := ProviderMetadata{
		Issuer:                           "https://idp.example",
		AuthorizationEndpoint:            "https://idp.example/auth",
		TokenEndpoint:                    "https://idp.example/token",
		JWKSURI:                          "https://idp.example/keys",
		ResponseTypesSupported:           []string{"code"},
		SubjectTypesSupported:            []string{"public"},
		IDTokenSigningAlgValuesSupported: []string{"RS256"},
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("Want: no error, got %v", err)
	}

	implicit := valid
	implicit.TokenEndpoint = ""
	implicit.GrantTypesSupported = []string{"implicit"}
	if err := implicit.Validate(); err != nil {
		t.Errorf("Want: no error for implicit only provider, got %v", err)
	}

	noToken := valid
	noToken.TokenEndpoint = ""
	if err := noToken.Validate(); err == nil {
		t.Error("Want: error without token endpoint")
	}

	err := (&ProviderMetadata{}).Validate()
	if err == nil || !strings.Contains(err.Error(), "jwks_uri is required") {
		t.Errorf("Want: missing jwks_uri reported, got %v", err)
	}
}

func TestFromMessage(t *testing.T) {
	pm, err := FromMessage(message.Message{
		"issuer":                   "https://idp.example",
		"token_endpoint":           "https://idp.example/token",
		"response_types_supported": []interface{}{"code", "id_token token"},
		"unknown_extension":        true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if pm.TokenEndpoint != "https://idp.example/token" {
		t.Errorf("unexpected token endpoint %s", pm.TokenEndpoint)
	}
	if !pm.SupportsResponseType("token id_token") {
		t.Error("Want: response types to match regardless of order")
	}
	if pm.SupportsResponseType("id_token") {
		t.Error("Want: id_token alone unsupported")
	}

	if _, err := FromMessage(message.Message{"issuer": 12}); err == nil {
		t.Error("Want: error for mistyped issuer")
	}
}

func TestHandler(t *testing.T) {
	ctx := context.Background()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	ks := StaticKeys{{Key: key.Public(), KeyID: "testkey", Algorithm: "RS256", Use: "sig"}}

	mux := http.NewServeMux()
	ts := httptest.NewServer(mux)
	defer ts.Close()

	h, err := NewHandler(&ProviderMetadata{
		Issuer:                ts.URL,
		AuthorizationEndpoint: ts.URL + "/auth",
	}, WithKeySource(ks, time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	mux.Handle("/", h)

	res, err := http.Get(ConfigurationURL(ts.URL))
	if err != nil {
		t.Fatalf("failed to get discovery info: %v", err)
	}
	var doc message.Message
	err = json.NewDecoder(res.Body).Decode(&doc)
	_ = res.Body.Close()
	if err != nil {
		t.Fatalf("failed decoding metadata response: %v", err)
	}
	if doc.String("jwks_uri") != ts.URL+KeysPath {
		t.Errorf("Want: jwks_uri %s, got %s", ts.URL+KeysPath, doc.String("jwks_uri"))
	}

	// the served keys are usable by a client key jar
	kj := keyjar.New(keyjar.WithHTTPClient(ts.Client()))
	if err := kj.LoadKeys(ts.URL, doc); err != nil {
		t.Fatal(err)
	}
	got, err := kj.GetKey(ctx, ts.URL, "testkey")
	if err != nil {
		t.Fatalf("Want: no error fetching key, got %v", err)
	}
	if _, ok := got.Key.(*rsa.PublicKey); !ok {
		t.Errorf("Want: rsa public key, got %T", got.Key)
	}
}

func TestHandlerStrict(t *testing.T) {
	if _, err := NewHandler(&ProviderMetadata{Issuer: "https://idp.example"}, WithStrictValidation()); err == nil {
		t.Error("Want: error for incomplete metadata")
	}
}

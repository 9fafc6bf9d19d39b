package discovery

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/pardot/oidcservice/message"
)

// WellKnownPath is appended to an issuer to find its configuration document.
const WellKnownPath = "/.well-known/openid-configuration"

// ConfigurationURL returns the discovery document URL for issuer. A trailing
// slash on the issuer is dropped first.
func ConfigurationURL(issuer string) string {
	return strings.TrimSuffix(issuer, "/") + WellKnownPath
}

// ProviderMetadata is the subset of the provider configuration document this
// module reads.
//
// https://openid.net/specs/openid-connect-discovery-1_0.html#ProviderMetadata
type ProviderMetadata struct {
	Issuer                string `json:"issuer,omitempty"`
	AuthorizationEndpoint string `json:"authorization_endpoint,omitempty"`
	// TokenEndpoint is required unless only the implicit flow is used.
	TokenEndpoint        string `json:"token_endpoint,omitempty"`
	UserinfoEndpoint     string `json:"userinfo_endpoint,omitempty"`
	JWKSURI              string `json:"jwks_uri,omitempty"`
	RegistrationEndpoint string `json:"registration_endpoint,omitempty"`
	EndSessionEndpoint   string `json:"end_session_endpoint,omitempty"`

	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported,omitempty"`
	ResponseModesSupported            []string `json:"response_modes_supported,omitempty"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	SubjectTypesSupported             []string `json:"subject_types_supported,omitempty"`
	IDTokenSigningAlgValuesSupported  []string `json:"id_token_signing_alg_values_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	ClaimsSupported                   []string `json:"claims_supported,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported,omitempty"`

	FrontchannelLogoutSupported bool `json:"frontchannel_logout_supported,omitempty"`
	BackchannelLogoutSupported  bool `json:"backchannel_logout_supported,omitempty"`
}

// FromMessage decodes a provider configuration response.
func FromMessage(m message.Message) (*ProviderMetadata, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding provider configuration: %v", err)
	}
	pm := &ProviderMetadata{}
	if err := json.Unmarshal(b, pm); err != nil {
		return nil, fmt.Errorf("decoding provider configuration: %v", err)
	}
	return pm, nil
}

// Validate checks the metadata carries everything an OpenID provider must
// publish.
func (p *ProviderMetadata) Validate() error {
	var errs []string

	reqstr := func(val, field string) {
		if val == "" {
			errs = append(errs, field+" is required")
		}
	}
	reqlist := func(val []string, field string) {
		if len(val) == 0 {
			errs = append(errs, field+" is required")
		}
	}

	reqstr(p.Issuer, "issuer")
	reqstr(p.AuthorizationEndpoint, "authorization_endpoint")
	reqstr(p.JWKSURI, "jwks_uri")
	reqlist(p.ResponseTypesSupported, "response_types_supported")
	reqlist(p.SubjectTypesSupported, "subject_types_supported")
	reqlist(p.IDTokenSigningAlgValuesSupported, "id_token_signing_alg_values_supported")

	if p.TokenEndpoint == "" && !(len(p.GrantTypesSupported) == 1 && p.GrantTypesSupported[0] == "implicit") {
		errs = append(errs, "token_endpoint is required unless only the implicit grant is supported")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid provider metadata: %s", strings.Join(errs, ", "))
	}
	return nil
}

// SupportsResponseType reports whether the provider lists the response type.
// Multi-valued types match regardless of order.
func (p *ProviderMetadata) SupportsResponseType(rt string) bool {
	want := normalizeResponseType(rt)
	for _, s := range p.ResponseTypesSupported {
		if normalizeResponseType(s) == want {
			return true
		}
	}
	return false
}

func normalizeResponseType(rt string) string {
	f := strings.Fields(rt)
	sort.Strings(f)
	return strings.Join(f, " ")
}

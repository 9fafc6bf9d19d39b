package message

// https://tools.ietf.org/html/rfc6749#section-4.1.1
var AuthorizationRequest = Schema{
	Name: "AuthorizationRequest",
	Params: []string{
		"response_type", "client_id", "redirect_uri", "scope", "state",
		"nonce", "response_mode", "prompt", "acr_values",
	},
	Required: []string{"response_type", "client_id"},
}

// https://tools.ietf.org/html/rfc6749#section-4.1.2
var AuthorizationResponse = Schema{
	Name:     "AuthorizationResponse",
	Params:   []string{"code", "state", "iss", "session_state"},
	Required: []string{"code"},
}

// https://tools.ietf.org/html/rfc6749#section-4.1.3
var AccessTokenRequest = Schema{
	Name: "AccessTokenRequest",
	Params: []string{
		"grant_type", "code", "redirect_uri", "client_id", "client_secret", "state",
	},
	Required: []string{"grant_type", "code", "redirect_uri"},
	Defaults: map[string]interface{}{"grant_type": "authorization_code"},
}

// https://tools.ietf.org/html/rfc6749#section-5.1
var AccessTokenResponse = Schema{
	Name: "AccessTokenResponse",
	Params: []string{
		"access_token", "token_type", "expires_in", "refresh_token", "scope",
		"state", "id_token",
	},
	Required: []string{"access_token", "token_type"},
}

// https://tools.ietf.org/html/rfc6749#section-6
var RefreshAccessTokenRequest = Schema{
	Name: "RefreshAccessTokenRequest",
	Params: []string{
		"grant_type", "refresh_token", "scope", "client_id", "client_secret",
	},
	Required: []string{"grant_type", "refresh_token"},
	Defaults: map[string]interface{}{"grant_type": "refresh_token"},
}

// ProviderConfigurationResponse is the discovery document. Nothing is
// required at this level, issuer handling happens when the document is
// integrated.
//
// https://openid.net/specs/openid-connect-discovery-1_0.html#ProviderMetadata
var ProviderConfigurationResponse = Schema{
	Name: "ProviderConfigurationResponse",
	Params: []string{
		"issuer", "authorization_endpoint", "token_endpoint", "userinfo_endpoint",
		"jwks_uri", "jwks", "registration_endpoint", "end_session_endpoint",
	},
}

var UserInfoRequest = Schema{
	Name:     "UserInfoRequest",
	Params:   []string{"access_token"},
	Required: []string{"access_token"},
}

// https://openid.net/specs/openid-connect-core-1_0.html#UserInfoResponse
var UserInfoResponse = Schema{
	Name:     "UserInfoResponse",
	Params:   []string{"sub"},
	Required: []string{"sub"},
}

// WebFingerRequest is the query of a WebFinger lookup.
//
// https://tools.ietf.org/html/rfc7033#section-4.1
var WebFingerRequest = Schema{
	Name:     "WebFingerRequest",
	Params:   []string{"resource", "rel"},
	Required: []string{"resource"},
}

// JRD is a WebFinger JSON Resource Descriptor.
//
// https://tools.ietf.org/html/rfc7033#section-4.4
var JRD = Schema{
	Name:   "JRD",
	Params: []string{"subject", "aliases", "properties", "links"},
}

// Empty carries no parameters, used for requests like discovery.
var Empty = Schema{Name: "Message"}

// https://tools.ietf.org/html/rfc6749#section-5.2
var ErrorResponse = Schema{
	Name:     "ErrorResponse",
	Params:   []string{"error", "error_description", "error_uri", "state"},
	Required: []string{"error"},
}

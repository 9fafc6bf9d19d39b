package service

// Keys of ClientConfig.Callback
const (
	CallbackCode     = "code"
	CallbackImplicit = "implicit"
	CallbackFormPost = "form_post"
)

// ClientConfig is the static configuration of a client, as registered with a
// provider.
type ClientConfig struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret,omitempty"`
	// Issuer is the provider. It is replaced by the issuer a discovery
	// document or WebFinger lookup names.
	Issuer       string   `json:"issuer,omitempty"`
	RedirectURIs []string `json:"redirect_uris,omitempty"`
	// Callback holds redirect URIs by response kind, see the Callback*
	// constants. When set it takes precedence over RedirectURIs.
	Callback  map[string]string `json:"callback,omitempty"`
	Behaviour Behaviour         `json:"behaviour,omitempty"`
	Allow     Allow             `json:"allow,omitempty"`
	// Services holds per operation configuration, keyed by operation name.
	Services map[string]ServiceConfig `json:"services,omitempty"`
	// Resource is the default identifier for WebFinger lookups.
	Resource string `json:"resource,omitempty"`
}

// Behaviour are the client's preferences for requests.
type Behaviour struct {
	ResponseTypes []string `json:"response_types,omitempty"`
	Scope         []string `json:"scope,omitempty"`
}

// Allow relaxes checks that are otherwise enforced.
type Allow struct {
	// IssuerMismatch accepts a discovery document for a different issuer.
	IssuerMismatch bool `json:"issuer_mismatch,omitempty"`
	// HTTPLinks accepts plain http issuer links from WebFinger.
	HTTPLinks bool `json:"http_links,omitempty"`
}

// ServiceConfig configures a single operation.
type ServiceConfig struct {
	// Endpoint overrides the endpoint until discovery sets one.
	Endpoint string `json:"endpoint,omitempty"`
	// DefaultAuthnMethod overrides the operation's client authentication.
	DefaultAuthnMethod string `json:"default_authn_method,omitempty"`
	// RequestArgs are added to every request, with the lowest precedence.
	RequestArgs map[string]interface{} `json:"request_args,omitempty"`
}

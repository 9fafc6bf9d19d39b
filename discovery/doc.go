// Package discovery models the OIDC provider metadata document, and serves it.
// Clients use ProviderMetadata for a typed view over a fetched document, the
// Handler publishes one along with the provider's keys.
//
// https://openid.net/specs/openid-connect-discovery-1_0.html
package discovery

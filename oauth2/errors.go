// Package oauth2 holds the protocol level error a provider can answer a
// request with.
package oauth2

import (
	"fmt"
	"strings"

	"github.com/pardot/oidcservice/message"
)

// ErrorCode is the "error" member of an error response
type ErrorCode string

// https://tools.ietf.org/html/rfc6749#section-5.2
const (
	ErrorCodeInvalidRequest       ErrorCode = "invalid_request"
	ErrorCodeInvalidClient        ErrorCode = "invalid_client"
	ErrorCodeInvalidGrant         ErrorCode = "invalid_grant"
	ErrorCodeUnauthorizedClient   ErrorCode = "unauthorized_client"
	ErrorCodeUnsupportedGrantType ErrorCode = "unsupported_grant_type"
	ErrorCodeInvalidScope         ErrorCode = "invalid_scope"
)

// https://tools.ietf.org/html/rfc6749#section-4.1.2.1
const (
	ErrorCodeAccessDenied            ErrorCode = "access_denied"
	ErrorCodeUnsupportedResponseType ErrorCode = "unsupported_response_type"
	ErrorCodeServerError             ErrorCode = "server_error"
	ErrorCodeTemporarilyUnavailable  ErrorCode = "temporarily_unavailable"
)

// https://openid.net/specs/openid-connect-core-1_0.html#AuthError
const (
	ErrorCodeLoginRequired   ErrorCode = "login_required"
	ErrorCodeConsentRequired ErrorCode = "consent_required"
)

// TokenError is an error response from a provider endpoint, either in a
// response body or in an authorization redirect.
//
// https://tools.ietf.org/html/rfc6749#section-5.2
type TokenError struct {
	// Operation is the name of the operation whose response carried the error.
	Operation string `json:"-"`
	// ErrorCode indicates the type of error that occurred
	ErrorCode ErrorCode `json:"error,omitempty"`
	// Description is human readable text, to assist the client developer.
	Description string `json:"error_description,omitempty"`
	// ErrorURI identifies a human readable page about the error.
	ErrorURI string `json:"error_uri,omitempty"`
	// State is echoed back on authorization errors.
	State string `json:"state,omitempty"`
	// WWWAuthenticate is the challenge the error was returned with, if any.
	WWWAuthenticate string `json:"-"`
	// Cause wraps any upstream error that resulted in this error being
	// returned, if this error should be unwrappable
	Cause error `json:"-"`
}

// FromMessage builds a TokenError from an error response. It returns nil if
// the message has no "error" member.
func FromMessage(operation string, m message.Message) *TokenError {
	if m.String("error") == "" {
		return nil
	}
	return &TokenError{
		Operation:   operation,
		ErrorCode:   ErrorCode(m.String("error")),
		Description: m.String("error_description"),
		ErrorURI:    m.String("error_uri"),
		State:       m.String("state"),
	}
}

// FromWWWAuthenticate builds a TokenError from a Bearer challenge, as
// protected resources like the userinfo endpoint return them. It returns nil
// if the challenge carries no error.
//
// https://tools.ietf.org/html/rfc6750#section-3
func FromWWWAuthenticate(operation, challenge string) *TokenError {
	scheme, params, _ := strings.Cut(strings.TrimSpace(challenge), " ")
	if !strings.EqualFold(scheme, "bearer") {
		return nil
	}
	attrs := map[string]string{}
	for _, p := range splitParams(params) {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			continue
		}
		attrs[strings.ToLower(strings.TrimSpace(k))] = strings.Trim(strings.TrimSpace(v), `"`)
	}
	if attrs["error"] == "" {
		return nil
	}
	return &TokenError{
		Operation:       operation,
		ErrorCode:       ErrorCode(attrs["error"]),
		Description:     attrs["error_description"],
		ErrorURI:        attrs["error_uri"],
		WWWAuthenticate: challenge,
	}
}

// splitParams splits auth-params on commas outside of quoted strings.
func splitParams(s string) []string {
	var (
		ret    []string
		quoted bool
		start  int
	)
	for i, c := range s {
		switch c {
		case '"':
			quoted = !quoted
		case ',':
			if !quoted {
				ret = append(ret, s[start:i])
				start = i + 1
			}
		}
	}
	return append(ret, s[start:])
}

// Error returns a string representing this error
func (t *TokenError) Error() string {
	str := fmt.Sprintf("%s error", t.ErrorCode)
	if t.Operation != "" {
		str = fmt.Sprintf("%s in %s response", str, t.Operation)
	}
	if t.Description != "" {
		str = fmt.Sprintf("%s: %s", str, t.Description)
	}
	if t.Cause != nil {
		str = fmt.Sprintf("%s (cause: %s)", str, t.Cause.Error())
	}
	return str
}

func (t *TokenError) Unwrap() error {
	return t.Cause
}

package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"

	"github.com/pardot/oidcservice/message"
	"github.com/pardot/oidcservice/state"
	"golang.org/x/oauth2"
)

// Client authentication methods.
//
// https://openid.net/specs/openid-connect-core-1_0.html#ClientAuthentication
const (
	AuthnNone              = "none"
	AuthnClientSecretBasic = "client_secret_basic"
	AuthnClientSecretPost  = "client_secret_post"
	// AuthnBearerHeader sends an access token, rather than client
	// credentials, as in https://tools.ietf.org/html/rfc6750#section-2.1
	AuthnBearerHeader = "bearer_header"
)

// AuthStyle returns the golang.org/x/oauth2 equivalent of a client
// authentication method.
func AuthStyle(method string) oauth2.AuthStyle {
	switch method {
	case AuthnClientSecretBasic:
		return oauth2.AuthStyleInHeader
	case AuthnClientSecretPost:
		return oauth2.AuthStyleInParams
	default:
		return oauth2.AuthStyleAutoDetect
	}
}

// authenticate applies the client authentication method to the request,
// returning the request to send. header is updated in place.
func (s *Service) authenticate(ctx context.Context, method string, req message.Message, header http.Header, extras Extras) (message.Message, error) {
	cfg := s.sc.Config
	req = req.Clone()

	switch method {
	case "", AuthnNone:
		return req, nil

	case AuthnClientSecretBasic:
		id := req.String("client_id")
		if id == "" {
			id = cfg.ClientID
		}
		secret := req.String("client_secret")
		if secret == "" {
			secret = cfg.ClientSecret
		}
		if id == "" {
			return nil, &MissingParameterError{Param: "client_id"}
		}
		if secret == "" {
			return nil, &MissingParameterError{Param: "client_secret"}
		}
		// https://tools.ietf.org/html/rfc6749#section-2.3.1
		creds := url.QueryEscape(id) + ":" + url.QueryEscape(secret)
		header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(creds)))
		delete(req, "client_secret")
		return req, nil

	case AuthnClientSecretPost:
		if req.String("client_id") == "" {
			req["client_id"] = cfg.ClientID
		}
		if req.String("client_secret") == "" {
			req["client_secret"] = cfg.ClientSecret
		}
		if req.String("client_secret") == "" {
			return nil, &MissingParameterError{Param: "client_secret"}
		}
		return req, nil

	case AuthnBearerHeader:
		token := req.String("access_token")
		if token == "" && extras.State != "" {
			found, err := s.sc.State.MultipleExtendRequestArgs(ctx, message.Message{}, extras.State, []string{"access_token"},
				[]string{state.ItemTokenResponse, state.ItemRefreshTokenResponse}, true)
			if err != nil && !state.IsNotFound(err) {
				return nil, err
			}
			token = found.String("access_token")
		}
		if token == "" {
			return nil, &MissingParameterError{Param: "access_token"}
		}
		header.Set("Authorization", "Bearer "+token)
		delete(req, "access_token")
		return req, nil
	}

	return nil, fmt.Errorf("unsupported client authentication method %q", method)
}

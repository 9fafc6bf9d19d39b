package service

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/pardot/oidcservice/message"
	"github.com/pardot/oidcservice/state"
)

// NewAuthorization returns the authorization request operation. Its request is
// sent by the user agent, and the response arrives on the redirect URI.
//
// https://tools.ietf.org/html/rfc6749#section-4.1.1
func NewAuthorization(sc *Context, conf ServiceConfig) *Service {
	s := newService(sc, conf, &Service{
		Name:             "Authorization",
		RequestSchema:    message.AuthorizationRequest,
		ResponseSchema:   message.AuthorizationResponse,
		EndpointName:     "authorization_endpoint",
		Synchronous:      false,
		HTTPMethod:       http.MethodGet,
		BodyType:         message.URLEncoded,
		ResponseBodyType: message.URLEncoded,
		RequestItem:      state.ItemAuthRequest,
		ResponseItem:     state.ItemAuthResponse,
	})
	s.gatherExtra = gatherAuthorization
	s.AddPreConstruct(PickRedirectURI, SetState)
	s.AddPostConstruct(s.storeRequest)
	return s
}

func gatherAuthorization(_ context.Context, s *Service, args message.Message, _ Extras) (message.Message, error) {
	if args.String("redirect_uri") == "" {
		ru, ok := s.sc.redirectURI()
		if !ok {
			return nil, &MissingParameterError{Param: "redirect_uri"}
		}
		args["redirect_uri"] = ru
	}

	b := s.sc.Config.Behaviour
	if !args.Has("response_type") && len(b.ResponseTypes) > 0 {
		args["response_type"] = b.ResponseTypes[0]
	}
	if !args.Has("scope") && len(b.Scope) > 0 {
		args["scope"] = strings.Join(b.Scope, " ")
	}
	return args, nil
}

// NewAccessToken returns the operation exchanging an authorization code for
// tokens. The code, redirect URI and state are taken from the flow's
// authorization request and response.
//
// https://tools.ietf.org/html/rfc6749#section-4.1.3
func NewAccessToken(sc *Context, conf ServiceConfig) *Service {
	s := newService(sc, conf, &Service{
		Name:               "AccessToken",
		RequestSchema:      message.AccessTokenRequest,
		ResponseSchema:     message.AccessTokenResponse,
		EndpointName:       "token_endpoint",
		Synchronous:        true,
		HTTPMethod:         http.MethodPost,
		BodyType:           message.URLEncoded,
		ResponseBodyType:   message.JSON,
		ResponseItem:       state.ItemTokenResponse,
		DefaultAuthnMethod: AuthnClientSecretBasic,
	})
	s.AddPreConstruct(FoldPriorResponses(message.AccessTokenRequest, state.ItemAuthRequest, state.ItemAuthResponse))
	s.AddPostParse(SetExpiresAt)
	return s
}

// NewRefreshAccessToken returns the operation refreshing the flow's access
// token with the latest refresh token it was issued.
//
// https://tools.ietf.org/html/rfc6749#section-6
func NewRefreshAccessToken(sc *Context, conf ServiceConfig) *Service {
	s := newService(sc, conf, &Service{
		Name:               "RefreshAccessToken",
		RequestSchema:      message.RefreshAccessTokenRequest,
		ResponseSchema:     message.AccessTokenResponse,
		EndpointName:       "token_endpoint",
		Synchronous:        true,
		HTTPMethod:         http.MethodPost,
		BodyType:           message.URLEncoded,
		ResponseBodyType:   message.JSON,
		ResponseItem:       state.ItemRefreshTokenResponse,
		DefaultAuthnMethod: AuthnBearerHeader,
	})
	s.AddPreConstruct(FoldPriorResponses(message.RefreshAccessTokenRequest, state.ItemTokenResponse, state.ItemRefreshTokenResponse))
	s.AddPostParse(SetExpiresAt)
	return s
}

// ExpiresAt is the response member SetExpiresAt records the token's expiry
// in, as seconds since the epoch.
const ExpiresAt = "__expires_at"

// SetExpiresAt turns a relative expires_in into an absolute expiry, so it
// stays meaningful once the response is stored.
func SetExpiresAt(_ context.Context, sc *Context, resp message.Message, _ string) (message.Message, error) {
	if !resp.Has("expires_in") {
		return resp, nil
	}
	secs, err := strconv.ParseInt(resp.String("expires_in"), 10, 64)
	if err != nil {
		return nil, &ConstructionError{Schema: "AccessTokenResponse", Err: err}
	}
	resp[ExpiresAt] = float64(sc.Now().Unix() + secs)
	return resp, nil
}

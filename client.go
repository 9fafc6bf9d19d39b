// Package oidcservice drives OAuth2 and OpenID Connect flows against a
// provider, as a relying party. Each flow's messages are kept in a pluggable
// store, keyed by the flow's "state" value, so a flow can be resumed by any
// process sharing the store.
package oidcservice

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pardot/oidcservice/discovery"
	"github.com/pardot/oidcservice/keyjar"
	"github.com/pardot/oidcservice/message"
	"github.com/pardot/oidcservice/service"
	"github.com/pardot/oidcservice/state"
	"github.com/pardot/oidcservice/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

const (
	// ScopeOpenID marks a request as an OpenID Connect one
	ScopeOpenID = "openid"
	// ScopeOfflineAccess requests a refresh token
	ScopeOfflineAccess = "offline_access"
)

// Client runs flows for a single registered client.
type Client struct {
	sc *service.Context
	hc *http.Client

	log      logrus.FieldLogger
	reg      prometheus.Registerer
	now      func() time.Time
	verifyID bool
}

// ClientOpt can be used to customize the client
// nolint:golint
type ClientOpt func(*Client)

// WithHTTPClient sets the client used to call the provider. By default
// http.DefaultClient is used.
func WithHTTPClient(hc *http.Client) ClientOpt {
	return func(c *Client) {
		c.hc = hc
	}
}

// WithLogger sets the logger, by default nothing is logged.
func WithLogger(l logrus.FieldLogger) ClientOpt {
	return func(c *Client) {
		c.log = l
	}
}

// WithRegisterer registers pipeline metrics with reg.
func WithRegisterer(reg prometheus.Registerer) ClientOpt {
	return func(c *Client) {
		c.reg = reg
	}
}

// WithIDTokenVerification verifies ID tokens in token responses against the
// provider's keys before they are stored. Authorization requests get a nonce,
// which the ID token must echo.
func WithIDTokenVerification() ClientOpt {
	return func(c *Client) {
		c.verifyID = true
	}
}

// WithClock provides a custom clock, used for token expiry and ID token
// validation.
func WithClock(now func() time.Time) ClientOpt {
	return func(c *Client) {
		c.now = now
	}
}

// New returns a client for cfg, keeping flow state in store.
func New(cfg *service.ClientConfig, store storage.Storage, opts ...ClientOpt) (*Client, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client_id is required")
	}

	c := &Client{
		hc:  http.DefaultClient,
		now: time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	if c.log == nil {
		l := logrus.New()
		l.Out = io.Discard
		c.log = l
	}

	copts := []service.ContextOpt{
		service.WithLogger(c.log),
		service.WithClock(c.now),
		service.WithKeyJar(keyjar.New(keyjar.WithHTTPClient(c.hc), keyjar.WithLogger(c.log))),
	}
	if c.reg != nil {
		m, err := service.NewMetrics(c.reg)
		if err != nil {
			return nil, fmt.Errorf("registering metrics: %w", err)
		}
		copts = append(copts, service.WithMetrics(m))
	}

	st := state.New(store, state.WithLogger(c.log))
	c.sc = service.NewContext(cfg, st, copts...)

	for _, name := range service.Names() {
		svc, _ := service.New(name, c.sc, cfg.Services[name])
		c.sc.Register(svc)
	}
	if c.verifyID {
		at, _ := c.sc.Service("AccessToken")
		at.AddPostParse(verifyIDToken(true))
		rt, _ := c.sc.Service("RefreshAccessToken")
		rt.AddPostParse(verifyIDToken(false))
	}

	return c, nil
}

// Context returns the shared service context, for callers that drive
// services directly.
func (c *Client) Context() *service.Context {
	return c.sc
}

func (c *Client) service(name string) *service.Service {
	svc, ok := c.sc.Service(name)
	if !ok {
		// every registry entry is registered in New
		panic(fmt.Sprintf("service %s not registered", name))
	}
	return svc
}

// do builds the request of svc, sends it, and integrates the response into
// the flow identified by key.
func (c *Client) do(ctx context.Context, svc *service.Service, args message.Message, extras service.Extras, key string) (message.Message, error) {
	r, err := svc.GetRequestParameters(ctx, args, extras)
	if err != nil {
		return nil, err
	}
	req, err := r.HTTPRequest(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating %s request: %w", svc.Name, err)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", svc.Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", svc.Name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, parseResponseError(svc.Name, resp, body)
	}

	bodyType := ""
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		bodyType = message.URLEncoded
	}
	return svc.ParseResponse(ctx, string(body), bodyType, key)
}

// Discover fetches the issuer's configuration document. Service endpoints and
// the issuer's keys are updated from it.
func (c *Client) Discover(ctx context.Context) (*discovery.ProviderMetadata, error) {
	resp, err := c.do(ctx, c.service("ProviderInfoDiscovery"), nil, service.Extras{}, "")
	if err != nil {
		return nil, err
	}
	return discovery.FromMessage(resp)
}

// WebFinger finds the issuer for resource, an account or URL, and makes it
// the client's issuer.
func (c *Client) WebFinger(ctx context.Context, resource string) (string, error) {
	if _, err := c.do(ctx, c.service("WebFinger"), nil, service.Extras{Resource: resource}, ""); err != nil {
		return "", err
	}
	return c.sc.Issuer(), nil
}

// Begin starts a flow with the current issuer, and returns its key and the
// URL to send the user to. args are added to the authorization request, a
// "state" in them is used as the key.
func (c *Client) Begin(ctx context.Context, args message.Message) (key string, authURL string, err error) {
	args = args.Clone()
	key, err = c.sc.State.CreateState(ctx, c.sc.Issuer(), args.String("state"))
	if err != nil {
		return "", "", err
	}
	args["state"] = key

	if c.verifyID && !args.Has("nonce") {
		nonce, err := randomString()
		if err != nil {
			return "", "", err
		}
		args["nonce"] = nonce
	}

	r, err := c.service("Authorization").GetRequestParameters(ctx, args, service.Extras{State: key})
	if err != nil {
		return "", "", err
	}
	c.log.WithField("key", key).Debug("began flow")
	return key, r.URL, nil
}

// Finish integrates the authorization response in rawQuery, the query of the
// redirect back to the client, and exchanges its code for tokens. The flow's
// key and the token response are returned.
func (c *Client) Finish(ctx context.Context, rawQuery string) (string, message.Message, error) {
	authz, err := c.service("Authorization").ParseResponse(ctx, rawQuery, message.URLEncoded, "")
	if err != nil {
		return "", nil, err
	}
	key := authz.String("state")

	tok, err := c.do(ctx, c.service("AccessToken"), nil, service.Extras{State: key}, key)
	if err != nil {
		return key, nil, err
	}
	return key, tok, nil
}

// Refresh exchanges the flow's refresh token for new tokens.
func (c *Client) Refresh(ctx context.Context, key string) (message.Message, error) {
	return c.do(ctx, c.service("RefreshAccessToken"), nil, service.Extras{State: key}, key)
}

// UserInfo fetches claims about the flow's user with its access token.
func (c *Client) UserInfo(ctx context.Context, key string) (message.Message, error) {
	return c.do(ctx, c.service("UserInfo"), nil, service.Extras{State: key}, key)
}

// EndFlow forgets the flow and everything indexed to it.
func (c *Client) EndFlow(ctx context.Context, key string) error {
	return c.sc.State.RemoveState(ctx, key)
}

// Token returns the flow's latest tokens. Values from a refresh replace those
// of the original token response.
func (c *Client) Token(ctx context.Context, key string) (*oauth2.Token, error) {
	m, err := c.sc.State.MultipleExtendRequestArgs(ctx, message.Message{}, key, tokenParams,
		[]string{state.ItemTokenResponse, state.ItemRefreshTokenResponse}, false)
	if err != nil {
		return nil, err
	}
	if m.String("access_token") == "" {
		return nil, fmt.Errorf("flow %s has no access token", key)
	}
	return tokenFromMessage(m), nil
}

// OAuth2Config returns the client as an x/oauth2 configuration, for use with
// libraries built on it. Endpoints are as currently known, so it should be
// called after discovery.
func (c *Client) OAuth2Config() *oauth2.Config {
	cfg := c.sc.Config
	at := c.service("AccessToken")
	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.service("Authorization").Endpoint(),
			TokenURL:  at.Endpoint(),
			AuthStyle: service.AuthStyle(at.DefaultAuthnMethod),
		},
		Scopes: cfg.Behaviour.Scope,
	}
	if len(cfg.RedirectURIs) > 0 {
		oc.RedirectURL = cfg.RedirectURIs[0]
	}
	if ru := cfg.Callback[service.CallbackCode]; ru != "" {
		oc.RedirectURL = ru
	}
	return oc
}

func randomString() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// VerifiedClaims returns the claims of the flow's latest verified ID token.
// It is nil if the flow has none, as when verification is off.
func (c *Client) VerifiedClaims(ctx context.Context, key string) (message.Message, error) {
	verified := message.VerifiedClaimName("id_token")
	m, err := c.sc.State.MultipleExtendRequestArgs(ctx, message.Message{}, key, []string{verified},
		[]string{state.ItemTokenResponse, state.ItemRefreshTokenResponse}, false)
	if err != nil {
		return nil, err
	}
	claims, ok := m[verified].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	return message.Message(claims), nil
}

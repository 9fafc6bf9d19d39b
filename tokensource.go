package oidcservice

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
)

// TokenSource returns a token source for the flow. It hands out the flow's
// current token until it expires, then refreshes it through the client so the
// new tokens are stored with the flow. ctx is used for the refreshes.
func (c *Client) TokenSource(ctx context.Context, key string) (oauth2.TokenSource, error) {
	t, err := c.Token(ctx, key)
	if err != nil {
		return nil, err
	}
	return oauth2.ReuseTokenSource(t, &refreshSource{ctx: ctx, c: c, key: key}), nil
}

type refreshSource struct {
	// oauth2.TokenSource has no context argument
	ctx context.Context
	c   *Client
	key string
}

func (r *refreshSource) Token() (*oauth2.Token, error) {
	if _, err := r.c.Refresh(r.ctx, r.key); err != nil {
		return nil, err
	}
	return r.c.Token(r.ctx, r.key)
}

// HTTPClient returns a client that authenticates its requests with the flow's
// access token, refreshing it as needed. Requests are sent with the client's
// own HTTP client.
func (c *Client) HTTPClient(ctx context.Context, key string) (*http.Client, error) {
	ts, err := c.TokenSource(ctx, key)
	if err != nil {
		return nil, err
	}
	return oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, c.hc), ts), nil
}

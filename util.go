package oidcservice

import (
	"time"

	"github.com/pardot/oidcservice/message"
	"github.com/pardot/oidcservice/service"
	"golang.org/x/oauth2"
)

// tokenParams are read from token responses to build an oauth2.Token.
var tokenParams = []string{
	"access_token", "token_type", "refresh_token", "expires_in", "scope", "id_token", service.ExpiresAt,
}

// tokenFromMessage converts a token response. Expiry comes from the absolute
// time recorded when the response was integrated, not expires_in, so it is
// correct however long ago that was.
func tokenFromMessage(m message.Message) *oauth2.Token {
	t := &oauth2.Token{
		AccessToken:  m.String("access_token"),
		TokenType:    m.String("token_type"),
		RefreshToken: m.String("refresh_token"),
	}
	if exp, ok := m[service.ExpiresAt].(float64); ok {
		t.Expiry = time.Unix(int64(exp), 0)
	}

	extra := map[string]interface{}{}
	for _, k := range []string{"id_token", "scope", "expires_in"} {
		if v, ok := m[k]; ok {
			extra[k] = v
		}
	}
	return t.WithExtra(extra)
}

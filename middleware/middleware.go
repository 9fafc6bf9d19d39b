// Package middleware protects http handlers with an OpenID Connect login,
// run through an oidcservice.Client. The session only holds the flow key,
// tokens stay in the client's flow state store.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/sessions"
	"github.com/pardot/oidcservice"
	"github.com/pardot/oidcservice/idtoken"
	"github.com/pardot/oidcservice/message"
	"github.com/pardot/oidcservice/state"
)

type claimsContextKey struct{}

const (
	defaultSessionName = "oidc-middleware"

	sessionKeyFlow         = "oidc-flow"
	sessionKeyOIDCReturnTo = "oidc-return-to"
)

// Handler wraps another http.Handler, protecting it with OIDC authentication.
type Handler struct {
	// Client runs the flows. Its configuration's redirect URI must route to
	// a handler wrapped by this Handler.
	Client *oidcservice.Client
	// BaseURL is the base URL for this relying party. If it is not safe to
	// redirect the user to their original destination, they will be redirected
	// to this URL.
	BaseURL string

	// SessionAuthenticationKey is a 32 or 64 byte random key used to
	// authenticate the session.
	SessionAuthenticationKey []byte
	// SessionEncryptionKey is a 16, 24 or 32 byte random key used to encrypt
	// the session. If nil, the session is not encrypted.
	SessionEncryptionKey []byte
	// SessionName is a name used for the session. If empty, a default session
	// name is used.
	SessionName string
	// SecureCookie marks the session cookie Secure, so it is only sent over
	// https. Set it when BaseURL is an https URL.
	SecureCookie bool

	discovered bool
	discoverMu sync.Mutex

	sessionStore   sessions.Store
	sessionStoreMu sync.Mutex

	clock func() time.Time
}

// Wrap returns an http.Handler that wraps the given http.Handler and
// provides OIDC authentication.
func (h *Handler) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session := h.getSession(r)

		if err := h.discover(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}

		// Check for a user that's already authenticated
		claims, err := h.authenticateExisting(r, session)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		} else if claims != nil {
			// Authentication successful
			r = r.WithContext(context.WithValue(r.Context(), claimsContextKey{}, claims))
			next.ServeHTTP(w, r)
			return
		}

		// Check for an authentication request finishing
		returnTo, err := h.authenticateCallback(r, session)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		} else if returnTo != "" {
			if err := sessions.Save(r, w); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			http.Redirect(w, r, returnTo, http.StatusSeeOther)
			return
		}

		// Not authenticated. Kick off an auth flow.
		redirectURL, err := h.startAuthentication(r, session)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		if err := sessions.Save(r, w); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		http.Redirect(w, r, redirectURL, http.StatusSeeOther)
	})
}

// authenticateExisting returns (claims, nil) if the user is authenticated,
// (nil, error) if a fatal error occurs, or (nil, nil) if the user is not
// authenticated but no fatal error occurred.
//
// A flow whose ID token expired is refreshed. The refresh succeeding is
// enough to stay authenticated, as refreshed responses often carry no new ID
// token.
func (h *Handler) authenticateExisting(r *http.Request, session *sessions.Session) (message.Message, error) {
	ctx := r.Context()

	key, ok := session.Values[sessionKeyFlow].(string)
	if !ok || key == "" {
		return nil, nil
	}
	// a flow still waiting on its callback isn't authenticated yet
	if _, pending := session.Values[sessionKeyOIDCReturnTo]; pending {
		return nil, nil
	}

	claims, err := h.Client.VerifiedClaims(ctx, key)
	if state.IsNotFound(err) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	if claims == nil {
		return nil, nil
	}

	cl, err := idtoken.FromMessage(claims)
	if err != nil {
		return nil, nil
	}
	if cl.Expired(h.now()) {
		if _, err := h.Client.Refresh(ctx, key); err != nil {
			return nil, nil
		}
		if claims, err = h.Client.VerifiedClaims(ctx, key); err != nil || claims == nil {
			return nil, nil
		}
	}

	return claims, nil
}

// authenticateCallback returns (returnTo, nil) if the user is authenticated,
// ("", error) if a fatal error occurs, or ("", nil) if the user is not
// authenticated but a fatal error did not occur.
//
// This function may modify the session if a token is authenticated, so it must be
// saved afterward.
func (h *Handler) authenticateCallback(r *http.Request, session *sessions.Session) (string, error) {
	ctx := r.Context()

	if r.Method != http.MethodGet {
		return "", nil
	}

	if qerr := r.URL.Query().Get("error"); qerr != "" {
		qdesc := r.URL.Query().Get("error_description")
		return "", fmt.Errorf("%s: %s", qerr, qdesc)
	}

	// If state or code are missing, this is not a callback
	st := r.URL.Query().Get("state")
	if st == "" || r.URL.Query().Get("code") == "" {
		return "", nil
	}

	wantKey, _ := session.Values[sessionKeyFlow].(string)
	if wantKey == "" || wantKey != st {
		return "", fmt.Errorf("state did not match")
	}

	if _, _, err := h.Client.Finish(ctx, r.URL.RawQuery); err != nil {
		return "", err
	}

	returnTo, ok := session.Values[sessionKeyOIDCReturnTo].(string)
	if !ok || returnTo == "" {
		returnTo = h.BaseURL
	}
	delete(session.Values, sessionKeyOIDCReturnTo)

	return returnTo, nil
}

func (h *Handler) startAuthentication(r *http.Request, session *sessions.Session) (string, error) {
	ctx := r.Context()

	if old, ok := session.Values[sessionKeyFlow].(string); ok && old != "" {
		// best effort, the old flow is unusable either way
		_ = h.Client.EndFlow(ctx, old)
	}

	key, authURL, err := h.Client.Begin(ctx, nil)
	if err != nil {
		return "", err
	}
	session.Values[sessionKeyFlow] = key

	session.Values[sessionKeyOIDCReturnTo] = ""
	if r.Method == http.MethodGet {
		session.Values[sessionKeyOIDCReturnTo] = r.URL.RequestURI()
	}

	return authURL, nil
}

// discover fetches the issuer's configuration once.
func (h *Handler) discover(ctx context.Context) error {
	h.discoverMu.Lock()
	defer h.discoverMu.Unlock()

	if h.discovered {
		return nil
	}
	if _, err := h.Client.Discover(ctx); err != nil {
		return fmt.Errorf("discovering issuer: %w", err)
	}
	h.discovered = true
	return nil
}

func (h *Handler) getSession(r *http.Request) *sessions.Session {
	sessionName := h.SessionName
	if sessionName == "" {
		sessionName = defaultSessionName
	}

	h.sessionStoreMu.Lock()
	if h.sessionStore == nil {
		cs := sessions.NewCookieStore(h.SessionAuthenticationKey, h.SessionEncryptionKey)
		cs.Options.Secure = h.SecureCookie
		cs.Options.SameSite = http.SameSiteLaxMode
		cs.Options.HttpOnly = true
		h.sessionStore = cs
	}
	store := h.sessionStore
	h.sessionStoreMu.Unlock()

	session, _ := store.Get(r, sessionName)
	return session
}

func (h *Handler) now() time.Time {
	if h.clock != nil {
		return h.clock()
	}
	return time.Now()
}

// ClaimFromContext returns a claim of the authenticated user's ID token.
func ClaimFromContext(ctx context.Context, claim string) interface{} {
	c, ok := ctx.Value(claimsContextKey{}).(message.Message)
	if !ok {
		return nil
	}

	return c[claim]
}

// ClaimsFromContext returns the authenticated user's ID token claims.
func ClaimsFromContext(ctx context.Context) map[string]interface{} {
	c, ok := ctx.Value(claimsContextKey{}).(message.Message)
	if !ok {
		return nil
	}

	return c
}

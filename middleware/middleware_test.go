package middleware

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/sessions"
	"github.com/pardot/oidcservice"
	"github.com/pardot/oidcservice/service"
	"github.com/pardot/oidcservice/storage/memory"
	jose "gopkg.in/square/go-jose.v2"
)

// mockOIDCServer mocks out just enough of an OIDC server for tests. It accepts
// validClientID, validClientSecret and validRedirectURL as parameters, and
// returns an ID token with claims upon success.
type mockOIDCServer struct {
	baseURL           string
	validClientID     string
	validClientSecret string
	validRedirectURL  string
	claims            map[string]interface{}
	idTokenTTL        time.Duration

	key *rsa.PrivateKey

	mu       sync.Mutex
	nonce    string
	refreshs int

	mux *http.ServeMux
}

func startServer(t *testing.T, handler http.Handler) (baseURL string, cleanup func()) {
	t.Helper()

	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatal(err)
	}

	_, port, err := net.SplitHostPort(l.Addr().String())
	if err != nil {
		t.Fatal(err)
	}

	baseURL = fmt.Sprintf("http://localhost:%s", port)
	server := &http.Server{
		Handler: handler,
	}

	go func() { _ = server.Serve(l) }()

	return baseURL, func() {
		_ = server.Shutdown(context.Background())
		_ = l.Close()
	}
}

func startMockOIDCServer(t *testing.T) (server *mockOIDCServer, cleanup func()) {
	t.Helper()

	server = newMockOIDCServer()
	baseURL, cleanup := startServer(t, server)
	server.baseURL = baseURL

	return server, cleanup
}

func newMockOIDCServer() *mockOIDCServer {
	s := &mockOIDCServer{idTokenTTL: 60 * time.Second}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", s.handleDiscovery)
	mux.HandleFunc("/auth", s.handleAuth)
	mux.HandleFunc("/token", s.handleToken)
	mux.HandleFunc("/keys", s.handleKeys)
	s.mux = mux

	s.key = mustGenRSAKey(2048)

	return s
}

func (s *mockOIDCServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *mockOIDCServer) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "not GET request", http.StatusMethodNotAllowed)
		return
	}

	discovery := struct {
		Issuer                 string   `json:"issuer"`
		AuthorizationEndpoint  string   `json:"authorization_endpoint"`
		TokenEndpoint          string   `json:"token_endpoint"`
		JWKSURI                string   `json:"jwks_uri"`
		ResponseTypesSupported []string `json:"response_types_supported"`
	}{
		Issuer:                 s.baseURL,
		AuthorizationEndpoint:  fmt.Sprintf("%s/auth", s.baseURL),
		TokenEndpoint:          fmt.Sprintf("%s/token", s.baseURL),
		JWKSURI:                fmt.Sprintf("%s/keys", s.baseURL),
		ResponseTypesSupported: []string{"code"},
	}

	w.Header().Set("content-type", "application/json")
	if err := json.NewEncoder(w).Encode(discovery); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

func (s *mockOIDCServer) handleAuth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "not GET request", http.StatusMethodNotAllowed)
		return
	}

	clientID := r.URL.Query().Get("client_id")
	if clientID != s.validClientID {
		http.Error(w, "invalid client ID", http.StatusBadRequest)
		return
	}

	redirectURI := r.URL.Query().Get("redirect_uri")
	if redirectURI != s.validRedirectURL {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}

	responseType := r.URL.Query().Get("response_type")
	if responseType != "code" {
		http.Error(w, "invalid response_type", http.StatusBadRequest)
		return
	}

	scope := r.URL.Query().Get("scope")
	if scope != "openid" {
		http.Error(w, "invalid scope", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.nonce = r.URL.Query().Get("nonce")
	s.mu.Unlock()

	state := r.URL.Query().Get("state")
	redirectURL := fmt.Sprintf("%s?code=%s&state=%s", s.validRedirectURL, url.QueryEscape("valid-code"), url.QueryEscape(state))
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

func (s *mockOIDCServer) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "not a POST request", http.StatusMethodNotAllowed)
		return
	}

	switch r.FormValue("grant_type") {
	case "authorization_code":
	case "refresh_token":
		if r.FormValue("refresh_token") != "valid-refresh-token" {
			http.Error(w, "invalid refresh token", http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.refreshs++
		s.mu.Unlock()
		writeToken(w, map[string]interface{}{
			"access_token":  "def456",
			"token_type":    "Bearer",
			"refresh_token": "valid-refresh-token",
		})
		return
	default:
		http.Error(w, "invalid grant_type", http.StatusUnauthorized)
		return
	}

	clientID, clientSecret, ok := r.BasicAuth()
	if !ok {
		http.Error(w, "missing authorization header", http.StatusUnauthorized)
		return
	} else if clientID != s.validClientID || clientSecret != s.validClientSecret {
		http.Error(w, "invalid client ID or client secret", http.StatusUnauthorized)
		return
	}

	code := r.FormValue("code")
	if code != "valid-code" {
		http.Error(w, "invalid code", http.StatusUnauthorized)
		return
	}

	redirectURI := r.FormValue("redirect_uri")
	if redirectURI != s.validRedirectURL {
		http.Error(w, "invalid redirect_uri", http.StatusUnauthorized)
		return
	}

	jwk := jose.JSONWebKey{
		Key:       s.key,
		Algorithm: "RS256",
		KeyID:     "test",
	}

	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: jwk}, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	nonce := s.nonce
	s.mu.Unlock()

	now := time.Now()
	claims := map[string]interface{}{
		"iss":   s.baseURL,
		"aud":   clientID,
		"exp":   now.Add(s.idTokenTTL).Unix(),
		"iat":   now.Unix(),
		"nonce": nonce,
	}
	for k, v := range s.claims {
		claims[k] = v
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	jws, err := signer.Sign(payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	idToken, err := jws.CompactSerialize()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeToken(w, map[string]interface{}{
		"access_token":  "abc123",
		"token_type":    "Bearer",
		"refresh_token": "valid-refresh-token",
		"id_token":      idToken,
	})
}

func writeToken(w http.ResponseWriter, resp map[string]interface{}) {
	w.Header().Set("content-type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

func (s *mockOIDCServer) handleKeys(w http.ResponseWriter, r *http.Request) {
	jwk := jose.JSONWebKey{
		Key:       s.key.Public(),
		Algorithm: "RS256",
		KeyID:     "test",
	}

	if err := json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

// setup starts the mock provider and a protected server, and returns the
// protected server's URL and a client with a cookie jar.
func setup(t *testing.T, oidcServer *mockOIDCServer, handler *Handler) (string, *http.Client) {
	t.Helper()

	protected := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(fmt.Sprintf("sub: %s", ClaimFromContext(r.Context(), "sub"))))
	})

	oidcServer.validClientID = "valid-client-id"
	oidcServer.validClientSecret = "valid-client-secret"

	baseURL, cleanupServer := startServer(t, handler.Wrap(protected))
	t.Cleanup(cleanupServer)

	handler.BaseURL = baseURL

	oidcServer.validRedirectURL = fmt.Sprintf("%s/callback", baseURL)
	oidcServer.claims = map[string]interface{}{"sub": "valid-subject"}

	cli, err := oidcservice.New(&service.ClientConfig{
		ClientID:     oidcServer.validClientID,
		ClientSecret: oidcServer.validClientSecret,
		Issuer:       oidcServer.baseURL,
		RedirectURIs: []string{oidcServer.validRedirectURL},
		Behaviour: service.Behaviour{
			ResponseTypes: []string{"code"},
			Scope:         []string{"openid"},
		},
	}, memory.New(), oidcservice.WithIDTokenVerification())
	if err != nil {
		t.Fatal(err)
	}
	handler.Client = cli

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	return baseURL, &http.Client{Jar: jar}
}

func TestMiddleware_HappyPath(t *testing.T) {
	oidcServer, cleanupOIDCServer := startMockOIDCServer(t)
	defer cleanupOIDCServer()

	handler := &Handler{
		SessionAuthenticationKey: []byte("super-secret-key"),
	}
	baseURL, client := setup(t, oidcServer, handler)

	resp, err := client.Get(baseURL)
	if err != nil {
		t.Fatal(err)
	}

	body := checkResponse(t, resp)
	if !bytes.Equal([]byte("sub: valid-subject"), body) {
		t.Fatalf("wanted body %s, got %s", "sub: valid-subject", string(body))
	}

	// the session is reused without another flow
	oidcServer.validRedirectURL = "http://invalid.example.com"
	resp, err = client.Get(baseURL + "/again")
	if err != nil {
		t.Fatal(err)
	}
	body = checkResponse(t, resp)
	if !bytes.Equal([]byte("sub: valid-subject"), body) {
		t.Fatalf("wanted body %s, got %s", "sub: valid-subject", string(body))
	}
}

func TestMiddleware_Refresh(t *testing.T) {
	oidcServer, cleanupOIDCServer := startMockOIDCServer(t)
	defer cleanupOIDCServer()

	var skew atomic.Int64
	handler := &Handler{
		SessionAuthenticationKey: []byte("super-secret-key"),
		clock:                    func() time.Time { return time.Now().Add(time.Duration(skew.Load())) },
	}
	baseURL, client := setup(t, oidcServer, handler)

	resp, err := client.Get(baseURL)
	if err != nil {
		t.Fatal(err)
	}
	checkResponse(t, resp)

	// pretend the ID token expired
	skew.Store(int64(2 * oidcServer.idTokenTTL))

	resp, err = client.Get(baseURL)
	if err != nil {
		t.Fatal(err)
	}
	body := checkResponse(t, resp)
	if !bytes.Equal([]byte("sub: valid-subject"), body) {
		t.Fatalf("wanted body %s, got %s", "sub: valid-subject", string(body))
	}

	oidcServer.mu.Lock()
	defer oidcServer.mu.Unlock()
	if oidcServer.refreshs != 1 {
		t.Errorf("Want: 1 refresh, got %d", oidcServer.refreshs)
	}
}

func TestMiddleware_StateMismatch(t *testing.T) {
	oidcServer, cleanupOIDCServer := startMockOIDCServer(t)
	defer cleanupOIDCServer()

	handler := &Handler{
		SessionAuthenticationKey: []byte("super-secret-key"),
	}
	baseURL, _ := setup(t, oidcServer, handler)

	resp, err := http.Get(baseURL + "/callback?code=valid-code&state=forged")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("Want: 500 for a forged callback, got %d", resp.StatusCode)
	}
}

func checkResponse(t *testing.T, resp *http.Response) (body []byte) {
	t.Helper()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		t.Fatalf("bad response: HTTP %d: %s", resp.StatusCode, body)
	}

	return body
}

func mustGenRSAKey(bits int) *rsa.PrivateKey {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		panic(err)
	}

	return key
}

func TestSessionCookieOptions(t *testing.T) {
	for _, tc := range []struct {
		Name       string
		Secure     bool
		WantSecure bool
	}{
		{Name: "plain http", WantSecure: false},
		{Name: "secure", Secure: true, WantSecure: true},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			h := &Handler{
				SessionAuthenticationKey: []byte("super-secret-key"),
				SecureCookie:             tc.Secure,
			}
			req := httptest.NewRequest(http.MethodGet, "http://rp.example.com/", nil)
			session := h.getSession(req)
			session.Values[sessionKeyFlow] = "flow"

			rec := httptest.NewRecorder()
			if err := sessions.Save(req, rec); err != nil {
				t.Fatal(err)
			}
			cookies := rec.Result().Cookies()
			if len(cookies) != 1 {
				t.Fatalf("Want: 1 cookie, got %d", len(cookies))
			}
			c := cookies[0]
			if c.Secure != tc.WantSecure {
				t.Errorf("Want: secure %v, got %v", tc.WantSecure, c.Secure)
			}
			if c.SameSite != http.SameSiteLaxMode {
				t.Errorf("Want: SameSite Lax, got %v", c.SameSite)
			}
			if !c.HttpOnly {
				t.Error("Want: HttpOnly cookie")
			}
		})
	}
}

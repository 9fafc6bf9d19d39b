package discovery

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	jose "gopkg.in/square/go-jose.v2"
)

// KeysPath is where the Handler serves the key set, relative to the issuer.
const KeysPath = "/.well-known/jwks.json"

var _ http.Handler = (*Handler)(nil)
var _ KeySource = StaticKeys(nil)

// KeySource is used to retrieve the public keys a provider is signing with
type KeySource interface {
	PublicKeys(ctx context.Context) (*jose.JSONWebKeySet, error)
}

// StaticKeys is a KeySource serving a fixed set.
type StaticKeys []jose.JSONWebKey

func (s StaticKeys) PublicKeys(context.Context) (*jose.JSONWebKeySet, error) {
	return &jose.JSONWebKeySet{Keys: s}, nil
}

// HandlerOpt configures a Handler.
type HandlerOpt func(h *Handler)

// WithKeySource serves keys from ks at KeysPath, and points the metadata's
// jwks_uri at it. Key lookups are cached for cacheFor.
func WithKeySource(ks KeySource, cacheFor time.Duration) HandlerOpt {
	return func(h *Handler) {
		h.ks = ks
		h.ksCacheFor = cacheFor
		h.md.JWKSURI = h.md.Issuer + KeysPath
	}
}

// WithStrictValidation makes NewHandler reject metadata that is not a valid
// OpenID provider configuration.
func WithStrictValidation() HandlerOpt {
	return func(h *Handler) {
		h.strict = true
	}
}

// Handler serves a provider configuration document, and optionally the
// provider's keys. It should be mounted at the issuer's root.
type Handler struct {
	md     *ProviderMetadata
	mux    *http.ServeMux
	strict bool

	ks         KeySource
	ksCacheFor time.Duration
	keysMu     sync.Mutex
	keys       *jose.JSONWebKeySet
	keysAt     time.Time
}

// NewHandler configures and returns a Handler
func NewHandler(metadata *ProviderMetadata, opts ...HandlerOpt) (*Handler, error) {
	h := &Handler{
		md:  metadata,
		mux: http.NewServeMux(),
	}
	for _, o := range opts {
		o(h)
	}

	if h.strict {
		if err := h.md.Validate(); err != nil {
			return nil, err
		}
	}

	h.mux.HandleFunc(WellKnownPath, h.serveMetadata)
	if h.ks != nil {
		h.mux.HandleFunc(KeysPath, h.serveKeys)
	}
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h.mux.ServeHTTP(w, req)
}

func (h *Handler) serveMetadata(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.md); err != nil {
		http.Error(w, "Internal Error", http.StatusInternalServerError)
	}
}

func (h *Handler) serveKeys(w http.ResponseWriter, req *http.Request) {
	h.keysMu.Lock()
	defer h.keysMu.Unlock()

	if h.keys == nil || time.Since(h.keysAt) > h.ksCacheFor {
		ks, err := h.ks.PublicKeys(req.Context())
		if err != nil {
			http.Error(w, "Internal Error", http.StatusInternalServerError)
			return
		}
		h.keys = ks
		h.keysAt = time.Now()
	}

	w.Header().Set("Content-Type", "application/jwk-set+json")
	if err := json.NewEncoder(w).Encode(h.keys); err != nil {
		http.Error(w, "Internal Error", http.StatusInternalServerError)
	}
}

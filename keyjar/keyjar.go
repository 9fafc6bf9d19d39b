// Package keyjar holds the signing keys of the issuers a client talks to. Keys
// come from discovery documents, either inline or fetched from the jwks_uri
// when a key is first needed.
package keyjar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"

	"github.com/pardot/oidcservice/message"
	"github.com/sirupsen/logrus"
	jose "gopkg.in/square/go-jose.v2"
)

// Option configures a KeyJar.
type Option func(*KeyJar)

// WithHTTPClient sets the client used to fetch key sets.
func WithHTTPClient(c *http.Client) Option {
	return func(k *KeyJar) {
		k.hc = c
	}
}

// WithLogger sets the logger, by default nothing is logged.
func WithLogger(l logrus.FieldLogger) Option {
	return func(k *KeyJar) {
		k.log = l
	}
}

type issuerKeys struct {
	keys    []jose.JSONWebKey
	jwksURI string
}

// KeyJar is a registry of keys by issuer. It is safe for concurrent use.
type KeyJar struct {
	mu      sync.RWMutex
	issuers map[string]*issuerKeys

	hc  *http.Client
	log logrus.FieldLogger
}

func New(opts ...Option) *KeyJar {
	l := logrus.New()
	l.Out = io.Discard

	k := &KeyJar{
		issuers: make(map[string]*issuerKeys),
		hc:      http.DefaultClient,
		log:     l,
	}
	for _, o := range opts {
		o(k)
	}
	return k
}

func (k *KeyJar) issuer(iss string) *issuerKeys {
	ik, ok := k.issuers[iss]
	if !ok {
		ik = &issuerKeys{}
		k.issuers[iss] = ik
	}
	return ik
}

// LoadKeys imports key material from a provider configuration document. An
// inline "jwks" set is added immediately, a "jwks_uri" is remembered and
// fetched when a key is looked up that is not already held.
func (k *KeyJar) LoadKeys(issuer string, doc message.Message) error {
	if uri := doc.String("jwks_uri"); uri != "" {
		k.mu.Lock()
		k.issuer(issuer).jwksURI = uri
		k.mu.Unlock()
	}

	raw, ok := doc["jwks"]
	if !ok {
		return nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encoding jwks: %v", err)
	}
	var set jose.JSONWebKeySet
	if err := json.Unmarshal(b, &set); err != nil {
		return fmt.Errorf("decoding jwks for %s: %v", issuer, err)
	}
	k.AddKeys(issuer, set.Keys...)
	return nil
}

// AddKeys adds keys for the issuer. A key with the same ID as an existing one
// replaces it.
func (k *KeyJar) AddKeys(issuer string, keys ...jose.JSONWebKey) {
	k.mu.Lock()
	defer k.mu.Unlock()

	ik := k.issuer(issuer)
	for _, nk := range keys {
		replaced := false
		for i, ek := range ik.keys {
			if nk.KeyID != "" && ek.KeyID == nk.KeyID {
				ik.keys[i] = nk
				replaced = true
				break
			}
		}
		if !replaced {
			ik.keys = append(ik.keys, nk)
		}
	}
}

// Keys returns the keys held for issuer.
func (k *KeyJar) Keys(issuer string) []jose.JSONWebKey {
	k.mu.RLock()
	defer k.mu.RUnlock()

	ik, ok := k.issuers[issuer]
	if !ok {
		return nil
	}
	return append([]jose.JSONWebKey(nil), ik.keys...)
}

// JWKSURI returns the key set URL registered for issuer, if any.
func (k *KeyJar) JWKSURI(issuer string) string {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if ik, ok := k.issuers[issuer]; ok {
		return ik.jwksURI
	}
	return ""
}

// Issuers returns the issuers keys are held for, sorted.
func (k *KeyJar) Issuers() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()

	ret := make([]string, 0, len(k.issuers))
	for iss := range k.issuers {
		ret = append(ret, iss)
	}
	sort.Strings(ret)
	return ret
}

// GetKey returns the issuer's key with the given ID. If it is not held and the
// issuer has a jwks_uri, the set is fetched again first, to pick up rotated
// keys.
func (k *KeyJar) GetKey(ctx context.Context, issuer, kid string) (*jose.JSONWebKey, error) {
	if key := k.findKey(issuer, kid); key != nil {
		return key, nil
	}

	if k.JWKSURI(issuer) == "" {
		return nil, fmt.Errorf("key %s not found for issuer %s", kid, issuer)
	}
	if err := k.FetchKeys(ctx, issuer); err != nil {
		return nil, err
	}

	if key := k.findKey(issuer, kid); key != nil {
		return key, nil
	}
	return nil, fmt.Errorf("key %s not found for issuer %s", kid, issuer)
}

func (k *KeyJar) findKey(issuer, kid string) *jose.JSONWebKey {
	for _, key := range k.Keys(issuer) {
		if key.KeyID == kid {
			key := key
			return &key
		}
	}
	return nil
}

// FetchKeys retrieves the issuer's jwks_uri and adds the keys found there.
func (k *KeyJar) FetchKeys(ctx context.Context, issuer string) error {
	uri := k.JWKSURI(issuer)
	if uri == "" {
		return fmt.Errorf("no jwks_uri known for issuer %s", issuer)
	}

	req, err := http.NewRequest(http.MethodGet, uri, nil)
	if err != nil {
		return fmt.Errorf("creating request for %s: %v", uri, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := k.hc.Do(req.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("fetching %s: %v", uri, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching %s: unexpected status %s", uri, resp.Status)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("decoding %s: %v", uri, err)
	}
	k.AddKeys(issuer, set.Keys...)

	k.log.WithFields(logrus.Fields{"issuer": issuer, "keys": len(set.Keys)}).Debug("fetched key set")
	return nil
}

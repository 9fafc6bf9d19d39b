package keyjar

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	jose "gopkg.in/square/go-jose.v2"
)

var _ oidc.KeySet = (*KeySet)(nil)

// KeySet verifies JWS signatures with an issuer's keys from a KeyJar. It can
// be handed to oidc.NewVerifier.
type KeySet struct {
	jar    *KeyJar
	issuer string
}

// KeySet returns a key set for the issuer.
func (k *KeyJar) KeySet(issuer string) *KeySet {
	return &KeySet{jar: k, issuer: issuer}
}

// VerifySignature checks the signature of a compact JWS, and returns its
// payload. When the token names a key ID only that key is tried, otherwise
// every key held for the issuer is.
func (s *KeySet) VerifySignature(ctx context.Context, raw string) ([]byte, error) {
	jws, err := jose.ParseSigned(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing jws: %v", err)
	}
	if len(jws.Signatures) != 1 {
		return nil, fmt.Errorf("want 1 signature, found %d", len(jws.Signatures))
	}

	kid := jws.Signatures[0].Header.KeyID
	if kid != "" {
		key, err := s.jar.GetKey(ctx, s.issuer, kid)
		if err != nil {
			return nil, err
		}
		payload, err := jws.Verify(key)
		if err != nil {
			return nil, fmt.Errorf("verifying signature with key %s: %v", kid, err)
		}
		return payload, nil
	}

	for _, key := range s.jar.Keys(s.issuer) {
		key := key
		if payload, err := jws.Verify(&key); err == nil {
			return payload, nil
		}
	}
	return nil, errors.New("no key held for the issuer verified the signature")
}

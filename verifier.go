package oidcservice

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/pardot/oidcservice/message"
	"github.com/pardot/oidcservice/service"
	"github.com/pardot/oidcservice/state"
	"github.com/sirupsen/logrus"
)

// IDTokenError is returned when a token response carries an ID token that
// fails verification.
type IDTokenError struct {
	// Key identifies the flow
	Key string
	Err error
}

func (e *IDTokenError) Error() string {
	return fmt.Sprintf("verifying id token of flow %s: %v", e.Key, e.Err)
}

func (e *IDTokenError) Unwrap() error {
	return e.Err
}

// verifyIDToken returns a hook verifying the response's ID token against the
// flow's issuer and its keys. The verified claims are kept next to the raw
// token, and the token's subject and session ID are indexed to the flow.
//
// When requireNonce is set the token must echo the nonce of the flow's
// authorization request. Otherwise a nonce is only checked if present, as
// refreshed ID tokens usually don't carry one.
func verifyIDToken(requireNonce bool) service.PostParser {
	return func(ctx context.Context, sc *service.Context, resp message.Message, key string) (message.Message, error) {
		raw := resp.String("id_token")
		if raw == "" {
			return resp, nil
		}
		if key == "" {
			return nil, &service.MissingParameterError{Param: "state"}
		}

		fs, err := sc.State.GetState(ctx, key)
		if err != nil {
			return nil, err
		}

		v := oidc.NewVerifier(fs.Issuer, sc.KeyJar.KeySet(fs.Issuer), &oidc.Config{
			ClientID: sc.Config.ClientID,
			Now:      sc.Now,
		})
		idt, err := v.Verify(ctx, raw)
		if err != nil {
			return nil, &IDTokenError{Key: key, Err: err}
		}

		authReq, _ := fs.Item(state.ItemAuthRequest)
		if want := authReq.String("nonce"); want != "" && (requireNonce || idt.Nonce != "") {
			if idt.Nonce != want {
				return nil, &IDTokenError{Key: key, Err: fmt.Errorf("nonce %q does not match request nonce", idt.Nonce)}
			}
		}

		claims := map[string]interface{}{}
		if err := idt.Claims(&claims); err != nil {
			return nil, &IDTokenError{Key: key, Err: err}
		}
		resp[message.VerifiedClaimName("id_token")] = claims

		if sid, ok := claims["sid"].(string); ok && sid != "" {
			if err := sc.State.StoreSIDToState(ctx, sid, key); err != nil {
				return nil, err
			}
		}
		if err := sc.State.StoreSubToState(ctx, idt.Subject, key); err != nil {
			return nil, err
		}

		sc.Logger().WithFields(logrus.Fields{"key": key, "sub": idt.Subject}).Debug("verified id token")
		return resp, nil
	}
}

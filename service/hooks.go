package service

import (
	"context"

	"github.com/pardot/oidcservice/message"
	"github.com/pardot/oidcservice/state"
)

// PickRedirectURI sets redirect_uri when the caller didn't. With callbacks
// configured, the callback matching the response mode or type is used, and
// response_type is defaulted from the client's behaviour. Otherwise the first
// registered redirect URI is used.
func PickRedirectURI(_ context.Context, sc *Context, args message.Message, _ Extras) (message.Message, HTTPArgs, error) {
	if args.String("redirect_uri") != "" {
		return args, HTTPArgs{}, nil
	}

	cfg := sc.Config
	if len(cfg.Callback) == 0 {
		if ru, ok := sc.redirectURI(); ok {
			args["redirect_uri"] = ru
		}
		return args, HTTPArgs{}, nil
	}

	if args.String("response_mode") == "form_post" {
		args["redirect_uri"] = cfg.Callback[CallbackFormPost]
		return args, HTTPArgs{}, nil
	}

	rt := args.String("response_type")
	if rt == "" {
		if len(cfg.Behaviour.ResponseTypes) > 0 {
			rt = cfg.Behaviour.ResponseTypes[0]
		} else {
			rt = "code"
		}
		args["response_type"] = rt
	}
	if rt == "code" {
		args["redirect_uri"] = cfg.Callback[CallbackCode]
	} else {
		args["redirect_uri"] = cfg.Callback[CallbackImplicit]
	}
	return args, HTTPArgs{}, nil
}

// SetState sets the request's state parameter to the flow key.
func SetState(_ context.Context, _ *Context, args message.Message, extras Extras) (message.Message, HTTPArgs, error) {
	key, err := flowKey(args, extras)
	if err != nil {
		return nil, HTTPArgs{}, err
	}
	args["state"] = key
	return args, HTTPArgs{}, nil
}

// flowKey resolves which flow a call belongs to.
func flowKey(args message.Message, extras Extras) (string, error) {
	if extras.State != "" {
		return extras.State, nil
	}
	if s := args.String("state"); s != "" {
		return s, nil
	}
	return "", &MissingParameterError{Param: "state"}
}

// FoldPriorResponses returns a hook that copies the parameters schema defines
// from earlier items of the flow into the request arguments. Later item types
// take precedence, and stored values replace the caller's.
func FoldPriorResponses(schema message.Schema, itemTypes ...string) PreConstructor {
	return func(ctx context.Context, sc *Context, args message.Message, extras Extras) (message.Message, HTTPArgs, error) {
		key, err := flowKey(args, extras)
		if err != nil {
			return nil, HTTPArgs{}, err
		}
		params := make([]string, 0, len(schema.Params))
		for _, p := range schema.Params {
			// the client credentials come from configuration, never state
			if p == "client_id" || p == "client_secret" {
				continue
			}
			params = append(params, p)
		}
		ret, err := sc.State.MultipleExtendRequestArgs(ctx, args, key, params, itemTypes, false)
		if err != nil {
			return nil, HTTPArgs{}, err
		}
		return ret, HTTPArgs{}, nil
	}
}

// FoldAccessToken sets access_token from the flow's token responses, unless
// the caller passed one. Verified values are preferred.
func FoldAccessToken(ctx context.Context, sc *Context, args message.Message, extras Extras) (message.Message, HTTPArgs, error) {
	if args.String("access_token") != "" {
		return args, HTTPArgs{}, nil
	}
	key, err := flowKey(args, extras)
	if err != nil {
		return nil, HTTPArgs{}, err
	}
	ret, err := sc.State.MultipleExtendRequestArgs(ctx, args, key, []string{"access_token"},
		[]string{state.ItemAuthResponse, state.ItemTokenResponse, state.ItemRefreshTokenResponse}, true)
	if err != nil {
		return nil, HTTPArgs{}, err
	}
	// state isn't a user info parameter, it only identified the flow
	delete(ret, "state")
	return ret, HTTPArgs{}, nil
}

// storeRequest stores the constructed request as the service's request item
// of the flow named by its state parameter, starting the flow if it doesn't
// exist yet. A nonce in the request is indexed to the flow.
func (s *Service) storeRequest(ctx context.Context, sc *Context, req message.Message, extras Extras) (message.Message, error) {
	key, err := flowKey(req, extras)
	if err != nil {
		return nil, err
	}

	if _, err := sc.State.GetState(ctx, key); err != nil {
		if !state.IsNotFound(err) {
			return nil, err
		}
		if _, err := sc.State.CreateState(ctx, sc.Issuer(), key); err != nil {
			return nil, err
		}
	}

	if err := sc.State.StoreItem(ctx, req, s.RequestItem, key); err != nil {
		return nil, err
	}
	if nonce := req.String("nonce"); nonce != "" {
		if err := sc.State.StoreNonceToState(ctx, nonce, key); err != nil {
			return nil, err
		}
	}
	return req, nil
}

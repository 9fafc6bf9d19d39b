package service

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pardot/oidcservice/message"
	"github.com/pardot/oidcservice/state"
)

// SubjectMismatchError is returned when user info is for a different subject
// than the flow's ID token.
type SubjectMismatchError struct {
	IDToken  string
	UserInfo string
}

func (e *SubjectMismatchError) Error() string {
	return fmt.Sprintf("user info subject %q does not match id token subject %q", e.UserInfo, e.IDToken)
}

// NewUserInfo returns the operation fetching claims about the flow's user,
// authenticated with the flow's access token.
//
// https://openid.net/specs/openid-connect-core-1_0.html#UserInfo
func NewUserInfo(sc *Context, conf ServiceConfig) *Service {
	s := newService(sc, conf, &Service{
		Name:               "UserInfo",
		RequestSchema:      message.UserInfoRequest,
		ResponseSchema:     message.UserInfoResponse,
		EndpointName:       "userinfo_endpoint",
		Synchronous:        true,
		HTTPMethod:         http.MethodGet,
		BodyType:           message.URLEncoded,
		ResponseBodyType:   message.JSON,
		ResponseItem:       state.ItemUserInfo,
		DefaultAuthnMethod: AuthnBearerHeader,
	})
	s.AddPreConstruct(FoldAccessToken)
	s.AddPostParse(CheckUserInfoSubject)
	return s
}

// CheckUserInfoSubject verifies the user info is about the subject of the
// flow's verified ID token, if it has one, and indexes the subject to the
// flow.
func CheckUserInfoSubject(ctx context.Context, sc *Context, resp message.Message, key string) (message.Message, error) {
	if key == "" {
		return nil, &MissingParameterError{Param: "state"}
	}

	verified := message.VerifiedClaimName("id_token")
	tokens, err := sc.State.MultipleExtendRequestArgs(ctx, message.Message{}, key, []string{verified},
		[]string{state.ItemTokenResponse, state.ItemRefreshTokenResponse}, false)
	if err != nil {
		return nil, err
	}

	sub := resp.String("sub")
	if claims, ok := tokens[verified].(map[string]interface{}); ok {
		if want := message.Message(claims).String("sub"); want != "" && want != sub {
			return nil, &SubjectMismatchError{IDToken: want, UserInfo: sub}
		}
	}

	if err := sc.State.StoreSubToState(ctx, sub, key); err != nil {
		return nil, err
	}
	return resp, nil
}

package oidcservice

import (
	"errors"
	"net/http"
	"testing"

	"github.com/pardot/oidcservice/oauth2"
)

func TestParseResponseError(t *testing.T) {
	for _, tc := range []struct {
		Name          string
		Status        int
		StatusText    string
		Header        http.Header
		Body          string
		Want          string
		WantTokenErr  bool
		WantChallenge string
	}{
		{
			Name:         "Invalid Grant error",
			Status:       400,
			StatusText:   "400 Bad Request",
			Body:         `{"error": "invalid_grant", "error_description":"authentication failure"}`,
			Want:         "invalid_grant error in AccessToken response: authentication failure",
			WantTokenErr: true,
		},
		{
			Name:       "Internal server error",
			Status:     500,
			StatusText: "500 Internal Server Error",
			Body:       `Boomtown`,
			Want:       "AccessToken: http status 500 Internal Server Error: Boomtown",
		},
		{
			Name:       "401 error",
			Status:     401,
			StatusText: "401 Unauthorized",
			Header: http.Header{
				http.CanonicalHeaderKey("www-authenticate"): []string{"Basic"},
			},
			Body:          `{"error": "invalid_client", "error_description":"auth or something"}`,
			Want:          "invalid_client error in AccessToken response: auth or something",
			WantTokenErr:  true,
			WantChallenge: "Basic",
		},
		{
			Name:       "Bearer challenge",
			Status:     401,
			StatusText: "401 Unauthorized",
			Header: http.Header{
				http.CanonicalHeaderKey("www-authenticate"): []string{`Bearer error="invalid_token", error_description="expired"`},
			},
			Want:          "invalid_token error in AccessToken response: expired",
			WantTokenErr:  true,
			WantChallenge: `Bearer error="invalid_token", error_description="expired"`,
		},
		{
			Name:       "Non standard 400",
			Status:     400,
			StatusText: "400 Bad Request",
			Body:       `<html>nope</html>`,
			Want:       "AccessToken: http status 400 Bad Request: <html>nope</html>",
		},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			resp := &http.Response{
				StatusCode: tc.Status,
				Status:     tc.StatusText,
				Header:     tc.Header,
			}
			if resp.Header == nil {
				resp.Header = http.Header{}
			}
			got := parseResponseError("AccessToken", resp, []byte(tc.Body))

			if got.Error() != tc.Want {
				t.Errorf("Want: %s, got: %s", tc.Want, got.Error())
			}

			var terr *oauth2.TokenError
			if errors.As(got, &terr) != tc.WantTokenErr {
				t.Fatalf("Want: token error %t, got %T", tc.WantTokenErr, got)
			}
			if tc.WantTokenErr && terr.WWWAuthenticate != tc.WantChallenge {
				t.Errorf("Want: challenge %q, got %q", tc.WantChallenge, terr.WWWAuthenticate)
			}
			var herr *HTTPError
			if !tc.WantTokenErr && !errors.As(got, &herr) {
				t.Errorf("Want: *HTTPError, got %T", got)
			}
		})
	}
}

package main

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/pardot/oidcservice"
	"github.com/pardot/oidcservice/service"
	"github.com/pardot/oidcservice/storage/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

func newTestServer(t *testing.T) *server {
	t.Helper()

	cli, err := oidcservice.New(&service.ClientConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		Issuer:       "https://op.example.com",
		RedirectURIs: []string{"http://localhost:8084/callback"},
		Behaviour:    service.Behaviour{ResponseTypes: []string{"code"}, Scope: []string{"openid"}},
		Services: map[string]service.ServiceConfig{
			"Authorization": {Endpoint: "https://op.example.com/auth"},
		},
	}, memory.New())
	if err != nil {
		t.Fatal(err)
	}

	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	svr, err := newServer(cli, newCookieStore([]byte("0123456789abcdef0123456789abcdef"), false), prometheus.NewRegistry(), l)
	if err != nil {
		t.Fatal(err)
	}
	return svr
}

func TestStartAndCallback(t *testing.T) {
	svr := newTestServer(t)

	rec := httptest.NewRecorder()
	svr.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/start", nil))
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("Want: 303, got %d: %s", rec.Code, rec.Body.String())
	}

	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatal(err)
	}
	if loc.Host != "op.example.com" || loc.Path != "/auth" {
		t.Errorf("Want: redirect to the auth endpoint, got %s", loc)
	}
	state := loc.Query().Get("state")
	if state == "" {
		t.Fatal("Want: state in the auth request")
	}
	cookies := rec.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("Want: a session cookie")
	}
	if cookies[0].Secure || cookies[0].SameSite != http.SameSiteLaxMode {
		t.Errorf("Want: a lax, non-secure cookie for http, got %+v", cookies[0])
	}

	for _, tc := range []struct {
		Name       string
		Query      string
		WithCookie bool
		WantCode   int
	}{
		{
			Name:     "no session",
			Query:    "code=abc&state=" + state,
			WantCode: http.StatusBadRequest,
		},
		{
			Name:       "state mismatch",
			Query:      "code=abc&state=other",
			WithCookie: true,
			WantCode:   http.StatusBadRequest,
		},
		{
			Name:       "provider error",
			Query:      "error=access_denied&state=" + state,
			WithCookie: true,
			WantCode:   http.StatusInternalServerError,
		},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/callback?"+tc.Query, nil)
			if tc.WithCookie {
				for _, c := range cookies {
					req.AddCookie(c)
				}
			}
			rec := httptest.NewRecorder()
			svr.ServeHTTP(rec, req)
			if rec.Code != tc.WantCode {
				t.Errorf("Want: %d, got %d: %s", tc.WantCode, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestRoutes(t *testing.T) {
	svr := newTestServer(t)

	for _, tc := range []struct {
		Method   string
		Path     string
		WantCode int
		WantBody string
	}{
		{Method: http.MethodGet, Path: "/", WantCode: http.StatusOK, WantBody: "Start auth flow"},
		{Method: http.MethodGet, Path: "/start", WantCode: http.StatusMethodNotAllowed},
		{Method: http.MethodGet, Path: "/userinfo", WantCode: http.StatusUnauthorized},
		{Method: http.MethodPost, Path: "/logout", WantCode: http.StatusSeeOther},
		{Method: http.MethodGet, Path: "/metrics", WantCode: http.StatusOK, WantBody: `http_requests_total{code="200",handler="/",method="GET"} 1`},
	} {
		rec := httptest.NewRecorder()
		svr.ServeHTTP(rec, httptest.NewRequest(tc.Method, tc.Path, nil))
		if rec.Code != tc.WantCode {
			t.Errorf("%s %s: Want: %d, got %d", tc.Method, tc.Path, tc.WantCode, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), tc.WantBody) {
			t.Errorf("%s %s: Want: body containing %q, got %s", tc.Method, tc.Path, tc.WantBody, rec.Body.String())
		}
	}
}

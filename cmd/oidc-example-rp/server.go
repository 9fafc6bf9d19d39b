package main

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"sync"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/sessions"
	"github.com/pardot/oidcservice"
	"github.com/pardot/oidcservice/idtoken"
	"github.com/pardot/oidcservice/message"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const (
	sessionName = "oidcservice-rp"
	// flowKeyValue holds the key of the session's flow
	flowKeyValue = "flow"
)

type server struct {
	sessions sessions.Store
	log      logrus.FieldLogger
	handler  http.Handler

	mu      sync.RWMutex
	oidccli *oidcservice.Client
}

func newServer(cli *oidcservice.Client, ss sessions.Store, reg *prometheus.Registry, logger logrus.FieldLogger) (*server, error) {
	s := &server{
		sessions: ss,
		log:      logger,
		oidccli:  cli,
	}

	requestCounter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Count of all HTTP requests.",
	}, []string{"handler", "code", "method"})
	if err := reg.Register(requestCounter); err != nil {
		return nil, fmt.Errorf("failed to register Prometheus HTTP metrics: %v", err)
	}

	instrumentHandlerCounter := func(handlerName string, handler http.Handler) http.HandlerFunc {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, w, r)
			requestCounter.With(prometheus.Labels{"handler": handlerName, "code": strconv.Itoa(m.Code), "method": r.Method}).Inc()
		})
	}

	r := mux.NewRouter()
	handleFunc := func(p string, h http.HandlerFunc, methods ...string) {
		r.Handle(p, instrumentHandlerCounter(p, h)).Methods(methods...)
	}
	handleFunc("/", s.home, http.MethodGet)
	handleFunc("/start", s.start, http.MethodPost)
	handleFunc("/callback", s.callback, http.MethodGet)
	handleFunc("/userinfo", s.userinfo, http.MethodGet)
	handleFunc("/logout", s.logout, http.MethodPost)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	var h http.Handler = r
	h = handlers.RecoveryHandler(handlers.RecoveryLogger(logrusPrinter{logger}))(h)
	s.handler = h
	return s, nil
}

func (s *server) client() *oidcservice.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.oidccli
}

// setClient swaps the client, flows in progress continue with the new one.
func (s *server) setClient(c *oidcservice.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.oidccli = c
}

const homePage = `<!DOCTYPE html>
<html>
	<head>
		<meta charset="UTF-8">
		<title>LOG IN</title>
	</head>
	<body>
		<h1>Start auth flow</h1>
		<form action="/start" method="POST">
    		<input type="submit" value="Submit">
		</form>
	</body>
</html>`

var homeTmpl = template.Must(template.New("loginPage").Parse(homePage))

func (s *server) home(w http.ResponseWriter, req *http.Request) {
	if err := homeTmpl.Execute(w, nil); err != nil {
		http.Error(w, fmt.Sprintf("failed to render template: %v", err), http.StatusInternalServerError)
		return
	}
}

// start the actual flow. the flow key doubles as the state parameter, and is
// kept in the session to tie the callback to this browser
func (s *server) start(w http.ResponseWriter, req *http.Request) {
	key, authURL, err := s.client().Begin(req.Context(), nil)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to begin flow: %v", err), http.StatusInternalServerError)
		return
	}

	sess, _ := s.sessions.Get(req, sessionName)
	sess.Values[flowKeyValue] = key
	if err := sess.Save(req, w); err != nil {
		http.Error(w, fmt.Sprintf("failed to save session: %v", err), http.StatusInternalServerError)
		return
	}

	http.Redirect(w, req, authURL, http.StatusSeeOther)
}

const callbackPage = `<!DOCTYPE html>
<html>
	<head>
		<meta charset="UTF-8">
		<title>LOG IN</title>
	</head>
	<body>
		<p>access_token: {{ .access_token }}</p>
		<p>raw id_token: {{ .id_token }}</p>
		<p>claims: {{ .claims }}</p>
		<form action="/logout" method="POST">
    		<input type="submit" value="Log out">
		</form>
	</body>
</html>`

var callbackTmpl = template.Must(template.New("callbackPage").Parse(callbackPage))

func (s *server) callback(w http.ResponseWriter, req *http.Request) {
	key, ok := s.flowKey(req)
	if !ok {
		http.Error(w, "no flow in session", http.StatusBadRequest)
		return
	}

	if gotState := req.FormValue("state"); gotState != key {
		http.Error(w, fmt.Sprintf("returned state %q doesn't match session flow %q", gotState, key), http.StatusBadRequest)
		return
	}

	_, tok, err := s.client().Finish(req.Context(), req.URL.RawQuery)
	if err != nil {
		s.log.WithError(err).WithField("key", key).Warn("failed to finish flow")
		http.Error(w, fmt.Sprintf("error finishing flow: %v", err), http.StatusInternalServerError)
		return
	}

	var cljson []byte
	if v, ok := tok[message.VerifiedClaimName("id_token")].(map[string]interface{}); ok {
		cl, err := idtoken.FromMessage(v)
		if err != nil {
			http.Error(w, fmt.Sprintf("couldn't decode claims: %v", err), http.StatusInternalServerError)
			return
		}
		cljson, err = json.MarshalIndent(cl, "", "  ")
		if err != nil {
			http.Error(w, "couldn't serialize claims", http.StatusInternalServerError)
			return
		}
	}

	tmplData := map[string]interface{}{
		"access_token": tok.String("access_token"),
		"id_token":     tok.String("id_token"),
		"claims":       string(cljson),
	}

	if err := callbackTmpl.Execute(w, tmplData); err != nil {
		http.Error(w, fmt.Sprintf("failed to render template: %v", err), http.StatusInternalServerError)
		return
	}
}

func (s *server) userinfo(w http.ResponseWriter, req *http.Request) {
	key, ok := s.flowKey(req)
	if !ok {
		http.Error(w, "no flow in session", http.StatusUnauthorized)
		return
	}

	ui, err := s.client().UserInfo(req.Context(), key)
	if err != nil {
		http.Error(w, fmt.Sprintf("fetching user info: %v", err), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ui)
}

func (s *server) logout(w http.ResponseWriter, req *http.Request) {
	if key, ok := s.flowKey(req); ok {
		if err := s.client().EndFlow(req.Context(), key); err != nil {
			s.log.WithError(err).WithField("key", key).Warn("failed to end flow")
		}
	}

	sess, _ := s.sessions.Get(req, sessionName)
	delete(sess.Values, flowKeyValue)
	sess.Options.MaxAge = -1
	if err := sess.Save(req, w); err != nil {
		http.Error(w, fmt.Sprintf("failed to save session: %v", err), http.StatusInternalServerError)
		return
	}

	http.Redirect(w, req, "/", http.StatusSeeOther)
}

func (s *server) flowKey(req *http.Request) (string, bool) {
	sess, err := s.sessions.Get(req, sessionName)
	if err != nil {
		return "", false
	}
	key, ok := sess.Values[flowKeyValue].(string)
	return key, ok && key != ""
}

func (s *server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	s.handler.ServeHTTP(w, req)
}

type logrusPrinter struct {
	l logrus.FieldLogger
}

func (l logrusPrinter) Println(v ...interface{}) {
	l.l.Errorln(v...)
}

func mustRandStr(len int) string {
	b := make([]byte, len)
	if r, err := rand.Read(b); err != nil || r != len {
		panic("error or underread from rand.Read")
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// Package service implements the request pipeline and response integration of
// the client operations (authorization, token exchange, refresh, discovery,
// WebFinger and user info).
//
// A Service builds the request for one operation from caller arguments,
// configuration and the stored state of the flow, and integrates the
// provider's response back into that state. It never sends anything itself,
// transport is left to the caller.
package service

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/pardot/oidcservice/message"
	"github.com/pardot/oidcservice/oauth2"
	"github.com/sirupsen/logrus"
)

// Stage of the request pipeline.
type Stage int

const (
	StageInitialized Stage = iota
	StagePreConstructed
	StageGathered
	StageConstructed
	StageSerialized
	StageReady
	StageError
)

func (s Stage) String() string {
	switch s {
	case StageInitialized:
		return "initialized"
	case StagePreConstructed:
		return "pre_constructed"
	case StageGathered:
		return "gathered"
	case StageConstructed:
		return "constructed"
	case StageSerialized:
		return "serialized"
	case StageReady:
		return "ready"
	case StageError:
		return "error"
	}
	return "unknown"
}

// Extras are call options that are not request parameters.
type Extras struct {
	// State is the flow key the call belongs to.
	State string
	// AuthnMethod overrides the service's client authentication method.
	AuthnMethod string
	// Resource is the identifier to look up, for WebFinger.
	Resource string
}

// HTTPArgs are transport arguments hooks contribute to the request.
type HTTPArgs struct {
	Header http.Header
}

func (h *HTTPArgs) merge(o HTTPArgs) {
	if h.Header == nil {
		h.Header = http.Header{}
	}
	for k, vs := range o.Header {
		for _, v := range vs {
			h.Header.Add(k, v)
		}
	}
}

// PreConstructor runs before request arguments are gathered. It returns the
// updated arguments.
type PreConstructor func(ctx context.Context, sc *Context, args message.Message, extras Extras) (message.Message, HTTPArgs, error)

// PostConstructor runs on the constructed request message.
type PostConstructor func(ctx context.Context, sc *Context, req message.Message, extras Extras) (message.Message, error)

// PostParser runs on a parsed and verified response, before it is integrated
// into the flow state. key is the flow the response belongs to.
type PostParser func(ctx context.Context, sc *Context, resp message.Message, key string) (message.Message, error)

// Request is a request ready to be sent.
type Request struct {
	Method string
	URL    string
	Body   string
	Header http.Header
	// Message is the request message, after client authentication was
	// applied.
	Message message.Message
}

// HTTPRequest returns the request as an *http.Request.
func (r *Request) HTTPRequest(ctx context.Context) (*http.Request, error) {
	var body io.Reader
	if r.Body != "" {
		body = strings.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return req, nil
}

// Service is a single client operation. Services are created with the
// constructors in this package, or New with an operation name.
type Service struct {
	// Name of the operation, e.g. AccessToken.
	Name           string
	RequestSchema  message.Schema
	ResponseSchema message.Schema
	// EndpointName is the provider metadata member holding the operation's
	// endpoint, e.g. token_endpoint.
	EndpointName string
	// Synchronous is false for operations whose response arrives through the
	// user agent, i.e. authorization.
	Synchronous      bool
	HTTPMethod       string
	BodyType         string
	ResponseBodyType string
	// RequestItem is the flow state item the request is stored as, if any.
	RequestItem string
	// ResponseItem is the flow state item the response is stored as, if any.
	ResponseItem       string
	DefaultAuthnMethod string
	// RequestArgs are static request arguments from configuration.
	RequestArgs message.Message

	sc *Context

	mu            sync.RWMutex
	endpoint      string
	preConstruct  []PreConstructor
	postConstruct []PostConstructor
	postParse     []PostParser

	// variant behaviour
	gatherExtra   func(ctx context.Context, s *Service, args message.Message, extras Extras) (message.Message, error)
	endpointFor   func(ctx context.Context, s *Service, req message.Message, extras Extras) (string, error)
	updateContext func(ctx context.Context, s *Service, resp message.Message, key string) error
}

func newService(sc *Context, conf ServiceConfig, s *Service) *Service {
	s.sc = sc
	s.endpoint = conf.Endpoint
	if conf.DefaultAuthnMethod != "" {
		s.DefaultAuthnMethod = conf.DefaultAuthnMethod
	}
	s.RequestArgs = message.Message(conf.RequestArgs).Clone()
	return s
}

// Context returns the service context the service belongs to.
func (s *Service) Context() *Context {
	return s.sc
}

// Endpoint returns the operation's endpoint, empty if it isn't known yet.
func (s *Service) Endpoint() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endpoint
}

// SetEndpoint replaces the operation's endpoint.
func (s *Service) SetEndpoint(ep string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoint = ep
}

// AddPreConstruct appends hooks run before arguments are gathered.
func (s *Service) AddPreConstruct(h ...PreConstructor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preConstruct = append(s.preConstruct, h...)
}

// AddPostConstruct appends hooks run on the constructed request.
func (s *Service) AddPostConstruct(h ...PostConstructor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.postConstruct = append(s.postConstruct, h...)
}

// AddPostParse appends hooks run on parsed responses.
func (s *Service) AddPostParse(h ...PostParser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.postParse = append(s.postParse, h...)
}

func (s *Service) hooks() ([]PreConstructor, []PostConstructor, []PostParser) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]PreConstructor(nil), s.preConstruct...),
		append([]PostConstructor(nil), s.postConstruct...),
		append([]PostParser(nil), s.postParse...)
}

func (s *Service) log() logrus.FieldLogger {
	return s.sc.Logger().WithField("operation", s.Name)
}

// Construct builds the request message from args, without client
// authentication or serialization. args is not modified.
func (s *Service) Construct(ctx context.Context, args message.Message, extras Extras) (message.Message, HTTPArgs, error) {
	req, ha, stage, err := s.construct(ctx, args, extras)
	if err != nil {
		return nil, HTTPArgs{}, s.fail(stage, err)
	}
	return req, ha, nil
}

func (s *Service) construct(ctx context.Context, args message.Message, extras Extras) (message.Message, HTTPArgs, Stage, error) {
	pre, post, _ := s.hooks()

	a := args.Clone()
	ha := HTTPArgs{Header: http.Header{}}
	for _, h := range pre {
		var (
			hha HTTPArgs
			err error
		)
		a, hha, err = h(ctx, s.sc, a, extras)
		if err != nil {
			return nil, HTTPArgs{}, StageInitialized, err
		}
		ha.merge(hha)
	}

	a, err := s.gather(ctx, a, extras)
	if err != nil {
		return nil, HTTPArgs{}, StagePreConstructed, err
	}

	req, err := s.RequestSchema.New(a)
	if err != nil {
		return nil, HTTPArgs{}, StageGathered, &ConstructionError{Schema: s.RequestSchema.Name, Err: err}
	}

	for _, h := range post {
		req, err = h(ctx, s.sc, req, extras)
		if err != nil {
			return nil, HTTPArgs{}, StageGathered, err
		}
	}
	return req, ha, StageConstructed, nil
}

// gather merges configured request arguments, registration values and the
// caller's arguments, in increasing order of precedence.
func (s *Service) gather(ctx context.Context, args message.Message, extras Extras) (message.Message, error) {
	ret := s.RequestArgs.Clone()

	cfg := s.sc.Config
	reg := map[string]string{
		"client_id":     cfg.ClientID,
		"client_secret": cfg.ClientSecret,
	}
	if ru, ok := s.sc.redirectURI(); ok {
		reg["redirect_uri"] = ru
	}
	for k, v := range reg {
		if v != "" && s.RequestSchema.HasParam(k) {
			ret[k] = v
		}
	}

	ret.Update(args)

	if s.gatherExtra != nil {
		return s.gatherExtra(ctx, s, ret, extras)
	}
	return ret, nil
}

// GetRequestParameters runs the whole pipeline and returns the request to
// send.
func (s *Service) GetRequestParameters(ctx context.Context, args message.Message, extras Extras) (*Request, error) {
	r, stage, err := s.requestParameters(ctx, args, extras)
	if err != nil {
		return nil, s.fail(stage, err)
	}
	s.sc.metrics.request(s.Name)
	s.log().WithFields(logrus.Fields{"method": r.Method, "url": r.URL}).Debug("built request")
	return r, nil
}

func (s *Service) requestParameters(ctx context.Context, args message.Message, extras Extras) (*Request, Stage, error) {
	req, ha, stage, err := s.construct(ctx, args, extras)
	if err != nil {
		return nil, stage, err
	}

	method := extras.AuthnMethod
	if method == "" {
		method = s.DefaultAuthnMethod
	}
	req, err = s.authenticate(ctx, method, req, ha.Header, extras)
	if err != nil {
		return nil, StageConstructed, err
	}

	endpoint := s.Endpoint()
	if s.endpointFor != nil {
		endpoint, err = s.endpointFor(ctx, s, req, extras)
		if err != nil {
			return nil, StageConstructed, err
		}
	}
	if endpoint == "" {
		return nil, StageConstructed, &MissingParameterError{Param: "endpoint"}
	}

	r := &Request{
		Method:  s.HTTPMethod,
		URL:     endpoint,
		Header:  ha.Header,
		Message: req,
	}
	switch s.HTTPMethod {
	case http.MethodGet, http.MethodDelete:
		if len(req) > 0 {
			u, err := url.Parse(endpoint)
			if err != nil {
				return nil, StageConstructed, err
			}
			if u.RawQuery != "" {
				u.RawQuery += "&" + req.ToURLEncoded()
			} else {
				u.RawQuery = req.ToURLEncoded()
			}
			r.URL = u.String()
		}
	default:
		body, err := req.Serialize(s.BodyType)
		if err != nil {
			return nil, StageConstructed, err
		}
		r.Body = body
		if s.BodyType == message.JSON {
			r.Header.Set("Content-Type", "application/json")
		} else {
			r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}

	return r, StageReady, nil
}

func (s *Service) fail(stage Stage, err error) error {
	s.sc.metrics.failure(s.Name, stage.String())
	s.log().WithError(err).WithField("stage", stage.String()).Debug("request pipeline failed")
	return &PipelineError{Operation: s.Name, Stage: stage, Err: err}
}

// ParseResponse decodes a response body and integrates it into the state of
// the flow identified by key. When key is empty the response's state
// parameter is used. bodyType defaults to the service's response body type.
//
// A response carrying an error member is returned as an *oauth2.TokenError.
func (s *Service) ParseResponse(ctx context.Context, body, bodyType, key string) (message.Message, error) {
	if bodyType == "" {
		bodyType = s.ResponseBodyType
	}
	resp, err := message.Deserialize(body, bodyType)
	if err != nil {
		s.sc.metrics.failure(s.Name, "parse")
		return nil, err
	}
	return s.integrate(ctx, resp, key)
}

// ParseMessage is ParseResponse for an already decoded response, like the
// query of a redirect.
func (s *Service) ParseMessage(ctx context.Context, resp message.Message, key string) (message.Message, error) {
	return s.integrate(ctx, resp.Clone(), key)
}

func (s *Service) integrate(ctx context.Context, resp message.Message, key string) (message.Message, error) {
	if te := oauth2.FromMessage(s.Name, resp); te != nil {
		s.sc.metrics.failure(s.Name, "error_response")
		return nil, te
	}

	if err := s.ResponseSchema.Verify(resp); err != nil {
		s.sc.metrics.failure(s.Name, "verify")
		return nil, &ConstructionError{Schema: s.ResponseSchema.Name, Err: err}
	}

	if key == "" {
		key = resp.String("state")
	}

	_, _, post := s.hooks()
	for _, h := range post {
		var err error
		resp, err = h(ctx, s.sc, resp, key)
		if err != nil {
			s.sc.metrics.failure(s.Name, "post_parse")
			return nil, err
		}
	}

	if err := s.UpdateContext(ctx, resp, key); err != nil {
		s.sc.metrics.failure(s.Name, "update_context")
		return nil, err
	}

	s.sc.metrics.response(s.Name)
	s.log().WithField("key", key).Debug("integrated response")
	return resp, nil
}

// UpdateContext integrates a verified response. By default the response is
// stored as the service's response item of the flow.
func (s *Service) UpdateContext(ctx context.Context, resp message.Message, key string) error {
	if s.updateContext != nil {
		return s.updateContext(ctx, s, resp, key)
	}
	if s.ResponseItem == "" {
		return nil
	}
	if key == "" {
		return &MissingParameterError{Param: "state"}
	}
	return s.sc.State.StoreItem(ctx, resp, s.ResponseItem, key)
}

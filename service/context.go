package service

import (
	"io"
	"sort"
	"sync"
	"time"

	"github.com/pardot/oidcservice/keyjar"
	"github.com/pardot/oidcservice/message"
	"github.com/pardot/oidcservice/state"
	"github.com/sirupsen/logrus"
)

// Context is shared by all the services of one client. It holds the client's
// configuration, the flow state engine, and what has been learned about the
// provider.
type Context struct {
	Config *ClientConfig
	State  state.Interface
	KeyJar *keyjar.KeyJar

	log     logrus.FieldLogger
	metrics *Metrics
	now     func() time.Time

	mu           sync.RWMutex
	issuer       string
	providerInfo message.Message
	services     map[string]*Service
}

// ContextOpt configures a Context.
type ContextOpt func(*Context)

// WithKeyJar shares an existing key jar. By default a new one is created.
func WithKeyJar(kj *keyjar.KeyJar) ContextOpt {
	return func(c *Context) {
		c.KeyJar = kj
	}
}

// WithLogger sets the logger, by default nothing is logged.
func WithLogger(l logrus.FieldLogger) ContextOpt {
	return func(c *Context) {
		c.log = l
	}
}

// WithMetrics records pipeline activity.
func WithMetrics(m *Metrics) ContextOpt {
	return func(c *Context) {
		c.metrics = m
	}
}

// WithClock sets the clock token expiry is computed with.
func WithClock(now func() time.Time) ContextOpt {
	return func(c *Context) {
		c.now = now
	}
}

// NewContext returns a Context for the client configured by cfg, keeping flow
// state in st.
func NewContext(cfg *ClientConfig, st state.Interface, opts ...ContextOpt) *Context {
	c := &Context{
		Config:   cfg,
		State:    st,
		issuer:   cfg.Issuer,
		services: make(map[string]*Service),
	}
	for _, o := range opts {
		o(c)
	}
	if c.log == nil {
		l := logrus.New()
		l.Out = io.Discard
		c.log = l
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.KeyJar == nil {
		c.KeyJar = keyjar.New(keyjar.WithLogger(c.log))
	}
	return c
}

// Now returns the current time of the context's clock.
func (c *Context) Now() time.Time {
	return c.now()
}

// Logger returns the context's logger.
func (c *Context) Logger() logrus.FieldLogger {
	return c.log
}

// Issuer returns the current issuer. It starts as the configured one, and is
// replaced by discovery or WebFinger.
func (c *Context) Issuer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.issuer
}

// SetIssuer replaces the issuer.
func (c *Context) SetIssuer(iss string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.issuer = iss
}

// ProviderInfo returns a copy of the last discovery document integrated, or
// nil.
func (c *Context) ProviderInfo() message.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.providerInfo == nil {
		return nil
	}
	return c.providerInfo.Clone()
}

func (c *Context) setProviderInfo(pi message.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providerInfo = pi.Clone()
}

// Register adds a service to the context, making it a target for endpoint
// updates from discovery. A service registered under the same name is
// replaced.
func (c *Context) Register(s *Service) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.services[s.Name] = s
}

// Service returns the registered service with the given name.
func (c *Context) Service(name string) (*Service, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.services[name]
	return s, ok
}

// Services returns the registered services, ordered by name.
func (c *Context) Services() []*Service {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.services))
	for n := range c.services {
		names = append(names, n)
	}
	sort.Strings(names)

	ret := make([]*Service, 0, len(names))
	for _, n := range names {
		ret = append(ret, c.services[n])
	}
	return ret
}

// redirectURI returns the first registered redirect URI.
func (c *Context) redirectURI() (string, bool) {
	if len(c.Config.RedirectURIs) == 0 {
		return "", false
	}
	return c.Config.RedirectURIs[0], true
}

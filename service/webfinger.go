package service

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/pardot/oidcservice/message"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// IssuerRel is the link relation of an OpenID Connect issuer.
//
// https://openid.net/specs/openid-connect-discovery-1_0.html#IssuerDiscovery
const IssuerRel = "http://openid.net/specs/connect/1.0/issuer"

const webFingerPath = "/.well-known/webfinger"

// NewWebFinger returns the operation looking up the issuer for a user or host
// identifier. The identifier is taken from the request's resource argument,
// the call's Extras, or the client's configured resource, in that order.
//
// https://openid.net/specs/openid-connect-discovery-1_0.html#IssuerDiscovery
func NewWebFinger(sc *Context, conf ServiceConfig) *Service {
	s := newService(sc, conf, &Service{
		Name:             "WebFinger",
		RequestSchema:    message.WebFingerRequest,
		ResponseSchema:   message.JRD,
		Synchronous:      true,
		HTTPMethod:       http.MethodGet,
		BodyType:         message.URLEncoded,
		ResponseBodyType: message.JSON,
	})
	rel := s.RequestArgs.String("rel")
	if rel == "" {
		rel = IssuerRel
		s.RequestArgs["rel"] = rel
	}
	s.gatherExtra = gatherWebFinger
	s.endpointFor = webFingerEndpoint
	s.updateContext = func(ctx context.Context, s *Service, resp message.Message, _ string) error {
		return updateIssuerFromLinks(ctx, s, resp, rel)
	}
	return s
}

func gatherWebFinger(_ context.Context, s *Service, args message.Message, extras Extras) (message.Message, error) {
	resource := args.String("resource")
	if resource == "" {
		resource = extras.Resource
	}
	if resource == "" {
		resource = s.sc.Config.Resource
	}
	if resource == "" {
		return nil, &MissingParameterError{Param: "resource"}
	}

	norm, err := NormalizeResource(resource)
	if err != nil {
		return nil, err
	}
	rel := args.String("rel")
	if rel == "" {
		rel = IssuerRel
	}
	return message.Message{"resource": norm, "rel": rel}, nil
}

func webFingerEndpoint(_ context.Context, _ *Service, req message.Message, _ Extras) (string, error) {
	host, err := resourceHost(req.String("resource"))
	if err != nil {
		return "", err
	}
	return "https://" + host + webFingerPath, nil
}

// Query returns the WebFinger URL looking up rel for resource.
func Query(resource, rel string) (string, error) {
	norm, err := NormalizeResource(resource)
	if err != nil {
		return "", err
	}
	host, err := resourceHost(norm)
	if err != nil {
		return "", err
	}
	q := message.Message{"resource": norm}
	if rel != "" {
		q["rel"] = rel
	}
	return "https://" + host + webFingerPath + "?" + q.ToURLEncoded(), nil
}

// NormalizeResource turns a user input identifier into a WebFinger resource.
// Identifiers without a scheme are treated as acct: URIs when they are a bare
// user@host or host, and as https URLs otherwise. Fragments are dropped.
//
// https://openid.net/specs/openid-connect-discovery-1_0.html#NormalizationSteps
func NormalizeResource(resource string) (string, error) {
	r := strings.TrimSpace(resource)
	if r == "" {
		return "", &MissingParameterError{Param: "resource"}
	}

	if hasScheme(r) {
		return stripFragment(r), nil
	}

	// the part after the last @ is the host, with nothing following it for
	// an acct: identifier. A fragment counts as following it.
	host := r
	if i := strings.LastIndex(r, "@"); i >= 0 {
		host = r[i+1:]
	}
	if !strings.ContainsAny(host, ":/?#") {
		return "acct:" + r, nil
	}
	return "https://" + stripFragment(r), nil
}

func stripFragment(r string) string {
	if i := strings.Index(r, "#"); i >= 0 {
		return r[:i]
	}
	return r
}

// hasScheme reports if the identifier starts with a URI scheme. A colon
// followed by digits is a port, not a scheme separator.
func hasScheme(r string) bool {
	if strings.Contains(r, "://") {
		return true
	}
	i := strings.Index(r, ":")
	if i <= 0 {
		return false
	}
	rest := r[i+1:]
	if j := strings.IndexAny(rest, "/?#"); j >= 0 {
		rest = rest[:j]
	}
	if rest == "" {
		return true
	}
	for _, c := range rest {
		if c < '0' || c > '9' {
			return true
		}
	}
	return false
}

// resourceHost returns the host a normalized resource is looked up at.
func resourceHost(resource string) (string, error) {
	switch {
	case strings.HasPrefix(resource, "https://"), strings.HasPrefix(resource, "http://"):
		authority := resource[strings.Index(resource, "://")+3:]
		if i := strings.IndexAny(authority, "/?#"); i >= 0 {
			authority = authority[:i]
		}
		if authority == "" {
			return "", fmt.Errorf("no host in resource %q", resource)
		}
		return authority, nil

	case strings.HasPrefix(resource, "acct:"):
		host := resource[strings.LastIndex(resource, "@")+1:]
		host = strings.TrimPrefix(host, "acct:")
		if i := strings.IndexAny(host, "/?#"); i >= 0 {
			host = host[:i]
		}
		if host == "" {
			return "", fmt.Errorf("no host in resource %q", resource)
		}
		return host, nil

	case strings.HasPrefix(resource, "device:"):
		parts := strings.SplitN(resource, ":", 3)
		if parts[1] == "" {
			return "", fmt.Errorf("no host in resource %q", resource)
		}
		return parts[1], nil
	}
	return "", fmt.Errorf("unsupported resource identifier %q", resource)
}

// WebFingerLinkError is returned when a WebFinger response can't be used to
// set the issuer.
type WebFingerLinkError struct {
	Rel    string
	Href   string
	Reason string
}

func (e *WebFingerLinkError) Error() string {
	if e.Href != "" {
		return fmt.Sprintf("webfinger link %s for %s: %s", e.Href, e.Rel, e.Reason)
	}
	return fmt.Sprintf("webfinger %s link: %s", e.Rel, e.Reason)
}

func updateIssuerFromLinks(_ context.Context, s *Service, resp message.Message, rel string) error {
	doc, err := resp.ToJSON()
	if err != nil {
		return err
	}

	var href string
	gjson.Get(doc, "links").ForEach(func(_, link gjson.Result) bool {
		if link.Get("rel").String() != rel {
			return true
		}
		href = link.Get("href").String()
		return false
	})
	if href == "" {
		return &WebFingerLinkError{Rel: rel, Reason: "not found in response"}
	}
	if strings.HasPrefix(href, "http://") && !s.sc.Config.Allow.HTTPLinks {
		return &WebFingerLinkError{Rel: rel, Href: href, Reason: "http links are not allowed"}
	}

	s.sc.SetIssuer(href)
	s.sc.Logger().WithFields(logrus.Fields{"subject": gjson.Get(doc, "subject").String(), "issuer": href}).Debug("issuer set from webfinger")
	return nil
}

package service

import (
	"context"
	"net/http"
	"strings"

	"github.com/pardot/oidcservice/discovery"
	"github.com/pardot/oidcservice/message"
)

// NewProviderInfoDiscovery returns the operation fetching the provider's
// discovery document. Integrating the document sets the issuer, the endpoints
// of every registered service and the provider's keys.
//
// https://openid.net/specs/openid-connect-discovery-1_0.html#ProviderConfig
func NewProviderInfoDiscovery(sc *Context, conf ServiceConfig) *Service {
	s := newService(sc, conf, &Service{
		Name:             "ProviderInfoDiscovery",
		RequestSchema:    message.Empty,
		ResponseSchema:   message.ProviderConfigurationResponse,
		Synchronous:      true,
		HTTPMethod:       http.MethodGet,
		BodyType:         message.URLEncoded,
		ResponseBodyType: message.JSON,
	})
	s.endpointFor = discoveryEndpoint
	s.updateContext = updateProviderInfo
	return s
}

// discoveryEndpoint prefers a configured endpoint over the issuer's well-known
// location.
func discoveryEndpoint(_ context.Context, s *Service, _ message.Message, _ Extras) (string, error) {
	if ep := s.Endpoint(); ep != "" {
		return ep, nil
	}
	iss := s.sc.Issuer()
	if iss == "" {
		return "", &MissingParameterError{Param: "issuer"}
	}
	return discovery.ConfigurationURL(iss), nil
}

func updateProviderInfo(_ context.Context, s *Service, resp message.Message, _ string) error {
	sc := s.sc
	configured := sc.Issuer()

	issuer := configured
	if resp.Has("issuer") {
		discovered := resp.String("issuer")
		// a trailing slash is significant only as far as the provider
		// uses one
		want := strings.TrimSuffix(configured, "/")
		if strings.HasSuffix(discovered, "/") {
			want += "/"
		}
		if want != discovered && !sc.Config.Allow.IssuerMismatch {
			return &IssuerMismatchError{Configured: configured, Discovered: discovered}
		}
		issuer = discovered
	}

	sc.SetIssuer(issuer)
	sc.setProviderInfo(resp)

	services := sc.Services()
	for _, k := range resp.Keys() {
		if !strings.HasSuffix(k, "_endpoint") {
			continue
		}
		for _, srv := range services {
			if srv.EndpointName == k {
				srv.SetEndpoint(resp.String(k))
			}
		}
	}

	if err := sc.KeyJar.LoadKeys(issuer, resp); err != nil {
		return err
	}

	sc.Logger().WithField("issuer", issuer).Debug("integrated provider info")
	return nil
}

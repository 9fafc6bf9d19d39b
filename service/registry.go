package service

import "sort"

// Constructor builds a service for a context.
type Constructor func(sc *Context, conf ServiceConfig) *Service

var registry = map[string]Constructor{
	"Authorization":         NewAuthorization,
	"AccessToken":           NewAccessToken,
	"RefreshAccessToken":    NewRefreshAccessToken,
	"ProviderInfoDiscovery": NewProviderInfoDiscovery,
	"WebFinger":             NewWebFinger,
	"UserInfo":              NewUserInfo,
}

// New builds the named operation. It returns false if there is no operation
// with that name.
func New(name string, sc *Context, conf ServiceConfig) (*Service, bool) {
	c, ok := registry[name]
	if !ok {
		return nil, false
	}
	return c(sc, conf), true
}

// Names returns the names of all operations, sorted.
func Names() []string {
	ret := make([]string, 0, len(registry))
	for n := range registry {
		ret = append(ret, n)
	}
	sort.Strings(ret)
	return ret
}

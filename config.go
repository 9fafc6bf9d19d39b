package oidcservice

import (
	"fmt"
	"os"

	"github.com/ghodss/yaml"
	"github.com/pardot/oidcservice/service"
)

// ParseConfig reads a client configuration from YAML or JSON. Keys are the
// JSON names of service.ClientConfig.
func ParseConfig(b []byte) (*service.ClientConfig, error) {
	cfg := &service.ClientConfig{}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parsing client config: %v", err)
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client config: client_id is required")
	}
	for name := range cfg.Services {
		if !knownService(name) {
			return nil, fmt.Errorf("client config: unknown service %q", name)
		}
	}
	return cfg, nil
}

// LoadConfig reads the client configuration at path.
func LoadConfig(path string) (*service.ClientConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading client config: %v", err)
	}
	return ParseConfig(b)
}

func knownService(name string) bool {
	for _, n := range service.Names() {
		if n == name {
			return true
		}
	}
	return false
}

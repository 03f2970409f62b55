package registry

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnknownService is returned for lookups against a service name
// that has no configured shards.
var ErrUnknownService = errors.New("unknown service")

// ServiceCoordinate addresses one shard of one named backend service.
// It is a value type; two coordinates are equal when both name and
// shard match.
type ServiceCoordinate struct {
	Name  string
	Shard int
}

func (c ServiceCoordinate) String() string {
	return fmt.Sprintf("%s/%d", c.Name, c.Shard)
}

type Endpoint struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

type Config struct {
	Services map[string][]Endpoint `yaml:"services"`
}

// Registry resolves service coordinates to network endpoints. It is
// built once at startup and never mutated afterward, so lookups need
// no locking.
type Registry struct {
	services map[string][]Endpoint
}

func NewFromConfig(cfg Config) (*Registry, error) {
	services := make(map[string][]Endpoint, len(cfg.Services))
	for name, endpoints := range cfg.Services {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, errors.New("service with empty name in configuration")
		}
		if len(endpoints) == 0 {
			return nil, fmt.Errorf("service %s has no shards configured", name)
		}
		for i, ep := range endpoints {
			if ep.Host == "" || ep.Port <= 0 {
				return nil, fmt.Errorf("service %s shard %d has an invalid endpoint %v", name, i, ep)
			}
		}
		services[name] = append([]Endpoint(nil), endpoints...)
	}
	return &Registry{services: services}, nil
}

func LoadFromFile(path string) (*Registry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read services file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse services file: %w", err)
	}
	return NewFromConfig(cfg)
}

// ShardCount reports how many shards are configured for a service.
func (r *Registry) ShardCount(name string) (int, error) {
	endpoints, ok := r.services[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownService, name)
	}
	return len(endpoints), nil
}

// Address resolves a coordinate to its configured endpoint.
func (r *Registry) Address(coord ServiceCoordinate) (Endpoint, error) {
	endpoints, ok := r.services[coord.Name]
	if !ok {
		return Endpoint{}, fmt.Errorf("%w: %s", ErrUnknownService, coord.Name)
	}
	if coord.Shard < 0 || coord.Shard >= len(endpoints) {
		return Endpoint{}, fmt.Errorf("%w: %s has no shard %d", ErrUnknownService, coord.Name, coord.Shard)
	}
	return endpoints[coord.Shard], nil
}

// ServiceNames returns the configured service names in sorted order.
func (r *Registry) ServiceNames() []string {
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

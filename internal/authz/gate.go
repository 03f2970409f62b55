package authz

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MicKaranja/cms/internal/registry"
)

// Rule allow-lists one method of one service. Shard restricts the rule
// to a single shard index when set; the default (nil) matches every
// shard of the service.
type Rule struct {
	Service string `yaml:"service"`
	Method  string `yaml:"method"`
	Shard   *int   `yaml:"shard"`
}

type Config struct {
	Rules []Rule `yaml:"rules"`
}

type Decision struct {
	Allowed    bool
	ReasonCode string
	Rule       string
	Message    string
}

type ruleKey struct {
	service string
	method  string
}

// Gate decides whether a browser-originated RPC may reach a backend
// method. The table is closed at construction: anything not listed is
// denied, so exposing a new method takes an explicit entry here.
// Server-initiated RPCs never consult the gate.
type Gate struct {
	rules map[ruleKey][]Rule
}

// DefaultConfig is the allow-list the admin front end ships with.
func DefaultConfig() Config {
	shard0 := 0
	return Config{Rules: []Rule{
		{Service: "EvaluationService", Method: "submissions_status", Shard: &shard0},
		{Service: "EvaluationService", Method: "queue_status", Shard: &shard0},
		{Service: "EvaluationService", Method: "workers_status", Shard: &shard0},
		{Service: "LogService", Method: "last_messages", Shard: &shard0},
		{Service: "ResourceService", Method: "get_resources"},
		{Service: "ResourceService", Method: "kill_service"},
	}}
}

func NewFromConfig(cfg Config) (*Gate, error) {
	g := &Gate{rules: make(map[ruleKey][]Rule, len(cfg.Rules))}
	for _, r := range cfg.Rules {
		r.Service = strings.TrimSpace(r.Service)
		r.Method = strings.TrimSpace(r.Method)
		if r.Service == "" || r.Method == "" {
			return nil, fmt.Errorf("allow-list rule needs both service and method, got %+v", r)
		}
		if r.Shard != nil && *r.Shard < 0 {
			return nil, fmt.Errorf("allow-list rule for %s.%s has negative shard", r.Service, r.Method)
		}
		k := ruleKey{service: r.Service, method: r.Method}
		g.rules[k] = append(g.rules[k], r)
	}
	return g, nil
}

// LoadFromEnv builds the gate from the file named by CMS_RPC_ALLOWLIST,
// or from the built-in table when the variable is unset.
func LoadFromEnv() (*Gate, error) {
	path := strings.TrimSpace(os.Getenv("CMS_RPC_ALLOWLIST"))
	if path == "" {
		return NewFromConfig(DefaultConfig())
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read allow-list file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse allow-list file: %w", err)
	}
	return NewFromConfig(cfg)
}

// Evaluate returns the gate's decision for one call. It is total:
// every input yields a decision, never an error. Arguments are carried
// for future policy but the shipped rules ignore them.
func (g *Gate) Evaluate(coord registry.ServiceCoordinate, method string, _ json.RawMessage) Decision {
	matches, ok := g.rules[ruleKey{service: coord.Name, method: method}]
	if !ok {
		return Decision{
			Allowed:    false,
			ReasonCode: "default_deny",
			Message:    fmt.Sprintf("%s.%s is not allow-listed", coord.Name, method),
		}
	}
	for _, r := range matches {
		if r.Shard != nil && *r.Shard != coord.Shard {
			continue
		}
		return Decision{
			Allowed:    true,
			ReasonCode: "allow_listed",
			Rule:       r.Service + "." + r.Method,
			Message:    fmt.Sprintf("%s.%s allowed for %s", coord.Name, method, coord),
		}
	}
	return Decision{
		Allowed:    false,
		ReasonCode: "shard_not_listed",
		Message:    fmt.Sprintf("%s.%s is not allow-listed for shard %d", coord.Name, method, coord.Shard),
	}
}

// Allow is the boolean form of Evaluate.
func (g *Gate) Allow(coord registry.ServiceCoordinate, method string, args json.RawMessage) bool {
	return g.Evaluate(coord, method, args).Allowed
}

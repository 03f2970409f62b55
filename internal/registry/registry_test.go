package registry

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testConfig() Config {
	return Config{Services: map[string][]Endpoint{
		"EvaluationService": {{Host: "127.0.0.1", Port: 25000}},
		"ResourceService": {
			{Host: "10.0.0.1", Port: 25100},
			{Host: "10.0.0.2", Port: 25100},
		},
	}}
}

func TestShardCountAndAddress(t *testing.T) {
	r, err := NewFromConfig(testConfig())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	n, err := r.ShardCount("ResourceService")
	if err != nil {
		t.Fatalf("shard count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 shards, got %d", n)
	}

	ep, err := r.Address(ServiceCoordinate{Name: "ResourceService", Shard: 1})
	if err != nil {
		t.Fatalf("address: %v", err)
	}
	if ep.Host != "10.0.0.2" || ep.Port != 25100 {
		t.Fatalf("unexpected endpoint %v", ep)
	}
}

func TestUnknownServiceAndShard(t *testing.T) {
	r, err := NewFromConfig(testConfig())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	if _, err := r.ShardCount("ScoringService"); !errors.Is(err, ErrUnknownService) {
		t.Fatalf("expected ErrUnknownService, got %v", err)
	}
	if _, err := r.Address(ServiceCoordinate{Name: "ScoringService"}); !errors.Is(err, ErrUnknownService) {
		t.Fatalf("expected ErrUnknownService, got %v", err)
	}
	if _, err := r.Address(ServiceCoordinate{Name: "EvaluationService", Shard: 3}); !errors.Is(err, ErrUnknownService) {
		t.Fatalf("expected ErrUnknownService for out-of-range shard, got %v", err)
	}
	if _, err := r.Address(ServiceCoordinate{Name: "EvaluationService", Shard: -1}); !errors.Is(err, ErrUnknownService) {
		t.Fatalf("expected ErrUnknownService for negative shard, got %v", err)
	}
}

func TestRejectsInvalidConfig(t *testing.T) {
	if _, err := NewFromConfig(Config{Services: map[string][]Endpoint{"LogService": {}}}); err == nil {
		t.Fatalf("expected error for service without shards")
	}
	if _, err := NewFromConfig(Config{Services: map[string][]Endpoint{"LogService": {{Host: "", Port: 1}}}}); err == nil {
		t.Fatalf("expected error for empty host")
	}
	_, err := NewFromConfig(Config{Services: map[string][]Endpoint{"LogService": {{Host: "logs", Port: 0}}}})
	if err == nil {
		t.Fatalf("expected error for zero port")
	}
	if !strings.Contains(err.Error(), "logs:0") || strings.Contains(err.Error(), "%!") {
		t.Fatalf("endpoint not rendered in error: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "services.yaml")
	raw := "services:\n" +
		"  LogService:\n" +
		"    - host: 127.0.0.1\n" +
		"      port: 29000\n"
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	r, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	ep, err := r.Address(ServiceCoordinate{Name: "LogService", Shard: 0})
	if err != nil {
		t.Fatalf("address: %v", err)
	}
	if ep.String() != "127.0.0.1:29000" {
		t.Fatalf("unexpected endpoint %s", ep)
	}
	names := r.ServiceNames()
	if len(names) != 1 || names[0] != "LogService" {
		t.Fatalf("unexpected service names %v", names)
	}
}

package monitor

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/MicKaranja/cms/internal/notify"
	"github.com/MicKaranja/cms/internal/registry"
	"github.com/MicKaranja/cms/internal/rpc"
	"github.com/MicKaranja/cms/pkg/cmsapi"
)

// fakeResourceShard answers get_resources with fixed usage numbers.
func fakeResourceShard(t *testing.T, cpu, memory float64) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				dec := json.NewDecoder(conn)
				enc := json.NewEncoder(conn)
				for {
					var req cmsapi.RPCRequest
					if err := dec.Decode(&req); err != nil {
						return
					}
					resp := cmsapi.RPCResponse{ID: req.ID}
					if req.Method == "get_resources" {
						resp.Result, _ = json.Marshal(map[string]float64{"cpu": cpu, "memory": memory})
					} else {
						resp.Error = "method not found: " + req.Method
					}
					if err := enc.Encode(&resp); err != nil {
						return
					}
				}
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func endpointOf(t *testing.T, addr string) registry.Endpoint {
	t.Helper()
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return registry.Endpoint{Host: host, Port: portNum}
}

func TestMonitorCollectsShardUsage(t *testing.T) {
	addr := fakeResourceShard(t, 42.5, 61.0)
	reg, err := registry.NewFromConfig(registry.Config{Services: map[string][]registry.Endpoint{
		"ResourceService": {endpointOf(t, addr)},
	}})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	dispatcher := rpc.NewDispatcher()
	pool := rpc.NewPool(reg, dispatcher, 2*time.Second)
	defer func() {
		pool.Close()
		dispatcher.Close()
	}()

	queue := notify.NewQueue()
	m := New(reg, pool, queue, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	deadline := time.Now().Add(5 * time.Second)
	for {
		m.pollAll(ctx, 1)
		snaps := m.Snapshot()
		if len(snaps) == 1 && snaps[0].Reachable {
			if snaps[0].CPUPercent != 42.5 || snaps[0].MemoryPercent != 61.0 {
				t.Fatalf("unexpected usage: %+v", snaps[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("shard never became reachable: %+v", snaps)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if got := queue.DrainAll(); len(got) != 0 {
		t.Fatalf("expected no notifications for healthy shard, got %+v", got)
	}
}

func TestMonitorNotifiesOnceWhenShardDown(t *testing.T) {
	// Nothing listens on this address, so every poll fails.
	reg, err := registry.NewFromConfig(registry.Config{Services: map[string][]registry.Endpoint{
		"ResourceService": {{Host: "127.0.0.1", Port: 1}},
	}})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	dispatcher := rpc.NewDispatcher()
	pool := rpc.NewPool(reg, dispatcher, time.Second)
	defer func() {
		pool.Close()
		dispatcher.Close()
	}()

	queue := notify.NewQueue()
	m := New(reg, pool, queue, time.Second)

	ctx := context.Background()
	m.pollAll(ctx, 1)
	m.pollAll(ctx, 1)

	snaps := m.Snapshot()
	if len(snaps) != 1 || snaps[0].Reachable {
		t.Fatalf("expected one unreachable shard, got %+v", snaps)
	}
	got := queue.DrainAll()
	if len(got) != 1 {
		t.Fatalf("expected exactly one notification, got %d", len(got))
	}
	if !strings.Contains(got[0].Body, "ResourceService/0") {
		t.Fatalf("notification should name the shard: %+v", got[0])
	}
}

package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/MicKaranja/cms/internal/registry"
	"github.com/MicKaranja/cms/internal/rpc"
	"github.com/MicKaranja/cms/pkg/cmsapi"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	payload := []byte("testcase input\n")

	var gotDigest string
	var gotErr error
	store.Put(payload, "input for task sum", "input", func(digest string, tag any, err error) {
		if tag != "input" {
			t.Errorf("expected tag %q, got %v", "input", tag)
		}
		gotDigest, gotErr = digest, err
	})
	if gotErr != nil {
		t.Fatalf("put: %v", gotErr)
	}
	if gotDigest != Digest(payload) {
		t.Fatalf("digest mismatch: got %q want %q", gotDigest, Digest(payload))
	}

	data, err := store.Get(context.Background(), gotDigest)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Fatalf("payload mismatch: got %q", data)
	}

	if _, err := store.Get(context.Background(), "deadbeef"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreDedupesIdenticalContent(t *testing.T) {
	store := NewMemoryStore()
	payload := []byte("same bytes")
	for i := 0; i < 3; i++ {
		store.Put(payload, "statement", nil, func(digest string, _ any, err error) {
			if err != nil {
				t.Fatalf("put %d: %v", i, err)
			}
		})
	}
	if store.Len() != 1 {
		t.Fatalf("expected 1 stored object, got %d", store.Len())
	}
}

// fakeFileStorage speaks the backend frame protocol and implements
// put_file/get_file against an in-memory map.
type fakeFileStorage struct {
	ln net.Listener

	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeFileStorage(t *testing.T) *fakeFileStorage {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &fakeFileStorage{ln: ln, objects: make(map[string][]byte)}
	go f.acceptLoop()
	t.Cleanup(func() { ln.Close() })
	return f
}

func (f *fakeFileStorage) addr() string { return f.ln.Addr().String() }

func (f *fakeFileStorage) acceptLoop() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		go f.serve(conn)
	}
}

func (f *fakeFileStorage) serve(conn net.Conn) {
	defer conn.Close()
	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)
	for {
		var req cmsapi.RPCRequest
		if err := dec.Decode(&req); err != nil {
			return
		}
		resp := cmsapi.RPCResponse{ID: req.ID}
		switch req.Method {
		case "put_file":
			var args struct {
				BinaryData  string `json:"binary_data"`
				Description string `json:"description"`
			}
			if err := json.Unmarshal(req.Arguments, &args); err != nil {
				resp.Error = err.Error()
				break
			}
			data, err := base64.StdEncoding.DecodeString(args.BinaryData)
			if err != nil {
				resp.Error = err.Error()
				break
			}
			digest := Digest(data)
			f.mu.Lock()
			f.objects[digest] = data
			f.mu.Unlock()
			resp.Result, _ = json.Marshal(map[string]string{"digest": digest})
		case "get_file":
			var args struct {
				Digest string `json:"digest"`
			}
			if err := json.Unmarshal(req.Arguments, &args); err != nil {
				resp.Error = err.Error()
				break
			}
			f.mu.Lock()
			data, ok := f.objects[args.Digest]
			f.mu.Unlock()
			if !ok {
				resp.Error = "file not found: " + args.Digest
				break
			}
			resp.Result, _ = json.Marshal(map[string]string{"binary_data": base64.StdEncoding.EncodeToString(data)})
		default:
			resp.Error = "method not found: " + req.Method
		}
		if err := enc.Encode(&resp); err != nil {
			return
		}
	}
}

func newTestPool(t *testing.T, addr string) *rpc.Pool {
	t.Helper()
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	reg, err := registry.NewFromConfig(registry.Config{Services: map[string][]registry.Endpoint{
		"FileStorage": {{Host: host, Port: portNum}},
	}})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	dispatcher := rpc.NewDispatcher()
	pool := rpc.NewPool(reg, dispatcher, 5*time.Second)
	t.Cleanup(func() {
		pool.Close()
		dispatcher.Close()
	})
	return pool
}

func TestRPCStorePutAndGet(t *testing.T) {
	fake := newFakeFileStorage(t)
	pool := newTestPool(t, fake.addr())
	store := NewRPCStore(pool)

	payload := []byte("expected output\n")
	var gotDigest string
	var gotErr error
	// The channel dials in the background; retry until connected.
	deadline := time.Now().Add(5 * time.Second)
	for {
		ch := make(chan struct{})
		store.Put(payload, "output for task sum", "output", func(digest string, tag any, err error) {
			gotDigest, gotErr = digest, err
			close(ch)
		})
		<-ch
		if gotErr == nil || !errors.Is(gotErr, rpc.ErrDisconnected) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("channel never connected: %v", gotErr)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if gotErr != nil {
		t.Fatalf("put: %v", gotErr)
	}
	if gotDigest != Digest(payload) {
		t.Fatalf("digest mismatch: got %q want %q", gotDigest, Digest(payload))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	data, err := store.Get(ctx, gotDigest)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Fatalf("payload mismatch: got %q", data)
	}

	if _, err := store.Get(ctx, "deadbeef"); err == nil {
		t.Fatalf("expected error for unknown digest")
	}
}

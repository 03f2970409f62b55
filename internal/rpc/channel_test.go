package rpc

import (
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/MicKaranja/cms/internal/registry"
	"github.com/MicKaranja/cms/pkg/cmsapi"
)

// fakeService speaks the newline-delimited JSON frame protocol.
// Methods: "echo" returns the arguments, "fail" returns an error,
// "black_hole" never answers.
type fakeService struct {
	ln net.Listener

	mu    sync.Mutex
	conns []net.Conn
}

func newFakeService(t *testing.T) *fakeService {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeService{ln: ln}
	go s.acceptLoop()
	t.Cleanup(s.stop)
	return s
}

func (s *fakeService) addr() string { return s.ln.Addr().String() }

func (s *fakeService) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		go s.serve(conn)
	}
}

func (s *fakeService) serve(conn net.Conn) {
	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)
	for {
		var req cmsapi.RPCRequest
		if err := dec.Decode(&req); err != nil {
			return
		}
		switch req.Method {
		case "echo":
			_ = enc.Encode(cmsapi.RPCResponse{ID: req.ID, Result: req.Arguments})
		case "fail":
			_ = enc.Encode(cmsapi.RPCResponse{ID: req.ID, Error: "method failed"})
		case "black_hole":
			// Deliberately no response.
		}
	}
}

func (s *fakeService) dropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.conns = nil
}

func (s *fakeService) stop() {
	_ = s.ln.Close()
	s.dropConnections()
}

func testCoord() registry.ServiceCoordinate {
	return registry.ServiceCoordinate{Name: "FileStorage", Shard: 0}
}

func waitConnected(t *testing.T, ch *Channel) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ch.mu.Lock()
		connected := ch.conn != nil
		ch.mu.Unlock()
		if connected {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("channel never connected")
}

type result struct {
	raw json.RawMessage
	tag any
	err error
}

func invokeAndWait(t *testing.T, ch *Channel, method string, args any, tag any) result {
	t.Helper()
	done := make(chan result, 1)
	ch.Invoke(method, args, tag, func(raw json.RawMessage, tag any, err error) {
		done <- result{raw: raw, tag: tag, err: err}
	})
	select {
	case r := <-done:
		return r
	case <-time.After(3 * time.Second):
		t.Fatalf("no completion for %s", method)
		return result{}
	}
}

func TestInvokeDeliversResultAndTag(t *testing.T) {
	svc := newFakeService(t)
	d := NewDispatcher()
	defer d.Close()
	ch := NewChannel(testCoord(), svc.addr(), d, time.Second)
	defer ch.Close()
	waitConnected(t, ch)

	r := invokeAndWait(t, ch, "echo", map[string]string{"hello": "world"}, "input")
	if r.err != nil {
		t.Fatalf("echo failed: %v", r.err)
	}
	if r.tag != "input" {
		t.Fatalf("expected tag input, got %v", r.tag)
	}
	var decoded map[string]string
	if err := json.Unmarshal(r.raw, &decoded); err != nil || decoded["hello"] != "world" {
		t.Fatalf("unexpected result %s (%v)", r.raw, err)
	}
}

func TestRemoteErrorReachesCallback(t *testing.T) {
	svc := newFakeService(t)
	d := NewDispatcher()
	defer d.Close()
	ch := NewChannel(testCoord(), svc.addr(), d, time.Second)
	defer ch.Close()
	waitConnected(t, ch)

	r := invokeAndWait(t, ch, "fail", nil, 7)
	var remote *RemoteError
	if !errors.As(r.err, &remote) {
		t.Fatalf("expected RemoteError, got %v", r.err)
	}
	if remote.Description != "method failed" {
		t.Fatalf("unexpected description %q", remote.Description)
	}
	if r.tag != 7 {
		t.Fatalf("expected tag 7, got %v", r.tag)
	}
}

func TestUnansweredCallTimesOut(t *testing.T) {
	svc := newFakeService(t)
	d := NewDispatcher()
	defer d.Close()
	ch := NewChannel(testCoord(), svc.addr(), d, 50*time.Millisecond)
	defer ch.Close()
	waitConnected(t, ch)

	r := invokeAndWait(t, ch, "black_hole", nil, nil)
	if !errors.Is(r.err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", r.err)
	}
}

func TestFailFastWhileDisconnected(t *testing.T) {
	d := NewDispatcher()
	defer d.Close()
	// Nothing is listening here.
	ch := NewChannel(testCoord(), "127.0.0.1:1", d, time.Second)
	defer ch.Close()

	r := invokeAndWait(t, ch, "echo", nil, "t")
	if !errors.Is(r.err, ErrDisconnected) {
		t.Fatalf("expected ErrDisconnected, got %v", r.err)
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	svc := newFakeService(t)
	d := NewDispatcher()
	defer d.Close()
	ch := NewChannel(testCoord(), svc.addr(), d, time.Second)
	defer ch.Close()
	waitConnected(t, ch)

	svc.dropConnections()
	// The channel notices the drop and redials; eventually a call goes
	// through again.
	deadline := time.Now().Add(3 * time.Second)
	for {
		r := invokeAndWait(t, ch, "echo", map[string]string{"k": "v"}, nil)
		if r.err == nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("channel never recovered: %v", r.err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestCloseFailsPendingCalls(t *testing.T) {
	svc := newFakeService(t)
	d := NewDispatcher()
	defer d.Close()
	ch := NewChannel(testCoord(), svc.addr(), d, 10*time.Second)
	waitConnected(t, ch)

	done := make(chan result, 1)
	ch.Invoke("black_hole", nil, nil, func(raw json.RawMessage, tag any, err error) {
		done <- result{raw: raw, tag: tag, err: err}
	})
	ch.Close()

	select {
	case r := <-done:
		if r.err == nil {
			t.Fatalf("expected failure for pending call on close")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("pending call not resolved on close")
	}

	r := invokeAndWait(t, ch, "echo", nil, nil)
	if !errors.Is(r.err, ErrChannelClosed) {
		t.Fatalf("expected ErrChannelClosed after close, got %v", r.err)
	}
}

func TestCallbacksDoNotOverlap(t *testing.T) {
	svc := newFakeService(t)
	d := NewDispatcher()
	defer d.Close()
	ch := NewChannel(testCoord(), svc.addr(), d, time.Second)
	defer ch.Close()
	waitConnected(t, ch)

	var mu sync.Mutex
	running := 0
	maxRunning := 0
	var wg sync.WaitGroup
	const calls = 32
	wg.Add(calls)
	for i := 0; i < calls; i++ {
		ch.Invoke("echo", map[string]int{"i": i}, i, func(json.RawMessage, any, error) {
			mu.Lock()
			running++
			if running > maxRunning {
				maxRunning = running
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			running--
			mu.Unlock()
			wg.Done()
		})
	}
	wg.Wait()
	if maxRunning != 1 {
		t.Fatalf("continuations overlapped: max concurrency %d", maxRunning)
	}
}

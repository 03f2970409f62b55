package rpc

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MicKaranja/cms/internal/observability"
	"github.com/MicKaranja/cms/internal/registry"
	"github.com/MicKaranja/cms/pkg/cmsapi"
)

// Callback receives the outcome of one asynchronous invocation. It is
// invoked exactly once per call, with either a result or an error,
// always on the channel's dispatcher goroutine. Tag is the opaque
// correlation value the caller supplied to Invoke; it never crosses
// the wire.
type Callback func(result json.RawMessage, tag any, err error)

const (
	defaultCallTimeout  = 30 * time.Second
	initialRedialDelay  = 100 * time.Millisecond
	maxRedialDelay      = 5 * time.Second
	connectDialTimeout  = 3 * time.Second
	writeDeadlineWindow = 10 * time.Second
)

type pendingCall struct {
	tag   any
	cb    Callback
	timer *time.Timer
}

// Channel is a persistent logical connection to one service shard.
// A background loop keeps redialing while the transport is down;
// calls issued in that window fail fast through the normal callback
// path instead of queuing indefinitely.
type Channel struct {
	coord      registry.ServiceCoordinate
	addr       string
	dispatcher *Dispatcher
	timeout    time.Duration

	mu      sync.Mutex
	conn    net.Conn
	enc     *json.Encoder
	pending map[string]*pendingCall
	closed  bool

	wake chan struct{}
}

// NewChannel starts the connect loop immediately. The address is fixed
// for the channel's lifetime; coordinate-to-address resolution happens
// in the Pool.
func NewChannel(coord registry.ServiceCoordinate, addr string, dispatcher *Dispatcher, timeout time.Duration) *Channel {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	c := &Channel{
		coord:      coord,
		addr:       addr,
		dispatcher: dispatcher,
		timeout:    timeout,
		pending:    make(map[string]*pendingCall),
		wake:       make(chan struct{}, 1),
	}
	go c.connectLoop()
	return c
}

func (c *Channel) Coordinate() registry.ServiceCoordinate { return c.coord }

// Invoke sends method with args to the remote shard and resumes cb
// when the response, an error, or the per-call timeout arrives. Every
// failure mode reports through cb; Invoke itself never fails, so the
// caller has a single completion path to handle.
func (c *Channel) Invoke(method string, args any, tag any, cb Callback) {
	var rawArgs json.RawMessage
	if args != nil {
		b, err := json.Marshal(args)
		if err != nil {
			c.deliver(cb, nil, tag, fmt.Errorf("marshal arguments for %s.%s: %w", c.coord.Name, method, err))
			return
		}
		rawArgs = b
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.deliver(cb, nil, tag, ErrChannelClosed)
		return
	}
	if c.conn == nil {
		c.mu.Unlock()
		observability.Default.IncCounter("rpc_calls_total", c.labels("disconnected"), 1)
		c.deliver(cb, nil, tag, fmt.Errorf("%w: %s", ErrDisconnected, c.coord))
		return
	}

	id := uuid.NewString()
	call := &pendingCall{tag: tag, cb: cb}
	call.timer = time.AfterFunc(c.timeout, func() {
		if c.complete(id, nil, fmt.Errorf("%w: %s.%s after %s", ErrTimeout, c.coord.Name, method, c.timeout)) {
			observability.Default.IncCounter("rpc_calls_total", c.labels("timeout"), 1)
		}
	})
	c.pending[id] = call

	req := cmsapi.RPCRequest{
		ID:        id,
		Service:   c.coord.Name,
		Shard:     c.coord.Shard,
		Method:    method,
		Arguments: rawArgs,
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadlineWindow))
	err := c.enc.Encode(&req)
	if err != nil {
		// The write failed, so the response will never come. Tear the
		// connection down and report through the callback.
		conn := c.conn
		c.conn = nil
		c.enc = nil
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		observability.Default.IncCounter("rpc_calls_total", c.labels("send_failed"), 1)
		c.complete(id, nil, fmt.Errorf("send to %s: %w", c.coord, err))
		return
	}
	c.mu.Unlock()
	observability.Default.IncCounter("rpc_calls_total", c.labels("sent"), 1)
}

// complete resolves the pending call once. The entry is removed before
// the callback is dispatched, so a redelivered or late response finds
// nothing to resolve.
func (c *Channel) complete(id string, result json.RawMessage, err error) bool {
	c.mu.Lock()
	call, ok := c.pending[id]
	if !ok {
		c.mu.Unlock()
		return false
	}
	delete(c.pending, id)
	c.mu.Unlock()
	call.timer.Stop()
	c.deliver(call.cb, result, call.tag, err)
	return true
}

func (c *Channel) deliver(cb Callback, result json.RawMessage, tag any, err error) {
	if cb == nil {
		return
	}
	c.dispatcher.Dispatch(func() { cb(result, tag, err) })
}

func (c *Channel) connectLoop() {
	delay := initialRedialDelay
	for {
		if c.isClosed() {
			return
		}
		conn, err := net.DialTimeout("tcp", c.addr, connectDialTimeout)
		if err != nil {
			observability.Default.IncCounter("rpc_reconnect_failures_total", c.labels(""), 1)
			select {
			case <-time.After(delay):
			case <-c.wake:
			}
			if delay *= 2; delay > maxRedialDelay {
				delay = maxRedialDelay
			}
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		c.conn = conn
		c.enc = json.NewEncoder(conn)
		c.mu.Unlock()
		observability.Default.SetGauge("rpc_channel_connected", c.labels(""), 1)
		log.Printf("rpc: connected to %s at %s", c.coord, c.addr)
		delay = initialRedialDelay

		c.readLoop(json.NewDecoder(conn))

		observability.Default.SetGauge("rpc_channel_connected", c.labels(""), 0)
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
			c.enc = nil
		}
		closed := c.closed
		c.mu.Unlock()
		_ = conn.Close()
		c.failAllPending(fmt.Errorf("%w: %s", ErrDisconnected, c.coord))
		if closed {
			return
		}
		log.Printf("rpc: lost connection to %s, redialing", c.coord)
	}
}

func (c *Channel) readLoop(dec *json.Decoder) {
	for {
		var resp cmsapi.RPCResponse
		if err := dec.Decode(&resp); err != nil {
			return
		}
		if resp.Error != "" {
			if c.complete(resp.ID, nil, &RemoteError{Description: resp.Error}) {
				observability.Default.IncCounter("rpc_calls_total", c.labels("remote_error"), 1)
			}
			continue
		}
		if c.complete(resp.ID, resp.Result, nil) {
			observability.Default.IncCounter("rpc_calls_total", c.labels("ok"), 1)
		}
	}
}

// failAllPending resolves every in-flight call with err. Responses for
// those calls arriving after a reconnect are ignored by complete.
func (c *Channel) failAllPending(err error) {
	c.mu.Lock()
	calls := make([]*pendingCall, 0, len(c.pending))
	for id, call := range c.pending {
		delete(c.pending, id)
		calls = append(calls, call)
	}
	c.mu.Unlock()
	for _, call := range calls {
		call.timer.Stop()
		c.deliver(call.cb, nil, call.tag, err)
	}
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close stops the redial loop and fails every pending call.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.enc = nil
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	if conn != nil {
		_ = conn.Close()
	}
	c.failAllPending(ErrChannelClosed)
}

func (c *Channel) labels(outcome string) map[string]string {
	l := map[string]string{"service": c.coord.Name}
	if outcome != "" {
		l["outcome"] = outcome
	}
	return l
}

package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/MicKaranja/cms/internal/registry"
)

// Pool hands out one channel per service coordinate, resolving
// addresses through the registry. Channels are created lazily and
// reused for the pool's lifetime.
type Pool struct {
	registry   *registry.Registry
	dispatcher *Dispatcher
	timeout    time.Duration

	mu       sync.Mutex
	channels map[registry.ServiceCoordinate]*Channel
	closed   bool
}

func NewPool(reg *registry.Registry, dispatcher *Dispatcher, timeout time.Duration) *Pool {
	return &Pool{
		registry:   reg,
		dispatcher: dispatcher,
		timeout:    timeout,
		channels:   make(map[registry.ServiceCoordinate]*Channel),
	}
}

// Channel returns the channel for coord, creating it on first use.
// Addressing failures come back as errors here; Invoke converts them
// to callback deliveries.
func (p *Pool) Channel(coord registry.ServiceCoordinate) (*Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrChannelClosed
	}
	if ch, ok := p.channels[coord]; ok {
		return ch, nil
	}
	ep, err := p.registry.Address(coord)
	if err != nil {
		return nil, err
	}
	ch := NewChannel(coord, ep.String(), p.dispatcher, p.timeout)
	p.channels[coord] = ch
	return ch, nil
}

// Invoke routes one call to the channel for coord. An unknown
// coordinate is reported through cb like any other failure, so callers
// handle addressing, transport and remote errors in one place.
func (p *Pool) Invoke(coord registry.ServiceCoordinate, method string, args any, tag any, cb Callback) {
	ch, err := p.Channel(coord)
	if err != nil {
		if cb != nil {
			p.dispatcher.Dispatch(func() { cb(nil, tag, fmt.Errorf("address %s: %w", coord, err)) })
		}
		return
	}
	ch.Invoke(method, args, tag, cb)
}

type callOutcome struct {
	result json.RawMessage
	err    error
}

// Call is the synchronous bridge used by HTTP handlers that must block
// for the response: it issues an asynchronous invoke and waits for the
// callback or the context, whichever comes first. The callback writes
// to a buffered channel, so an abandoned call never blocks the
// dispatcher.
func (p *Pool) Call(ctx context.Context, coord registry.ServiceCoordinate, method string, args any) (json.RawMessage, error) {
	done := make(chan callOutcome, 1)
	p.Invoke(coord, method, args, nil, func(result json.RawMessage, _ any, err error) {
		done <- callOutcome{result: result, err: err}
	})
	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close shuts every channel down. Pending calls fail with
// ErrChannelClosed.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	channels := make([]*Channel, 0, len(p.channels))
	for _, ch := range p.channels {
		channels = append(channels, ch)
	}
	p.channels = nil
	p.mu.Unlock()
	for _, ch := range channels {
		ch.Close()
	}
}

package upload

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/MicKaranja/cms/internal/observability"
)

var (
	// ErrNoTags is returned when Begin is called with an empty
	// expected-tag set.
	ErrNoTags = errors.New("upload session requires at least one expected tag")
	// ErrDuplicateTag is returned when the expected-tag set names the
	// same tag twice.
	ErrDuplicateTag = errors.New("duplicate tag in expected set")
	// ErrUnexpectedTag is returned when a report names a tag outside
	// the session's expected set.
	ErrUnexpectedTag = errors.New("tag not in expected set")
)

const (
	statePending = iota
	stateSucceeded
	stateFailed
)

// Session tracks one multi-part store operation. It turns terminal
// exactly once: either when every expected tag has reported a digest,
// or on the first failure. Reports arriving after that are discarded,
// since the underlying store calls cannot be cancelled and a late
// result must not resurrect a finished session.
type Session struct {
	id        string
	mu        sync.Mutex
	expected  map[string]bool
	digests   map[string]string
	state     int
	onSuccess func(map[string]string)
	onFailure func(error)
	release   func(string)
}

func (s *Session) ID() string { return s.id }

// Success records the digest for one expected tag. When the last tag
// lands, the success action runs once with the full tag→digest map.
func (s *Session) Success(tag, digest string) error {
	s.mu.Lock()
	if !s.expected[tag] {
		s.mu.Unlock()
		log.Printf("upload session %s: rejected success for unexpected tag %q", s.id, tag)
		return fmt.Errorf("%w: %q", ErrUnexpectedTag, tag)
	}
	if s.state != statePending {
		s.mu.Unlock()
		return nil
	}
	s.digests[tag] = digest
	if len(s.digests) < len(s.expected) {
		s.mu.Unlock()
		return nil
	}
	s.state = stateSucceeded
	results := make(map[string]string, len(s.digests))
	for k, v := range s.digests {
		results[k] = v
	}
	onSuccess := s.onSuccess
	s.mu.Unlock()

	observability.Default.IncCounter("upload_sessions_completed_total", map[string]string{"outcome": "success"}, 1)
	s.release(s.id)
	if onSuccess != nil {
		onSuccess(results)
	}
	return nil
}

// Failure turns the session terminal on the first error. Digests
// already stored for other tags stay in the backend unreferenced; the
// store is content-addressed, so the orphan is at worst one retained
// copy per abandoned tag.
func (s *Session) Failure(tag string, cause error) error {
	s.mu.Lock()
	if !s.expected[tag] {
		s.mu.Unlock()
		log.Printf("upload session %s: rejected failure for unexpected tag %q", s.id, tag)
		return fmt.Errorf("%w: %q", ErrUnexpectedTag, tag)
	}
	if s.state != statePending {
		s.mu.Unlock()
		return nil
	}
	s.state = stateFailed
	onFailure := s.onFailure
	s.mu.Unlock()

	observability.Default.IncCounter("upload_sessions_completed_total", map[string]string{"outcome": "failure"}, 1)
	s.release(s.id)
	if onFailure != nil {
		onFailure(cause)
	}
	return nil
}

// Terminal reports whether the session has fired either action.
func (s *Session) Terminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != statePending
}

// Coordinator owns the live upload sessions of the process. Sessions
// are removed as soon as they turn terminal.
type Coordinator struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewCoordinator() *Coordinator {
	return &Coordinator{sessions: make(map[string]*Session)}
}

// Begin opens a session expecting one success report per tag. The
// success action receives the complete tag→digest mapping; the failure
// action receives the first error. Exactly one of the two runs, once.
func (c *Coordinator) Begin(expected []string, onSuccess func(map[string]string), onFailure func(error)) (*Session, error) {
	if len(expected) == 0 {
		return nil, ErrNoTags
	}
	tags := make(map[string]bool, len(expected))
	for _, tag := range expected {
		if tags[tag] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateTag, tag)
		}
		tags[tag] = true
	}
	s := &Session{
		id:        uuid.NewString(),
		expected:  tags,
		digests:   make(map[string]string, len(tags)),
		onSuccess: onSuccess,
		onFailure: onFailure,
		release:   c.remove,
	}
	c.mu.Lock()
	c.sessions[s.id] = s
	c.mu.Unlock()
	observability.Default.SetGauge("upload_sessions_active", nil, float64(c.Active()))
	return s, nil
}

func (c *Coordinator) remove(id string) {
	c.mu.Lock()
	delete(c.sessions, id)
	c.mu.Unlock()
	observability.Default.SetGauge("upload_sessions_active", nil, float64(c.Active()))
}

// Active reports how many sessions have not yet turned terminal.
func (c *Coordinator) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

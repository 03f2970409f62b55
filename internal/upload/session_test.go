package upload

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestAllTagsSucceedFiresSuccessOnce(t *testing.T) {
	c := NewCoordinator()
	var fired int32
	var got map[string]string
	s, err := c.Begin([]string{"input", "output"},
		func(digests map[string]string) {
			atomic.AddInt32(&fired, 1)
			got = digests
		},
		func(err error) { t.Errorf("failure action ran: %v", err) })
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	if err := s.Success("input", "d1"); err != nil {
		t.Fatalf("success input: %v", err)
	}
	if s.Terminal() {
		t.Fatalf("session terminal after one of two tags")
	}
	if err := s.Success("output", "d2"); err != nil {
		t.Fatalf("success output: %v", err)
	}

	if atomic.LoadInt32(&fired) != 1 {
		t.Fatalf("success action fired %d times", fired)
	}
	if got["input"] != "d1" || got["output"] != "d2" {
		t.Fatalf("unexpected digests %v", got)
	}
	if c.Active() != 0 {
		t.Fatalf("terminal session still tracked")
	}

	// Late duplicate reports are discarded.
	if err := s.Success("output", "d3"); err != nil {
		t.Fatalf("late success should be a no-op, got %v", err)
	}
	if err := s.Failure("input", errors.New("late")); err != nil {
		t.Fatalf("late failure should be a no-op, got %v", err)
	}
	if atomic.LoadInt32(&fired) != 1 {
		t.Fatalf("action invocation count moved after terminal state")
	}
}

func TestFirstFailureWinsAndLateSuccessIsIgnored(t *testing.T) {
	c := NewCoordinator()
	var succeeded, failed int32
	var cause error
	s, err := c.Begin([]string{"input", "output"},
		func(map[string]string) { atomic.AddInt32(&succeeded, 1) },
		func(err error) {
			atomic.AddInt32(&failed, 1)
			cause = err
		})
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	if err := s.Success("input", "d1"); err != nil {
		t.Fatalf("success input: %v", err)
	}
	if err := s.Failure("output", errors.New("disk full")); err != nil {
		t.Fatalf("failure output: %v", err)
	}
	if err := s.Success("output", "d2"); err != nil {
		t.Fatalf("late success should be a no-op, got %v", err)
	}

	if atomic.LoadInt32(&failed) != 1 {
		t.Fatalf("failure action fired %d times", failed)
	}
	if atomic.LoadInt32(&succeeded) != 0 {
		t.Fatalf("success action fired after a failure")
	}
	if cause == nil || cause.Error() != "disk full" {
		t.Fatalf("unexpected failure cause %v", cause)
	}
}

func TestUnexpectedTagIsRejected(t *testing.T) {
	c := NewCoordinator()
	s, err := c.Begin([]string{"input"}, nil, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := s.Success("statement", "d1"); !errors.Is(err, ErrUnexpectedTag) {
		t.Fatalf("expected ErrUnexpectedTag, got %v", err)
	}
	if err := s.Failure("statement", errors.New("boom")); !errors.Is(err, ErrUnexpectedTag) {
		t.Fatalf("expected ErrUnexpectedTag, got %v", err)
	}
	if s.Terminal() {
		t.Fatalf("rejected reports must not terminate the session")
	}
}

func TestBeginRejectsInvalidTagSets(t *testing.T) {
	c := NewCoordinator()
	if _, err := c.Begin(nil, nil, nil); !errors.Is(err, ErrNoTags) {
		t.Fatalf("expected ErrNoTags, got %v", err)
	}
	if _, err := c.Begin([]string{"input", "input"}, nil, nil); !errors.Is(err, ErrDuplicateTag) {
		t.Fatalf("expected ErrDuplicateTag, got %v", err)
	}
}

func TestSingleTagSession(t *testing.T) {
	c := NewCoordinator()
	var fired int32
	s, err := c.Begin([]string{"statement"},
		func(digests map[string]string) {
			atomic.AddInt32(&fired, 1)
			if digests["statement"] != "d9" {
				t.Errorf("unexpected digest map %v", digests)
			}
		}, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := s.Success("statement", "d9"); err != nil {
		t.Fatalf("success: %v", err)
	}
	if atomic.LoadInt32(&fired) != 1 {
		t.Fatalf("success action fired %d times", fired)
	}
}

func TestRacingReportsFireExactlyOneAction(t *testing.T) {
	for i := 0; i < 50; i++ {
		c := NewCoordinator()
		var total int32
		s, err := c.Begin([]string{"input", "output"},
			func(map[string]string) { atomic.AddInt32(&total, 1) },
			func(error) { atomic.AddInt32(&total, 1) })
		if err != nil {
			t.Fatalf("begin: %v", err)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = s.Success("input", "d1")
		}()
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				_ = s.Success("output", "d2")
			} else {
				_ = s.Failure("output", errors.New("refused"))
			}
		}()
		wg.Wait()

		if atomic.LoadInt32(&total) != 1 {
			t.Fatalf("round %d: bound actions fired %d times", i, total)
		}
	}
}

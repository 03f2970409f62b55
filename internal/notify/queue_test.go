package notify

import (
	"sync"
	"testing"
)

func TestDrainReturnsAppendOrderThenEmpty(t *testing.T) {
	q := NewQueue()
	q.Add(1, "first", "a")
	q.Add(2, "second", "b")
	q.Add(3, "third", "c")

	drained := q.DrainAll()
	if len(drained) != 3 {
		t.Fatalf("expected 3 notifications, got %d", len(drained))
	}
	for i, want := range []int64{1, 2, 3} {
		if drained[i].Timestamp != want {
			t.Fatalf("position %d: expected timestamp %d, got %d", i, want, drained[i].Timestamp)
		}
	}

	if again := q.DrainAll(); len(again) != 0 {
		t.Fatalf("second drain should be empty, got %d entries", len(again))
	}

	q.Add(4, "fourth", "d")
	drained = q.DrainAll()
	if len(drained) != 1 || drained[0].Timestamp != 4 {
		t.Fatalf("expected only timestamp 4, got %+v", drained)
	}
}

func TestConcurrentAppendAndDrainLosesNothing(t *testing.T) {
	q := NewQueue()
	const appenders = 8
	const perAppender = 200

	var wg sync.WaitGroup
	wg.Add(appenders)
	for i := 0; i < appenders; i++ {
		go func(i int) {
			defer wg.Done()
			for j := 0; j < perAppender; j++ {
				q.Add(int64(i*perAppender+j), "subject", "body")
			}
		}(i)
	}

	collected := make([]Notification, 0, appenders*perAppender)
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for {
		collected = append(collected, q.DrainAll()...)
		select {
		case <-done:
			collected = append(collected, q.DrainAll()...)
			if len(collected) != appenders*perAppender {
				t.Errorf("expected %d notifications, got %d", appenders*perAppender, len(collected))
			}
			seen := make(map[int64]bool, len(collected))
			for _, n := range collected {
				if seen[n.Timestamp] {
					t.Fatalf("notification %d delivered twice", n.Timestamp)
				}
				seen[n.Timestamp] = true
			}
			return
		default:
		}
	}
}

func TestLen(t *testing.T) {
	q := NewQueue()
	if q.Len() != 0 {
		t.Fatalf("expected empty queue")
	}
	q.AddNow("s", "b")
	if q.Len() != 1 {
		t.Fatalf("expected one pending notification, got %d", q.Len())
	}
	q.DrainAll()
	if q.Len() != 0 {
		t.Fatalf("expected empty queue after drain, got %d", q.Len())
	}
}

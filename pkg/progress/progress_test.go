package progress

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Broadcast(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func TestOrNil(t *testing.T) {
	b := Or(nil)
	if _, ok := b.(Nop); !ok {
		t.Fatalf("Or(nil) = %T, want Nop", b)
	}
	b.Broadcast(Event{Fraction: 0.5})

	r := &recorder{}
	if Or(r) != Broadcaster(r) {
		t.Error("Or should return a non-nil broadcaster unchanged")
	}
}

func TestFunc(t *testing.T) {
	var got Event
	Func(func(e Event) { got = e }).Broadcast(Event{Fraction: 0.25, Task: "edges"})
	if got.Fraction != 0.25 || got.Task != "edges" {
		t.Errorf("got %+v", got)
	}
}

func TestCounter(t *testing.T) {
	r := &recorder{}
	c := NewCounter(r, "average", 100, 16)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Add(1)
		}()
	}
	wg.Wait()

	// 6 crossings of a multiple of 16 plus the final event
	if len(r.events) != 7 {
		t.Fatalf("got %d events, want 7", len(r.events))
	}
	var sawDone bool
	for _, e := range r.events {
		if e.Task != "average" {
			t.Errorf("unexpected task %q", e.Task)
		}
		if e.Fraction < 0 || e.Fraction > 1 {
			t.Errorf("fraction %v out of range", e.Fraction)
		}
		if e.Fraction == 1 {
			sawDone = true
		}
	}
	if !sawDone {
		t.Error("expected a completion event")
	}
}

func TestCounterWithoutTotal(t *testing.T) {
	r := &recorder{}
	c := NewCounter(r, "x", 0, 1)
	c.Add(5)
	if len(r.events) != 0 {
		t.Errorf("expected no events without a total, got %d", len(r.events))
	}
}

func TestBar(t *testing.T) {
	var out bytes.Buffer
	bar := NewBar(&out)
	clock := time.Unix(0, 0)
	bar.now = func() time.Time { return clock }

	bar.Broadcast(Event{Fraction: 0, Task: "edges"})
	clock = clock.Add(10 * time.Second)
	bar.Broadcast(Event{Fraction: 0.5, Task: "edges"})
	bar.Broadcast(Event{Fraction: 1, Task: "edges"})

	s := out.String()
	if !strings.Contains(s, " 50.0% edges [10.0s elapsed | 10.0s remaining]") {
		t.Errorf("missing half-way line in %q", s)
	}
	if !strings.Contains(s, "100.0%") {
		t.Errorf("missing completion in %q", s)
	}
	if !strings.HasSuffix(s, "\n") {
		t.Error("completed bar should end with a newline")
	}
	if n := strings.Count(s, "\r"); n != 3 {
		t.Errorf("got %d redraws, want 3", n)
	}
}

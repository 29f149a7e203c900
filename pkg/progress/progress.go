// Package progress carries progress updates from long video passes to
// whatever displays them. A nil Broadcaster is never an error: Or turns it
// into a no-op.
package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Event is one progress update.
type Event struct {
	// Fraction is the completed share of the task, between 0 and 1
	Fraction float64

	// Task names the running sub-task
	Task string
}

// Broadcaster receives progress events. Implementations must be safe for
// concurrent use.
type Broadcaster interface {
	Broadcast(e Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Broadcast(Event) {}

// Func adapts a function to a Broadcaster.
type Func func(Event)

func (f Func) Broadcast(e Event) { f(e) }

// Or returns b, or Nop when b is nil.
func Or(b Broadcaster) Broadcaster {
	if b == nil {
		return Nop{}
	}
	return b
}

// Counter turns completed work units into events, emitting one every
// `every` units and one when the total is reached.
type Counter struct {
	mu    sync.Mutex
	b     Broadcaster
	task  string
	total int
	every int
	done  int
}

// NewCounter creates a counter for total units. every <= 0 emits on each unit.
func NewCounter(b Broadcaster, task string, total, every int) *Counter {
	if every <= 0 {
		every = 1
	}
	return &Counter{b: Or(b), task: task, total: total, every: every}
}

// Add records n completed units.
func (c *Counter) Add(n int) {
	c.mu.Lock()
	before := c.done
	c.done += n
	done := c.done
	c.mu.Unlock()

	if c.total <= 0 {
		return
	}
	if done >= c.total || done/c.every != before/c.every {
		fraction := float64(done) / float64(c.total)
		if fraction > 1 {
			fraction = 1
		}
		c.b.Broadcast(Event{Fraction: fraction, Task: c.task})
	}
}

// Bar renders events as a console progress bar with elapsed and remaining
// time. A new line starts whenever the task changes or completes.
type Bar struct {
	mu    sync.Mutex
	w     io.Writer
	width int
	task  string
	start time.Time
	now   func() time.Time
}

// NewBar creates a 40 column progress bar writing to w.
func NewBar(w io.Writer) *Bar {
	return &Bar{w: w, width: 40, now: time.Now}
}

func (b *Bar) Broadcast(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e.Task != b.task {
		if b.task != "" {
			fmt.Fprintln(b.w)
		}
		b.task = e.Task
		b.start = b.now()
	}

	fraction := e.Fraction
	if fraction < 0 {
		fraction = 0
	} else if fraction > 1 {
		fraction = 1
	}

	filled := int(fraction * float64(b.width))
	var sb strings.Builder
	sb.WriteString("[")
	for i := 0; i < b.width; i++ {
		switch {
		case i < filled:
			sb.WriteString("█")
		case i == filled:
			sb.WriteString("▓")
		default:
			sb.WriteString("░")
		}
	}
	sb.WriteString("]")

	elapsed := b.now().Sub(b.start)
	timing := ""
	if fraction > 0 {
		remaining := time.Duration(float64(elapsed) / fraction * (1 - fraction))
		timing = fmt.Sprintf(" [%s elapsed | %s remaining]", formatDuration(elapsed), formatDuration(remaining))
	}

	fmt.Fprintf(b.w, "\r%s %5.1f%% %s%s", sb.String(), fraction*100, e.Task, timing)
	if fraction >= 1 {
		fmt.Fprintln(b.w)
		b.task = ""
	}
}

func formatDuration(d time.Duration) string {
	s := d.Seconds()
	switch {
	case s < 60:
		return fmt.Sprintf("%.1fs", s)
	case s < 3600:
		return fmt.Sprintf("%.1fm", s/60)
	default:
		return fmt.Sprintf("%.1fh", s/3600)
	}
}

package pipeline

import "context"

// Gate serialises operator interaction across processors running
// concurrently, so that only one review is open at a time. The zero value
// is not usable, use NewGate.
type Gate struct {
	slot chan struct{}
}

func NewGate() *Gate {
	return &Gate{slot: make(chan struct{}, 1)}
}

// Do runs fn once no other fn holds the gate. It gives up, without running
// fn, when ctx is done first.
func (g *Gate) Do(ctx context.Context, fn func() error) error {
	select {
	case g.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-g.slot }()
	return fn()
}

package checkout

import (
	"context"
	"sync"
)

// gate serializes checkouts per user. Slots are dropped once nobody holds
// or waits on them.
type gate struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func newGate() *gate {
	return &gate{slots: make(map[string]*slot)}
}

// acquire blocks until key is free or ctx is done.
func (g *gate) acquire(ctx context.Context, key string) (release func(), err error) {
	g.mu.Lock()
	s, ok := g.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		g.slots[key] = s
	}
	s.refs++
	g.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-s.ch
				g.done(key, s)
			})
		}, nil
	case <-ctx.Done():
		g.done(key, s)
		return nil, ctx.Err()
	}
}

func (g *gate) done(key string, s *slot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(g.slots, key)
	}
}

func (g *gate) size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.slots)
}

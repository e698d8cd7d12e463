package eventbus

import "sync"

// Gate defers work until a connection is ready. Work submitted before Open is
// queued and runs exactly once, in submission order, when Open is called;
// work submitted afterwards runs immediately on the caller's goroutine.
type Gate struct {
	mu       sync.Mutex
	open     bool
	flushing bool
	closed   bool
	queue    []func()
}

// Do runs fn now if the gate is open, otherwise queues it. It returns false
// when the gate has been closed and fn was rejected.
func (g *Gate) Do(fn func()) bool {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return false
	}
	if !g.open {
		g.queue = append(g.queue, fn)
		g.mu.Unlock()
		return true
	}
	g.mu.Unlock()
	fn()
	return true
}

// Open flushes the queue and lets later work run immediately. Only the first
// call has an effect.
func (g *Gate) Open() {
	g.mu.Lock()
	if g.open || g.flushing {
		g.mu.Unlock()
		return
	}
	g.flushing = true
	for len(g.queue) > 0 {
		batch := g.queue
		g.queue = nil
		g.mu.Unlock()
		for _, fn := range batch {
			fn()
		}
		g.mu.Lock()
	}
	g.open = true
	g.flushing = false
	g.mu.Unlock()
}

// IsOpen reports whether Open has completed.
func (g *Gate) IsOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open
}

// Close rejects further work. Work already queued still runs on Open.
func (g *Gate) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}

// Discard drops queued work and returns how much was dropped.
func (g *Gate) Discard() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := len(g.queue)
	g.queue = nil
	return n
}

// Pending returns the number of queued functions.
func (g *Gate) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queue)
}

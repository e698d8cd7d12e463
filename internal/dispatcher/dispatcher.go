// Package dispatcher routes named events to in-process listeners registered
// under wildcard patterns, and reports when a pattern gains its first or loses
// its last listener so the caller can mirror that on the bus.
package dispatcher

import (
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"go-scoped-pubsub/internal/core"
)

// Notifier is told about reference count transitions. Calls are made in the
// order the transitions happen, never with the listener table locked.
type Notifier interface {
	Subscribe(pattern string)
	Unsubscribe(pattern string)
}

// PanicHandler receives listener panics after they have been recovered.
type PanicHandler func(err *PanicError)

type transition struct {
	pattern   string
	subscribe bool
}

type registration struct {
	id       string
	pattern  string
	listener core.Listener
	once     bool
}

// Dispatcher is the local event table. It is safe for concurrent use;
// listeners run on the dispatching goroutine without any lock held, so they
// may register or remove listeners themselves.
type Dispatcher struct {
	mu      sync.Mutex
	regs    map[string][]*registration
	counts  *Counts
	pending []transition

	// notifyMu serialises delivery of pending transitions; it is always
	// taken before mu.
	notifyMu sync.Mutex
	notify   Notifier

	logger  zerolog.Logger
	onPanic PanicHandler
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger used for recovered panics.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithPanicHandler sets a callback for recovered listener panics.
func WithPanicHandler(h PanicHandler) Option {
	return func(d *Dispatcher) { d.onPanic = h }
}

// New creates a dispatcher. notify may be nil.
func New(notify Notifier, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		regs:   make(map[string][]*registration),
		counts: NewCounts(),
		notify: notify,
		logger: log.With().Str("component", "dispatcher").Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register adds listener under pattern and returns its handle. A nil listener
// or empty pattern is ignored and yields "".
func (d *Dispatcher) Register(pattern string, listener core.Listener) string {
	return d.add(pattern, listener, false)
}

// RegisterOnce is Register for a listener that is removed when it first fires.
func (d *Dispatcher) RegisterOnce(pattern string, listener core.Listener) string {
	return d.add(pattern, listener, true)
}

// Next registers a one-shot listener whose event is delivered on the returned
// channel. The channel is buffered and receives at most one event.
func (d *Dispatcher) Next(pattern string) (string, <-chan core.Event) {
	ch := make(chan core.Event, 1)
	id := d.add(pattern, func(ev core.Event) { ch <- ev }, true)
	return id, ch
}

func (d *Dispatcher) add(pattern string, listener core.Listener, once bool) string {
	if pattern == "" || listener == nil {
		return ""
	}
	reg := &registration{
		id:       uuid.New().String(),
		pattern:  pattern,
		listener: listener,
		once:     once,
	}

	d.mu.Lock()
	d.regs[pattern] = append(d.regs[pattern], reg)
	if d.counts.Acquire(pattern) {
		d.pending = append(d.pending, transition{pattern: pattern, subscribe: true})
	}
	d.mu.Unlock()
	d.flush()
	return reg.id
}

// Unregister removes the listener with the given handle. Unknown handles are
// ignored.
func (d *Dispatcher) Unregister(pattern, id string) bool {
	if pattern == "" || id == "" {
		return false
	}
	d.mu.Lock()
	ok := d.removeLocked(pattern, id)
	d.mu.Unlock()
	d.flush()
	return ok
}

func (d *Dispatcher) removeLocked(pattern, id string) bool {
	regs := d.regs[pattern]
	for i, r := range regs {
		if r.id != id {
			continue
		}
		rest := make([]*registration, 0, len(regs)-1)
		rest = append(rest, regs[:i]...)
		rest = append(rest, regs[i+1:]...)
		if len(rest) == 0 {
			delete(d.regs, pattern)
		} else {
			d.regs[pattern] = rest
		}
		if d.counts.Release(pattern) {
			d.pending = append(d.pending, transition{pattern: pattern})
		}
		return true
	}
	return false
}

// Dispatch invokes every listener whose pattern matches name and returns how
// many were invoked.
func (d *Dispatcher) Dispatch(name string, args []any) int {
	d.mu.Lock()
	var due []*registration
	for pattern, regs := range d.regs {
		if Match(pattern, name) {
			due = append(due, regs...)
		}
	}
	due = d.claimLocked(due)
	d.mu.Unlock()
	d.flush()
	return d.invoke(due, name, args)
}

// DispatchPattern invokes only the listeners registered under exactly pattern,
// provided pattern matches name.
func (d *Dispatcher) DispatchPattern(pattern, name string, args []any) int {
	if !Match(pattern, name) {
		return 0
	}
	d.mu.Lock()
	due := d.claimLocked(append([]*registration(nil), d.regs[pattern]...))
	d.mu.Unlock()
	d.flush()
	return d.invoke(due, name, args)
}

// claimLocked removes one-shot registrations from the table before they run,
// so a concurrent dispatch can never fire them twice.
func (d *Dispatcher) claimLocked(due []*registration) []*registration {
	out := due[:0]
	for _, r := range due {
		if r.once && !d.removeLocked(r.pattern, r.id) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// flush hands pending transitions to the notifier in the order they were
// recorded. Callers with nothing pending never wait on a slow notifier.
func (d *Dispatcher) flush() {
	d.mu.Lock()
	idle := len(d.pending) == 0
	d.mu.Unlock()
	if idle {
		return
	}
	d.notifyMu.Lock()
	defer d.notifyMu.Unlock()
	d.mu.Lock()
	batch := d.pending
	d.pending = nil
	d.mu.Unlock()
	if d.notify == nil {
		return
	}
	for _, t := range batch {
		if t.subscribe {
			d.notify.Subscribe(t.pattern)
		} else {
			d.notify.Unsubscribe(t.pattern)
		}
	}
}

func (d *Dispatcher) invoke(due []*registration, name string, args []any) int {
	for _, r := range due {
		// each listener gets its own slice header; element values are shared
		ev := core.Event{Name: name, Args: append([]any(nil), args...)}
		d.safeCall(r, ev)
	}
	return len(due)
}

func (d *Dispatcher) safeCall(r *registration, ev core.Event) {
	defer func() {
		if v := recover(); v != nil {
			perr := &PanicError{Pattern: r.pattern, Event: ev.Name, Value: v, Stack: string(debug.Stack())}
			d.logger.Error().
				Str("pattern", r.pattern).
				Str("event", ev.Name).
				Interface("panic", v).
				Str("stack", perr.Stack).
				Msg("listener panicked")
			if d.onPanic != nil {
				func() {
					defer func() { _ = recover() }()
					d.onPanic(perr)
				}()
			}
		}
	}()
	r.listener(ev)
}

// Listeners returns the number of live registrations under pattern.
func (d *Dispatcher) Listeners(pattern string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counts.Count(pattern)
}

// Patterns returns every pattern with at least one listener, sorted.
func (d *Dispatcher) Patterns() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counts.Patterns()
}

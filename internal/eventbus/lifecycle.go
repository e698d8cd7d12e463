package eventbus

import (
	"sync"

	"go-scoped-pubsub/internal/core"
)

// trigger moves a connection between lifecycle states.
type trigger string

const (
	triggerConnected trigger = "connected"
	triggerQuit      trigger = "quit"
	triggerEnd       trigger = "end"
	triggerClosed    trigger = "closed"
)

// lifecycle is the connection state machine. There is no way back to
// connecting once a connection has left it.
type lifecycle struct {
	mu          sync.RWMutex
	current     core.State
	transitions map[core.State]map[trigger]core.State
	onEnter     func(from, to core.State)
}

func newLifecycle(onEnter func(from, to core.State)) *lifecycle {
	l := &lifecycle{
		current:     core.StateConnecting,
		transitions: make(map[core.State]map[trigger]core.State),
		onEnter:     onEnter,
	}
	l.add(core.StateConnecting, triggerConnected, core.StateReady)
	l.add(core.StateConnecting, triggerQuit, core.StateClosing)
	l.add(core.StateReady, triggerQuit, core.StateClosing)
	l.add(core.StateClosing, triggerClosed, core.StateClosed)
	l.add(core.StateConnecting, triggerEnd, core.StateClosed)
	l.add(core.StateReady, triggerEnd, core.StateClosed)
	l.add(core.StateClosing, triggerEnd, core.StateClosed)
	return l
}

func (l *lifecycle) add(from core.State, t trigger, to core.State) {
	if _, ok := l.transitions[from]; !ok {
		l.transitions[from] = make(map[trigger]core.State)
	}
	l.transitions[from][t] = to
}

// fire applies t and reports whether a transition happened.
func (l *lifecycle) fire(t trigger) bool {
	l.mu.Lock()
	from := l.current
	to, ok := l.transitions[from][t]
	if ok {
		l.current = to
	}
	l.mu.Unlock()
	if ok && l.onEnter != nil {
		l.onEnter(from, to)
	}
	return ok
}

func (l *lifecycle) state() core.State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

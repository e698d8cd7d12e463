package pubsub

import (
	"context"
	"fmt"
	"sync"

	"go-scoped-pubsub/internal/eventbus"
)

// fakeConn records commands and lets tests control readiness and delivery.
type fakeConn struct {
	mu        sync.Mutex
	ops       []string
	quits     int
	ends      int
	ready     chan struct{}
	readyOnce sync.Once
	msgs      chan eventbus.Message
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{ready: make(chan struct{}), msgs: make(chan eventbus.Message, 16)}
}

func (f *fakeConn) MakeReady() { f.readyOnce.Do(func() { close(f.ready) }) }

func (f *fakeConn) Ready() <-chan struct{} { return f.ready }

func (f *fakeConn) record(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, op)
}

func (f *fakeConn) Publish(_ context.Context, channel string, payload []byte) error {
	f.record(fmt.Sprintf("publish %s %s", channel, payload))
	return nil
}

func (f *fakeConn) PSubscribe(_ context.Context, patterns ...string) error {
	for _, p := range patterns {
		f.record("psubscribe " + p)
	}
	return nil
}

func (f *fakeConn) PUnsubscribe(_ context.Context, patterns ...string) error {
	for _, p := range patterns {
		f.record("punsubscribe " + p)
	}
	return nil
}

func (f *fakeConn) Messages() <-chan eventbus.Message { return f.msgs }

func (f *fakeConn) Quit(context.Context) error {
	f.mu.Lock()
	f.quits++
	f.ops = append(f.ops, "quit")
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.msgs) })
	return nil
}

func (f *fakeConn) End() error {
	f.mu.Lock()
	f.ends++
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.msgs) })
	return nil
}

func (f *fakeConn) Deliver(pattern, channel, payload string) {
	f.msgs <- eventbus.Message{Pattern: pattern, Channel: channel, Payload: []byte(payload)}
}

func (f *fakeConn) Ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

func (f *fakeConn) Counts() (quits, ends int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quits, f.ends
}

var _ eventbus.Conn = (*fakeConn)(nil)

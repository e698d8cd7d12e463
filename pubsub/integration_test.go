package pubsub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"go-scoped-pubsub/internal/config"
)

func newRedisPubSub(t *testing.T, s *miniredis.Miniredis, prefix string) *PubSub {
	t.Helper()
	ps, err := New(config.Config{URL: "redis://" + s.Addr(), Prefix: prefix}, WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatalf("new pubsub: %v", err)
	}
	t.Cleanup(func() { ps.End() })
	return ps
}

func waitPatterns(t *testing.T, s *miniredis.Miniredis, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.PubSubNumPat() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d pattern subscriptions got %d", want, s.PubSubNumPat())
}

func TestRedisRoundTrip(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer s.Close()

	a := newRedisPubSub(t, s, "app")
	b := newRedisPubSub(t, s, "app")
	other := newRedisPubSub(t, s, "other")

	var mu sync.Mutex
	var got, foreign []Event
	b.On("order.*", func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev)
	})
	other.On("order.*", func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		foreign = append(foreign, ev)
	})
	waitPatterns(t, s, 2)

	ctx := context.Background()
	if err := a.Publish(ctx, "order.created", map[string]any{"id": 42}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timeout waiting for event")
		}
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if got[0].Name != "order.created" {
		t.Fatalf("unexpected name %q", got[0].Name)
	}
	arg, ok := got[0].Arg(0).(map[string]any)
	if !ok || arg["id"] != 42.0 {
		t.Fatalf("unexpected args %v", got[0].Args)
	}
	if len(foreign) != 0 {
		t.Fatalf("other namespace received %v", foreign)
	}
}

func TestRedisWireFormat(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer s.Close()

	raw := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer raw.Close()
	ctx := context.Background()
	sub := raw.Subscribe(ctx, "app:userCreated")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	ps := newRedisPubSub(t, s, "app")
	if err := ps.Publish(ctx, "userCreated", "bob", 42); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		if msg.Channel != "app:userCreated" {
			t.Fatalf("unexpected channel %q", msg.Channel)
		}
		if msg.Payload != `{"args":["bob",42]}` {
			t.Fatalf("unexpected payload %s", msg.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for raw message")
	}
}

func TestRedisSubscriptionLifecycle(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer s.Close()

	ps := newRedisPubSub(t, s, "app")
	first := ps.On("job.*", func(Event) {})
	second := ps.On("job.*", func(Event) {})
	waitPatterns(t, s, 1)

	ps.RemoveListener("job.*", first)
	time.Sleep(50 * time.Millisecond)
	if n := s.PubSubNumPat(); n != 1 {
		t.Fatalf("pattern dropped while a listener remains: %d", n)
	}
	ps.RemoveListener("job.*", second)
	waitPatterns(t, s, 0)
}

func TestRedisWaitAndQuit(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer s.Close()

	ps := newRedisPubSub(t, s, "")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result := make(chan Event, 1)
	go func() {
		ev, err := ps.Wait(ctx, "ready")
		if err != nil {
			t.Errorf("wait: %v", err)
		}
		result <- ev
	}()
	waitPatterns(t, s, 1)
	if err := ps.Publish(ctx, "ready", true); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case ev := <-result:
		if ev.Name != "ready" || ev.Arg(0) != true {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-ctx.Done():
		t.Fatal("timeout waiting for deferred event")
	}

	if err := ps.Quit(ctx); err != nil {
		t.Fatalf("quit: %v", err)
	}
	if err := ps.Publish(ctx, "late"); err != ErrClosed {
		t.Fatalf("expected ErrClosed got %v", err)
	}
}

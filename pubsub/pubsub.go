// Package pubsub is a scoped publish/subscribe facade over a shared Redis
// server. Independent processes exchange named events with arbitrary JSON
// arguments; listeners register on dotted names that may contain wildcard
// segments, and an optional namespace prefix keeps several applications
// apart on one server.
//
// A PubSub owns two bus connections: one only publishes, the other only holds
// pattern subscriptions. Listener registrations are reference counted per
// pattern so the server sees one PSUBSCRIBE when the first listener arrives
// and one PUNSUBSCRIBE when the last one leaves. Commands issued before a
// connection is ready are queued and flushed in order once it is.
//
//	ps, err := pubsub.New(pubsub.Config{Prefix: "app"})
//	if err != nil {
//		return err
//	}
//	defer ps.Quit(ctx)
//
//	ps.On("order.*", func(ev pubsub.Event) {
//		log.Println(ev.Name, ev.Args)
//	})
//	ps.Publish(ctx, "order.created", map[string]any{"id": 42})
package pubsub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"go-scoped-pubsub/internal/codec"
	"go-scoped-pubsub/internal/config"
	"go-scoped-pubsub/internal/core"
	"go-scoped-pubsub/internal/dispatcher"
	"go-scoped-pubsub/internal/eventbus"
	"go-scoped-pubsub/internal/metrics"
	"go-scoped-pubsub/internal/namespace"
)

// Event is delivered to listeners; Name is the local event name.
type Event = core.Event

// Listener receives events.
type Listener = core.Listener

// Config describes how to reach the bus and how to scope event names.
type Config = config.Config

// Conn is one bus connection; see NewWithConns.
type Conn = eventbus.Conn

// Message is a pattern message delivered by a Conn.
type Message = eventbus.Message

// PanicError is passed to the error handler when a listener panics.
type PanicError = dispatcher.PanicError

// DefaultQuitTimeout bounds how long Quit waits for a connection that has not
// become ready yet.
const DefaultQuitTimeout = 5 * time.Second

var (
	// ErrClosed is returned by calls made after Quit or End.
	ErrClosed = errors.New("pubsub: closed")

	// ErrNotReady is returned by Quit when a connection never became ready
	// and was ended instead.
	ErrNotReady = errors.New("pubsub: connection never became ready")

	// ErrInvalidPattern is returned by Wait for an empty event name.
	ErrInvalidPattern = dispatcher.ErrInvalidPattern

	// ErrListenerPanic is matched by every PanicError.
	ErrListenerPanic = dispatcher.ErrListenerPanic
)

// DefaultConfig returns the local Redis defaults.
func DefaultConfig() Config { return config.Default() }

// LoadConfig reads a Config from v overlaid with PUBSUB_* environment
// variables. A nil v reads the environment only.
func LoadConfig(v *viper.Viper) (Config, error) { return config.Load(v) }

// link is one bus connection together with the gate that defers commands
// until it is ready.
type link struct {
	name string
	conn eventbus.Conn
	gate *eventbus.Gate
}

// PubSub is the facade. It is safe for concurrent use.
type PubSub struct {
	emitter  link
	receiver link
	ns       namespace.Mapper
	events   *dispatcher.Dispatcher
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	onError  func(error)
	quitWait time.Duration

	ctx      context.Context
	cancel   context.CancelFunc
	closed   atomic.Bool
	endOnce  sync.Once
	endErr   error
	stopOnce sync.Once
	done     chan struct{}
}

type settings struct {
	logger   zerolog.Logger
	onError  func(error)
	registry prometheus.Registerer
	quitWait time.Duration
}

func newSettings(opts []Option) settings {
	s := settings{
		logger:   log.With().Str("component", "pubsub").Logger(),
		quitWait: DefaultQuitTimeout,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Option configures a PubSub.
type Option func(*settings)

// WithLogger sets the logger. The default is the global zerolog logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithErrorHandler receives transport errors and recovered listener panics.
// They are logged whether or not a handler is set.
func WithErrorHandler(fn func(error)) Option {
	return func(s *settings) { s.onError = fn }
}

// WithRegisterer registers the facade's metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *settings) { s.registry = reg }
}

// WithQuitTimeout bounds how long Quit waits for a connection that is not
// ready yet before ending both connections.
func WithQuitTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.quitWait = d
		}
	}
}

// New connects to the Redis server described by cfg with two dedicated
// connections and returns the facade. It does not wait for readiness.
func New(cfg Config, opts ...Option) (*PubSub, error) {
	redisOpts, err := cfg.RedisOptions()
	if err != nil {
		return nil, err
	}
	s := newSettings(opts)
	report := func(err error) {
		if s.onError != nil {
			s.onError(err)
		}
	}

	emitterOpts, receiverOpts := *redisOpts, *redisOpts
	emitter := eventbus.NewRedisConn("emitter", &emitterOpts,
		eventbus.WithLogger(s.logger.With().Str("conn", "emitter").Logger()),
		eventbus.WithErrorHandler(report))
	receiver := eventbus.NewRedisConn("receiver", &receiverOpts,
		eventbus.WithLogger(s.logger.With().Str("conn", "receiver").Logger()),
		eventbus.WithErrorHandler(report))

	ps, err := newPubSub(emitter, receiver, cfg.Prefix, s)
	if err != nil {
		emitter.End()
		receiver.End()
		return nil, err
	}
	emitter.Connect()
	receiver.Connect()
	return ps, nil
}

// NewWithConns builds a facade over already constructed connections. The
// facade takes ownership of both.
func NewWithConns(emitter, receiver Conn, prefix string, opts ...Option) (*PubSub, error) {
	return newPubSub(emitter, receiver, prefix, newSettings(opts))
}

func newPubSub(emitter, receiver Conn, prefix string, s settings) (*PubSub, error) {
	m, err := metrics.New(s.registry, prefix)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	ps := &PubSub{
		emitter:  link{name: "emitter", conn: emitter, gate: &eventbus.Gate{}},
		receiver: link{name: "receiver", conn: receiver, gate: &eventbus.Gate{}},
		ns:       namespace.New(prefix),
		metrics:  m,
		logger:   s.logger.With().Str("namespace", prefix).Logger(),
		onError:  s.onError,
		quitWait: s.quitWait,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	ps.events = dispatcher.New((*busSubscriptions)(ps),
		dispatcher.WithLogger(ps.logger),
		dispatcher.WithPanicHandler(func(err *dispatcher.PanicError) {
			ps.metrics.Panics.Inc()
			ps.report(err)
		}))

	go ps.awaitReady(ps.emitter)
	go ps.awaitReady(ps.receiver)
	go ps.receive()
	return ps, nil
}

func (ps *PubSub) awaitReady(l link) {
	select {
	case <-l.conn.Ready():
		pending := l.gate.Pending()
		l.gate.Open()
		ps.logger.Debug().Str("conn", l.name).Int("flushed", pending).Msg("connection ready")
	case <-ps.ctx.Done():
	}
}

// Publish sends event with args to every subscriber on the bus. The send is
// deferred until the emitter connection is ready and cannot be cancelled once
// issued; ctx only carries values. Transport failures are reported to the
// error handler, not returned.
func (ps *PubSub) Publish(ctx context.Context, event string, args ...any) error {
	if ps.closed.Load() {
		return ErrClosed
	}
	payload, err := codec.Encode(event, args)
	if err != nil {
		return err
	}
	channel := ps.ns.ToWire(event)
	sendCtx := context.WithoutCancel(ctx)
	ok := ps.emitter.gate.Do(func() {
		if err := ps.emitter.conn.Publish(sendCtx, channel, payload); err != nil {
			ps.logger.Warn().Err(err).Str("channel", channel).Msg("publish failed")
			ps.report(err)
			return
		}
		ps.metrics.Published.Inc()
	})
	if !ok {
		return ErrClosed
	}
	return nil
}

// On registers listener for event, which may contain wildcard segments, and
// returns the handle used by RemoveListener.
func (ps *PubSub) On(event string, listener Listener) string {
	if ps.closed.Load() {
		return ""
	}
	return ps.events.Register(event, listener)
}

// Once registers listener for the first matching event only.
func (ps *PubSub) Once(event string, listener Listener) string {
	if ps.closed.Load() {
		return ""
	}
	return ps.events.RegisterOnce(event, listener)
}

// Wait blocks until the first event matching event arrives or ctx ends.
func (ps *PubSub) Wait(ctx context.Context, event string) (Event, error) {
	if ps.closed.Load() {
		return Event{}, ErrClosed
	}
	id, ch := ps.events.Next(event)
	if id == "" {
		return Event{}, ErrInvalidPattern
	}
	select {
	case ev := <-ch:
		return ev, nil
	case <-ctx.Done():
		ps.events.Unregister(event, id)
		// the event may have fired while unregistering
		select {
		case ev := <-ch:
			return ev, nil
		default:
		}
		return Event{}, ctx.Err()
	case <-ps.done:
		return Event{}, ErrClosed
	}
}

// RemoveListener removes a registration made by On or Once. Unknown handles
// are ignored.
func (ps *PubSub) RemoveListener(event, id string) bool {
	return ps.events.Unregister(event, id)
}

// Listeners returns the number of listeners registered under event.
func (ps *PubSub) Listeners(event string) int {
	return ps.events.Listeners(event)
}

// receive is the only path from the bus to local listeners.
func (ps *PubSub) receive() {
	for m := range ps.receiver.conn.Messages() {
		ps.handle(m)
	}
}

func (ps *PubSub) handle(m eventbus.Message) {
	args, err := codec.Decode(m.Payload)
	if err != nil {
		ps.metrics.Dropped.Inc()
		ps.logger.Debug().Err(err).Str("channel", m.Channel).Msg("dropping malformed payload")
		return
	}
	ps.metrics.Received.Inc()
	name := ps.ns.FromWire(m.Channel)
	if m.Pattern == "" {
		ps.events.Dispatch(name, args)
		return
	}
	ps.events.DispatchPattern(ps.ns.FromPattern(m.Pattern), name, args)
}

// Quit closes both connections once queued and in-flight commands have
// completed. If ctx ends first the connections are closed immediately. A
// connection that is not ready yet is waited for at most the quit timeout,
// after which both are ended and ErrNotReady is returned.
func (ps *PubSub) Quit(ctx context.Context) error {
	if !ps.closed.CompareAndSwap(false, true) {
		return nil
	}
	links := []link{ps.emitter, ps.receiver}
	errs := make(chan error, len(links))
	var unready <-chan time.Time
	for _, l := range links {
		if unready == nil && !l.gate.IsOpen() {
			timer := time.NewTimer(ps.quitWait)
			defer timer.Stop()
			unready = timer.C
		}
		conn := l.conn
		if !l.gate.Do(func() { errs <- conn.Quit(ctx) }) {
			errs <- nil
		}
		l.gate.Close()
	}

	var result error
	for range links {
		select {
		case err := <-errs:
			if err != nil && result == nil {
				result = err
			}
		case <-unready:
			ps.logger.Warn().Dur("timeout", ps.quitWait).Msg("connection never became ready, ending connections")
			ps.End()
			return ErrNotReady
		case <-ctx.Done():
			ps.logger.Warn().Err(ctx.Err()).Msg("quit interrupted, ending connections")
			ps.End()
			return ctx.Err()
		}
	}
	ps.stop()
	ps.logger.Info().Msg("pubsub quit")
	return result
}

// End closes both connections immediately. Queued commands are discarded.
func (ps *PubSub) End() error {
	ps.closed.Store(true)
	ps.endOnce.Do(func() {
		for _, l := range []link{ps.emitter, ps.receiver} {
			l.gate.Close()
			if n := l.gate.Discard(); n > 0 {
				ps.logger.Debug().Str("conn", l.name).Int("discarded", n).Msg("discarding queued commands")
			}
			if err := l.conn.End(); err != nil && ps.endErr == nil {
				ps.endErr = err
			}
		}
		ps.stop()
		ps.logger.Info().Msg("pubsub ended")
	})
	return ps.endErr
}

func (ps *PubSub) stop() {
	ps.stopOnce.Do(func() {
		ps.cancel()
		close(ps.done)
	})
}

func (ps *PubSub) report(err error) {
	if ps.onError != nil {
		ps.onError(err)
	}
}

// busSubscriptions mirrors the dispatcher's reference counts on the receiver
// connection.
type busSubscriptions PubSub

func (b *busSubscriptions) Subscribe(pattern string) {
	ps := (*PubSub)(b)
	wire := ps.ns.Pattern(pattern)
	ps.receiver.gate.Do(func() {
		if err := ps.receiver.conn.PSubscribe(ps.ctx, wire); err != nil {
			ps.logger.Warn().Err(err).Str("pattern", wire).Msg("psubscribe failed")
			ps.report(err)
			return
		}
		ps.metrics.Subscriptions.Inc()
	})
}

func (b *busSubscriptions) Unsubscribe(pattern string) {
	ps := (*PubSub)(b)
	wire := ps.ns.Pattern(pattern)
	ps.receiver.gate.Do(func() {
		if err := ps.receiver.conn.PUnsubscribe(ps.ctx, wire); err != nil {
			ps.logger.Warn().Err(err).Str("pattern", wire).Msg("punsubscribe failed")
			ps.report(err)
			return
		}
		ps.metrics.Subscriptions.Dec()
	})
}

var _ core.Emitter = (*PubSub)(nil)

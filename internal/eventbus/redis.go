package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"go-scoped-pubsub/internal/core"
)

// DefaultRetryInterval is the pause between readiness probes.
const DefaultRetryInterval = time.Second

// RedisConn implements Conn on top of a dedicated go-redis client.
type RedisConn struct {
	name    string
	client  *redis.Client
	logger  zerolog.Logger
	onError func(error)
	retry   time.Duration
	buffer  int

	mu       sync.Mutex
	life     *lifecycle
	pubsub   *redis.PubSub
	inflight sync.WaitGroup
	ready    chan struct{}
	msgs     chan Message
	loopDone chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	connectMu sync.Once
	closeOnce sync.Once
}

// Option configures a RedisConn.
type Option func(*RedisConn)

// WithLogger sets the connection logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *RedisConn) { c.logger = l }
}

// WithErrorHandler receives transport errors: failed readiness probes,
// receive failures and failed commands issued by the connection itself.
func WithErrorHandler(fn func(error)) Option {
	return func(c *RedisConn) { c.onError = fn }
}

// WithRetryInterval sets the pause between readiness probes.
func WithRetryInterval(d time.Duration) Option {
	return func(c *RedisConn) {
		if d > 0 {
			c.retry = d
		}
	}
}

// WithBuffer sets the capacity of the Messages channel.
func WithBuffer(n int) Option {
	return func(c *RedisConn) {
		if n >= 0 {
			c.buffer = n
		}
	}
}

// NewRedisConn creates a connection named name (used in logs) with the given
// options. Call Connect to start probing for readiness.
func NewRedisConn(name string, opts *redis.Options, options ...Option) *RedisConn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &RedisConn{
		name:   name,
		client: redis.NewClient(opts),
		retry:  DefaultRetryInterval,
		buffer: 64,
		ready:  make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	c.logger = log.With().Str("component", "eventbus").Str("conn", name).Logger()
	for _, opt := range options {
		opt(c)
	}
	c.msgs = make(chan Message, c.buffer)
	c.life = newLifecycle(func(from, to core.State) {
		c.logger.Debug().Stringer("from", from).Stringer("to", to).Msg("eventbus state change")
	})
	return c
}

// Connect starts probing the server in the background. Ready is closed after
// the first successful PING, which also authenticates when a password is
// configured. Calling Connect more than once has no further effect.
func (c *RedisConn) Connect() {
	c.connectMu.Do(func() { go c.connect() })
}

func (c *RedisConn) connect() {
	for {
		err := c.client.Ping(c.ctx).Err()
		if err == nil {
			if c.life.fire(triggerConnected) {
				close(c.ready)
				c.logger.Info().Str("addr", c.client.Options().Addr).Msg("eventbus connected to Redis")
			}
			return
		}
		if c.ctx.Err() != nil {
			return
		}
		c.logger.Warn().Err(err).Msg("eventbus waiting for Redis")
		c.report(err)
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(c.retry):
		}
	}
}

// Ready is closed when the connection is ready.
func (c *RedisConn) Ready() <-chan struct{} { return c.ready }

// State returns the current lifecycle state.
func (c *RedisConn) State() core.State { return c.life.state() }

// Messages returns the channel of received pattern messages.
func (c *RedisConn) Messages() <-chan Message { return c.msgs }

// begin registers an in-flight command unless the connection is closing.
func (c *RedisConn) begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s := c.life.state(); s == core.StateClosing || s == core.StateClosed {
		return ErrClosed
	}
	c.inflight.Add(1)
	return nil
}

// Publish sends payload to channel.
func (c *RedisConn) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := c.begin(); err != nil {
		return err
	}
	defer c.inflight.Done()
	return c.client.Publish(ctx, channel, payload).Err()
}

// PSubscribe subscribes to patterns, starting the receive loop on first use.
func (c *RedisConn) PSubscribe(ctx context.Context, patterns ...string) error {
	if len(patterns) == 0 {
		return nil
	}
	if err := c.begin(); err != nil {
		return err
	}
	defer c.inflight.Done()

	c.mu.Lock()
	if s := c.life.state(); s == core.StateClosed {
		c.mu.Unlock()
		return ErrClosed
	}
	ps := c.pubsub
	start := ps == nil
	if start {
		ps = c.client.PSubscribe(ctx)
		c.pubsub = ps
		c.loopDone = make(chan struct{})
	}
	c.mu.Unlock()

	if err := ps.PSubscribe(ctx, patterns...); err != nil {
		if start {
			// the loop still owns closing msgs
			go c.receive(ps)
		}
		return err
	}
	if start {
		go c.receive(ps)
	}
	c.logger.Debug().Strs("patterns", patterns).Msg("eventbus psubscribe")
	return nil
}

// PUnsubscribe removes pattern subscriptions.
func (c *RedisConn) PUnsubscribe(ctx context.Context, patterns ...string) error {
	if len(patterns) == 0 {
		return nil
	}
	if err := c.begin(); err != nil {
		return err
	}
	defer c.inflight.Done()

	c.mu.Lock()
	ps := c.pubsub
	c.mu.Unlock()
	if ps == nil {
		return nil
	}
	if err := ps.PUnsubscribe(ctx, patterns...); err != nil {
		return err
	}
	c.logger.Debug().Strs("patterns", patterns).Msg("eventbus punsubscribe")
	return nil
}

// receive forwards pattern messages until the connection closes.
func (c *RedisConn) receive(ps *redis.PubSub) {
	defer close(c.loopDone)
	defer close(c.msgs)
	for {
		msg, err := ps.ReceiveMessage(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.logger.Error().Err(err).Msg("eventbus receive error")
			c.report(err)
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(c.retry):
			}
			continue
		}
		m := Message{Pattern: msg.Pattern, Channel: msg.Channel, Payload: []byte(msg.Payload)}
		select {
		case c.msgs <- m:
		case <-c.ctx.Done():
			return
		}
	}
}

// Quit waits for in-flight commands and then closes the connection. If ctx
// ends first the connection is closed immediately and ctx.Err is returned.
func (c *RedisConn) Quit(ctx context.Context) error {
	c.mu.Lock()
	ok := c.life.fire(triggerQuit)
	c.mu.Unlock()
	if !ok {
		return nil
	}

	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	closeErr := c.shutdown()
	if c.life.fire(triggerClosed) {
		c.logger.Info().Msg("eventbus connection closed")
	}
	if err != nil {
		return err
	}
	return closeErr
}

// End closes the connection immediately, abandoning in-flight commands.
func (c *RedisConn) End() error {
	c.mu.Lock()
	ok := c.life.fire(triggerEnd)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	err := c.shutdown()
	c.logger.Info().Msg("eventbus connection ended")
	return err
}

func (c *RedisConn) shutdown() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		c.mu.Lock()
		ps, loopDone := c.pubsub, c.loopDone
		c.mu.Unlock()
		if ps != nil {
			_ = ps.Close()
			<-loopDone
		} else {
			close(c.msgs)
		}
		err = c.client.Close()
	})
	return err
}

func (c *RedisConn) report(err error) {
	if c.onError != nil {
		c.onError(err)
	}
}

var _ Conn = (*RedisConn)(nil)

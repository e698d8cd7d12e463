package eventbus

import (
	"context"
	"errors"
)

// ErrClosed is returned by commands issued after Quit or End.
var ErrClosed = errors.New("eventbus: connection closed")

// Message is a pattern message delivered by the bus.
type Message struct {
	Pattern string
	Channel string
	Payload []byte
}

// Conn is one connection to the shared bus. A facade uses one Conn for
// publishing and another for pattern subscriptions.
type Conn interface {
	// Ready is closed once the connection can accept commands.
	Ready() <-chan struct{}
	Publish(ctx context.Context, channel string, payload []byte) error
	PSubscribe(ctx context.Context, patterns ...string) error
	PUnsubscribe(ctx context.Context, patterns ...string) error
	// Messages delivers pattern messages and is closed when the connection closes.
	Messages() <-chan Message
	// Quit closes the connection after in-flight commands complete.
	Quit(ctx context.Context) error
	// End closes the connection immediately.
	End() error
}

package core

import "context"

// Emitter defines the scoped publish/subscribe surface exposed to host code.
type Emitter interface {
	Publish(ctx context.Context, event string, args ...any) error
	On(event string, listener Listener) string
	Once(event string, listener Listener) string
	Wait(ctx context.Context, event string) (Event, error)
	RemoveListener(event, id string) bool
	Quit(ctx context.Context) error
	End() error
}

package pubsub_test

import (
	"context"
	"fmt"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"

	"go-scoped-pubsub/pubsub"
)

func Example() {
	s, err := miniredis.Run()
	if err != nil {
		fmt.Println(err)
		return
	}
	defer s.Close()

	cfg := pubsub.DefaultConfig()
	cfg.URL = "redis://" + s.Addr()
	cfg.Prefix = "app"
	ps, err := pubsub.New(cfg, pubsub.WithLogger(zerolog.Nop()))
	if err != nil {
		fmt.Println(err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	defer ps.Quit(ctx)

	got := make(chan pubsub.Event, 1)
	ps.On("order.*", func(ev pubsub.Event) { got <- ev })
	for s.PubSubNumPat() == 0 {
		time.Sleep(10 * time.Millisecond)
	}

	ps.Publish(ctx, "order.created", map[string]any{"id": 42})
	ev := <-got
	fmt.Println(ev.Name, ev.Arg(0))
	// Output: order.created map[id:42]
}

func ExampleLoadConfig() {
	cfg, err := pubsub.LoadConfig(nil)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(cfg.Addr())
}

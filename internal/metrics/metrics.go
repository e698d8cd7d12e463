// Package metrics exposes routing counters for a pub/sub facade.
package metrics

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors of one facade.
type Metrics struct {
	Published     prometheus.Counter
	Received      prometheus.Counter
	Dropped       prometheus.Counter
	Panics        prometheus.Counter
	Subscriptions prometheus.Gauge
}

// New registers the collectors with reg. A nil reg keeps them unregistered,
// which lets several facades live in one process. namespace is attached as a
// const label so scoped applications can be told apart. Facades sharing reg
// and namespace share the already registered collectors.
func New(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	labels := prometheus.Labels{"namespace": namespace}
	m := &Metrics{}
	var err error
	if m.Published, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "pubsub_messages_published_total",
		Help:        "Total number of events handed to the emitter connection",
		ConstLabels: labels,
	})); err != nil {
		return nil, err
	}
	if m.Received, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "pubsub_messages_received_total",
		Help:        "Total number of decoded events dispatched to local listeners",
		ConstLabels: labels,
	})); err != nil {
		return nil, err
	}
	if m.Dropped, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "pubsub_messages_dropped_total",
		Help:        "Total number of inbound payloads dropped because they could not be decoded",
		ConstLabels: labels,
	})); err != nil {
		return nil, err
	}
	if m.Panics, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "pubsub_listener_panics_total",
		Help:        "Total number of listener panics recovered during dispatch",
		ConstLabels: labels,
	})); err != nil {
		return nil, err
	}
	if m.Subscriptions, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "pubsub_pattern_subscriptions",
		Help:        "Number of patterns currently subscribed on the bus",
		ConstLabels: labels,
	})); err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg, returning the existing collector when an identical
// one is already registered.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if reg == nil {
		return c, nil
	}
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing, nil
		}
	}
	return c, errors.Wrap(err, "register metrics")
}

package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Grant-Huang/inkpath/internal/metrics"
	"github.com/Grant-Huang/inkpath/internal/model"
)

// Notifier delivers domain events to whoever is listening downstream.
type Notifier interface {
	Publish(ctx context.Context, ev model.Event) error
}

// EventSink accepts events without blocking the caller.
type EventSink interface {
	Notify(ev model.Event)
}

type discardSink struct{}

func (discardSink) Notify(model.Event) {}

// NopNotifier discards every event.
type NopNotifier struct{}

func (NopNotifier) Publish(context.Context, model.Event) error { return nil }

// Dispatcher hands events to a Notifier from a background goroutine so
// callers never wait on the broker. Events are dropped when the queue is
// full and publish failures are only logged.
type Dispatcher struct {
	target  Notifier
	timeout time.Duration
	logger  zerolog.Logger

	queue chan model.Event
	done  chan struct{}
}

func NewDispatcher(target Notifier, size int, logger zerolog.Logger) *Dispatcher {
	if target == nil {
		target = NopNotifier{}
	}
	if size <= 0 {
		size = 256
	}
	return &Dispatcher{
		target:  target,
		timeout: 5 * time.Second,
		logger:  logger.With().Str("component", "dispatcher").Logger(),
		queue:   make(chan model.Event, size),
		done:    make(chan struct{}),
	}
}

// Notify enqueues ev without blocking.
func (d *Dispatcher) Notify(ev model.Event) {
	select {
	case d.queue <- ev:
	default:
		metrics.Notifications.WithLabelValues("dropped").Inc()
		d.logger.Warn().Str("type", ev.Type).Msg("notification queue full, event dropped")
	}
}

// Run publishes queued events until ctx is cancelled, then drains what is
// already queued.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case ev := <-d.queue:
			d.publish(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-d.queue:
					d.publish(ev)
				default:
					return
				}
			}
		}
	}
}

// Wait blocks until Run has returned.
func (d *Dispatcher) Wait() {
	<-d.done
}

func (d *Dispatcher) publish(ev model.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.target.Publish(ctx, ev); err != nil {
		metrics.Notifications.WithLabelValues("failed").Inc()
		d.logger.Warn().Err(err).Str("type", ev.Type).Msg("publish event failed")
		return
	}
	metrics.Notifications.WithLabelValues("published").Inc()
}

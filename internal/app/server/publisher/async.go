package publisher

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Hobrus/dashify.git/internal/app/server/metrics"
	"github.com/Hobrus/dashify.git/internal/pkg/retry"
)

const DefaultQueueSize = 1024

type envelope struct {
	channel string
	event   string
	payload Payload
	// flushed marks a Flush barrier instead of an event.
	flushed chan struct{}
}

// Async queues events and delivers them from a single worker goroutine.
// Publish never blocks: when the queue is full the event is dropped.
type Async struct {
	transport Transport
	logger    *logrus.Logger
	reg       *metrics.Registry
	now       func() time.Time

	queue   chan envelope
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	stopped chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewAsync creates a publisher over transport. reg may be nil.
func NewAsync(transport Transport, logger *logrus.Logger, reg *metrics.Registry, queueSize int) *Async {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Async{
		transport: transport,
		logger:    logger,
		reg:       reg,
		now:       time.Now,
		queue:     make(chan envelope, queueSize),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

// Start launches the delivery worker.
func (a *Async) Start() {
	a.startOnce.Do(func() { go a.loop() })
}

// Publish stamps message with the current time and queues it.
func (a *Async) Publish(channel, event, message string) {
	env := envelope{
		channel: channel,
		event:   event,
		payload: Payload{Message: NewLogEvent(a.now(), message).String()},
	}

	select {
	case <-a.done:
		a.drop("closed", env)
		return
	default:
	}

	select {
	case a.queue <- env:
	default:
		a.drop("queue_full", env)
	}
}

func (a *Async) loop() {
	defer close(a.stopped)
	for {
		select {
		case env := <-a.queue:
			a.deliver(env)
		case <-a.done:
			for {
				select {
				case env := <-a.queue:
					a.deliver(env)
				default:
					return
				}
			}
		}
	}
}

func (a *Async) deliver(env envelope) {
	if env.flushed != nil {
		close(env.flushed)
		return
	}
	err := retry.DoWithRetry(a.ctx, func() error {
		return a.transport.Trigger(a.ctx, env.channel, env.event, env.payload)
	})
	if err != nil {
		a.logger.WithError(err).WithFields(logrus.Fields{
			"channel": env.channel,
			"event":   env.event,
		}).Warn("Failed to publish event")
		a.count(metrics.LogEventsDropped, map[string]string{"reason": "transport"})
		return
	}
	a.count(metrics.LogEventsPublished, map[string]string{"event": env.event})
}

func (a *Async) drop(reason string, env envelope) {
	a.logger.WithFields(logrus.Fields{
		"channel": env.channel,
		"event":   env.event,
		"reason":  reason,
	}).Warn("Dropped event")
	a.count(metrics.LogEventsDropped, map[string]string{"reason": reason})
}

func (a *Async) count(name string, labels map[string]string) {
	if a.reg != nil {
		a.reg.MustIncrement(name, labels, 1)
	}
}

// Flush waits until every event queued before the call has been delivered or
// dropped, or until ctx expires. Publishing continues to work afterwards.
func (a *Async) Flush(ctx context.Context) error {
	select {
	case <-a.done:
		return nil
	default:
	}

	barrier := envelope{flushed: make(chan struct{})}
	select {
	case a.queue <- barrier:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-barrier.flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events and waits for the worker to drain the queue.
// When ctx expires first, pending retries are abandoned.
func (a *Async) Close(ctx context.Context) error {
	a.Start()
	a.stopOnce.Do(func() { close(a.done) })

	select {
	case <-a.stopped:
		a.cancel()
		return nil
	case <-ctx.Done():
		a.cancel()
		<-a.stopped
		return ctx.Err()
	}
}

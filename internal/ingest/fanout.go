package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/ride-relay/internal/models"
	"github.com/example/ride-relay/internal/observability"
)

// Publisher delivers one location event to an external system.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, ev models.LocationEvent) error
	Close() error
}

const publishTimeout = 2 * time.Second

// Fanout hands location updates to every publisher off the connection
// goroutines. The queue is bounded: when it is full, events are dropped
// rather than slowing down the relay.
type Fanout struct {
	pubs  []Publisher
	queue chan models.LocationEvent
	log   zerolog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewFanout starts the delivery goroutine.
func NewFanout(buffer int, log zerolog.Logger, pubs ...Publisher) *Fanout {
	f := &Fanout{
		pubs:  pubs,
		queue: make(chan models.LocationEvent, buffer),
		log:   log.With().Str("component", "ingest").Logger(),
	}
	f.wg.Add(1)
	go f.run()
	return f
}

// Publish enqueues p without blocking.
func (f *Fanout) Publish(p models.DriverPosition) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	select {
	case f.queue <- models.EventFromPosition(p):
	default:
		observability.SinkEvents.WithLabelValues("queue", "dropped").Inc()
		f.log.Warn().Str("driver_id", p.DriverID).Msg("sink queue full, dropping location event")
	}
}

func (f *Fanout) run() {
	defer f.wg.Done()
	for ev := range f.queue {
		for _, p := range f.pubs {
			ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			err := p.Publish(ctx, ev)
			cancel()
			if err != nil {
				observability.SinkEvents.WithLabelValues(p.Name(), "error").Inc()
				f.log.Warn().Err(err).Str("sink", p.Name()).Str("driver_id", ev.DriverID).Msg("location publish failed")
				continue
			}
			observability.SinkEvents.WithLabelValues(p.Name(), "ok").Inc()
		}
	}
}

// Close drains the queue, waits for delivery to finish and closes every
// publisher.
func (f *Fanout) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	close(f.queue)
	f.mu.Unlock()

	f.wg.Wait()
	var errs []error
	for _, p := range f.pubs {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/recledger/internal/domain"
	"github.com/alanyoungcy/recledger/internal/metrics"
	"github.com/alanyoungcy/recledger/internal/notify"
)

const (
	// ChannelLedger carries committed events for live subscribers.
	ChannelLedger = "ch:ledger"
	// StreamLedger is the replayable log of committed events.
	StreamLedger = "stream:ledger"

	drainTimeout = 5 * time.Second
)

// EventPublisher moves committed ledger events off the engine's commit path.
// Enqueue never blocks; a full queue drops the event and counts it.
type EventPublisher struct {
	queue    chan domain.LedgerEvent
	bus      domain.SignalBus
	notifier *notify.Notifier
	sinks    []func(ctx context.Context, payload []byte)
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewEventPublisher creates a publisher with the given queue size. bus and
// notifier are optional.
func NewEventPublisher(
	bus domain.SignalBus,
	notifier *notify.Notifier,
	m *metrics.Metrics,
	buffer int,
	logger *slog.Logger,
) *EventPublisher {
	if buffer <= 0 {
		buffer = 1024
	}
	return &EventPublisher{
		queue:    make(chan domain.LedgerEvent, buffer),
		bus:      bus,
		notifier: notifier,
		metrics:  m,
		logger:   logger.With(slog.String("component", "event_publisher")),
	}
}

// WithSink adds an in-process consumer of encoded events, used when no
// signal bus is configured.
func (p *EventPublisher) WithSink(fn func(ctx context.Context, payload []byte)) *EventPublisher {
	p.sinks = append(p.sinks, fn)
	return p
}

// Enqueue is the engine's commit hook.
func (p *EventPublisher) Enqueue(events []domain.LedgerEvent) {
	for _, ev := range events {
		select {
		case p.queue <- ev:
		default:
			p.metrics.EventsDropped.Inc()
			p.logger.Warn("event queue full, dropping event",
				slog.String("type", string(ev.Type)),
				slog.String("tx_id", ev.TxID),
			)
		}
	}
}

// Run publishes queued events until ctx ends, then drains what is left.
func (p *EventPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			p.drain()
			return ctx.Err()
		case ev := <-p.queue:
			p.publish(ctx, ev)
		}
	}
}

func (p *EventPublisher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case ev := <-p.queue:
			p.publish(ctx, ev)
		default:
			return
		}
	}
}

func (p *EventPublisher) publish(ctx context.Context, ev domain.LedgerEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.ErrorContext(ctx, "encode event failed", slog.String("error", err.Error()))
		return
	}

	if p.bus != nil {
		if err := p.bus.StreamAppend(ctx, StreamLedger, payload); err != nil {
			p.logger.WarnContext(ctx, "stream append failed", slog.String("error", err.Error()))
		}
		if err := p.bus.Publish(ctx, ChannelLedger, payload); err != nil {
			p.logger.WarnContext(ctx, "publish failed", slog.String("error", err.Error()))
		}
	}
	for _, sink := range p.sinks {
		sink(ctx, payload)
	}
	if p.notifier != nil {
		if err := p.notifier.NotifyEvent(ctx, ev); err != nil {
			p.logger.WarnContext(ctx, "notification failed",
				slog.String("type", string(ev.Type)),
				slog.String("error", err.Error()),
			)
		}
	}
	p.metrics.Events.WithLabelValues(string(ev.Type)).Inc()
}

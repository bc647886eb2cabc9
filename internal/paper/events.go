package paper

import (
	"context"
	"fmt"
	"time"

	"simtrader/internal/domain"
)

// eventBuffer is the number of events queued for the sink.
const eventBuffer = 1024

// EventKind names what changed in the account.
type EventKind string

const (
	EventOrder  EventKind = "order"
	EventFill   EventKind = "fill"
	EventEquity EventKind = "equity"
)

// Event is emitted by the owning goroutine after a state change. Payloads are
// copies and safe to retain.
type Event struct {
	Kind      EventKind
	AccountID string
	Order     *domain.Order
	Fill      *domain.FillReport
	Equity    *domain.EquityPoint
}

// EventSink receives account events in order on a dedicated goroutine behind
// a buffered channel. Short I/O stalls are absorbed by the buffer; a sink that
// stays slower than the account eventually blocks it, so no event is dropped.
type EventSink interface {
	Handle(ctx context.Context, ev Event) error
}

// emit blocks when the buffer is full.
func (a *Account) emit(ev Event) {
	ev.AccountID = a.id
	a.events <- ev
}

func (a *Account) emitOrder(o *domain.Order) {
	a.emit(Event{Kind: EventOrder, Order: o.Clone()})
}

func (a *Account) emitFill(r *domain.FillReport) {
	c := *r
	if r.Trade != nil {
		t := *r.Trade
		t.AccountID = a.id
		c.Trade = &t
	}
	a.emit(Event{Kind: EventFill, Fill: &c})
}

func (a *Account) dispatch() {
	defer close(a.sinkDone)
	for ev := range a.events {
		if a.opts.Sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := a.opts.Sink.Handle(ctx, ev); err != nil {
			a.logger.Error().Err(err).Str("kind", string(ev.Kind)).Msg("event sink failed")
		}
		cancel()
	}
}

// RecordStore persists orders, trades and equity points.
type RecordStore interface {
	SaveOrder(ctx context.Context, accountID string, o *domain.Order) error
	InsertTrade(ctx context.Context, t domain.Trade) error
	UpsertEquity(ctx context.Context, accountID string, p domain.EquityPoint) error
}

// FillPublisher announces fills to other services.
type FillPublisher interface {
	PublishFill(ctx context.Context, accountID string, fill domain.FillReport) error
}

// Recorder is the EventSink that persists events and publishes fills. Either
// dependency may be nil.
type Recorder struct {
	store     RecordStore
	publisher FillPublisher
}

// NewRecorder creates a Recorder.
func NewRecorder(store RecordStore, publisher FillPublisher) *Recorder {
	return &Recorder{store: store, publisher: publisher}
}

// Handle implements EventSink.
func (r *Recorder) Handle(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case EventOrder:
		if r.store != nil {
			if err := r.store.SaveOrder(ctx, ev.AccountID, ev.Order); err != nil {
				return fmt.Errorf("save order %s: %w", ev.Order.OrderID, err)
			}
		}
	case EventFill:
		if r.store != nil && ev.Fill.Trade != nil {
			if err := r.store.InsertTrade(ctx, *ev.Fill.Trade); err != nil {
				return fmt.Errorf("insert trade %s: %w", ev.Fill.Trade.TradeID, err)
			}
		}
		if r.publisher != nil {
			if err := r.publisher.PublishFill(ctx, ev.AccountID, *ev.Fill); err != nil {
				return fmt.Errorf("publish fill %s: %w", ev.Fill.OrderID, err)
			}
		}
	case EventEquity:
		if r.store != nil {
			if err := r.store.UpsertEquity(ctx, ev.AccountID, *ev.Equity); err != nil {
				return fmt.Errorf("upsert equity: %w", err)
			}
		}
	}
	return nil
}

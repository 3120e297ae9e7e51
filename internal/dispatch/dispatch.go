package dispatch

import (
	"log/slog"

	"github.com/communitycar/realtime/internal/protocol"
)

// Handler consumes one decoded event. Handlers run synchronously in
// registration order; a handler that needs to mutate a collection it may
// also be iterating must snapshot it first.
type Handler func(protocol.Event)

// Table maps event kinds to their ordered handler chains. Tables are built
// once at feature initialization and never mutated afterwards.
type Table map[protocol.Kind][]Handler

// Dispatcher routes decoded events to the fixed handler table. Events are
// handled strictly in delivery order with no reordering or coalescing;
// kinds absent from the table (including KindUnknown) are a no-op.
type Dispatcher struct {
	table  Table
	logger *slog.Logger
}

func New(table Table, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{table: table, logger: logger}
}

// Dispatch runs every handler registered for the event's kind, in order.
func (d *Dispatcher) Dispatch(ev protocol.Event) {
	handlers, ok := d.table[ev.Kind]
	if !ok {
		if ev.Kind == protocol.KindUnknown {
			d.logger.Debug("Ignoring unknown event", "event", ev.Name)
		}
		return
	}
	for _, h := range handlers {
		h(ev)
	}
}

// Handles reports whether any handler is registered for the kind.
func (d *Dispatcher) Handles(kind protocol.Kind) bool {
	_, ok := d.table[kind]
	return ok
}

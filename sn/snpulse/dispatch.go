package snpulse

import (
	"context"
	"log/slog"

	"github.com/alitto/pond/v2"

	"github.com/quorumnet-engine/quorumnet/sn/snwire"
)

// Handler consumes pulse messages one at a time, in arrival order.
// The round engine behind it can therefore be written without locks.
type Handler interface {
	HandlePulse(ctx context.Context, msg snwire.PulseMessage)
}

// Dispatcher serializes inbound pulse messages onto a single worker.
// Transport goroutines enqueue and return immediately; the handler
// never sees two messages concurrently.
type Dispatcher struct {
	log     *slog.Logger
	handler Handler
	pool    pond.Pool
}

func NewDispatcher(log *slog.Logger, handler Handler) *Dispatcher {
	return &Dispatcher{
		log:     log,
		handler: handler,
		pool:    pond.NewPool(1),
	}
}

// Enqueue schedules msg for the handler. Safe from any goroutine.
func (d *Dispatcher) Enqueue(ctx context.Context, msg snwire.PulseMessage) {
	d.pool.Submit(func() {
		if ctx.Err() != nil {
			d.log.Debug("Dropping pulse message on shutdown", "cmd", msg.Kind.Command())
			return
		}
		d.handler.HandlePulse(ctx, msg)
	})
}

// Wait drains the queue and stops the worker. No further messages may
// be enqueued afterward.
func (d *Dispatcher) Wait() {
	d.pool.StopAndWait()
}

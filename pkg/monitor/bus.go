// Package monitor implements the monitoring/reporting layer: a local,
// in-process signal bus and a process-wide monitoring agent that keeps a
// per-chain view of every node's last known status, plus a reporting
// agent that forwards the same events to remote monitoring hosts.
package monitor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/relaymesh/relay/pkg/model"
)

// Event is what a ReportingAgent publishes to the local-signal bus each
// time a node's status changes.
type Event struct {
	ChainID string
	NodeID  string
	Index   int
	Count   int
	Status  model.Status
	Signal  model.Signal
	Payload *model.Data
}

// Handler processes one event on the local-signal bus.
type Handler func(ctx context.Context, ev Event) error

// Middleware wraps a Handler with cross-cutting behavior.
type Middleware func(Handler) Handler

// chainMiddleware composes middleware around a handler, outermost first.
func chainMiddleware(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// RecoveryMiddleware converts a panicking handler into an error so one
// bad subscriber cannot take down the publisher's goroutine.
func RecoveryMiddleware(logger *zap.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, ev Event) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("bus handler panicked: %v", r)
					logger.Error("recovered from panicking bus handler",
						zap.String("chain_id", ev.ChainID), zap.String("node_id", ev.NodeID), zap.Any("panic", r))
				}
			}()
			return next(ctx, ev)
		}
	}
}

// LoggingMiddleware logs each event at debug level and any handler error
// at warn level.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, ev Event) error {
			logger.Debug("local-signal event",
				zap.String("chain_id", ev.ChainID), zap.String("node_id", ev.NodeID),
				zap.String("status", string(ev.Status)), zap.String("signal", string(ev.Signal)))
			err := next(ctx, ev)
			if err != nil {
				logger.Warn("local-signal handler failed",
					zap.String("chain_id", ev.ChainID), zap.String("node_id", ev.NodeID), zap.Error(err))
			}
			return err
		}
	}
}

// Bus is the local-signal bus: an in-process, fire-and-forget fan-out of
// status events to every subscriber. A subscriber's error never blocks
// or cancels delivery to the others.
type Bus struct {
	logger      *zap.Logger
	subscribers []Handler
}

// NewBus creates a bus whose subscribers are wrapped with recovery and
// logging middleware.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	return &Bus{logger: logger}
}

// Subscribe registers a handler, applying the bus's standard middleware.
func (b *Bus) Subscribe(h Handler) {
	b.subscribers = append(b.subscribers, chainMiddleware(h, RecoveryMiddleware(b.logger), LoggingMiddleware(b.logger)))
}

// Publish delivers an event to every subscriber synchronously, in
// registration order.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	for _, sub := range b.subscribers {
		_ = sub(ctx, ev)
	}
}

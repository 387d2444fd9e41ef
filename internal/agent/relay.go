package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/campuslink/cskeep/internal/session"
)

// Sink is the slice of the session manager the relay drives.
type Sink interface {
	Evaluate(ctx context.Context, trigger session.Trigger)
	ForceRefresh(ctx context.Context) bool
}

const maxQueued = 64

// Relay routes agent messages to an attached manager. Messages that
// arrive while no manager is attached are queued and replayed on
// attach, oldest first. The queue is bounded; overflow drops the
// oldest entry.
type Relay struct {
	logger *slog.Logger

	mu     sync.Mutex
	sink   Sink
	queued []Message
}

// NewRelay builds an unattached relay.
func NewRelay(logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{logger: logger}
}

// Attach connects a manager and drains any deferred messages in order.
func (r *Relay) Attach(ctx context.Context, sink Sink) {
	r.mu.Lock()
	r.sink = sink
	pending := r.queued
	r.queued = nil
	r.mu.Unlock()

	if len(pending) > 0 {
		r.logger.Info("replaying deferred agent messages", "count", len(pending))
	}
	for _, msg := range pending {
		r.dispatch(ctx, sink, msg)
	}
}

// Detach disconnects the manager. Subsequent messages queue again.
func (r *Relay) Detach() {
	r.mu.Lock()
	r.sink = nil
	r.mu.Unlock()
}

// Deliver routes one message. It reports whether the message reached a
// manager immediately; false means it was deferred.
func (r *Relay) Deliver(ctx context.Context, msg Message) bool {
	r.mu.Lock()
	sink := r.sink
	if sink == nil {
		if len(r.queued) >= maxQueued {
			r.queued = r.queued[1:]
		}
		r.queued = append(r.queued, msg)
		n := len(r.queued)
		r.mu.Unlock()
		r.logger.Debug("agent message deferred", "type", string(msg.Type), "queued", n)
		return false
	}
	r.mu.Unlock()

	r.dispatch(ctx, sink, msg)
	return true
}

// Pending reports how many messages await a manager.
func (r *Relay) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queued)
}

func (r *Relay) dispatch(ctx context.Context, sink Sink, msg Message) {
	r.logger.Debug("agent message dispatched",
		"type", string(msg.Type),
		"msg_id", msg.ID,
		"age", time.Since(msg.Timestamp).String())

	switch msg.Type {
	case MsgCheckRequest, MsgRefreshRequest:
		sink.Evaluate(ctx, session.TriggerAgent)
	case MsgForceRefresh:
		sink.ForceRefresh(ctx)
	}
}

package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eleven-am/see-server/internal/roles"
	"github.com/google/uuid"
)

var (
	ErrTimeout          = errors.New("rpc: timed out waiting for response")
	ErrRelayUnavailable = errors.New("rpc: no connection holds the target role")
)

type OutcomeKind int

const (
	Success OutcomeKind = iota
	Timeout
	RelayUnavailable
)

func (k OutcomeKind) String() string {
	switch k {
	case Success:
		return "success"
	case Timeout:
		return "timeout"
	case RelayUnavailable:
		return "relay_unavailable"
	default:
		return "unknown"
	}
}

type Outcome struct {
	Kind   OutcomeKind
	Result json.RawMessage
}

func (o Outcome) Err() error {
	switch o.Kind {
	case Timeout:
		return ErrTimeout
	case RelayUnavailable:
		return ErrRelayUnavailable
	default:
		return nil
	}
}

type Callback func(Outcome)

// PendingCall is one in-flight request awaiting a response from the holder
// of a role. Its callback runs exactly once.
type PendingCall struct {
	ID       string
	Origin   string
	Target   string
	Role     roles.Role
	Event    string
	Deadline time.Time

	timer    *time.Timer
	once     sync.Once
	callback Callback
}

func (c *PendingCall) resolve(o Outcome) bool {
	fired := false
	c.once.Do(func() {
		fired = true
		if c.timer != nil {
			c.timer.Stop()
		}
		if c.callback != nil {
			c.callback(o)
		}
	})
	return fired
}

type Stats struct {
	Pending     int    `json:"pending"`
	Completed   uint64 `json:"completed"`
	TimedOut    uint64 `json:"timed_out"`
	Unavailable uint64 `json:"unavailable"`
	Discarded   uint64 `json:"discarded"`
}

// Relay forwards requests to the current holder of a role and correlates the
// single response that comes back.
type Relay struct {
	registry *roles.Registry
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]*PendingCall

	completed   atomic.Uint64
	timedOut    atomic.Uint64
	unavailable atomic.Uint64
	discarded   atomic.Uint64
}

func NewRelay(registry *roles.Registry, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Relay{
		registry: registry,
		logger:   logger.With("component", "rpc"),
		pending:  make(map[string]*PendingCall),
	}
	registry.OnRelease(r.handleRelease)
	return r
}

// Forward sends event to the holder of role and arranges for callback to run
// once with the response, a timeout, or RelayUnavailable. When no connection
// holds the role the callback runs before Forward returns.
func (r *Relay) Forward(origin string, role roles.Role, event string, payload any, timeout time.Duration, callback Callback) *PendingCall {
	call := &PendingCall{
		ID:       uuid.NewString(),
		Origin:   origin,
		Role:     role,
		Event:    event,
		Deadline: time.Now().Add(timeout),
		callback: callback,
	}

	target, ok := r.registry.HolderOf(role)
	if !ok {
		r.unavailable.Add(1)
		r.logger.Debug("no holder for role", "role", role, "event", event)
		call.resolve(Outcome{Kind: RelayUnavailable})
		return call
	}
	call.Target = target.ID()

	r.mu.Lock()
	r.pending[call.ID] = call
	call.timer = time.AfterFunc(timeout, func() {
		if r.finish(call.ID, Outcome{Kind: Timeout}) {
			r.timedOut.Add(1)
			r.logger.Warn("call timed out", "call_id", call.ID, "event", event, "role", role)
		}
	})
	r.mu.Unlock()

	if err := target.Request(event, call.ID, payload); err != nil {
		r.logger.Warn("failed to deliver request", "call_id", call.ID, "event", event, "error", err)
		if r.finish(call.ID, Outcome{Kind: RelayUnavailable}) {
			r.unavailable.Add(1)
		}
	}

	return call
}

// Call is the blocking form of Forward.
func (r *Relay) Call(ctx context.Context, origin string, role roles.Role, event string, payload any, timeout time.Duration) (json.RawMessage, error) {
	done := make(chan Outcome, 1)
	call := r.Forward(origin, role, event, payload, timeout, func(o Outcome) {
		done <- o
	})

	select {
	case o := <-done:
		return o.Result, o.Err()
	case <-ctx.Done():
		r.Cancel(call.ID)
		return nil, ctx.Err()
	}
}

// Resolve completes the call with a response from the connection fromID.
// Responses for unknown or already finished calls, and responses from any
// connection other than the call's target, are discarded.
func (r *Relay) Resolve(fromID, callID string, result json.RawMessage) bool {
	r.mu.Lock()
	call, ok := r.pending[callID]
	if ok && call.Target != fromID {
		ok = false
	}
	if ok {
		delete(r.pending, callID)
	}
	r.mu.Unlock()

	if !ok {
		r.discarded.Add(1)
		r.logger.Debug("discarding response", "call_id", callID, "from", fromID)
		return false
	}

	if call.resolve(Outcome{Kind: Success, Result: result}) {
		r.completed.Add(1)
		return true
	}
	return false
}

// Cancel forgets the call without running its callback.
func (r *Relay) Cancel(callID string) {
	r.mu.Lock()
	call, ok := r.pending[callID]
	delete(r.pending, callID)
	r.mu.Unlock()

	if ok {
		call.once.Do(func() {
			if call.timer != nil {
				call.timer.Stop()
			}
		})
	}
}

func (r *Relay) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Relay) Stats() Stats {
	return Stats{
		Pending:     r.Pending(),
		Completed:   r.completed.Load(),
		TimedOut:    r.timedOut.Load(),
		Unavailable: r.unavailable.Load(),
		Discarded:   r.discarded.Load(),
	}
}

func (r *Relay) finish(callID string, o Outcome) bool {
	r.mu.Lock()
	call, ok := r.pending[callID]
	delete(r.pending, callID)
	r.mu.Unlock()

	if !ok {
		return false
	}
	return call.resolve(o)
}

func (r *Relay) handleRelease(rel roles.Release) {
	id := rel.Conn.ID()

	r.mu.Lock()
	var orphaned []*PendingCall
	for callID, call := range r.pending {
		if call.Target == id && call.Role == rel.Role {
			orphaned = append(orphaned, call)
			delete(r.pending, callID)
		}
	}
	r.mu.Unlock()

	for _, call := range orphaned {
		if call.resolve(Outcome{Kind: RelayUnavailable}) {
			r.unavailable.Add(1)
		}
	}

	if len(orphaned) > 0 {
		r.logger.Info("target released, failed pending calls", "conn_id", id, "role", rel.Role, "count", len(orphaned))
	}
}

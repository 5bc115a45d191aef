package quorum

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Handler executes the business action behind one approval type. Supplied by
// the host application; the engine holds no per-type business logic.
type Handler func(ctx context.Context, a *Approval) error

// Dispatcher maps an approved approval's type to its registered handler and
// invokes it at most once per approval. Handler failures and panics are
// caught and logged; they never revert the approval's status. An unregistered
// type is logged and treated as a no-op.
type Dispatcher struct {
	mu       sync.Mutex
	handlers map[ApprovalType]Handler
	fired    map[string]struct{}
	order    []string
	failures atomic.Int64
}

// firedCap bounds the in-process fired set. Entries beyond the cap are evicted
// oldest-first; by then the approval has long been terminal, so the store's
// status guard alone prevents a re-trigger.
const firedCap = 4096

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: map[ApprovalType]Handler{}, fired: map[string]struct{}{}}
}

// Register binds a handler to an approval type, replacing any previous one.
func (d *Dispatcher) Register(t ApprovalType, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[t] = h
}

// DispatchOutcome reports what happened to one dispatch attempt.
type DispatchOutcome struct {
	Executed bool
	Skipped  string // already_fired|no_handler, when not executed
	Err      error  // handler error, recorded but already swallowed
}

// Dispatch fires the handler for an approved approval. The store's row lock
// already guarantees only one transaction wins the transition; the fired set
// is a second, in-process guard so a double trigger can never execute twice.
func (d *Dispatcher) Dispatch(ctx context.Context, a *Approval) DispatchOutcome {
	d.mu.Lock()
	if _, ok := d.fired[a.ID]; ok {
		d.mu.Unlock()
		return DispatchOutcome{Skipped: "already_fired"}
	}
	d.fired[a.ID] = struct{}{}
	d.order = append(d.order, a.ID)
	if len(d.order) > firedCap {
		delete(d.fired, d.order[0])
		d.order = d.order[1:]
	}
	h := d.handlers[a.Type]
	d.mu.Unlock()

	if h == nil {
		slog.Warn("no handler registered for approval type", "type", a.Type, "approval", a.ID)
		return DispatchOutcome{Skipped: "no_handler"}
	}
	if err := d.run(ctx, h, a); err != nil {
		d.failures.Add(1)
		slog.Error("approval action failed; approval stands", "approval", a.ID, "type", a.Type, "error", err)
		return DispatchOutcome{Executed: true, Err: err}
	}
	return DispatchOutcome{Executed: true}
}

func (d *Dispatcher) run(ctx context.Context, h Handler, a *Approval) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, a)
}

// Failures returns the count of handler executions that returned an error.
func (d *Dispatcher) Failures() int64 { return d.failures.Load() }

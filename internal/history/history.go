// Package history defines the audit-sink external collaborator: an
// append-only log of lifecycle/fault/watchdog events, consulted by operators
// and never read back by the Supervisor itself (SPEC_FULL.md's history
// Non-goal). Grounded on the teacher's internal/history package, generalized
// from "process start/stop against a store.Record" to "app lifecycle, fault,
// and watchdog events against the registry's Result enum."
package history

import (
	"context"
	"time"

	"github.com/loykin/appsupervisor/internal/registry"
)

// EventType is the kind of lifecycle event recorded.
type EventType string

const (
	EventAppStart    EventType = "app_start"
	EventAppStop     EventType = "app_stop"
	EventAppRestart  EventType = "app_restart"
	EventFaultAction EventType = "fault_action"
	EventWatchdog    EventType = "watchdog_action"
	EventSessionKill EventType = "session_kill"
)

// Event is one audit record. Detail carries the action/reason string
// (a FaultAction/WatchdogAction name, a session-kill reason, ...); Result is
// the outcome of the operation that produced the event, where applicable.
type Event struct {
	Type       EventType       `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	AppName    string          `json:"app_name"`
	PID        int             `json:"pid,omitempty"`
	Detail     string          `json:"detail,omitempty"`
	Result     registry.Result `json:"result"`
}

// Sink is a destination for audit events. Implementations must be safe for
// concurrent use; the Supervisor calls Send from whichever goroutine the
// embedder marshals async inputs through, not necessarily its own event loop.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

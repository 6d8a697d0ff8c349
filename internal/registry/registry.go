// Package registry holds the two ordered app lists (active/inactive) that
// back the Lifecycle Engine and Fault & Watchdog Dispatcher in
// internal/supervisor. Grounded on the teacher's internal/manager.Manager,
// which also kept one authoritative map of running work items guarded by a
// single owning goroutine; generalized here from "one map" to "two ordered
// lists plus a move-between-them operation" per the app/container lifecycle.
// Lookups stay linear, by design: app counts on an embedded target are small,
// and a linear scan over two short slices is simpler and more auditable than
// an index that must be kept consistent with list membership.
package registry

import (
	"strings"

	"github.com/loykin/appsupervisor/internal/app"
)

// MaxAppNameBytes bounds a validated app name. The distilled specification
// leaves the exact limit unstated; 64 matches the teacher's own process name
// field convention and is generous for a cellular-platform app identifier.
const MaxAppNameBytes = 64

// Result is the coarse outcome enum every Lifecycle/Broker operation returns.
type Result int

const (
	OK Result = iota
	Fault
	NotFound
	Overflow
	BadParameter
	Duplicate
)

func (r Result) String() string {
	switch r {
	case OK:
		return "OK"
	case Fault:
		return "Fault"
	case NotFound:
		return "NotFound"
	case Overflow:
		return "Overflow"
	case BadParameter:
		return "BadParameter"
	case Duplicate:
		return "Duplicate"
	default:
		return "Unknown"
	}
}

// StopHandler tags why a container is waiting to observe its app reach
// Stopped, and what to do when it does (spec.md §4.1's handler table).
type StopHandler int

const (
	StopHandlerNone StopHandler = iota
	StopHandlerDeactivate
	StopHandlerRestart
	StopHandlerRespondToStopCmd
	StopHandlerShutdownNext
)

func (h StopHandler) String() string {
	switch h {
	case StopHandlerNone:
		return "none"
	case StopHandlerDeactivate:
		return "Deactivate"
	case StopHandlerRestart:
		return "Restart"
	case StopHandlerRespondToStopCmd:
		return "RespondToStopCmd"
	case StopHandlerShutdownNext:
		return "ShutdownNext"
	default:
		return "unknown"
	}
}

// AppContainer is the per-app bookkeeping record spec.md §3 describes. It
// never owns the process directly; Handle is the external collaborator.
type AppContainer struct {
	Name           string
	Handle         app.App
	StopHandler    StopHandler
	PendingStopCmd any // opaque in-flight stop request reference, or nil
	IsActive       bool
}

// ValidateName enforces spec.md §4.1's name validation: non-empty, no '/',
// within MaxAppNameBytes. A violation is a client-protocol error, not an
// internal fault (see internal/ipc.Session.Kill).
func ValidateName(name string) bool {
	if name == "" || len(name) > MaxAppNameBytes {
		return false
	}
	return !strings.Contains(name, "/")
}

// Registry owns the two ordered lists. It is not safe for concurrent use: the
// Supervisor's single cooperative event loop is the only caller (spec.md §5).
type Registry struct {
	active   []*AppContainer
	inactive []*AppContainer
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{}
}

// Find looks up name across the active list then the inactive list, matching
// spec.md §3's "create on demand" lookup order.
func (r *Registry) Find(name string) (*AppContainer, bool) {
	for _, c := range r.active {
		if c.Name == name {
			return c, true
		}
	}
	for _, c := range r.inactive {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// FindByPID searches only the active list, asking each container's app
// handle whether it owns pid. Used by the Fault dispatcher's step 2 fallback
// when a dying process never applied its own security label.
func (r *Registry) FindByPID(pid int) (*AppContainer, bool) {
	for _, c := range r.active {
		if c.Handle != nil && c.Handle.OwnsPID(pid) {
			return c, true
		}
	}
	return nil, false
}

// InsertInactive adds a freshly created container to the inactive list. Used
// when a container is created on demand for a known-but-not-running app.
func (r *Registry) InsertInactive(c *AppContainer) {
	c.IsActive = false
	r.inactive = append(r.inactive, c)
}

// Activate moves c from inactive to active. Returns false if c was already
// active (callers treat this as Duplicate).
func (r *Registry) Activate(c *AppContainer) bool {
	if c.IsActive {
		return false
	}
	r.inactive = removeContainer(r.inactive, c)
	c.IsActive = true
	r.active = append(r.active, c)
	return true
}

// Deactivate moves c from active to inactive and clears its stop handler,
// per spec.md §3's "on deactivation, stop_handler is cleared" invariant.
func (r *Registry) Deactivate(c *AppContainer) {
	if !c.IsActive {
		return
	}
	r.active = removeContainer(r.active, c)
	c.IsActive = false
	c.StopHandler = StopHandlerNone
	c.PendingStopCmd = nil
	r.inactive = append(r.inactive, c)
}

// Remove deletes c from whichever list holds it. Used for app
// install/uninstall and full-system shutdown teardown (spec.md §3's
// container-destruction triggers); callers are responsible for purging
// AppProc records and releasing the app handle first.
func (r *Registry) Remove(c *AppContainer) {
	if c.IsActive {
		r.active = removeContainer(r.active, c)
	} else {
		r.inactive = removeContainer(r.inactive, c)
	}
}

// ActiveHead returns the first container on the active list, used by the
// Shutdown Sequencer (spec.md §4.4 step 2) to pick the next app to stop.
func (r *Registry) ActiveHead() (*AppContainer, bool) {
	if len(r.active) == 0 {
		return nil, false
	}
	return r.active[0], true
}

// ActiveLen reports the number of active containers (Shutdown's termination check).
func (r *Registry) ActiveLen() int { return len(r.active) }

// InactiveContainers returns a snapshot of the inactive list, in order. Used
// by Shutdown step 1 to destroy every inactive container up front.
func (r *Registry) InactiveContainers() []*AppContainer {
	out := make([]*AppContainer, len(r.inactive))
	copy(out, r.inactive)
	return out
}

// ActiveContainers returns a snapshot of the active list, in order. Used by
// AutoStart's enumeration and the watchdog dispatcher's linear search.
func (r *Registry) ActiveContainers() []*AppContainer {
	out := make([]*AppContainer, len(r.active))
	copy(out, r.active)
	return out
}

func removeContainer(list []*AppContainer, target *AppContainer) []*AppContainer {
	for i, c := range list {
		if c == target {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

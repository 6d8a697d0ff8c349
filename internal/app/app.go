// Package app defines the per-app object external collaborator from spec.md
// §1: the capability set the Supervisor core consumes for lifecycle, fault,
// and watchdog handling, without owning its implementation. App is the
// interface; Default (default.go) is a concrete, minimal implementation built
// the way the teacher's internal/process.Process drives one OS process,
// generalized to the handful of processes ("procs") a single app may run.
package app

// State mirrors the per-app/per-proc running state the Lifecycle Engine and
// Fault & Watchdog Dispatcher observe.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// FaultAction is the per-process policy applied on abnormal exit (GLOSSARY).
type FaultAction int

const (
	FaultIgnore FaultAction = iota
	FaultRestartProc
	FaultRestartApp
	FaultStopApp
	FaultReboot
)

func (f FaultAction) String() string {
	switch f {
	case FaultIgnore:
		return "Ignore"
	case FaultRestartProc:
		return "RestartProc"
	case FaultRestartApp:
		return "RestartApp"
	case FaultStopApp:
		return "StopApp"
	case FaultReboot:
		return "Reboot"
	default:
		return "Unknown"
	}
}

// WatchdogAction is the per-missed-kick policy (GLOSSARY).
type WatchdogAction int

const (
	WatchdogIgnore WatchdogAction = iota
	WatchdogHandled
	WatchdogRestartApp
	WatchdogStopApp
	WatchdogReboot
)

func (w WatchdogAction) String() string {
	switch w {
	case WatchdogIgnore:
		return "Ignore"
	case WatchdogHandled:
		return "Handled"
	case WatchdogRestartApp:
		return "RestartApp"
	case WatchdogStopApp:
		return "StopApp"
	case WatchdogReboot:
		return "Reboot"
	default:
		return "Unknown"
	}
}

// Priority is the string enum AppProc.SetPriority accepts: idle, low, medium,
// high, rt1..rt32 (spec.md §4.3).
type Priority string

const (
	PriorityIdle   Priority = "idle"
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ValidPriority reports whether s is a recognized priority token.
func ValidPriority(s string) bool {
	switch Priority(s) {
	case PriorityIdle, PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return isRealtimePriority(s)
}

func isRealtimePriority(s string) bool {
	if len(s) < 3 || s[:2] != "rt" {
		return false
	}
	n := 0
	for _, c := range s[2:] {
		if c < '0' || c > '9' {
			return false
		}
		n = n*10 + int(c-'0')
	}
	return n >= 1 && n <= 32
}

// ProcHandle is the opaque handle the per-app layer issues for one of its
// processes (configured or ad-hoc). Never exposed to IPC clients directly;
// internal/appproc wraps it in a reuse-safe reference.
type ProcHandle string

// App is the capability set spec.md §1 treats as an external collaborator.
// The Supervisor never reaches inside an App's process table; every
// interaction goes through these methods.
type App interface {
	Name() string
	State() State

	// Start launches the app's main/configured processes. Synchronous result,
	// but the transition to Stopped is always observed asynchronously via
	// SigChild.
	Start() error
	// Stop requests termination of all of the app's running processes.
	// Asynchronous: returns once the signal is sent, not once processes exit.
	Stop()

	// OwnsPID reports whether pid belongs to one of this app's processes.
	// Used by the Fault dispatcher's fallback search (spec.md §4.2 step 2).
	OwnsPID(pid int) bool
	// SigChild is called by the Supervisor's reaper after it has already
	// reaped pid via wait4; status is the raw OS wait status. It updates the
	// owning proc's recorded state and returns the FaultAction to apply.
	SigChild(pid int, status int) FaultAction
	// Watchdog reports whether this app owns procID and, if so, the action to
	// apply for a missed kick.
	Watchdog(procID string) (action WatchdogAction, owns bool)
	// ProcStateByName returns the state of a configured proc by its
	// configuration-time name (spec.md GetProcState), and whether that name
	// is known to this app.
	ProcStateByName(procName string) (State, bool)

	// CreateProc allocates a new proc inside the app, named procName or, if
	// empty, anonymous/ad-hoc, executing execPath (or the configured command
	// if execPath is empty). Returns the opaque proc_handle.
	CreateProc(procName, execPath string) (ProcHandle, error)
	DeleteProc(h ProcHandle)
	StartProc(h ProcHandle) error
	ProcState(h ProcHandle) State

	SetProcStdIn(h ProcHandle, path string) error
	SetProcStdOut(h ProcHandle, path string) error
	SetProcStdErr(h ProcHandle, path string) error
	AddProcArg(h ProcHandle, arg string) error
	ClearProcArgs(h ProcHandle) error
	SetProcPriority(h ProcHandle, p Priority) error
	ClearProcPriority(h ProcHandle) error
	SetProcFaultAction(h ProcHandle, a FaultAction) error
	ClearProcFaultAction(h ProcHandle) error
}

// Package supervisor is the core: the Lifecycle Engine, Fault & Watchdog
// Dispatcher, AppProc Broker, and Shutdown Sequencer, all threaded through
// one Supervisor value per spec.md §9's "group global mutable state into a
// single Supervisor context value" note. Grounded on the teacher's
// internal/manager package, which also kept one authoritative map of running
// work items mutated only from its own goroutine; generalized here from "a
// map of processes" to "two ordered app lists plus an AppProc reference
// table," with the teacher's non-blocking-reap idiom
// (internal/process/util.go's tryReap) driving the child-exit path instead of
// each process waiting on itself.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loykin/appsupervisor/internal/app"
	"github.com/loykin/appsupervisor/internal/appproc"
	"github.com/loykin/appsupervisor/internal/config"
	"github.com/loykin/appsupervisor/internal/history"
	"github.com/loykin/appsupervisor/internal/ipc"
	"github.com/loykin/appsupervisor/internal/metrics"
	"github.com/loykin/appsupervisor/internal/registry"
	"github.com/loykin/appsupervisor/internal/security"
)

// MaxResultBytes bounds any string value handed back across the IPC surface
// (GetName, GetHash). The distilled spec's C original passed a caller-owned
// buffer and returned Overflow when a value didn't fit; Go strings aren't
// buffer-bounded, so this constant preserves the same wire-safety guarantee
// against a pathologically large security label or hash string.
const MaxResultBytes = 256

// AppFactory builds the per-app object for a newly discovered app. Supplied
// by the embedder (normally app.NewDefault) so the core never references a
// concrete App implementation.
type AppFactory func(name string, cfg config.AppConfig) app.App

// Supervisor is the single-threaded cooperative core (spec.md §5): every
// exported method must run on the embedder's single event-loop goroutine.
// Asynchronous inputs (SIGCHLD, watchdog timeouts, IPC session close) must be
// marshaled onto that goroutine by the embedder before calling in; nothing
// here does its own locking, by design — the two app lists and the AppProc
// table are mutated only from that one thread, exactly as spec.md §5
// requires.
type Supervisor struct {
	registry *registry.Registry
	appprocs *appproc.Table
	sessions *ipc.Manager
	store    config.Store
	labeler  security.Labeler
	newApp   AppFactory
	log      *slog.Logger

	installDir  string
	historySink history.Sink

	onAllStopped func()
	onFatalFault func(appName string)
	replyStopCmd func(cmdRef any, result registry.Result)

	shuttingDown bool
}

// SetHistorySink attaches an audit sink every lifecycle/fault/watchdog event
// is additionally, best-effort reported to (SPEC_FULL.md's history Non-goal:
// write-only, never read back by the Supervisor itself). Left nil in
// embeddings that don't need an audit trail.
func (s *Supervisor) SetHistorySink(sink history.Sink) { s.historySink = sink }

func (s *Supervisor) record(evt history.Event) {
	if s.historySink == nil {
		return
	}
	evt.OccurredAt = time.Now().UTC()
	if err := s.historySink.Send(context.Background(), evt); err != nil {
		s.log.Error("history sink write failed", "err", err, "type", evt.Type)
	}
}

// New builds a Supervisor. labeler and sessions may be shared with the
// transport layer (internal/server); newApp is typically app.NewDefault
// adapted to the AppFactory signature.
func New(store config.Store, labeler security.Labeler, sessions *ipc.Manager, newApp AppFactory, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{
		registry:   registry.New(),
		appprocs:   appproc.NewTable(),
		sessions:   sessions,
		store:      store,
		labeler:    labeler,
		newApp:     newApp,
		log:        log,
		installDir: store.InstallDir(),
	}
}

// OnAllStopped registers the externally-registered all-apps-stopped callback
// invoked exactly once at the end of Shutdown (spec.md §4.4 step 4).
func (s *Supervisor) OnAllStopped(fn func()) { s.onAllStopped = fn }

// OnFatalFault registers the callback invoked when a FaultAction of Reboot
// propagates to the top level (spec.md §7's "App fatal" category triggers a
// system reboot outside this core). A WatchdogAction of Reboot is demoted to
// RestartApp and does not invoke it.
func (s *Supervisor) OnFatalFault(fn func(appName string)) { s.onFatalFault = fn }

// OnStopReply registers the deferred reply delivered to a StopApp caller's
// cmdRef once the app is actually observed Stopped (RespondToStopCmd handler,
// spec.md §4.1). Left unset in embeddings that don't need an async reply.
func (s *Supervisor) OnStopReply(fn func(cmdRef any, result registry.Result)) {
	s.replyStopCmd = fn
}

// InstallApp creates name's (initially inactive) container on demand without
// starting it, for the installer surface of SPEC_FULL.md §14. A no-op,
// returning OK, if the container already exists.
func (s *Supervisor) InstallApp(name string) registry.Result {
	if !registry.ValidateName(name) {
		return registry.BadParameter
	}
	_, res := s.obtainOrCreate(name)
	return res
}

// UninstallApp destroys name's container, purging its AppProc records first.
// The app must already be inactive (stop it via StopApp first); an active
// app returns BadParameter rather than being force-stopped out from under
// its caller.
func (s *Supervisor) UninstallApp(name string) registry.Result {
	if !registry.ValidateName(name) {
		return registry.BadParameter
	}
	c, ok := s.registry.Find(name)
	if !ok {
		return registry.NotFound
	}
	if c.IsActive {
		return registry.BadParameter
	}
	s.destroyContainer(c)
	return registry.OK
}

func (s *Supervisor) obtainOrCreate(name string) (*registry.AppContainer, registry.Result) {
	if c, ok := s.registry.Find(name); ok {
		return c, registry.OK
	}
	if !s.store.HasApp(name) {
		return nil, registry.NotFound
	}
	cfg, _ := s.store.AppSpec(name)
	handle := s.newApp(name, cfg)
	c := &registry.AppContainer{Name: name, Handle: handle}
	s.registry.InsertInactive(c)
	return c, registry.OK
}

// --- Lifecycle Engine (spec.md §4.1) ---

// AutoStart enumerates every app in the configuration store, creating its
// (initially inactive) container either way, and launches the ones whose
// startManual leaf is false.
func (s *Supervisor) AutoStart() {
	for _, name := range s.store.AppNames() {
		if s.store.StartManual(name) {
			if _, res := s.obtainOrCreate(name); res != registry.OK {
				s.log.Error("autostart: failed to create container", "app", name, "result", res.String())
			}
			continue
		}
		if res := s.LaunchApp(name); res != registry.OK {
			s.log.Error("autostart failed", "app", name, "result", res.String())
		}
	}
}

// LaunchApp obtains or creates name's container, moves it active, installs
// Deactivate as the pending stop handler, and starts it.
func (s *Supervisor) LaunchApp(name string) registry.Result {
	if !registry.ValidateName(name) {
		return registry.BadParameter
	}
	c, res := s.obtainOrCreate(name)
	if res != registry.OK {
		return res
	}
	if c.IsActive {
		return registry.Duplicate
	}
	s.registry.Activate(c)
	c.StopHandler = registry.StopHandlerDeactivate
	if err := c.Handle.Start(); err != nil {
		s.log.Error("app start failed", "app", name, "err", err)
		s.record(history.Event{Type: history.EventAppStart, AppName: name, Result: registry.Fault, Detail: err.Error()})
		return registry.Fault
	}
	metrics.IncAppStart(name)
	metrics.SetActiveApps(s.registry.ActiveLen())
	s.record(history.Event{Type: history.EventAppStart, AppName: name, Result: registry.OK})
	return registry.OK
}

// StopApp requests termination of an active app, completing asynchronously:
// the OK return only means the stop was requested, not that the app has
// stopped. cmdRef is opaque to the Supervisor; RespondToStopCmd hands it back
// to the caller once the app is observed Stopped.
func (s *Supervisor) StopApp(cmdRef any, name string) registry.Result {
	if !registry.ValidateName(name) {
		return registry.BadParameter
	}
	c, ok := s.registry.Find(name)
	if !ok || !c.IsActive {
		return registry.NotFound
	}
	c.PendingStopCmd = cmdRef
	c.StopHandler = registry.StopHandlerRespondToStopCmd
	c.Handle.Stop()
	if c.Handle.State() == app.StateStopped {
		s.fireStopHandler(c)
	}
	return registry.OK
}

// GetState reports Running iff name is active and its app reports Running;
// Stopped for everything else, including unknown names (spec.md §4.1).
func (s *Supervisor) GetState(name string) app.State {
	c, ok := s.registry.Find(name)
	if ok && c.IsActive && c.Handle.State() == app.StateRunning {
		return app.StateRunning
	}
	return app.StateStopped
}

// GetProcState validates both names and reports procName's state within
// appName's app.
func (s *Supervisor) GetProcState(appName, procName string) (app.State, registry.Result) {
	if !registry.ValidateName(appName) {
		return app.StateStopped, registry.BadParameter
	}
	c, ok := s.registry.Find(appName)
	if !ok {
		return app.StateStopped, registry.NotFound
	}
	st, found := c.Handle.ProcStateByName(procName)
	if !found {
		return app.StateStopped, registry.NotFound
	}
	return st, registry.OK
}

// GetName resolves pid's owning app name via the security-label helper.
func (s *Supervisor) GetName(pid int) (string, registry.Result) {
	name, found := security.GetAppNameFromPid(s.labeler, pid)
	if !found {
		return "", registry.NotFound
	}
	if len(name) > MaxResultBytes {
		return "", registry.Overflow
	}
	return name, registry.OK
}

// GetHash reads the app.md5 key from <install_dir>/<appName>/info.properties.
func (s *Supervisor) GetHash(appName string) (string, registry.Result) {
	if !registry.ValidateName(appName) {
		return "", registry.BadParameter
	}
	path := filepath.Join(s.installDir, appName, "info.properties")
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", registry.NotFound
	}
	if err != nil {
		return "", registry.Fault
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		k, v, ok := config.SplitEnvLine(scanner.Text())
		if !ok || k != "app.md5" {
			continue
		}
		if len(v) > MaxResultBytes {
			return "", registry.Overflow
		}
		return v, registry.OK
	}
	if err := scanner.Err(); err != nil {
		return "", registry.Fault
	}
	return "", registry.NotFound
}

// --- Stop handler dispatch table (spec.md §4.1) ---

// fireStopHandlerIfStopped is the ordering guarantee every call site that
// invokes app.Stop must follow (spec.md §5): install the handler first, then
// check app.State()==Stopped immediately after, firing locally if so.
func (s *Supervisor) fireStopHandlerIfStopped(c *registry.AppContainer) {
	if c.Handle.State() == app.StateStopped && c.StopHandler != registry.StopHandlerNone {
		s.fireStopHandler(c)
	}
}

func (s *Supervisor) fireStopHandler(c *registry.AppContainer) {
	handler := c.StopHandler
	switch handler {
	case registry.StopHandlerNone:
		return
	case registry.StopHandlerDeactivate:
		s.handleDeactivate(c)
	case registry.StopHandlerRestart:
		s.handleRestart(c)
	case registry.StopHandlerRespondToStopCmd:
		s.handleRespondToStopCmd(c)
	case registry.StopHandlerShutdownNext:
		s.handleShutdownNext(c)
	}
}

func (s *Supervisor) handleDeactivate(c *registry.AppContainer) {
	s.registry.Deactivate(c)
	metrics.IncAppStop(c.Name)
	metrics.SetActiveApps(s.registry.ActiveLen())
	s.record(history.Event{Type: history.EventAppStop, AppName: c.Name, Result: registry.OK})
}

func (s *Supervisor) handleRestart(c *registry.AppContainer) {
	c.StopHandler = registry.StopHandlerDeactivate
	if err := c.Handle.Start(); err != nil {
		s.log.Error("restart failed", "app", c.Name, "err", err)
		s.record(history.Event{Type: history.EventAppRestart, AppName: c.Name, Result: registry.Fault, Detail: err.Error()})
		s.handleDeactivate(c)
		return
	}
	metrics.IncAppRestart(c.Name, "fault")
	s.record(history.Event{Type: history.EventAppRestart, AppName: c.Name, Result: registry.OK})
}

func (s *Supervisor) handleRespondToStopCmd(c *registry.AppContainer) {
	cmdRef := c.PendingStopCmd
	s.handleDeactivate(c)
	if s.replyStopCmd != nil {
		s.replyStopCmd(cmdRef, registry.OK)
	}
}

func (s *Supervisor) handleShutdownNext(c *registry.AppContainer) {
	s.destroyContainer(c)
	s.Shutdown()
}

func (s *Supervisor) destroyContainer(c *registry.AppContainer) {
	s.appprocs.DeleteByContainer(c)
	s.registry.Remove(c)
}

// --- Fault & Watchdog Dispatcher (spec.md §4.2) ---

// SigChild is called once per pid that has already been reaped via a
// non-blocking wait4 (drainExited does this on the Loop goroutine), the same
// idiom as the teacher's internal/process/util.go tryReap. Because every process this Supervisor
// starts is in a process group it created (Setpgid), there is no real
// "foreign child" case in this architecture; the ownership search below is
// kept anyway so the dispatch logic matches spec.md §4.2 step-for-step, and
// so a child that raced its own label application is still found by the PID
// fallback search.
func (s *Supervisor) SigChild(pid, status int) {
	appName, found := security.GetAppNameFromPid(s.labeler, pid)
	var c *registry.AppContainer
	var ok bool
	if found {
		c, ok = s.registry.Find(appName)
	}
	if !ok {
		c, ok = s.registry.FindByPID(pid)
	}
	if !ok {
		s.log.Warn("reaped child with no owning app container", "pid", pid)
		return
	}
	if !c.IsActive {
		// Already deactivated; the child was already reaped, nothing more to do.
		return
	}

	action := c.Handle.SigChild(pid, status)
	metrics.IncFaultAction(action.String())
	s.record(history.Event{Type: history.EventFaultAction, AppName: c.Name, PID: pid, Detail: action.String(), Result: registry.OK})
	switch action {
	case app.FaultIgnore, app.FaultRestartProc:
		// FaultRestartProc is handled internally by the app implementation for
		// ad-hoc procs; at the Supervisor level it needs no further action.
	case app.FaultRestartApp:
		if c.Handle.State() != app.StateStopped {
			c.Handle.Stop()
		}
		c.StopHandler = registry.StopHandlerRestart
	case app.FaultStopApp:
		if c.Handle.State() != app.StateStopped {
			c.Handle.Stop()
		}
		if c.StopHandler == registry.StopHandlerNone {
			c.StopHandler = registry.StopHandlerDeactivate
		}
	case app.FaultReboot:
		s.log.Error("fault action Reboot propagated to top level", "app", c.Name)
		if s.onFatalFault != nil {
			s.onFatalFault(c.Name)
		}
	}
	s.fireStopHandlerIfStopped(c)
}

// WatchdogTimedOut dispatches a missed watchdog kick to whichever active
// app's handle claims procId.
func (s *Supervisor) WatchdogTimedOut(userID, procID string) {
	var owner *registry.AppContainer
	var action app.WatchdogAction
	for _, c := range s.registry.ActiveContainers() {
		a, owns := c.Handle.Watchdog(procID)
		if owns {
			owner = c
			action = a
			break
		}
	}
	if owner == nil {
		s.log.Error("watchdog timeout claimed by no app", "user", userID, "proc", procID)
		return
	}

	metrics.IncWatchdogAction(action.String())
	s.record(history.Event{Type: history.EventWatchdog, AppName: owner.Name, Detail: action.String(), Result: registry.OK})
	switch action {
	case app.WatchdogIgnore, app.WatchdogHandled:
	case app.WatchdogRestartApp:
		if owner.Handle.State() != app.StateStopped {
			owner.Handle.Stop()
		}
		owner.StopHandler = registry.StopHandlerRestart
	case app.WatchdogStopApp:
		if owner.Handle.State() != app.StateStopped {
			owner.Handle.Stop()
		}
	case app.WatchdogReboot:
		// Open question (a): Reboot is not supported in isolation; demote to
		// RestartApp and log critical.
		s.log.Error("watchdog Reboot demoted to RestartApp", "app", owner.Name)
		if owner.Handle.State() != app.StateStopped {
			owner.Handle.Stop()
		}
		owner.StopHandler = registry.StopHandlerRestart
	}
	s.fireStopHandlerIfStopped(owner)
}

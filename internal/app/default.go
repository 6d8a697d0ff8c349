package app

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"syscall"

	"github.com/loykin/appsupervisor/internal/config"
	"github.com/loykin/appsupervisor/internal/env"
	"github.com/loykin/appsupervisor/internal/logger"
	"github.com/loykin/appsupervisor/internal/process"
	"github.com/loykin/appsupervisor/internal/security"
)

// FaultPolicy decides the FaultAction for a proc's abnormal exit when no
// explicit per-proc override has been set via SetProcFaultAction. Grounded on
// the teacher's AutoRestart flag (internal/process/spec.go's Spec.AutoRestart),
// generalized to a full FaultAction decision instead of a single bool.
type FaultPolicy func(procName string, exitStatus int) FaultAction

// DefaultFaultPolicy restarts the app on any non-zero exit and ignores a
// clean exit, matching the common embedded-supervisor default.
func DefaultFaultPolicy(_ string, exitStatus int) FaultAction {
	if exitStatus == 0 {
		return FaultIgnore
	}
	return FaultRestartApp
}

type procEntry struct {
	handle      ProcHandle
	name        string // configured name, "" for ad-hoc
	execPath    string
	args        []string
	argsCleared bool
	stdinPath   string
	stdoutPath  string
	stderrPath  string
	priority    Priority
	faultAction *FaultAction
	proc        *process.Process
	state       State
	pid         int
}

// Default is a minimal, concrete App implementation. One Default exists per
// installed app; it owns a table of procEntry, keyed by opaque ProcHandle.
// Grounded on internal/process.Process for the actual fork/exec, and on
// internal/process/lifecycle.go for optional pre/post hooks.
type Default struct {
	mu             sync.Mutex
	name           string
	cfg            config.AppConfig
	installDir     string
	labeler        *security.MapLabeler
	policy         FaultPolicy
	defaultLogPath string   // "framework log" fallback per spec.md §4.3
	envBase        *env.Env // OS base + app globals; per-proc Env composed in via Merge

	procs    map[ProcHandle]*procEntry
	byName   map[string]ProcHandle
	byPID    map[int]ProcHandle
	nextSeq  int
	mainProc ProcHandle // the configured process created at app-container construction
}

// NewDefault builds the Default App for name, using cfg (from the
// configuration store) to seed its one configured ("main") proc. labeler
// receives Apply/Forget calls as procs start and get reaped.
func NewDefault(name string, cfg config.AppConfig, installDir string, labeler *security.MapLabeler, policy FaultPolicy) *Default {
	if policy == nil {
		policy = DefaultFaultPolicy
	}
	d := &Default{
		name:           name,
		cfg:            cfg,
		installDir:     installDir,
		labeler:        labeler,
		policy:         policy,
		defaultLogPath: "/var/log/appsupervisor/" + name + ".log",
		envBase:        env.New(),
		procs:          make(map[ProcHandle]*procEntry),
		byName:         make(map[string]ProcHandle),
		byPID:          make(map[int]ProcHandle),
	}
	h, _ := d.createProcLocked(name, cfg.Command)
	d.mainProc = h
	return d
}

func (d *Default) Name() string { return d.name }

func (d *Default) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stateLocked()
}

// stateLocked reports the main proc's state (Starting, Running, Stopping or
// Stopped) as the app's state; the app is Stopped if the main proc is missing.
func (d *Default) stateLocked() State {
	e, ok := d.procs[d.mainProc]
	if !ok {
		return StateStopped
	}
	return e.state
}

func (d *Default) Start() error {
	d.mu.Lock()
	e, ok := d.procs[d.mainProc]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("app %s: main proc missing", d.name)
	}
	return d.startProcEntry(e)
}

func (d *Default) Stop() {
	d.mu.Lock()
	entries := make([]*procEntry, 0, len(d.procs))
	for _, e := range d.procs {
		entries = append(entries, e)
	}
	d.mu.Unlock()
	for _, e := range entries {
		d.stopProcEntry(e)
	}
}

// stopProcEntry sends SIGTERM to the proc's process group and marks it
// Stopping; it does not wait. Completion is observed when the Supervisor's
// reaper calls SigChild for this pid, matching spec.md §5's ordering
// guarantee (install handler, then observe, never block on wait here).
func (d *Default) stopProcEntry(e *procEntry) {
	d.mu.Lock()
	if e.state != StateRunning && e.state != StateStarting {
		d.mu.Unlock()
		return
	}
	e.state = StateStopping
	pid := e.pid
	procName := orMain(e.name)
	d.mu.Unlock()

	if err := runLifecycleHooks(d.name, d.cfg.Lifecycle, process.PhasePreStop, d.installDir, d.cfg.Env); err != nil {
		slog.Warn("pre_stop hooks failed, stopping anyway", "app", d.name, "proc", procName, "err", err)
	}
	if pid > 0 {
		_ = syscall.Kill(-pid, syscall.SIGTERM)
	}
	// post_stop runs best-effort right after the signal is sent, not after
	// the process is actually reaped: stopProcEntry never blocks on exit
	// (spec.md §5 — completion is only observed later, via SigChild), so
	// there is no synchronous point to hang a "the process is now gone"
	// hook off of without violating that non-blocking contract.
	if err := runLifecycleHooks(d.name, d.cfg.Lifecycle, process.PhasePostStop, d.installDir, d.cfg.Env); err != nil {
		slog.Warn("post_stop hooks failed", "app", d.name, "proc", procName, "err", err)
	}
}

func (d *Default) startProcEntry(e *procEntry) error {
	d.mu.Lock()
	procName := orMain(e.name)

	// Already-running guard, grounded on the teacher's handleStart: a proc
	// whose process is still alive refuses a second start outright, and one
	// whose recorded state lagged a dead process is allowed to retry.
	if e.state == StateRunning || e.state == StateStarting {
		if e.proc != nil {
			if alive, _ := e.proc.DetectAlive(); alive {
				d.mu.Unlock()
				return fmt.Errorf("app %s proc %s: already running (pid %d)", d.name, procName, e.pid)
			}
		}
		e.state = StateStopped
	}

	if err := runLifecycleHooks(d.name, d.cfg.Lifecycle, process.PhasePreStart, d.installDir, d.cfg.Env); err != nil {
		d.mu.Unlock()
		return fmt.Errorf("app %s proc %s: pre_start hooks: %w", d.name, procName, err)
	}

	pidFile := d.cfg.PIDFile
	stdoutPath := e.stdoutPath
	if stdoutPath == "" {
		stdoutPath = d.defaultLogPath
	}
	stderrPath := e.stderrPath
	if stderrPath == "" {
		stderrPath = d.defaultLogPath
	}
	stdinPath := e.stdinPath
	if stdinPath == "/dev/null" {
		stdinPath = "" // default sentinel: let ConfigureCmd fall back to /dev/null itself
	}
	spec := process.Spec{
		Name:      d.name + "/" + procName,
		Command:   commandFor(e),
		WorkDir:   d.installDir,
		PIDFile:   pidFile,
		StdinPath: stdinPath,
		Log: logger.Config{
			StdoutPath: stdoutPath,
			StderrPath: stderrPath,
		},
	}
	e.proc = process.New(spec)
	e.state = StateStarting
	priority := e.priority
	d.mu.Unlock()

	mergedEnv := d.envBase.Merge(d.cfg.Env)
	cmd := e.proc.ConfigureCmd(mergedEnv)
	if len(e.args) > 0 {
		cmd.Args = append(cmd.Args, e.args...)
	}
	if err := e.proc.TryStart(cmd); err != nil {
		d.mu.Lock()
		e.state = StateStopped
		d.mu.Unlock()
		return err
	}

	d.mu.Lock()
	pid := cmd.Process.Pid
	e.pid = pid
	e.state = StateRunning
	d.byPID[pid] = e.handle
	d.mu.Unlock()

	if priority != "" {
		if err := applyPriority(pid, priority); err != nil {
			slog.Warn("failed to apply proc priority", "app", d.name, "proc", procName, "priority", priority, "err", err)
		}
	}
	if d.labeler != nil {
		d.labeler.Apply(pid, d.name)
	}
	if err := runLifecycleHooks(d.name, d.cfg.Lifecycle, process.PhasePostStart, d.installDir, d.cfg.Env); err != nil {
		slog.Warn("post_start hooks failed", "app", d.name, "proc", procName, "err", err)
	}
	return nil
}

func orMain(name string) string {
	if name == "" {
		return "main"
	}
	return name
}

// commandFor returns the base command to launch e with. Per-proc argument
// overrides (AddProcArg/ClearProcArgs) are appended to the built *exec.Cmd
// afterward in startProcEntry, not folded into this string, so that they
// never have to survive a shell-metacharacter re-parse.
func commandFor(e *procEntry) string {
	return e.execPath
}

func (d *Default) OwnsPID(pid int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.byPID[pid]
	return ok
}

// SigChild is invoked once per reaped pid by the Supervisor's reaper. It never
// itself calls wait4 — the reaper already owns reaping (spec.md §9: tagged
// continuation on the cooperative loop, not real signal-handler logic).
func (d *Default) SigChild(pid int, status int) FaultAction {
	d.mu.Lock()
	h, ok := d.byPID[pid]
	if !ok {
		d.mu.Unlock()
		return FaultIgnore
	}
	e := d.procs[h]
	delete(d.byPID, pid)
	e.state = StateStopped
	e.pid = 0
	proc := e.proc
	action := FaultIgnore
	if e.faultAction != nil {
		action = *e.faultAction
	} else {
		action = d.policy(orMain(e.name), status)
	}
	d.mu.Unlock()

	if proc != nil {
		proc.RemovePIDFile()
	}
	if d.labeler != nil {
		d.labeler.Forget(pid)
	}
	return action
}

// Watchdog is a minimal implementation: this app owns procID iff it names one
// of its configured procs; the action is always the configured default
// (RestartApp), since the distilled spec treats watchdog policy as external
// and per-app-specific, not reconstructible from the corpus.
func (d *Default) Watchdog(procID string) (WatchdogAction, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.byName[procID]; ok {
		return WatchdogRestartApp, true
	}
	if procID == "main" && d.mainProc != "" {
		return WatchdogRestartApp, true
	}
	return WatchdogIgnore, false
}

func (d *Default) ProcStateByName(procName string) (State, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.byName[procName]
	if !ok {
		if procName == "" || procName == "main" {
			if e, ok := d.procs[d.mainProc]; ok {
				return e.state, true
			}
		}
		return StateStopped, false
	}
	return d.procs[h].state, true
}

func (d *Default) createProcLocked(procName, execPath string) (ProcHandle, error) {
	d.nextSeq++
	h := ProcHandle(fmt.Sprintf("%s-proc-%d", d.name, d.nextSeq))
	e := &procEntry{
		handle:     h,
		name:       procName,
		execPath:   execPath,
		stdinPath:  "/dev/null",
		stdoutPath: d.defaultLogPath,
		stderrPath: d.defaultLogPath,
		state:      StateStopped,
	}
	d.procs[h] = e
	if procName != "" {
		d.byName[procName] = h
	}
	return h, nil
}

func (d *Default) CreateProc(procName, execPath string) (ProcHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if procName != "" {
		if _, exists := d.byName[procName]; exists {
			return "", errors.New("proc name already referenced")
		}
	}
	if execPath == "" {
		execPath = d.cfg.Command
	}
	return d.createProcLocked(procName, execPath)
}

func (d *Default) DeleteProc(h ProcHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.procs[h]
	if !ok {
		return
	}
	if e.pid != 0 {
		delete(d.byPID, e.pid)
	}
	if e.name != "" {
		delete(d.byName, e.name)
	}
	delete(d.procs, h)
}

func (d *Default) StartProc(h ProcHandle) error {
	d.mu.Lock()
	e, ok := d.procs[h]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown proc handle")
	}
	return d.startProcEntry(e)
}

func (d *Default) ProcState(h ProcHandle) State {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.procs[h]
	if !ok {
		return StateStopped
	}
	return e.state
}

func (d *Default) withProc(h ProcHandle, fn func(*procEntry) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.procs[h]
	if !ok {
		return fmt.Errorf("unknown proc handle")
	}
	return fn(e)
}

func (d *Default) SetProcStdIn(h ProcHandle, path string) error {
	return d.withProc(h, func(e *procEntry) error { e.stdinPath = path; return nil })
}

func (d *Default) SetProcStdOut(h ProcHandle, path string) error {
	return d.withProc(h, func(e *procEntry) error { e.stdoutPath = path; return nil })
}

func (d *Default) SetProcStdErr(h ProcHandle, path string) error {
	return d.withProc(h, func(e *procEntry) error { e.stderrPath = path; return nil })
}

func (d *Default) AddProcArg(h ProcHandle, arg string) error {
	return d.withProc(h, func(e *procEntry) error {
		if arg == "" {
			e.args = nil
			e.argsCleared = true
			return nil
		}
		e.args = append(e.args, arg)
		e.argsCleared = false
		return nil
	})
}

func (d *Default) ClearProcArgs(h ProcHandle) error {
	return d.withProc(h, func(e *procEntry) error {
		e.args = nil
		e.argsCleared = false
		return nil
	})
}

func (d *Default) SetProcPriority(h ProcHandle, p Priority) error {
	if !ValidPriority(string(p)) {
		return fmt.Errorf("invalid priority %q", p)
	}
	return d.withProc(h, func(e *procEntry) error { e.priority = p; return nil })
}

func (d *Default) ClearProcPriority(h ProcHandle) error {
	return d.withProc(h, func(e *procEntry) error { e.priority = ""; return nil })
}

func (d *Default) SetProcFaultAction(h ProcHandle, a FaultAction) error {
	return d.withProc(h, func(e *procEntry) error { fa := a; e.faultAction = &fa; return nil })
}

func (d *Default) ClearProcFaultAction(h ProcHandle) error {
	return d.withProc(h, func(e *procEntry) error { e.faultAction = nil; return nil })
}

var _ App = (*Default)(nil)

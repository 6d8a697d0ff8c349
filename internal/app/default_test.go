package app

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/loykin/appsupervisor/internal/config"
	"github.com/loykin/appsupervisor/internal/process"
	"github.com/loykin/appsupervisor/internal/security"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if os.Getenv("GOOS") == "windows" {
		t.Skip("unix-only test")
	}
}

func waitForState(t *testing.T, d *Default, want State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if d.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s, got %s", want, d.State())
}

func newTestDefault(name, command string) *Default {
	cfg := config.AppConfig{Command: command}
	labeler := security.NewMapLabeler("")
	return NewDefault(name, cfg, ".", labeler, DefaultFaultPolicy)
}

func TestDefaultStartReachesRunning(t *testing.T) {
	requireUnix(t)
	d := newTestDefault("sleepy", "sleep 5")

	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if d.State() != StateRunning {
		t.Fatalf("expected running immediately after successful Start, got %s", d.State())
	}

	d.Stop()
	waitForState(t, d, StateStopping, time.Second)
}

func TestDefaultSigChildTransitionsToStopped(t *testing.T) {
	requireUnix(t)
	d := newTestDefault("quick", "true")

	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	d.mu.Lock()
	e := d.procs[d.mainProc]
	pid := e.pid
	d.mu.Unlock()

	if !d.OwnsPID(pid) {
		t.Fatalf("expected app to own pid %d", pid)
	}

	action := d.SigChild(pid, 0)
	if action != FaultIgnore {
		t.Fatalf("expected FaultIgnore on clean exit, got %s", action)
	}
	if d.OwnsPID(pid) {
		t.Fatalf("expected pid to be forgotten after SigChild")
	}
	if got, ok := d.ProcStateByName("quick"); !ok || got != StateStopped {
		t.Fatalf("expected main proc stopped, got %s ok=%v", got, ok)
	}
}

func TestDefaultSigChildFaultRestartOnCrash(t *testing.T) {
	requireUnix(t)
	d := newTestDefault("crashy", "false")

	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	d.mu.Lock()
	pid := d.procs[d.mainProc].pid
	d.mu.Unlock()

	action := d.SigChild(pid, 1)
	if action != FaultRestartApp {
		t.Fatalf("expected FaultRestartApp on non-zero exit, got %s", action)
	}
}

func TestCreateProcRejectsDuplicateName(t *testing.T) {
	d := newTestDefault("svc", "true")

	if _, err := d.CreateProc("worker", "true"); err != nil {
		t.Fatalf("CreateProc: %v", err)
	}
	if _, err := d.CreateProc("worker", "true"); err == nil {
		t.Fatalf("expected error creating duplicate proc name")
	}
}

func TestProcSetterRoundTrip(t *testing.T) {
	d := newTestDefault("svc", "true")
	h, err := d.CreateProc("worker", "true")
	if err != nil {
		t.Fatalf("CreateProc: %v", err)
	}

	if err := d.SetProcStdOut(h, "/tmp/out.log"); err != nil {
		t.Fatalf("SetProcStdOut: %v", err)
	}
	if err := d.AddProcArg(h, "--flag"); err != nil {
		t.Fatalf("AddProcArg: %v", err)
	}
	if err := d.SetProcPriority(h, PriorityHigh); err != nil {
		t.Fatalf("SetProcPriority: %v", err)
	}
	if err := d.SetProcPriority(h, "bogus"); err == nil {
		t.Fatalf("expected error for invalid priority")
	}
	if err := d.SetProcFaultAction(h, FaultStopApp); err != nil {
		t.Fatalf("SetProcFaultAction: %v", err)
	}
	if err := d.ClearProcFaultAction(h); err != nil {
		t.Fatalf("ClearProcFaultAction: %v", err)
	}
	if err := d.ClearProcArgs(h); err != nil {
		t.Fatalf("ClearProcArgs: %v", err)
	}

	d.DeleteProc(h)
	if d.ProcState(h) != StateStopped {
		t.Fatalf("expected deleted handle to report stopped state")
	}
	if err := d.SetProcStdOut(h, "/tmp/out2.log"); err == nil {
		t.Fatalf("expected error operating on deleted handle")
	}
}

func TestLifecycleHooksRunAroundStartAndStop(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	startMark := dir + "/started"
	stopMark := dir + "/stopped"

	cfg := config.AppConfig{
		Command: "sleep 5",
		Lifecycle: process.LifecycleHooks{
			PostStart: []process.Hook{{Name: "touch-started", Command: "touch " + startMark}},
			PreStop:   []process.Hook{{Name: "touch-stopped", Command: "touch " + stopMark}},
		},
	}
	d := NewDefault("hooked", cfg, ".", security.NewMapLabeler(""), DefaultFaultPolicy)

	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := os.Stat(startMark); err != nil {
		t.Fatalf("expected post_start hook to have run: %v", err)
	}

	d.Stop()
	if _, err := os.Stat(stopMark); err != nil {
		t.Fatalf("expected pre_stop hook to have run: %v", err)
	}
}

func TestLifecycleHookFailureBlocksStart(t *testing.T) {
	requireUnix(t)
	cfg := config.AppConfig{
		Command: "sleep 5",
		Lifecycle: process.LifecycleHooks{
			PreStart: []process.Hook{{Name: "fail", Command: "exit 1", FailureMode: process.FailureModeFail}},
		},
	}
	d := NewDefault("blocked", cfg, ".", security.NewMapLabeler(""), DefaultFaultPolicy)

	if err := d.Start(); err == nil {
		t.Fatal("expected pre_start hook failure to block Start")
	}
	if d.State() != StateStopped {
		t.Fatalf("expected app to remain Stopped after blocked start, got %s", d.State())
	}
}

func TestStartProcEntryAppliesStoredOverrides(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	outLog := dir + "/out.log"
	pidFile := dir + "/svc.pid"

	cfg := config.AppConfig{Command: "sh -c 'echo \"$0\" \"$@\"'", PIDFile: pidFile}
	d := NewDefault("argsvc", cfg, ".", security.NewMapLabeler(""), DefaultFaultPolicy)

	if err := d.SetProcStdOut(d.mainProc, outLog); err != nil {
		t.Fatalf("SetProcStdOut: %v", err)
	}
	if err := d.AddProcArg(d.mainProc, "hello"); err != nil {
		t.Fatalf("AddProcArg: %v", err)
	}
	if err := d.SetProcPriority(d.mainProc, PriorityLow); err != nil {
		t.Fatalf("SetProcPriority: %v", err)
	}

	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitForState(t, d, StateRunning, time.Second)

	d.mu.Lock()
	e := d.procs[d.mainProc]
	pid := e.pid
	d.mu.Unlock()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(pidFile); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, err := os.Stat(pidFile); err != nil {
		t.Fatalf("expected pidfile to be written: %v", err)
	}
	if pid == 0 {
		t.Fatalf("expected non-zero pid after start")
	}

	action := d.SigChild(pid, 0)
	if action != FaultIgnore {
		t.Fatalf("expected FaultIgnore, got %s", action)
	}

	if _, err := os.Stat(pidFile); !os.IsNotExist(err) {
		t.Fatalf("expected pidfile removed after SigChild, stat err=%v", err)
	}

	b, err := os.ReadFile(outLog)
	if err != nil {
		t.Fatalf("read stdout log: %v", err)
	}
	if !strings.Contains(string(b), "hello") {
		t.Fatalf("expected stored arg to reach the launched command, got %q", string(b))
	}
}

func TestStartProcEntryRejectsSecondStartWhileRunning(t *testing.T) {
	requireUnix(t)
	d := newTestDefault("dup", "sleep 5")

	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForState(t, d, StateRunning, time.Second)

	if err := d.Start(); err == nil {
		t.Fatalf("expected second Start while running to fail")
	}
	d.Stop()
}

func TestValidPriority(t *testing.T) {
	cases := map[string]bool{
		"idle": true, "low": true, "medium": true, "high": true,
		"rt1": true, "rt32": true, "rt0": false, "rt33": false, "rtx": false, "": false,
	}
	for in, want := range cases {
		if got := ValidPriority(in); got != want {
			t.Errorf("ValidPriority(%q) = %v, want %v", in, got, want)
		}
	}
}

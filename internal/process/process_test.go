package process

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/loykin/appsupervisor/internal/logger"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh/sleep on Unix-like systems")
	}
}

func TestTryStartWritesPIDAndStatus(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	pidfile := filepath.Join(dir, "p1.pid")
	spec := Spec{Name: "p1", Command: "sleep 0.2", PIDFile: pidfile}
	r := New(spec)
	cmd := r.ConfigureCmd(nil)
	if err := r.TryStart(cmd); err != nil {
		t.Fatalf("TryStart: %v", err)
	}
	st := r.Snapshot()
	if !st.Running || st.PID <= 0 || st.Name != "p1" {
		t.Fatalf("status not set after start: %+v", st)
	}
	b, err := os.ReadFile(pidfile)
	if err != nil || len(strings.TrimSpace(string(b))) == 0 {
		t.Fatalf("pidfile not written: %v, content=%q", err, string(b))
	}
}

func TestConfigureCmdAppliesEnvWorkdirLogging(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	work := filepath.Join(dir, "work")
	_ = os.MkdirAll(work, 0o755)
	logs := filepath.Join(dir, "logs")

	spec := Spec{
		Name:    "cfg",
		Command: "sh -c 'echo out; echo err 1>&2; sleep 0.05'",
		WorkDir: work,
		Log:     logger.Config{Dir: logs},
	}
	r := New(spec)
	mergedEnv := []string{"FOO=bar"}
	cmd := r.ConfigureCmd(mergedEnv)

	if cmd.Dir != work {
		t.Fatalf("workdir not applied: got %q want %q", cmd.Dir, work)
	}
	if len(cmd.Env) != len(mergedEnv) || cmd.Env[0] != "FOO=bar" {
		t.Fatalf("env not applied: got %#v", cmd.Env)
	}
	if cmd.SysProcAttr == nil || !cmd.SysProcAttr.Setpgid {
		t.Fatalf("SysProcAttr Setpgid not set")
	}

	if err := r.TryStart(cmd); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !waitUntilProc(2*time.Second, 20*time.Millisecond, func() bool {
		alive, _ := r.DetectAlive()
		return !alive
	}) {
		t.Fatalf("process did not exit in time")
	}
	time.Sleep(50 * time.Millisecond)

	outPath := filepath.Join(logs, "cfg.stdout.log")
	errPath := filepath.Join(logs, "cfg.stderr.log")
	ob, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read stdout: %v", err)
	}
	eb, err := os.ReadFile(errPath)
	if err != nil {
		t.Fatalf("read stderr: %v", err)
	}
	if !strings.Contains(string(ob), "out") {
		t.Fatalf("stdout missing content: %q", string(ob))
	}
	if !strings.Contains(string(eb), "err") {
		t.Fatalf("stderr missing content: %q", string(eb))
	}
}

func TestCloseWritersAndRemovePIDFileAndDetectAlive(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	pidfile := filepath.Join(dir, "p.pid")
	r := New(Spec{Name: "alive", Command: "sleep 0.3", PIDFile: pidfile})
	cmd := r.ConfigureCmd(nil)
	if err := r.TryStart(cmd); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := os.Stat(pidfile); err != nil {
		t.Fatalf("pidfile missing after start: %v", err)
	}
	if ok, src := r.DetectAlive(); !ok || !strings.Contains(src, "exec:pid") {
		t.Fatalf("DetectAlive expected true,exec:pid got %v,%q", ok, src)
	}
	r.CloseWriters()

	_ = cmd.Process.Kill()
	_, _ = cmd.Process.Wait()

	r.RemovePIDFile()
	if _, err := os.Stat(pidfile); !os.IsNotExist(err) {
		t.Fatalf("pidfile should be removed, stat err=%v", err)
	}
	r.RemovePIDFile() // second time should be no-op

	if !waitUntilProc(time.Second, 10*time.Millisecond, func() bool {
		alive, _ := r.DetectAlive()
		return !alive
	}) {
		t.Fatalf("DetectAlive expected false after exit")
	}
}

func TestDetectorsIncludePIDFile(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	pidfile := filepath.Join(dir, "p.pid")
	r := New(Spec{Name: "d", Command: "sleep 0.2", PIDFile: pidfile})
	dets := r.detectors()
	if len(dets) == 0 {
		t.Fatalf("expected at least one detector")
	}
	found := false
	for _, d := range dets {
		if strings.HasPrefix(d.Describe(), "pidfile:") {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("expected pidfile detector present")
	}
}

// waitUntilProc polls fn until it returns true or timeout expires.
func waitUntilProc(timeout, step time.Duration, fn func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return true
		}
		time.Sleep(step)
	}
	return false
}

func TestProcessDetectAliveParallel(t *testing.T) {
	requireUnix(t)
	r := New(Spec{Name: "alive-par", Command: "sleep 0.3"})
	cmd := r.ConfigureCmd(nil)
	if err := r.TryStart(cmd); err != nil {
		t.Fatalf("start: %v", err)
	}
	done := make(chan struct{})
	for i := 0; i < 20; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for {
				alive, _ := r.DetectAlive()
				if !alive {
					return
				}
				time.Sleep(5 * time.Millisecond)
			}
		}()
	}
	_ = cmd.Wait()
	for i := 0; i < 20; i++ {
		select {
		case <-done:
		case <-time.After(1 * time.Second):
			t.Fatalf("goroutine %d did not finish", i)
		}
	}
}

// TestDetectAlive_FalsePositiveScenarios guards the specific liveness-probe
// regression this function was written to catch: a quickly-exiting child
// must never be reported alive just because its pid briefly lingers.
func TestDetectAlive_FalsePositiveScenarios(t *testing.T) {
	requireUnix(t)
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	spec := Spec{
		Name:    "test-api-server",
		Command: "sh -c 'while true; do echo api-server running; sleep 2; done'",
	}
	proc := New(spec)

	cmd := spec.BuildCommand()
	if err := proc.TryStart(cmd); err != nil {
		t.Fatalf("Failed to start test process: %v", err)
	}

	defer func() {
		if proc.cmd != nil && proc.cmd.Process != nil {
			_ = proc.cmd.Process.Kill()
		}
	}()

	time.Sleep(200 * time.Millisecond)

	alive, source := proc.DetectAlive()
	if !alive {
		t.Fatalf("Process should be alive, got alive=%v, source=%s", alive, source)
	}

	pid := proc.cmd.Process.Pid
	if err := proc.cmd.Process.Kill(); err != nil {
		t.Fatalf("Failed to kill process: %v", err)
	}
	_ = proc.cmd.Wait()

	if !waitUntilProc(2*time.Second, 100*time.Millisecond, func() bool {
		alive, _ = proc.DetectAlive()
		return !alive
	}) {
		t.Errorf("FALSE POSITIVE: PID %d is dead but DetectAlive kept returning alive=true, source=%s", pid, source)
	}
}

// BenchmarkDetectAlive benchmarks the performance of DetectAlive
func BenchmarkDetectAlive(b *testing.B) {
	spec := Spec{
		Name:    "benchmark-process",
		Command: "sleep 10",
	}

	proc := New(spec)

	cmd := spec.BuildCommand()
	if err := proc.TryStart(cmd); err != nil {
		b.Fatalf("Failed to start process: %v", err)
	}

	defer func() {
		if proc.cmd != nil && proc.cmd.Process != nil {
			_ = proc.cmd.Process.Kill()
		}
	}()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		proc.DetectAlive()
	}
}

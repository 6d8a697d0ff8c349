package process

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/appsupervisor/internal/detector"
)

func TestPIDFileWrittenOnStart(t *testing.T) {
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
	if st.PID <= 0 {
		t.Fatalf("invalid PID in snapshot: %v", st.PID)
	}
	ok := waitUntilProc(time.Second, 20*time.Millisecond, func() bool {
		pid, err := ReadPIDFile(pidfile)
		return err == nil && pid > 0
	})
	if !ok {
		t.Fatalf("pidfile not written in time")
	}
	pid, err := ReadPIDFile(pidfile)
	if err != nil {
		t.Fatalf("ReadPIDFile: %v", err)
	}
	if pid != st.PID {
		t.Fatalf("pid mismatch: got %d want %d", pid, st.PID)
	}
}

func TestReadPIDFileLegacyFormat(t *testing.T) {
	dir := t.TempDir()
	pidfile := filepath.Join(dir, "legacy.pid")
	if err := os.WriteFile(pidfile, []byte("12345\n"), 0o600); err != nil {
		t.Fatalf("write legacy: %v", err)
	}
	pid, err := ReadPIDFile(pidfile)
	if err != nil {
		t.Fatalf("ReadPIDFile legacy: %v", err)
	}
	if pid != 12345 {
		t.Fatalf("pid mismatch: got %d want 12345", pid)
	}
}

func TestWritePIDFile_DetectorValidates(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	pidfile := filepath.Join(dir, "p1.pid")
	spec := Spec{Name: "p1", Command: "sleep 1", PIDFile: pidfile}
	r := New(spec)
	cmd := r.ConfigureCmd(nil)
	if err := r.TryStart(cmd); err != nil {
		t.Fatalf("TryStart: %v", err)
	}
	ok := waitUntilProc(2*time.Second, 20*time.Millisecond, func() bool {
		_, err := os.Stat(pidfile)
		return err == nil
	})
	if !ok {
		t.Fatalf("pidfile not written in time")
	}

	d := detector.PIDFileDetector{PIDFile: pidfile}
	alive, derr := d.Alive()
	if derr != nil {
		t.Fatalf("detector alive err: %v", derr)
	}
	if !alive {
		t.Fatalf("expected detector to report alive")
	}
}

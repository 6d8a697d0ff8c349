//go:build unix

package supervisor

import (
	"os"
	"os/signal"
	"syscall"
)

// WatchSigChild starts the OS-level child-signal entry point spec.md §9
// requires: a signal.Notify goroutine that performs no reaping itself,
// translating each SIGCHLD into a request run on loop. The actual reap — a
// batch of non-blocking wait4 calls, one per exited child, each routed
// through sup.SigChild — happens inside that request, on the Loop goroutine,
// never in the signal handler's own context. Grounded on
// internal/process/util.go's tryReap, generalized from "reap this one known
// pid" to "drain every pid the kernel is holding for us," per SPEC_FULL.md's
// note that real SIGCHLD delivery coalesces multiple deaths into one signal.
// Returns a stop function that unregisters the signal and ends the listener
// goroutine.
func (s *Supervisor) WatchSigChild(loop *Loop) (stop func()) {
	ch := make(chan os.Signal, 8)
	signal.Notify(ch, syscall.SIGCHLD)
	quit := make(chan struct{})

	go func() {
		for {
			select {
			case <-ch:
				loop.Do(func() { s.drainExited() })
			case <-quit:
				return
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(quit)
	}
}

// drainExited performs a non-blocking wait4(-1, WNOHANG) loop, calling
// SigChild once per reaped pid, until no more children are immediately
// reapable. Must only be called from the Loop goroutine.
func (s *Supervisor) drainExited() {
	for {
		var ws syscall.WaitStatus
		pid, err := syscall.Wait4(-1, &ws, syscall.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return
		}
		s.SigChild(pid, ws.ExitStatus())
	}
}

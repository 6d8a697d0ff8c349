package supervisor

// Loop is the single cooperative-event-loop goroutine spec.md §5 requires:
// every Supervisor call funnels through Do, which runs it on Loop's own
// goroutine and blocks the caller until it has finished. Grounded on the
// teacher's internal/manager/handler.go ctrl-channel dispatch loop (one
// goroutine draining one channel of closures), generalized from "per-managed-
// process control messages" to "the whole Supervisor's state-changing
// surface." HTTP handlers (internal/server.Router.SetDispatch), the SIGCHLD
// listener (reaper_unix.go), and a watchdog ticker are this Loop's only
// callers.
type Loop struct {
	work chan func()
	done chan struct{}
}

// NewLoop builds a Loop with a modestly buffered work queue; Run must be
// started in its own goroutine before any caller blocks on Do.
func NewLoop() *Loop {
	return &Loop{work: make(chan func(), 64), done: make(chan struct{})}
}

// Run drains work until Stop is called. Intended to be the body of the one
// goroutine the embedder dedicates to owning Supervisor state.
func (l *Loop) Run() {
	for {
		select {
		case fn := <-l.work:
			fn()
		case <-l.done:
			for {
				select {
				case fn := <-l.work:
					fn()
				default:
					return
				}
			}
		}
	}
}

// Stop ends Run's loop once any in-flight Do calls have drained.
func (l *Loop) Stop() { close(l.done) }

// Do runs fn on the Loop goroutine and waits for it to finish. Safe to call
// from any goroutine, including concurrent HTTP handlers.
func (l *Loop) Do(fn func()) {
	reply := make(chan struct{})
	l.work <- func() {
		fn()
		close(reply)
	}
	<-reply
}

package supervisor

import (
	"github.com/loykin/appsupervisor/internal/app"
	"github.com/loykin/appsupervisor/internal/appproc"
	"github.com/loykin/appsupervisor/internal/history"
	"github.com/loykin/appsupervisor/internal/ipc"
	"github.com/loykin/appsupervisor/internal/metrics"
	"github.com/loykin/appsupervisor/internal/registry"
)

// RegisterSession hooks session's close callback to purge every AppProc
// record it owns (spec.md §4.3's session-close contract). Call once per
// opened session, typically right after ipc.Manager.Open. Session.Close may
// run on any transport goroutine; the embedder is responsible for marshaling
// the resulting PurgeSession call onto the Supervisor's single event-loop
// goroutine, the same way it marshals SIGCHLD and watchdog inputs.
func (s *Supervisor) RegisterSession(session *ipc.Session) {
	session.OnClose(func(id ipc.ID) {
		s.PurgeSession(id)
	})
}

// PurgeSession deletes every AppProc record owned by id, telling the app
// layer to delete the underlying proc for each one.
func (s *Supervisor) PurgeSession(id ipc.ID) {
	for _, rec := range s.appprocs.DeleteBySession(id) {
		if rec.Container != nil && rec.Container.Handle != nil {
			rec.Container.Handle.DeleteProc(rec.Proc)
		}
	}
}

// ProcCreate allocates a new AppProc reference. procName and execPath may
// each be empty individually but not both; session owns the resulting
// record and is killed on a duplicate proc_handle (Open Question (c)).
func (s *Supervisor) ProcCreate(session *ipc.Session, appName, procName, execPath string) (appproc.Ref, registry.Result) {
	if procName == "" && execPath == "" {
		return "", registry.BadParameter
	}
	if !registry.ValidateName(appName) {
		session.Kill("invalid app name")
		return "", registry.BadParameter
	}
	c, res := s.obtainOrCreate(appName)
	if res != registry.OK {
		return "", res
	}
	h, err := c.Handle.CreateProc(procName, execPath)
	if err != nil {
		return "", registry.Fault
	}
	if s.appprocs.HasProc(h) {
		// h already backs a live record (the app layer handed back the same
		// proc_handle for an already-known name). Kill the offending client
		// session but leave the proc alone — it may still be the one the
		// original, still-valid reference owns (Open Question (c)).
		session.Kill("duplicate proc reference")
		s.record(history.Event{Type: history.EventSessionKill, AppName: appName, Detail: "duplicate proc reference", Result: registry.Duplicate})
		return "", registry.Duplicate
	}
	rec := &appproc.Record{Proc: h, Container: c, Session: session.ID()}
	ref := s.appprocs.Insert(rec)
	metrics.SetAppProcRefs(s.appprocs.Len())
	return ref, registry.OK
}

func (s *Supervisor) lookupProc(ref appproc.Ref) (*appproc.Record, registry.Result) {
	rec, ok := s.appprocs.Get(ref)
	if !ok {
		return nil, registry.NotFound
	}
	return rec, registry.OK
}

func (s *Supervisor) ProcSetStdIn(ref appproc.Ref, path string) registry.Result {
	rec, res := s.lookupProc(ref)
	if res != registry.OK {
		return res
	}
	if err := rec.Container.Handle.SetProcStdIn(rec.Proc, path); err != nil {
		return registry.Fault
	}
	return registry.OK
}

func (s *Supervisor) ProcSetStdOut(ref appproc.Ref, path string) registry.Result {
	rec, res := s.lookupProc(ref)
	if res != registry.OK {
		return res
	}
	if err := rec.Container.Handle.SetProcStdOut(rec.Proc, path); err != nil {
		return registry.Fault
	}
	return registry.OK
}

func (s *Supervisor) ProcSetStdErr(ref appproc.Ref, path string) registry.Result {
	rec, res := s.lookupProc(ref)
	if res != registry.OK {
		return res
	}
	if err := rec.Container.Handle.SetProcStdErr(rec.Proc, path); err != nil {
		return registry.Fault
	}
	return registry.OK
}

// ProcAddArg appends arg to the proc's overridden argument list; an empty
// arg finalises an intentionally empty list (spec.md §4.3).
func (s *Supervisor) ProcAddArg(ref appproc.Ref, arg string) registry.Result {
	rec, res := s.lookupProc(ref)
	if res != registry.OK {
		return res
	}
	if err := rec.Container.Handle.AddProcArg(rec.Proc, arg); err != nil {
		return registry.Fault
	}
	return registry.OK
}

func (s *Supervisor) ProcClearArgs(ref appproc.Ref) registry.Result {
	rec, res := s.lookupProc(ref)
	if res != registry.OK {
		return res
	}
	if err := rec.Container.Handle.ClearProcArgs(rec.Proc); err != nil {
		return registry.Fault
	}
	return registry.OK
}

// ProcSetPriority validates priority against {idle, low, medium, high,
// rt1..rt32}; an invalid or out-of-range value kills the client session.
func (s *Supervisor) ProcSetPriority(session *ipc.Session, ref appproc.Ref, priority string) registry.Result {
	if !app.ValidPriority(priority) {
		session.Kill("invalid priority")
		s.record(history.Event{Type: history.EventSessionKill, Detail: "invalid priority", Result: registry.BadParameter})
		return registry.BadParameter
	}
	rec, res := s.lookupProc(ref)
	if res != registry.OK {
		return res
	}
	if err := rec.Container.Handle.SetProcPriority(rec.Proc, app.Priority(priority)); err != nil {
		return registry.Fault
	}
	return registry.OK
}

func (s *Supervisor) ProcClearPriority(ref appproc.Ref) registry.Result {
	rec, res := s.lookupProc(ref)
	if res != registry.OK {
		return res
	}
	if err := rec.Container.Handle.ClearProcPriority(rec.Proc); err != nil {
		return registry.Fault
	}
	return registry.OK
}

func (s *Supervisor) ProcSetFaultAction(ref appproc.Ref, action app.FaultAction) registry.Result {
	rec, res := s.lookupProc(ref)
	if res != registry.OK {
		return res
	}
	if err := rec.Container.Handle.SetProcFaultAction(rec.Proc, action); err != nil {
		return registry.Fault
	}
	return registry.OK
}

func (s *Supervisor) ProcClearFaultAction(ref appproc.Ref) registry.Result {
	rec, res := s.lookupProc(ref)
	if res != registry.OK {
		return res
	}
	if err := rec.Container.Handle.ClearProcFaultAction(rec.Proc); err != nil {
		return registry.Fault
	}
	return registry.OK
}

// ProcAddStopHandler installs fn as ref's stop handler; at most one per proc,
// and the handler reference is the proc reference itself (spec.md §4.3).
func (s *Supervisor) ProcAddStopHandler(ref appproc.Ref, fn func()) registry.Result {
	rec, res := s.lookupProc(ref)
	if res != registry.OK {
		return res
	}
	rec.StopHandler = fn
	return registry.OK
}

func (s *Supervisor) ProcRemoveStopHandler(ref appproc.Ref) registry.Result {
	rec, res := s.lookupProc(ref)
	if res != registry.OK {
		return res
	}
	rec.StopHandler = nil
	return registry.OK
}

// ProcStart starts the owning app first if it isn't Running, then starts the
// proc itself. Setters applied after Start have no effect on the running
// instance (spec.md §5's ordering guarantee).
func (s *Supervisor) ProcStart(ref appproc.Ref) registry.Result {
	rec, res := s.lookupProc(ref)
	if res != registry.OK {
		return res
	}
	if rec.Container.Handle.State() != app.StateRunning {
		if r := s.LaunchApp(rec.Container.Name); r != registry.OK && r != registry.Duplicate {
			return r
		}
	}
	if err := rec.Container.Handle.StartProc(rec.Proc); err != nil {
		return registry.Fault
	}
	return registry.OK
}

// ProcDelete drops ref's record and deletes the underlying proc.
func (s *Supervisor) ProcDelete(ref appproc.Ref) registry.Result {
	rec, res := s.lookupProc(ref)
	if res != registry.OK {
		return res
	}
	rec.Container.Handle.DeleteProc(rec.Proc)
	s.appprocs.Delete(ref)
	metrics.SetAppProcRefs(s.appprocs.Len())
	return registry.OK
}

// Package server exposes the Supervisor core's operations as JSON-over-HTTP,
// the IPC transport of SPEC_FULL.md §14. Grounded on the teacher's
// internal/server/router.go: same gin.New()+gin.Recovery()+route-group shape,
// NewServer's background-listen-and-catch-immediate-error pattern, re-pointed
// from provisr's process-manager REST surface onto the app/proc/watchdog/
// installer/session surface this core exposes.
package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/appsupervisor/internal/app"
	"github.com/loykin/appsupervisor/internal/appproc"
	"github.com/loykin/appsupervisor/internal/ipc"
	"github.com/loykin/appsupervisor/internal/metrics"
	"github.com/loykin/appsupervisor/internal/registry"
	"github.com/loykin/appsupervisor/internal/supervisor"
)

const sessionHeader = "X-Session-Id"

// Router adapts a *supervisor.Supervisor onto an http.Handler. Every call
// into sup is funneled through dispatch, which is responsible for marshaling
// it onto the Supervisor's single cooperative-event-loop thread (spec.md §5)
// — the same obligation RegisterSession's doc comment places on SIGCHLD and
// watchdog inputs. Tests and simple single-goroutine embeddings can leave the
// default in place, which calls straight through.
type Router struct {
	sup      *supervisor.Supervisor
	sessions *ipc.Manager
	basePath string
	dispatch func(func())
}

// NewRouter constructs a Router with configurable basePath, e.g. "/api"
// yields /api/apps/:name, /api/procs/:ref, and so on. Call SetDispatch
// afterward to route Supervisor access through a single serialized worker.
func NewRouter(sup *supervisor.Supervisor, sessions *ipc.Manager, basePath string) *Router {
	return &Router{
		sup:      sup,
		sessions: sessions,
		basePath: sanitizeBase(basePath),
		dispatch: func(fn func()) { fn() },
	}
}

// SetDispatch installs fn as the single point through which every Supervisor
// call is run; a typical production fn sends the closure to the dedicated
// event-loop goroutine and blocks until it has executed.
func (r *Router) SetDispatch(fn func(func())) { r.dispatch = fn }

func (r *Router) run(fn func()) { r.dispatch(fn) }

// Handler returns an http.Handler powered by gin that can be mounted in any
// server/mux, or served standalone via NewServer.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	g.GET("/metrics", gin.WrapH(metrics.Handler()))

	group := g.Group(r.basePath)
	group.POST("/apps/:name/start", r.handleStart)
	group.POST("/apps/:name/stop", r.handleStop)
	group.GET("/apps/:name", r.handleGetState)
	group.GET("/apps/:name/procs/:proc", r.handleGetProcState)
	group.GET("/apps/:name/hash", r.handleGetHash)
	group.GET("/apps/by-pid/:pid", r.handleGetName)

	group.POST("/apps/:name/procs", r.handleProcCreate)
	group.POST("/procs/:ref/stdin", r.handleProcSetStdIn)
	group.POST("/procs/:ref/stdout", r.handleProcSetStdOut)
	group.POST("/procs/:ref/stderr", r.handleProcSetStdErr)
	group.POST("/procs/:ref/args", r.handleProcAddArg)
	group.DELETE("/procs/:ref/args", r.handleProcClearArgs)
	group.POST("/procs/:ref/priority", r.handleProcSetPriority)
	group.DELETE("/procs/:ref/priority", r.handleProcClearPriority)
	group.POST("/procs/:ref/fault-action", r.handleProcSetFaultAction)
	group.DELETE("/procs/:ref/fault-action", r.handleProcClearFaultAction)
	group.POST("/procs/:ref/start", r.handleProcStart)
	group.DELETE("/procs/:ref", r.handleProcDelete)

	group.POST("/watchdog/:userId/:procId", r.handleWatchdog)

	group.POST("/installer/install", r.handleInstall)
	group.POST("/installer/uninstall", r.handleUninstall)

	group.POST("/sessions", r.handleOpenSession)
	group.DELETE("/sessions/:id", r.handleCloseSession)

	return g
}

// NewServer starts a standalone HTTP server on addr using r, returning once
// it has either failed immediately or survived its startup grace period —
// the same pattern the teacher's internal/server.NewServer uses. dispatch may
// be nil, in which case Supervisor calls run directly on whichever goroutine
// gin hands the request to (only safe for single-threaded embeddings).
func NewServer(addr, basePath string, sup *supervisor.Supervisor, sessions *ipc.Manager, dispatch func(func())) (*http.Server, error) {
	r := NewRouter(sup, sessions, basePath)
	if dispatch != nil {
		r.SetDispatch(dispatch)
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return nil, err
		}
	case <-time.After(100 * time.Millisecond):
	}
	return srv, nil
}

// --- app lifecycle handlers ---

func (r *Router) handleStart(c *gin.Context) {
	var res registry.Result
	r.run(func() { res = r.sup.LaunchApp(c.Param("name")) })
	writeResult(c, res)
}

func (r *Router) handleStop(c *gin.Context) {
	cmdRef := c.GetHeader("X-Request-Id")
	var res registry.Result
	r.run(func() { res = r.sup.StopApp(cmdRef, c.Param("name")) })
	writeResult(c, res)
}

func (r *Router) handleGetState(c *gin.Context) {
	var st app.State
	r.run(func() { st = r.sup.GetState(c.Param("name")) })
	writeJSON(c, 200, map[string]string{"state": st.String()})
}

func (r *Router) handleGetProcState(c *gin.Context) {
	var st app.State
	var res registry.Result
	r.run(func() { st, res = r.sup.GetProcState(c.Param("name"), c.Param("proc")) })
	if res != registry.OK {
		writeResult(c, res)
		return
	}
	writeJSON(c, 200, map[string]string{"state": st.String()})
}

func (r *Router) handleGetHash(c *gin.Context) {
	var hash string
	var res registry.Result
	r.run(func() { hash, res = r.sup.GetHash(c.Param("name")) })
	if res != registry.OK {
		writeResult(c, res)
		return
	}
	writeJSON(c, 200, map[string]string{"hash": hash})
}

func (r *Router) handleGetName(c *gin.Context) {
	pid, ok := parsePID(c.Param("pid"))
	if !ok {
		writeJSON(c, 400, errorResp{Error: "invalid pid"})
		return
	}
	var name string
	var res registry.Result
	r.run(func() { name, res = r.sup.GetName(pid) })
	if res != registry.OK {
		writeResult(c, res)
		return
	}
	writeJSON(c, 200, map[string]string{"name": name})
}

// --- installer handlers ---

func (r *Router) handleInstall(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, 400, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	var res registry.Result
	r.run(func() { res = r.sup.InstallApp(req.Name) })
	writeResult(c, res)
}

func (r *Router) handleUninstall(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, 400, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	var res registry.Result
	r.run(func() { res = r.sup.UninstallApp(req.Name) })
	writeResult(c, res)
}

// --- watchdog handler ---

func (r *Router) handleWatchdog(c *gin.Context) {
	r.run(func() { r.sup.WatchdogTimedOut(c.Param("userId"), c.Param("procId")) })
	writeJSON(c, 200, okResp{OK: true})
}

// --- session lifecycle ---

func (r *Router) handleOpenSession(c *gin.Context) {
	session := r.sessions.Open()
	r.run(func() { r.sup.RegisterSession(session) })
	writeJSON(c, 200, map[string]string{"id": string(session.ID())})
}

func (r *Router) handleCloseSession(c *gin.Context) {
	if !r.sessions.Close(ipc.ID(c.Param("id"))) {
		writeJSON(c, 404, errorResp{Error: "unknown session"})
		return
	}
	writeJSON(c, 200, okResp{OK: true})
}

// --- AppProc broker handlers ---

func (r *Router) sessionFromHeader(c *gin.Context) (*ipc.Session, bool) {
	id := ipc.ID(c.GetHeader(sessionHeader))
	if id == "" {
		return nil, false
	}
	return r.sessions.Get(id)
}

func (r *Router) handleProcCreate(c *gin.Context) {
	session, ok := r.sessionFromHeader(c)
	if !ok {
		writeJSON(c, 400, errorResp{Error: "missing or unknown " + sessionHeader})
		return
	}
	var req struct {
		ProcName string `json:"proc_name"`
		ExecPath string `json:"exec_path"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, 400, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	var ref appproc.Ref
	var res registry.Result
	r.run(func() { ref, res = r.sup.ProcCreate(session, c.Param("name"), req.ProcName, req.ExecPath) })
	if res != registry.OK {
		writeResult(c, res)
		return
	}
	writeJSON(c, 200, map[string]string{"ref": string(ref)})
}

func (r *Router) bindPath(c *gin.Context) (string, bool) {
	var req struct {
		Path string `json:"path"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, 400, errorResp{Error: "invalid JSON: " + err.Error()})
		return "", false
	}
	return req.Path, true
}

func (r *Router) handleProcSetStdIn(c *gin.Context) {
	if path, ok := r.bindPath(c); ok {
		var res registry.Result
		r.run(func() { res = r.sup.ProcSetStdIn(appproc.Ref(c.Param("ref")), path) })
		writeResult(c, res)
	}
}

func (r *Router) handleProcSetStdOut(c *gin.Context) {
	if path, ok := r.bindPath(c); ok {
		var res registry.Result
		r.run(func() { res = r.sup.ProcSetStdOut(appproc.Ref(c.Param("ref")), path) })
		writeResult(c, res)
	}
}

func (r *Router) handleProcSetStdErr(c *gin.Context) {
	if path, ok := r.bindPath(c); ok {
		var res registry.Result
		r.run(func() { res = r.sup.ProcSetStdErr(appproc.Ref(c.Param("ref")), path) })
		writeResult(c, res)
	}
}

func (r *Router) handleProcAddArg(c *gin.Context) {
	var req struct {
		Arg string `json:"arg"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, 400, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	var res registry.Result
	r.run(func() { res = r.sup.ProcAddArg(appproc.Ref(c.Param("ref")), req.Arg) })
	writeResult(c, res)
}

func (r *Router) handleProcClearArgs(c *gin.Context) {
	var res registry.Result
	r.run(func() { res = r.sup.ProcClearArgs(appproc.Ref(c.Param("ref"))) })
	writeResult(c, res)
}

func (r *Router) handleProcSetPriority(c *gin.Context) {
	session, ok := r.sessionFromHeader(c)
	if !ok {
		writeJSON(c, 400, errorResp{Error: "missing or unknown " + sessionHeader})
		return
	}
	var req struct {
		Priority string `json:"priority"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, 400, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	var res registry.Result
	r.run(func() { res = r.sup.ProcSetPriority(session, appproc.Ref(c.Param("ref")), req.Priority) })
	writeResult(c, res)
}

func (r *Router) handleProcClearPriority(c *gin.Context) {
	var res registry.Result
	r.run(func() { res = r.sup.ProcClearPriority(appproc.Ref(c.Param("ref"))) })
	writeResult(c, res)
}

func (r *Router) handleProcSetFaultAction(c *gin.Context) {
	var req struct {
		Action string `json:"action"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, 400, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	action := app.FaultAction(faultActionFromString(req.Action))
	var res registry.Result
	r.run(func() { res = r.sup.ProcSetFaultAction(appproc.Ref(c.Param("ref")), action) })
	writeResult(c, res)
}

func (r *Router) handleProcClearFaultAction(c *gin.Context) {
	var res registry.Result
	r.run(func() { res = r.sup.ProcClearFaultAction(appproc.Ref(c.Param("ref"))) })
	writeResult(c, res)
}

func (r *Router) handleProcStart(c *gin.Context) {
	var res registry.Result
	r.run(func() { res = r.sup.ProcStart(appproc.Ref(c.Param("ref"))) })
	writeResult(c, res)
}

func (r *Router) handleProcDelete(c *gin.Context) {
	var res registry.Result
	r.run(func() { res = r.sup.ProcDelete(appproc.Ref(c.Param("ref"))) })
	writeResult(c, res)
}

func faultActionFromString(s string) int {
	switch s {
	case "Ignore":
		return 0
	case "RestartProc":
		return 1
	case "RestartApp":
		return 2
	case "StopApp":
		return 3
	case "Reboot":
		return 4
	default:
		return 0
	}
}

// Package appsupervisor is a thin embedding facade over internal/supervisor,
// the way the teacher's root-level provisr.go is a thin facade over
// internal/manager: a stable public API wrapping internals an embedder
// shouldn't have to reach into directly. cmd/appsupervisord is the
// standalone-daemon embedding of this same core; this file is for embedding
// the Application Supervisor inside a larger Go program instead.
package appsupervisor

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/appsupervisor/internal/app"
	"github.com/loykin/appsupervisor/internal/config"
	"github.com/loykin/appsupervisor/internal/history"
	"github.com/loykin/appsupervisor/internal/history/sqlite"
	"github.com/loykin/appsupervisor/internal/ipc"
	"github.com/loykin/appsupervisor/internal/metrics"
	"github.com/loykin/appsupervisor/internal/registry"
	"github.com/loykin/appsupervisor/internal/security"
	"github.com/loykin/appsupervisor/internal/server"
	"github.com/loykin/appsupervisor/internal/supervisor"
)

// Re-exported types so embedders depend only on this package.
type (
	Store         = config.Store
	StaticStore   = config.StaticStore
	ViperStore    = config.ViperStore
	AppConfig     = config.AppConfig
	Result        = registry.Result
	State         = app.State
	HistorySink   = history.Sink
	HistoryConfig = config.HistoryConfig
)

const (
	OK          = registry.OK
	Fault       = registry.Fault
	NotFound    = registry.NotFound
	Overflow    = registry.Overflow
	BadParam    = registry.BadParameter
	DuplicateID = registry.Duplicate
)

// Supervisor is the embeddable Application Supervisor: the core plus the
// single event-loop goroutine (spec.md §5) and the SIGCHLD listener it needs
// to operate safely, bundled together so an embedder gets a running system
// from one constructor call instead of wiring internal/supervisor.Loop by
// hand the way cmd/appsupervisord does explicitly.
type Supervisor struct {
	inner        *supervisor.Supervisor
	loop         *supervisor.Loop
	sessions     *ipc.Manager
	stopSigChild func()
}

// New builds a Supervisor over store, starts its event-loop goroutine, and
// begins listening for SIGCHLD. labeler may be shared with a caller-owned
// process launcher; pass nil to use a fresh security.MapLabeler. Callers
// must eventually call Close.
func New(store config.Store, labeler security.Labeler, log *slog.Logger) *Supervisor {
	if labeler == nil {
		labeler = security.NewMapLabeler("")
	}
	sessions := ipc.NewManager()
	installDir := store.InstallDir()
	mapLabeler, _ := labeler.(*security.MapLabeler)
	if mapLabeler == nil {
		mapLabeler = security.NewMapLabeler("")
	}
	factory := func(name string, cfg config.AppConfig) app.App {
		return app.NewDefault(name, cfg, installDir, mapLabeler, app.DefaultFaultPolicy)
	}

	inner := supervisor.New(store, labeler, sessions, factory, log)
	loop := supervisor.NewLoop()
	go loop.Run()
	stop := inner.WatchSigChild(loop)

	return &Supervisor{inner: inner, loop: loop, sessions: sessions, stopSigChild: stop}
}

// Do runs fn on the Supervisor's single event-loop goroutine and waits for
// it to complete, as spec.md §5 requires for any Registry/AppProc mutation.
func (s *Supervisor) Do(fn func()) { s.loop.Do(fn) }

func (s *Supervisor) LaunchApp(name string) (res Result) {
	s.Do(func() { res = s.inner.LaunchApp(name) })
	return
}

func (s *Supervisor) StopApp(cmdRef any, name string) (res Result) {
	s.Do(func() { res = s.inner.StopApp(cmdRef, name) })
	return
}

func (s *Supervisor) GetState(name string) (st State) {
	s.Do(func() { st = s.inner.GetState(name) })
	return
}

func (s *Supervisor) GetProcState(appName, procName string) (st State, res Result) {
	s.Do(func() { st, res = s.inner.GetProcState(appName, procName) })
	return
}

func (s *Supervisor) GetName(pid int) (name string, res Result) {
	s.Do(func() { name, res = s.inner.GetName(pid) })
	return
}

func (s *Supervisor) GetHash(appName string) (hash string, res Result) {
	s.Do(func() { hash, res = s.inner.GetHash(appName) })
	return
}

func (s *Supervisor) InstallApp(name string) (res Result) {
	s.Do(func() { res = s.inner.InstallApp(name) })
	return
}

func (s *Supervisor) UninstallApp(name string) (res Result) {
	s.Do(func() { res = s.inner.UninstallApp(name) })
	return
}

// AutoStart launches every app the store marks for automatic startup
// (spec.md §4.1), deferring manual-start apps until LaunchApp is called.
func (s *Supervisor) AutoStart() { s.Do(func() { s.inner.AutoStart() }) }

// Shutdown begins the ordered, single-terminal-callback shutdown sequence
// (spec.md §4.4). OnAllStopped's callback fires once every app has reached
// Stopped.
func (s *Supervisor) Shutdown() { s.Do(func() { s.inner.Shutdown() }) }

func (s *Supervisor) OnAllStopped(fn func())               { s.inner.OnAllStopped(fn) }
func (s *Supervisor) OnFatalFault(fn func(appName string)) { s.inner.OnFatalFault(fn) }
func (s *Supervisor) OnStopReply(fn func(cmdRef any, result registry.Result)) {
	s.inner.OnStopReply(fn)
}

// SetHistorySink attaches an audit sink; see history.Sink.
func (s *Supervisor) SetHistorySink(sink HistorySink) { s.inner.SetHistorySink(sink) }

// NewSQLiteHistorySink opens a sqlite-backed audit sink at dsn, e.g.
// "file:/var/lib/appsupervisor/history.db".
func NewSQLiteHistorySink(dsn string) (HistorySink, error) { return sqlite.New(dsn) }

// Close stops the SIGCHLD listener and the event-loop goroutine. Safe to
// call once, after Shutdown has completed.
func (s *Supervisor) Close() {
	s.stopSigChild()
	s.loop.Stop()
}

// NewHTTPServer starts an HTTP server exposing the IPC control surface
// (SPEC_FULL.md §14) over this Supervisor, with every handler's Supervisor
// access funneled through the same event-loop goroutine New started.
func NewHTTPServer(addr, basePath string, s *Supervisor) (*http.Server, error) {
	return server.NewServer(addr, basePath, s.inner, s.sessions, s.loop.Do)
}

// RegisterMetrics registers the Supervisor's Prometheus collectors against r.
func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

// RegisterMetricsDefault registers against prometheus.DefaultRegisterer.
func RegisterMetricsDefault() error { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts a standalone /metrics HTTP server on addr, blocking
// until it fails. For embedders that want metrics on a separate listener
// from the control surface.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}

// LoadConfig reads an installed-apps tree from a YAML/TOML/JSON file.
func LoadConfig(path string) (*ViperStore, error) { return config.Load(path) }

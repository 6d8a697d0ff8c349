// Command appsupervisord is the standalone daemon embedding of the
// Application Supervisor core: it loads an installed-apps configuration
// tree, owns the single event-loop goroutine spec.md §5 requires, and
// exposes the HTTP control surface over it. Grounded on the teacher's
// cmd/provisr, trading its per-invocation "start one spec, print its status,
// exit" cobra commands for a single long-running "run" command, since this
// core manages a persistent installed-apps tree rather than ad hoc process
// specs handed in on each CLI call.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/loykin/appsupervisor/internal/app"
	"github.com/loykin/appsupervisor/internal/config"
	"github.com/loykin/appsupervisor/internal/history/sqlite"
	"github.com/loykin/appsupervisor/internal/ipc"
	"github.com/loykin/appsupervisor/internal/logger"
	"github.com/loykin/appsupervisor/internal/metrics"
	"github.com/loykin/appsupervisor/internal/security"
	"github.com/loykin/appsupervisor/internal/server"
	"github.com/loykin/appsupervisor/internal/supervisor"
)

func main() {
	flags := &RunFlags{}

	root := &cobra.Command{
		Use:   "appsupervisord",
		Short: "Application Supervisor core daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(flags)
		},
	}
	root.Flags().StringVar(&flags.ConfigPath, "config", "", "path to the installed-apps configuration file (YAML/TOML/JSON)")
	root.Flags().StringVar(&flags.InstallDir, "install-dir", "", "override the config's install_dir")
	root.Flags().BoolVar(&flags.Daemonize, "daemonize", false, "detach into the background after startup")
	root.Flags().StringVar(&flags.PIDFile, "pidfile", "", "write the daemon PID to this file")
	root.Flags().StringVar(&flags.LogFile, "logfile", "", "redirect a daemonized process's stdout/stderr here")
	root.Flags().StringVar(&flags.MetricsListen, "metrics-listen", "", "address for a standalone Prometheus /metrics listener (overrides config)")
	root.Flags().StringVar(&flags.ListenAddr, "listen", ":8080", "address for the control-surface HTTP server (overrides config)")
	root.Flags().StringVar(&flags.BasePath, "base-path", "", "URL path prefix for the control surface (overrides config)")
	root.Flags().StringVar(&flags.HistoryDSN, "history-dsn", "", "audit sink DSN, e.g. sqlite:///var/lib/appsupervisor/history.db (overrides config)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDaemon(flags *RunFlags) error {
	if flags.Daemonize {
		if err := daemonize(flags.PIDFile, flags.LogFile); err != nil {
			return err
		}
	} else if flags.PIDFile != "" {
		if err := writePidFile(flags.PIDFile, os.Getpid()); err != nil {
			return err
		}
	}
	defer func() { _ = removePidFile(flags.PIDFile) }()

	if flags.ConfigPath == "" {
		return fmt.Errorf("--config is required")
	}
	store, err := config.Load(flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logCfg := logger.Config{}
	if store.Log != nil {
		logCfg = logger.Config{
			Dir:        store.Log.Dir,
			MaxSizeMB:  store.Log.MaxSizeMB,
			MaxBackups: store.Log.MaxBackups,
			MaxAgeDays: store.Log.MaxAgeDays,
			Compress:   store.Log.Compress,
		}
	}
	log := logger.NewDaemon(logCfg, "appsupervisord")

	installDir := flags.InstallDir
	if installDir == "" {
		installDir = store.InstallDir()
	}

	labeler := security.NewMapLabeler("")
	sessions := ipc.NewManager()
	factory := func(name string, appCfg config.AppConfig) app.App {
		return app.NewDefault(name, appCfg, installDir, labeler, app.DefaultFaultPolicy)
	}

	sup := supervisor.New(store, labeler, sessions, factory, log)

	historyDSN := flags.HistoryDSN
	if historyDSN == "" && store.History != nil && store.History.Enabled {
		historyDSN = store.History.DSN
	}
	if historyDSN != "" {
		sink, err := sqlite.New(historyDSN)
		if err != nil {
			return fmt.Errorf("opening history sink: %w", err)
		}
		defer func() { _ = sink.Close() }()
		sup.SetHistorySink(sink)
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	stopped := make(chan struct{})
	sup.OnAllStopped(func() { close(stopped) })
	sup.OnFatalFault(func(appName string) {
		log.Error("fatal fault escalated to system reboot", "app", appName)
	})

	loop := supervisor.NewLoop()
	go loop.Run()
	defer loop.Stop()

	stopSigChild := sup.WatchSigChild(loop)
	defer stopSigChild()

	loop.Do(func() { sup.AutoStart() })

	addr := flags.ListenAddr
	basePath := flags.BasePath
	if store.Server != nil {
		if flags.ListenAddr == ":8080" && store.Server.Listen != "" {
			addr = store.Server.Listen
		}
		if basePath == "" {
			basePath = store.Server.BasePath
		}
	}

	srv, err := server.NewServer(addr, basePath, sup, sessions, loop.Do)
	if err != nil {
		return fmt.Errorf("starting control server: %w", err)
	}
	log.Info("appsupervisord listening", "addr", addr, "base_path", basePath)

	metricsListen := flags.MetricsListen
	if metricsListen == "" && store.Metrics != nil && store.Metrics.Enabled {
		metricsListen = store.Metrics.Listen
	}
	var metricsSrv *http.Server
	if metricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv = &http.Server{
			Addr:              metricsListen,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server failed", "err", err)
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutdown requested")

	loop.Do(func() { sup.Shutdown() })
	select {
	case <-stopped:
	case <-time.After(30 * time.Second):
		log.Warn("shutdown timed out waiting for apps to stop")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(ctx)
	}
	return nil
}

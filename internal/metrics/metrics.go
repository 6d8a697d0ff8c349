package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	appStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "appsup",
			Subsystem: "app",
			Name:      "starts_total",
			Help:      "Number of successful LaunchApp calls.",
		}, []string{"app"},
	)
	appStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "appsup",
			Subsystem: "app",
			Name:      "stops_total",
			Help:      "Number of app deactivations (an active app observed Stopped and moved to the inactive list).",
		}, []string{"app"},
	)
	appRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "appsup",
			Subsystem: "app",
			Name:      "restarts_total",
			Help:      "Number of Restart stop-handler firings (fault- or watchdog-driven).",
		}, []string{"app", "reason"},
	)
	faultActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "appsup",
			Subsystem: "fault",
			Name:      "actions_total",
			Help:      "FaultAction decisions applied by the child-exit dispatcher.",
		}, []string{"action"},
	)
	watchdogActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "appsup",
			Subsystem: "watchdog",
			Name:      "actions_total",
			Help:      "WatchdogAction decisions applied by the watchdog dispatcher.",
		}, []string{"action"},
	)
	activeApps = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "appsup",
			Subsystem: "registry",
			Name:      "active_apps",
			Help:      "Current size of the active app list.",
		}, []string{},
	)
	appProcRefs = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "appsup",
			Subsystem: "appproc",
			Name:      "refs",
			Help:      "Current number of live AppProc references.",
		}, []string{},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "appsup",
			Subsystem: "app",
			Name:      "state_transitions_total",
			Help:      "Number of app state transitions.",
		}, []string{"app", "from", "to"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{appStarts, appStops, appRestarts, faultActions, watchdogActions, activeApps, appProcRefs, stateTransitions}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

func IncAppStart(app string) {
	if regOK.Load() {
		appStarts.WithLabelValues(app).Inc()
	}
}

func IncAppStop(app string) {
	if regOK.Load() {
		appStops.WithLabelValues(app).Inc()
	}
}

func IncAppRestart(app, reason string) {
	if regOK.Load() {
		appRestarts.WithLabelValues(app, reason).Inc()
	}
}

func IncFaultAction(action string) {
	if regOK.Load() {
		faultActions.WithLabelValues(action).Inc()
	}
}

func IncWatchdogAction(action string) {
	if regOK.Load() {
		watchdogActions.WithLabelValues(action).Inc()
	}
}

func SetActiveApps(n int) {
	if regOK.Load() {
		activeApps.WithLabelValues().Set(float64(n))
	}
}

func SetAppProcRefs(n int) {
	if regOK.Load() {
		appProcRefs.WithLabelValues().Set(float64(n))
	}
}

func RecordStateTransition(app, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(app, from, to).Inc()
	}
}

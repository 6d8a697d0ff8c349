package main

// RunFlags decouples cobra's flag parsing from the daemon's startup logic,
// the same split the teacher keeps between its cobra handlers and its
// StartFlags/StopFlags/... structs.
type RunFlags struct {
	ConfigPath    string
	InstallDir    string
	Daemonize     bool
	PIDFile       string
	LogFile       string
	MetricsListen string
	ListenAddr    string
	BasePath      string
	HistoryDSN    string
}

package client

// AppState mirrors app.State's wire encoding.
type AppState struct {
	State string `json:"state"`
}

// ProcStateResponse mirrors app.State's wire encoding for a single proc.
type ProcStateResponse struct {
	State string `json:"state"`
}

// HashResponse carries an app's configuration hash (SPEC_FULL.md §10).
type HashResponse struct {
	Hash string `json:"hash"`
}

// NameResponse carries the app name owning a PID.
type NameResponse struct {
	Name string `json:"name"`
}

// SessionResponse carries a newly opened IPC session's id.
type SessionResponse struct {
	ID string `json:"id"`
}

// ProcRefResponse carries a newly allocated AppProc reference.
type ProcRefResponse struct {
	Ref string `json:"ref"`
}

// ProcCreateRequest allocates a proc inside an app; ProcName and ExecPath may
// each be empty individually but not both (spec.md §4.3).
type ProcCreateRequest struct {
	ProcName string `json:"proc_name,omitempty"`
	ExecPath string `json:"exec_path,omitempty"`
}

// PathRequest carries a path argument for the stdin/stdout/stderr setters.
type PathRequest struct {
	Path string `json:"path"`
}

// ArgRequest carries one argument for AddProcArg.
type ArgRequest struct {
	Arg string `json:"arg"`
}

// PriorityRequest carries a priority token: idle, low, medium, high, or
// rt1..rt32 (app.ValidPriority).
type PriorityRequest struct {
	Priority string `json:"priority"`
}

// FaultActionRequest carries a fault action token: Ignore, RestartProc,
// RestartApp, StopApp, or Reboot.
type FaultActionRequest struct {
	Action string `json:"action"`
}

// InstallerRequest names an app for the installer's install/uninstall calls.
type InstallerRequest struct {
	Name string `json:"name"`
}

// OKResponse is the generic success envelope the daemon returns when there is
// no payload to report beyond confirmation.
type OKResponse struct {
	OK bool `json:"ok"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

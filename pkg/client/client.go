// Package client is the IPC client side of SPEC_FULL.md §14: a thin HTTP
// wrapper around the daemon's app/proc/watchdog/installer/session surface,
// generalized from the teacher's pkg/client onto this core's Supervisor API.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// Client talks to a running appsupervisord daemon over HTTP.
type Client struct {
	baseURL   string
	client    *http.Client
	logger    *slog.Logger
	sessionID string
}

// Config holds client configuration.
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification
}

// TLSClientConfig holds TLS configuration for client.
type TLSClientConfig struct {
	Enabled    bool   // Enable TLS
	CACert     string // CA certificate file path
	ClientCert string // Client certificate file
	ClientKey  string // Client private key file
	ServerName string // Server name for verification
	SkipVerify bool   // Skip certificate verification
}

// DefaultConfig returns default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8080",
		Timeout: 10 * time.Second,
	}
}

// DefaultTLSConfig returns default TLS client configuration.
func DefaultTLSConfig() Config {
	return Config{
		BaseURL: "https://localhost:8080",
		Timeout: 10 * time.Second,
		TLS: &TLSClientConfig{
			Enabled: true,
		},
	}
}

// InsecureConfig returns insecure client configuration (skip TLS verification).
func InsecureConfig() Config {
	return Config{
		BaseURL:  "https://localhost:8080",
		Timeout:  10 * time.Second,
		Insecure: true,
	}
}

// New creates a new daemon API client with TLS support.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8080"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := &http.Transport{}
	if config.TLS != nil && config.TLS.Enabled || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConfig
		}
	}

	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// IsReachable checks if the daemon is running and reachable.
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/metrics", nil)
	if err != nil {
		c.logger.Debug("failed to create request for reachability check", "error", err)
		return false
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	c.logger.Debug("daemon reachability check", "status", resp.StatusCode)
	return resp.StatusCode == http.StatusOK
}

// --- app lifecycle ---

// StartApp requests the daemon launch name (supervisor.LaunchApp).
func (c *Client) StartApp(ctx context.Context, name string) error {
	c.logger.Debug("starting app", "name", name)
	return c.doRequest(ctx, http.MethodPost, c.baseURL+"/apps/"+name+"/start", nil)
}

// StopApp requests the daemon stop name (supervisor.StopApp). Completes
// asynchronously: success only means the stop was accepted, not that the app
// has transitioned to Stopped.
func (c *Client) StopApp(ctx context.Context, name string) error {
	c.logger.Debug("stopping app", "name", name)
	return c.doRequest(ctx, http.MethodPost, c.baseURL+"/apps/"+name+"/stop", nil)
}

// GetState reports name's current app.State.
func (c *Client) GetState(ctx context.Context, name string) (string, error) {
	var out AppState
	if err := c.getJSON(ctx, c.baseURL+"/apps/"+name, &out); err != nil {
		return "", err
	}
	return out.State, nil
}

// GetProcState reports the state of a configured proc by name.
func (c *Client) GetProcState(ctx context.Context, appName, procName string) (string, error) {
	var out ProcStateResponse
	if err := c.getJSON(ctx, c.baseURL+"/apps/"+appName+"/procs/"+procName, &out); err != nil {
		return "", err
	}
	return out.State, nil
}

// GetHash returns appName's configuration hash.
func (c *Client) GetHash(ctx context.Context, appName string) (string, error) {
	var out HashResponse
	if err := c.getJSON(ctx, c.baseURL+"/apps/"+appName+"/hash", &out); err != nil {
		return "", err
	}
	return out.Hash, nil
}

// GetName returns the app name that owns pid.
func (c *Client) GetName(ctx context.Context, pid int) (string, error) {
	var out NameResponse
	if err := c.getJSON(ctx, fmt.Sprintf("%s/apps/by-pid/%d", c.baseURL, pid), &out); err != nil {
		return "", err
	}
	return out.Name, nil
}

// --- installer ---

// InstallApp creates name's inactive container without starting it.
func (c *Client) InstallApp(ctx context.Context, name string) error {
	data, err := json.Marshal(InstallerRequest{Name: name})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.doRequest(ctx, http.MethodPost, c.baseURL+"/installer/install", data)
}

// UninstallApp destroys name's container. The app must already be inactive.
func (c *Client) UninstallApp(ctx context.Context, name string) error {
	data, err := json.Marshal(InstallerRequest{Name: name})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.doRequest(ctx, http.MethodPost, c.baseURL+"/installer/uninstall", data)
}

// --- watchdog ---

// WatchdogTimedOut reports a missed watchdog kick for procID owned by userID.
func (c *Client) WatchdogTimedOut(ctx context.Context, userID, procID string) error {
	return c.doRequest(ctx, http.MethodPost, c.baseURL+"/watchdog/"+userID+"/"+procID, nil)
}

// --- session lifecycle ---

// OpenSession opens an IPC session on the daemon and remembers its id for
// subsequent AppProc broker calls on this Client.
func (c *Client) OpenSession(ctx context.Context) (string, error) {
	var out SessionResponse
	if err := c.postJSON(ctx, c.baseURL+"/sessions", nil, &out); err != nil {
		return "", err
	}
	c.sessionID = out.ID
	return out.ID, nil
}

// CloseSession closes the session opened by OpenSession, purging every
// AppProc reference it owns.
func (c *Client) CloseSession(ctx context.Context) error {
	if c.sessionID == "" {
		return nil
	}
	if err := c.doRequest(ctx, http.MethodDelete, c.baseURL+"/sessions/"+c.sessionID, nil); err != nil {
		return err
	}
	c.sessionID = ""
	return nil
}

// --- AppProc broker ---

// ProcCreate allocates a new proc reference inside appName, under the
// Client's currently open session (call OpenSession first).
func (c *Client) ProcCreate(ctx context.Context, appName, procName, execPath string) (string, error) {
	data, err := json.Marshal(ProcCreateRequest{ProcName: procName, ExecPath: execPath})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/apps/"+appName+"/procs", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Session-Id", c.sessionID)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if err := c.handleErrorResponse(resp); err != nil {
		return "", err
	}
	var out ProcRefResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return out.Ref, nil
}

func (c *Client) ProcSetStdIn(ctx context.Context, ref, path string) error {
	return c.procPathRequest(ctx, ref, "stdin", path)
}

func (c *Client) ProcSetStdOut(ctx context.Context, ref, path string) error {
	return c.procPathRequest(ctx, ref, "stdout", path)
}

func (c *Client) ProcSetStdErr(ctx context.Context, ref, path string) error {
	return c.procPathRequest(ctx, ref, "stderr", path)
}

func (c *Client) procPathRequest(ctx context.Context, ref, stream, path string) error {
	data, err := json.Marshal(PathRequest{Path: path})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.doRequest(ctx, http.MethodPost, c.baseURL+"/procs/"+ref+"/"+stream, data)
}

// ProcAddArg appends arg to ref's overridden argument list; an empty arg
// finalises an intentionally empty list.
func (c *Client) ProcAddArg(ctx context.Context, ref, arg string) error {
	data, err := json.Marshal(ArgRequest{Arg: arg})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.doRequest(ctx, http.MethodPost, c.baseURL+"/procs/"+ref+"/args", data)
}

func (c *Client) ProcClearArgs(ctx context.Context, ref string) error {
	return c.doRequest(ctx, http.MethodDelete, c.baseURL+"/procs/"+ref+"/args", nil)
}

// ProcSetPriority sets ref's scheduling priority: idle, low, medium, high, or
// rt1..rt32.
func (c *Client) ProcSetPriority(ctx context.Context, ref, priority string) error {
	data, err := json.Marshal(PriorityRequest{Priority: priority})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.doRequest(ctx, http.MethodPost, c.baseURL+"/procs/"+ref+"/priority", data)
}

func (c *Client) ProcClearPriority(ctx context.Context, ref string) error {
	return c.doRequest(ctx, http.MethodDelete, c.baseURL+"/procs/"+ref+"/priority", nil)
}

// ProcSetFaultAction sets ref's fault action: Ignore, RestartProc,
// RestartApp, StopApp, or Reboot.
func (c *Client) ProcSetFaultAction(ctx context.Context, ref, action string) error {
	data, err := json.Marshal(FaultActionRequest{Action: action})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.doRequest(ctx, http.MethodPost, c.baseURL+"/procs/"+ref+"/fault-action", data)
}

func (c *Client) ProcClearFaultAction(ctx context.Context, ref string) error {
	return c.doRequest(ctx, http.MethodDelete, c.baseURL+"/procs/"+ref+"/fault-action", nil)
}

// ProcStart starts the owning app first if it isn't running, then starts ref
// itself.
func (c *Client) ProcStart(ctx context.Context, ref string) error {
	return c.doRequest(ctx, http.MethodPost, c.baseURL+"/procs/"+ref+"/start", nil)
}

// ProcDelete drops ref's record and deletes the underlying proc.
func (c *Client) ProcDelete(ctx context.Context, ref string) error {
	return c.doRequest(ctx, http.MethodDelete, c.baseURL+"/procs/"+ref, nil)
}

// --- transport plumbing ---

func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{}

	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}

	if config.TLS != nil {
		if config.TLS.SkipVerify {
			tlsConfig.InsecureSkipVerify = true
		}
		if config.TLS.ServerName != "" {
			tlsConfig.ServerName = config.TLS.ServerName
		}
		if config.TLS.CACert != "" {
			if err := loadCACert(tlsConfig, config.TLS.CACert); err != nil {
				return nil, fmt.Errorf("failed to load CA certificate: %w", err)
			}
		}
		if config.TLS.ClientCert != "" && config.TLS.ClientKey != "" {
			cert, err := tls.LoadX509KeyPair(config.TLS.ClientCert, config.TLS.ClientKey)
			if err != nil {
				return nil, fmt.Errorf("failed to load client certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
	}

	return tlsConfig, nil
}

func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}

	tlsConfig.RootCAs = caCertPool
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, url string, body []byte) error {
	var bodyReader *bytes.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "url", url)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	return c.handleErrorResponse(resp)
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if err := c.handleErrorResponse(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, url string, body []byte, out any) error {
	var bodyReader *bytes.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if err := c.handleErrorResponse(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) handleErrorResponse(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
		c.logger.Error("failed to decode error response", "status", resp.StatusCode)
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	c.logger.Error("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return fmt.Errorf("API error: %s", errorResp.Error)
}

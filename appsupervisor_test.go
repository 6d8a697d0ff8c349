package appsupervisor

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/loykin/appsupervisor/internal/app"
	"github.com/loykin/appsupervisor/internal/config"
	"github.com/loykin/appsupervisor/internal/metrics"
)

func TestFacadeLaunchAndStop(t *testing.T) {
	store := &StaticStore{Apps: map[string]config.AppConfig{
		"web": {Command: "sleep 0.2"},
	}}
	s := New(store, nil, nil)
	defer s.Close()

	if res := s.LaunchApp("web"); res != OK {
		t.Fatalf("launch: %v", res)
	}
	if st := s.GetState("web"); st == app.StateStopped {
		t.Fatalf("expected app to have left StateStopped after launch, got %v", st)
	}

	stopped := make(chan struct{})
	s.OnAllStopped(func() { close(stopped) })
	s.Shutdown()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not complete")
	}
}

func TestFacadeUnknownApp(t *testing.T) {
	store := &StaticStore{Apps: map[string]config.AppConfig{}}
	s := New(store, nil, nil)
	defer s.Close()

	if res := s.LaunchApp("ghost"); res != NotFound {
		t.Fatalf("expected NotFound, got %v", res)
	}
}

func TestFacadeHTTPServer(t *testing.T) {
	store := &StaticStore{Apps: map[string]config.AppConfig{
		"web": {Command: "sleep 0.2"},
	}}
	s := New(store, nil, nil)
	defer s.Close()

	srv, err := NewHTTPServer("127.0.0.1:0", "", s)
	if err != nil {
		t.Fatalf("NewHTTPServer: %v", err)
	}
	defer func() { _ = srv.Close() }()
}

func TestMetricsHelpers(t *testing.T) {
	if err := RegisterMetricsDefault(); err != nil {
		t.Fatalf("RegisterMetricsDefault: %v", err)
	}

	metrics.IncAppStart("web")
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics handler status %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "appsup_app_starts_total") {
		t.Fatalf("metrics output missing appsup_app_starts_total: %s", rr.Body.String())
	}
}

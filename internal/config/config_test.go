package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "appsupervisor.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoadAppsTree(t *testing.T) {
	p := writeConfig(t, `
install_dir: /opt/apps
apps:
  modemd:
    command: /opt/apps/modemd/bin/modemd
    start_manual: false
  wifid:
    command: /opt/apps/wifid/bin/wifid
    start_manual: true
`)
	s, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !s.HasApp("modemd") || !s.HasApp("wifid") {
		t.Fatalf("expected both apps installed")
	}
	if s.HasApp("gpsd") {
		t.Fatalf("gpsd should not be installed")
	}
	if s.StartManual("modemd") {
		t.Fatalf("modemd should autostart")
	}
	if !s.StartManual("wifid") {
		t.Fatalf("wifid should be manual")
	}
	names := s.AppNames()
	if len(names) != 2 || names[0] != "modemd" || names[1] != "wifid" {
		t.Fatalf("unexpected names: %v", names)
	}
	if s.InstallDir() != "/opt/apps" {
		t.Fatalf("unexpected install dir: %s", s.InstallDir())
	}
	spec, ok := s.AppSpec("modemd")
	if !ok || spec.Command == "" {
		t.Fatalf("expected modemd spec with command")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestStaticStore(t *testing.T) {
	s := &StaticStore{
		Dir: "/opt/apps",
		Apps: map[string]AppConfig{
			"a": {Command: "/bin/a", StartManual: false},
		},
	}
	if !s.HasApp("a") || s.StartManual("a") {
		t.Fatalf("unexpected static store state")
	}
	if s.HasApp("b") {
		t.Fatalf("b should not exist")
	}
}

func TestSplitEnvLine(t *testing.T) {
	k, v, ok := SplitEnvLine("FOO=bar")
	if !ok || k != "FOO" || v != "bar" {
		t.Fatalf("unexpected split: %q %q %v", k, v, ok)
	}
	if _, _, ok := SplitEnvLine("noequals"); ok {
		t.Fatalf("expected ok=false for line without '='")
	}
}

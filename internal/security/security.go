// Package security is the security-labelling external collaborator named in
// spec.md §6: retrieving the app identity that owns a process, by stripping a
// fixed prefix from that process's security label. No teacher file covers
// this (provisr has no security-label concept); built directly from the
// distilled specification, deliberately minimal — a literal fixed-prefix
// strip needs no third-party library.
package security

import "strings"

// DefaultLabelPrefix is the conventional prefix the platform attaches to every
// app-owned process label, e.g. "app:modemd".
const DefaultLabelPrefix = "app:"

// Labeler resolves the app identity of a running process from its security
// label. Implementations may consult a kernel LSM, an IPC broker, or (as here)
// an in-memory map populated by the process launcher.
type Labeler interface {
	// LabelOf returns the raw security label attached to pid, or ok=false if
	// the process has not yet applied its label (e.g. it died before doing so).
	LabelOf(pid int) (label string, ok bool)
	// Forget releases any bookkeeping the Labeler holds for pid. Labels are
	// scrubbed at reap per spec.md §4.2 step 1.
	Forget(pid int)
}

// AppNameFromLabel strips prefix (DefaultLabelPrefix when prefix is empty)
// from label, returning the app name and whether the label actually carried
// that prefix.
func AppNameFromLabel(label, prefix string) (string, bool) {
	if prefix == "" {
		prefix = DefaultLabelPrefix
	}
	if !strings.HasPrefix(label, prefix) {
		return "", false
	}
	name := strings.TrimPrefix(label, prefix)
	if name == "" {
		return "", false
	}
	return name, true
}

// MapLabeler is a minimal in-memory Labeler: the launcher records each
// worker's label when it applies it, and the dispatcher reads it back before
// reaping.
type MapLabeler struct {
	labels map[int]string
	prefix string
}

// NewMapLabeler constructs a MapLabeler using prefix (DefaultLabelPrefix if empty).
func NewMapLabeler(prefix string) *MapLabeler {
	if prefix == "" {
		prefix = DefaultLabelPrefix
	}
	return &MapLabeler{labels: make(map[int]string), prefix: prefix}
}

// Apply records that pid carries appName's label. Called by the launcher
// immediately after fork/exec, before the process can possibly exit.
func (m *MapLabeler) Apply(pid int, appName string) {
	m.labels[pid] = m.prefix + appName
}

func (m *MapLabeler) LabelOf(pid int) (string, bool) {
	l, ok := m.labels[pid]
	return l, ok
}

func (m *MapLabeler) Forget(pid int) {
	delete(m.labels, pid)
}

// GetAppNameFromPid resolves pid's owning app name via l, stripping
// DefaultLabelPrefix (a MapLabeler built with another prefix is not matched). A
// label read failure here is documented as open question (b): it is treated
// as NotFound by callers, identically to a pid with no label at all.
func GetAppNameFromPid(l Labeler, pid int) (name string, found bool) {
	label, ok := l.LabelOf(pid)
	if !ok {
		return "", false
	}
	return AppNameFromLabel(label, "")
}

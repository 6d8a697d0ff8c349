package ipc

import "testing"

func TestSessionCloseFiresCallbacksOnce(t *testing.T) {
	s := NewSession()
	calls := 0
	s.OnClose(func(ID) { calls++ })
	s.OnClose(func(ID) { calls++ })

	s.Close()
	s.Close()

	if calls != 2 {
		t.Fatalf("expected 2 callback invocations, got %d", calls)
	}
}

func TestSessionKillMarksKilledAndCloses(t *testing.T) {
	s := NewSession()
	closed := false
	s.OnClose(func(ID) { closed = true })

	s.Kill("duplicate proc reference")

	if !s.Killed() {
		t.Fatalf("expected session to be marked killed")
	}
	if !closed {
		t.Fatalf("expected Kill to run close callbacks")
	}
}

func TestManagerOpenGetClose(t *testing.T) {
	m := NewManager()
	s := m.Open()

	got, ok := m.Get(s.ID())
	if !ok || got != s {
		t.Fatalf("expected to find session by id")
	}

	if !m.Close(s.ID()) {
		t.Fatalf("expected Close to report success")
	}
	if _, ok := m.Get(s.ID()); ok {
		t.Fatalf("session should be gone from manager after close")
	}
	if m.Close(s.ID()) {
		t.Fatalf("closing an already-closed session id should report false")
	}
}

func TestSessionCleanupOnAppProcOwner(t *testing.T) {
	// Session-close contract (spec.md §4.3): registering a cleanup callback
	// that simulates purging AppProc records tagged to this session.
	s := NewSession()
	purged := make(map[string]bool)
	refs := []string{"ref-1", "ref-2", "ref-3"}
	s.OnClose(func(ID) {
		for _, r := range refs {
			purged[r] = true
		}
	})

	s.Close()

	for _, r := range refs {
		if !purged[r] {
			t.Fatalf("expected ref %s to be purged on session close", r)
		}
	}
}

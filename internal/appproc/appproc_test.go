package appproc

import (
	"testing"

	"github.com/loykin/appsupervisor/internal/app"
	"github.com/loykin/appsupervisor/internal/ipc"
	"github.com/loykin/appsupervisor/internal/registry"
)

func TestInsertGetDelete(t *testing.T) {
	tbl := NewTable()
	c := &registry.AppContainer{Name: "modemd"}
	rec := &Record{Proc: app.ProcHandle("modemd-proc-1"), Container: c}

	if tbl.HasProc(rec.Proc) {
		t.Fatalf("expected no existing record for fresh proc handle")
	}

	ref := tbl.Insert(rec)
	if !tbl.HasProc(rec.Proc) {
		t.Fatalf("expected HasProc true after Insert")
	}

	got, ok := tbl.Get(ref)
	if !ok || got != rec {
		t.Fatalf("expected Get to return the inserted record")
	}

	tbl.Delete(ref)
	if _, ok := tbl.Get(ref); ok {
		t.Fatalf("expected ref to be stale after Delete")
	}
	if tbl.HasProc(rec.Proc) {
		t.Fatalf("expected HasProc false after Delete")
	}
}

func TestStaleReferenceAfterSlotReuse(t *testing.T) {
	tbl := NewTable()
	c := &registry.AppContainer{Name: "wifid"}

	rec1 := &Record{Proc: app.ProcHandle("p1"), Container: c}
	ref1 := tbl.Insert(rec1)
	tbl.Delete(ref1)

	rec2 := &Record{Proc: app.ProcHandle("p2"), Container: c}
	ref2 := tbl.Insert(rec2)

	if _, ok := tbl.Get(ref1); ok {
		t.Fatalf("stale reference must never alias the reused slot")
	}
	got, ok := tbl.Get(ref2)
	if !ok || got != rec2 {
		t.Fatalf("expected ref2 to resolve to rec2")
	}
}

func TestGetRejectsGarbageReference(t *testing.T) {
	tbl := NewTable()
	if _, ok := tbl.Get(Ref("not-a-real-ref")); ok {
		t.Fatalf("expected garbage reference to be rejected")
	}
	if _, ok := tbl.Get(Ref("")); ok {
		t.Fatalf("expected empty reference to be rejected")
	}
}

func TestDeleteBySessionPurgesOnlyThatSessionsRecords(t *testing.T) {
	tbl := NewTable()
	cF := &registry.AppContainer{Name: "F"}
	cG := &registry.AppContainer{Name: "G"}
	sessA := ipc.ID("session-a")
	sessB := ipc.ID("session-b")

	refA1 := tbl.Insert(&Record{Proc: app.ProcHandle("a1"), Container: cF, Session: sessA})
	refA2 := tbl.Insert(&Record{Proc: app.ProcHandle("a2"), Container: cG, Session: sessA})
	refB1 := tbl.Insert(&Record{Proc: app.ProcHandle("b1"), Container: cF, Session: sessB})

	purged := tbl.DeleteBySession(sessA)
	if len(purged) != 2 {
		t.Fatalf("expected 2 records purged for session A, got %d", len(purged))
	}
	if _, ok := tbl.Get(refA1); ok {
		t.Fatalf("expected refA1 purged")
	}
	if _, ok := tbl.Get(refA2); ok {
		t.Fatalf("expected refA2 purged")
	}
	if _, ok := tbl.Get(refB1); !ok {
		t.Fatalf("expected refB1 (session B) to survive")
	}
}

func TestDeleteByContainerPurgesAllItsRefs(t *testing.T) {
	tbl := NewTable()
	c1 := &registry.AppContainer{Name: "c1"}
	c2 := &registry.AppContainer{Name: "c2"}

	r1 := tbl.Insert(&Record{Proc: app.ProcHandle("x1"), Container: c1})
	r2 := tbl.Insert(&Record{Proc: app.ProcHandle("x2"), Container: c1})
	r3 := tbl.Insert(&Record{Proc: app.ProcHandle("x3"), Container: c2})

	purged := tbl.DeleteByContainer(c1)
	if len(purged) != 2 {
		t.Fatalf("expected 2 records purged for c1, got %d", len(purged))
	}
	if _, ok := tbl.Get(r1); ok {
		t.Fatalf("expected r1 purged")
	}
	if _, ok := tbl.Get(r2); ok {
		t.Fatalf("expected r2 purged")
	}
	if _, ok := tbl.Get(r3); !ok {
		t.Fatalf("expected r3 (different container) to survive")
	}
}

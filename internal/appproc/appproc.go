// Package appproc implements the AppProc Broker's reference table: the
// externally-opaque map from a client-visible reference to an
// AppProcContainer (spec.md §3/§4.3). References must be reusable-safe — a
// stale reference must never alias a live record after reuse — so the table
// is a generation-tagged slot array rather than a bare map keyed by a
// sequential integer. Grounded on the teacher's internal/store package, which
// solves the same "externally opaque, internally a slot" problem for its
// process entries; generalized here into an explicit slot+generation pair,
// a standard Go idiom for reuse-safe handle tables (as opposed to a garbage
// collected pointer, which the external app layer must not receive).
package appproc

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/loykin/appsupervisor/internal/app"
	"github.com/loykin/appsupervisor/internal/ipc"
	"github.com/loykin/appsupervisor/internal/registry"
)

// Ref is the opaque, externally-visible reference a client receives from
// Create and must present to every subsequent AppProc Broker call.
type Ref string

// Record is the AppProcContainer of spec.md §3: a proc_handle plus a
// non-owning back-reference to its AppContainer and the session that created
// it.
type Record struct {
	Proc        app.ProcHandle
	Container   *registry.AppContainer
	Session     ipc.ID
	StopHandler func()
}

type slot struct {
	generation int
	record     *Record // nil if the slot is free
}

// Table is the AppProc Broker's reference map. Not safe for concurrent use
// from outside the Supervisor's single event-loop goroutine, matching
// spec.md §5's "mutated only from the event loop thread" rule; an internal
// mutex exists only to let the ipc.Session close callback (itself invoked
// from arbitrary goroutines per the teacher's transport) safely hand off to
// the loop without racing a concurrent Create/Delete in the same call.
type Table struct {
	mu     sync.Mutex
	slots  []slot
	free   []int // indices of free slots, LIFO
	byProc map[app.ProcHandle]Ref
}

// NewTable builds an empty AppProc reference table.
func NewTable() *Table {
	return &Table{byProc: make(map[app.ProcHandle]Ref)}
}

// Len reports the number of live records, for metrics/diagnostics.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byProc)
}

// HasProc reports whether proc already has a live record, the uniqueness
// check Create must perform before allocating (spec.md §4.3's "enforce
// uniqueness: no existing AppProc record may already hold this proc_handle").
func (t *Table) HasProc(proc app.ProcHandle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.byProc[proc]
	return ok
}

// Insert allocates a fresh slot for rec and returns its opaque reference.
// Callers must have already checked HasProc.
func (t *Table) Insert(rec *Record) Ref {
	t.mu.Lock()
	defer t.mu.Unlock()

	var idx int
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
		t.slots[idx].generation++
	} else {
		idx = len(t.slots)
		t.slots = append(t.slots, slot{generation: 1})
	}
	t.slots[idx].record = rec
	ref := encodeRef(idx, t.slots[idx].generation)
	t.byProc[rec.Proc] = ref
	return ref
}

// Get resolves ref to its live Record. A stale or malformed reference (freed
// slot, wrong generation, garbage string) reports ok=false — the Broker
// treats this identically to "unknown reference" (a client-protocol
// violation; see spec.md §7).
func (t *Table) Get(ref Ref) (*Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx, gen, ok := decodeRef(ref)
	if !ok || idx < 0 || idx >= len(t.slots) {
		return nil, false
	}
	s := t.slots[idx]
	if s.generation != gen || s.record == nil {
		return nil, false
	}
	return s.record, true
}

// Delete frees ref's slot, making the reference permanently stale (the next
// occupant of the slot gets a new generation). Safe to call on an already-
// deleted or unknown ref.
func (t *Table) Delete(ref Ref) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx, gen, ok := decodeRef(ref)
	if !ok || idx < 0 || idx >= len(t.slots) {
		return
	}
	s := &t.slots[idx]
	if s.generation != gen || s.record == nil {
		return
	}
	delete(t.byProc, s.record.Proc)
	s.record = nil
	t.free = append(t.free, idx)
}

// DeleteBySession frees every live slot owned by session and returns the
// freed records, implementing the session-close contract of spec.md §4.3:
// "every AppProc record owned by it is deleted." Callers use the returned
// records to also tell the app layer to delete each underlying proc.
func (t *Table) DeleteBySession(session ipc.ID) []*Record {
	return t.deleteWhere(func(r *Record) bool { return r.Session == session })
}

// DeleteByContainer frees and returns every live record whose Container is
// c, used when an AppContainer is destroyed (install/uninstall/shutdown):
// "the record is destroyed before the AppContainer is destroyed" (spec.md §3).
func (t *Table) DeleteByContainer(c *registry.AppContainer) []*Record {
	return t.deleteWhere(func(r *Record) bool { return r.Container == c })
}

func (t *Table) deleteWhere(match func(*Record) bool) []*Record {
	t.mu.Lock()
	var refs []Ref
	var recs []*Record
	for idx := range t.slots {
		s := &t.slots[idx]
		if s.record == nil || !match(s.record) {
			continue
		}
		refs = append(refs, encodeRef(idx, s.generation))
		recs = append(recs, s.record)
	}
	t.mu.Unlock()

	for _, r := range refs {
		t.Delete(r)
	}
	return recs
}

func encodeRef(idx, generation int) Ref {
	return Ref(fmt.Sprintf("%d.%d", idx, generation))
}

func decodeRef(ref Ref) (idx, generation int, ok bool) {
	parts := strings.SplitN(string(ref), ".", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	i, err1 := strconv.Atoi(parts[0])
	g, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return i, g, true
}

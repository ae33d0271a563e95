// Package pending implements the client-side request-correlation core:
// RID allocation and the open-addressed, tombstoned pending-request hash
// table described in spec.md §4.2 and §8. No repo in the retrieved pack
// implements this directly (hyperserve has no MCP client; muster
// delegates correlation to mark3labs/mcp-go) — this is built from the
// spec's explicit contract, in the concurrency idiom of the teacher's
// mcp_session.go (single mutex guarding a map plus a validated state
// enum).
package pending

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"mcpfabric/internal/protocol"
	"mcpfabric/pkg/mcperr"
)

// Status is the lifecycle state of a pending request.
type Status int

const (
	StatusWaiting Status = iota
	StatusCompleted
	StatusError
	StatusTimeout
	// StatusInvalid marks a tombstoned slot: the entry is logically gone
	// but its slot keeps participating in probe chains until the next
	// resize rehashes it away.
	StatusInvalid
)

func (s Status) String() string {
	switch s {
	case StatusWaiting:
		return "WAITING"
	case StatusCompleted:
		return "COMPLETED"
	case StatusError:
		return "ERROR"
	case StatusTimeout:
		return "TIMEOUT"
	default:
		return "INVALID"
	}
}

// Entry is a single in-flight request record. All field access outside
// of this package must go through Table's methods; fields are only
// safe to read directly by the package itself, and only while holding
// Table.mu or after <-done has unblocked (which establishes the
// happens-before relationship with the writer).
type Entry struct {
	RID        protocol.RID
	status     Status
	result     interface{}
	errCode    mcperr.Code
	errMessage string
	done       chan struct{}
}

const (
	minCapacity     = 16
	maxLoadFactor   = 0.70
	maxProbeBudget  = 16
)

// Table is the open-addressed pending-request hash table. A single
// mutex protects the slot array, the RID counter and every entry's
// status transition, per spec.md §4.2/§5 ("Pending-request table:
// single mutex, one-entry-per-RID").
type Table struct {
	mu     sync.Mutex
	slots  []*Entry
	live   int
	nextID uint64
	logger *slog.Logger
}

// New creates a pending-request table with the given initial capacity,
// rounded up to a power of two no smaller than 16.
func New(initialCapacity int, logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	capacity := minCapacity
	for capacity < initialCapacity {
		capacity *= 2
	}
	return &Table{
		slots:  make([]*Entry, capacity),
		logger: logger,
	}
}

// AllocateRID returns the next monotonic RID for this table's client,
// never 0.
func (t *Table) AllocateRID() protocol.RID {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	if t.nextID == 0 {
		t.nextID = 1
	}
	return protocol.RID(t.nextID)
}

// Insert creates a WAITING entry for rid and places it in the table,
// resizing first if the insert would push the load factor to >= 0.70.
func (t *Table) Insert(rid protocol.RID) (*Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if loadFactor(t.live+1, len(t.slots)) >= maxLoadFactor {
		if err := t.resizeLocked(len(t.slots) * 2); err != nil {
			return nil, err
		}
	}

	idx, ok := t.insertSlotLocked(rid)
	if !ok {
		return nil, mcperr.New(mcperr.InternalError, "pending table: unable to place entry within probe budget")
	}

	e := &Entry{RID: rid, status: StatusWaiting, done: make(chan struct{})}
	t.slots[idx] = e
	t.live++
	return e, nil
}

// Remove tombstones rid's slot (status INVALID) whatever its current
// status, for use by a caller that discards a request before any
// response could arrive (e.g. a failed send).
func (t *Table) Remove(rid protocol.RID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.lookupLocked(rid); ok {
		e.status = StatusInvalid
		t.live--
	}
}

// Complete transitions rid's entry to COMPLETED with the given result
// and signals its waiter. Returns false if no WAITING entry exists for
// rid (unknown RID, or a response arriving after timeout/removal).
func (t *Table) Complete(rid protocol.RID, result interface{}) bool {
	t.mu.Lock()
	e, ok := t.lookupLocked(rid)
	if !ok || e.status != StatusWaiting {
		t.mu.Unlock()
		return false
	}
	e.result = result
	e.status = StatusCompleted
	close(e.done)
	t.mu.Unlock()
	return true
}

// Fail transitions rid's entry to ERROR with the given code/message and
// signals its waiter. Returns false if no WAITING entry exists for rid.
func (t *Table) Fail(rid protocol.RID, code mcperr.Code, message string) bool {
	t.mu.Lock()
	e, ok := t.lookupLocked(rid)
	if !ok || e.status != StatusWaiting {
		t.mu.Unlock()
		return false
	}
	e.errCode = code
	e.errMessage = message
	e.status = StatusError
	close(e.done)
	t.mu.Unlock()
	return true
}

// BroadcastTransportError transitions every currently WAITING entry to
// ERROR/transport-error with the shared message and signals all of
// them, for use by a transport's fatal error callback.
func (t *Table) BroadcastTransportError(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.slots {
		if e != nil && e.status == StatusWaiting {
			e.errCode = mcperr.TransportError
			e.errMessage = message
			e.status = StatusError
			close(e.done)
		}
	}
}

// Outcome is the result of waiting on a pending entry.
type Outcome struct {
	Status     Status
	Result     interface{}
	ErrCode    mcperr.Code
	ErrMessage string
}

// Wait blocks until e is signaled, ctx is done, or timeout elapses,
// whichever comes first, then removes e from the table and returns its
// final outcome. Exactly one of {COMPLETED, ERROR, TIMEOUT} is returned.
func (t *Table) Wait(ctx context.Context, e *Entry, timeout time.Duration) Outcome {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-e.done:
		return t.finalizeAndRemove(e)
	case <-ctx.Done():
		if t.timeoutIfWaiting(e, "Request canceled") {
			return Outcome{Status: StatusTimeout, ErrCode: mcperr.Timeout, ErrMessage: "Request canceled"}
		}
		<-e.done
		return t.finalizeAndRemove(e)
	case <-timer.C:
		if t.timeoutIfWaiting(e, "Request timed out") {
			return Outcome{Status: StatusTimeout, ErrCode: mcperr.Timeout, ErrMessage: "Request timed out"}
		}
		// Lost the race: a response or transport-error broadcast beat
		// the timer. done is about to be (or already) closed.
		<-e.done
		return t.finalizeAndRemove(e)
	}
}

func (t *Table) timeoutIfWaiting(e *Entry, message string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e.status != StatusWaiting {
		return false
	}
	e.status = StatusTimeout
	e.errCode = mcperr.Timeout
	e.errMessage = message
	if live, ok := t.lookupLocked(e.RID); ok && live == e {
		t.live--
		e.status = StatusInvalid
	}
	close(e.done)
	return true
}

func (t *Table) finalizeAndRemove(e *Entry) Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := Outcome{Status: e.status, Result: e.result, ErrCode: e.errCode, ErrMessage: e.errMessage}
	if live, ok := t.lookupLocked(e.RID); ok && live == e {
		t.live--
	}
	e.status = StatusInvalid
	return out
}

// Len returns the number of live (non-tombstoned) entries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

// Cap returns the current slot-array capacity, exposed for tests of the
// resize boundary behavior.
func (t *Table) Cap() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}

func loadFactor(n, capacity int) float64 {
	return float64(n) / float64(capacity)
}

// lookupLocked finds the live entry for rid, probing quadratically and
// falling back to a full linear scan if the probe budget is exceeded.
// Callers must hold t.mu.
func (t *Table) lookupLocked(rid protocol.RID) (*Entry, bool) {
	capacity := len(t.slots)
	mask := uint64(capacity - 1)
	idx := hashRID(rid) & mask
	budget := maxProbeBudget
	if capacity < budget {
		budget = capacity
	}

	var d uint64
	for probes := 0; probes < budget; probes++ {
		slot := t.slots[idx]
		if slot == nil {
			return nil, false
		}
		if slot.status != StatusInvalid && slot.RID == rid {
			return slot, true
		}
		d++
		idx = (idx + d) & mask
	}

	t.logger.Warn("pending table: probe budget exceeded on lookup, falling back to linear scan", "rid", rid, "capacity", capacity)
	for _, slot := range t.slots {
		if slot != nil && slot.status != StatusInvalid && slot.RID == rid {
			return slot, true
		}
	}
	return nil, false
}

// insertSlotLocked finds a slot to place rid in, preferring the first
// tombstone seen over a never-used empty slot. Callers must hold t.mu.
func (t *Table) insertSlotLocked(rid protocol.RID) (int, bool) {
	capacity := len(t.slots)
	mask := uint64(capacity - 1)
	idx := hashRID(rid) & mask
	budget := maxProbeBudget
	if capacity < budget {
		budget = capacity
	}

	tombstone := -1
	var d uint64
	for probes := 0; probes < budget; probes++ {
		slot := t.slots[idx]
		if slot == nil {
			if tombstone != -1 {
				return tombstone, true
			}
			return int(idx), true
		}
		if slot.status == StatusInvalid && tombstone == -1 {
			tombstone = int(idx)
		}
		d++
		idx = (idx + d) & mask
	}

	if tombstone != -1 {
		return tombstone, true
	}

	t.logger.Warn("pending table: probe budget exceeded on insert, falling back to linear scan", "rid", rid, "capacity", capacity)
	for i, slot := range t.slots {
		if slot == nil || slot.status == StatusInvalid {
			return i, true
		}
	}
	return 0, false
}

// resizeLocked doubles the table to newCap and rehashes every live
// entry into it. If any live entry cannot be placed within the probe
// budget of the new table, the resize is aborted and the old table is
// left untouched. Callers must hold t.mu.
func (t *Table) resizeLocked(newCap int) error {
	old := t.slots
	t.slots = make([]*Entry, newCap)

	for _, e := range old {
		if e == nil || e.status == StatusInvalid {
			continue
		}
		idx, ok := t.insertSlotLocked(e.RID)
		if !ok {
			t.slots = old
			return mcperr.New(mcperr.InternalError, "pending table: resize failed, could not rehash all entries")
		}
		t.slots[idx] = e
	}
	return nil
}

// hashRID scatters a monotonic RID across the slot array (a raw
// `rid & mask` would cluster bursts of sequential ids). This is the
// 64-bit murmur3 finalizer mix, chosen for speed and good avalanche
// behavior without pulling in a hashing dependency the rest of the
// pack never needed either.
func hashRID(rid protocol.RID) uint64 {
	h := uint64(rid)
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	h *= 0xc4ceb9fe1a85ec53
	h ^= h >> 33
	return h
}

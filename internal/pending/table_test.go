package pending

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mcpfabric/internal/protocol"
	"mcpfabric/pkg/mcperr"
)

func TestTable_AllocateRID_Monotonic(t *testing.T) {
	table := New(16, nil)
	first := table.AllocateRID()
	second := table.AllocateRID()
	require.Equal(t, first+1, second)
	require.NotZero(t, first)
}

func TestTable_InsertCompleteWait(t *testing.T) {
	table := New(16, nil)
	rid := table.AllocateRID()
	entry, err := table.Insert(rid)
	require.NoError(t, err)

	go func() {
		ok := table.Complete(rid, "echoed")
		require.True(t, ok)
	}()

	out := table.Wait(context.Background(), entry, time.Second)
	require.Equal(t, StatusCompleted, out.Status)
	require.Equal(t, "echoed", out.Result)
	require.Zero(t, table.Len())
}

func TestTable_Fail(t *testing.T) {
	table := New(16, nil)
	rid := table.AllocateRID()
	entry, err := table.Insert(rid)
	require.NoError(t, err)

	go table.Fail(rid, mcperr.ToolNotFound, "Tool not found")

	out := table.Wait(context.Background(), entry, time.Second)
	require.Equal(t, StatusError, out.Status)
	require.Equal(t, mcperr.ToolNotFound, out.ErrCode)
}

func TestTable_WaitTimeout(t *testing.T) {
	table := New(16, nil)
	rid := table.AllocateRID()
	entry, err := table.Insert(rid)
	require.NoError(t, err)

	out := table.Wait(context.Background(), entry, 10*time.Millisecond)
	require.Equal(t, StatusTimeout, out.Status)
	require.Equal(t, mcperr.Timeout, out.ErrCode)
	require.Zero(t, table.Len())

	// A late Complete for an already-timed-out RID must be a no-op.
	require.False(t, table.Complete(rid, "too late"))
}

func TestTable_BroadcastTransportError_WakesAllWaiters(t *testing.T) {
	table := New(16, nil)
	const n = 5
	entries := make([]*Entry, n)
	for i := 0; i < n; i++ {
		rid := table.AllocateRID()
		e, err := table.Insert(rid)
		require.NoError(t, err)
		entries[i] = e
	}

	go table.BroadcastTransportError("Transport connection error")

	for _, e := range entries {
		out := table.Wait(context.Background(), e, time.Second)
		require.Equal(t, StatusError, out.Status)
		require.Equal(t, mcperr.TransportError, out.ErrCode)
	}
	require.Zero(t, table.Len())
}

// TestTable_ResizeAtLoadFactor exercises the documented boundary: a
// table created with capacity 16 resizes to 32 the moment the 12th live
// entry would be inserted (12/16 = 0.75 >= 0.70), and every surviving
// RID remains findable afterward.
func TestTable_ResizeAtLoadFactor(t *testing.T) {
	table := New(16, nil)
	require.Equal(t, 16, table.Cap())

	rids := make([]protocol.RID, 0, 12)
	entries := make([]*Entry, 0, 12)
	for i := 0; i < 11; i++ {
		rid := table.AllocateRID()
		e, err := table.Insert(rid)
		require.NoError(t, err)
		rids = append(rids, rid)
		entries = append(entries, e)
	}
	require.Equal(t, 16, table.Cap(), "no resize expected before the 12th insert")

	rid := table.AllocateRID()
	e, err := table.Insert(rid)
	require.NoError(t, err)
	rids = append(rids, rid)
	entries = append(entries, e)

	require.Equal(t, 32, table.Cap(), "12th insert (12/16=0.75) must trigger a resize to 32")
	require.Equal(t, 12, table.Len())

	for i, e := range entries {
		go table.Complete(rids[i], i)
		out := table.Wait(context.Background(), e, time.Second)
		require.Equal(t, StatusCompleted, out.Status)
	}
}

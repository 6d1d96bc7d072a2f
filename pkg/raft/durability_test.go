package raft

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/raftcore/pkg/recordlog"
)

func newTestTracker(t *testing.T) *durabilityTracker {
	t.Helper()
	path := filepath.Join(t.TempDir(), "raft.log")
	f, err := recordlog.Create(path, recordlog.HeaderRecord("c1", "s1"), recordlog.SnapshotRecord(0, 1, nil, ""))
	require.NoError(t, err)
	return newDurabilityTracker(f)
}

func TestDurabilityWaiterFiresAfterSync(t *testing.T) {
	d := newTestTracker(t)
	seq, err := d.Append(recordlog.DataEntryRecord(1, 2, "x"))
	require.NoError(t, err)

	fired := false
	d.WaitDurable(seq, func() { fired = true })
	require.False(t, fired, "must not fire before Sync")

	require.NoError(t, d.Sync())
	require.True(t, fired)
}

func TestDurabilityWaiterFiresImmediatelyIfAlreadyDurable(t *testing.T) {
	d := newTestTracker(t)
	seq, err := d.Append(recordlog.DataEntryRecord(1, 2, "x"))
	require.NoError(t, err)
	require.NoError(t, d.Sync())

	fired := false
	d.WaitDurable(seq, func() { fired = true })
	require.True(t, fired)
}

func TestDurabilityPending(t *testing.T) {
	d := newTestTracker(t)
	require.False(t, d.Pending())
	_, err := d.Append(recordlog.DataEntryRecord(1, 2, "x"))
	require.NoError(t, err)
	require.True(t, d.Pending())
	require.NoError(t, d.Sync())
	require.False(t, d.Pending())
}

func TestDurabilityWaitersFireInOrder(t *testing.T) {
	d := newTestTracker(t)
	seq1, _ := d.Append(recordlog.DataEntryRecord(1, 2, "a"))
	seq2, _ := d.Append(recordlog.DataEntryRecord(1, 3, "b"))

	var order []int
	d.WaitDurable(seq1, func() { order = append(order, 1) })
	d.WaitDurable(seq2, func() { order = append(order, 2) })

	require.NoError(t, d.Sync())
	require.Equal(t, []int{1, 2}, order)
}

package raft

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommandTrackerResolve(t *testing.T) {
	tr := newCommandTracker()
	id1 := tr.Track(5, 1)
	id2 := tr.Track(6, 1)

	status, ok := tr.Status(id1)
	require.True(t, ok)
	require.Equal(t, Incomplete, status)

	tr.Resolve(5)
	status, _ = tr.Status(id1)
	require.Equal(t, Success, status)
	status, _ = tr.Status(id2)
	require.Equal(t, Incomplete, status)

	tr.Resolve(6)
	status, _ = tr.Status(id2)
	require.Equal(t, Success, status)
}

func TestCommandTrackerFailFrom(t *testing.T) {
	tr := newCommandTracker()
	id1 := tr.Track(5, 1)
	id2 := tr.Track(6, 1)

	tr.FailFrom(6, LostLeadership)
	status, _ := tr.Status(id1)
	require.Equal(t, Incomplete, status)
	status, _ = tr.Status(id2)
	require.Equal(t, LostLeadership, status)
}

func TestCommandTrackerShutdownAndWait(t *testing.T) {
	tr := newCommandTracker()
	id := tr.Track(1, 1)
	done, ok := tr.doneChan(id)
	require.True(t, ok)

	select {
	case <-done:
		t.Fatal("should not be done yet")
	default:
	}

	tr.Shutdown()
	<-done
	status, _ := tr.Status(id)
	require.Equal(t, Shutdown, status)
}

func TestCommandTrackerRelease(t *testing.T) {
	tr := newCommandTracker()
	id := tr.Track(1, 1)
	tr.Release(id)
	_, ok := tr.Status(id)
	require.False(t, ok)
}

func TestCommandTrackerUnknownID(t *testing.T) {
	tr := newCommandTracker()
	_, ok := tr.Status(999)
	require.False(t, ok)
	_, ok = tr.doneChan(999)
	require.False(t, ok)
}

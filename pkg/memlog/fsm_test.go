package memlog_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/raftcore/pkg/memlog"
)

func TestApplyAppendsInOrder(t *testing.T) {
	f := memlog.New()
	require.NoError(t, f.Apply(1, []byte("a")))
	require.NoError(t, f.Apply(2, []byte("b")))
	require.Equal(t, [][]byte{[]byte("a"), []byte("b")}, f.Entries())
	require.Equal(t, 2, f.Len())
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	f := memlog.New()
	require.NoError(t, f.Apply(1, []byte("x")))
	require.NoError(t, f.Apply(2, []byte("y")))

	snap, err := f.Snapshot()
	require.NoError(t, err)

	f2 := memlog.New()
	require.NoError(t, f2.Restore(2, snap))
	require.Equal(t, f.Entries(), f2.Entries())
}

func TestRestoreEmptyClears(t *testing.T) {
	f := memlog.New()
	require.NoError(t, f.Apply(1, []byte("x")))
	require.NoError(t, f.Restore(0, nil))
	require.Equal(t, 0, f.Len())
}

func TestReset(t *testing.T) {
	f := memlog.New()
	require.NoError(t, f.Apply(1, []byte("x")))
	f.Reset()
	require.Equal(t, 0, f.Len())
}

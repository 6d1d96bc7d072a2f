package recordlog_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/raftcore/pkg/recordlog"
)

func TestCreateAppendReadAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raft.log")

	f, err := recordlog.Create(path, recordlog.HeaderRecord("c1", "s1"), recordlog.SnapshotRecord(0, 1, map[string]string{"s1": "a1"}, ""))
	require.NoError(t, err)
	require.NoError(t, f.AppendRecord(recordlog.DataEntryRecord(1, 2, "hello")))
	require.NoError(t, f.AppendRecord(recordlog.TermRecord(2, "s1")))
	require.NoError(t, f.Commit())
	require.NoError(t, f.Close())

	records, err := recordlog.ReadAll(path)
	require.NoError(t, err)
	require.Len(t, records, 4)
	require.Equal(t, "c1", records[0].ClusterID)
	require.Equal(t, uint64(1), records[1].PrevIndex)
	require.True(t, records[2].IsEntry())
	require.Equal(t, "hello", *records[2].Data)
	require.True(t, records[3].IsTermUpdate())
	require.Equal(t, "s1", *records[3].Vote)
}

func TestCreateFailsIfExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raft.log")
	_, err := recordlog.Create(path, recordlog.HeaderRecord("c1", "s1"), recordlog.SnapshotRecord(0, 1, nil, ""))
	require.NoError(t, err)

	_, err = recordlog.Create(path, recordlog.HeaderRecord("c1", "s1"), recordlog.SnapshotRecord(0, 1, nil, ""))
	require.ErrorIs(t, err, recordlog.ErrExists)
}

func TestReadAllToleratesTruncatedTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raft.log")
	f, err := recordlog.Create(path, recordlog.HeaderRecord("c1", "s1"), recordlog.SnapshotRecord(0, 1, nil, ""))
	require.NoError(t, err)
	require.NoError(t, f.AppendRecord(recordlog.DataEntryRecord(1, 2, "a")))
	require.NoError(t, f.Close())

	// Corrupt the tail by appending a dangling length prefix with no body.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw = append(raw, 0, 0, 0, 100)
	require.NoError(t, os.WriteFile(path, raw, 0600))

	records, err := recordlog.ReadAll(path)
	require.NoError(t, err)
	require.Len(t, records, 3) // header, snapshot, the one complete entry
}

func TestReplaceStartCommitAtomicSwap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raft.log")
	f, err := recordlog.Create(path, recordlog.HeaderRecord("c1", "s1"), recordlog.SnapshotRecord(0, 1, nil, ""))
	require.NoError(t, err)
	require.NoError(t, f.AppendRecord(recordlog.DataEntryRecord(1, 2, "old")))
	require.NoError(t, f.Close())

	repl, err := recordlog.ReplaceStart(path, recordlog.HeaderRecord("c1", "s1"), recordlog.SnapshotRecord(1, 2, map[string]string{"s1": "a1"}, "snap"))
	require.NoError(t, err)
	require.NoError(t, repl.Append(recordlog.DataEntryRecord(1, 3, "retained")))
	newFile, err := repl.Commit()
	require.NoError(t, err)
	require.NoError(t, newFile.Close())

	records, err := recordlog.ReadAll(path)
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, "snap", *records[1].Data)
	require.Equal(t, "retained", *records[2].Data)
}

func TestReplaceAbortRemovesTmp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raft.log")
	repl, err := recordlog.ReplaceStart(path, recordlog.HeaderRecord("c1", "s1"), recordlog.SnapshotRecord(0, 1, nil, ""))
	require.NoError(t, err)
	require.NoError(t, repl.Abort())

	_, err = os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(err))
}

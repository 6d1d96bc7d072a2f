package raft

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/raftcore/pkg/raftrpc"
)

func TestOutgoingSnapshotChunksAndCompletes(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	out := newOutgoingSnapshot(3, 10, map[string]string{"s1": "a1"}, data, 8)
	require.Equal(t, uint64(len(data)), out.length())

	var received []byte
	for {
		req, ok := out.nextRequest(7)
		if !ok {
			break
		}
		require.Equal(t, uint64(7), req.Term)
		require.Equal(t, uint64(len(received)), req.Offset)
		received = append(received, req.Data...)
	}
	require.Equal(t, data, received)
}

func TestIncomingSnapshotRejectsOutOfOrderChunk(t *testing.T) {
	s := &incomingSnapshot{length: 10}
	require.True(t, s.appendChunk(0, "hello"))
	require.False(t, s.appendChunk(10, "world")) // offset should be 5
	require.True(t, s.appendChunk(5, "world"))
	require.True(t, s.complete())
}

func TestHandleInstallSnapshotRequestAccumulatesAndRestores(t *testing.T) {
	fsm := newFakeFSM()
	r := newBareRaft("s2", map[string]string{"s1": "a1", "s2": "a2"})
	r.fsm = fsm
	r.currentTerm = 1
	r.cfg.DataDir = t.TempDir()

	// fakeFSM's snapshot format: a JSON array of base64 entries ("a", "b").
	full := "[\"YQ==\",\"Yg==\"]"
	chunks := raftrpc.ChunkUTF8(full, 3)
	require.Greater(t, len(chunks), 1)

	var reply raftrpc.InstallSnapshotReply
	offset := uint64(0)
	for _, c := range chunks {
		req := raftrpc.InstallSnapshotRequest{
			Header:      raftrpc.Header{From: "s1"},
			Term:        1,
			LastIndex:   5,
			LastTerm:    1,
			LastServers: map[string]string{"s1": "a1", "s2": "a2"},
			Length:      uint64(len(full)),
			Offset:      offset,
			Data:        c,
		}
		reply = r.handleInstallSnapshotRequest(req)
		offset += uint64(len(c))
	}
	require.Equal(t, uint64(len(full)), reply.NextOffset)
	require.Equal(t, uint64(5), r.commitIndex)
	require.Equal(t, 1, fsm.resets)
}

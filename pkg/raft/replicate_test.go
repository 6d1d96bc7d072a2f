package raft

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/raftcore/pkg/raftrpc"
)

func newBareLeader(serverID string, members map[string]string, fsm StateMachine) *Raft {
	r := newBareRaft(serverID, members)
	r.role = Leader
	r.leaderID = serverID
	r.currentTerm = 1
	r.fsm = fsm
	r.outgoingSnapshots = map[string]*outgoingSnapshot{}
	for _, d := range r.servers {
		d.NextIndex = r.log.logEnd()
	}
	return r
}

func TestHandleAppendRequestAppendsAndAdvancesCommit(t *testing.T) {
	fsm := newFakeFSM()
	r := newBareRaft("s2", map[string]string{"s1": "a1", "s2": "a2"})
	r.fsm = fsm
	r.currentTerm = 1

	data := "hello"
	req := raftrpc.AppendRequest{
		Header:       raftrpc.Header{From: "s1"},
		Term:         1,
		Leader:       "s1",
		PrevLogIndex: r.log.prevIndex(),
		PrevLogTerm:  0,
		LeaderCommit: 0,
		Entries:      []raftrpc.WireEntry{{Term: 1, Data: &data}},
	}
	reply, _ := r.handleAppendRequest(req)
	require.True(t, reply.Success)
	require.Equal(t, "s1", r.leaderID)
	e, ok := r.log.entryAt(r.log.prevIndex() + 1)
	require.True(t, ok)
	require.Equal(t, "hello", string(e.Payload))

	req2 := raftrpc.AppendRequest{
		Header:       raftrpc.Header{From: "s1"},
		Term:         1,
		Leader:       "s1",
		PrevLogIndex: r.log.lastIndex(),
		PrevLogTerm:  1,
		LeaderCommit: r.log.lastIndex(),
	}
	reply2, _ := r.handleAppendRequest(req2)
	require.True(t, reply2.Success)
	require.Equal(t, 1, fsm.appliedCount())
}

func TestHandleAppendRequestRejectsLogMismatch(t *testing.T) {
	r := newBareRaft("s2", map[string]string{"s1": "a1", "s2": "a2"})
	r.fsm = newFakeFSM()
	r.currentTerm = 1

	req := raftrpc.AppendRequest{
		Header:       raftrpc.Header{From: "s1"},
		Term:         1,
		Leader:       "s1",
		PrevLogIndex: r.log.prevIndex() + 10, // far beyond what we have
		PrevLogTerm:  9,
	}
	reply, _ := r.handleAppendRequest(req)
	require.False(t, reply.Success)
}

func TestHandleAppendRequestStaleTermRejected(t *testing.T) {
	r := newBareRaft("s2", map[string]string{"s1": "a1", "s2": "a2"})
	r.fsm = newFakeFSM()
	r.currentTerm = 5

	req := raftrpc.AppendRequest{
		Header: raftrpc.Header{From: "s1"},
		Term:   3,
		Leader: "s1",
	}
	reply, _ := r.handleAppendRequest(req)
	require.False(t, reply.Success)
	require.Equal(t, uint64(5), reply.Term)
}

func TestMaybeAdvanceCommitRequiresCurrentTermMajority(t *testing.T) {
	fsm := newFakeFSM()
	r := newBareLeader("s1", map[string]string{"s1": "a1", "s2": "a2", "s3": "a3"}, fsm)

	// Entry from an earlier term: must not commit on majority match alone.
	r.log.append(LogEntry{Term: 1, Payload: []byte("old")})
	r.currentTerm = 2
	r.servers["s2"].MatchIndex = r.log.lastIndex()
	r.servers["s3"].MatchIndex = 0
	r.maybeAdvanceCommit()
	require.Equal(t, uint64(0), r.commitIndex)

	// A current-term entry on top: now a majority (s1 + s2) can commit it.
	idx := r.log.append(LogEntry{Term: 2, Payload: []byte("new")})
	r.servers["s2"].MatchIndex = idx
	r.maybeAdvanceCommit()
	require.Equal(t, idx, r.commitIndex)
	require.Equal(t, 2, fsm.appliedCount())
}

func TestHandleAppendReplySuccessAdvancesMatchIndex(t *testing.T) {
	fsm := newFakeFSM()
	r := newBareLeader("s1", map[string]string{"s1": "a1", "s2": "a2"}, fsm)
	idx := r.log.append(LogEntry{Term: 1, Payload: []byte("x")})
	r.servers["s2"].Inflight = true

	r.handleAppendReply(raftrpc.AppendReply{
		Header:  raftrpc.Header{From: "s2"},
		Term:    1,
		LogEnd:  idx + 1,
		Success: true,
	})
	require.Equal(t, idx, r.servers["s2"].MatchIndex)
	require.Equal(t, idx, r.commitIndex)
	require.False(t, r.servers["s2"].Inflight)
}

func TestHandleAppendReplyFailureBacksOffNextIndex(t *testing.T) {
	fsm := newFakeFSM()
	r := newBareLeader("s1", map[string]string{"s1": "a1", "s2": "a2"}, fsm)
	r.log.append(LogEntry{Term: 1, Payload: []byte("x")})
	r.log.append(LogEntry{Term: 1, Payload: []byte("y")})
	d := r.servers["s2"]
	d.NextIndex = r.log.logEnd()
	d.Inflight = true

	r.handleAppendReply(raftrpc.AppendReply{
		Header:       raftrpc.Header{From: "s2"},
		Term:         1,
		Success:      false,
		PrevLogIndex: d.NextIndex - 1,
	})
	// Backed off to index 2, then entry 2 is re-sent at once, which marks the
	// peer in flight and advances NextIndex optimistically to 3.
	require.Equal(t, uint64(3), d.NextIndex)
	require.True(t, d.Inflight)
}

func TestHandleAppendReplyHigherTermSteppedDown(t *testing.T) {
	fsm := newFakeFSM()
	r := newBareLeader("s1", map[string]string{"s1": "a1", "s2": "a2"}, fsm)
	r.handleAppendReply(raftrpc.AppendReply{Header: raftrpc.Header{From: "s2"}, Term: 99})
	require.Equal(t, Follower, r.role)
	require.Equal(t, uint64(99), r.currentTerm)
}

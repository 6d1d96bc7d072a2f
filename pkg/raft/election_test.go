package raft

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/raftcore/pkg/raftrpc"
)

func newBareRaft(serverID string, members map[string]string) *Raft {
	r := &Raft{
		serverID: serverID,
		role:     Follower,
		log:      newLogStore(0, 1, members),
		servers:  map[string]*ServerDescriptor{},
		commands: newCommandTracker(),
	}
	for id, addr := range members {
		r.servers[id] = &ServerDescriptor{ServerID: id, Address: addr, Phase: PhaseStable}
	}
	r.cfg = Config{}.WithDefaults()
	return r
}

func TestHandleVoteRequestGrantsWhenLogUpToDate(t *testing.T) {
	r := newBareRaft("s1", map[string]string{"s1": "a1", "s2": "a2"})
	req := raftrpc.VoteRequest{
		Header:       raftrpc.Header{From: "s2"},
		Term:         1,
		LastLogIndex: r.log.lastIndex(),
		LastLogTerm:  0,
	}
	reply, _ := r.handleVoteRequest(req)
	require.True(t, reply.VoteGranted)
	require.Equal(t, "s2", r.votedFor)
}

func TestHandleVoteRequestRejectsStaleLog(t *testing.T) {
	r := newBareRaft("s1", map[string]string{"s1": "a1", "s2": "a2"})
	r.log.append(LogEntry{Term: 5, Payload: []byte("x")})

	req := raftrpc.VoteRequest{
		Header:       raftrpc.Header{From: "s2"},
		Term:         6,
		LastLogIndex: 0,
		LastLogTerm:  0,
	}
	reply, _ := r.handleVoteRequest(req)
	require.False(t, reply.VoteGranted)
}

func TestHandleVoteRequestRejectsAlreadyVoted(t *testing.T) {
	r := newBareRaft("s1", map[string]string{"s1": "a1", "s2": "a2", "s3": "a3"})
	r.currentTerm = 1
	r.votedFor = "s2"

	req := raftrpc.VoteRequest{
		Header:       raftrpc.Header{From: "s3"},
		Term:         1,
		LastLogIndex: r.log.lastIndex(),
	}
	reply, _ := r.handleVoteRequest(req)
	require.False(t, reply.VoteGranted)
}

func TestHandleVoteRequestHigherTermStepsDown(t *testing.T) {
	r := newBareRaft("s1", map[string]string{"s1": "a1", "s2": "a2"})
	r.role = Leader
	r.currentTerm = 1

	req := raftrpc.VoteRequest{
		Header:       raftrpc.Header{From: "s2"},
		Term:         5,
		LastLogIndex: r.log.lastIndex(),
	}
	reply, _ := r.handleVoteRequest(req)
	require.True(t, reply.VoteGranted)
	require.Equal(t, Follower, r.role)
	require.Equal(t, uint64(5), r.currentTerm)
}

func TestBecomeCandidateSingleNodeBecomesLeaderImmediately(t *testing.T) {
	r := newBareRaft("s1", map[string]string{"s1": "a1"})
	r.registry = nil // no peers to contact; single-member shortcut must not need it
	r.becomeCandidate()
	require.Equal(t, Leader, r.role)
}

func TestHandleVoteReplyMajorityPromotesToLeader(t *testing.T) {
	r := newBareRaft("s1", map[string]string{"s1": "a1", "s2": "a2", "s3": "a3"})
	r.role = Candidate
	r.currentTerm = 2
	r.votesGranted = map[string]bool{"s1": true}

	r.handleVoteReply(raftrpc.VoteReply{Header: raftrpc.Header{From: "s2"}, Term: 2, VoteGranted: true})
	require.Equal(t, Leader, r.role)
}

func TestHandleVoteReplyHigherTermSteppedDown(t *testing.T) {
	r := newBareRaft("s1", map[string]string{"s1": "a1", "s2": "a2"})
	r.role = Candidate
	r.currentTerm = 2
	r.votesGranted = map[string]bool{"s1": true}

	r.handleVoteReply(raftrpc.VoteReply{Header: raftrpc.Header{From: "s2"}, Term: 9, VoteGranted: false})
	require.Equal(t, Follower, r.role)
	require.Equal(t, uint64(9), r.currentTerm)
}

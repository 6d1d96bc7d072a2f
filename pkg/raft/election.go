package raft

import (
	"math/rand"
	"time"

	"github.com/cuemby/raftcore/pkg/raftrpc"
	"github.com/cuemby/raftcore/pkg/recordlog"
)

// persistTermVote appends the current current_term/voted_for pair to the
// durable record log (spec.md §3: "current_term never decreases across
// restarts"; §4.9: "any durable state survives a crash"). It returns the
// sequence number a reply gated on this change must wait durable before
// being sent, or 0 when there is no backing durability tracker (unit tests
// that construct a bare Raft without a record log).
func (r *Raft) persistTermVote() uint64 {
	d := r.durability.Load()
	if d == nil {
		return 0
	}
	seq, err := d.Append(recordlog.TermRecord(r.currentTerm, r.votedFor))
	if err != nil {
		r.logError("persist term/vote", err)
		return 0
	}
	return seq
}

// resetElectionDeadline picks a fresh randomized election timeout in
// [base, base+range) (spec.md §4.4), called whenever this server hears
// from a current leader or grants a vote.
func (r *Raft) resetElectionDeadline() {
	jitter := time.Duration(0)
	if r.cfg.ElectionTimeoutRange > 0 {
		jitter = time.Duration(rand.Int63n(int64(r.cfg.ElectionTimeoutRange)))
	}
	r.electionDeadline = r.clock().Add(r.cfg.ElectionTimeoutBase + jitter)
}

// shortenElectionDeadline brings the timeout forward to "now", so the next
// election check fires at once. Nothing in the package calls it: a dropped
// session to the current leader is noticed only when the regular election
// timeout expires.
func (r *Raft) shortenElectionDeadline() {
	r.electionDeadline = r.clock()
}

// becomeFollower steps down to Follower at term, clearing any leader-only
// or candidate-only bookkeeping (spec.md §4.3: "a server seeing a higher
// term in any RPC must step down").
func (r *Raft) becomeFollower(term uint64, leaderHint string) uint64 {
	var seq uint64
	if term > r.currentTerm {
		r.currentTerm = term
		r.votedFor = ""
		seq = r.persistTermVote()
	}
	wasLeader := r.role == Leader
	r.role = Follower
	if leaderHint != "" {
		r.leaderID = leaderHint
	}
	r.resetElectionDeadline()
	if wasLeader {
		r.commands.FailFrom(0, LostLeadership)
		r.cancelReplication()
	}
	return seq
}

// becomeCandidate starts a new election: bump term, vote for self, request
// votes from every voting peer (spec.md §4.4).
func (r *Raft) becomeCandidate() {
	r.currentTerm++
	r.role = Candidate
	r.votedFor = r.serverID
	r.leaderID = ""
	r.persistTermVote()
	r.resetElectionDeadline()

	members := r.votingMembers()
	r.votesGranted = map[string]bool{r.serverID: true}
	if len(members) == 1 && members[0] == r.serverID {
		r.becomeLeader()
		return
	}

	lastIndex, lastTerm := r.log.lastIndexTerm()
	req := raftrpc.VoteRequest{
		Header:       raftrpc.Header{Cluster: r.clusterID, From: r.serverID},
		Term:         r.currentTerm,
		LastLogIndex: lastIndex,
		LastLogTerm:  lastTerm,
	}
	for _, id := range members {
		if id == r.serverID {
			continue
		}
		req.To = id
		r.sendTo(id, req)
	}
}

// becomeLeader transitions a candidate that has won its election into
// leader role: every peer's NextIndex resets to logEnd (spec.md §4.5), and
// an immediate empty AppendRequest round establishes authority without
// waiting a full heartbeat interval.
func (r *Raft) becomeLeader() {
	r.role = Leader
	r.leaderID = r.serverID
	for _, d := range r.servers {
		d.NextIndex = r.log.logEnd()
		d.MatchIndex = 0
		d.Inflight = false
	}
	if d, ok := r.servers[r.serverID]; ok {
		d.MatchIndex = r.log.lastIndex()
	}
	if r.onElection != nil {
		r.onElection()
	}
	r.broadcastAppend()
}

// handleVoteRequest implements the RequestVote RPC handler (spec.md §4.4).
// It returns the reply alongside the durability sequence number the grant
// (if any) must reach durable status at before dispatch may send it — a
// granted vote is a promise this server will never grant another in the
// same term, so it must not be told to a peer before that promise is
// fsynced (spec.md §4.1, §8 vote-safety scenario 5).
func (r *Raft) handleVoteRequest(req raftrpc.VoteRequest) (raftrpc.VoteReply, uint64) {
	var seq uint64
	if req.Term > r.currentTerm {
		seq = r.becomeFollower(req.Term, "")
	}
	reply := raftrpc.VoteReply{
		Header: raftrpc.Header{Cluster: r.clusterID, From: r.serverID, To: req.From},
		Term:   r.currentTerm,
	}
	if req.Term < r.currentTerm {
		return reply, 0
	}
	if r.votedFor != "" && r.votedFor != req.From {
		return reply, 0
	}
	lastIndex, lastTerm := r.log.lastIndexTerm()
	logOK := req.LastLogTerm > lastTerm || (req.LastLogTerm == lastTerm && req.LastLogIndex >= lastIndex)
	if !logOK {
		return reply, 0
	}
	r.votedFor = req.From
	seq = r.persistTermVote()
	r.resetElectionDeadline()
	reply.VoteGranted = true
	return reply, seq
}

// handleVoteReply tallies a granted vote and promotes to leader once a
// majority of voting members has granted (spec.md §4.4).
func (r *Raft) handleVoteReply(reply raftrpc.VoteReply) {
	if reply.Term > r.currentTerm {
		r.becomeFollower(reply.Term, "")
		return
	}
	if r.role != Candidate || reply.Term != r.currentTerm || !reply.VoteGranted {
		return
	}
	r.votesGranted[reply.From] = true
	members := r.votingMembers()
	granted := 0
	for _, id := range members {
		if r.votesGranted[id] {
			granted++
		}
	}
	if granted*2 > len(members) {
		r.becomeLeader()
	}
}

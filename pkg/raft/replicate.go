package raft

import (
	"sort"
	"time"

	"github.com/cuemby/raftcore/pkg/raftrpc"
)

// inflightTimeout bounds how long a single outstanding AppendRequest is
// trusted before broadcastAppend treats its ack as lost and lets
// replicateTo probe the peer again — otherwise a single dropped reply under
// single-in-flight pipelining would stall that peer's replication forever.
const inflightTimeout = 2 * time.Second

// broadcastAppend sends every peer (voting or still catching up) the
// AppendRequest or InstallSnapshotRequest its NextIndex currently calls for
// (spec.md §4.5). Called on the heartbeat tick and immediately after any
// local log append.
func (r *Raft) broadcastAppend() {
	if r.role != Leader {
		return
	}
	for id, d := range r.servers {
		if id == r.serverID {
			continue
		}
		if d.Inflight && r.clock().Sub(d.InflightSince) > inflightTimeout {
			d.Inflight = false
		}
		r.replicateTo(id, d)
	}
}

// replicateTo sends id the next thing its NextIndex calls for: a snapshot
// if it has fallen behind the retained log, otherwise a single-entry
// AppendRequest (spec.md §4.6's named single-in-flight pipelining — one
// entry per request, never a batch). NextIndex is advanced optimistically
// as soon as the request is sent rather than waiting for the ack, so a
// steady stream of CommandExecute calls pipelines one request per RTT
// instead of stalling on each round trip; a second call while one request
// is still outstanding is a no-op; handleAppendReply drives the next entry
// as soon as the previous one's reply arrives.
func (r *Raft) replicateTo(id string, d *ServerDescriptor) {
	if d.Inflight {
		return
	}
	if d.NextIndex <= r.log.prevIndex() {
		r.sendInstallSnapshot(id, d)
		return
	}

	prevIndex := d.NextIndex - 1
	prevTerm, ok := r.log.termAt(prevIndex)
	if !ok {
		r.sendInstallSnapshot(id, d)
		return
	}

	entries := r.entriesFrom(d.NextIndex)
	req := raftrpc.AppendRequest{
		Header:       raftrpc.Header{Cluster: r.clusterID, From: r.serverID, To: id},
		Term:         r.currentTerm,
		Leader:       r.serverID,
		PrevLogIndex: prevIndex,
		PrevLogTerm:  prevTerm,
		LeaderCommit: r.commitIndex,
		Entries:      entries,
	}
	if len(entries) > 0 {
		d.Inflight = true
		d.InflightSince = r.clock()
		d.NextIndex = prevIndex + 1 + uint64(len(entries))
	}
	r.sendTo(id, req)
}

// entriesFrom returns at most the single entry at index from: single-in-flight
// pipelining sends one entry per AppendRequest rather than batching
// everything up to logEnd (spec.md §4.6).
func (r *Raft) entriesFrom(from uint64) []raftrpc.WireEntry {
	if from >= r.log.logEnd() {
		return nil
	}
	e, ok := r.log.entryAt(from)
	if !ok {
		return nil
	}
	return []raftrpc.WireEntry{wireEntryOf(e)}
}

func wireEntryOf(e LogEntry) raftrpc.WireEntry {
	if e.Type == EntryServerConfig {
		servers, err := decodeServerSet(e.Payload)
		if err != nil {
			servers = map[string]string{}
		}
		return raftrpc.WireEntry{Term: e.Term, Servers: servers}
	}
	data := string(e.Payload)
	return raftrpc.WireEntry{Term: e.Term, Data: &data}
}

func logEntryOf(w raftrpc.WireEntry) LogEntry {
	if w.Servers != nil {
		return LogEntry{Term: w.Term, Type: EntryServerConfig, Payload: encodeServerSetWire(w.Servers)}
	}
	data := ""
	if w.Data != nil {
		data = *w.Data
	}
	return LogEntry{Term: w.Term, Type: EntryData, Payload: []byte(data)}
}

func encodeServerSetWire(servers map[string]string) []byte {
	descs := make(map[string]*ServerDescriptor, len(servers))
	for id, addr := range servers {
		descs[id] = &ServerDescriptor{ServerID: id, Address: addr}
	}
	return encodeServerSet(descs)
}

// handleAppendRequest implements the AppendEntries RPC handler (spec.md
// §4.5). It returns the reply alongside the durability sequence number a
// positive reply must wait durable at before being sent — either the
// step-down term/vote record, or the last entry appended this call,
// whichever is higher, or 0 when nothing new needed persisting.
func (r *Raft) handleAppendRequest(req raftrpc.AppendRequest) (raftrpc.AppendReply, uint64) {
	var seq uint64
	if req.Term >= r.currentTerm {
		seq = r.becomeFollower(req.Term, req.Leader)
	}
	reply := raftrpc.AppendReply{
		Header: raftrpc.Header{Cluster: r.clusterID, From: r.serverID, To: req.From},
		Term:   r.currentTerm,
		LogEnd: r.log.logEnd(),
	}
	if req.Term < r.currentTerm {
		return reply, 0
	}
	r.leaderID = req.Leader
	r.resetElectionDeadline()

	prevTerm, ok := r.log.termAt(req.PrevLogIndex)
	if !ok || prevTerm != req.PrevLogTerm {
		reply.PrevLogIndex = req.PrevLogIndex
		reply.PrevLogTerm = req.PrevLogTerm
		reply.Success = false
		return reply, 0
	}

	next := req.PrevLogIndex + 1
	for i, w := range req.Entries {
		idx := next + uint64(i)
		entry := logEntryOf(w)
		if existingTerm, ok := r.log.termAt(idx); ok {
			if existingTerm == entry.Term {
				continue
			}
			r.log.truncateFrom(idx)
		}
		if s := r.appendLocal(idx, entry); s > 0 {
			seq = s
		}
	}

	if req.LeaderCommit > r.commitIndex {
		r.advanceCommitTo(min64(req.LeaderCommit, r.log.lastIndex()))
	}

	reply.Success = true
	reply.LogEnd = r.log.logEnd()
	reply.NEntries = uint64(len(req.Entries))
	return reply, seq
}

// appendLocal appends entry at idx, assuming idx == log.logEnd() (true for
// both a leader's own CommandExecute and a follower replicating in order).
// It returns the durability sequence number the append must reach durable
// status at, or 0 if there was no durability tracker backing it.
func (r *Raft) appendLocal(idx uint64, entry LogEntry) uint64 {
	if idx != r.log.logEnd() {
		return 0
	}
	r.log.append(entry)
	rec := entryRecord(r.clusterID, idx, entry)
	var seq uint64
	if d := r.durability.Load(); d != nil {
		s, err := d.Append(rec)
		if err != nil {
			r.logError("append local entry", err)
		} else {
			seq = s
		}
	}
	if entry.Type == EntryServerConfig {
		if set, err := decodeServerSet(entry.Payload); err == nil {
			r.applyServerSet(set)
		}
	}
	return seq
}

// handleAppendReply advances a peer's NextIndex/MatchIndex, clears its
// in-flight marker so replicateTo can pipeline the next entry, and on
// rejection rolls NextIndex back to where the follower said the logs
// diverged before backing off one further entry (spec.md §4.5's
// conflict-backoff).
func (r *Raft) handleAppendReply(reply raftrpc.AppendReply) {
	if reply.Term > r.currentTerm {
		r.becomeFollower(reply.Term, "")
		return
	}
	if r.role != Leader || reply.Term != r.currentTerm {
		return
	}
	d, ok := r.servers[reply.From]
	if !ok {
		return
	}
	d.Inflight = false
	if reply.Success {
		d.MatchIndex = reply.LogEnd - 1
		d.NextIndex = reply.LogEnd
		r.onPeerCaughtUp(reply.From, d)
		r.maybeAdvanceCommit()
		r.replicateTo(reply.From, d)
		return
	}
	next := reply.PrevLogIndex
	if next > r.log.prevIndex()+1 {
		next--
	}
	d.NextIndex = next
	r.replicateTo(reply.From, d)
}

// onPeerCaughtUp moves a Catchup-phase server that has caught up straight to
// Committing (PhaseCaughtUp is not used as a separate step) and proposes the
// membership-change entry (spec.md §4.7).
func (r *Raft) onPeerCaughtUp(id string, d *ServerDescriptor) {
	if d.Phase == PhaseCatchup && caughtUp(d, r.log.logEnd()) {
		d.Phase = PhaseCommitting
		r.proposeServerSet()
	}
}

// maybeAdvanceCommit recomputes commitIndex as the highest index held by a
// majority of voting members, honoring the Raft §5.4.2 restriction that a
// leader may only advance commitIndex to an entry from its own current
// term (spec.md §4.6).
func (r *Raft) maybeAdvanceCommit() {
	members := r.votingMembers()
	if len(members) == 0 {
		return
	}
	matches := make([]uint64, 0, len(members))
	for _, id := range members {
		if id == r.serverID {
			matches = append(matches, r.log.lastIndex())
			continue
		}
		if d, ok := r.servers[id]; ok {
			matches = append(matches, d.MatchIndex)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i] > matches[j] })
	majorityIndex := matches[(len(matches)-1)/2]
	if majorityIndex <= r.commitIndex {
		return
	}
	if term, ok := r.log.termAt(majorityIndex); !ok || term != r.currentTerm {
		return
	}
	r.advanceCommitTo(majorityIndex)
}

// advanceCommitTo moves commitIndex forward and applies every
// newly-committed entry to the state machine in order (spec.md §4.6).
func (r *Raft) advanceCommitTo(index uint64) {
	if index <= r.commitIndex {
		return
	}
	start := r.commitIndex + 1
	if start < r.log.logStart {
		// Indices up to prevIndex are covered by the snapshot prefix.
		start = r.log.logStart
	}
	for idx := start; idx <= index; idx++ {
		entry, ok := r.log.entryAt(idx)
		if !ok {
			break
		}
		if entry.Type == EntryData {
			if err := r.fsm.Apply(idx, entry.Payload); err != nil {
				r.logError("apply committed entry", err)
			}
		}
		r.lastApplied = idx
	}
	r.commitIndex = index
	r.commands.Resolve(index)
	if r.unsnapshottedBytes() > r.snapshotEvictionThreshold {
		if err := r.takeLocalSnapshot(); err != nil {
			r.logError("take local snapshot", err)
		}
	}
}

func (r *Raft) unsnapshottedBytes() uint64 {
	var n uint64
	for idx := r.log.prevIndex() + 1; idx <= r.commitIndex; idx++ {
		if e, ok := r.log.entryAt(idx); ok {
			n += uint64(len(e.Payload))
		}
	}
	return n
}

func (r *Raft) sendInstallSnapshot(id string, d *ServerDescriptor) {
	out, ok := r.outgoingSnapshots[id]
	if !ok {
		data, err := r.fsm.Snapshot()
		if err != nil {
			r.logError("snapshot for install", err)
			return
		}
		out = newOutgoingSnapshot(r.log.prevTerm, r.log.prevIndex(), snapshotServerMap(r.servers), data, r.cfg.SnapshotChunkSize)
		r.outgoingSnapshots[id] = out
	}
	req, ok := out.nextRequest(r.currentTerm)
	if !ok {
		delete(r.outgoingSnapshots, id)
		d.NextIndex = out.lastIndex + 1
		d.MatchIndex = out.lastIndex
		r.onPeerCaughtUp(id, d)
		return
	}
	req.Header = raftrpc.Header{Cluster: r.clusterID, From: r.serverID, To: id}
	r.sendTo(id, req)
}

// handleInstallSnapshotRequest implements the follower-side InstallSnapshot
// handler, accumulating chunks until the whole snapshot has arrived (spec.md
// §4.8).
func (r *Raft) handleInstallSnapshotRequest(req raftrpc.InstallSnapshotRequest) raftrpc.InstallSnapshotReply {
	if req.Term >= r.currentTerm {
		r.becomeFollower(req.Term, req.From)
	}
	reply := raftrpc.InstallSnapshotReply{
		Header:    raftrpc.Header{Cluster: r.clusterID, From: r.serverID, To: req.From},
		Term:      r.currentTerm,
		LastIndex: req.LastIndex,
		LastTerm:  req.LastTerm,
	}
	if req.Term < r.currentTerm {
		return reply
	}
	if r.incoming == nil || r.incoming.lastIndex != req.LastIndex || r.incoming.lastTerm != req.LastTerm {
		r.incoming = &incomingSnapshot{
			fromTerm: req.Term, fromLeader: req.From,
			lastTerm: req.LastTerm, lastIndex: req.LastIndex,
			lastServers: req.LastServers, length: req.Length,
		}
	}
	r.incoming.appendChunk(req.Offset, req.Data)
	reply.NextOffset = uint64(len(r.incoming.data))
	if r.incoming.complete() {
		r.installSnapshot(r.incoming)
		r.incoming = nil
	}
	return reply
}

func (r *Raft) installSnapshot(s *incomingSnapshot) {
	r.fsm.Reset()
	if err := r.fsm.Restore(s.lastIndex, s.data); err != nil {
		r.logError("restore installed snapshot", err)
		return
	}
	r.log.shiftBase(s.lastTerm, s.lastIndex, s.lastServers)
	r.commitIndex = s.lastIndex
	r.lastApplied = s.lastIndex
	r.applyServerSet(s.lastServers)

	header := r.headerRecordLocal()
	rec := r.snapshotRecordLocal(s)
	if f, err := r.replaceLogWithSnapshot(header, rec); err != nil {
		r.logError("persist installed snapshot", err)
	} else {
		r.durability.Store(newDurabilityTracker(f))
	}
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

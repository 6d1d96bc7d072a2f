package raft

import (
	"github.com/cuemby/raftcore/pkg/raftrpc"
	"github.com/cuemby/raftcore/pkg/recordlog"
)

// incomingSnapshot accumulates InstallSnapshot chunks from the current
// leader into a single buffer before Restore is called, since the state
// machine's Restore contract takes the whole payload at once (spec.md
// §4.8).
type incomingSnapshot struct {
	fromTerm    uint64
	fromLeader  string
	lastTerm    uint64
	lastIndex   uint64
	lastServers map[string]string
	length      uint64
	data        []byte
}

func (s *incomingSnapshot) appendChunk(offset uint64, chunk string) bool {
	if offset != uint64(len(s.data)) {
		return false // out-of-order chunk; caller should restart the transfer
	}
	s.data = append(s.data, chunk...)
	return true
}

func (s *incomingSnapshot) complete() bool {
	return uint64(len(s.data)) >= s.length
}

// outgoingSnapshot is the leader-side cursor over a snapshot being streamed
// to one catching-up or lagging follower, chunked on UTF-8 boundaries so no
// multi-byte rune straddles two InstallSnapshotRequest messages (spec.md
// §4.8, pkg/raftrpc's ChunkUTF8).
type outgoingSnapshot struct {
	lastTerm    uint64
	lastIndex   uint64
	lastServers map[string]string
	chunks      []string
	next        int // index into chunks of the next one to send
	sentOffset  uint64
}

func newOutgoingSnapshot(lastTerm, lastIndex uint64, lastServers map[string]string, data []byte, chunkSize int) *outgoingSnapshot {
	return &outgoingSnapshot{
		lastTerm:    lastTerm,
		lastIndex:   lastIndex,
		lastServers: lastServers,
		chunks:      raftrpc.ChunkUTF8(string(data), chunkSize),
	}
}

func (o *outgoingSnapshot) length() uint64 {
	var n uint64
	for _, c := range o.chunks {
		n += uint64(len(c))
	}
	return n
}

// nextRequest builds the next InstallSnapshotRequest in the sequence, or
// ok=false once every chunk has been sent.
func (o *outgoingSnapshot) nextRequest(term uint64) (raftrpc.InstallSnapshotRequest, bool) {
	if o.next >= len(o.chunks) {
		return raftrpc.InstallSnapshotRequest{}, false
	}
	chunk := o.chunks[o.next]
	req := raftrpc.InstallSnapshotRequest{
		Term:        term,
		LastIndex:   o.lastIndex,
		LastTerm:    o.lastTerm,
		LastServers: o.lastServers,
		Length:      o.length(),
		Offset:      o.sentOffset,
		Data:        chunk,
	}
	o.next++
	o.sentOffset += uint64(len(chunk))
	return req, true
}

// takeLocalSnapshot asks the state machine for a snapshot at the current
// commit index and rewrites the record log so it starts from that
// snapshot, discarding entries the snapshot now makes redundant (spec.md
// §4.8's local-trigger path, as opposed to an install driven by a remote
// leader).
func (r *Raft) takeLocalSnapshot() error {
	data, err := r.fsm.Snapshot()
	if err != nil {
		return stateErrorf("state machine snapshot: %w", err)
	}
	prevTerm, ok := r.log.termAt(r.commitIndex)
	if !ok {
		return stateErrorf("no term recorded at commit index %d", r.commitIndex)
	}
	prevServers := snapshotServerMap(r.servers)

	header := recordlog.HeaderRecord(r.clusterID, r.serverID)
	snap := recordlog.SnapshotRecord(prevTerm, r.commitIndex, prevServers, string(data))

	repl, err := recordlog.ReplaceStart(r.cfg.DataDir+"/raft.log", header, snap)
	if err != nil {
		return ioErrorf("start snapshot replacement: %w", err)
	}
	for idx := r.commitIndex + 1; idx < r.log.logEnd(); idx++ {
		entry, ok := r.log.entryAt(idx)
		if !ok {
			continue
		}
		if err := repl.Append(entryRecord(r.clusterID, idx, entry)); err != nil {
			_ = repl.Abort()
			return ioErrorf("append retained entry during snapshot: %w", err)
		}
	}
	f, err := repl.Commit()
	if err != nil {
		return ioErrorf("commit snapshot replacement: %w", err)
	}
	r.durability.Store(newDurabilityTracker(f))
	r.log.shiftBase(prevTerm, r.commitIndex, prevServers)
	return nil
}

func entryRecord(clusterID string, index uint64, e LogEntry) recordlog.Record {
	if e.Type == EntryServerConfig {
		servers, err := decodeServerSet(e.Payload)
		if err != nil {
			servers = map[string]string{}
		}
		return recordlog.ServersEntryRecord(e.Term, index, servers)
	}
	data := string(e.Payload)
	return recordlog.DataEntryRecord(e.Term, index, data)
}

func snapshotServerMap(servers map[string]*ServerDescriptor) map[string]string {
	out := make(map[string]string, len(servers))
	for id, d := range servers {
		if d.Phase != PhaseRemove {
			out[id] = d.Address
		}
	}
	return out
}

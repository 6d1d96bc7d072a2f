package raft

import "encoding/json"

// serverSetEntry is the wire/log form of one ServerDescriptor. Only the
// fields that are part of the agreed-upon configuration are serialized;
// NextIndex/MatchIndex/Voted are leader-local bookkeeping recomputed after
// any restart or role change (spec.md §3: "the server set is the only part
// of a ServerDescriptor that is replicated").
type serverSetEntry struct {
	ServerID string `json:"server_id"`
	Address  string `json:"address"`
}

// encodeServerSet serializes servers into an EntryServerConfig payload.
func encodeServerSet(servers map[string]*ServerDescriptor) []byte {
	entries := make([]serverSetEntry, 0, len(servers))
	for id, d := range servers {
		if d.Phase == PhaseRemove {
			continue
		}
		entries = append(entries, serverSetEntry{ServerID: id, Address: d.Address})
	}
	data, _ := json.Marshal(entries)
	return data
}

// decodeServerSet parses an EntryServerConfig payload back into a plain
// id->address map (phases and replication bookkeeping are not part of the
// replicated record; a server applying this entry is always transitioning
// those members to PhaseStable).
func decodeServerSet(payload []byte) (map[string]string, error) {
	var entries []serverSetEntry
	if err := json.Unmarshal(payload, &entries); err != nil {
		return nil, syntaxErrorf("decode server-set entry: %w", err)
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		out[e.ServerID] = e.Address
	}
	return out, nil
}

// applyServerSet reconciles r.servers with the decoded set taken effect at
// a just-applied EntryServerConfig entry (called both when replaying the
// log at startup and when such an entry is appended locally, before it
// commits).
func (r *Raft) applyServerSet(set map[string]string) {
	for id := range r.servers {
		if _, ok := set[id]; !ok {
			delete(r.servers, id)
		}
	}
	for id, addr := range set {
		d, ok := r.servers[id]
		if !ok {
			r.servers[id] = &ServerDescriptor{ServerID: id, Address: addr, Phase: PhaseStable}
			continue
		}
		d.Address = addr
		if d.Phase == PhaseCommitting {
			d.Phase = PhaseStable
		}
	}
}

// beginAddServer starts the Catchup phase for a new server (spec.md §4.7
// / §6.2 AddServer). The caller (raft.go) is responsible for rejecting the
// call outright when not leader or when another change is already in
// flight.
func (r *Raft) beginAddServer(serverID, address string) {
	r.servers[serverID] = &ServerDescriptor{
		ServerID:  serverID,
		Address:   address,
		Phase:     PhaseCatchup,
		NextIndex: r.log.logEnd(),
	}
}

// beginRemoveServer marks serverID for removal; actual removal happens once
// the resulting EntryServerConfig entry is appended (appendLocal calls
// applyServerSet, which will no longer see it in the set).
func (r *Raft) beginRemoveServer(serverID string) {
	if d, ok := r.servers[serverID]; ok {
		d.Phase = PhaseRemove
	}
}

// inFlightMembershipChange reports whether any server is mid-reconfiguration,
// since spec.md §6.2 allows only one such change at a time.
func (r *Raft) inFlightMembershipChange() bool {
	for _, d := range r.servers {
		switch d.Phase {
		case PhaseCatchup, PhaseCaughtUp, PhaseCommitting, PhaseRemove:
			return true
		}
	}
	return false
}

// caughtUp reports whether d's MatchIndex has closed to within one entry of
// the leader's log end, the threshold at which onPeerCaughtUp promotes a
// Catchup server and proposes a config entry (spec.md §4.7).
func caughtUp(d *ServerDescriptor, logEnd uint64) bool {
	return d.MatchIndex+1 >= logEnd
}

// votingMembers returns the server IDs counted toward an election or commit
// majority: every stable or committing member, but not one still in
// Catchup/CaughtUp (not yet part of the agreed configuration) nor one
// marked for removal.
func (r *Raft) votingMembers() []string {
	ids := make([]string, 0, len(r.servers))
	for id, d := range r.servers {
		switch d.Phase {
		case PhaseStable, PhaseCommitting:
			ids = append(ids, id)
		}
	}
	return ids
}

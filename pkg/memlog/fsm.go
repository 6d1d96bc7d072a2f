// Package memlog is a minimal in-memory raft.StateMachine: an ordered log of
// applied byte payloads, snapshotted as a JSON array. It exists so cmd/raftd
// has something concrete to drive CommandExecute against; the real
// application-level state machine is explicitly out of scope for the Raft
// engine itself (spec.md's collaborators), so this is a reference
// implementation rather than part of the protocol.
package memlog

import (
	"encoding/json"
	"sync"
)

// FSM stores every applied command payload, in commit order.
type FSM struct {
	mu      sync.RWMutex
	entries [][]byte
}

// New returns an empty FSM.
func New() *FSM {
	return &FSM{}
}

// Apply appends payload to the in-memory log. index is the command's
// committed Raft log index, ignored here since entries is already in that
// order; it exists for state machines that key applied effects by index.
func (f *FSM) Apply(index uint64, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), payload...)
	f.entries = append(f.entries, cp)
	return nil
}

// Snapshot serializes the full entry log as a JSON array of strings;
// encoding/json base64-encodes each []byte entry.
func (f *FSM) Snapshot() ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return json.Marshal(f.entries)
}

// Restore replaces the entry log with a previously captured snapshot, or
// clears it if data is empty (the fresh-cluster case).
func (f *FSM) Restore(index uint64, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(data) == 0 {
		f.entries = nil
		return nil
	}
	var entries [][]byte
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	f.entries = entries
	return nil
}

// Reset discards all applied state, used when a follower's log diverges
// enough from the leader's that a remote InstallSnapshot replaces it wholesale.
func (f *FSM) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = nil
}

// Entries returns a copy of the applied log, newest last.
func (f *FSM) Entries() [][]byte {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([][]byte, len(f.entries))
	copy(out, f.entries)
	return out
}

// Len reports how many entries have been applied.
func (f *FSM) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.entries)
}

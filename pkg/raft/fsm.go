package raft

// StateMachine is the higher-level application collaborator spec.md §1
// explicitly places out of scope for this engine: Raft replicates and
// commits opaque entries, then hands each one to Apply in order. It never
// inspects Payload itself except for EntryServerConfig entries, which it
// interprets internally for membership (membership.go).
//
// Reset signals that the state machine's content has jumped discontinuously
// — after this server installed a snapshot it did not produce locally — and
// any incremental/cached view the state machine keeps must be rebuilt from
// SnapshotData rather than assumed to follow from the last Applied call.
// This resolves spec.md's open question on out-of-band snapshot signaling.
type StateMachine interface {
	// Apply applies one committed log entry's payload at index. Called in
	// strictly increasing index order, exactly once per committed index.
	Apply(index uint64, payload []byte) error

	// Snapshot returns a serialized snapshot of current state, taken
	// synchronously on the run loop at the given index.
	Snapshot() ([]byte, error)

	// Restore replaces all state machine content with data taken from a
	// snapshot at the given index, either the locally-produced one loaded at
	// startup or one installed from a remote leader.
	Restore(index uint64, data []byte) error

	// Reset is called immediately before Restore when data arrived via
	// InstallSnapshot from a leader rather than from this server's own prior
	// Snapshot call, so the state machine can distinguish "catching up from
	// a peer" from "reloading our own snapshot at startup".
	Reset()
}

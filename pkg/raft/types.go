// Package raft implements the core per-server Raft consensus engine:
// leader election, log replication, commit tracking, membership change,
// snapshot install, and the durability/ordering contract with the
// pkg/recordlog collaborator. It is driven by a single cooperative event
// loop (Run); all protocol state is touched only from that loop's
// goroutine (spec.md §5).
package raft

import (
	"time"

	"github.com/cuemby/raftcore/pkg/raftrpc"
)

// Role is a server's current position in the Raft protocol.
type Role int

const (
	Follower Role = iota
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "follower"
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	default:
		return "unknown"
	}
}

// EntryType distinguishes opaque application data from a membership
// configuration change (spec.md §3).
type EntryType int

const (
	EntryData EntryType = iota
	EntryServerConfig
)

// LogEntry is one replicated log entry. Payload is opaque to Raft except
// for EntryServerConfig entries, whose payload is a canonical server-set
// serialization (see membership.go).
type LogEntry struct {
	Term    uint64
	Type    EntryType
	Payload []byte
}

// ServerPhase is the membership-change sub-state of a configured server
// descriptor (spec.md §4.7).
type ServerPhase int

const (
	PhaseStable ServerPhase = iota
	PhaseCatchup
	PhaseCaughtUp
	PhaseCommitting
	PhaseRemove
)

func (p ServerPhase) String() string {
	switch p {
	case PhaseStable:
		return "stable"
	case PhaseCatchup:
		return "catchup"
	case PhaseCaughtUp:
		return "caught-up"
	case PhaseCommitting:
		return "committing"
	case PhaseRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// ServerDescriptor is one member of the cluster's server set (spec.md §3).
// NextIndex/MatchIndex/Voted are only meaningful on the leader / candidate
// respectively, but live here since a descriptor is otherwise identical
// regardless of local role.
type ServerDescriptor struct {
	ServerID string
	Address  string
	Phase    ServerPhase

	// Leader-only replication bookkeeping. Inflight/InflightSince implement
	// single-in-flight pipelining (spec.md §4.6): at most one AppendRequest
	// outstanding per peer, so NextIndex can be advanced optimistically
	// before the ack arrives instead of batching every pending entry into
	// one request.
	NextIndex     uint64
	MatchIndex    uint64
	Inflight      bool
	InflightSince time.Time

	// Candidate-only election bookkeeping.
	Voted bool
}

// CommandStatus is the lifecycle of a leader-submitted command (spec.md §6.3,
// §7).
type CommandStatus int

const (
	Incomplete CommandStatus = iota
	Success
	NotLeader
	LostLeadership
	Shutdown
)

func (s CommandStatus) String() string {
	switch s {
	case Incomplete:
		return "incomplete"
	case Success:
		return "success"
	case NotLeader:
		return "not-leader"
	case LostLeadership:
		return "lost-leadership"
	case Shutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// ServerOpStatus is the reply-status enum for AddServer/RemoveServer
// (spec.md §6.2), reusing raftrpc's wire values directly rather than a
// parallel set of constants with a translation step.
type ServerOpStatus = raftrpc.Status

const (
	OpNotLeader      = raftrpc.StatusNotLeader
	OpNoOp           = raftrpc.StatusNoOp
	OpInProgress     = raftrpc.StatusInProgress
	OpTimeout        = raftrpc.StatusTimeout
	OpLostLeadership = raftrpc.StatusLostLeadership
	OpCanceled       = raftrpc.StatusCanceled
	OpCommitting     = raftrpc.StatusCommitting
	OpEmpty          = raftrpc.StatusEmpty
	OpSuccess        = raftrpc.StatusSuccess
)

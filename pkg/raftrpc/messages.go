// Package raftrpc is the RPC codec collaborator (spec.md §4.2, §6.2): it
// converts each RPC variant to and from the single "notify"-style wire
// message the transport carries. Following spec.md §9's redesign flag away
// from a tagged C union, each RPC kind is its own Go type implementing the
// Message interface — dispatch on Kind is exhaustive and field access is
// type-safe, instead of one struct with every field optional.
package raftrpc

// Kind identifies an RPC variant. Values match the wire "method" name
// exactly (spec.md §6.2).
type Kind string

const (
	KindHelloRequest          Kind = "hello_request"
	KindAppendRequest         Kind = "append_request"
	KindAppendReply           Kind = "append_reply"
	KindVoteRequest           Kind = "vote_request"
	KindVoteReply             Kind = "vote_reply"
	KindAddServerRequest      Kind = "add_server_request"
	KindAddServerReply        Kind = "add_server_reply"
	KindRemoveServerRequest   Kind = "remove_server_request"
	KindRemoveServerReply     Kind = "remove_server_reply"
	KindInstallSnapshotRequest Kind = "install_snapshot_request"
	KindInstallSnapshotReply   Kind = "install_snapshot_reply"
)

// Status is the exact server-reply status enum of spec.md §6.2.
type Status string

const (
	StatusNotLeader      Status = "not-leader"
	StatusNoOp           Status = "no-op"
	StatusInProgress     Status = "in-progress"
	StatusTimeout        Status = "timeout"
	StatusLostLeadership Status = "lost-leadership"
	StatusCanceled       Status = "canceled"
	StatusCommitting     Status = "committing"
	StatusEmpty          Status = "empty"
	StatusSuccess        Status = "success"
)

// Header carries the common routing fields present (in full or in part) on
// every RPC: cluster id, sender, and intended recipient (spec.md §4.2).
type Header struct {
	Cluster string `json:"cluster,omitempty"`
	From    string `json:"from"`
	To      string `json:"to,omitempty"`
}

func (h Header) header() Header { return h }

// Message is satisfied by every RPC variant: a sum type in spirit, since
// dispatch always switches over Kind() to recover the concrete type.
type Message interface {
	Kind() Kind
	Envelope() Header
}

// WireEntry is one log entry as carried on the wire within an AppendRequest
// (spec.md §6.2): either a Data payload or a Servers (ServerConfig) payload.
type WireEntry struct {
	Term    uint64            `json:"term"`
	Data    *string           `json:"data,omitempty"`
	Servers map[string]string `json:"servers,omitempty"`
}

type HelloRequest struct {
	Header
}

func (m HelloRequest) Kind() Kind       { return KindHelloRequest }
func (m HelloRequest) Envelope() Header { return m.header() }

type AppendRequest struct {
	Header
	Term         uint64      `json:"term"`
	Leader       string      `json:"leader,omitempty"`
	PrevLogIndex uint64      `json:"prev_log_index"`
	PrevLogTerm  uint64      `json:"prev_log_term"`
	LeaderCommit uint64      `json:"leader_commit"`
	Entries      []WireEntry `json:"log"`
}

func (m AppendRequest) Kind() Kind       { return KindAppendRequest }
func (m AppendRequest) Envelope() Header { return m.header() }

type AppendReply struct {
	Header
	Term         uint64 `json:"term"`
	LogEnd       uint64 `json:"log_end"`
	PrevLogIndex uint64 `json:"prev_log_index"`
	PrevLogTerm  uint64 `json:"prev_log_term"`
	NEntries     uint64 `json:"n_entries"`
	Success      bool   `json:"success"`
}

func (m AppendReply) Kind() Kind       { return KindAppendReply }
func (m AppendReply) Envelope() Header { return m.header() }

type VoteRequest struct {
	Header
	Term         uint64 `json:"term"`
	LastLogIndex uint64 `json:"last_log_index"`
	LastLogTerm  uint64 `json:"last_log_term"`
}

func (m VoteRequest) Kind() Kind       { return KindVoteRequest }
func (m VoteRequest) Envelope() Header { return m.header() }

type VoteReply struct {
	Header
	Term        uint64 `json:"term"`
	VoteGranted bool   `json:"vote_granted"`
}

func (m VoteReply) Kind() Kind       { return KindVoteReply }
func (m VoteReply) Envelope() Header { return m.header() }

type AddServerRequest struct {
	Header
	ServerID string `json:"server_id"`
	Address  string `json:"address"`
}

func (m AddServerRequest) Kind() Kind       { return KindAddServerRequest }
func (m AddServerRequest) Envelope() Header { return m.header() }

type AddServerReply struct {
	Header
	Status        Status `json:"status"`
	LeaderAddress string `json:"leader_address,omitempty"`
	Leader        string `json:"leader,omitempty"`
}

func (m AddServerReply) Kind() Kind       { return KindAddServerReply }
func (m AddServerReply) Envelope() Header { return m.header() }

type RemoveServerRequest struct {
	Header
	ServerID string `json:"server_id"`
}

func (m RemoveServerRequest) Kind() Kind       { return KindRemoveServerRequest }
func (m RemoveServerRequest) Envelope() Header { return m.header() }

type RemoveServerReply struct {
	Header
	Status        Status `json:"status"`
	LeaderAddress string `json:"leader_address,omitempty"`
	Leader        string `json:"leader,omitempty"`
}

func (m RemoveServerReply) Kind() Kind       { return KindRemoveServerReply }
func (m RemoveServerReply) Envelope() Header { return m.header() }

type InstallSnapshotRequest struct {
	Header
	Term        uint64            `json:"term"`
	LastIndex   uint64            `json:"last_index"`
	LastTerm    uint64            `json:"last_term"`
	LastServers map[string]string `json:"last_servers"`
	Length      uint64            `json:"length"`
	Offset      uint64            `json:"offset"`
	Data        string            `json:"data"`
}

func (m InstallSnapshotRequest) Kind() Kind       { return KindInstallSnapshotRequest }
func (m InstallSnapshotRequest) Envelope() Header { return m.header() }

type InstallSnapshotReply struct {
	Header
	Term       uint64 `json:"term"`
	LastIndex  uint64 `json:"last_index"`
	LastTerm   uint64 `json:"last_term"`
	NextOffset uint64 `json:"next_offset"`
}

func (m InstallSnapshotReply) Kind() Kind       { return KindInstallSnapshotReply }
func (m InstallSnapshotReply) Envelope() Header { return m.header() }

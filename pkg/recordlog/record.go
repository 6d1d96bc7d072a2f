// Package recordlog implements the append-only framed record log that the
// Raft engine uses for all durable state (spec.md §4.1, §6.1). It is the
// out-of-scope "record log" collaborator spec.md calls for: open, read,
// append, fsync, and snapshot-rewrite (replace) operations over a file of
// framed records.
//
// A log file is: a magic header, a Header record, a Snapshot record, then
// zero or more appended records (each either a log-entry record or a
// term/vote record). Record kind is inferred positionally for the first two
// records and by field presence thereafter, matching the OVSDB wire format
// this spec distills: an entry record always carries an Index, a term/vote
// record never does.
package recordlog

import "fmt"

// Magic is the fixed string every record-log file begins with.
const Magic = "OVSDB RAFT"

// Record is the single wire shape for every record body. Which fields are
// meaningful depends on the record's position in the file (Header and
// Snapshot are singletons at offsets 0 and 1) or, for every record after
// that, on which fields are set.
type Record struct {
	// Header record (position 0 only).
	ClusterID string `json:"cluster_id,omitempty"`
	ServerID  string `json:"server_id,omitempty"`

	// Snapshot record (position 1 only).
	PrevTerm    uint64            `json:"prev_term,omitempty"`
	PrevIndex   uint64            `json:"prev_index,omitempty"`
	PrevServers map[string]string `json:"prev_servers,omitempty"`

	// Entry / term-update records (position 2+).
	Term    uint64            `json:"term,omitempty"`
	Index   *uint64           `json:"index,omitempty"`
	Data    *string           `json:"data,omitempty"`
	Servers map[string]string `json:"servers,omitempty"`
	Vote    *string           `json:"vote,omitempty"`
}

// IsEntry reports whether r is a log-entry append record (position 2+):
// entry records always carry an explicit index, term/vote records never do.
func (r Record) IsEntry() bool {
	return r.Index != nil
}

// IsTermUpdate reports whether r is a term/vote update record.
func (r Record) IsTermUpdate() bool {
	return r.Index == nil
}

// HeaderRecord builds the first record of a new log file.
func HeaderRecord(clusterID, serverID string) Record {
	return Record{ClusterID: clusterID, ServerID: serverID}
}

// SnapshotRecord builds the second record of a new log file.
func SnapshotRecord(prevTerm, prevIndex uint64, prevServers map[string]string, data string) Record {
	r := Record{PrevTerm: prevTerm, PrevIndex: prevIndex, PrevServers: prevServers}
	if data != "" {
		r.Data = &data
	}
	return r
}

// DataEntryRecord builds an appended log-entry record carrying an opaque
// data payload.
func DataEntryRecord(term, index uint64, data string) Record {
	return Record{Term: term, Index: &index, Data: &data}
}

// ServersEntryRecord builds an appended log-entry record carrying a
// ServerConfig payload.
func ServersEntryRecord(term, index uint64, servers map[string]string) Record {
	return Record{Term: term, Index: &index, Servers: servers}
}

// TermRecord builds a term/vote update record.
func TermRecord(term uint64, vote string) Record {
	r := Record{Term: term}
	if vote != "" {
		r.Vote = &vote
	}
	return r
}

func (r Record) String() string {
	switch {
	case r.ClusterID != "" && r.ServerID != "":
		return fmt.Sprintf("header{cluster=%s server=%s}", r.ClusterID, r.ServerID)
	case r.IsEntry():
		kind := "data"
		if r.Servers != nil {
			kind = "servers"
		}
		return fmt.Sprintf("entry{term=%d index=%d kind=%s}", r.Term, *r.Index, kind)
	default:
		return fmt.Sprintf("term{term=%d vote=%v}", r.Term, r.Vote)
	}
}

package raft

// logStore is the in-memory log [logStart, logEnd) plus the snapshot
// prefix (prevTerm, prevIndex, prevServers) it sits on top of (spec.md §3,
// §4.1). It models the log as a growable slice with a virtual base index,
// per spec.md §9's redesign note, rather than re-deriving offsets from disk
// on every access.
type logStore struct {
	entries []LogEntry // entries[i] is log index logStart+i

	logStart    uint64 // = prevIndex + 1
	prevTerm    uint64
	prevServers map[string]string
}

// newLogStore creates a fresh log sitting on top of the given snapshot
// prefix. A brand-new cluster starts with prevIndex = 1, prevTerm = 0
// (spec.md §3: "A freshly created cluster has log_start = log_end = 2").
func newLogStore(prevTerm, prevIndex uint64, prevServers map[string]string) *logStore {
	return &logStore{
		logStart:    prevIndex + 1,
		prevTerm:    prevTerm,
		prevServers: prevServers,
	}
}

func (l *logStore) prevIndex() uint64 { return l.logStart - 1 }
func (l *logStore) logEnd() uint64    { return l.logStart + uint64(len(l.entries)) }
func (l *logStore) lastIndex() uint64 { return l.logEnd() - 1 }

// termAt returns the term of the entry at index, including the sentinel
// term at prevIndex (spec.md §3 invariant 2).
func (l *logStore) termAt(index uint64) (uint64, bool) {
	if index == l.prevIndex() {
		return l.prevTerm, true
	}
	if index < l.logStart || index >= l.logEnd() {
		return 0, false
	}
	return l.entries[index-l.logStart].Term, true
}

func (l *logStore) entryAt(index uint64) (LogEntry, bool) {
	if index < l.logStart || index >= l.logEnd() {
		return LogEntry{}, false
	}
	return l.entries[index-l.logStart], true
}

// append adds e at logEnd() and returns its assigned index.
func (l *logStore) append(e LogEntry) uint64 {
	idx := l.logEnd()
	l.entries = append(l.entries, e)
	return idx
}

// truncateFrom discards every entry at index >= from (spec.md §4.5: a
// mismatch during AppendEntries truncates the follower's uncommitted tail).
// It is a no-op if from is already >= logEnd().
func (l *logStore) truncateFrom(from uint64) {
	if from >= l.logEnd() {
		return
	}
	if from < l.logStart {
		from = l.logStart
	}
	l.entries = l.entries[:from-l.logStart]
}

// lastIndexTerm returns (lastIndex, term-at-lastIndex) used to build
// VoteRequest's last_log_index/last_log_term (spec.md §4.4).
func (l *logStore) lastIndexTerm() (uint64, uint64) {
	idx := l.lastIndex()
	term, ok := l.termAt(idx)
	if !ok {
		term = l.prevTerm
	}
	return idx, term
}

// shiftBase discards the log's head up to and including newPrevIndex,
// replacing the snapshot prefix (spec.md §4.8 install-snapshot). Any
// entries with index > newPrevIndex are kept; entries at or before it are
// dropped. If newPrevIndex >= logEnd(), the whole log is discarded.
func (l *logStore) shiftBase(newPrevTerm, newPrevIndex uint64, newPrevServers map[string]string) {
	if newPrevIndex >= l.logEnd()-1 {
		l.entries = nil
		l.logStart = newPrevIndex + 1
	} else if newPrevIndex >= l.logStart-1 {
		keepFrom := newPrevIndex + 1
		l.entries = append([]LogEntry(nil), l.entries[keepFrom-l.logStart:]...)
		l.logStart = keepFrom
	}
	l.prevTerm = newPrevTerm
	l.prevServers = newPrevServers
}

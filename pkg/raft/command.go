package raft

import "sync"

// commandHandle is returned to CommandExecute callers. Identity-based
// lookup by id keeps the tracker a flat map instead of the teacher's
// reference-counted handle pattern, since a command's lifetime is bounded
// by CommandRelease rather than by concurrent holders going out of scope.
type commandHandle struct {
	id     uint64
	index  uint64 // log index this command was appended at
	term   uint64 // term it was appended in
	status CommandStatus
	done   chan struct{} // closed once status leaves Incomplete
}

// commandTracker maps submitted-but-not-yet-released commands to their
// outcome, so CommandStatus/CommandWait can be answered without re-walking
// the log (spec.md §6.3).
type commandTracker struct {
	mu      sync.Mutex
	nextID  uint64
	byID    map[uint64]*commandHandle
	byIndex map[uint64]*commandHandle // only while term == currentTerm of submission
}

func newCommandTracker() *commandTracker {
	return &commandTracker{
		byID:    make(map[uint64]*commandHandle),
		byIndex: make(map[uint64]*commandHandle),
	}
}

// Track registers a newly appended command, returning the id the caller
// uses for subsequent CommandStatus/CommandWait/CommandRelease calls.
func (t *commandTracker) Track(index, term uint64) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	h := &commandHandle{id: t.nextID, index: index, term: term, status: Incomplete, done: make(chan struct{})}
	t.byID[h.id] = h
	t.byIndex[index] = h
	return h.id
}

// Resolve marks every still-incomplete tracked command at or before
// committedIndex as Success. Commands
// proposed in an earlier term that is no longer reachable should already
// have been failed via FailFrom during the term change that preceded this.
func (t *commandTracker) Resolve(committedIndex uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for index, h := range t.byIndex {
		if index <= committedIndex && h.status == Incomplete {
			t.finish(h, Success)
		}
	}
}

// FailFrom fails every tracked command at index >= from with status,
// called when a log truncation (lost leadership, term change) makes those
// entries unreachable (spec.md §6.3: LostLeadership/NotLeader).
func (t *commandTracker) FailFrom(from uint64, status CommandStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for index, h := range t.byIndex {
		if index >= from && h.status == Incomplete {
			t.finish(h, status)
		}
	}
}

// Shutdown fails every still-incomplete command with Shutdown, called when
// the server is closing (spec.md §6.3).
func (t *commandTracker) Shutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, h := range t.byID {
		if h.status == Incomplete {
			t.finish(h, Shutdown)
		}
	}
}

// finish must be called with t.mu held.
func (t *commandTracker) finish(h *commandHandle, status CommandStatus) {
	h.status = status
	close(h.done)
	delete(t.byIndex, h.index)
}

func (t *commandTracker) Status(id uint64) (CommandStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.byID[id]
	if !ok {
		return Incomplete, false
	}
	return h.status, true
}

func (t *commandTracker) doneChan(id uint64) (chan struct{}, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.byID[id]
	if !ok {
		return nil, false
	}
	return h.done, true
}

// Release forgets a command, per spec.md §6.3's CommandRelease operation.
func (t *commandTracker) Release(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.byID[id]
	if !ok {
		return
	}
	delete(t.byID, id)
	if t.byIndex[h.index] == h {
		delete(t.byIndex, h.index)
	}
}

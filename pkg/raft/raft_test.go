package raft

import (
	"encoding/json"
	"sync"
)

// fakeFSM is a minimal in-memory StateMachine used across the test suite:
// it appends every applied payload to a slice and serializes that slice as
// its snapshot, so tests can assert on exactly what was replicated.
type fakeFSM struct {
	mu      sync.Mutex
	applied [][]byte
	resets  int
}

func newFakeFSM() *fakeFSM { return &fakeFSM{} }

func (f *fakeFSM) Apply(index uint64, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), payload...)
	f.applied = append(f.applied, cp)
	return nil
}

func (f *fakeFSM) Snapshot() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return json.Marshal(f.applied)
}

func (f *fakeFSM) Restore(index uint64, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(data) == 0 {
		f.applied = nil
		return nil
	}
	return json.Unmarshal(data, &f.applied)
}

func (f *fakeFSM) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	f.applied = nil
}

func (f *fakeFSM) appliedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.applied)
}

package raft

import (
	"sync"

	"github.com/cuemby/raftcore/pkg/recordlog"
)

// durabilityWaiter fires action once the record log's durable sequence
// number has reached tag. Used to delay positive AppendReply/VoteReply sends
// until the backing record has actually been fsynced (spec.md §4.1, the
// fsync ordering contract). Commit advance and command status transitions
// are not gated on it.
type durabilityWaiter struct {
	tag    uint64
	action func()
}

// durabilityTracker owns the single append-only file handle and issues a
// monotonically increasing sequence number on every record appended to it.
// Append is only ever called from the Raft run loop goroutine; Sync is only
// ever called from the dedicated fsync worker goroutine it starts (spec.md
// §5's "one auxiliary thread ... the driver never calls fsync directly").
// mu guards requested/durable/waiters against that one point of concurrency.
type durabilityTracker struct {
	file *recordlog.File

	requested uint64 // records appended (sequence of the latest one)
	durable   uint64 // records confirmed synced

	waiters []durabilityWaiter
	mu      sync.Mutex
}

func newDurabilityTracker(f *recordlog.File) *durabilityTracker {
	return &durabilityTracker{file: f}
}

// Append writes rec to the log and returns the sequence number it must
// reach durable status at. It does not sync.
func (d *durabilityTracker) Append(rec recordlog.Record) (uint64, error) {
	if err := d.file.AppendRecord(rec); err != nil {
		return 0, ioErrorf("append record: %w", err)
	}
	d.mu.Lock()
	d.requested++
	seq := d.requested
	d.mu.Unlock()
	return seq, nil
}

// WaitDurable registers action to run once seq has been synced. If seq is
// already durable, action runs immediately, inline, on the caller's
// goroutine (the run loop). Otherwise it runs later from inside Sync, on
// the fsync worker goroutine — callers must keep action non-blocking and
// must only touch state safe to reach from that goroutine (e.g. sendTo's
// registry lookup, never Raft's run-loop-owned fields directly).
func (d *durabilityTracker) WaitDurable(seq uint64, action func()) {
	d.mu.Lock()
	if d.durable >= seq {
		d.mu.Unlock()
		action()
		return
	}
	d.waiters = append(d.waiters, durabilityWaiter{tag: seq, action: action})
	d.mu.Unlock()
}

// Sync fsyncs the log and fires every waiter whose tag has now been
// reached, in the order they were registered (spec.md §4.1: "acks and
// state transitions gated on a record must never be observed before that
// record's fsync completes").
func (d *durabilityTracker) Sync() error {
	d.mu.Lock()
	pending := d.requested
	d.mu.Unlock()

	if pending == d.durableSnapshot() {
		return nil
	}
	if err := d.file.Commit(); err != nil {
		return ioErrorf("fsync record log: %w", err)
	}

	d.mu.Lock()
	d.durable = pending
	ready := d.waiters[:0:0]
	var remain []durabilityWaiter
	for _, w := range d.waiters {
		if w.tag <= d.durable {
			ready = append(ready, w)
		} else {
			remain = append(remain, w)
		}
	}
	d.waiters = remain
	d.mu.Unlock()

	for _, w := range ready {
		w.action()
	}
	return nil
}

func (d *durabilityTracker) durableSnapshot() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.durable
}

// Pending reports whether any record written since the last Sync has not
// yet been synced, so the fsync worker (syncDurability) knows whether a Sync
// call is needed.
func (d *durabilityTracker) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requested > d.durable
}

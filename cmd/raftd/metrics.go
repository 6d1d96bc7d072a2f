package main

import (
	"context"
	"time"

	"github.com/cuemby/raftcore/pkg/raft"
	"github.com/cuemby/raftcore/pkg/raftmetrics"
)

// pollMetrics periodically copies the StatusProvider snapshot into the
// Prometheus gauges. raft.Raft deliberately has no direct dependency on
// raftmetrics (see pkg/raftmetrics.StatusProvider's doc comment), so
// something outside the engine has to do this copy.
func pollMetrics(ctx context.Context, r *raft.Raft) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			raftmetrics.Term.Set(float64(r.Term()))
			raftmetrics.CommitIndex.Set(float64(r.CommitIndex()))
			if r.IsLeader() {
				raftmetrics.IsLeader.Set(1)
			} else {
				raftmetrics.IsLeader.Set(0)
			}
		}
	}
}

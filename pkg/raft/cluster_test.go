package raft

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// newTestServer creates and runs a server listening on a loopback port,
// returning it alongside its fsm for assertions.
func newTestServer(t *testing.T, clusterID, serverID string, port int, join bool) (*Raft, *fakeFSM) {
	t.Helper()
	dir := t.TempDir()
	fsm := newFakeFSM()
	cfg := Config{LocalAddress: fmt.Sprintf("tcp:127.0.0.1:%d", port), DataDir: dir}

	var r *Raft
	var err error
	if join {
		r, err = Join(clusterID, serverID, fsm, cfg)
	} else {
		r, err = Create(clusterID, serverID, fsm, cfg)
	}
	require.NoError(t, err)

	_, err = r.Listen()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	t.Cleanup(func() {
		cancel()
		r.Close()
		r.Wait()
	})
	return r, fsm
}

func waitForLeader(t *testing.T, timeout time.Duration, servers ...*Raft) *Raft {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, s := range servers {
			if s.IsLeader() {
				return s
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("no leader elected within %v", timeout)
	return nil
}

// TestThreeNodeClusterElectsLeaderAndReplicates grows a cluster one server
// at a time via AddServer, the same sequencing the control-plane
// (pkg/raftadmin) and raftctl drive in production, then verifies a
// committed command is visible on every server's state machine.
func TestThreeNodeClusterElectsLeaderAndReplicates(t *testing.T) {
	s1, fsm1 := newTestServer(t, "c1", "s1", 17101, false)

	leader := waitForLeader(t, 2*time.Second, s1)
	require.True(t, leader == s1)

	_, fsm2 := newTestServer(t, "c1", "s2", 17102, true)
	addCtx, addCancel := context.WithTimeout(context.Background(), 5*time.Second)
	addStatus, err := s1.AddServer(addCtx, "s2", "tcp:127.0.0.1:17102")
	addCancel()
	require.NoError(t, err)
	require.Contains(t, []ServerOpStatus{OpInProgress, OpNoOp}, addStatus)

	_, fsm3 := newTestServer(t, "c1", "s3", 17103, true)
	addCtx2, addCancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	addStatus, err = s1.AddServer(addCtx2, "s3", "tcp:127.0.0.1:17103")
	addCancel2()
	require.NoError(t, err)
	require.Contains(t, []ServerOpStatus{OpInProgress, OpNoOp}, addStatus)

	cmdCtx, cmdCancel := context.WithTimeout(context.Background(), 5*time.Second)
	id, err := s1.CommandExecute(cmdCtx, []byte("replicate-me"))
	cmdCancel()
	require.NoError(t, err)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	cmdStatus, err := s1.CommandWait(waitCtx, id)
	waitCancel()
	require.NoError(t, err)
	require.Equal(t, Success, cmdStatus)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if fsm2.appliedCount() > 0 && fsm3.appliedCount() > 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	require.GreaterOrEqual(t, fsm1.appliedCount(), 1)
	require.GreaterOrEqual(t, fsm2.appliedCount(), 1)
	require.GreaterOrEqual(t, fsm3.appliedCount(), 1)
}

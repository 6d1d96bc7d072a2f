package raft

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestSingleNodeClusterCommitsCommands exercises the full wire-up — Create,
// Run's event loop, CommandExecute/CommandWait, and commit-to-apply — for a
// one-server cluster, which never needs the network layer since it is
// always its own majority.
func TestSingleNodeClusterCommitsCommands(t *testing.T) {
	dir := t.TempDir()
	fsm := newFakeFSM()
	cfg := Config{LocalAddress: "tcp:127.0.0.1:6643", DataDir: dir}

	r, err := Create("cluster1", "s1", fsm, cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	id, err := r.CommandExecute(context.Background(), []byte("hello"))
	require.NoError(t, err)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	status, err := r.CommandWait(waitCtx, id)
	require.NoError(t, err)
	require.Equal(t, Success, status)
	require.Equal(t, 1, fsm.appliedCount())

	r.Close()
	r.Wait()
}

// TestOpenReplaysRecordLog verifies that closing a server and reopening its
// on-disk log rebuilds identical committed state (spec.md §6.1's Open).
func TestOpenReplaysRecordLog(t *testing.T) {
	dir := t.TempDir()
	fsm1 := newFakeFSM()
	cfg := Config{LocalAddress: "tcp:127.0.0.1:6643", DataDir: dir}

	r1, err := Create("cluster1", "s1", fsm1, cfg)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	go r1.Run(ctx)

	id, err := r1.CommandExecute(context.Background(), []byte("persisted"))
	require.NoError(t, err)
	_, err = r1.CommandWait(context.Background(), id)
	require.NoError(t, err)

	cancel()
	r1.Wait()

	require.FileExists(t, dir+"/raft.log")

	fsm2 := newFakeFSM()
	r2, err := Open("cluster1", "s1", fsm2, cfg)
	require.NoError(t, err)
	require.Equal(t, r1.log.lastIndex(), r2.log.lastIndex())
}

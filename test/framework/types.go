// Package framework is the local end-to-end test harness for raftd: it
// spawns real raftd processes, wires them into a cluster via raftctl-style
// AddServer calls, and polls their status over the same control socket
// raftctl itself uses (pkg/raftadmin).
package framework

import (
	"context"
	"time"
)

// ClusterConfig configures a local multi-raftd test cluster.
type ClusterConfig struct {
	// NumServers is the number of raftd processes to start.
	NumServers int
	// DataDir is the base directory for each server's data directory.
	DataDir string
	// Binary is the path to the raftd binary.
	Binary string
	// KeepOnFailure leaves data directories on disk after Cleanup for
	// post-mortem inspection.
	KeepOnFailure bool
	// LogLevel is passed to every spawned raftd as --log-level.
	LogLevel string
}

// Cluster is a set of local raftd processes forming one Raft group.
type Cluster struct {
	Config  *ClusterConfig
	Servers []*Server

	ctx    context.Context
	cancel context.CancelFunc
}

// Server is one raftd process under test.
type Server struct {
	ID            string
	LocalAddress  string
	HealthAddr    string
	ControlSocket string
	DataDir       string
	Process       *Process
	Client        *AdminClient
	IsLeader      bool
}

// Process is defined in process.go.

// TestingT is the subset of *testing.T the framework needs, so tests can
// pass a *testing.T directly without the framework importing "testing".
type TestingT interface {
	Logf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
	FailNow()
	Failed() bool
	Name() string
	Helper()
}

// TestContext bundles a context and its cancellation with cleanup hooks,
// used by longer e2e scenarios that need more than a single Cluster.
type TestContext struct {
	T       TestingT
	Ctx     context.Context
	Cancel  context.CancelFunc
	Timeout time.Duration

	cleanup []func()
}

// AddCleanup registers a function to run when Close is called, LIFO order.
func (tc *TestContext) AddCleanup(fn func()) {
	tc.cleanup = append(tc.cleanup, fn)
}

// Close cancels the context and runs every registered cleanup function.
func (tc *TestContext) Close() {
	tc.Cancel()
	for i := len(tc.cleanup) - 1; i >= 0; i-- {
		tc.cleanup[i]()
	}
}

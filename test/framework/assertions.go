package framework

import (
	"context"
	"time"
)

// Assertions provides cluster-level assertion and narrative-logging helpers.
// Plain value assertions (Equal, NoError, Contains, ...) are deliberately not
// duplicated here — tests reach for testify/require for those.
type Assertions struct {
	t TestingT
}

// NewAssertions creates a new Assertions instance.
func NewAssertions(t TestingT) *Assertions {
	return &Assertions{t: t}
}

// HasLeader asserts that the cluster has a leader.
func (a *Assertions) HasLeader(cluster *Cluster) {
	a.t.Helper()

	leader, err := cluster.GetLeader()
	if err != nil {
		a.t.Fatalf("cluster has no leader: %v", err)
	}
	if leader == nil {
		a.t.Fatalf("leader is nil")
	}
}

// QuorumSize asserts that the cluster has the expected number of servers
// configured. Raft quorum itself (a majority reachable) is asserted with
// Waiter.WaitForQuorum; this checks cluster membership size.
func (a *Assertions) QuorumSize(expected int, cluster *Cluster) {
	a.t.Helper()

	if len(cluster.Servers) != expected {
		a.t.Fatalf("cluster has %d servers, expected %d", len(cluster.Servers), expected)
	}
}

// Eventually repeatedly runs a condition until it returns true or timeout occurs.
func (a *Assertions) Eventually(condition func() bool, timeout, interval time.Duration, msg string) {
	a.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.t.Fatalf("timeout waiting for condition: %s (timeout: %v)", msg, timeout)
		case <-ticker.C:
			if condition() {
				return
			}
		}
	}
}

// EventuallyWithContext is like Eventually but uses a provided context.
func (a *Assertions) EventuallyWithContext(ctx context.Context, condition func() bool, interval time.Duration, msg string) {
	a.t.Helper()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.t.Fatalf("context cancelled waiting for condition: %s (error: %v)", msg, ctx.Err())
		case <-ticker.C:
			if condition() {
				return
			}
		}
	}
}

// Step logs a test step, for visibility in test output.
func (a *Assertions) Step(step string) {
	a.t.Helper()
	a.t.Logf("\n==> %s", step)
}

// Success logs a success message.
func (a *Assertions) Success(msg string) {
	a.t.Helper()
	a.t.Logf("✓ %s", msg)
}

// Info logs an informational message.
func (a *Assertions) Info(msg string) {
	a.t.Helper()
	a.t.Logf("ℹ %s", msg)
}

// Warning logs a warning message.
func (a *Assertions) Warning(msg string) {
	a.t.Helper()
	a.t.Logf("⚠ %s", msg)
}

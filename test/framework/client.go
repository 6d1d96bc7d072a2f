package framework

import (
	"context"

	"github.com/cuemby/raftcore/pkg/raftadmin"
)

// AdminClient wraps raftadmin.Client with the couple of test-friendly
// helpers e2e scenarios reach for repeatedly.
type AdminClient struct {
	*raftadmin.Client
}

// NewAdminClient wraps an existing raftadmin.Client.
func NewAdminClient(c *raftadmin.Client) *AdminClient {
	return &AdminClient{Client: c}
}

// CommitIndex is a convenience wrapper around Status for waiters that only
// care about the commit index.
func (c *AdminClient) CommitIndex(ctx context.Context) (uint64, error) {
	status, err := c.Status(ctx)
	if err != nil {
		return 0, err
	}
	return status.CommitIndex, nil
}

// IsLeader is a convenience wrapper around Status.
func (c *AdminClient) IsLeader(ctx context.Context) (bool, error) {
	status, err := c.Status(ctx)
	if err != nil {
		return false, err
	}
	return status.IsLeader, nil
}

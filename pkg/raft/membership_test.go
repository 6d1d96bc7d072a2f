package raft

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeServerSetRoundTrip(t *testing.T) {
	servers := map[string]*ServerDescriptor{
		"s1": {ServerID: "s1", Address: "tcp:10.0.0.1:6643", Phase: PhaseStable},
		"s2": {ServerID: "s2", Address: "tcp:10.0.0.2:6643", Phase: PhaseCommitting},
		"s3": {ServerID: "s3", Address: "tcp:10.0.0.3:6643", Phase: PhaseRemove},
	}
	payload := encodeServerSet(servers)
	set, err := decodeServerSet(payload)
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		"s1": "tcp:10.0.0.1:6643",
		"s2": "tcp:10.0.0.2:6643",
	}, set)
}

func TestApplyServerSetAddsAndRemoves(t *testing.T) {
	r := &Raft{servers: map[string]*ServerDescriptor{
		"s1": {ServerID: "s1", Address: "a1", Phase: PhaseStable},
		"s2": {ServerID: "s2", Address: "a2", Phase: PhaseCommitting},
	}}
	r.applyServerSet(map[string]string{"s1": "a1-new", "s3": "a3"})

	require.Len(t, r.servers, 2)
	require.Equal(t, "a1-new", r.servers["s1"].Address)
	require.Equal(t, PhaseStable, r.servers["s3"].Phase)
	_, ok := r.servers["s2"]
	require.False(t, ok, "s2 should have been dropped")
}

func TestInFlightMembershipChange(t *testing.T) {
	r := &Raft{servers: map[string]*ServerDescriptor{
		"s1": {ServerID: "s1", Phase: PhaseStable},
	}}
	require.False(t, r.inFlightMembershipChange())

	r.servers["s2"] = &ServerDescriptor{ServerID: "s2", Phase: PhaseCatchup}
	require.True(t, r.inFlightMembershipChange())
}

func TestCaughtUp(t *testing.T) {
	d := &ServerDescriptor{MatchIndex: 9}
	require.True(t, caughtUp(d, 10))
	require.False(t, caughtUp(d, 12))
}

func TestVotingMembersExcludesCatchupAndRemove(t *testing.T) {
	r := &Raft{servers: map[string]*ServerDescriptor{
		"s1": {ServerID: "s1", Phase: PhaseStable},
		"s2": {ServerID: "s2", Phase: PhaseCatchup},
		"s3": {ServerID: "s3", Phase: PhaseCommitting},
		"s4": {ServerID: "s4", Phase: PhaseRemove},
	}}
	members := r.votingMembers()
	require.ElementsMatch(t, []string{"s1", "s3"}, members)
}

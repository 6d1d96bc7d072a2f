package raftrpc_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/raftcore/pkg/raftrpc"
)

func TestEncodeDecodeRoundTripEveryKind(t *testing.T) {
	data := "payload"
	messages := []raftrpc.Message{
		raftrpc.HelloRequest{Header: raftrpc.Header{Cluster: "c1", From: "s1"}},
		raftrpc.AppendRequest{
			Header:       raftrpc.Header{Cluster: "c1", From: "s1", To: "s2"},
			Term:         4,
			Leader:       "s1",
			PrevLogIndex: 10,
			PrevLogTerm:  3,
			LeaderCommit: 9,
			Entries:      []raftrpc.WireEntry{{Term: 4, Data: &data}},
		},
		raftrpc.AppendReply{Header: raftrpc.Header{From: "s2", To: "s1"}, Term: 4, LogEnd: 11, Success: true},
		raftrpc.VoteRequest{Header: raftrpc.Header{From: "s1"}, Term: 5, LastLogIndex: 10, LastLogTerm: 4},
		raftrpc.VoteReply{Header: raftrpc.Header{From: "s2"}, Term: 5, VoteGranted: true},
		raftrpc.AddServerRequest{Header: raftrpc.Header{From: "client"}, ServerID: "s3", Address: "tcp:1.2.3.4:6643"},
		raftrpc.AddServerReply{Header: raftrpc.Header{From: "s1"}, Status: raftrpc.StatusInProgress},
		raftrpc.RemoveServerRequest{Header: raftrpc.Header{From: "client"}, ServerID: "s3"},
		raftrpc.RemoveServerReply{Header: raftrpc.Header{From: "s1"}, Status: raftrpc.StatusSuccess},
		raftrpc.InstallSnapshotRequest{
			Header: raftrpc.Header{From: "s1", To: "s3"}, Term: 4, LastIndex: 100, LastTerm: 3,
			LastServers: map[string]string{"s1": "a1"}, Length: 20, Offset: 0, Data: "chunk-data",
		},
		raftrpc.InstallSnapshotReply{Header: raftrpc.Header{From: "s3"}, Term: 4, LastIndex: 100, LastTerm: 3, NextOffset: 10},
	}

	for _, m := range messages {
		encoded, err := raftrpc.Encode(m)
		require.NoError(t, err)

		decoded, err := raftrpc.Decode(encoded)
		require.NoError(t, err)
		require.Equal(t, m.Kind(), decoded.Kind())
		require.Equal(t, m, decoded)
	}
}

func TestDecodeUnknownKindErrors(t *testing.T) {
	_, err := raftrpc.Decode([]byte(`{"method":"bogus_request","params":{}}`))
	require.Error(t, err)
}

func TestDecodeMalformedJSONErrors(t *testing.T) {
	_, err := raftrpc.Decode([]byte(`not json`))
	require.Error(t, err)
}

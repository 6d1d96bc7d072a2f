package raftnet_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/raftcore/pkg/raftnet"
)

func TestParseAddressDefaultsPort(t *testing.T) {
	addr, err := raftnet.ParseAddress("tcp:10.0.0.1")
	require.NoError(t, err)
	require.Equal(t, raftnet.SchemeTCP, addr.Scheme)
	require.Equal(t, "10.0.0.1", addr.Host)
	require.Equal(t, raftnet.DefaultPort, addr.Port)
	require.False(t, addr.TLS())
}

func TestParseAddressExplicitPort(t *testing.T) {
	addr, err := raftnet.ParseAddress("ssl:raft1.internal:7000")
	require.NoError(t, err)
	require.Equal(t, raftnet.SchemeSSL, addr.Scheme)
	require.Equal(t, "raft1.internal", addr.Host)
	require.Equal(t, 7000, addr.Port)
	require.True(t, addr.TLS())
	require.Equal(t, "raft1.internal:7000", addr.HostPort())
	require.Equal(t, "ssl:raft1.internal:7000", addr.String())
}

func TestParseAddressRejectsUnknownScheme(t *testing.T) {
	_, err := raftnet.ParseAddress("udp:host:1")
	require.Error(t, err)
}

func TestParseAddressRejectsMissingScheme(t *testing.T) {
	_, err := raftnet.ParseAddress("host-only")
	require.Error(t, err)
}

func TestParseAddressRejectsEmptyHost(t *testing.T) {
	_, err := raftnet.ParseAddress("tcp:")
	require.Error(t, err)
}

func TestParseAddressRejectsBadPort(t *testing.T) {
	_, err := raftnet.ParseAddress("tcp:host:notaport")
	require.Error(t, err)
}

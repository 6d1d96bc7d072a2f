package raft

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogStoreFreshCluster(t *testing.T) {
	l := newLogStore(0, 1, map[string]string{"s1": "tcp:1.2.3.4:6643"})
	require.Equal(t, uint64(1), l.prevIndex())
	require.Equal(t, uint64(2), l.logEnd())
	term, ok := l.termAt(1)
	require.True(t, ok)
	require.Equal(t, uint64(0), term)
}

func TestLogStoreAppendAndTruncate(t *testing.T) {
	l := newLogStore(0, 1, nil)
	idx1 := l.append(LogEntry{Term: 1, Type: EntryData, Payload: []byte("a")})
	idx2 := l.append(LogEntry{Term: 1, Type: EntryData, Payload: []byte("b")})
	require.Equal(t, uint64(2), idx1)
	require.Equal(t, uint64(3), idx2)
	require.Equal(t, uint64(4), l.logEnd())

	l.truncateFrom(idx2)
	require.Equal(t, uint64(3), l.logEnd())
	_, ok := l.entryAt(idx2)
	require.False(t, ok)
	e, ok := l.entryAt(idx1)
	require.True(t, ok)
	require.Equal(t, "a", string(e.Payload))
}

func TestLogStoreShiftBase(t *testing.T) {
	l := newLogStore(0, 1, nil)
	l.append(LogEntry{Term: 1, Payload: []byte("a")}) // index 2
	l.append(LogEntry{Term: 1, Payload: []byte("b")}) // index 3
	l.append(LogEntry{Term: 2, Payload: []byte("c")}) // index 4

	l.shiftBase(1, 2, map[string]string{"s1": "addr"})
	require.Equal(t, uint64(3), l.logStart)
	require.Equal(t, uint64(5), l.logEnd())
	e, ok := l.entryAt(3)
	require.True(t, ok)
	require.Equal(t, "b", string(e.Payload))

	term, ok := l.termAt(2)
	require.True(t, ok)
	require.Equal(t, uint64(1), term)
}

func TestLogStoreShiftBasePastEnd(t *testing.T) {
	l := newLogStore(0, 1, nil)
	l.append(LogEntry{Term: 1, Payload: []byte("a")})
	l.shiftBase(5, 100, map[string]string{})
	require.Equal(t, uint64(101), l.logStart)
	require.Equal(t, uint64(101), l.logEnd())
}

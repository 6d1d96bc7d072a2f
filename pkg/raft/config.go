package raft

import (
	"crypto/tls"
	"time"

	"github.com/rs/zerolog"

	raftlog "github.com/cuemby/raftcore/pkg/log"
)

// Election/heartbeat timing constants (spec.md §4.4).
const (
	DefaultElectionBase  = 1024 * time.Millisecond
	DefaultElectionRange = 1024 * time.Millisecond
	DefaultSnapshotChunk = 4096 // bytes (spec.md §4.8)
)

// Config configures a Raft server, in the style of the teacher's
// manager.Config / worker.Config: plain exported fields defaulted by a
// constructor rather than a functional-options pile.
type Config struct {
	// LocalAddress is this server's own dial address ("tcp:host:port" or
	// "ssl:host:port").
	LocalAddress string
	// DataDir holds the record-log file ("raft.log" within it).
	DataDir string

	ElectionTimeoutBase  time.Duration
	ElectionTimeoutRange time.Duration
	HeartbeatInterval    time.Duration
	SnapshotChunkSize    int

	// TLSConfig is used for both dialing peers and accepting connections
	// when LocalAddress uses the "ssl:" scheme; nil is fine for "tcp:".
	TLSConfig *tls.Config

	Logger  *zerolog.Logger
	Limiter *raftlog.Limiter
}

// WithDefaults returns a copy of cfg with zero-valued fields defaulted.
func (cfg Config) WithDefaults() Config {
	if cfg.ElectionTimeoutBase == 0 {
		cfg.ElectionTimeoutBase = DefaultElectionBase
	}
	if cfg.ElectionTimeoutRange == 0 {
		cfg.ElectionTimeoutRange = DefaultElectionRange
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = cfg.ElectionTimeoutBase / 3
	}
	if cfg.SnapshotChunkSize == 0 {
		cfg.SnapshotChunkSize = DefaultSnapshotChunk
	}
	if cfg.Logger == nil {
		cfg.Logger = &raftlog.Logger
	}
	if cfg.Limiter == nil {
		cfg.Limiter = raftlog.NewLimiter(5, time.Second)
	}
	return cfg
}

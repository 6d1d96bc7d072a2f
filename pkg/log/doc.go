// Package log provides structured logging for raftd and its collaborator
// packages using zerolog.
//
// It wraps a single package-level zerolog.Logger, initialized once via
// Init(Config), plus a handful of child-logger helpers that attach
// cluster/server/peer context (pkg/raftnet's registry uses WithPeer):
//
//	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
//
//	clusterLog := log.WithClusterID(clusterID)
//	serverLog := log.WithServerID(serverID)
//	peerLog := log.WithPeer(peerID)
//
// raft.Config carries a *zerolog.Logger (defaulting to &log.Logger from this
// package), so a caller can hand pkg/raft a different logger; cmd/raftd is
// the one that calls log.Init
// at startup and passes log.Logger.Error()/Msg() lines through for its own
// admin-socket and health-server goroutines.
//
// # Rate limiting
//
// Some call sites — a follower rejecting every heartbeat from a stale
// leader, a snapshot chunk arriving out of order — would otherwise log once
// per RPC. Limiter is a per-site token bucket held as an explicit
// collaborator rather than process-wide state. raft.Config carries one
// (defaulting to NewLimiter(5, time.Second)), but no log line in pkg/raft
// consults it. Usage:
//
//	limiter := log.NewLimiter(5, time.Second)
//	if limiter.Allow("append-reject") {
//		logger.Warn().Msg("rejected append from stale term")
//	}
//
// A nil *Limiter always allows, so callers that don't configure one (tests,
// mostly) get unthrottled logging rather than a nil dereference.
package log

package raft

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/raftcore/pkg/raftnet"
	"github.com/cuemby/raftcore/pkg/raftrpc"
	"github.com/cuemby/raftcore/pkg/recordlog"
)

// Raft is one server's participation in a single consensus group. All
// protocol state above the statusMu field is owned exclusively by the
// goroutine running Run; every other method either sends onto one of the
// request channels or reads only the statusMu-guarded snapshot, following
// the teacher's single-owner-goroutine-plus-channel-requests shape used for
// manager/worker coordination.
type Raft struct {
	cfg       Config
	clusterID string
	serverID  string

	role        Role
	currentTerm uint64
	votedFor    string
	leaderID    string

	log     *logStore
	servers map[string]*ServerDescriptor

	commitIndex uint64
	lastApplied uint64

	fsm        StateMachine
	durability atomic.Pointer[durabilityTracker]
	commands   *commandTracker

	incoming                  *incomingSnapshot
	outgoingSnapshots         map[string]*outgoingSnapshot
	snapshotEvictionThreshold uint64

	votesGranted     map[string]bool
	electionDeadline time.Time

	registry *raftnet.Registry
	recvCh   chan raftrpc.Message

	commandCh      chan *commandRequest
	addServerCh    chan *serverOpRequest
	removeServerCh chan *serverOpRequest
	closeCh        chan struct{}
	closedCh       chan struct{}

	onElection func()

	statusMu sync.Mutex
	status   statusSnapshot
}

// statusSnapshot is the subset of Raft state safe to read from another
// goroutine (health checks, metrics), refreshed by the run loop after every
// event it processes rather than exposed live.
type statusSnapshot struct {
	isLeader      bool
	leaderID      string
	leaderAddr    string
	term          uint64
	commitIndex   uint64
	durabilityLag uint64
}

type commandRequest struct {
	payload []byte
	idCh    chan uint64
}

type serverOpRequest struct {
	serverID string
	address  string
	replyCh  chan raftrpc.Status
}

// Create initializes a brand-new single-server cluster rooted at
// cfg.DataDir, the first server of a fresh group (spec.md §6.1's Create
// operation).
func Create(clusterID, serverID string, fsm StateMachine, cfg Config) (*Raft, error) {
	cfg = cfg.WithDefaults()
	header := recordlog.HeaderRecord(clusterID, serverID)
	snap := recordlog.SnapshotRecord(0, 1, map[string]string{serverID: cfg.LocalAddress}, "")
	f, err := recordlog.Create(cfg.DataDir+"/raft.log", header, snap)
	if err != nil {
		return nil, ioErrorf("create record log: %w", err)
	}
	r := newRaft(clusterID, serverID, fsm, cfg, f, 0, 1, map[string]string{serverID: cfg.LocalAddress})
	r.currentTerm = 1
	r.becomeLeader()
	return r, nil
}

// Join initializes a server that will catch up to and then join an
// existing cluster via AddServer on the remote leader (spec.md §6.1's Join
// operation). The returned server starts as a leaderless follower with no
// log; it is the remote leader's AddServer handling that streams it a
// snapshot and subsequent entries.
func Join(clusterID, serverID string, fsm StateMachine, cfg Config) (*Raft, error) {
	cfg = cfg.WithDefaults()
	header := recordlog.HeaderRecord(clusterID, serverID)
	snap := recordlog.SnapshotRecord(0, 1, map[string]string{}, "")
	f, err := recordlog.Create(cfg.DataDir+"/raft.log", header, snap)
	if err != nil {
		return nil, ioErrorf("create record log: %w", err)
	}
	r := newRaft(clusterID, serverID, fsm, cfg, f, 0, 1, map[string]string{})
	return r, nil
}

// Open reopens a server from its existing on-disk record log after a
// restart, replaying every record to rebuild in-memory state (spec.md
// §6.1's Open operation).
func Open(clusterID, serverID string, fsm StateMachine, cfg Config) (*Raft, error) {
	cfg = cfg.WithDefaults()
	path := cfg.DataDir + "/raft.log"
	records, err := recordlog.ReadAll(path)
	if err != nil {
		return nil, ioErrorf("read record log: %w", err)
	}
	if len(records) < 2 {
		return nil, syntaxErrorf("record log %s has no snapshot header", path)
	}
	snap := records[1]
	prevIndex := snap.PrevIndex
	r := newRaft(clusterID, serverID, fsm, cfg, nil, snap.PrevTerm, prevIndex, snap.PrevServers)
	if snap.Data != nil && *snap.Data != "" {
		if err := fsm.Restore(prevIndex, []byte(*snap.Data)); err != nil {
			return nil, stateErrorf("restore snapshot on open: %w", err)
		}
	}
	r.applyServerSet(snap.PrevServers)

	var vote string
	for _, rec := range records[2:] {
		switch {
		case rec.IsEntry():
			entry := LogEntry{Term: rec.Term}
			if rec.Data != nil {
				entry.Type = EntryData
				entry.Payload = []byte(*rec.Data)
			} else {
				entry.Type = EntryServerConfig
				entry.Payload = encodeServerSetWire(rec.Servers)
			}
			r.log.append(entry)
			if entry.Type == EntryServerConfig {
				if set, err := decodeServerSet(entry.Payload); err == nil {
					r.applyServerSet(set)
				}
			}
		case rec.IsTermUpdate():
			r.currentTerm = rec.Term
			if rec.Vote != nil {
				vote = *rec.Vote
			}
		}
	}
	r.votedFor = vote

	f, err := recordlog.Open(path)
	if err != nil {
		return nil, ioErrorf("reopen record log for append: %w", err)
	}
	r.durability.Store(newDurabilityTracker(f))
	return r, nil
}

func newRaft(clusterID, serverID string, fsm StateMachine, cfg Config, f *recordlog.File, prevTerm, prevIndex uint64, initialServers map[string]string) *Raft {
	servers := make(map[string]*ServerDescriptor, len(initialServers))
	for id, addr := range initialServers {
		servers[id] = &ServerDescriptor{ServerID: id, Address: addr, Phase: PhaseStable}
	}
	r := &Raft{
		cfg:                       cfg,
		clusterID:                 clusterID,
		serverID:                  serverID,
		role:                      Follower,
		log:                       newLogStore(prevTerm, prevIndex, initialServers),
		servers:                   servers,
		fsm:                       fsm,
		commands:                  newCommandTracker(),
		outgoingSnapshots:         make(map[string]*outgoingSnapshot),
		snapshotEvictionThreshold: 16 << 20,
		recvCh:                    make(chan raftrpc.Message, 256),
		commandCh:                 make(chan *commandRequest, 64),
		addServerCh:               make(chan *serverOpRequest, 4),
		removeServerCh:            make(chan *serverOpRequest, 4),
		closeCh:                   make(chan struct{}),
		closedCh:                  make(chan struct{}),
	}
	if f != nil {
		r.durability.Store(newDurabilityTracker(f))
	}
	r.resetElectionDeadline()
	r.registry = raftnet.NewRegistry(serverID, &raftnet.Dialer{Timeout: 5 * time.Second, TLSConfig: cfg.TLSConfig}, r.onPeerSession)
	for id, addr := range initialServers {
		if id == serverID {
			continue
		}
		addr2, err := raftnet.ParseAddress(addr)
		if err == nil {
			r.registry.AddPeer(id, addr2.String())
		}
	}
	return r
}

// OnElection registers fn to be called every time this server becomes
// leader, for callers (cmd/raftd's metrics wiring) that want an
// elections-total counter without the engine importing a metrics package
// directly. Must be called before Run starts.
func (r *Raft) OnElection(fn func()) { r.onElection = fn }

func (r *Raft) clock() time.Time { return time.Now() }

func (r *Raft) logError(action string, err error) {
	r.cfg.Logger.Error().Err(err).Str("action", action).
		Str("server", r.serverID).Msg("raft error")
}

// onPeerSession is the registry's announce callback, invoked once per
// successful outbound dial; it starts forwarding that session's inbound
// messages into the run loop.
func (r *Raft) onPeerSession(ctx context.Context, session raftnet.Session) {
	go r.pumpSession(session)
}

func (r *Raft) pumpSession(session raftnet.Session) {
	for {
		msg, err := session.Receive(context.Background())
		if err != nil {
			r.markSessionDead(session)
			return
		}
		select {
		case r.recvCh <- msg:
		case <-r.closeCh:
			return
		}
	}
}

// markSessionDead finds whichever configured peer currently holds session
// and clears it, so the registry's dial loop redials (spec.md §4.3). The
// announce callback only hands us the session, not the owning peer, so we
// look it up by value.
func (r *Raft) markSessionDead(session raftnet.Session) {
	for _, p := range r.registry.Peers() {
		if p.Session() == session {
			r.registry.MarkDead(p, session)
			return
		}
	}
}

func (r *Raft) sendTo(id string, msg raftrpc.Message) {
	if r.registry == nil {
		return
	}
	peer, ok := r.registry.Peer(id)
	if !ok {
		return
	}
	session := peer.Session()
	if session == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := session.Send(ctx, msg); err != nil {
			r.registry.MarkDead(peer, session)
		}
	}()
}

// sendReply sends msg once the durability record it depends on (if any) has
// synced, so a peer is never told a vote or an append succeeded before that
// guarantee is actually durable (spec.md §4.1). positive is false for a
// rejection, which carries no durability obligation and goes out
// immediately; seq is 0 whenever there was nothing to wait on (no backing
// durability tracker, or the reply required no new durable record).
func (r *Raft) sendReply(to string, msg raftrpc.Message, positive bool, seq uint64) {
	d := r.durability.Load()
	if !positive || seq == 0 || d == nil {
		r.sendTo(to, msg)
		return
	}
	d.WaitDurable(seq, func() {
		r.sendTo(to, msg)
	})
}

func (r *Raft) cancelReplication() {
	r.outgoingSnapshots = make(map[string]*outgoingSnapshot)
}

func (r *Raft) headerRecordLocal() recordlog.Record {
	return recordlog.HeaderRecord(r.clusterID, r.serverID)
}

func (r *Raft) snapshotRecordLocal(s *incomingSnapshot) recordlog.Record {
	return recordlog.SnapshotRecord(s.lastTerm, s.lastIndex, s.lastServers, string(s.data))
}

func (r *Raft) replaceLogWithSnapshot(header, snap recordlog.Record) (*recordlog.File, error) {
	repl, err := recordlog.ReplaceStart(r.cfg.DataDir+"/raft.log", header, snap)
	if err != nil {
		return nil, err
	}
	return repl.Commit()
}

// proposeServerSet appends the current server set as an EntryServerConfig
// entry, used both when a Catchup-phase server becomes CaughtUp and when a
// RemoveServer-marked one is ready to be dropped from the configuration
// (spec.md §4.7/§6.2).
func (r *Raft) proposeServerSet() {
	if r.role != Leader {
		return
	}
	payload := encodeServerSet(r.servers)
	idx := r.log.logEnd()
	r.appendLocal(idx, LogEntry{Term: r.currentTerm, Type: EntryServerConfig, Payload: payload})
	r.broadcastAppend()
}

// Run drives the server's event loop until Close is called or an
// unrecoverable I/O error occurs. It owns all protocol state and must be
// invoked from its own goroutine; callers can call Wait() to block until it
// has exited. A separate goroutine (runFsyncWorker) owns the actual
// fsync call (spec.md §5: "one auxiliary thread exists: the fsync worker
// ... the driver never calls fsync directly"); this loop only ever appends.
func (r *Raft) Run(ctx context.Context) error {
	defer close(r.closedCh)
	heartbeat := time.NewTicker(r.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	fsyncDone := make(chan struct{})
	go r.runFsyncWorker(ctx, fsyncDone)

	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			<-fsyncDone
			return ctx.Err()
		case <-r.closeCh:
			r.shutdown()
			<-fsyncDone
			return nil

		case msg := <-r.recvCh:
			r.dispatch(msg)

		case req := <-r.commandCh:
			r.handleCommandExecute(req)

		case req := <-r.addServerCh:
			r.handleAddServerRequest(req)

		case req := <-r.removeServerCh:
			r.handleRemoveServerRequest(req)

		case <-heartbeat.C:
			if r.role == Leader {
				r.broadcastAppend()
			}

		case <-tick.C:
			if r.role != Leader && r.clock().After(r.electionDeadline) {
				r.becomeCandidate()
			}
		}
		r.refreshStatusSnapshot()
	}
}

// runFsyncWorker is the fsync worker thread spec.md §5 calls for: it never
// appends to the record log, it only calls Sync (which itself only fsyncs
// and fires waiters already queued by the run loop via durability.Append /
// WaitDurable). It reads the current durability tracker through an atomic
// pointer since the run loop can swap it out (snapshot install) while this
// goroutine is live.
func (r *Raft) runFsyncWorker(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.syncDurability()
			return
		case <-r.closeCh:
			r.syncDurability()
			return
		case <-ticker.C:
			r.syncDurability()
		}
	}
}

func (r *Raft) syncDurability() {
	d := r.durability.Load()
	if d == nil || !d.Pending() {
		return
	}
	if err := d.Sync(); err != nil {
		r.logError("fsync worker", err)
	}
}

// refreshStatusSnapshot copies the fields StatusProvider exposes into the
// statusMu-guarded snapshot. Called by the run loop after every processed
// event so external readers never touch run-loop-owned state directly.
func (r *Raft) refreshStatusSnapshot() {
	snap := statusSnapshot{
		isLeader:    r.role == Leader,
		leaderID:    r.leaderID,
		term:        r.currentTerm,
		commitIndex: r.commitIndex,
	}
	if d, ok := r.servers[r.leaderID]; ok {
		snap.leaderAddr = d.Address
	}
	if d := r.durability.Load(); d != nil {
		d.mu.Lock()
		snap.durabilityLag = d.requested - d.durable
		d.mu.Unlock()
	}
	r.statusMu.Lock()
	r.status = snap
	r.statusMu.Unlock()
}

func (r *Raft) shutdown() {
	r.commands.Shutdown()
	r.registry.Close()
	// The final fsync is performed by runFsyncWorker itself once it observes
	// ctx.Done()/closeCh; Run waits on fsyncDone after calling shutdown so
	// nothing is left un-synced when Wait returns.
}

// Wait blocks until Run has returned.
func (r *Raft) Wait() { <-r.closedCh }

// Close requests the run loop stop.
func (r *Raft) Close() {
	select {
	case <-r.closeCh:
	default:
		close(r.closeCh)
	}
}

func (r *Raft) dispatch(msg raftrpc.Message) {
	switch m := msg.(type) {
	case raftrpc.VoteRequest:
		reply, seq := r.handleVoteRequest(m)
		r.sendReply(m.From, reply, reply.VoteGranted, seq)
	case raftrpc.VoteReply:
		r.handleVoteReply(m)
	case raftrpc.AppendRequest:
		reply, seq := r.handleAppendRequest(m)
		r.sendReply(m.From, reply, reply.Success, seq)
	case raftrpc.AppendReply:
		r.handleAppendReply(m)
	case raftrpc.InstallSnapshotRequest:
		reply := r.handleInstallSnapshotRequest(m)
		r.sendTo(m.From, reply)
	case raftrpc.InstallSnapshotReply:
		r.handleInstallSnapshotReply(m)
	case raftrpc.AddServerRequest:
		r.handleAddServerRequest(&serverOpRequest{serverID: m.ServerID, address: m.Address})
	case raftrpc.RemoveServerRequest:
		r.handleRemoveServerRequest(&serverOpRequest{serverID: m.ServerID})
	}
}

func (r *Raft) handleInstallSnapshotReply(reply raftrpc.InstallSnapshotReply) {
	if reply.Term > r.currentTerm {
		r.becomeFollower(reply.Term, "")
		return
	}
	if r.role != Leader {
		return
	}
	d, ok := r.servers[reply.From]
	if !ok {
		return
	}
	r.replicateTo(reply.From, d)
}

// CommandExecute submits payload for replication if this server is
// currently leader, returning a handle id usable with CommandStatus,
// CommandWait, and CommandRelease (spec.md §6.3).
func (r *Raft) CommandExecute(ctx context.Context, payload []byte) (uint64, error) {
	req := &commandRequest{payload: payload, idCh: make(chan uint64, 1)}
	select {
	case r.commandCh <- req:
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-r.closedCh:
		return 0, fmt.Errorf("raft: server closed")
	}
	select {
	case id := <-req.idCh:
		if id == 0 {
			return 0, &Error{Kind: KindState, Err: fmt.Errorf("not leader")}
		}
		return id, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (r *Raft) handleCommandExecute(req *commandRequest) {
	if r.role != Leader {
		req.idCh <- 0
		return
	}
	idx := r.log.logEnd()
	r.appendLocal(idx, LogEntry{Term: r.currentTerm, Type: EntryData, Payload: req.payload})
	id := r.commands.Track(idx, r.currentTerm)
	req.idCh <- id
	r.broadcastAppend()
	if len(r.votingMembers()) == 1 {
		r.maybeAdvanceCommit()
	}
}

// CommandStatus reports a previously submitted command's current status
// without blocking (spec.md §6.3).
func (r *Raft) CommandStatus(id uint64) CommandStatus {
	status, ok := r.commands.Status(id)
	if !ok {
		return Success
	}
	return status
}

// CommandWait blocks until id's status leaves Incomplete or ctx is done.
func (r *Raft) CommandWait(ctx context.Context, id uint64) (CommandStatus, error) {
	done, ok := r.commands.doneChan(id)
	if !ok {
		return Success, nil
	}
	select {
	case <-done:
		status, _ := r.commands.Status(id)
		return status, nil
	case <-ctx.Done():
		return Incomplete, ctx.Err()
	}
}

// CommandRelease forgets id, freeing its tracking entry (spec.md §6.3).
func (r *Raft) CommandRelease(id uint64) { r.commands.Release(id) }

// AddServer proposes adding a new server to the cluster (spec.md §6.2). It
// returns as soon as the leader has accepted or rejected the request: a
// started catch-up reports StatusInProgress, and the later outcome of the
// reconfiguration is not reported to the caller.
func (r *Raft) AddServer(ctx context.Context, serverID, address string) (raftrpc.Status, error) {
	return r.serverOp(ctx, r.addServerCh, serverID, address)
}

// RemoveServer proposes removing serverID from the cluster (spec.md §6.2).
// It returns as soon as the removal has been proposed (StatusInProgress) or
// rejected; whether the resulting configuration entry commits is not
// reported to the caller.
func (r *Raft) RemoveServer(ctx context.Context, serverID string) (raftrpc.Status, error) {
	return r.serverOp(ctx, r.removeServerCh, serverID, "")
}

func (r *Raft) serverOp(ctx context.Context, ch chan *serverOpRequest, serverID, address string) (raftrpc.Status, error) {
	req := &serverOpRequest{serverID: serverID, address: address, replyCh: make(chan raftrpc.Status, 1)}
	select {
	case ch <- req:
	case <-ctx.Done():
		return raftrpc.StatusTimeout, ctx.Err()
	case <-r.closedCh:
		return raftrpc.StatusTimeout, fmt.Errorf("raft: server closed")
	}
	select {
	case status := <-req.replyCh:
		return status, nil
	case <-ctx.Done():
		return raftrpc.StatusTimeout, ctx.Err()
	}
}

func (r *Raft) handleAddServerRequest(req *serverOpRequest) {
	if r.role != Leader {
		r.reply(req, raftrpc.StatusNotLeader)
		return
	}
	if _, exists := r.servers[req.serverID]; exists {
		r.reply(req, raftrpc.StatusNoOp)
		return
	}
	if r.inFlightMembershipChange() {
		r.reply(req, raftrpc.StatusInProgress)
		return
	}
	r.beginAddServer(req.serverID, req.address)
	if addr, err := raftnet.ParseAddress(req.address); err == nil {
		r.registry.AddPeer(req.serverID, addr.String())
	}
	r.replicateTo(req.serverID, r.servers[req.serverID])
	r.reply(req, raftrpc.StatusInProgress)
}

func (r *Raft) handleRemoveServerRequest(req *serverOpRequest) {
	if r.role != Leader {
		r.reply(req, raftrpc.StatusNotLeader)
		return
	}
	d, exists := r.servers[req.serverID]
	if !exists {
		r.reply(req, raftrpc.StatusNoOp)
		return
	}
	if r.inFlightMembershipChange() && d.Phase != PhaseRemove {
		r.reply(req, raftrpc.StatusInProgress)
		return
	}
	r.beginRemoveServer(req.serverID)
	r.proposeServerSet()
	r.registry.RemovePeer(req.serverID)
	r.reply(req, raftrpc.StatusInProgress)
}

func (r *Raft) reply(req *serverOpRequest, status raftrpc.Status) {
	if req.replyCh != nil {
		req.replyCh <- status
	}
}

// IsLeader reports whether this server currently believes it is leader.
// Implements raftmetrics.StatusProvider.
func (r *Raft) IsLeader() bool {
	r.statusMu.Lock()
	defer r.statusMu.Unlock()
	return r.status.isLeader
}

// LeaderHint implements raftmetrics.StatusProvider.
func (r *Raft) LeaderHint() (string, string) {
	r.statusMu.Lock()
	defer r.statusMu.Unlock()
	return r.status.leaderID, r.status.leaderAddr
}

// Term implements raftmetrics.StatusProvider.
func (r *Raft) Term() uint64 {
	r.statusMu.Lock()
	defer r.statusMu.Unlock()
	return r.status.term
}

// CommitIndex implements raftmetrics.StatusProvider.
func (r *Raft) CommitIndex() uint64 {
	r.statusMu.Lock()
	defer r.statusMu.Unlock()
	return r.status.commitIndex
}

// DurabilityLag implements raftmetrics.StatusProvider: the gap between
// appended and fsynced records.
func (r *Raft) DurabilityLag() uint64 {
	r.statusMu.Lock()
	defer r.statusMu.Unlock()
	return r.status.durabilityLag
}

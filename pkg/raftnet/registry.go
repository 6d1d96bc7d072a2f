package raftnet

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/raftcore/pkg/log"
)

// Peer is a configured server: at most one outbound session, dialed and
// redialed by a background goroutine owned by the Registry (spec.md §4.3).
type Peer struct {
	ServerID string
	Address  string

	mu      sync.Mutex
	session Session
}

func (p *Peer) setSession(s Session) {
	p.mu.Lock()
	p.session = s
	p.mu.Unlock()
}

func (p *Peer) Session() Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}

// Inbound is a not-yet-identified connection: a joining server, or a new
// add-server candidate dialing in before it is a configured peer. On first
// message, the sender's server id is learned; the protocol layer logs and
// ignores any later change of identity on the same session.
type Inbound struct {
	Session    Session
	ServerID   string // empty until the first message is observed
	identified bool
}

// Registry is the server set & connection registry (spec.md §4.3): the
// configured peers (one outbound session each) plus the ad-hoc inbound
// connection list.
type Registry struct {
	mu       sync.Mutex
	peers    map[string]*Peer
	inbound  []*Inbound
	dialer   *Dialer
	localID  string
	outgoing func(ctx context.Context, s Session) // hello/add-server announcer, set by the engine
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewRegistry creates an empty registry. announce is called once per
// successful (re)connect of an outbound session, before any other traffic
// is sent on it — it is the engine's hook to emit HelloRequest or
// AddServerRequest per spec.md §4.3.
func NewRegistry(localID string, dialer *Dialer, announce func(ctx context.Context, s Session)) *Registry {
	return &Registry{
		peers:    make(map[string]*Peer),
		dialer:   dialer,
		localID:  localID,
		outgoing: announce,
		stopCh:   make(chan struct{}),
	}
}

// AddPeer registers a configured peer and starts its dial-and-redial loop.
// If the peer already exists, its address is updated in place.
func (r *Registry) AddPeer(serverID, address string) *Peer {
	r.mu.Lock()
	p, ok := r.peers[serverID]
	if ok {
		p.Address = address
		r.mu.Unlock()
		return p
	}
	p = &Peer{ServerID: serverID, Address: address}
	r.peers[serverID] = p
	r.mu.Unlock()

	r.wg.Add(1)
	go r.dialLoop(p)
	return p
}

// AdoptInbound registers an accepted session as serverID's peer connection
// when no outbound dial to it exists yet — the case for a server that
// joined via Join and so has no configured peers of its own, but still
// needs a channel to reply to the leader that dialed it (spec.md §4.3). If
// serverID is already a configured peer with a live outbound session, the
// inbound session is left alone and the caller should just keep pumping it
// for reads without adopting it for sends.
func (r *Registry) AdoptInbound(serverID string, s Session) *Peer {
	r.mu.Lock()
	p, ok := r.peers[serverID]
	if !ok {
		p = &Peer{ServerID: serverID}
		r.peers[serverID] = p
	}
	r.mu.Unlock()

	if p.Session() == nil {
		p.setSession(s)
	}
	return p
}

// RemovePeer drops a configured peer and closes its session.
func (r *Registry) RemovePeer(serverID string) {
	r.mu.Lock()
	p, ok := r.peers[serverID]
	delete(r.peers, serverID)
	r.mu.Unlock()
	if ok {
		if s := p.Session(); s != nil {
			s.Close()
		}
	}
}

// Peer returns the configured peer by id, if any.
func (r *Registry) Peer(serverID string) (*Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[serverID]
	return p, ok
}

// Peers returns a snapshot of all configured peers.
func (r *Registry) Peers() []*Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	return out
}

// AddInbound registers a freshly accepted session as ad-hoc until its
// sender identifies itself on the first message.
func (r *Registry) AddInbound(s Session) *Inbound {
	in := &Inbound{Session: s}
	r.mu.Lock()
	r.inbound = append(r.inbound, in)
	r.mu.Unlock()
	return in
}

// Identify records the sender id observed on an inbound session's first
// message, and promotes it to a configured peer's session if one matches.
// A later message claiming a different identity on the same session is the
// protocol layer's concern to log and ignore, not the registry's.
func (r *Registry) Identify(in *Inbound, serverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if in.identified {
		return
	}
	in.ServerID = serverID
	in.identified = true

	if p, ok := r.peers[serverID]; ok && p.Session() == nil {
		p.setSession(in.Session)
	}
}

// RemoveInbound drops an ad-hoc inbound session (closed or promoted).
func (r *Registry) RemoveInbound(in *Inbound) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, x := range r.inbound {
		if x == in {
			r.inbound = append(r.inbound[:i], r.inbound[i+1:]...)
			return
		}
	}
}

// Close stops all dial loops and closes every session.
func (r *Registry) Close() {
	close(r.stopCh)
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.peers {
		if s := p.Session(); s != nil {
			s.Close()
		}
	}
	for _, in := range r.inbound {
		in.Session.Close()
	}
}

// dialLoop keeps a configured peer's outbound session alive: dial, announce
// (Hello or AddServer), read until failure, then redial with exponential
// backoff (200ms doubling to a 10s cap, no jitter) —
// the "phone home" behavior carried over from the original implementation
// (SPEC_FULL.md §4).
func (r *Registry) dialLoop(p *Peer) {
	defer r.wg.Done()
	backoff := 200 * time.Millisecond
	const maxBackoff = 10 * time.Second

	for {
		select {
		case <-r.stopCh:
			return
		default:
		}

		addr, err := ParseAddress(p.Address)
		if err != nil {
			log.WithPeer(p.ServerID).Error("invalid peer address: " + err.Error())
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		s, err := r.dialer.Dial(ctx, addr)
		cancel()
		if err != nil {
			if !r.sleepOrStop(backoff) {
				return
			}
			backoff = nextBackoff(backoff, maxBackoff)
			continue
		}

		backoff = 200 * time.Millisecond
		p.setSession(s)
		if r.outgoing != nil {
			r.outgoing(context.Background(), s)
		}

		// Block until the session dies, then loop to redial. The engine's
		// own read loop consumes messages via Receive elsewhere; here we
		// only need to notice the session dying so we can redial. We do
		// that by giving the engine the session and waiting for it to be
		// cleared, signalled by setSession(nil) from the read-loop owner.
		r.waitSessionCleared(p, s)

		select {
		case <-r.stopCh:
			return
		default:
		}
	}
}

// waitSessionCleared blocks until p's current session is no longer s
// (closed and replaced with nil by whoever owns the read loop for p).
func (r *Registry) waitSessionCleared(p *Peer, s Session) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			if p.Session() != s {
				return
			}
		}
	}
}

// MarkDead clears a peer's session after its read loop observes a failure,
// triggering the dial loop to redial.
func (r *Registry) MarkDead(p *Peer, dead Session) {
	p.mu.Lock()
	if p.session == dead {
		p.session = nil
	}
	p.mu.Unlock()
	dead.Close()
}

func (r *Registry) sleepOrStop(d time.Duration) bool {
	select {
	case <-r.stopCh:
		return false
	case <-time.After(d):
		return true
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		next = max
	}
	return next
}

package raft

import (
	"context"

	"github.com/cuemby/raftcore/pkg/raftnet"
)

// Listener is the accept-side of the transport: bind LocalAddress and pump
// every inbound connection's messages into the run loop, the counterpart to
// the registry's outbound dial loops started in newRaft. A server that only
// ever gets dialed into (a fresh Join, or any follower that never initiates
// AddServer) has no other way to receive traffic.
type Listener struct {
	r  *Raft
	ln *raftnet.Listener
}

// Listen binds r.cfg.LocalAddress and starts accepting inbound sessions in
// the background. Callers run this alongside Run; Close stops it.
func (r *Raft) Listen() (*Listener, error) {
	addr, err := raftnet.ParseAddress(r.cfg.LocalAddress)
	if err != nil {
		return nil, syntaxErrorf("parse local address %q: %w", r.cfg.LocalAddress, err)
	}
	ln, err := raftnet.Listen(addr, r.cfg.TLSConfig)
	if err != nil {
		return nil, ioErrorf("listen on %s: %w", addr, err)
	}
	l := &Listener{r: r, ln: ln}
	go l.acceptLoop()
	return l, nil
}

// Close stops accepting new connections. Already-accepted sessions are torn
// down when the run loop shuts down and closes the registry.
func (l *Listener) Close() error { return l.ln.Close() }

func (l *Listener) acceptLoop() {
	for {
		session, err := l.ln.Accept()
		if err != nil {
			return
		}
		go l.pumpInbound(session)
	}
}

// pumpInbound reads from a freshly accepted session until its sender
// identifies itself on the first message, adopts the session as that
// sender's peer connection (so replies have somewhere to go), and then
// forwards every message into the run loop exactly like an outbound
// session's pump does.
func (l *Listener) pumpInbound(session raftnet.Session) {
	identified := false
	for {
		msg, err := session.Receive(context.Background())
		if err != nil {
			return
		}
		if !identified {
			from := msg.Envelope().From
			if from != "" {
				l.r.registry.AdoptInbound(from, session)
			}
			identified = true
		}
		select {
		case l.r.recvCh <- msg:
		case <-l.r.closeCh:
			return
		}
	}
}

// Package raftadmin is the local administrative control plane for a raftd
// process: a JSON-over-HTTP API bound to a Unix domain socket, in the
// teacher's plain net/http + encoding/json style (pkg/api's health mux)
// rather than the teacher's gRPC client API, since the control surface here
// is a handful of local-only admin verbs rather than a public typed RPC
// service.
package raftadmin

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/cuemby/raftcore/pkg/raft"
	"github.com/cuemby/raftcore/pkg/raftrpc"
)

// Server exposes AddServer/RemoveServer/CommandExecute and a status snapshot
// for a single local *raft.Raft over a Unix socket.
type Server struct {
	r   *raft.Raft
	mux *http.ServeMux
}

// NewServer wires the admin handlers for r.
func NewServer(r *raft.Raft) *Server {
	s := &Server{r: r, mux: http.NewServeMux()}
	s.mux.HandleFunc("/status", s.handleStatus)
	s.mux.HandleFunc("/add-server", s.handleAddServer)
	s.mux.HandleFunc("/remove-server", s.handleRemoveServer)
	s.mux.HandleFunc("/command", s.handleCommand)
	return s
}

// Serve binds socketPath and blocks accepting connections until the
// listener is closed. Any stale socket file from a prior unclean shutdown
// is removed first.
func (s *Server) Serve(socketPath string) error {
	_ = os.Remove(socketPath)
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return err
	}
	defer ln.Close()
	server := &http.Server{Handler: s.mux}
	return server.Serve(ln)
}

type statusResponse struct {
	IsLeader      bool   `json:"is_leader"`
	LeaderID      string `json:"leader_id"`
	LeaderAddress string `json:"leader_address"`
	Term          uint64 `json:"term"`
	CommitIndex   uint64 `json:"commit_index"`
	DurabilityLag uint64 `json:"durability_lag"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	leaderID, leaderAddr := s.r.LeaderHint()
	writeJSON(w, http.StatusOK, statusResponse{
		IsLeader:      s.r.IsLeader(),
		LeaderID:      leaderID,
		LeaderAddress: leaderAddr,
		Term:          s.r.Term(),
		CommitIndex:   s.r.CommitIndex(),
		DurabilityLag: s.r.DurabilityLag(),
	})
}

type serverOpRequest struct {
	ServerID string `json:"server_id"`
	Address  string `json:"address,omitempty"`
}

type serverOpResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleAddServer(w http.ResponseWriter, r *http.Request) {
	var req serverOpRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	status, err := s.r.AddServer(ctx, req.ServerID, req.Address)
	if err != nil {
		writeJSON(w, http.StatusGatewayTimeout, serverOpResponse{Status: string(raftrpc.StatusTimeout)})
		return
	}
	writeJSON(w, http.StatusOK, serverOpResponse{Status: string(status)})
}

func (s *Server) handleRemoveServer(w http.ResponseWriter, r *http.Request) {
	var req serverOpRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	status, err := s.r.RemoveServer(ctx, req.ServerID)
	if err != nil {
		writeJSON(w, http.StatusGatewayTimeout, serverOpResponse{Status: string(raftrpc.StatusTimeout)})
		return
	}
	writeJSON(w, http.StatusOK, serverOpResponse{Status: string(status)})
}

type commandRequest struct {
	Payload string `json:"payload"`
}

type commandResponse struct {
	ID     uint64 `json:"id"`
	Status string `json:"status"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	id, err := s.r.CommandExecute(ctx, []byte(req.Payload))
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	status, _ := s.r.CommandWait(ctx, id)
	writeJSON(w, http.StatusOK, commandResponse{ID: id, Status: status.String()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "malformed request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

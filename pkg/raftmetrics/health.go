package raftmetrics

import (
	"encoding/json"
	"net/http"
	"time"
)

// StatusProvider is the narrow view of a Raft server that the health/ready
// endpoints need. *raft.Raft satisfies it without raftmetrics importing
// pkg/raft, keeping the dependency pointed the way the teacher's
// pkg/api.HealthServer depends on pkg/manager.
type StatusProvider interface {
	IsLeader() bool
	LeaderHint() (serverID string, address string)
	Term() uint64
	CommitIndex() uint64
	DurabilityLag() uint64 // requested - durable
}

// HealthServer provides HTTP health/ready/metrics endpoints for a raftd
// process, mirroring the teacher's pkg/api.HealthServer.
type HealthServer struct {
	status StatusProvider
	mux    *http.ServeMux
}

// NewHealthServer creates a new health check HTTP server.
func NewHealthServer(status StatusProvider) *HealthServer {
	hs := &HealthServer{status: status, mux: http.NewServeMux()}
	hs.mux.HandleFunc("/health", hs.healthHandler)
	hs.mux.HandleFunc("/ready", hs.readyHandler)
	hs.mux.Handle("/metrics", Handler())
	return hs
}

// Start starts the health check HTTP server. Blocks until the listener
// fails; callers run it in its own goroutine.
func (hs *HealthServer) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      hs.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

// GetHandler returns the HTTP handler for embedding in other servers.
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.mux
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type readyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(healthResponse{Status: "healthy", Timestamp: time.Now()})
}

// readyHandler reports whether this server has a known leader (itself or a
// peer) and how far behind durable storage is from what the driver has
// requested — a large gap usually means the fsync worker is stuck or the
// disk is slow.
func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checks := make(map[string]string)
	ready := true
	var message string

	if hs.status == nil {
		checks["raft"] = "not initialized"
		ready = false
		message = "raft engine not initialized"
	} else if hs.status.IsLeader() {
		checks["raft"] = "leader"
	} else if id, addr := hs.status.LeaderHint(); addr != "" {
		checks["raft"] = "follower (leader " + id + " at " + addr + ")"
	} else {
		checks["raft"] = "no leader elected"
		ready = false
		message = "waiting for leader election"
	}

	if hs.status != nil {
		lag := hs.status.DurabilityLag()
		if lag > 64 {
			checks["durability"] = "lagging"
			ready = false
			if message == "" {
				message = "fsync worker is falling behind"
			}
		} else {
			checks["durability"] = "ok"
		}
	}

	status := "ready"
	code := http.StatusOK
	if !ready {
		status = "not ready"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(readyResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
		Message:   message,
	})
}

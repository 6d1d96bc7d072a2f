package raftadmin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Client talks to a Server over its Unix socket, used by cmd/raftctl.
type Client struct {
	http       *http.Client
	socketPath string
}

// NewClient returns a Client dialing socketPath for every request.
func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		http: &http.Client{
			Timeout: 35 * time.Second,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}
}

// Status fetches the server's current status snapshot.
func (c *Client) Status(ctx context.Context) (statusResponse, error) {
	var resp statusResponse
	err := c.get(ctx, "/status", &resp)
	return resp, err
}

// AddServer requests adding serverID at address, returning the
// raftrpc.Status string the server replied with ("in-progress" once
// catch-up has started; the reconfiguration's final outcome is not reported).
func (c *Client) AddServer(ctx context.Context, serverID, address string) (string, error) {
	var resp serverOpResponse
	err := c.post(ctx, "/add-server", serverOpRequest{ServerID: serverID, Address: address}, &resp)
	return resp.Status, err
}

// RemoveServer requests removing serverID.
func (c *Client) RemoveServer(ctx context.Context, serverID string) (string, error) {
	var resp serverOpResponse
	err := c.post(ctx, "/remove-server", serverOpRequest{ServerID: serverID}, &resp)
	return resp.Status, err
}

// Command submits payload for replication and waits for its outcome.
func (c *Client) Command(ctx context.Context, payload string) (uint64, string, error) {
	var resp commandResponse
	err := c.post(ctx, "/command", commandRequest{Payload: payload}, &resp)
	return resp.ID, resp.Status, err
}

func (c *Client) get(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://unix"+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, dst)
}

func (c *Client) post(ctx context.Context, path string, body any, dst any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://unix"+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, dst)
}

func (c *Client) do(req *http.Request, dst any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("raftadmin: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("raftadmin: %s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

package mesh

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	defaultClientTimeout = 10 * time.Second
	executeTimeout       = 35 * time.Second
)

// Client carries all inter-node RPCs: join, heartbeat, leave, and remote
// tool execution. Failures return nil (false from Leave) — callers treat every peer error the
// same way and fall back.
type Client struct {
	secret string
	http   *http.Client
}

func NewClient(secret string) *Client {
	return &Client{
		secret: secret,
		http:   &http.Client{Timeout: defaultClientTimeout},
	}
}

// Join sends a join request to a peer. Returns nil on failure.
func (c *Client) Join(ctx context.Context, peerURL string, selfInfo NodeInfo) *JoinResponse {
	body := JoinRequest{NodeInfo: selfInfo, MeshToken: SignToken(c.secret, 0)}
	var resp JoinResponse
	if err := c.post(ctx, peerURL, "/mesh/join", body, &resp, defaultClientTimeout); err != nil {
		slog.Warn("mesh join failed", "peer", peerURL, "error", err)
		return nil
	}
	return &resp
}

// Heartbeat sends this node's load to a peer. Returns nil on failure.
func (c *Client) Heartbeat(ctx context.Context, peerURL string, load NodeLoad) *HeartbeatResponse {
	body := HeartbeatRequest{NodeLoad: load, MeshToken: SignToken(c.secret, 0)}
	var resp HeartbeatResponse
	if err := c.post(ctx, peerURL, "/mesh/heartbeat", body, &resp, defaultClientTimeout); err != nil {
		return nil
	}
	return &resp
}

// Leave notifies a peer this node is departing. Best-effort.
func (c *Client) Leave(ctx context.Context, peerURL, nodeID string) bool {
	body := LeaveRequest{NodeID: nodeID, MeshToken: SignToken(c.secret, 0)}
	var resp LeaveResponse
	if err := c.post(ctx, peerURL, "/mesh/leave", body, &resp, defaultClientTimeout); err != nil {
		slog.Debug("mesh leave notification failed", "peer", peerURL, "error", err)
		return false
	}
	return resp.OK
}

// ExecuteTool forwards a tool call to a peer as a first hop (hop_count=0).
// The peer executes it locally and refuses anything with hop_count > 0, so
// the call is never forwarded again. Returns nil on any failure.
func (c *Client) ExecuteTool(ctx context.Context, peerURL string, call MeshToolCall, meshCtx MeshContext) *MeshToolResponse {
	body := MeshToolRequest{
		ToolCall:  call,
		Context:   meshCtx,
		MeshToken: SignToken(c.secret, 0),
		HopCount:  0,
	}
	var resp MeshToolResponse
	if err := c.post(ctx, peerURL, "/mesh/execute", body, &resp, executeTimeout); err != nil {
		slog.Warn("mesh remote execute failed", "peer", peerURL, "tool", call.Name, "error", err)
		return nil
	}
	return &resp
}

func (c *Client) post(ctx context.Context, peerURL, path string, body, out any, timeout time.Duration) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	url := strings.TrimRight(peerURL, "/") + path
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(data), 200))
	}
	return json.Unmarshal(data, out)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

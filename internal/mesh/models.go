package mesh

import "time"

// NodeInfo describes a peer's identity and capabilities.
type NodeInfo struct {
	NodeID       string   `json:"node_id"`
	NodeName     string   `json:"node_name"`
	AdvertiseURL string   `json:"advertise_url"`
	Tools        []string `json:"tools"`
	Capabilities []string `json:"capabilities"`
	Version      string   `json:"version"`
	JoinedAtMS   int64    `json:"joined_at_ms"`
}

// NodeLoad is a real-time load snapshot sent with heartbeats.
type NodeLoad struct {
	NodeID              string `json:"node_id"`
	ActiveCrawls        int    `json:"active_crawls"`
	ActiveAgentRuns     int    `json:"active_agent_runs"`
	BrowserPoolFree     int    `json:"browser_pool_free"`
	MaxConcurrentCrawls int    `json:"max_concurrent_crawls"`
	TimestampMS         int64  `json:"timestamp_ms"`
}

// PeerState is the coordinator's internal tracking of one known peer.
type PeerState struct {
	Info             NodeInfo  `json:"info"`
	Load             *NodeLoad `json:"load,omitempty"`
	LastHeartbeatMS  int64     `json:"last_heartbeat_ms"`
	MissedHeartbeats int       `json:"missed_heartbeats"`
	Healthy          bool      `json:"healthy"`
}

// --- wire protocol: join ---

type JoinRequest struct {
	NodeInfo  NodeInfo `json:"node_info"`
	MeshToken string   `json:"mesh_token"`
}

type JoinResponse struct {
	OK         bool       `json:"ok"`
	NodeInfo   NodeInfo   `json:"node_info"` // responder's own info
	KnownPeers []NodeInfo `json:"known_peers,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// --- wire protocol: heartbeat ---

type HeartbeatRequest struct {
	NodeLoad  NodeLoad `json:"node_load"`
	MeshToken string   `json:"mesh_token"`
}

type HeartbeatResponse struct {
	OK          bool  `json:"ok"`
	TimestampMS int64 `json:"timestamp_ms"`
}

// --- wire protocol: tool execution ---

type MeshToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// MeshContext is the execution context forwarded with remote tool calls.
type MeshContext struct {
	RunID           string `json:"run_id,omitempty"`
	CustomerID      string `json:"customer_id,omitempty"`
	SessionID       string `json:"session_id,omitempty"`
	OriginatingNode string `json:"originating_node,omitempty"`
}

type MeshToolRequest struct {
	ToolCall  MeshToolCall `json:"tool_call"`
	Context   MeshContext  `json:"context"`
	MeshToken string       `json:"mesh_token"`
	HopCount  int          `json:"hop_count"` // 1-hop max enforcement
}

type MeshToolResult struct {
	ToolCallID   string `json:"tool_call_id"`
	OK           bool   `json:"ok"`
	Payload      any    `json:"payload,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	DurationMS   int64  `json:"duration_ms"`
}

type MeshToolResponse struct {
	OK         bool            `json:"ok"`
	ToolResult *MeshToolResult `json:"tool_result,omitempty"`
	ExecutedOn string          `json:"executed_on,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// --- wire protocol: leave ---

type LeaveRequest struct {
	NodeID    string `json:"node_id"`
	MeshToken string `json:"mesh_token"`
}

type LeaveResponse struct {
	OK bool `json:"ok"`
}

func nowMS() int64 { return time.Now().UnixMilli() }

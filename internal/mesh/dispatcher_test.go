package mesh

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/gocrawl/internal/agent"
	"github.com/nextlevelbuilder/gocrawl/internal/tools"
)

const testSecret = "test-mesh-secret"

// countingTool records executions and succeeds.
type countingTool struct {
	executions int
}

func (t *countingTool) Name() string               { return "crawl" }
func (t *countingTool) Description() string        { return "counting crawl stub" }
func (t *countingTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (t *countingTool) Execute(ctx context.Context, args map[string]any) *tools.Result {
	t.executions++
	return tools.DataResult("local content")
}

func testCoordinator(t *testing.T, selfBusy bool) *Coordinator {
	t.Helper()
	load := NodeLoad{MaxConcurrentCrawls: 5}
	if selfBusy {
		load.ActiveCrawls = 5
	}
	return NewCoordinator(CoordinatorConfig{
		NodeName:            "test-node",
		Secret:              testSecret,
		MaxConcurrentCrawls: 5,
	}, func() NodeLoad { return load })
}

// Scenario: one idle healthy peer, local at max load. Router picks the
// peer; the peer is unreachable; the engine still receives the local
// result with no duplicate executions.
func TestDispatcher_FallbackToLocal(t *testing.T) {
	tool := &countingTool{}
	reg := tools.NewRegistry()
	reg.Register(tool)
	local := agent.NewDispatcher(reg, agent.DefaultRunConfig())

	coordinator := testCoordinator(t, true)
	coordinator.RegisterPeer(NodeInfo{
		NodeID:       "peer-b",
		NodeName:     "b",
		AdvertiseURL: "http://127.0.0.1:1", // connection refused
	}, &NodeLoad{NodeID: "peer-b", MaxConcurrentCrawls: 5})

	d := NewDispatcher(local, coordinator, true)
	result := d.Dispatch(context.Background(), agent.ToolCall{
		ID: "1", Name: "crawl", Args: map[string]any{},
	})

	if !result.OK {
		t.Fatalf("expected ok result after fallback, got %+v", result)
	}
	if result.Payload != "local content" {
		t.Errorf("payload = %v, want local content", result.Payload)
	}
	if tool.executions != 1 {
		t.Errorf("tool executed %d times, want exactly 1", tool.executions)
	}
}

// A healthy reachable peer executes the call remotely, exactly once, and
// local execution never happens.
func TestDispatcher_RemoteExecution(t *testing.T) {
	localTool := &countingTool{}
	localReg := tools.NewRegistry()
	localReg.Register(localTool)
	local := agent.NewDispatcher(localReg, agent.DefaultRunConfig())

	// Remote node: its own registry + coordinator + handler.
	remoteTool := &countingTool{}
	remoteReg := tools.NewRegistry()
	remoteReg.Register(remoteTool)
	remoteCoordinator := testCoordinator(t, false)
	remoteHandler := NewHandler(remoteCoordinator, remoteReg)

	mux := http.NewServeMux()
	remoteHandler.RegisterRoutes(mux)
	server := httptest.NewServer(mux)
	defer server.Close()

	coordinator := testCoordinator(t, true)
	coordinator.RegisterPeer(NodeInfo{
		NodeID:       "peer-b",
		NodeName:     "b",
		AdvertiseURL: server.URL,
	}, &NodeLoad{NodeID: "peer-b", MaxConcurrentCrawls: 5})

	d := NewDispatcher(local, coordinator, true)
	result := d.Dispatch(context.Background(), agent.ToolCall{
		ID: "42", Name: "crawl", Args: map[string]any{},
	})

	if !result.OK {
		t.Fatalf("remote dispatch failed: %+v", result)
	}
	if result.ToolCallID != "42" {
		t.Errorf("tool_call_id = %q, want 42", result.ToolCallID)
	}
	if remoteTool.executions != 1 {
		t.Errorf("remote executions = %d, want 1", remoteTool.executions)
	}
	if localTool.executions != 0 {
		t.Errorf("local executions = %d, want 0", localTool.executions)
	}
}

// One-hop enforcement: a forwarded request (hop_count > 0) is refused and
// the tool does not run.
func TestExecuteHandler_OneHopMax(t *testing.T) {
	tool := &countingTool{}
	reg := tools.NewRegistry()
	reg.Register(tool)
	coordinator := testCoordinator(t, false)
	handler := NewHandler(coordinator, reg)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	server := httptest.NewServer(mux)
	defer server.Close()

	body, _ := json.Marshal(MeshToolRequest{
		ToolCall:  MeshToolCall{ID: "1", Name: "crawl", Args: map[string]any{}},
		MeshToken: SignToken(testSecret, 0),
		HopCount:  1,
	})
	resp, err := http.Post(server.URL+"/mesh/execute", "application/json", strings.NewReader(string(body)))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out MeshToolResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.OK {
		t.Error("forwarded request accepted")
	}
	if !strings.Contains(out.Error, "hop") {
		t.Errorf("error %q does not mention hop limit", out.Error)
	}
	if tool.executions != 0 {
		t.Errorf("tool executed %d times on refused request", tool.executions)
	}
}

func TestExecuteHandler_RejectsBadToken(t *testing.T) {
	reg := tools.NewRegistry()
	reg.Register(&countingTool{})
	coordinator := testCoordinator(t, false)
	handler := NewHandler(coordinator, reg)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	server := httptest.NewServer(mux)
	defer server.Close()

	body, _ := json.Marshal(MeshToolRequest{
		ToolCall:  MeshToolCall{ID: "1", Name: "crawl"},
		MeshToken: SignToken("some-other-secret", 0),
	})
	resp, err := http.Post(server.URL+"/mesh/execute", "application/json", strings.NewReader(string(body)))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestCoordinator_JoinAndGossip(t *testing.T) {
	// Seed node with one existing peer in its table.
	seedReg := tools.NewRegistry()
	seedCoordinator := testCoordinator(t, false)
	seedCoordinator.RegisterPeer(NodeInfo{
		NodeID: "gossip-peer", NodeName: "g", AdvertiseURL: "http://gossip",
	}, nil)
	seedHandler := NewHandler(seedCoordinator, seedReg)

	mux := http.NewServeMux()
	seedHandler.RegisterRoutes(mux)
	server := httptest.NewServer(mux)
	defer server.Close()

	joiner := NewCoordinator(CoordinatorConfig{
		NodeName:          "joiner",
		Secret:            testSecret,
		SeedPeers:         []string{server.URL},
		HeartbeatInterval: time.Hour, // keep the loop quiet during the test
	}, nil)
	joiner.Start(context.Background())
	defer joiner.Stop(context.Background())

	peers := joiner.Peers()
	ids := map[string]bool{}
	for _, p := range peers {
		ids[p.Info.NodeID] = true
	}
	if !ids[seedCoordinator.NodeID] {
		t.Error("joiner did not register the seed node")
	}
	if !ids["gossip-peer"] {
		t.Error("joiner did not learn the seed's known peer via gossip")
	}

	// The seed also learned about the joiner.
	seedPeers := seedCoordinator.Peers()
	found := false
	for _, p := range seedPeers {
		if p.Info.NodeID == joiner.NodeID {
			found = true
		}
	}
	if !found {
		t.Error("seed did not register the joining node")
	}
}

package mesh

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/gocrawl/internal/agent"
)

// Dispatcher routes tool calls across mesh nodes, transparently to the
// engine. It composes the local dispatcher — all validation and execution
// stays there — and only adds the routing decision on top. Any remote
// failure falls back to local execution, so the engine always observes a
// result identical to running the tool locally.
type Dispatcher struct {
	local       agent.ToolDispatcher
	coordinator *Coordinator
	preferLocal bool

	// Forwarded execution context.
	RunID      string
	CustomerID string
	SessionID  string
}

func NewDispatcher(local agent.ToolDispatcher, coordinator *Coordinator, preferLocal bool) *Dispatcher {
	return &Dispatcher{local: local, coordinator: coordinator, preferLocal: preferLocal}
}

// Dispatch routes one tool call to the best node, falling back to local.
func (d *Dispatcher) Dispatch(ctx context.Context, call agent.ToolCall) agent.ToolResult {
	decision := SelectTarget(
		call.Name,
		d.coordinator.NodeID,
		d.coordinator.SelfLoad(),
		d.coordinator.HealthyPeers(),
		d.preferLocal,
	)

	if decision == nil || decision.IsLocal {
		return d.local.Dispatch(ctx, call)
	}

	slog.Info("routing tool to peer",
		"tool", call.Name, "peer", decision.TargetName,
		"node_id", decision.TargetNodeID, "score", decision.Score, "reason", decision.Reason)

	if result := d.executeRemote(ctx, call, decision.TargetURL); result != nil {
		return *result
	}

	slog.Warn("remote execution failed, falling back to local",
		"tool", call.Name, "peer", decision.TargetName)
	return d.local.Dispatch(ctx, call)
}

// DispatchMany routes each call independently, results in call order.
func (d *Dispatcher) DispatchMany(ctx context.Context, calls []agent.ToolCall) []agent.ToolResult {
	results := make([]agent.ToolResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, c agent.ToolCall) {
			defer wg.Done()
			results[idx] = d.Dispatch(ctx, c)
		}(i, call)
	}
	wg.Wait()
	return results
}

// executeRemote runs the call on a peer. Returns nil on any failure (HTTP
// error, timeout, malformed body) so the caller falls back to local.
func (d *Dispatcher) executeRemote(ctx context.Context, call agent.ToolCall, peerURL string) *agent.ToolResult {
	start := time.Now()
	resp := d.coordinator.Client().ExecuteTool(ctx, peerURL,
		MeshToolCall{ID: call.ID, Name: call.Name, Args: call.Args},
		MeshContext{
			RunID:           d.RunID,
			CustomerID:      d.CustomerID,
			SessionID:       d.SessionID,
			OriginatingNode: d.coordinator.NodeID,
		})
	if resp == nil {
		return nil
	}
	if !resp.OK {
		slog.Warn("remote execute returned error", "peer", peerURL, "error", resp.Error)
		return nil
	}
	if resp.ToolResult == nil {
		return nil
	}

	duration := resp.ToolResult.DurationMS
	if duration == 0 {
		duration = time.Since(start).Milliseconds()
	}
	return &agent.ToolResult{
		ToolCallID:   resp.ToolResult.ToolCallID,
		OK:           resp.ToolResult.OK,
		Payload:      resp.ToolResult.Payload,
		ErrorCode:    resp.ToolResult.ErrorCode,
		ErrorMessage: resp.ToolResult.ErrorMessage,
		DurationMS:   duration,
	}
}

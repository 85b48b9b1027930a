package mesh

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/gocrawl/internal/tools"
)

// Handler serves the mesh wire protocol. The execute endpoint looks the
// tool up locally, runs it, and returns a MeshToolResult — it never
// forwards further (one-hop max).
type Handler struct {
	coordinator *Coordinator
	registry    *tools.Registry
}

func NewHandler(coordinator *Coordinator, registry *tools.Registry) *Handler {
	return &Handler{coordinator: coordinator, registry: registry}
}

// RegisterRoutes mounts the wire protocol and diagnostics endpoints.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /mesh/join", h.handleJoin)
	mux.HandleFunc("POST /mesh/heartbeat", h.handleHeartbeat)
	mux.HandleFunc("POST /mesh/execute", h.handleExecute)
	mux.HandleFunc("POST /mesh/leave", h.handleLeave)
	mux.HandleFunc("GET /mesh/peers", h.handlePeers)
	mux.HandleFunc("GET /mesh/status", h.handleStatus)
}

func (h *Handler) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad request body"})
		return
	}
	if !h.coordinator.VerifyToken(req.MeshToken) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid mesh token"})
		return
	}

	h.coordinator.RegisterPeer(req.NodeInfo, nil)
	slog.Info("peer joined", "name", req.NodeInfo.NodeName, "id", req.NodeInfo.NodeID)

	writeJSON(w, http.StatusOK, JoinResponse{
		OK:         true,
		NodeInfo:   h.coordinator.Info(),
		KnownPeers: h.coordinator.KnownPeerInfos(),
	})
}

func (h *Handler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad request body"})
		return
	}
	if !h.coordinator.VerifyToken(req.MeshToken) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid mesh token"})
		return
	}

	h.coordinator.UpdatePeerLoad(req.NodeLoad.NodeID, req.NodeLoad)
	writeJSON(w, http.StatusOK, HeartbeatResponse{OK: true, TimestampMS: nowMS()})
}

func (h *Handler) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req MeshToolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad request body"})
		return
	}
	if !h.coordinator.VerifyToken(req.MeshToken) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid mesh token"})
		return
	}

	// One-hop enforcement: refuse anything already forwarded.
	if req.HopCount > 0 {
		writeJSON(w, http.StatusOK, MeshToolResponse{
			OK:    false,
			Error: "max hop count exceeded, refusing to forward",
		})
		return
	}

	call := req.ToolCall
	tool, err := h.registry.Get(call.Name)
	if err != nil {
		writeJSON(w, http.StatusOK, MeshToolResponse{
			OK:    false,
			Error: "tool not found on this node: " + call.Name,
		})
		return
	}

	start := time.Now()
	result := tool.Execute(r.Context(), call.Args)
	duration := time.Since(start).Milliseconds()

	toolResult := &MeshToolResult{ToolCallID: call.ID, DurationMS: duration}
	if result != nil && result.Success {
		toolResult.OK = true
		toolResult.Payload = result.Data
	} else {
		toolResult.ErrorCode = "execution_error"
		if result != nil {
			toolResult.ErrorMessage = result.Error
		}
	}

	writeJSON(w, http.StatusOK, MeshToolResponse{
		OK:         true,
		ToolResult: toolResult,
		ExecutedOn: h.coordinator.NodeID,
	})
}

func (h *Handler) handleLeave(w http.ResponseWriter, r *http.Request) {
	var req LeaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad request body"})
		return
	}
	if !h.coordinator.VerifyToken(req.MeshToken) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid mesh token"})
		return
	}

	h.coordinator.RemovePeer(req.NodeID)
	slog.Info("peer left", "id", req.NodeID)
	writeJSON(w, http.StatusOK, LeaveResponse{OK: true})
}

func (h *Handler) handlePeers(w http.ResponseWriter, r *http.Request) {
	peers := h.coordinator.Peers()
	out := make([]map[string]any, 0, len(peers))
	for _, p := range peers {
		entry := map[string]any{
			"node_id":           p.Info.NodeID,
			"node_name":         p.Info.NodeName,
			"advertise_url":     p.Info.AdvertiseURL,
			"tools":             p.Info.Tools,
			"capabilities":      p.Info.Capabilities,
			"healthy":           p.Healthy,
			"missed_heartbeats": p.MissedHeartbeats,
			"last_heartbeat_ms": p.LastHeartbeatMS,
		}
		if p.Load != nil {
			entry["load"] = p.Load
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"node_id":    h.coordinator.NodeID,
		"node_name":  h.coordinator.NodeName,
		"peer_count": len(peers),
		"peers":      out,
	})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	info := h.coordinator.Info()
	writeJSON(w, http.StatusOK, map[string]any{
		"node_id":       h.coordinator.NodeID,
		"node_name":     h.coordinator.NodeName,
		"advertise_url": info.AdvertiseURL,
		"tools":         info.Tools,
		"capabilities":  info.Capabilities,
		"load":          h.coordinator.SelfLoad(),
		"total_peers":   len(h.coordinator.Peers()),
		"healthy_peers": len(h.coordinator.HealthyPeers()),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

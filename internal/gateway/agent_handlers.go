package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/nextlevelbuilder/gocrawl/internal/agent"
	"github.com/nextlevelbuilder/gocrawl/internal/mesh"
	"github.com/nextlevelbuilder/gocrawl/internal/observe"
)

type agentRunRequest struct {
	Task           string   `json:"task"`
	MaxSteps       int      `json:"max_steps,omitempty"`
	MaxWallTimeMS  int64    `json:"max_wall_time_ms,omitempty"`
	AllowedDomains []string `json:"allowed_domains,omitempty"`
	AllowedTools   []string `json:"allowed_tools,omitempty"`
	SessionID      string   `json:"session_id,omitempty"`
}

type agentRunResponse struct {
	RunID      string               `json:"run_id"`
	Success    bool                 `json:"success"`
	StopReason string               `json:"stop_reason"`
	Response   string               `json:"response,omitempty"`
	Steps      int                  `json:"steps"`
	WallTimeMS int64                `json:"wall_time_ms"`
	Trace      []observe.TraceEntry `json:"trace"`
	Error      string               `json:"error,omitempty"`
}

func (s *Server) handleAgentRun(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Agent.Enabled {
		writeError(w, http.StatusServiceUnavailable, "agent disabled",
			"set GOCRAWL_AGENT_ENABLED=true and configure a provider API key")
		return
	}

	var req agentRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body", err.Error())
		return
	}
	if req.Task == "" {
		writeError(w, http.StatusBadRequest, "task is required", "")
		return
	}

	runCfg := agent.RunConfig{
		MaxSteps:           s.cfg.Agent.MaxSteps,
		MaxWallTimeMS:      s.cfg.Agent.MaxWallTimeMS,
		MaxFailures:        s.cfg.Agent.MaxFailures,
		AllowedTools:       req.AllowedTools,
		AllowedDomains:     req.AllowedDomains,
		BlockPrivateRanges: s.cfg.Agent.BlockPrivateRanges,
		RedactSecrets:      s.cfg.Agent.RedactSecrets,
	}
	if req.MaxSteps > 0 {
		runCfg.MaxSteps = req.MaxSteps
	}
	if req.MaxWallTimeMS > 0 {
		runCfg.MaxWallTimeMS = req.MaxWallTimeMS
	}

	customerID := r.Header.Get("X-Customer-Id")

	// Per-run wiring: fresh bus + collector, local dispatcher, optional
	// mesh routing layer on top.
	bus := observe.NewBus()
	collector := observe.NewCollector("", runCfg.RedactSecrets)
	collector.Attach(bus)

	var dispatcher agent.ToolDispatcher = agent.NewDispatcher(s.registry, runCfg)
	if s.coordinator != nil {
		meshDispatcher := mesh.NewDispatcher(dispatcher, s.coordinator, true)
		meshDispatcher.CustomerID = customerID
		meshDispatcher.SessionID = req.SessionID
		dispatcher = meshDispatcher
	}

	engine := agent.NewEngine(s.provider, dispatcher, s.registry.Schemas(), bus)

	ctx, cancel := requestContext(r)
	defer cancel()

	s.activeAgentRuns.Add(1)
	result := engine.RunTask(ctx, req.Task, runCfg)
	s.activeAgentRuns.Add(-1)

	summary := collector.Finalize(observe.Outcome{
		RunID:      result.RunID,
		Success:    result.Success,
		StopReason: string(result.StopReason),
		Response:   result.Response,
		Error:      result.Error,
		Steps:      result.Steps,
		Failures:   result.Failures,
		WallTimeMS: result.WallTimeMS,
	})

	// Trace persistence is best-effort; it never fails the API call.
	if s.traces != nil {
		if _, err := s.traces.Save(summary, customerID, req.SessionID); err != nil {
			slog.Warn("trace persistence failed", "run_id", result.RunID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, agentRunResponse{
		RunID:      result.RunID,
		Success:    result.Success,
		StopReason: string(result.StopReason),
		Response:   result.Response,
		Steps:      result.Steps,
		WallTimeMS: result.WallTimeMS,
		Trace:      summary.Trace,
		Error:      result.Error,
	})
}

func (s *Server) handleAgentStatus(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	sessionID := r.URL.Query().Get("session_id")
	customerID := r.Header.Get("X-Customer-Id")

	if s.traces == nil {
		writeJSON(w, http.StatusOK, map[string]any{"found": false})
		return
	}
	summary, err := s.traces.Load(runID, customerID, sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "trace load failed", err.Error())
		return
	}
	if summary == nil {
		writeJSON(w, http.StatusOK, map[string]any{"found": false})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type agentGhostRequest struct {
	URL     string `json:"url"`
	Timeout int    `json:"timeout,omitempty"`
	Prompt  string `json:"prompt,omitempty"`
}

func (s *Server) handleAgentGhost(w http.ResponseWriter, r *http.Request) {
	if s.ghostRunner == nil {
		writeError(w, http.StatusServiceUnavailable, "ghost disabled",
			"set GOCRAWL_AGENT_GHOST_ENABLED=true")
		return
	}

	var req agentGhostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body", err.Error())
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required", "")
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	result := s.ghostRunner.Run(ctx, req.URL, s.vision, req.Prompt, nil)
	writeJSON(w, http.StatusOK, result)
}

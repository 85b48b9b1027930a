package observe

import (
	"encoding/json"
	"time"

	"github.com/nextlevelbuilder/gocrawl/internal/policy"
)

// TraceEntry is one replay-friendly trace record. Fields are populated per
// the Event field of the same name; raw args and payloads never appear.
type TraceEntry struct {
	Event       string   `json:"event"`
	RunID       string   `json:"run_id"`
	StepID      int      `json:"step_id"`
	TimestampMS int64    `json:"timestamp_ms"`
	ToolName    string   `json:"tool_name,omitempty"`
	ToolCallID  string   `json:"tool_call_id,omitempty"`
	ArgsHash    string   `json:"args_hash,omitempty"`
	OK          *bool    `json:"ok,omitempty"`
	ErrorCode   string   `json:"error_code,omitempty"`
	DurationMS  int64    `json:"duration_ms,omitempty"`
	Retriable   *bool    `json:"retriable,omitempty"`
	Reason      string   `json:"reason,omitempty"`
	Flags       []string `json:"flags,omitempty"`
	State       string   `json:"state,omitempty"`
}

// PolicyDenial records one denied tool call verbatim — reasons and flags
// are already policy-grade, no redaction applied.
type PolicyDenial struct {
	RunID       string   `json:"run_id"`
	StepID      int      `json:"step_id"`
	ToolName    string   `json:"tool_name"`
	Reason      string   `json:"reason"`
	Flags       []string `json:"flags,omitempty"`
	TimestampMS int64    `json:"timestamp_ms"`
}

// RunSummary is the persisted top-level object for one agent run. It must
// round-trip through JSON unchanged.
type RunSummary struct {
	RunID          string          `json:"run_id"`
	Task           string          `json:"task"`
	Success        bool            `json:"success"`
	StopReason     string          `json:"stop_reason"`
	Steps          int             `json:"steps"`
	WallTimeMS     int64           `json:"wall_time_ms"`
	Failures       int             `json:"failures"`
	Response       string          `json:"response,omitempty"`
	Error          string          `json:"error,omitempty"`
	StartedAt      string          `json:"started_at,omitempty"`
	EndedAt        string          `json:"ended_at,omitempty"`
	ConfigSnapshot *ConfigSnapshot `json:"config_snapshot,omitempty"`
	Trace          []TraceEntry    `json:"trace"`
	PolicyDenials  []PolicyDenial  `json:"policy_denials,omitempty"`
}

// ToJSON serializes the summary for persistence.
func (s *RunSummary) ToJSON() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// ParseRunSummary loads a persisted summary.
func ParseRunSummary(data []byte) (*RunSummary, error) {
	var s RunSummary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Outcome is what the engine hands the collector at finalize. Failures is
// the engine's failure-budget count, which also covers provider errors and
// policy denials; the persisted summary must agree with the count the
// MAX_FAILURES stop gate actually evaluated.
type Outcome struct {
	RunID      string
	Success    bool
	StopReason string
	Response   string
	Error      string
	Steps      int
	Failures   int
	WallTimeMS int64
}

// Collector accumulates trace data from bus events during one run and
// freezes it into a RunSummary at finalize.
type Collector struct {
	runID  string
	redact bool

	task      string
	config    *ConfigSnapshot
	startedAt string
	entries   []TraceEntry
	denials   []PolicyDenial
	failures  int
}

// NewCollector creates a collector for one run. When redact is true, tool
// names in dispatch entries and the summary's task, response and error pass
// through the redactor; policy-denial reasons and flags are stored verbatim.
// An empty runID is adopted from the first run_start event.
func NewCollector(runID string, redact bool) *Collector {
	return &Collector{runID: runID, redact: redact}
}

// Attach subscribes the collector to all event kinds it records.
func (c *Collector) Attach(bus *Bus) {
	bus.On(KindRunStart, c.onRunStart)
	bus.On(KindStepStart, c.onStepStart)
	bus.On(KindToolDispatch, c.onToolDispatch)
	bus.On(KindToolResult, c.onToolResult)
	bus.On(KindPolicyDenied, c.onPolicyDenied)
	bus.On(KindStepEnd, c.onStepEnd)
	bus.On(KindRunEnd, c.onRunEnd)
}

func (c *Collector) onRunStart(e Event) {
	if c.runID == "" {
		c.runID = e.RunID
	}
	c.task = e.Task
	c.startedAt = time.Now().UTC().Format(time.RFC3339Nano)
	c.config = e.Config
	c.entries = append(c.entries, TraceEntry{
		Event:       string(KindRunStart),
		RunID:       c.runID,
		TimestampMS: e.TimestampMS,
	})
}

func (c *Collector) onStepStart(e Event) {
	c.entries = append(c.entries, TraceEntry{
		Event:       string(KindStepStart),
		RunID:       c.runID,
		StepID:      e.StepID,
		State:       e.State,
		TimestampMS: e.TimestampMS,
	})
}

func (c *Collector) onToolDispatch(e Event) {
	entry := TraceEntry{
		Event:       string(KindToolDispatch),
		RunID:       c.runID,
		StepID:      e.StepID,
		ToolName:    e.ToolName,
		ToolCallID:  e.ToolCallID,
		ArgsHash:    e.ArgsHash,
		TimestampMS: e.TimestampMS,
	}
	if c.redact {
		entry.ToolName = policy.RedactText(entry.ToolName)
	}
	c.entries = append(c.entries, entry)
}

func (c *Collector) onToolResult(e Event) {
	ok := e.OK
	retriable := e.Retriable
	c.entries = append(c.entries, TraceEntry{
		Event:       string(KindToolResult),
		RunID:       c.runID,
		StepID:      e.StepID,
		ToolCallID:  e.ToolCallID,
		OK:          &ok,
		ErrorCode:   e.ErrorCode,
		DurationMS:  e.DurationMS,
		Retriable:   &retriable,
		TimestampMS: e.TimestampMS,
	})
	if !e.OK {
		c.failures++
	}
}

func (c *Collector) onPolicyDenied(e Event) {
	// A denial produces one synthetic non-ok ToolResult that never gets a
	// tool_result event, so it is counted here.
	c.failures++
	denial := PolicyDenial{
		RunID:       c.runID,
		StepID:      e.StepID,
		ToolName:    e.ToolName,
		Reason:      e.Reason,
		Flags:       e.Flags,
		TimestampMS: e.TimestampMS,
	}
	c.denials = append(c.denials, denial)
	c.entries = append(c.entries, TraceEntry{
		Event:       string(KindPolicyDenied),
		RunID:       c.runID,
		StepID:      e.StepID,
		ToolName:    e.ToolName,
		Reason:      e.Reason,
		Flags:       e.Flags,
		TimestampMS: e.TimestampMS,
	})
}

func (c *Collector) onStepEnd(e Event) {
	c.entries = append(c.entries, TraceEntry{
		Event:       string(KindStepEnd),
		RunID:       c.runID,
		StepID:      e.StepID,
		DurationMS:  e.DurationMS,
		TimestampMS: e.TimestampMS,
	})
}

func (c *Collector) onRunEnd(e Event) {
	c.entries = append(c.entries, TraceEntry{
		Event:       string(KindRunEnd),
		RunID:       c.runID,
		TimestampMS: e.TimestampMS,
	})
}

// Failures returns the number of failed tool results observed so far.
func (c *Collector) Failures() int { return c.failures }

// Finalize freezes the accumulated trace into a RunSummary.
func (c *Collector) Finalize(out Outcome) *RunSummary {
	response := out.Response
	errStr := out.Error
	task := c.task
	if c.redact {
		response = policy.RedactText(response)
		errStr = policy.RedactText(errStr)
		task = policy.RedactText(task)
	}
	// The engine's count is authoritative: it also covers provider errors,
	// which emit no per-call event.
	failures := c.failures
	if out.Failures > failures {
		failures = out.Failures
	}
	return &RunSummary{
		RunID:          out.RunID,
		Task:           task,
		Success:        out.Success,
		StopReason:     out.StopReason,
		Steps:          out.Steps,
		WallTimeMS:     out.WallTimeMS,
		Failures:       failures,
		Response:       response,
		Error:          errStr,
		StartedAt:      c.startedAt,
		EndedAt:        time.Now().UTC().Format(time.RFC3339Nano),
		ConfigSnapshot: c.config,
		Trace:          c.entries,
		PolicyDenials:  c.denials,
	}
}

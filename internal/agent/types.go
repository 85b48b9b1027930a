package agent

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/gocrawl/internal/tools"
)

// RunState is the agent loop state machine.
type RunState string

const (
	StateInit        RunState = "init"
	StatePlan        RunState = "plan"
	StateExecuteTool RunState = "execute_tool"
	StateObserve     RunState = "observe"
	StateRespond     RunState = "respond"
	StateStop        RunState = "stop"
	StateError       RunState = "error"
)

// StopReason records why the agent loop terminated.
type StopReason string

const (
	StopMaxSteps     StopReason = "max_steps"
	StopMaxWallTime  StopReason = "max_wall_time"
	StopMaxFailures  StopReason = "max_failures"
	StopNoOpLoop     StopReason = "no_op_loop"
	StopPolicyDenied StopReason = "policy_denied"
	StopCompleted    StopReason = "completed"
)

// ToolCall is a single tool invocation requested by the LLM. Immutable.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ToolResult is the normalized result of executing a single tool call.
type ToolResult struct {
	ToolCallID   string `json:"tool_call_id"`
	OK           bool   `json:"ok"`
	Payload      any    `json:"payload,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	Retriable    bool   `json:"retriable"`
	DurationMS   int64  `json:"duration_ms"`
}

// RunConfig carries the policy-bound limits for a single agent run.
// Empty allowlists mean allow-all.
type RunConfig struct {
	MaxSteps           int      `json:"max_steps"`
	MaxWallTimeMS      int64    `json:"max_wall_time_ms"`
	MaxFailures        int      `json:"max_failures"`
	AllowedTools       []string `json:"allowed_tools"`
	AllowedDomains     []string `json:"allowed_domains"`
	BlockPrivateRanges bool     `json:"block_private_ranges"`
	RedactSecrets      bool     `json:"redact_secrets"`
}

// DefaultRunConfig returns the stock limits for an agent run.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		MaxSteps:           12,
		MaxWallTimeMS:      90_000,
		MaxFailures:        3,
		BlockPrivateRanges: true,
		RedactSecrets:      true,
	}
}

// Message is one turn in the run conversation.
type Message struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // for role="tool"
}

// AssistantAction is what the LLM decided to do next: either Respond
// (terminal) or ToolCalls.
type AssistantAction interface{ isAction() }

// Respond is a terminal text response.
type Respond struct {
	Text string
}

// ToolCalls requests one or more tool invocations.
type ToolCalls struct {
	Calls []ToolCall
}

func (Respond) isAction()   {}
func (ToolCalls) isAction() {}

// StepTrace is the per-step trace record kept on the RunContext.
// It never carries raw args, only their hash.
type StepTrace struct {
	RunID       string   `json:"run_id"`
	StepID      int      `json:"step_id"`
	State       RunState `json:"state"`
	ToolName    string   `json:"tool_name,omitempty"`
	ArgsHash    string   `json:"args_hash,omitempty"`
	DurationMS  int64    `json:"duration_ms"`
	Status      string   `json:"status"`
	ErrorCode   string   `json:"error_code,omitempty"`
	PolicyFlags []string `json:"policy_flags,omitempty"`
}

// RunContext is the mutable state threaded through one agent loop.
// It is owned by exactly one Engine invocation and never shared.
type RunContext struct {
	RunID            string
	Task             string
	Config           RunConfig
	State            RunState
	Step             int
	Failures         int
	ConsecutiveNoOps int
	Messages         []Message
	Trace            []StepTrace
	StartTime        time.Time
}

// NewRunContext seeds a fresh context for a task.
func NewRunContext(task string, cfg RunConfig) *RunContext {
	return &RunContext{
		RunID:     strings.ReplaceAll(uuid.NewString(), "-", "")[:16],
		Task:      task,
		Config:    cfg,
		State:     StateInit,
		StartTime: time.Now(),
	}
}

// ElapsedMS returns milliseconds since the run started.
func (rc *RunContext) ElapsedMS() int64 {
	return time.Since(rc.StartTime).Milliseconds()
}

// StepResult is the outcome of a single tick.
type StepResult struct {
	Action      AssistantAction
	ToolResults []ToolResult
	StopReason  StopReason // empty unless the step terminated the run
}

// RunResult is the final outcome of a complete agent run. Failures is the
// engine's authoritative count — the same one the MAX_FAILURES stop gate
// evaluates, covering failed results, policy denials, and provider errors.
type RunResult struct {
	RunID      string      `json:"run_id"`
	Success    bool        `json:"success"`
	StopReason StopReason  `json:"stop_reason"`
	Response   string      `json:"response,omitempty"`
	Trace      []StepTrace `json:"trace"`
	Steps      int         `json:"steps"`
	Failures   int         `json:"failures"`
	WallTimeMS int64       `json:"wall_time_ms"`
	Error      string      `json:"error,omitempty"`
}

// Adapter is the minimal interface every LLM provider must satisfy.
// Complete translates the conversation into the provider's native shape,
// calls it, and maps the answer back to an AssistantAction. Vision reads
// text out of an image; providers without a vision model return
// ErrVisionNotSupported.
type Adapter interface {
	Complete(ctx context.Context, messages []Message, toolSchemas []tools.Schema) (AssistantAction, error)
	Vision(ctx context.Context, image []byte, prompt string, detail string) (string, error)
	Name() string
}

// ToolDispatcher executes tool calls for the engine. The local Dispatcher
// implements it; the mesh dispatcher wraps it with cross-node routing.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, call ToolCall) ToolResult
	DispatchMany(ctx context.Context, calls []ToolCall) []ToolResult
}

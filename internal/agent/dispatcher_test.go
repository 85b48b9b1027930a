package agent

import (
	"context"
	"testing"
	"time"

	"github.com/nextlevelbuilder/gocrawl/internal/tools"
)

func TestDispatch_Success(t *testing.T) {
	noop := &noopTool{}
	d := NewDispatcher(testRegistry(noop), testConfig())

	result := d.Dispatch(context.Background(), ToolCall{ID: "1", Name: "noop", Args: map[string]any{}})

	if !result.OK {
		t.Fatalf("expected ok, got %+v", result)
	}
	if result.ToolCallID != "1" {
		t.Errorf("tool_call_id = %q, want %q", result.ToolCallID, "1")
	}
	if noop.executions != 1 {
		t.Errorf("executions = %d, want 1", noop.executions)
	}
}

func TestDispatch_NeverRaises(t *testing.T) {
	tests := []struct {
		name      string
		call      ToolCall
		wantCode  string
		retriable bool
	}{
		{
			name:     "empty name",
			call:     ToolCall{ID: "1", Name: ""},
			wantCode: ErrCodeValidation,
		},
		{
			name:     "unknown tool",
			call:     ToolCall{ID: "1", Name: "missing"},
			wantCode: ErrCodeToolUnavailable,
		},
		{
			name:     "panicking tool",
			call:     ToolCall{ID: "1", Name: "panics", Args: map[string]any{}},
			wantCode: ErrCodeExecution,
		},
		{
			name:     "failing tool",
			call:     ToolCall{ID: "1", Name: "fails", Args: map[string]any{}},
			wantCode: ErrCodeExecution,
		},
	}

	d := NewDispatcher(testRegistry(&panicTool{}, &failTool{}), testConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := d.Dispatch(context.Background(), tt.call)
			if result.OK {
				t.Fatal("expected failure")
			}
			if result.ErrorCode != tt.wantCode {
				t.Errorf("error_code = %s, want %s", result.ErrorCode, tt.wantCode)
			}
			if result.Retriable != tt.retriable {
				t.Errorf("retriable = %v, want %v", result.Retriable, tt.retriable)
			}
		})
	}
}

func TestDispatch_ToolAllowlist(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedTools = []string{"other"}
	d := NewDispatcher(testRegistry(&noopTool{}), cfg)

	result := d.Dispatch(context.Background(), ToolCall{ID: "1", Name: "noop", Args: map[string]any{}})
	if result.OK || result.ErrorCode != ErrCodePolicyDenied {
		t.Errorf("got %+v, want policy_denied", result)
	}
}

// Retry cap: a timing-out tool is executed exactly twice, with backoff,
// and the final result is a retriable tool_timeout.
func TestDispatch_TimeoutRetryCap(t *testing.T) {
	slow := &slowTool{sleep: 2 * time.Second}
	d := NewDispatcher(testRegistry(slow), testConfig()).WithTimeout(100 * time.Millisecond)

	start := time.Now()
	result := d.Dispatch(context.Background(), ToolCall{ID: "1", Name: "slow", Args: map[string]any{}})
	elapsed := time.Since(start)

	if result.OK {
		t.Fatal("expected timeout failure")
	}
	if result.ErrorCode != ErrCodeToolTimeout {
		t.Errorf("error_code = %s, want %s", result.ErrorCode, ErrCodeToolTimeout)
	}
	if !result.Retriable {
		t.Error("timeout should be retriable")
	}
	if slow.executions != 2 {
		t.Errorf("tool executed %d times, want exactly 2 (one retry)", slow.executions)
	}
	// Two 100ms waits plus the 250ms backoff.
	if elapsed < 450*time.Millisecond {
		t.Errorf("elapsed %v, want >= 450ms (two timeouts + backoff)", elapsed)
	}
	if elapsed > 2*time.Second {
		t.Errorf("elapsed %v, too long for two bounded attempts", elapsed)
	}
}

// A tool that fails without timing out is not retried.
func TestDispatch_NoRetryOnExecutionError(t *testing.T) {
	counting := &countingFailTool{}
	d := NewDispatcher(testRegistry(counting), testConfig())

	result := d.Dispatch(context.Background(), ToolCall{ID: "1", Name: "countfail", Args: map[string]any{}})

	if result.OK || result.ErrorCode != ErrCodeExecution {
		t.Fatalf("got %+v, want execution_error", result)
	}
	if counting.executions != 1 {
		t.Errorf("tool executed %d times, want 1 (no retry for non-timeout)", counting.executions)
	}
}

func TestDispatchMany_ResultsInCallOrder(t *testing.T) {
	d := NewDispatcher(testRegistry(&noopTool{}, &slowTool{sleep: 50 * time.Millisecond}), testConfig())
	calls := []ToolCall{
		{ID: "a", Name: "slow", Args: map[string]any{}},
		{ID: "b", Name: "noop", Args: map[string]any{}},
		{ID: "c", Name: "noop", Args: map[string]any{}},
	}
	results := d.DispatchMany(context.Background(), calls)
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i, want := range []string{"a", "b", "c"} {
		if results[i].ToolCallID != want {
			t.Errorf("results[%d].tool_call_id = %q, want %q", i, results[i].ToolCallID, want)
		}
	}
}

func TestArgsHash(t *testing.T) {
	h1 := ArgsHash(map[string]any{"b": 2, "a": 1})
	h2 := ArgsHash(map[string]any{"a": 1, "b": 2})
	if h1 != h2 {
		t.Errorf("hash not key-order independent: %s vs %s", h1, h2)
	}
	if len(h1) != 12 {
		t.Errorf("hash length = %d, want 12", len(h1))
	}
	if h1 == ArgsHash(map[string]any{"a": 1, "b": 3}) {
		t.Error("different args produced the same hash")
	}
}

type countingFailTool struct {
	executions int
}

func (t *countingFailTool) Name() string               { return "countfail" }
func (t *countingFailTool) Description() string        { return "fails and counts" }
func (t *countingFailTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (t *countingFailTool) Execute(ctx context.Context, args map[string]any) *tools.Result {
	t.executions++
	return tools.ErrorResult("nope")
}

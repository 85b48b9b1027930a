package agent

import (
	"context"
	"errors"
	"time"

	"github.com/nextlevelbuilder/gocrawl/internal/tools"
)

// --- shared test fixtures ---

// scriptedAdapter replays a fixed sequence of actions; the last entry
// repeats once the script is exhausted.
type scriptedAdapter struct {
	actions []AssistantAction
	errs    []error
	calls   int
}

func (a *scriptedAdapter) Complete(ctx context.Context, messages []Message, schemas []tools.Schema) (AssistantAction, error) {
	idx := a.calls
	a.calls++
	if idx < len(a.errs) && a.errs[idx] != nil {
		return nil, a.errs[idx]
	}
	if idx >= len(a.actions) {
		idx = len(a.actions) - 1
	}
	return a.actions[idx], nil
}

func (a *scriptedAdapter) Vision(ctx context.Context, image []byte, prompt, detail string) (string, error) {
	return "", ErrVisionNotSupported
}

func (a *scriptedAdapter) Name() string { return "scripted" }

// noopTool ignores its input and succeeds with empty data.
type noopTool struct {
	executions int
}

func (t *noopTool) Name() string        { return "noop" }
func (t *noopTool) Description() string { return "does nothing" }
func (t *noopTool) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}
func (t *noopTool) Execute(ctx context.Context, args map[string]any) *tools.Result {
	t.executions++
	return tools.DataResult("")
}

// slowTool sleeps past any reasonable test deadline.
type slowTool struct {
	sleep      time.Duration
	executions int
}

func (t *slowTool) Name() string                { return "slow" }
func (t *slowTool) Description() string         { return "sleeps" }
func (t *slowTool) Parameters() map[string]any  { return map[string]any{"type": "object"} }
func (t *slowTool) Execute(ctx context.Context, args map[string]any) *tools.Result {
	t.executions++
	select {
	case <-time.After(t.sleep):
	case <-ctx.Done():
	}
	return tools.DataResult("done")
}

// panicTool panics on execution.
type panicTool struct{}

func (t *panicTool) Name() string               { return "panics" }
func (t *panicTool) Description() string        { return "always panics" }
func (t *panicTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (t *panicTool) Execute(ctx context.Context, args map[string]any) *tools.Result {
	panic("boom")
}

// failTool returns success=false.
type failTool struct{}

func (t *failTool) Name() string               { return "fails" }
func (t *failTool) Description() string        { return "always fails" }
func (t *failTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (t *failTool) Execute(ctx context.Context, args map[string]any) *tools.Result {
	return tools.ErrorResult("deliberate failure")
}

func testRegistry(ts ...tools.Tool) *tools.Registry {
	reg := tools.NewRegistry()
	for _, t := range ts {
		reg.Register(t)
	}
	return reg
}

func testConfig() RunConfig {
	cfg := DefaultRunConfig()
	return cfg
}

var errProviderDown = errors.New("provider unreachable")

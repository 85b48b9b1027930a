package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/gocrawl/internal/tools"
)

const (
	// DefaultToolTimeout is the per-attempt execution deadline.
	DefaultToolTimeout = 30 * time.Second
	// MaxRetries bounds retry attempts: one retry, two attempts total,
	// and only for timeout-class failures.
	MaxRetries   = 1
	retryBackoff = 250 * time.Millisecond
)

// Dispatcher validates and executes tool calls against the registry.
// Dispatch never returns an error — every failure is a ToolResult with a
// code from the closed error set.
type Dispatcher struct {
	registry *tools.Registry
	config   RunConfig
	timeout  time.Duration
	backoff  time.Duration
}

func NewDispatcher(registry *tools.Registry, config RunConfig) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		config:   config,
		timeout:  DefaultToolTimeout,
		backoff:  retryBackoff,
	}
}

// WithTimeout overrides the per-attempt deadline (tests and budget-capped
// callers).
func (d *Dispatcher) WithTimeout(timeout time.Duration) *Dispatcher {
	d.timeout = timeout
	return d
}

// Dispatch executes a single ToolCall and returns a normalized ToolResult.
func (d *Dispatcher) Dispatch(ctx context.Context, call ToolCall) ToolResult {
	start := time.Now()

	if call.Name == "" {
		return d.errorResult(call, ErrCodeValidation, "tool name is required", false, start)
	}
	if len(d.config.AllowedTools) > 0 && !containsString(d.config.AllowedTools, call.Name) {
		return d.errorResult(call, ErrCodePolicyDenied,
			fmt.Sprintf("tool %q not in allowed_tools", call.Name), false, start)
	}
	tool, err := d.registry.Get(call.Name)
	if err != nil {
		return d.errorResult(call, ErrCodeToolUnavailable,
			fmt.Sprintf("tool %q not found in registry", call.Name), false, start)
	}
	if err := d.registry.ValidateArgs(call.Name, call.Args); err != nil {
		return d.errorResult(call, ErrCodeValidation, err.Error(), false, start)
	}

	return d.executeWithTimeout(ctx, tool, call)
}

// DispatchMany executes calls concurrently and returns results in call order.
func (d *Dispatcher) DispatchMany(ctx context.Context, calls []ToolCall) []ToolResult {
	results := make([]ToolResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, c ToolCall) {
			defer wg.Done()
			results[idx] = d.Dispatch(ctx, c)
		}(i, call)
	}
	wg.Wait()
	return results
}

// executeWithTimeout runs the tool under the per-attempt deadline, retrying
// once on timeout. Panics and returned errors are execution_error with no
// retry.
func (d *Dispatcher) executeWithTimeout(ctx context.Context, tool tools.Tool, call ToolCall) ToolResult {
	start := time.Now()

	for attempt := 0; attempt <= MaxRetries; attempt++ {
		attemptStart := time.Now()
		result, timedOut := d.runAttempt(ctx, tool, call)
		duration := time.Since(attemptStart).Milliseconds()

		if timedOut {
			if attempt < MaxRetries {
				slog.Warn("tool timed out, retrying", "tool", call.Name, "attempt", attempt+1)
				select {
				case <-time.After(d.backoff):
				case <-ctx.Done():
					return d.errorResult(call, ErrCodeToolTimeout,
						fmt.Sprintf("tool %q timed out after %dms", call.Name, d.timeout.Milliseconds()), true, start)
				}
				continue
			}
			return d.errorResult(call, ErrCodeToolTimeout,
				fmt.Sprintf("tool %q timed out after %dms", call.Name, d.timeout.Milliseconds()), true, start)
		}

		if result.Success {
			return ToolResult{
				ToolCallID: call.ID,
				OK:         true,
				Payload:    result.Data,
				DurationMS: duration,
			}
		}
		return ToolResult{
			ToolCallID:   call.ID,
			OK:           false,
			ErrorCode:    ErrCodeExecution,
			ErrorMessage: result.Error,
			Retriable:    false,
			DurationMS:   duration,
		}
	}

	// Unreachable: the loop always returns.
	return d.errorResult(call, ErrCodeExecution, "dispatch fell through", false, start)
}

// runAttempt runs one execution attempt. The second return value reports a
// deadline hit. A panicking tool surfaces as a failed Result.
func (d *Dispatcher) runAttempt(ctx context.Context, tool tools.Tool, call ToolCall) (*tools.Result, bool) {
	attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	done := make(chan *tools.Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("tool panicked", "tool", call.Name, "panic", r)
				done <- tools.ErrorResult("tool %q panicked: %v", call.Name, r)
			}
		}()
		done <- tool.Execute(attemptCtx, call.Args)
	}()

	select {
	case result := <-done:
		if result == nil {
			return tools.ErrorResult("tool %q returned no result", call.Name), false
		}
		return result, false
	case <-attemptCtx.Done():
		return nil, true
	}
}

func (d *Dispatcher) errorResult(call ToolCall, code, message string, retriable bool, start time.Time) ToolResult {
	return ToolResult{
		ToolCallID:   call.ID,
		OK:           false,
		ErrorCode:    code,
		ErrorMessage: message,
		Retriable:    retriable,
		DurationMS:   time.Since(start).Milliseconds(),
	}
}

// ArgsHash returns the first 12 hex chars of SHA-256 over canonical JSON
// (sorted keys, no whitespace). Used by traces, never for authorization.
func ArgsHash(args map[string]any) string {
	raw, err := json.Marshal(args)
	if err != nil {
		raw = []byte(fmt.Sprint(args))
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:12]
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

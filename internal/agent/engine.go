package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/gocrawl/internal/observe"
	"github.com/nextlevelbuilder/gocrawl/internal/policy"
	"github.com/nextlevelbuilder/gocrawl/internal/tools"
)

// NoOpThreshold is the number of consecutive empty assistant actions before
// the loop is forced to stop.
const NoOpThreshold = 3

// Engine runs the bounded agent loop: plan → execute → observe → stop.
// Every iteration begins with a stop-condition check, before any LLM call.
type Engine struct {
	provider   Adapter
	dispatcher ToolDispatcher
	schemas    []tools.Schema
	bus        *observe.Bus
}

func NewEngine(provider Adapter, dispatcher ToolDispatcher, schemas []tools.Schema, bus *observe.Bus) *Engine {
	if bus == nil {
		bus = observe.NewBus()
	}
	return &Engine{
		provider:   provider,
		dispatcher: dispatcher,
		schemas:    schemas,
		bus:        bus,
	}
}

// Bus exposes the engine's event bus so collectors can attach.
func (e *Engine) Bus() *observe.Bus { return e.bus }

// RunTask executes a bounded agent loop for one task and returns the final
// result. The RunContext is owned by this call and never escapes except
// through immutable event payloads.
func (e *Engine) RunTask(ctx context.Context, task string, config RunConfig) RunResult {
	rc := NewRunContext(task, config)
	rc.Messages = append(rc.Messages, Message{Role: "user", Content: task})
	rc.State = StatePlan

	startEvent := observe.NewEvent(observe.KindRunStart, rc.RunID)
	startEvent.Task = task
	startEvent.Config = configSnapshot(config)
	e.bus.Emit(startEvent)

	for {
		if stop := e.checkStop(rc); stop != "" {
			rc.State = StateStop
			return e.finalize(rc, stop, "")
		}

		stepStart := time.Now()
		step, err := e.tick(ctx, rc)

		endEvent := observe.NewEvent(observe.KindStepEnd, rc.RunID)
		endEvent.StepID = rc.Step
		endEvent.DurationMS = time.Since(stepStart).Milliseconds()
		e.bus.Emit(endEvent)

		if err != nil {
			var pErr *ProviderError
			if errors.As(err, &pErr) {
				// Provider failures count against the failure budget; the
				// loop keeps going until a stop condition fires.
				slog.Warn("provider call failed", "run_id", rc.RunID, "step", rc.Step, "error", err)
				continue
			}
			slog.Error("engine tick failed", "run_id", rc.RunID, "step", rc.Step, "error", err)
			rc.State = StateError
			return e.finalize(rc, StopCompleted, err.Error())
		}

		if step.StopReason != "" {
			return e.finalize(rc, step.StopReason, "")
		}
	}
}

// tick runs one full plan→execute→observe cycle.
func (e *Engine) tick(ctx context.Context, rc *RunContext) (StepResult, error) {
	rc.Step++
	rc.State = StatePlan

	stepEvent := observe.NewEvent(observe.KindStepStart, rc.RunID)
	stepEvent.StepID = rc.Step
	stepEvent.State = string(StatePlan)
	e.bus.Emit(stepEvent)

	action, err := e.provider.Complete(ctx, rc.Messages, e.schemas)
	if err != nil {
		rc.Failures++
		return StepResult{}, &ProviderError{Err: err}
	}

	switch act := action.(type) {
	case Respond:
		rc.State = StateRespond
		rc.Messages = append(rc.Messages, Message{Role: "assistant", Content: act.Text})
		rc.ConsecutiveNoOps = 0
		rc.Trace = append(rc.Trace, StepTrace{
			RunID:  rc.RunID,
			StepID: rc.Step,
			State:  StateRespond,
			Status: "ok",
		})
		rc.State = StateStop
		return StepResult{Action: act, StopReason: StopCompleted}, nil

	case ToolCalls:
		if len(act.Calls) == 0 {
			rc.ConsecutiveNoOps++
			return StepResult{Action: act}, nil
		}
		rc.ConsecutiveNoOps = 0
		return e.executeToolCalls(ctx, rc, act)

	default:
		return StepResult{}, &ProviderError{Err: fmt.Errorf("unknown action type %T", action)}
	}
}

// executeToolCalls gates every call, dispatches the allowed ones
// concurrently, and appends results to the conversation in call-list order
// so replays are deterministic.
func (e *Engine) executeToolCalls(ctx context.Context, rc *RunContext, act ToolCalls) (StepResult, error) {
	rc.State = StateExecuteTool
	rc.Messages = append(rc.Messages, Message{Role: "assistant", ToolCalls: act.Calls})

	policyCfg := policy.Config{
		AllowedTools:       rc.Config.AllowedTools,
		AllowedDomains:     rc.Config.AllowedDomains,
		BlockPrivateRanges: rc.Config.BlockPrivateRanges,
	}

	results := make([]ToolResult, len(act.Calls))
	allowed := make([]int, 0, len(act.Calls))

	for i, call := range act.Calls {
		verdict := policy.CheckToolCall(call.Name, call.Args, policyCfg)
		if !verdict.Allowed {
			slog.Warn("policy denied tool call", "run_id", rc.RunID, "tool", call.Name, "reason", verdict.Reason)

			denyEvent := observe.NewEvent(observe.KindPolicyDenied, rc.RunID)
			denyEvent.StepID = rc.Step
			denyEvent.ToolName = call.Name
			denyEvent.Reason = verdict.Reason
			denyEvent.Flags = verdict.Flags
			e.bus.Emit(denyEvent)

			// Synthetic result so the LLM observes the denial and adapts.
			results[i] = ToolResult{
				ToolCallID:   call.ID,
				OK:           false,
				ErrorCode:    ErrCodePolicyDenied,
				ErrorMessage: verdict.Reason,
			}
			rc.Trace = append(rc.Trace, StepTrace{
				RunID:       rc.RunID,
				StepID:      rc.Step,
				State:       StateExecuteTool,
				ToolName:    call.Name,
				Status:      ErrCodePolicyDenied,
				PolicyFlags: verdict.Flags,
			})
			continue
		}

		dispatchEvent := observe.NewEvent(observe.KindToolDispatch, rc.RunID)
		dispatchEvent.StepID = rc.Step
		dispatchEvent.ToolName = call.Name
		dispatchEvent.ToolCallID = call.ID
		dispatchEvent.ArgsHash = ArgsHash(call.Args)
		e.bus.Emit(dispatchEvent)

		allowed = append(allowed, i)
	}

	// Dispatch allowed calls concurrently; slot results back by index.
	if len(allowed) > 0 {
		calls := make([]ToolCall, len(allowed))
		for j, idx := range allowed {
			calls[j] = act.Calls[idx]
		}
		dispatched := e.dispatcher.DispatchMany(ctx, calls)
		for j, idx := range allowed {
			results[idx] = dispatched[j]
		}
	}

	for _, idx := range allowed {
		call := act.Calls[idx]
		result := results[idx]

		resultEvent := observe.NewEvent(observe.KindToolResult, rc.RunID)
		resultEvent.StepID = rc.Step
		resultEvent.ToolCallID = result.ToolCallID
		resultEvent.OK = result.OK
		resultEvent.ErrorCode = result.ErrorCode
		resultEvent.DurationMS = result.DurationMS
		resultEvent.Retriable = result.Retriable
		e.bus.Emit(resultEvent)

		status := "ok"
		if !result.OK {
			status = result.ErrorCode
			if status == "" {
				status = "error"
			}
		}
		rc.Trace = append(rc.Trace, StepTrace{
			RunID:      rc.RunID,
			StepID:     rc.Step,
			State:      StateExecuteTool,
			ToolName:   call.Name,
			ArgsHash:   ArgsHash(call.Args),
			DurationMS: result.DurationMS,
			Status:     status,
			ErrorCode:  result.ErrorCode,
		})
	}

	// Failure accounting covers denied and failed calls alike.
	for _, result := range results {
		if !result.OK {
			rc.Failures++
		}
	}

	// OBSERVE: feed results back in call-list order.
	rc.State = StateObserve
	for _, result := range results {
		rc.Messages = append(rc.Messages, Message{
			Role:       "tool",
			ToolCallID: result.ToolCallID,
			Content:    resultContent(result),
		})
	}

	return StepResult{Action: act, ToolResults: results}, nil
}

// checkStop evaluates stop conditions in order; first match wins.
func (e *Engine) checkStop(rc *RunContext) StopReason {
	if rc.Step >= rc.Config.MaxSteps {
		return StopMaxSteps
	}
	if rc.ElapsedMS() >= rc.Config.MaxWallTimeMS {
		return StopMaxWallTime
	}
	if rc.Failures >= rc.Config.MaxFailures {
		return StopMaxFailures
	}
	if rc.ConsecutiveNoOps >= NoOpThreshold {
		return StopNoOpLoop
	}
	return ""
}

func (e *Engine) finalize(rc *RunContext, stopReason StopReason, errStr string) RunResult {
	var response string
	for i := len(rc.Messages) - 1; i >= 0; i-- {
		if rc.Messages[i].Role == "assistant" && rc.Messages[i].Content != "" {
			response = rc.Messages[i].Content
			break
		}
	}

	result := RunResult{
		RunID:      rc.RunID,
		Success:    stopReason == StopCompleted && errStr == "",
		StopReason: stopReason,
		Response:   response,
		Trace:      rc.Trace,
		Steps:      rc.Step,
		Failures:   rc.Failures,
		WallTimeMS: rc.ElapsedMS(),
		Error:      errStr,
	}

	endEvent := observe.NewEvent(observe.KindRunEnd, rc.RunID)
	endEvent.Success = result.Success
	endEvent.StopReason = string(stopReason)
	endEvent.Steps = result.Steps
	endEvent.WallTimeMS = result.WallTimeMS
	endEvent.Error = errStr
	e.bus.Emit(endEvent)

	return result
}

// resultContent renders a ToolResult for the conversation: the payload for
// ok results, a typed error line otherwise.
func resultContent(result ToolResult) string {
	if !result.OK {
		return fmt.Sprintf("ERROR [%s]: %s", result.ErrorCode, result.ErrorMessage)
	}
	switch payload := result.Payload.(type) {
	case string:
		return payload
	case nil:
		return ""
	default:
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Sprint(payload)
		}
		return string(raw)
	}
}

func configSnapshot(cfg RunConfig) *observe.ConfigSnapshot {
	return &observe.ConfigSnapshot{
		MaxSteps:           cfg.MaxSteps,
		MaxWallTimeMS:      cfg.MaxWallTimeMS,
		MaxFailures:        cfg.MaxFailures,
		AllowedTools:       cfg.AllowedTools,
		AllowedDomains:     cfg.AllowedDomains,
		BlockPrivateRanges: cfg.BlockPrivateRanges,
		RedactSecrets:      cfg.RedactSecrets,
	}
}

package agent

import "errors"

// Error codes form a closed set. Every failed ToolResult carries one, so
// callers never parse error messages.
const (
	ErrCodeValidation      = "validation_error"
	ErrCodePolicyDenied    = "policy_denied"
	ErrCodeToolUnavailable = "tool_unavailable"
	ErrCodeToolTimeout     = "tool_timeout"
	ErrCodeExecution       = "execution_error"
	ErrCodeProvider        = "provider_error"
	ErrCodeStopCondition   = "stop_condition"
)

// ErrVisionNotSupported is returned by adapters without a vision model.
var ErrVisionNotSupported = errors.New("provider does not support vision")

// ProviderError wraps an LLM adapter failure so the engine can count it
// against the failure budget and keep looping.
type ProviderError struct {
	Err error
}

func (e *ProviderError) Error() string { return "provider error: " + e.Err.Error() }
func (e *ProviderError) Unwrap() error { return e.Err }

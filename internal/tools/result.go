package tools

import "fmt"

// Result is the unified return type from tool execution.
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func DataResult(data any) *Result {
	return &Result{Success: true, Data: data}
}

func ErrorResult(format string, args ...any) *Result {
	return &Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

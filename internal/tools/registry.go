package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ErrNotFound is returned when a tool name is not registered.
var ErrNotFound = errors.New("tool not found")

// Tool is the contract every callable tool satisfies. Execute never panics
// past the dispatcher; failures are reported via Result.Error.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns a JSON-schema object describing the tool's args.
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) *Result
}

// Schema is the provider-facing description of a tool.
type Schema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Registry maps tool names to implementations. Registration happens once
// at startup; lookups after that are read-only.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]Tool
	compiled map[string]*jsonschema.Schema
}

func NewRegistry() *Registry {
	return &Registry{
		tools:    make(map[string]Tool),
		compiled: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool and compiles its parameter schema for argument
// validation at dispatch time. A tool with an uncompilable schema is still
// registered — args are then accepted as-is.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t

	params := t.Parameters()
	if params == nil {
		return
	}
	compiler := jsonschema.NewCompiler()
	url := "tool://" + t.Name()
	if err := compiler.AddResource(url, params); err != nil {
		slog.Warn("tool schema rejected", "tool", t.Name(), "error", err)
		return
	}
	sch, err := compiler.Compile(url)
	if err != nil {
		slog.Warn("tool schema compile failed", "tool", t.Name(), "error", err)
		return
	}
	r.compiled[t.Name()] = sch
}

// Get returns the tool for name, or ErrNotFound.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return t, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schemas returns provider-facing schemas for every registered tool,
// sorted by name for deterministic prompt construction.
func (r *Registry) Schemas() []Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemas := make([]Schema, 0, len(r.tools))
	for _, t := range r.tools {
		schemas = append(schemas, Schema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	sort.Slice(schemas, func(i, j int) bool { return schemas[i].Name < schemas[j].Name })
	return schemas
}

// ValidateArgs checks args against the tool's compiled JSON schema.
// Tools without a compiled schema accept anything.
func (r *Registry) ValidateArgs(name string, args map[string]any) error {
	r.mu.RLock()
	sch := r.compiled[name]
	r.mu.RUnlock()
	if sch == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	return sch.Validate(normalizeForSchema(args))
}

// normalizeForSchema converts arg values into the shapes the validator
// expects (int → float64, typed slices → []any).
func normalizeForSchema(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeForSchema(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeForSchema(item)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	default:
		return v
	}
}

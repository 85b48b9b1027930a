package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type echoTool struct{}

func (t *echoTool) Name() string        { return "echo" }
func (t *echoTool) Description() string { return "echoes its text argument" }
func (t *echoTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text":  map[string]any{"type": "string"},
			"count": map[string]any{"type": "integer", "minimum": 1.0},
		},
		"required": []any{"text"},
	}
}
func (t *echoTool) Execute(ctx context.Context, args map[string]any) *Result {
	text, _ := args["text"].(string)
	return DataResult(text)
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&echoTool{})

	tool, err := reg.Get("echo")
	if err != nil {
		t.Fatal(err)
	}
	if tool.Name() != "echo" {
		t.Errorf("name = %s", tool.Name())
	}

	_, err = reg.Get("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if !reg.Has("echo") || reg.Has("missing") {
		t.Error("Has gave wrong answers")
	}
}

func TestRegistry_Schemas(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&echoTool{})

	schemas := reg.Schemas()
	if len(schemas) != 1 {
		t.Fatalf("schemas = %d, want 1", len(schemas))
	}
	if schemas[0].Name != "echo" || schemas[0].Description == "" {
		t.Errorf("schema = %+v", schemas[0])
	}
	if schemas[0].Parameters["type"] != "object" {
		t.Error("parameters not passed through")
	}
}

func TestRegistry_ValidateArgs(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&echoTool{})

	tests := []struct {
		name    string
		args    map[string]any
		wantErr bool
	}{
		{"valid", map[string]any{"text": "hi"}, false},
		{"valid with count", map[string]any{"text": "hi", "count": 3}, false},
		{"missing required", map[string]any{"count": 3}, true},
		{"wrong type", map[string]any{"text": 42}, true},
		{"below minimum", map[string]any{"text": "hi", "count": 0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.ValidateArgs("echo", tt.args)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}

	// Unknown tools validate trivially; the dispatcher rejects them first.
	if err := reg.ValidateArgs("missing", map[string]any{}); err != nil {
		t.Errorf("unknown tool validation: %v", err)
	}
}

func TestRegistry_NamesSorted(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&echoTool{})
	names := reg.Names()
	if strings.Join(names, ",") != "echo" {
		t.Errorf("names = %v", names)
	}
}

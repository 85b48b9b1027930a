package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nextlevelbuilder/gocrawl/internal/agent"
	"github.com/nextlevelbuilder/gocrawl/internal/tools"
)

const (
	defaultOllamaModel   = "llama3.1"
	defaultOllamaBaseURL = "http://localhost:11434"
)

// OllamaAdapter implements agent.Adapter against a local Ollama server.
// No vision support — Vision returns agent.ErrVisionNotSupported.
type OllamaAdapter struct {
	baseURL string
	model   string
	client  *http.Client
}

func NewOllamaAdapter(baseURL, model string) *OllamaAdapter {
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	if model == "" {
		model = defaultOllamaModel
	}
	return &OllamaAdapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 300 * time.Second},
	}
}

func (a *OllamaAdapter) Name() string { return "ollama" }

type ollamaMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	ToolCalls []struct {
		Function struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		} `json:"function"`
	} `json:"tool_calls,omitempty"`
}

type ollamaRequest struct {
	Model    string           `json:"model"`
	Messages []ollamaMessage  `json:"messages"`
	Tools    []map[string]any `json:"tools,omitempty"`
	Stream   bool             `json:"stream"`
}

type ollamaResponse struct {
	Message ollamaMessage `json:"message"`
	Error   string        `json:"error,omitempty"`
}

func (a *OllamaAdapter) Complete(ctx context.Context, messages []agent.Message, toolSchemas []tools.Schema) (agent.AssistantAction, error) {
	req := ollamaRequest{Model: a.model, Stream: false}

	for _, schema := range toolSchemas {
		req.Tools = append(req.Tools, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        schema.Name,
				"description": schema.Description,
				"parameters":  schema.Parameters,
			},
		})
	}

	for _, msg := range messages {
		// Ollama has no tool_call_id; tool results ride as plain tool turns.
		req.Messages = append(req.Messages, ollamaMessage{Role: msg.Role, Content: msg.Content})
	}

	raw, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/chat", bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("ollama: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("ollama: read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama: status %d: %s", httpResp.StatusCode, truncate(string(data), 300))
	}

	var resp ollamaResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("ollama: decode response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("ollama: %s", resp.Error)
	}

	if len(resp.Message.ToolCalls) > 0 {
		calls := make([]agent.ToolCall, 0, len(resp.Message.ToolCalls))
		for i, tc := range resp.Message.ToolCalls {
			calls = append(calls, agent.ToolCall{
				ID:   fmt.Sprintf("ollama-%d", i),
				Name: tc.Function.Name,
				Args: tc.Function.Arguments,
			})
		}
		return agent.ToolCalls{Calls: calls}, nil
	}
	return agent.Respond{Text: resp.Message.Content}, nil
}

func (a *OllamaAdapter) Vision(ctx context.Context, image []byte, prompt string, detail string) (string, error) {
	return "", agent.ErrVisionNotSupported
}

package providers

import (
	"bytes"
	"context"
	"encoding/base64"
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
	defaultOpenAIModel = "gpt-4o-mini"
	openAIAPIBase      = "https://api.openai.com/v1"
)

// OpenAIAdapter implements agent.Adapter against the OpenAI chat
// completions API. Also covers OpenAI-compatible endpoints via a custom
// base URL.
type OpenAIAdapter struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

type OpenAIOption func(*OpenAIAdapter)

func WithOpenAIModel(model string) OpenAIOption {
	return func(a *OpenAIAdapter) {
		if model != "" {
			a.model = model
		}
	}
}

func WithOpenAIBaseURL(baseURL string) OpenAIOption {
	return func(a *OpenAIAdapter) {
		if baseURL != "" {
			a.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

func NewOpenAIAdapter(apiKey string, opts ...OpenAIOption) *OpenAIAdapter {
	a := &OpenAIAdapter{
		apiKey:  apiKey,
		baseURL: openAIAPIBase,
		model:   defaultOpenAIModel,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *OpenAIAdapter) Name() string { return "openai" }

type openAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    any              `json:"content,omitempty"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAIRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
	Tools    []map[string]any `json:"tools,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (a *OpenAIAdapter) Complete(ctx context.Context, messages []agent.Message, toolSchemas []tools.Schema) (agent.AssistantAction, error) {
	req := openAIRequest{Model: a.model}

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
		out := openAIMessage{Role: msg.Role, ToolCallID: msg.ToolCallID}
		if msg.Content != "" || msg.Role == "tool" {
			out.Content = msg.Content
		}
		for _, tc := range msg.ToolCalls {
			args, _ := json.Marshal(tc.Args)
			call := openAIToolCall{ID: tc.ID, Type: "function"}
			call.Function.Name = tc.Name
			call.Function.Arguments = string(args)
			out.ToolCalls = append(out.ToolCalls, call)
		}
		req.Messages = append(req.Messages, out)
	}

	resp, err := a.post(ctx, req)
	if err != nil {
		return nil, err
	}

	choice := resp.Choices[0].Message
	if len(choice.ToolCalls) > 0 {
		calls := make([]agent.ToolCall, 0, len(choice.ToolCalls))
		for _, tc := range choice.ToolCalls {
			args := map[string]any{}
			if tc.Function.Arguments != "" {
				if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
					return nil, fmt.Errorf("openai: bad tool arguments for %s: %w", tc.Function.Name, err)
				}
			}
			calls = append(calls, agent.ToolCall{ID: tc.ID, Name: tc.Function.Name, Args: args})
		}
		return agent.ToolCalls{Calls: calls}, nil
	}

	text, _ := choice.Content.(string)
	return agent.Respond{Text: text}, nil
}

func (a *OpenAIAdapter) Vision(ctx context.Context, image []byte, prompt string, detail string) (string, error) {
	if detail != "low" && detail != "high" {
		detail = "low"
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", detectImageMime(image), base64.StdEncoding.EncodeToString(image))
	req := openAIRequest{
		Model: a.model,
		Messages: []openAIMessage{{
			Role: "user",
			Content: []map[string]any{
				{"type": "text", "text": prompt},
				{"type": "image_url", "image_url": map[string]any{"url": dataURL, "detail": detail}},
			},
		}},
	}

	resp, err := a.post(ctx, req)
	if err != nil {
		return "", err
	}
	text, _ := resp.Choices[0].Message.Content.(string)
	return text, nil
}

func (a *OpenAIAdapter) post(ctx context.Context, body openAIRequest) (*openAIResponse, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("openai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("openai: read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openai: status %d: %s", httpResp.StatusCode, truncate(string(data), 300))
	}

	var resp openAIResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("openai: decode response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("openai: %s: %s", resp.Error.Type, resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices")
	}
	return &resp, nil
}

package challenge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	capsolverCreateURL = "https://api.capsolver.com/createTask"
	capsolverResultURL = "https://api.capsolver.com/getTaskResult"
	capsolverPollEvery = 3 * time.Second
)

// CapSolverClient talks to the external Turnstile-solving service.
type CapSolverClient struct {
	apiKey string
	client *http.Client
}

func NewCapSolverClient(apiKey string) *CapSolverClient {
	return &CapSolverClient{
		apiKey: apiKey,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type capsolverTask struct {
	Type       string `json:"type"`
	WebsiteURL string `json:"websiteURL"`
	WebsiteKey string `json:"websiteKey"`
}

type capsolverCreateRequest struct {
	ClientKey string        `json:"clientKey"`
	Task      capsolverTask `json:"task"`
}

type capsolverPollRequest struct {
	ClientKey string `json:"clientKey"`
	TaskID    string `json:"taskId"`
}

type capsolverResponse struct {
	ErrorID          int    `json:"errorId"`
	ErrorDescription string `json:"errorDescription,omitempty"`
	TaskID           string `json:"taskId,omitempty"`
	Status           string `json:"status,omitempty"`
	Solution         struct {
		Token string `json:"token"`
	} `json:"solution"`
}

// SolveTurnstile submits a solving task and polls for the token within the
// overall budget.
func (c *CapSolverClient) SolveTurnstile(ctx context.Context, siteURL, sitekey string, budget time.Duration) (string, error) {
	create := capsolverCreateRequest{
		ClientKey: c.apiKey,
		Task: capsolverTask{
			Type:       "AntiTurnstileTaskProxyLess",
			WebsiteURL: siteURL,
			WebsiteKey: sitekey,
		},
	}
	var created capsolverResponse
	if err := c.post(ctx, capsolverCreateURL, create, &created); err != nil {
		return "", fmt.Errorf("capsolver create: %w", err)
	}
	if created.ErrorID != 0 {
		return "", fmt.Errorf("capsolver create: %s", created.ErrorDescription)
	}
	if created.TaskID == "" {
		return "", fmt.Errorf("capsolver create: no task id returned")
	}

	deadline := time.Now().Add(budget)
	poll := capsolverPollRequest{ClientKey: c.apiKey, TaskID: created.TaskID}
	for time.Now().Before(deadline) {
		select {
		case <-time.After(capsolverPollEvery):
		case <-ctx.Done():
			return "", ctx.Err()
		}

		var result capsolverResponse
		if err := c.post(ctx, capsolverResultURL, poll, &result); err != nil {
			slog.Warn("capsolver poll failed", "error", err)
			continue
		}
		switch result.Status {
		case "ready":
			if result.Solution.Token == "" {
				return "", fmt.Errorf("capsolver returned empty token")
			}
			return result.Solution.Token, nil
		case "failed":
			return "", fmt.Errorf("capsolver task failed: %s", result.ErrorDescription)
		}
	}
	return "", fmt.Errorf("capsolver timeout after %s", budget)
}

func (c *CapSolverClient) post(ctx context.Context, url string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.Unmarshal(data, out)
}

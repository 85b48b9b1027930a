package providers

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/gocrawl/internal/agent"
	"github.com/nextlevelbuilder/gocrawl/internal/tools"
)

// FallbackAdapter wraps multiple adapters and rotates on transient failure,
// preserving the agent.Adapter interface. Each adapter gets a shot before
// the last error is surfaced.
type FallbackAdapter struct {
	adapters []agent.Adapter

	mu      sync.Mutex
	current int
}

func NewFallbackAdapter(adapters ...agent.Adapter) (*FallbackAdapter, error) {
	if len(adapters) == 0 {
		return nil, errors.New("fallback adapter requires at least one adapter")
	}
	return &FallbackAdapter{adapters: adapters}, nil
}

func (f *FallbackAdapter) Name() string { return "fallback" }

func (f *FallbackAdapter) pick() (agent.Adapter, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.adapters[f.current], f.current
}

func (f *FallbackAdapter) rotate(from int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == from {
		f.current = (f.current + 1) % len(f.adapters)
	}
}

func (f *FallbackAdapter) Complete(ctx context.Context, messages []agent.Message, toolSchemas []tools.Schema) (agent.AssistantAction, error) {
	var lastErr error
	for attempt := 0; attempt < len(f.adapters)*2; attempt++ {
		adapter, idx := f.pick()
		action, err := adapter.Complete(ctx, messages, toolSchemas)
		if err == nil {
			return action, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		slog.Warn("provider failed, rotating", "provider", adapter.Name(), "attempt", attempt+1, "error", err)
		f.rotate(idx)
	}
	return nil, lastErr
}

func (f *FallbackAdapter) Vision(ctx context.Context, image []byte, prompt string, detail string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < len(f.adapters); attempt++ {
		adapter, idx := f.pick()
		text, err := adapter.Vision(ctx, image, prompt, detail)
		if err == nil {
			return text, nil
		}
		if errors.Is(err, agent.ErrVisionNotSupported) {
			f.rotate(idx)
			continue
		}
		if ctx.Err() != nil {
			return "", err
		}
		lastErr = err
		slog.Warn("vision provider failed, rotating", "provider", adapter.Name(), "attempt", attempt+1, "error", err)
		f.rotate(idx)
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", agent.ErrVisionNotSupported
}

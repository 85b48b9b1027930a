package providers

import (
	"context"
	"errors"
	"testing"

	"github.com/nextlevelbuilder/gocrawl/internal/agent"
	"github.com/nextlevelbuilder/gocrawl/internal/tools"
)

type stubAdapter struct {
	name        string
	completeErr error
	visionErr   error
	visionText  string
	calls       int
}

func (a *stubAdapter) Complete(ctx context.Context, messages []agent.Message, schemas []tools.Schema) (agent.AssistantAction, error) {
	a.calls++
	if a.completeErr != nil {
		return nil, a.completeErr
	}
	return agent.Respond{Text: "ok from " + a.name}, nil
}

func (a *stubAdapter) Vision(ctx context.Context, image []byte, prompt, detail string) (string, error) {
	if a.visionErr != nil {
		return "", a.visionErr
	}
	return a.visionText, nil
}

func (a *stubAdapter) Name() string { return a.name }

func TestFallbackAdapter_RotatesOnFailure(t *testing.T) {
	broken := &stubAdapter{name: "broken", completeErr: errors.New("down")}
	healthy := &stubAdapter{name: "healthy"}

	fb, err := NewFallbackAdapter(broken, healthy)
	if err != nil {
		t.Fatal(err)
	}

	action, err := fb.Complete(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	respond, ok := action.(agent.Respond)
	if !ok || respond.Text != "ok from healthy" {
		t.Errorf("action = %+v", action)
	}

	// Subsequent calls stay on the healthy adapter.
	before := broken.calls
	if _, err := fb.Complete(context.Background(), nil, nil); err != nil {
		t.Fatal(err)
	}
	if broken.calls != before {
		t.Error("fallback returned to the broken adapter")
	}
}

func TestFallbackAdapter_AllBroken(t *testing.T) {
	a := &stubAdapter{name: "a", completeErr: errors.New("a down")}
	b := &stubAdapter{name: "b", completeErr: errors.New("b down")}

	fb, _ := NewFallbackAdapter(a, b)
	if _, err := fb.Complete(context.Background(), nil, nil); err == nil {
		t.Error("expected error when every adapter is down")
	}
}

func TestFallbackAdapter_VisionSkipsUnsupported(t *testing.T) {
	noVision := &stubAdapter{name: "text-only", visionErr: agent.ErrVisionNotSupported}
	withVision := &stubAdapter{name: "vision", visionText: "read from pixels"}

	fb, _ := NewFallbackAdapter(noVision, withVision)
	text, err := fb.Vision(context.Background(), []byte{1}, "extract", "high")
	if err != nil {
		t.Fatal(err)
	}
	if text != "read from pixels" {
		t.Errorf("text = %q", text)
	}
}

func TestFallbackAdapter_RequiresAdapters(t *testing.T) {
	if _, err := NewFallbackAdapter(); err == nil {
		t.Error("empty adapter list accepted")
	}
}

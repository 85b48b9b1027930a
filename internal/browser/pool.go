package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Slot is one warm browser session held by the pool. Invariants: exactly
// one lease per slot; leased implies a session id; a released slot has been
// reset to a blank page.
type Slot struct {
	SlotID       string
	Session      Session
	SessionID    string
	Leased       bool
	LeasedAt     time.Time
	NavigatedURL string
}

// Pool keeps a fixed number of warm browser sessions leased by session id.
// Acquire never blocks; a saturated pool returns nil and the caller either
// surfaces backpressure or routes to a peer.
type Pool struct {
	size     int
	maxLease time.Duration
	factory  Factory

	mu      sync.Mutex
	slots   []*Slot
	started bool
}

func NewPool(size int, maxLease time.Duration, factory Factory) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{size: size, maxLease: maxLease, factory: factory}
}

// Start creates all slots concurrently.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}

	slog.Info("starting browser pool", "size", p.size)

	type created struct {
		session Session
		err     error
	}
	results := make(chan created, p.size)
	for i := 0; i < p.size; i++ {
		go func() {
			session, err := p.factory(ctx)
			results <- created{session: session, err: err}
		}()
	}

	for i := 0; i < p.size; i++ {
		r := <-results
		if r.err != nil {
			// Close whatever came up before reporting failure.
			for _, slot := range p.slots {
				slot.Session.Close()
			}
			p.slots = nil
			return fmt.Errorf("create pool slot: %w", r.err)
		}
		slot := &Slot{SlotID: newSlotID(), Session: r.session}
		p.slots = append(p.slots, slot)
		slog.Info("pool slot ready", "slot", slot.SlotID, "count", len(p.slots), "size", p.size)
	}

	p.started = true
	return nil
}

// Acquire leases a slot for a session. Expired leases are reclaimed first.
// Returns nil when the pool is saturated.
func (p *Pool) Acquire(ctx context.Context, sessionID string) *Slot {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return nil
	}

	now := time.Now()
	for _, slot := range p.slots {
		if slot.Leased && now.Sub(slot.LeasedAt) > p.maxLease {
			slog.Warn("reclaiming expired slot",
				"slot", slot.SlotID, "session", slot.SessionID,
				"leased_for", now.Sub(slot.LeasedAt).Round(time.Second))
			p.resetSlotLocked(ctx, slot)
		}
	}

	for _, slot := range p.slots {
		if !slot.Leased {
			slot.Leased = true
			slot.LeasedAt = now
			slot.SessionID = sessionID
			slog.Info("acquired slot", "slot", slot.SlotID, "session", sessionID)
			return slot
		}
	}

	slog.Warn("no free pool slots", "size", p.size)
	return nil
}

// Release returns a slot to the pool, resetting it for reuse.
func (p *Pool) Release(ctx context.Context, slot *Slot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	slog.Info("releasing slot", "slot", slot.SlotID, "session", slot.SessionID)
	p.resetSlotLocked(ctx, slot)
}

// LookupBySession finds the slot currently leased for a session. Read-only;
// used by streaming endpoints to resume an in-flight session.
func (p *Pool) LookupBySession(sessionID string) *Slot {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, slot := range p.slots {
		if slot.Leased && slot.SessionID == sessionID {
			return slot
		}
	}
	return nil
}

// Free returns the number of unleased slots.
func (p *Pool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	free := 0
	for _, slot := range p.slots {
		if !slot.Leased {
			free++
		}
	}
	return free
}

// Size returns the pool size.
func (p *Pool) Size() int { return p.size }

// Status returns a pool summary for diagnostics.
func (p *Pool) Status() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	slots := make([]map[string]any, 0, len(p.slots))
	free := 0
	for _, slot := range p.slots {
		leasedSec := 0
		if slot.Leased {
			leasedSec = int(time.Since(slot.LeasedAt).Seconds())
		} else {
			free++
		}
		slots = append(slots, map[string]any{
			"slot_id":        slot.SlotID,
			"leased":         slot.Leased,
			"session_id":     slot.SessionID,
			"url":            slot.NavigatedURL,
			"leased_seconds": leasedSec,
		})
	}
	return map[string]any{
		"started":   p.started,
		"pool_size": p.size,
		"slots":     slots,
		"free":      free,
		"leased":    len(p.slots) - free,
	}
}

// Shutdown closes all slots.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	slog.Info("shutting down browser pool")
	for _, slot := range p.slots {
		if err := slot.Session.Close(); err != nil {
			slog.Warn("slot close failed", "slot", slot.SlotID, "error", err)
		}
	}
	p.slots = nil
	p.started = false
}

// resetSlotLocked navigates the page back to blank and clears the lease.
// If the reset fails the whole slot is rebuilt from scratch.
func (p *Pool) resetSlotLocked(ctx context.Context, slot *Slot) {
	if err := slot.Session.Blank(); err != nil {
		slog.Warn("slot reset failed, rebuilding", "slot", slot.SlotID, "error", err)
		slot.Session.Close()
		replacement, createErr := p.factory(ctx)
		if createErr != nil {
			slog.Error("slot rebuild failed", "slot", slot.SlotID, "error", createErr)
		} else {
			slot.Session = replacement
		}
	}
	slot.Leased = false
	slot.LeasedAt = time.Time{}
	slot.SessionID = ""
	slot.NavigatedURL = ""
}

func newSlotID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

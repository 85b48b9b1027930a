package browser

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeSession satisfies Session without a real browser.
type fakeSession struct {
	mu       sync.Mutex
	blanked  int
	closed   bool
	failNext bool
}

func (s *fakeSession) Navigate(ctx context.Context, url, waitUntil string, waitAfterLoad time.Duration, jsPayload string) (*NavInfo, error) {
	return &NavInfo{StatusCode: 200, FinalURL: url}, nil
}
func (s *fakeSession) HTML() (string, error)        { return "<html></html>", nil }
func (s *fakeSession) Title() (string, error)       { return "", nil }
func (s *fakeSession) VisibleText() (string, error) { return "", nil }
func (s *fakeSession) Screenshot(fullPage bool) ([]byte, error) {
	return []byte{0x89, 'P', 'N', 'G'}, nil
}
func (s *fakeSession) Eval(js string) error { return nil }
func (s *fakeSession) Has(selector string) (bool, bool, error) {
	return false, false, nil
}
func (s *fakeSession) Attribute(selector, name string) (string, error) { return "", nil }
func (s *fakeSession) Cookies() ([]Cookie, error)                      { return nil, nil }
func (s *fakeSession) SetCookies(cookies []Cookie) error               { return nil }
func (s *fakeSession) Blank() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		s.failNext = false
		return errors.New("page gone")
	}
	s.blanked++
	return nil
}
func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
func (s *fakeSession) StartScreencast(quality, maxWidth int, onFrame func([]byte)) (func(), error) {
	return func() {}, nil
}
func (s *fakeSession) Click(x, y float64) error   { return nil }
func (s *fakeSession) Scroll(dx, dy float64) error { return nil }
func (s *fakeSession) Type(text string) error      { return nil }

func fakeFactory() (Factory, *[]*fakeSession) {
	var created []*fakeSession
	var mu sync.Mutex
	factory := func(ctx context.Context) (Session, error) {
		mu.Lock()
		defer mu.Unlock()
		s := &fakeSession{}
		created = append(created, s)
		return s, nil
	}
	return factory, &created
}

func startPool(t *testing.T, size int, maxLease time.Duration) *Pool {
	t.Helper()
	factory, _ := fakeFactory()
	pool := NewPool(size, maxLease, factory)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("pool start: %v", err)
	}
	t.Cleanup(pool.Shutdown)
	return pool
}

// Lease conservation: free + leased = size at every point; acquire never
// returns an already-leased slot.
func TestPool_LeaseConservation(t *testing.T) {
	pool := startPool(t, 3, time.Minute)
	ctx := context.Background()

	seen := map[string]bool{}
	var slots []*Slot
	for i := 0; i < 3; i++ {
		slot := pool.Acquire(ctx, "session-"+string(rune('a'+i)))
		if slot == nil {
			t.Fatalf("acquire %d returned nil with free slots", i)
		}
		if seen[slot.SlotID] {
			t.Fatalf("slot %s leased twice", slot.SlotID)
		}
		seen[slot.SlotID] = true
		slots = append(slots, slot)

		if free := pool.Free(); free != 3-(i+1) {
			t.Errorf("free = %d after %d acquires, want %d", free, i+1, 3-(i+1))
		}
	}

	// Saturated: acquire never blocks, returns nil.
	if extra := pool.Acquire(ctx, "overflow"); extra != nil {
		t.Error("acquire on saturated pool returned a slot")
	}

	pool.Release(ctx, slots[0])
	if free := pool.Free(); free != 1 {
		t.Errorf("free = %d after release, want 1", free)
	}
}

func TestPool_ReleaseResetsSlot(t *testing.T) {
	pool := startPool(t, 1, time.Minute)
	ctx := context.Background()

	slot := pool.Acquire(ctx, "s1")
	slot.NavigatedURL = "https://example.com"
	pool.Release(ctx, slot)

	if slot.Leased {
		t.Error("released slot still leased")
	}
	if slot.SessionID != "" {
		t.Errorf("session_id = %q after release", slot.SessionID)
	}
	if slot.NavigatedURL != "" {
		t.Errorf("navigated_url = %q after release", slot.NavigatedURL)
	}

	fake := slot.Session.(*fakeSession)
	if fake.blanked == 0 {
		t.Error("released slot was not reset to blank")
	}
}

// Expired-lease reclaim: a slot leased past max_lease is reclaimed on the
// next acquire; one crashed consumer can't starve the pool.
func TestPool_ExpiredLeaseReclaim(t *testing.T) {
	pool := startPool(t, 1, 50*time.Millisecond)
	ctx := context.Background()

	first := pool.Acquire(ctx, "crashed-consumer")
	if first == nil {
		t.Fatal("first acquire failed")
	}
	time.Sleep(80 * time.Millisecond)

	second := pool.Acquire(ctx, "healthy-consumer")
	if second == nil {
		t.Fatal("pool starved by expired lease")
	}
	if second.SessionID != "healthy-consumer" {
		t.Errorf("session_id = %q", second.SessionID)
	}
}

// A failed reset destroys and rebuilds the slot.
func TestPool_FailedResetRebuildsSlot(t *testing.T) {
	factory, created := fakeFactory()
	pool := NewPool(1, time.Minute, factory)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer pool.Shutdown()
	ctx := context.Background()

	slot := pool.Acquire(ctx, "s1")
	original := slot.Session.(*fakeSession)
	original.failNext = true

	pool.Release(ctx, slot)

	if !original.closed {
		t.Error("broken session not closed")
	}
	if len(*created) != 2 {
		t.Errorf("factory called %d times, want 2 (initial + rebuild)", len(*created))
	}
	if slot.Session == Session(original) {
		t.Error("slot still holds the broken session")
	}
	if slot.Leased {
		t.Error("rebuilt slot still leased")
	}
}

func TestPool_LookupBySession(t *testing.T) {
	pool := startPool(t, 2, time.Minute)
	ctx := context.Background()

	slot := pool.Acquire(ctx, "stream-1")
	if got := pool.LookupBySession("stream-1"); got != slot {
		t.Error("lookup did not find the leased slot")
	}
	if got := pool.LookupBySession("unknown"); got != nil {
		t.Error("lookup found a slot for an unknown session")
	}

	pool.Release(ctx, slot)
	if got := pool.LookupBySession("stream-1"); got != nil {
		t.Error("lookup found a slot after release")
	}
}

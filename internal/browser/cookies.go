package browser

import (
	"sync"
	"time"
)

// Cloudflare anti-bot tokens worth persisting across crawls.
var cfCookieNames = map[string]bool{
	"__cf_bm":      true,
	"cf_clearance": true,
	"__cflb":       true,
}

const cookieTTL = 25 * time.Minute

type storedCookie struct {
	cookie   Cookie
	storedAt time.Time
}

// CookieStore keeps per-domain Cloudflare clearance cookies for 25 minutes
// so repeat crawls of the same domain skip the challenge.
type CookieStore struct {
	mu    sync.Mutex
	store map[string][]storedCookie
}

func NewCookieStore() *CookieStore {
	return &CookieStore{store: make(map[string][]storedCookie)}
}

// SaveFromSession extracts clearance cookies from a live session.
func (c *CookieStore) SaveFromSession(s Session, domain string) error {
	cookies, err := s.Cookies()
	if err != nil {
		return err
	}
	kept := make([]storedCookie, 0, 2)
	now := time.Now()
	for _, cookie := range cookies {
		if cfCookieNames[cookie.Name] {
			if cookie.Domain == "" {
				cookie.Domain = domain
			}
			kept = append(kept, storedCookie{cookie: cookie, storedAt: now})
		}
	}
	c.mu.Lock()
	c.store[domain] = kept
	c.mu.Unlock()
	return nil
}

// LoadIntoSession injects still-valid cookies for a domain. Returns the
// count loaded.
func (c *CookieStore) LoadIntoSession(s Session, domain string) (int, error) {
	c.mu.Lock()
	stored := c.store[domain]
	valid := make([]Cookie, 0, len(stored))
	now := time.Now()
	for _, sc := range stored {
		if now.Sub(sc.storedAt) <= cookieTTL {
			valid = append(valid, sc.cookie)
		}
	}
	c.mu.Unlock()

	if len(valid) == 0 {
		return 0, nil
	}
	if err := s.SetCookies(valid); err != nil {
		return 0, err
	}
	return len(valid), nil
}

package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// CachedCrawl is one cached crawl result. Only sufficient-quality,
// non-quarantined results are cached; consumers re-crawl everything else.
type CachedCrawl struct {
	URL            string
	FinalURL       string
	Title          string
	Markdown       string
	ContentQuality string
	RenderMode     string
	StatusCode     int
	FetchedAtMS    int64
}

// CrawlCache is a sqlite-backed cache of crawl results keyed by URL hash
// with a TTL.
type CrawlCache struct {
	db  *sql.DB
	ttl time.Duration
}

func OpenCrawlCache(path string, ttl time.Duration) (*CrawlCache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open crawl cache: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS crawl_cache (
			url_hash        TEXT PRIMARY KEY,
			url             TEXT NOT NULL,
			final_url       TEXT,
			title           TEXT,
			markdown        TEXT,
			content_quality TEXT,
			render_mode     TEXT,
			status_code     INTEGER,
			fetched_at_ms   INTEGER NOT NULL
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init crawl cache schema: %w", err)
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CrawlCache{db: db, ttl: ttl}, nil
}

func (c *CrawlCache) Close() error { return c.db.Close() }

func urlHash(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])[:16]
}

// Get returns a fresh cached entry, or false. Expired rows are deleted
// opportunistically.
func (c *CrawlCache) Get(url string) (*CachedCrawl, bool) {
	row := c.db.QueryRow(`
		SELECT url, final_url, title, markdown, content_quality, render_mode, status_code, fetched_at_ms
		FROM crawl_cache WHERE url_hash = ?`, urlHash(url))

	var entry CachedCrawl
	err := row.Scan(&entry.URL, &entry.FinalURL, &entry.Title, &entry.Markdown,
		&entry.ContentQuality, &entry.RenderMode, &entry.StatusCode, &entry.FetchedAtMS)
	if err != nil {
		return nil, false
	}
	if time.Since(time.UnixMilli(entry.FetchedAtMS)) > c.ttl {
		c.db.Exec(`DELETE FROM crawl_cache WHERE url_hash = ?`, urlHash(url))
		return nil, false
	}
	return &entry, true
}

// Put upserts an entry stamped with the current time.
func (c *CrawlCache) Put(entry *CachedCrawl) error {
	_, err := c.db.Exec(`
		INSERT INTO crawl_cache
			(url_hash, url, final_url, title, markdown, content_quality, render_mode, status_code, fetched_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url_hash) DO UPDATE SET
			final_url = excluded.final_url,
			title = excluded.title,
			markdown = excluded.markdown,
			content_quality = excluded.content_quality,
			render_mode = excluded.render_mode,
			status_code = excluded.status_code,
			fetched_at_ms = excluded.fetched_at_ms`,
		urlHash(entry.URL), entry.URL, entry.FinalURL, entry.Title, entry.Markdown,
		entry.ContentQuality, entry.RenderMode, entry.StatusCode, time.Now().UnixMilli())
	return err
}

package store

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/nextlevelbuilder/gocrawl/internal/observe"
)

func TestCustomerHash(t *testing.T) {
	h := CustomerHash("customer@example.com")
	if len(h) != 12 {
		t.Errorf("hash length = %d, want 12", len(h))
	}
	if h != CustomerHash("customer@example.com") {
		t.Error("hash not deterministic")
	}
	if h == CustomerHash("other@example.com") {
		t.Error("distinct customers share a hash")
	}
	if CustomerHash("") != CustomerHash("anonymous") {
		t.Error("empty customer does not map to anonymous")
	}
}

func TestTraceStore_SaveAndLoad(t *testing.T) {
	root := t.TempDir()
	ts := NewTraceStore(root)

	summary := &observe.RunSummary{
		RunID:      "run-123",
		Task:       "test task",
		Success:    true,
		StopReason: "completed",
		Steps:      2,
		WallTimeMS: 500,
		Trace: []observe.TraceEntry{
			{Event: "run_start", RunID: "run-123", TimestampMS: 1},
			{Event: "run_end", RunID: "run-123", TimestampMS: 2},
		},
	}

	path, err := ts.Save(summary, "cust-1", "sess-9")
	if err != nil {
		t.Fatal(err)
	}

	// Layout: {customer_hash}/{session_id}/traces/{run_id}.json
	want := filepath.Join(root, CustomerHash("cust-1"), "sess-9", "traces", "run-123.json")
	if path != want {
		t.Errorf("path = %s, want %s", path, want)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("trace file missing: %v", err)
	}

	loaded, err := ts.Load("run-123", "cust-1", "sess-9")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(summary, loaded) {
		t.Errorf("round trip mismatch:\nwant %+v\ngot  %+v", summary, loaded)
	}
}

func TestTraceStore_LoadMissing(t *testing.T) {
	ts := NewTraceStore(t.TempDir())
	loaded, err := ts.Load("nope", "cust", "sess")
	if err != nil {
		t.Fatal(err)
	}
	if loaded != nil {
		t.Error("missing trace returned a summary")
	}
}

func TestCrawlCache_PutGet(t *testing.T) {
	cache, err := OpenCrawlCache(filepath.Join(t.TempDir(), "cache.db"), 0)
	if err != nil {
		t.Fatal(err)
	}
	defer cache.Close()

	entry := &CachedCrawl{
		URL:            "https://example.com/article",
		FinalURL:       "https://example.com/article",
		Title:          "Article",
		Markdown:       "# Article\n\nbody",
		ContentQuality: "sufficient",
		RenderMode:     "browser",
		StatusCode:     200,
	}
	if err := cache.Put(entry); err != nil {
		t.Fatal(err)
	}

	got, ok := cache.Get("https://example.com/article")
	if !ok {
		t.Fatal("fresh entry not returned")
	}
	if got.Markdown != entry.Markdown || got.ContentQuality != "sufficient" {
		t.Errorf("got %+v", got)
	}

	if _, ok := cache.Get("https://example.com/other"); ok {
		t.Error("unknown URL returned a cache hit")
	}
}

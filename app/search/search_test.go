package search

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mlevkov/feedcore/app/storage"
	"github.com/mlevkov/feedcore/app/types"
)

func openTestSearch(t *testing.T) (*storage.Store, *Search) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	store, err := storage.Open(path)
	if err != nil {
		t.Fatalf("Expected no error opening store, got: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, New(store)
}

func addTestEntry(t *testing.T, store *storage.Store, feed, id, title, summary string, content []types.Content) {
	t.Helper()
	now := time.Now().UTC()
	err := store.AddOrUpdateEntry(types.EntryUpdateIntent{
		Entry: types.EntryData{
			FeedURL: feed,
			ID:      id,
			Title:   title,
			Summary: summary,
			Content: content,
		},
		LastUpdated:  now,
		FirstUpdated: now,
		RecentSort:   now.UnixMicro(),
		Hash:         id,
	})
	if err != nil {
		t.Fatalf("Expected no error adding entry %s, got: %v", id, err)
	}
}

func TestEnableDisable(t *testing.T) {
	_, search := openTestSearch(t)

	enabled, err := search.IsEnabled()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if enabled {
		t.Error("Expected search to start disabled")
	}

	var notEnabled *types.SearchNotEnabledError
	if _, _, err := search.Update(); !errors.As(err, &notEnabled) {
		t.Errorf("Expected SearchNotEnabledError from Update, got: %v", err)
	}
	if _, _, err := search.SearchPage("anything", types.EntryFilter{}, 0, nil); !errors.As(err, &notEnabled) {
		t.Errorf("Expected SearchNotEnabledError from SearchPage, got: %v", err)
	}

	if err := search.Enable(); err != nil {
		t.Fatalf("Expected no error enabling, got: %v", err)
	}
	if err := search.Enable(); err != nil {
		t.Errorf("Expected enabling twice to be a no-op, got: %v", err)
	}
	enabled, err = search.IsEnabled()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !enabled {
		t.Error("Expected search to be enabled")
	}

	if err := search.Disable(); err != nil {
		t.Fatalf("Expected no error disabling, got: %v", err)
	}
	if err := search.Disable(); err != nil {
		t.Errorf("Expected disabling twice to be a no-op, got: %v", err)
	}
	enabled, err = search.IsEnabled()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if enabled {
		t.Error("Expected search to be disabled again")
	}
}

func TestUpdateIndexesExistingEntries(t *testing.T) {
	store, search := openTestSearch(t)
	now := time.Now().UTC()

	if err := store.AddFeed("http://example.com/feed", now); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	addTestEntry(t, store, "http://example.com/feed", "e1", "Galaxy formation", "", nil)
	addTestEntry(t, store, "http://example.com/feed", "e2", "Cooking pasta", "", nil)

	// Entries added before enabling are picked up by the first update.
	if err := search.Enable(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	updated, deleted, err := search.Update()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if updated != 2 {
		t.Errorf("Expected 2 updated, got: %d", updated)
	}
	if deleted != 0 {
		t.Errorf("Expected 0 deleted, got: %d", deleted)
	}

	results, cursor, err := search.SearchPage("galaxy", types.EntryFilter{}, 0, nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cursor != nil {
		t.Error("Expected no cursor without chunking")
	}
	if len(results) != 1 {
		t.Fatalf("Expected 1 result, got: %d", len(results))
	}
	if results[0].Entry.ID != "e1" {
		t.Errorf("Expected e1, got: %s", results[0].Entry.ID)
	}

	// A second update has nothing to do.
	updated, deleted, err = search.Update()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if updated != 0 || deleted != 0 {
		t.Errorf("Expected an idle update, got: %d updated, %d deleted", updated, deleted)
	}
}

func TestSearchHighlightsAndContentPaths(t *testing.T) {
	store, search := openTestSearch(t)
	now := time.Now().UTC()

	if err := store.AddFeed("http://example.com/feed", now); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	err := store.UpdateFeed(types.FeedUpdateIntent{
		URL:           "http://example.com/feed",
		LastRetrieved: now,
		Feed:          &types.FeedData{URL: "http://example.com/feed", Title: "Science Weekly"},
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	addTestEntry(t, store, "http://example.com/feed", "e1", "About comets", "", []types.Content{
		{Value: "<p>nothing relevant</p>", Type: "text/html"},
		{Value: "<p>a <b>comet</b> has a tail</p>", Type: "text/html"},
	})

	if err := search.Enable(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if _, _, err := search.Update(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	results, _, err := search.SearchPage("comet", types.EntryFilter{}, 0, nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Expected 1 result, got: %d", len(results))
	}

	r := results[0]
	if r.Title.Value != "About comets" {
		t.Errorf("Expected stripped title, got: %q", r.Title.Value)
	}
	if len(r.Title.Highlights) == 0 {
		t.Error("Expected the title match to be highlighted")
	}
	if r.FeedTitle.Value != "Science Weekly" {
		t.Errorf("Expected feed title, got: %q", r.FeedTitle.Value)
	}

	// Markup is stripped and the matching content item is keyed by its path.
	hl, ok := r.Content["content[1]"]
	if !ok {
		t.Fatalf("Expected a highlight under content[1], got keys: %v", r.Content)
	}
	if hl.Value != "a comet has a tail" {
		t.Errorf("Expected stripped content, got: %q", hl.Value)
	}
	if len(hl.Highlights) != 1 {
		t.Fatalf("Expected 1 highlight span, got: %d", len(hl.Highlights))
	}
	if span := hl.Highlights[0]; hl.Value[span.Start:span.End] != "comet" {
		t.Errorf("Expected span to cover 'comet', got: %q", hl.Value[span.Start:span.End])
	}
}

func TestSearchTitleOutranksContent(t *testing.T) {
	store, search := openTestSearch(t)
	now := time.Now().UTC()

	if err := store.AddFeed("http://example.com/feed", now); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	addTestEntry(t, store, "http://example.com/feed", "in-title",
		"Galaxy clusters explained", "", []types.Content{{Value: "unrelated body text"}})
	addTestEntry(t, store, "http://example.com/feed", "in-body",
		"Something else", "", []types.Content{{Value: "a galaxy appears in the body"}})

	if err := search.Enable(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if _, _, err := search.Update(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	results, _, err := search.SearchPage("galaxy", types.EntryFilter{}, 0, nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got: %d", len(results))
	}
	if results[0].Entry.ID != "in-title" {
		t.Errorf("Expected the title match to rank first, got: %s", results[0].Entry.ID)
	}
}

func TestSearchFollowsEntryChanges(t *testing.T) {
	store, search := openTestSearch(t)
	now := time.Now().UTC()

	if err := store.AddFeed("http://example.com/feed", now); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := search.Enable(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	addTestEntry(t, store, "http://example.com/feed", "e1", "Original title", "", nil)
	if _, _, err := search.Update(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	// Rewrite, then reindex.
	addTestEntry(t, store, "http://example.com/feed", "e1", "Replacement headline", "", nil)
	updated, _, err := search.Update()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if updated != 1 {
		t.Errorf("Expected 1 reindexed entry, got: %d", updated)
	}

	results, _, err := search.SearchPage("original", types.EntryFilter{}, 0, nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Expected the old content to be gone, got: %d results", len(results))
	}

	results, _, err = search.SearchPage("replacement", types.EntryFilter{}, 0, nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("Expected the new content to be found, got: %d results", len(results))
	}

	// Deletion drops the entry from the index on the next update.
	ref := types.EntryRef{FeedURL: "http://example.com/feed", ID: "e1"}
	if err := store.DeleteEntries([]types.EntryRef{ref}, false); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	_, deleted, err := search.Update()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 deletion, got: %d", deleted)
	}
	results, _, err = search.SearchPage("replacement", types.EntryFilter{}, 0, nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Expected no results after deletion, got: %d", len(results))
	}
}

func TestSearchFilters(t *testing.T) {
	store, search := openTestSearch(t)
	now := time.Now().UTC()

	if err := store.AddFeed("http://example.com/feed", now); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	addTestEntry(t, store, "http://example.com/feed", "read-one", "shared topic", "", nil)
	addTestEntry(t, store, "http://example.com/feed", "unread-one", "shared topic", "", nil)
	err := store.SetEntryRead(types.EntryRef{FeedURL: "http://example.com/feed", ID: "read-one"}, true, &now)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if err := search.Enable(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if _, _, err := search.Update(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	falsity := false
	results, _, err := search.SearchPage("shared", types.EntryFilter{Read: &falsity}, 0, nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(results) != 1 || results[0].Entry.ID != "unread-one" {
		t.Errorf("Expected only the unread entry, got: %v", results)
	}
}

func TestSearchPagination(t *testing.T) {
	store, search := openTestSearch(t)
	now := time.Now().UTC()

	if err := store.AddFeed("http://example.com/feed", now); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	ids := []string{"a", "b", "c", "d", "e"}
	for _, id := range ids {
		addTestEntry(t, store, "http://example.com/feed", id, "pagination topic "+id, "", nil)
	}

	if err := search.Enable(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if _, _, err := search.Update(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	seen := make(map[string]bool)
	var after *Cursor
	pages := 0
	for {
		results, next, err := search.SearchPage("pagination", types.EntryFilter{}, 2, after)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		for _, r := range results {
			if seen[r.Entry.ID] {
				t.Errorf("Expected each entry once, got %s twice", r.Entry.ID)
			}
			seen[r.Entry.ID] = true
		}
		pages++
		if next == nil {
			break
		}
		after = next
	}

	if len(seen) != len(ids) {
		t.Errorf("Expected %d distinct results, got: %d", len(ids), len(seen))
	}
	if pages < 3 {
		t.Errorf("Expected at least 3 pages of chunk 2, got: %d", pages)
	}
}

func TestSearchMatchesScan(t *testing.T) {
	store, search := openTestSearch(t)
	now := time.Now().UTC()

	if err := store.AddFeed("http://example.com/feed", now); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	addTestEntry(t, store, "http://example.com/feed", "in-title",
		"the zirconium result", "", nil)
	addTestEntry(t, store, "http://example.com/feed", "in-summary",
		"unrelated", "all about zirconium here", nil)
	addTestEntry(t, store, "http://example.com/feed", "in-content",
		"unrelated", "", []types.Content{{Value: "<p>zirconium in the body</p>"}})
	addTestEntry(t, store, "http://example.com/feed", "miss-one",
		"nothing relevant", "", nil)
	addTestEntry(t, store, "http://example.com/feed", "miss-two",
		"", "other words entirely", nil)

	if err := search.Enable(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if _, _, err := search.Update(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	// Independent scan over the row store: every entry whose visible text
	// contains the word, nothing else.
	entries, _, err := store.GetEntriesPage(types.EntryFilter{}, types.EntrySortRecent, 0, nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	scanned := make(map[string]bool)
	for _, entry := range entries {
		text := entry.Title + " " + entry.Summary
		for _, content := range entry.Content {
			text += " " + stripHTML(content.Value)
		}
		if strings.Contains(strings.ToLower(text), "zirconium") {
			scanned[entry.ID] = true
		}
	}
	if len(scanned) != 3 {
		t.Fatalf("Expected the scan to find 3 entries, got: %v", scanned)
	}

	results, _, err := search.SearchPage("zirconium", types.EntryFilter{}, 0, nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	found := make(map[string]bool)
	for _, r := range results {
		if found[r.Entry.ID] {
			t.Errorf("Expected each entry once, got %s twice", r.Entry.ID)
		}
		found[r.Entry.ID] = true
	}

	for id := range scanned {
		if !found[id] {
			t.Errorf("Expected search to find %s like the scan does", id)
		}
	}
	for id := range found {
		if !scanned[id] {
			t.Errorf("Expected search to skip %s like the scan does", id)
		}
	}
}

func TestUpdateWithConcurrentWrites(t *testing.T) {
	store, search := openTestSearch(t)
	now := time.Now().UTC()

	if err := store.AddFeed("http://example.com/feed", now); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := search.Enable(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	// Writers racing the reindex pass must not fail it; anything they flag
	// mid-pass is drained by a later pass.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 25; i++ {
			tick := time.Now().UTC()
			err := store.AddOrUpdateEntry(types.EntryUpdateIntent{
				Entry: types.EntryData{
					FeedURL: "http://example.com/feed",
					ID:      fmt.Sprintf("racing-%d", i),
					Title:   fmt.Sprintf("racing title %d", i),
				},
				LastUpdated:  tick,
				FirstUpdated: tick,
				RecentSort:   tick.UnixMicro(),
				Hash:         fmt.Sprintf("racing-%d", i),
			})
			if err != nil {
				t.Errorf("Expected no error writing during update, got: %v", err)
				return
			}
		}
	}()

	for {
		if _, _, err := search.Update(); err != nil {
			t.Fatalf("Expected no error updating during writes, got: %v", err)
		}
		select {
		case <-done:
			if _, _, err := search.Update(); err != nil {
				t.Fatalf("Expected no error on the final update, got: %v", err)
			}
			results, _, err := search.SearchPage("racing", types.EntryFilter{}, 0, nil)
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if len(results) != 25 {
				t.Errorf("Expected all 25 entries indexed, got: %d", len(results))
			}
			return
		default:
		}
	}
}

func TestSearchInvalidQuery(t *testing.T) {
	store, search := openTestSearch(t)

	if err := store.AddFeed("http://example.com/feed", time.Now().UTC()); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := search.Enable(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	var invalid *types.InvalidSearchQueryError
	for _, query := range []string{"AND", `"unterminated`} {
		_, _, err := search.SearchPage(query, types.EntryFilter{}, 0, nil)
		if !errors.As(err, &invalid) {
			t.Errorf("Expected InvalidSearchQueryError for %q, got: %v", query, err)
		}
	}
}

func TestSearchNoResults(t *testing.T) {
	store, search := openTestSearch(t)

	if err := store.AddFeed("http://example.com/feed", time.Now().UTC()); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	addTestEntry(t, store, "http://example.com/feed", "e1", "some words", "", nil)
	if err := search.Enable(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if _, _, err := search.Update(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	results, cursor, err := search.SearchPage("absent", types.EntryFilter{}, 0, nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(results) != 0 || cursor != nil {
		t.Errorf("Expected an empty page, got: %d results", len(results))
	}
}

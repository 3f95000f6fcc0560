package engine

import (
	"iter"
	"math/rand"
	"time"

	"github.com/mlevkov/feedcore/app/config"
	"github.com/mlevkov/feedcore/app/parser"
	"github.com/mlevkov/feedcore/app/search"
	"github.com/mlevkov/feedcore/app/storage"
	"github.com/mlevkov/feedcore/app/types"
)

const (
	defaultUpdateInterval = time.Hour
	defaultWorkers        = 1
	defaultChunkSize      = 256
)

// Engine ties the row store, the search index and the update pipeline
// together and exposes the public read/write surface.
type Engine struct {
	store  *storage.Store
	search *search.Search
	parser parser.Parser

	interval time.Duration
	jitter   float64
	workers  int
	chunk    int
	defaults *config.Defaults

	now    func() time.Time
	random func() float64

	beforeFeedsHooks []BeforeFeedsUpdateHook
	beforeFeedHooks  []BeforeFeedUpdateHook
	afterEntryHooks  []AfterEntryUpdateHook
	afterFeedHooks   []AfterFeedUpdateHook
	afterFeedsHooks  []AfterFeedsUpdateHook
}

// Options configures an Engine. Zero fields take defaults: one worker, one
// hour interval, no jitter, 256-row pages, an HTTP parser, wall-clock time
// and math/rand jitter draws.
type Options struct {
	Parser         parser.Parser
	Workers        int
	UpdateInterval time.Duration
	Jitter         float64
	ChunkSize      int
	Defaults       *config.Defaults

	// Now and Random exist for tests.
	Now    func() time.Time
	Random func() float64
}

// New creates an engine over an open store.
func New(store *storage.Store, opts Options) *Engine {
	e := &Engine{
		store:    store,
		search:   search.New(store),
		parser:   opts.Parser,
		interval: opts.UpdateInterval,
		jitter:   opts.Jitter,
		workers:  opts.Workers,
		chunk:    opts.ChunkSize,
		defaults: opts.Defaults,
		now:      opts.Now,
		random:   opts.Random,
	}
	if e.parser == nil {
		e.parser = parser.NewHTTPParser(nil, "feedcore/1.0")
	}
	if e.interval <= 0 {
		e.interval = defaultUpdateInterval
	}
	if !validJitter(e.jitter) {
		e.jitter = 0
	}
	if e.workers <= 0 {
		e.workers = defaultWorkers
	}
	if e.chunk <= 0 {
		e.chunk = defaultChunkSize
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	if e.random == nil {
		e.random = rand.Float64
	}
	return e
}

// Store exposes the underlying store, mainly for administrative callers.
func (e *Engine) Store() *storage.Store {
	return e.store
}

// Close closes the underlying store.
func (e *Engine) Close() error {
	return e.store.Close()
}

// AddFeed subscribes to a feed.
func (e *Engine) AddFeed(url string) error {
	return e.store.AddFeed(url, e.now())
}

// DeleteFeed removes a feed, cascading to its entries and tags.
func (e *Engine) DeleteFeed(url string) error {
	return e.store.DeleteFeed(url)
}

// GetFeed retrieves one feed.
func (e *Engine) GetFeed(url string) (*types.Feed, error) {
	return e.store.GetFeed(url)
}

// GetFeedsPage returns one page of feeds.
func (e *Engine) GetFeedsPage(filter types.FeedFilter, sort types.FeedSort,
	chunk int, after *types.FeedCursor) ([]types.Feed, *types.FeedCursor, error) {
	return e.store.GetFeedsPage(filter, sort, chunk, after)
}

// GetFeeds lazily iterates all feeds matching the filter, page by page. A
// caller that stops consuming early never holds a read open.
func (e *Engine) GetFeeds(filter types.FeedFilter, sort types.FeedSort) iter.Seq2[types.Feed, error] {
	return func(yield func(types.Feed, error) bool) {
		var after *types.FeedCursor
		for {
			page, next, err := e.store.GetFeedsPage(filter, sort, e.chunk, after)
			if err != nil {
				yield(types.Feed{}, err)
				return
			}
			for _, feed := range page {
				if !yield(feed, nil) {
					return
				}
			}
			if next == nil {
				return
			}
			after = next
		}
	}
}

// ChangeFeedURL renames a feed in place.
func (e *Engine) ChangeFeedURL(oldURL, newURL string) error {
	return e.store.ChangeFeedURL(oldURL, newURL)
}

// SetFeedUserTitle assigns or clears a feed's user title.
func (e *Engine) SetFeedUserTitle(url, title string) error {
	return e.store.SetFeedUserTitle(url, title)
}

// EnableFeedUpdates re-enables scheduled updates for a feed.
func (e *Engine) EnableFeedUpdates(url string) error {
	return e.store.SetFeedUpdatesEnabled(url, true)
}

// DisableFeedUpdates excludes a feed from scheduled updates.
func (e *Engine) DisableFeedUpdates(url string) error {
	return e.store.SetFeedUpdatesEnabled(url, false)
}

// MakeFeedStale forces full re-evaluation of a feed's entries on its next
// update, ignoring caching tokens and stored timestamps for one pass.
func (e *Engine) MakeFeedStale(url string) error {
	return e.store.SetFeedStale(url, true)
}

// GetEntry retrieves one entry.
func (e *Engine) GetEntry(ref types.EntryRef) (*types.Entry, error) {
	return e.store.GetEntry(ref)
}

// GetEntriesPage returns one page of entries.
func (e *Engine) GetEntriesPage(filter types.EntryFilter, sort types.EntrySort,
	chunk int, after *types.EntryCursor) ([]types.Entry, *types.EntryCursor, error) {
	return e.store.GetEntriesPage(filter, sort, chunk, after)
}

// GetEntries lazily iterates all entries matching the filter, page by page.
func (e *Engine) GetEntries(filter types.EntryFilter, sort types.EntrySort) iter.Seq2[types.Entry, error] {
	return func(yield func(types.Entry, error) bool) {
		var after *types.EntryCursor
		for {
			page, next, err := e.store.GetEntriesPage(filter, sort, e.chunk, after)
			if err != nil {
				yield(types.Entry{}, err)
				return
			}
			for _, entry := range page {
				if !yield(entry, nil) {
					return
				}
			}
			if next == nil {
				return
			}
			after = next
		}
	}
}

// MarkEntryRead marks an entry read.
func (e *Engine) MarkEntryRead(ref types.EntryRef) error {
	now := e.now()
	return e.store.SetEntryRead(ref, true, &now)
}

// MarkEntryUnread marks an entry unread.
func (e *Engine) MarkEntryUnread(ref types.EntryRef) error {
	now := e.now()
	return e.store.SetEntryRead(ref, false, &now)
}

// MarkEntryImportant marks an entry important.
func (e *Engine) MarkEntryImportant(ref types.EntryRef) error {
	now := e.now()
	return e.store.SetEntryImportant(ref, true, &now)
}

// MarkEntryUnimportant explicitly marks an entry as not important.
func (e *Engine) MarkEntryUnimportant(ref types.EntryRef) error {
	now := e.now()
	return e.store.SetEntryImportant(ref, false, &now)
}

// GetTag retrieves a tag value.
func (e *Engine) GetTag(res types.ResourceRef, key string) (types.TagValue, error) {
	return e.store.GetTag(res, key)
}

// SetTag stores a tag value.
func (e *Engine) SetTag(res types.ResourceRef, key string, value types.TagValue) error {
	return e.store.SetTag(res, key, value)
}

// DeleteTag removes a tag.
func (e *Engine) DeleteTag(res types.ResourceRef, key string, missingOK bool) error {
	return e.store.DeleteTag(res, key, missingOK)
}

// GetTagsPage lists a resource's tags.
func (e *Engine) GetTagsPage(res types.ResourceRef, chunk int, after *types.TagCursor) ([]storage.Tag, *types.TagCursor, error) {
	return e.store.GetTagsPage(res, chunk, after)
}

// GetTagKeys lists a resource's tag keys.
func (e *Engine) GetTagKeys(res types.ResourceRef) ([]string, error) {
	return e.store.GetTagKeys(res)
}

// GetEntryCounts aggregates entries matching the filter.
func (e *Engine) GetEntryCounts(filter types.EntryFilter) (types.EntryCounts, error) {
	return e.store.GetEntryCounts(e.now(), filter)
}

// GetFeedCounts aggregates feeds matching the filter.
func (e *Engine) GetFeedCounts(filter types.FeedFilter) (types.FeedCounts, error) {
	return e.store.GetFeedCounts(filter)
}

// EnableSearch creates the search index and its change tracking.
func (e *Engine) EnableSearch() error {
	return e.search.Enable()
}

// DisableSearch drops the search index and its change tracking.
func (e *Engine) DisableSearch() error {
	return e.search.Disable()
}

// IsSearchEnabled reports whether the search schema exists.
func (e *Engine) IsSearchEnabled() (bool, error) {
	return e.search.IsEnabled()
}

// UpdateSearch drains the pending search index changes.
func (e *Engine) UpdateSearch() (updated, deleted int, err error) {
	return e.search.Update()
}

// SearchEntriesPage returns one page of ranked search results.
func (e *Engine) SearchEntriesPage(query string, filter types.EntryFilter,
	chunk int, after *search.Cursor) ([]search.Result, *search.Cursor, error) {
	return e.search.SearchPage(query, filter, chunk, after)
}

// SearchEntries lazily iterates all search results, page by page.
func (e *Engine) SearchEntries(query string, filter types.EntryFilter) iter.Seq2[search.Result, error] {
	return func(yield func(search.Result, error) bool) {
		var after *search.Cursor
		for {
			page, next, err := e.search.SearchPage(query, filter, e.chunk, after)
			if err != nil {
				yield(search.Result{}, err)
				return
			}
			for _, result := range page {
				if !yield(result, nil) {
					return
				}
			}
			if next == nil {
				return
			}
			after = next
		}
	}
}

package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/mlevkov/feedcore/app/parser"
	"github.com/mlevkov/feedcore/app/types"
)

// recentWindow is the trailing window within which newly seen entries sort
// by first-seen time in the recent order; older entries sort by their
// declared published-or-updated time.
const recentWindow = 14 * 24 * time.Hour

// UpdateOptions selects which feeds a batch updates.
type UpdateOptions struct {
	// Scheduled restricts the batch to feeds whose update_after is unset or
	// has passed; unset, every enabled feed updates.
	Scheduled bool
	// NewOnly restricts the batch to feeds that have never been retrieved.
	NewOnly bool
	// Workers overrides the engine's worker pool size when positive.
	Workers int
}

// UpdatedFeed summarizes one successful feed pass.
type UpdatedFeed struct {
	New         int
	Modified    int
	Unmodified  int
	FeedChanged bool
	NotModified bool
}

// UpdateResult is the per-feed outcome of a batch: a success summary or the
// causing error.
type UpdateResult struct {
	URL     string
	Updated UpdatedFeed
	Err     error
}

type feedResult struct {
	UpdateResult
	hookErrs []error
}

type entryStatus struct {
	ref    types.EntryRef
	status types.EntryUpdateStatus
}

// UpdateFeedsIter runs one update pass over the selected feeds, streaming a
// result per feed. Feed failures ride in UpdateResult.Err and never abort
// sibling feeds. The error side of the sequence carries batch-level
// failures only: a pipeline error up front, or the aggregated hook error
// group as the final element once all unaffected feeds have completed.
func (e *Engine) UpdateFeedsIter(ctx context.Context, opts UpdateOptions) iter.Seq2[UpdateResult, error] {
	return func(yield func(UpdateResult, error) bool) {
		for _, h := range e.beforeFeedsHooks {
			if err := h(ctx, e); err != nil {
				yield(UpdateResult{}, &types.SingleUpdateHookError{
					HookName: "before feeds update", Err: err})
				return
			}
		}

		feeds, err := e.store.GetFeedsDueForUpdate(e.now(), opts.NewOnly, !opts.Scheduled)
		if err != nil {
			yield(UpdateResult{}, err)
			return
		}

		workers := opts.Workers
		if workers <= 0 {
			workers = e.workers
		}
		results := e.runPool(ctx, feeds, workers)

		var hookErrs []error
		for res := range results {
			if len(res.hookErrs) > 0 {
				hookErrs = append(hookErrs, &types.UpdateHookErrorGroup{
					Message: "hook errors for feed " + res.URL,
					Errors:  res.hookErrs,
				})
			}
			if !yield(res.UpdateResult, nil) {
				go func() {
					for range results {
					}
				}()
				return
			}
		}

		for _, h := range e.afterFeedsHooks {
			if err := h(ctx, e); err != nil {
				hookErrs = append(hookErrs, &types.SingleUpdateHookError{
					HookName: "after feeds update", Err: err})
			}
		}

		if len(hookErrs) > 0 {
			yield(UpdateResult{}, &types.UpdateHookErrorGroup{
				Message: "update hook errors", Errors: hookErrs})
		}
	}
}

// UpdateFeeds runs one update pass over the selected feeds. Per-feed
// retrieval and parse failures are logged, not raised; pipeline-level and
// hook failures are returned.
func (e *Engine) UpdateFeeds(ctx context.Context, opts UpdateOptions) error {
	var batchErr error
	for res, err := range e.UpdateFeedsIter(ctx, opts) {
		if err != nil {
			batchErr = err
			continue
		}
		if res.Err != nil {
			slog.Error("feed update failed", "feed", res.URL, "error", res.Err)
			continue
		}
		slog.Debug("feed updated", "feed", res.URL,
			"new", res.Updated.New, "modified", res.Updated.Modified,
			"unmodified", res.Updated.Unmodified,
			"not_modified", res.Updated.NotModified)
	}
	return batchErr
}

// UpdateFeed updates a single feed regardless of its schedule and raises
// the first applicable error directly.
func (e *Engine) UpdateFeed(ctx context.Context, url string) (UpdatedFeed, error) {
	feed, err := e.store.GetFeed(url)
	if err != nil {
		return UpdatedFeed{}, err
	}

	for _, h := range e.beforeFeedsHooks {
		if err := h(ctx, e); err != nil {
			return UpdatedFeed{}, &types.SingleUpdateHookError{
				HookName: "before feeds update", Err: err}
		}
	}
	for _, h := range e.beforeFeedHooks {
		if err := h(ctx, e, url); err != nil {
			return UpdatedFeed{}, &types.SingleUpdateHookError{
				HookName: "before feed update", FeedURL: url, Err: err}
		}
	}

	updated, hookErrs, err := e.processFeed(ctx, feed)
	if err != nil {
		return UpdatedFeed{}, err
	}

	for _, h := range e.afterFeedsHooks {
		if err := h(ctx, e); err != nil {
			hookErrs = append(hookErrs, &types.SingleUpdateHookError{
				HookName: "after feeds update", Err: err})
		}
	}
	if len(hookErrs) > 0 {
		return updated, hookErrs[0]
	}
	return updated, nil
}

// runPool distributes feeds over a bounded worker pool; a size of one keeps
// the batch fully sequential.
func (e *Engine) runPool(ctx context.Context, feeds []types.Feed, workers int) <-chan feedResult {
	feedChan := make(chan types.Feed)
	out := make(chan feedResult)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for feed := range feedChan {
				out <- e.updateOne(ctx, feed)
			}
		}()
	}

	go func() {
		defer close(feedChan)
		for _, feed := range feeds {
			select {
			case feedChan <- feed:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

func (e *Engine) updateOne(ctx context.Context, feed types.Feed) feedResult {
	res := feedResult{UpdateResult: UpdateResult{URL: feed.URL}}

	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	for _, h := range e.beforeFeedHooks {
		if err := h(ctx, e, feed.URL); err != nil {
			res.Err = &types.SingleUpdateHookError{
				HookName: "before feed update", FeedURL: feed.URL, Err: err}
			return res
		}
	}

	updated, hookErrs, err := e.processFeed(ctx, &feed)
	res.hookErrs = hookErrs
	if err != nil {
		res.Err = err
		return res
	}
	res.Updated = updated
	return res
}

// processFeed runs one pass for one feed: retrieve, diff against the stored
// for-update snapshot, write entries then the feed row, then run the after
// hooks. Hook failures are captured, not raised.
func (e *Engine) processFeed(ctx context.Context, feed *types.Feed) (UpdatedFeed, []error, error) {
	var result UpdatedFeed

	asof := e.now()
	sched := e.scheduleFor(feed)

	req := parser.Request{URL: feed.URL}
	if !feed.Stale {
		// A stale feed ignores its caching tokens for one pass.
		req.ETag = feed.ETag
		req.LastModified = feed.LastModified
	}

	parsed, err := e.parser.Parse(ctx, req)
	if err != nil {
		e.recordFailure(feed.URL, asof, sched, err)
		return result, nil, err
	}

	updateAfter := updateAfterFor(asof, sched, parsed.HTTPInfo, e.random())

	if parsed.NotModified {
		intent := types.FeedUpdateIntent{
			URL:           feed.URL,
			LastRetrieved: asof,
			UpdateAfter:   &updateAfter,
			ETag:          parsed.ETag,
			LastModified:  parsed.LastModified,
		}
		if err := e.store.UpdateFeed(intent); err != nil {
			return result, nil, err
		}
		result.NotModified = true
		return result, nil, nil
	}

	intents, statuses, unmodified, err := e.diffEntries(feed, parsed.Entries, asof)
	if err != nil {
		return result, nil, err
	}

	if len(intents) > 0 {
		if err := e.store.AddOrUpdateEntries(intents); err != nil {
			return result, nil, err
		}
	}

	feedChanged := feedRowChanged(feed, parsed.Feed)
	intent := types.FeedUpdateIntent{
		URL:           feed.URL,
		LastRetrieved: asof,
		UpdateAfter:   &updateAfter,
		ETag:          parsed.ETag,
		LastModified:  parsed.LastModified,
	}
	if feedChanged {
		intent.Feed = parsed.Feed
	}
	if err := e.store.UpdateFeed(intent); err != nil {
		return result, nil, err
	}

	for _, st := range statuses {
		if st.status == types.EntryNew {
			result.New++
		} else {
			result.Modified++
		}
	}
	result.Unmodified = unmodified
	result.FeedChanged = feedChanged

	// Hooks only run after the storage writes committed.
	var hookErrs []error
	for _, st := range statuses {
		for _, h := range e.afterEntryHooks {
			if err := h(ctx, e, st.ref, st.status); err != nil {
				hookErrs = append(hookErrs, &types.SingleUpdateHookError{
					HookName: "after entry update", FeedURL: feed.URL, Err: err})
			}
		}
	}
	for _, h := range e.afterFeedHooks {
		if err := h(ctx, e, feed.URL); err != nil {
			hookErrs = append(hookErrs, &types.SingleUpdateHookError{
				HookName: "after feed update", FeedURL: feed.URL, Err: err})
		}
	}

	return result, hookErrs, nil
}

// recordFailure persists the failure snapshot as the feed's last_exception,
// with the next retry floored by any backoff metadata the failure carried.
func (e *Engine) recordFailure(url string, asof time.Time, sched scheduleConfig, cause error) {
	var info *types.HTTPInfo
	var parseErr *types.ParseError
	if errors.As(cause, &parseErr) {
		info = parseErr.HTTPInfo
	}
	updateAfter := updateAfterFor(asof, sched, info, e.random())

	intent := types.FeedUpdateIntent{
		URL:           url,
		LastRetrieved: asof,
		UpdateAfter:   &updateAfter,
		LastException: types.NewExceptionInfo(cause),
	}
	if err := e.store.UpdateFeed(intent); err != nil {
		slog.Warn("failed to record feed failure", "feed", url, "error", err)
	}
}

// feedRowChanged decides whether the feed row itself needs rewriting: yes
// when the declared updated timestamp is newer than the stored one, when
// the feed has never been successfully updated, or when the feed declares
// no timestamp at all (unreliable timestamps are treated as always
// changed).
func feedRowChanged(stored *types.Feed, data *types.FeedData) bool {
	if stored.LastUpdated == nil {
		return true
	}
	if data.Updated == nil || stored.Updated == nil {
		return true
	}
	return data.Updated.After(*stored.Updated)
}

// diffEntries decides which entries changed and builds their write intents.
// Entries are processed in reverse feed order with strictly increasing
// microsecond ticks, so original feed order survives in the recent read
// order when entries declare no timestamps.
func (e *Engine) diffEntries(feed *types.Feed, entries []types.EntryData,
	asof time.Time) ([]types.EntryUpdateIntent, []entryStatus, int, error) {

	refs := make([]types.EntryRef, len(entries))
	for i, entry := range entries {
		refs[i] = entry.Ref()
	}
	existing, err := e.store.GetEntriesForUpdate(refs)
	if err != nil {
		return nil, nil, 0, err
	}

	var intents []types.EntryUpdateIntent
	var statuses []entryStatus
	unmodified := 0
	tick := asof

	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		prior := existing[i]
		hash := hashEntry(entry)

		var status types.EntryUpdateStatus
		switch {
		case prior == nil:
			status = types.EntryNew
		case feed.Stale:
			// Forced full re-evaluation, regardless of timestamps and hash.
			status = types.EntryModified
		case hash != prior.Hash:
			// Covers timestamp-less entries too: with no declared timestamp
			// the content hash alone decides, so an unchanged entry is not
			// rewritten on every pass.
			status = types.EntryModified
		case entry.Updated != nil && prior.Updated != nil && entry.Updated.After(*prior.Updated):
			status = types.EntryModified
		default:
			unmodified++
			continue
		}

		tick = tick.Add(time.Microsecond)
		intents = append(intents, types.EntryUpdateIntent{
			Entry:        entry,
			LastUpdated:  tick,
			FirstUpdated: tick,
			RecentSort:   recentSortFor(entry, tick),
			FeedOrder:    len(entries) - 1 - i,
			Hash:         hash,
		})
		statuses = append(statuses, entryStatus{ref: entry.Ref(), status: status})
	}

	return intents, statuses, unmodified, nil
}

// recentSortFor assigns the recent-order key of a newly seen entry: the
// ingestion tick inside the trailing recent window (or with no declared
// time at all), the declared published-or-updated time outside it.
func recentSortFor(entry types.EntryData, tick time.Time) int64 {
	declared := entry.Published
	if declared == nil {
		declared = entry.Updated
	}
	if declared == nil || declared.After(tick.Add(-recentWindow)) {
		return tick.UnixMicro()
	}
	return declared.UnixMicro()
}

// hashEntry derives a content hash used to detect changes when declared
// timestamps alone are ambiguous.
func hashEntry(entry types.EntryData) string {
	b, err := json.Marshal(entry)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

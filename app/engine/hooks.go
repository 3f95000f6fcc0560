package engine

import (
	"context"

	"github.com/mlevkov/feedcore/app/types"
)

// Hook points of the update pipeline. Hooks at each point run in
// registration order. A failing before-feeds hook aborts the whole batch, a
// failing before-feed hook aborts that feed; failures of the after hooks
// are captured and aggregated into an UpdateHookErrorGroup raised after all
// unaffected feeds have completed.
type (
	BeforeFeedsUpdateHook func(ctx context.Context, e *Engine) error
	BeforeFeedUpdateHook  func(ctx context.Context, e *Engine, feedURL string) error
	AfterEntryUpdateHook  func(ctx context.Context, e *Engine, entry types.EntryRef, status types.EntryUpdateStatus) error
	AfterFeedUpdateHook   func(ctx context.Context, e *Engine, feedURL string) error
	AfterFeedsUpdateHook  func(ctx context.Context, e *Engine) error
)

// RegisterBeforeFeedsUpdateHook appends a hook run once before each batch.
func (e *Engine) RegisterBeforeFeedsUpdateHook(h BeforeFeedsUpdateHook) {
	e.beforeFeedsHooks = append(e.beforeFeedsHooks, h)
}

// RegisterBeforeFeedUpdateHook appends a hook run before each feed's pass.
func (e *Engine) RegisterBeforeFeedUpdateHook(h BeforeFeedUpdateHook) {
	e.beforeFeedHooks = append(e.beforeFeedHooks, h)
}

// RegisterAfterEntryUpdateHook appends a hook run after each written entry.
func (e *Engine) RegisterAfterEntryUpdateHook(h AfterEntryUpdateHook) {
	e.afterEntryHooks = append(e.afterEntryHooks, h)
}

// RegisterAfterFeedUpdateHook appends a hook run after each feed's pass
// commits.
func (e *Engine) RegisterAfterFeedUpdateHook(h AfterFeedUpdateHook) {
	e.afterFeedHooks = append(e.afterFeedHooks, h)
}

// RegisterAfterFeedsUpdateHook appends a hook run once after each batch.
func (e *Engine) RegisterAfterFeedsUpdateHook(h AfterFeedsUpdateHook) {
	e.afterFeedsHooks = append(e.afterFeedsHooks, h)
}

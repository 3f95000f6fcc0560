package types

import "time"

// FeedUpdateIntent is the unit written back to storage after a single feed
// refresh pass. Every intent is stamped with the as-of time of that pass,
// distinct per feed even within one batched run.
type FeedUpdateIntent struct {
	URL           string
	LastRetrieved time.Time
	UpdateAfter   *time.Time

	// Feed holds the new content fields when the feed row itself changed,
	// nil otherwise.
	Feed *FeedData

	ETag         string
	LastModified string

	// LastException records the failure of this pass; mutually exclusive
	// with Feed.
	LastException *ExceptionInfo
}

// EntryUpdateIntent is one entry write produced by a refresh pass.
type EntryUpdateIntent struct {
	Entry EntryData

	// LastUpdated is the synthetic, strictly increasing tick assigned to this
	// write. FirstUpdated and RecentSort only apply to genuinely new rows;
	// existing rows keep their stored values.
	LastUpdated  time.Time
	FirstUpdated time.Time
	RecentSort   int64

	// FeedOrder is the entry's position within the source feed, counted from
	// the end so that earlier items order higher on ties.
	FeedOrder int

	// Hash is a content-derived hash used to detect changes when declared
	// timestamps are ambiguous.
	Hash string
}

// EntryUpdateStatus describes what an entry write did, reported to
// after-entry hooks and aggregated into per-feed update counts.
type EntryUpdateStatus string

const (
	EntryNew      EntryUpdateStatus = "new"
	EntryModified EntryUpdateStatus = "modified"
)

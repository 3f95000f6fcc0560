package types

// EntrySort selects the ordering of paginated entry reads.
type EntrySort string

const (
	// EntrySortRecent orders by the composite recent key: recent_sort, then
	// feed URL, row last-updated, feed-internal order and id for ties.
	EntrySortRecent EntrySort = "recent"
	EntrySortRandom EntrySort = "random"
)

// FeedSort selects the ordering of paginated feed reads.
type FeedSort string

const (
	FeedSortTitle FeedSort = "title"
	FeedSortAdded FeedSort = "added"
)

// EntryFilter narrows entry reads, counts and searches. Zero fields do not
// filter.
type EntryFilter struct {
	FeedURL       string
	Entry         *EntryRef
	Read          *bool
	Important     *bool
	HasEnclosures *bool
	// FeedTagKeys keeps only entries whose feed carries all the given tag keys.
	FeedTagKeys []string
}

// FeedFilter narrows feed reads and counts. Zero fields do not filter.
type FeedFilter struct {
	URL            string
	TagKeys        []string
	Broken         *bool
	UpdatesEnabled *bool
	// New keeps only feeds that have never been retrieved.
	New *bool
}

// EntryCursor is the "last seen" composite sort key of keyset pagination
// over entries. Its field order mirrors the recent ordering exactly.
type EntryCursor struct {
	RecentSort  int64  `json:"recent_sort"`
	FeedURL     string `json:"feed_url"`
	LastUpdated int64  `json:"last_updated"` // microseconds since epoch
	FeedOrder   int    `json:"feed_order"`
	ID          string `json:"id"`
}

// FeedCursor is the "last seen" sort key of keyset pagination over feeds.
type FeedCursor struct {
	Key string `json:"key"` // lowercased resolved title, or added timestamp
	URL string `json:"url"`
}

// TagCursor is the "last seen" key of keyset pagination over tags.
type TagCursor struct {
	Key string `json:"key"`
}

package types

import "time"

// Entry is one item belonging to a feed, identified by (feed URL, entry id).
// The id is supplied by the feed, or derived from the entry link when absent.
type Entry struct {
	FeedURL string
	ID      string

	Title      string
	Link       string
	Author     string
	Summary    string
	Content    []Content
	Enclosures []Enclosure
	Published  *time.Time
	Updated    *time.Time

	// Read/important flags survive re-ingestion of the same id. Each carries
	// its own modified-at timestamp, independent of content updates.
	Read              bool
	ReadModified      *time.Time
	Important         bool
	ImportantModified *time.Time

	Added       time.Time // first time this entry was seen
	LastUpdated time.Time // when entry content last changed

	// RecentSort is a monotonically increasing key driving the default
	// "recent" ordering. FeedOrder preserves the entry's position within its
	// source feed for ties.
	RecentSort int64
	FeedOrder  int

	// OriginalFeedURL is the feed URL the entry was first ingested under,
	// preserved across ChangeFeedURL.
	OriginalFeedURL string
}

// Ref returns the (feed URL, entry id) reference of the entry.
func (e *Entry) Ref() EntryRef {
	return EntryRef{FeedURL: e.FeedURL, ID: e.ID}
}

// EntryRef addresses a single entry.
type EntryRef struct {
	FeedURL string
	ID      string
}

// Content is one content item of an entry.
type Content struct {
	Value    string `json:"value"`
	Type     string `json:"type,omitempty"`
	Language string `json:"language,omitempty"`
}

// Enclosure is an external file attached to an entry.
type Enclosure struct {
	Href   string `json:"href"`
	Type   string `json:"type,omitempty"`
	Length int64  `json:"length,omitempty"`
}

// EntryData carries the content fields of an entry as declared by the parsed
// feed document, before they are merged into a stored Entry.
type EntryData struct {
	FeedURL    string
	ID         string
	Title      string
	Link       string
	Author     string
	Summary    string
	Content    []Content
	Enclosures []Enclosure
	Published  *time.Time
	Updated    *time.Time
}

// Ref returns the (feed URL, entry id) reference of the entry data.
func (e *EntryData) Ref() EntryRef {
	return EntryRef{FeedURL: e.FeedURL, ID: e.ID}
}

package types

import "time"

// Feed is a subscribed content source, identified by its URL.
type Feed struct {
	URL      string
	Title    string
	Link     string
	Author   string
	Subtitle string
	Updated  *time.Time // timestamp declared by the feed document itself

	UserTitle string

	// Caching tokens round-tripped with the retriever, opaque to storage.
	ETag         string
	LastModified string

	Added          time.Time
	LastUpdated    *time.Time // when feed content last changed
	LastRetrieved  *time.Time // when last fetched, success or not
	UpdateAfter    *time.Time // next scheduled fetch; nil means due immediately
	UpdatesEnabled bool
	LastException  *ExceptionInfo
	Stale          bool
}

// ResolvedTitle returns the user-assigned title when set, otherwise the
// title declared by the feed.
func (f *Feed) ResolvedTitle() string {
	if f.UserTitle != "" {
		return f.UserTitle
	}
	return f.Title
}

// Broken reports whether the last update attempt for the feed failed.
func (f *Feed) Broken() bool {
	return f.LastException != nil
}

// ExceptionInfo is a structured snapshot of the error that broke the last
// update of a feed, persisted alongside the feed row.
type ExceptionInfo struct {
	TypeName string `json:"type_name"`
	Message  string `json:"message"`
	Cause    string `json:"cause,omitempty"`
}

// FeedData carries the content fields of a feed as declared by the parsed
// feed document, before they are merged into a stored Feed.
type FeedData struct {
	URL      string
	Title    string
	Link     string
	Author   string
	Subtitle string
	Updated  *time.Time
}

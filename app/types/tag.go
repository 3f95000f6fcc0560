package types

// ResourceRef addresses the owner of a tag: the global namespace (zero
// value), a feed (FeedURL set), or an entry (FeedURL and EntryID set).
type ResourceRef struct {
	FeedURL string
	EntryID string
}

// GlobalRef addresses the global tag namespace.
func GlobalRef() ResourceRef {
	return ResourceRef{}
}

// FeedRef addresses the tag namespace of a feed.
func FeedRef(url string) ResourceRef {
	return ResourceRef{FeedURL: url}
}

// EntryTagRef addresses the tag namespace of an entry.
func EntryTagRef(ref EntryRef) ResourceRef {
	return ResourceRef{FeedURL: ref.FeedURL, EntryID: ref.ID}
}

// ResourceKind discriminates tag namespaces in storage.
type ResourceKind int

const (
	ResourceGlobal ResourceKind = iota
	ResourceFeed
	ResourceEntry
)

// Kind returns the namespace the reference addresses.
func (r ResourceRef) Kind() ResourceKind {
	switch {
	case r.FeedURL == "":
		return ResourceGlobal
	case r.EntryID == "":
		return ResourceFeed
	default:
		return ResourceEntry
	}
}

func (r ResourceRef) String() string {
	switch r.Kind() {
	case ResourceGlobal:
		return "(global)"
	case ResourceFeed:
		return r.FeedURL
	default:
		return r.FeedURL + "#" + r.EntryID
	}
}

// TagValue is an arbitrary structured tag value: maps, lists and scalars,
// uninterpreted by storage.
type TagValue any

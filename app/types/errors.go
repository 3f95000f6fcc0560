package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrStorageClosed rejects every operation on a closed store.
var ErrStorageClosed = errors.New("operation on closed storage")

// FeedNotFoundError reports an operation on a feed that does not exist.
type FeedNotFoundError struct {
	URL string
}

func (e *FeedNotFoundError) Error() string {
	return fmt.Sprintf("no such feed: %s", e.URL)
}

// FeedExistsError reports an attempt to add a feed that already exists.
type FeedExistsError struct {
	URL string
}

func (e *FeedExistsError) Error() string {
	return fmt.Sprintf("feed exists: %s", e.URL)
}

// EntryNotFoundError reports an operation on an entry that does not exist.
type EntryNotFoundError struct {
	FeedURL string
	ID      string
}

func (e *EntryNotFoundError) Error() string {
	return fmt.Sprintf("no such entry: %s#%s", e.FeedURL, e.ID)
}

// EntryExistsError reports an explicit insert of an entry that already exists.
type EntryExistsError struct {
	FeedURL string
	ID      string
}

func (e *EntryExistsError) Error() string {
	return fmt.Sprintf("entry exists: %s#%s", e.FeedURL, e.ID)
}

// TagNotFoundError reports a read or delete of a tag that does not exist.
type TagNotFoundError struct {
	Resource ResourceRef
	Key      string
}

func (e *TagNotFoundError) Error() string {
	return fmt.Sprintf("no such tag: %s %q", e.Resource, e.Key)
}

// StorageError wraps an unexpected engine-level failure (locked database,
// I/O error, corruption). Domain conditions like "not found" are never
// wrapped into it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// HTTPInfo is protocol-level metadata reported by the retriever, used by the
// update scheduler's backoff calculation.
type HTTPInfo struct {
	StatusCode int
	Headers    map[string][]string
}

// Header returns the first value of a header, case-insensitively.
func (i *HTTPInfo) Header(name string) string {
	if i == nil {
		return ""
	}
	for k, vs := range i.Headers {
		if strings.EqualFold(k, name) && len(vs) > 0 {
			return vs[0]
		}
	}
	return ""
}

// ParseError reports a retrieval or parsing failure for one feed.
type ParseError struct {
	URL      string
	HTTPInfo *HTTPInfo
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// SearchError wraps an unexpected search engine failure.
type SearchError struct {
	Op  string
	Err error
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("search: %s: %v", e.Op, e.Err)
}

func (e *SearchError) Unwrap() error { return e.Err }

// SearchNotEnabledError reports a search operation while search is disabled.
type SearchNotEnabledError struct{}

func (e *SearchNotEnabledError) Error() string {
	return "search not enabled"
}

// InvalidSearchQueryError reports malformed search query syntax.
type InvalidSearchQueryError struct {
	Query  string
	Reason string
}

func (e *InvalidSearchQueryError) Error() string {
	return fmt.Sprintf("invalid search query %q: %s", e.Query, e.Reason)
}

// SingleUpdateHookError wraps the failure of one hook invocation.
type SingleUpdateHookError struct {
	HookName string
	FeedURL  string // empty for batch-level hooks
	Err      error
}

func (e *SingleUpdateHookError) Error() string {
	if e.FeedURL == "" {
		return fmt.Sprintf("%s hook: %v", e.HookName, e.Err)
	}
	return fmt.Sprintf("%s hook for %s: %v", e.HookName, e.FeedURL, e.Err)
}

func (e *SingleUpdateHookError) Unwrap() error { return e.Err }

// UpdateHookErrorGroup aggregates hook and feed failures collected across an
// update batch: hook errors for one feed nest under that feed's group, feed
// groups nest under the batch group.
type UpdateHookErrorGroup struct {
	Message string
	Errors  []error
}

func (e *UpdateHookErrorGroup) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("%s: %s", e.Message, strings.Join(msgs, "; "))
}

func (e *UpdateHookErrorGroup) Unwrap() []error { return e.Errors }

// NewExceptionInfo snapshots an error for persistence as a feed's
// last_exception, including the formatted cause chain.
func NewExceptionInfo(err error) *ExceptionInfo {
	if err == nil {
		return nil
	}
	info := &ExceptionInfo{
		TypeName: fmt.Sprintf("%T", err),
		Message:  err.Error(),
	}
	if cause := errors.Unwrap(err); cause != nil {
		var parts []string
		for ; cause != nil; cause = errors.Unwrap(cause) {
			parts = append(parts, cause.Error())
		}
		info.Cause = strings.Join(parts, ": ")
	}
	return info
}

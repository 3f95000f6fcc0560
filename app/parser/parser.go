package parser

import (
	"cmp"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/mlevkov/feedcore/app/types"
)

// Request identifies the feed to retrieve plus the caching tokens from the
// previous successful retrieval.
type Request struct {
	URL          string
	ETag         string
	LastModified string
}

// Result is a parsed retrieval: either NotModified (the caching tokens are
// still valid) or the parsed feed with its entries, fresh tokens and
// protocol-level metadata for the scheduler's backoff calculation.
type Result struct {
	NotModified bool

	Feed    *types.FeedData
	Entries []types.EntryData

	ETag         string
	LastModified string
	HTTPInfo     *types.HTTPInfo
}

// Parser is the retrieval/parsing collaborator consumed by the update
// pipeline. Failures are reported as *types.ParseError.
type Parser interface {
	Parse(ctx context.Context, req Request) (*Result, error)
}

// HTTPParser retrieves feeds over HTTP and parses RSS, Atom and JSON Feed
// documents.
type HTTPParser struct {
	client    *http.Client
	userAgent string
	parser    *gofeed.Parser
}

var _ Parser = (*HTTPParser)(nil)

// NewHTTPParser creates a parser using the given client; a nil client gets a
// 30 second timeout default.
func NewHTTPParser(client *http.Client, userAgent string) *HTTPParser {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPParser{
		client:    client,
		userAgent: userAgent,
		parser:    gofeed.NewParser(),
	}
}

func (p *HTTPParser) Parse(ctx context.Context, req Request) (*Result, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, &types.ParseError{URL: req.URL, Err: err}
	}
	if p.userAgent != "" {
		httpReq.Header.Set("User-Agent", p.userAgent)
	}
	if req.ETag != "" {
		httpReq.Header.Set("If-None-Match", req.ETag)
	}
	if req.LastModified != "" {
		httpReq.Header.Set("If-Modified-Since", req.LastModified)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &types.ParseError{URL: req.URL, Err: err}
	}
	defer resp.Body.Close()

	info := &types.HTTPInfo{StatusCode: resp.StatusCode, Headers: resp.Header}

	if resp.StatusCode == http.StatusNotModified {
		return &Result{
			NotModified:  true,
			ETag:         req.ETag,
			LastModified: req.LastModified,
			HTTPInfo:     info,
		}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &types.ParseError{
			URL:      req.URL,
			HTTPInfo: info,
			Err:      fmt.Errorf("bad HTTP status: %d %s", resp.StatusCode, resp.Status),
		}
	}

	feed, err := p.parser.Parse(resp.Body)
	if err != nil {
		return nil, &types.ParseError{URL: req.URL, HTTPInfo: info, Err: err}
	}

	return &Result{
		Feed:         convertFeed(req.URL, feed),
		Entries:      convertEntries(req.URL, feed.Items),
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		HTTPInfo:     info,
	}, nil
}

func convertFeed(url string, feed *gofeed.Feed) *types.FeedData {
	data := &types.FeedData{
		URL:      url,
		Title:    feed.Title,
		Link:     feed.Link,
		Subtitle: feed.Description,
		Updated:  feed.UpdatedParsed,
	}
	if len(feed.Authors) > 0 && feed.Authors[0] != nil {
		data.Author = feed.Authors[0].Name
	}
	return data
}

func convertEntries(feedURL string, items []*gofeed.Item) []types.EntryData {
	entries := make([]types.EntryData, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		entry := types.EntryData{
			FeedURL: feedURL,
			// The id falls back to the entry link when the feed supplies none.
			ID:        cmp.Or(item.GUID, item.Link),
			Title:     item.Title,
			Link:      item.Link,
			Summary:   item.Description,
			Published: item.PublishedParsed,
			Updated:   item.UpdatedParsed,
		}
		if entry.ID == "" {
			continue
		}
		if len(item.Authors) > 0 && item.Authors[0] != nil {
			entry.Author = item.Authors[0].Name
		}
		if item.Content != "" {
			entry.Content = []types.Content{{Value: item.Content, Type: "text/html"}}
		}
		for _, enc := range item.Enclosures {
			if enc == nil || enc.URL == "" {
				continue
			}
			enclosure := types.Enclosure{Href: enc.URL, Type: enc.Type}
			if enc.Length != "" {
				if length, err := strconv.ParseInt(enc.Length, 10, 64); err == nil {
					enclosure.Length = length
				}
			}
			entry.Enclosures = append(entry.Enclosures, enclosure)
		}
		entries = append(entries, entry)
	}
	return entries
}

package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mlevkov/feedcore/app/engine"
	"github.com/mlevkov/feedcore/app/types"
)

const defaultListLimit = 100

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var feedNotFound *types.FeedNotFoundError
	var entryNotFound *types.EntryNotFoundError
	var tagNotFound *types.TagNotFoundError
	var feedExists *types.FeedExistsError
	var entryExists *types.EntryExistsError
	var invalidQuery *types.InvalidSearchQueryError
	var searchDisabled *types.SearchNotEnabledError

	switch {
	case errors.As(err, &feedNotFound), errors.As(err, &entryNotFound), errors.As(err, &tagNotFound):
		return http.StatusNotFound
	case errors.As(err, &feedExists), errors.As(err, &entryExists):
		return http.StatusConflict
	case errors.As(err, &invalidQuery):
		return http.StatusBadRequest
	case errors.As(err, &searchDisabled):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("API error", "operation", op, "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func limitParam(c *gin.Context) int {
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 {
		return v
	}
	return defaultListLimit
}

func boolParam(c *gin.Context, name string) *bool {
	switch c.Query(name) {
	case "true", "1":
		v := true
		return &v
	case "false", "0":
		v := false
		return &v
	}
	return nil
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := gin.H{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
		"version":   h.version,
	}

	if counts, err := h.engine.GetFeedCounts(types.FeedFilter{}); err == nil {
		health["feeds"] = counts.Total
	}

	c.JSON(http.StatusOK, health)
}

func (h *Handler) GetStats(c *gin.Context) {
	feedCounts, err := h.engine.GetFeedCounts(types.FeedFilter{})
	if err != nil {
		fail(c, "feed_counts", err)
		return
	}
	entryCounts, err := h.engine.GetEntryCounts(types.EntryFilter{})
	if err != nil {
		fail(c, "entry_counts", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"feeds": gin.H{
			"total":           feedCounts.Total,
			"broken":          feedCounts.Broken,
			"updates_enabled": feedCounts.UpdatesEnabled,
		},
		"entries": gin.H{
			"total":          entryCounts.Total,
			"read":           entryCounts.Read,
			"important":      entryCounts.Important,
			"has_enclosures": entryCounts.HasEnclosures,
			"averages":       entryCounts.Averages,
		},
	})
}

func (h *Handler) ListFeeds(c *gin.Context) {
	filter := types.FeedFilter{
		Broken:         boolParam(c, "broken"),
		UpdatesEnabled: boolParam(c, "updates_enabled"),
		New:            boolParam(c, "new"),
		TagKeys:        c.QueryArray("tag"),
	}
	sort := types.FeedSortTitle
	if c.Query("sort") == "added" {
		sort = types.FeedSortAdded
	}
	limit := limitParam(c)

	feeds := make([]gin.H, 0, limit)
	for feed, err := range h.engine.GetFeeds(filter, sort) {
		if err != nil {
			fail(c, "list_feeds", err)
			return
		}
		feeds = append(feeds, feedInfo(&feed))
		if len(feeds) >= limit {
			break
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"feeds": feeds,
		"total": len(feeds),
	})
}

func feedInfo(feed *types.Feed) gin.H {
	info := gin.H{
		"url":             feed.URL,
		"title":           feed.ResolvedTitle(),
		"link":            feed.Link,
		"added":           feed.Added,
		"updates_enabled": feed.UpdatesEnabled,
		"broken":          feed.Broken(),
	}
	if feed.LastUpdated != nil {
		info["last_updated"] = feed.LastUpdated
	}
	if feed.UpdateAfter != nil {
		info["update_after"] = feed.UpdateAfter
	}
	if feed.LastException != nil {
		info["last_exception"] = feed.LastException
	}
	return info
}

func (h *Handler) AddFeed(c *gin.Context) {
	var req struct {
		URL string `json:"url" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing feed URL"})
		return
	}

	if err := h.engine.AddFeed(req.URL); err != nil {
		fail(c, "add_feed", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"url": req.URL})
}

func (h *Handler) GetFeedDetails(c *gin.Context) {
	url := c.Query("url")
	if url == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing url parameter"})
		return
	}

	feed, err := h.engine.GetFeed(url)
	if err != nil {
		fail(c, "get_feed", err)
		return
	}

	details := feedInfo(feed)
	details["author"] = feed.Author
	details["subtitle"] = feed.Subtitle
	if feed.UserTitle != "" {
		details["user_title"] = feed.UserTitle
	}
	if feed.LastRetrieved != nil {
		details["last_retrieved"] = feed.LastRetrieved
	}

	if counts, err := h.engine.GetEntryCounts(types.EntryFilter{FeedURL: url}); err == nil {
		details["entries"] = gin.H{
			"total":     counts.Total,
			"read":      counts.Read,
			"important": counts.Important,
		}
	}

	c.JSON(http.StatusOK, details)
}

func (h *Handler) DeleteFeed(c *gin.Context) {
	url := c.Query("url")
	if url == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing url parameter"})
		return
	}

	if err := h.engine.DeleteFeed(url); err != nil {
		fail(c, "delete_feed", err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) UpdateFeeds(c *gin.Context) {
	if url := c.Query("url"); url != "" {
		updated, err := h.engine.UpdateFeed(c.Request.Context(), url)
		if err != nil {
			fail(c, "update_feed", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"url":          url,
			"new":          updated.New,
			"modified":     updated.Modified,
			"unmodified":   updated.Unmodified,
			"not_modified": updated.NotModified,
		})
		return
	}

	opts := engine.UpdateOptions{
		Scheduled: c.Query("scheduled") == "true",
		NewOnly:   c.Query("new") == "true",
	}

	updated, failed := 0, 0
	for res, err := range h.engine.UpdateFeedsIter(c.Request.Context(), opts) {
		if err != nil {
			fail(c, "update_feeds", err)
			return
		}
		if res.Err != nil {
			slog.Error("feed update failed", "feed", res.URL, "error", res.Err)
			failed++
			continue
		}
		updated++
	}

	c.JSON(http.StatusOK, gin.H{
		"updated": updated,
		"failed":  failed,
	})
}

func (h *Handler) SetFeedUserTitle(c *gin.Context) {
	var req struct {
		URL   string `json:"url" binding:"required"`
		Title string `json:"title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing feed URL"})
		return
	}

	if err := h.engine.SetFeedUserTitle(req.URL, req.Title); err != nil {
		fail(c, "set_user_title", err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) EnableFeedUpdates(c *gin.Context) {
	h.setFeedUpdates(c, true)
}

func (h *Handler) DisableFeedUpdates(c *gin.Context) {
	h.setFeedUpdates(c, false)
}

func (h *Handler) setFeedUpdates(c *gin.Context, enabled bool) {
	var req struct {
		URL string `json:"url" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing feed URL"})
		return
	}

	var err error
	if enabled {
		err = h.engine.EnableFeedUpdates(req.URL)
	} else {
		err = h.engine.DisableFeedUpdates(req.URL)
	}
	if err != nil {
		fail(c, "set_feed_updates", err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) ListEntries(c *gin.Context) {
	filter := types.EntryFilter{
		FeedURL:       c.Query("feed"),
		Read:          boolParam(c, "read"),
		Important:     boolParam(c, "important"),
		HasEnclosures: boolParam(c, "has_enclosures"),
		FeedTagKeys:   c.QueryArray("feed_tag"),
	}
	sort := types.EntrySortRecent
	if c.Query("sort") == "random" {
		sort = types.EntrySortRandom
	}
	limit := limitParam(c)

	entries := make([]gin.H, 0, limit)
	for entry, err := range h.engine.GetEntries(filter, sort) {
		if err != nil {
			fail(c, "list_entries", err)
			return
		}
		entries = append(entries, entryInfo(&entry))
		if len(entries) >= limit {
			break
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"total":   len(entries),
	})
}

func entryInfo(entry *types.Entry) gin.H {
	info := gin.H{
		"feed":      entry.FeedURL,
		"id":        entry.ID,
		"title":     entry.Title,
		"link":      entry.Link,
		"read":      entry.Read,
		"important": entry.Important,
		"added":     entry.Added,
	}
	if entry.Published != nil {
		info["published"] = entry.Published
	}
	if entry.Updated != nil {
		info["updated"] = entry.Updated
	}
	if len(entry.Enclosures) > 0 {
		info["enclosures"] = entry.Enclosures
	}
	return info
}

func (h *Handler) SetEntryRead(c *gin.Context) {
	h.setEntryFlag(c, func(ref types.EntryRef, value bool) error {
		if value {
			return h.engine.MarkEntryRead(ref)
		}
		return h.engine.MarkEntryUnread(ref)
	})
}

func (h *Handler) SetEntryImportant(c *gin.Context) {
	h.setEntryFlag(c, func(ref types.EntryRef, value bool) error {
		if value {
			return h.engine.MarkEntryImportant(ref)
		}
		return h.engine.MarkEntryUnimportant(ref)
	})
}

func (h *Handler) setEntryFlag(c *gin.Context, set func(types.EntryRef, bool) error) {
	var req struct {
		Feed  string `json:"feed" binding:"required"`
		ID    string `json:"id" binding:"required"`
		Value *bool  `json:"value" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing feed, id or value"})
		return
	}

	if err := set(types.EntryRef{FeedURL: req.Feed, ID: req.ID}, *req.Value); err != nil {
		fail(c, "set_entry_flag", err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) SearchEntries(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing q parameter"})
		return
	}

	filter := types.EntryFilter{
		FeedURL:   c.Query("feed"),
		Read:      boolParam(c, "read"),
		Important: boolParam(c, "important"),
	}
	limit := limitParam(c)

	results := make([]gin.H, 0, limit)
	for result, err := range h.engine.SearchEntries(query, filter) {
		if err != nil {
			fail(c, "search", err)
			return
		}
		results = append(results, gin.H{
			"feed":       result.Entry.FeedURL,
			"id":         result.Entry.ID,
			"title":      result.Title.Value,
			"feed_title": result.FeedTitle.Value,
		})
		if len(results) >= limit {
			break
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"results": results,
		"total":   len(results),
	})
}

func (h *Handler) EnableSearch(c *gin.Context) {
	if err := h.engine.EnableSearch(); err != nil {
		fail(c, "enable_search", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) DisableSearch(c *gin.Context) {
	if err := h.engine.DisableSearch(); err != nil {
		fail(c, "disable_search", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) UpdateSearch(c *gin.Context) {
	updated, deleted, err := h.engine.UpdateSearch()
	if err != nil {
		fail(c, "update_search", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"updated": updated,
		"deleted": deleted,
	})
}

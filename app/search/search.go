package search

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mlevkov/feedcore/app/storage"
	"github.com/mlevkov/feedcore/app/types"
)

// reindexPageSize bounds the number of tracked rows processed per
// transaction, so a long reindex never holds a single transaction over the
// whole table.
const reindexPageSize = 256

// Per-field bm25 weights: title and feed title outrank body content.
const (
	weightTitle   = 4.0
	weightContent = 1.0
	weightFeed    = 2.0
)

// Search maintains a full-text index over entries, bound to the same
// database file as the row store and kept consistent with it through
// trigger-written change-tracking rows.
type Search struct {
	store *storage.Store
}

// New binds a search layer to a store.
func New(store *storage.Store) *Search {
	return &Search{store: store}
}

// Enable creates the index, the change-tracking table and the entries
// triggers. Enabling an already-enabled search is a no-op.
func (s *Search) Enable() error {
	db, err := s.store.DB()
	if err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return &types.SearchError{Op: "enable", Err: err}
	}
	defer tx.Rollback()

	for _, stmt := range enableStatements {
		if _, err := tx.Exec(stmt); err != nil {
			return &types.SearchError{Op: "enable", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &types.SearchError{Op: "enable", Err: err}
	}
	return nil
}

// Disable drops the index, the tracking table and the triggers. Disabling
// an already-disabled search is a no-op.
func (s *Search) Disable() error {
	db, err := s.store.DB()
	if err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return &types.SearchError{Op: "disable", Err: err}
	}
	defer tx.Rollback()

	for _, stmt := range disableStatements {
		if _, err := tx.Exec(stmt); err != nil {
			return &types.SearchError{Op: "disable", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &types.SearchError{Op: "disable", Err: err}
	}
	return nil
}

// IsEnabled reports whether the search schema exists.
func (s *Search) IsEnabled() (bool, error) {
	db, err := s.store.DB()
	if err != nil {
		return false, err
	}

	var n int
	err = db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'entries_search'",
	).Scan(&n)
	if err != nil {
		return false, &types.SearchError{Op: "is enabled", Err: err}
	}
	return n > 0, nil
}

func (s *Search) checkEnabled() error {
	enabled, err := s.IsEnabled()
	if err != nil {
		return err
	}
	if !enabled {
		return &types.SearchNotEnabledError{}
	}
	return nil
}

// Update drains the change-tracking set: index rows for deleted or changed
// entries are removed, changed entries are re-derived from their current
// content, and the processed tracking rows are cleared. It runs in
// page-sized transactions; an entry touched again after a page commits is
// re-flagged by the triggers and picked up by the next pass. Returns how
// many entries were reindexed and how many were dropped from the index.
func (s *Search) Update() (updated, deleted int, err error) {
	if err := s.checkEnabled(); err != nil {
		return 0, 0, err
	}
	db, err := s.store.DB()
	if err != nil {
		return 0, 0, err
	}

	for {
		n, u, d, err := s.updatePage(db)
		if err != nil {
			return updated, deleted, err
		}
		updated += u
		deleted += d
		if n < reindexPageSize {
			return updated, deleted, nil
		}
	}
}

type syncRow struct {
	feed     string
	id       string
	toUpdate bool
	toDelete bool
}

func (s *Search) updatePage(db *sql.DB) (processed, updated, deleted int, err error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, 0, 0, &types.SearchError{Op: "update", Err: err}
	}
	defer tx.Rollback()

	// The snapshot, the content reads and the flag clearing share one
	// transaction, so a row cannot change between being read and being
	// cleared; changes after commit re-flag the row for the next page.
	rows, err := tx.Query(`
		SELECT feed, id, to_update, to_delete FROM entries_search_sync_state
		WHERE to_update = 1 OR to_delete = 1
		ORDER BY feed, id
		LIMIT ?
	`, reindexPageSize)
	if err != nil {
		return 0, 0, 0, &types.SearchError{Op: "update", Err: err}
	}

	var page []syncRow
	for rows.Next() {
		var r syncRow
		if err := rows.Scan(&r.feed, &r.id, &r.toUpdate, &r.toDelete); err != nil {
			rows.Close()
			return 0, 0, 0, &types.SearchError{Op: "update", Err: err}
		}
		page = append(page, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, 0, 0, &types.SearchError{Op: "update", Err: err}
	}
	rows.Close()

	for _, r := range page {
		_, err := tx.Exec(
			"DELETE FROM entries_search WHERE feed_url = ? AND id = ?", r.feed, r.id)
		if err != nil {
			return 0, 0, 0, &types.SearchError{Op: "update", Err: err}
		}

		if r.toUpdate {
			indexed, err := indexEntry(tx, r.feed, r.id)
			if err != nil {
				return 0, 0, 0, err
			}
			if indexed {
				updated++
			} else {
				deleted++
			}
		} else {
			deleted++
		}

		_, err = tx.Exec(
			"DELETE FROM entries_search_sync_state WHERE feed = ? AND id = ?", r.feed, r.id)
		if err != nil {
			return 0, 0, 0, &types.SearchError{Op: "update", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, 0, &types.SearchError{Op: "update", Err: err}
	}
	return len(page), updated, deleted, nil
}

// indexEntry re-derives the index rows of one entry from its current
// content: entry title and feed title always, one row per distinct content
// item, the stripped summary when there is no content, a bare title row when
// both are empty. Returns false when the entry no longer exists.
func indexEntry(tx *sql.Tx, feed, id string) (bool, error) {
	var title, summary, content sql.NullString
	var feedTitle sql.NullString
	err := tx.QueryRow(`
		SELECT entries.title, entries.summary, entries.content,
		       coalesce(feeds.user_title, feeds.title)
		FROM entries
		JOIN feeds ON feeds.url = entries.feed
		WHERE entries.feed = ? AND entries.id = ?
	`, feed, id).Scan(&title, &summary, &content, &feedTitle)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, &types.SearchError{Op: "update", Err: err}
	}

	strippedTitle := stripHTML(title.String)
	strippedFeed := stripHTML(feedTitle.String)

	type indexRow struct {
		content any
		path    any
	}
	var indexRows []indexRow

	if content.Valid && content.String != "" {
		var items []types.Content
		if err := json.Unmarshal([]byte(content.String), &items); err != nil {
			return false, &types.SearchError{Op: "update",
				Err: fmt.Errorf("failed to decode entry content: %w", err)}
		}
		for i, item := range items {
			if stripped := stripHTML(item.Value); stripped != "" {
				indexRows = append(indexRows, indexRow{
					content: stripped,
					path:    fmt.Sprintf("content[%d]", i),
				})
			}
		}
	}
	if len(indexRows) == 0 {
		if stripped := stripHTML(summary.String); stripped != "" {
			indexRows = append(indexRows, indexRow{content: stripped, path: "summary"})
		}
	}
	if len(indexRows) == 0 {
		indexRows = append(indexRows, indexRow{content: nil, path: nil})
	}

	for _, row := range indexRows {
		_, err := tx.Exec(`
			INSERT INTO entries_search (title, content, feed, id, feed_url, content_path)
			VALUES (?, ?, ?, ?, ?, ?)
		`, strippedTitle, row.content, strippedFeed, id, feed, row.path)
		if err != nil {
			return false, &types.SearchError{Op: "update", Err: err}
		}
	}
	return true, nil
}

// Result is one ranked search hit with per-field highlight spans. Content
// highlights are keyed by content path ("content[0]", "summary", ...).
type Result struct {
	Entry     types.EntryRef
	Score     float64
	Title     HighlightedString
	FeedTitle HighlightedString
	Content   map[string]HighlightedString
}

// Cursor is the "last seen" key of keyset-paginated search results.
type Cursor struct {
	Score   float64 `json:"score"`
	FeedURL string  `json:"feed_url"`
	ID      string  `json:"id"`
}

func mapQueryError(query string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "no such table: entries_search"):
		return &types.SearchNotEnabledError{}
	case strings.Contains(msg, "fts5: syntax error"),
		strings.Contains(msg, "unknown special query"),
		strings.Contains(msg, "no such column"),
		strings.Contains(msg, "unterminated string"):
		return &types.InvalidSearchQueryError{Query: query, Reason: msg}
	default:
		return &types.SearchError{Op: "search", Err: err}
	}
}

// SearchPage runs a ranked full-text query and returns one keyset-paginated
// page of results. Filters match the paginated entry reads. A chunk of zero
// disables chunking.
func (s *Search) SearchPage(query string, filter types.EntryFilter,
	chunk int, after *Cursor) ([]Result, *Cursor, error) {

	db, err := s.store.DB()
	if err != nil {
		return nil, nil, err
	}

	clauses, args := storage.EntryFilterWhere(filter)
	where := "entries_search MATCH ?"
	rankArgs := []any{weightTitle, weightContent, weightFeed}
	pageArgs := append(rankArgs, query)
	pageArgs = append(pageArgs, args...)
	if len(clauses) > 0 {
		where += " AND " + strings.Join(clauses, " AND ")
	}

	having := ""
	if after != nil {
		having = `HAVING (rank > ? OR (rank = ? AND (entries_search.feed_url > ?
			OR (entries_search.feed_url = ? AND entries_search.id > ?))))`
		pageArgs = append(pageArgs,
			after.Score, after.Score, after.FeedURL, after.FeedURL, after.ID)
	}

	pageQuery := `
		SELECT entries_search.feed_url, entries_search.id,
		       min(bm25(entries_search, ?, ?, ?)) AS rank
		FROM entries_search
		JOIN entries ON entries.feed = entries_search.feed_url
			AND entries.id = entries_search.id
		WHERE ` + where + `
		GROUP BY entries_search.feed_url, entries_search.id
		` + having + `
		ORDER BY rank, entries_search.feed_url, entries_search.id`
	if chunk > 0 {
		pageQuery += " LIMIT ?"
		pageArgs = append(pageArgs, chunk)
	}

	rows, err := db.Query(pageQuery, pageArgs...)
	if err != nil {
		return nil, nil, mapQueryError(query, err)
	}
	defer rows.Close()

	var results []Result
	byRef := make(map[types.EntryRef]int)
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.Entry.FeedURL, &r.Entry.ID, &r.Score); err != nil {
			return nil, nil, &types.SearchError{Op: "search", Err: err}
		}
		r.Content = make(map[string]HighlightedString)
		byRef[r.Entry] = len(results)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, mapQueryError(query, err)
	}
	if len(results) == 0 {
		// MATCH errors can surface lazily; probe so malformed queries fail
		// loudly instead of returning an empty page.
		var n int
		if err := db.QueryRow(
			"SELECT COUNT(*) FROM entries_search WHERE entries_search MATCH ?", query,
		).Scan(&n); err != nil {
			return nil, nil, mapQueryError(query, err)
		}
		return nil, nil, nil
	}

	if err := s.attachHighlights(db, query, results, byRef); err != nil {
		return nil, nil, err
	}

	if chunk > 0 && len(results) == chunk {
		last := results[len(results)-1]
		return results, &Cursor{Score: last.Score, FeedURL: last.Entry.FeedURL, ID: last.Entry.ID}, nil
	}
	return results, nil, nil
}

func (s *Search) attachHighlights(db *sql.DB, query string,
	results []Result, byRef map[types.EntryRef]int) error {

	placeholders := make([]string, 0, len(results))
	args := []any{highlightOpen, highlightClose, highlightOpen, highlightClose,
		highlightOpen, highlightClose, query}
	for _, r := range results {
		placeholders = append(placeholders, "(?, ?)")
		args = append(args, r.Entry.FeedURL, r.Entry.ID)
	}

	rows, err := db.Query(`
		SELECT feed_url, id, content_path,
		       highlight(entries_search, 0, ?, ?),
		       highlight(entries_search, 1, ?, ?),
		       highlight(entries_search, 2, ?, ?)
		FROM entries_search
		WHERE entries_search MATCH ?
		  AND (feed_url, id) IN (VALUES `+strings.Join(placeholders, ", ")+`)
	`, args...)
	if err != nil {
		return mapQueryError(query, err)
	}
	defer rows.Close()

	for rows.Next() {
		var ref types.EntryRef
		var path, title, content, feed sql.NullString
		if err := rows.Scan(&ref.FeedURL, &ref.ID, &path, &title, &content, &feed); err != nil {
			return &types.SearchError{Op: "search", Err: err}
		}
		i, ok := byRef[ref]
		if !ok {
			continue
		}
		results[i].Title = parseHighlights(title.String)
		results[i].FeedTitle = parseHighlights(feed.String)
		if path.Valid && content.Valid {
			results[i].Content[path.String] = parseHighlights(content.String)
		}
	}
	if err := rows.Err(); err != nil {
		return mapQueryError(query, err)
	}
	return nil
}

package storage

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mlevkov/feedcore/app/types"
)

const feedColumns = `url, title, link, author, subtitle, updated, user_title,
	etag, last_modified, added, last_updated, last_retrieved, update_after,
	updates_enabled, last_exception, stale`

type feedScanner interface {
	Scan(dest ...any) error
}

func scanFeed(row feedScanner) (*types.Feed, error) {
	var f types.Feed
	var title, link, author, subtitle, userTitle, etag, lastModified sql.NullString
	var updated, added, lastUpdated, lastRetrieved, updateAfter sql.NullInt64
	var lastException sql.NullString

	err := row.Scan(
		&f.URL, &title, &link, &author, &subtitle, &updated, &userTitle,
		&etag, &lastModified, &added, &lastUpdated, &lastRetrieved, &updateAfter,
		&f.UpdatesEnabled, &lastException, &f.Stale,
	)
	if err != nil {
		return nil, err
	}

	f.Title = title.String
	f.Link = link.String
	f.Author = author.String
	f.Subtitle = subtitle.String
	f.UserTitle = userTitle.String
	f.ETag = etag.String
	f.LastModified = lastModified.String
	f.Updated = microTime(updated)
	if added.Valid {
		f.Added = time.UnixMicro(added.Int64).UTC()
	}
	f.LastUpdated = microTime(lastUpdated)
	f.LastRetrieved = microTime(lastRetrieved)
	f.UpdateAfter = microTime(updateAfter)

	f.LastException, err = decodeException(lastException)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// AddFeed subscribes to a feed. It fails with FeedExistsError when the URL
// is already present.
func (s *Store) AddFeed(url string, added time.Time) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return storageErr("add feed", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRow("SELECT 1 FROM feeds WHERE url = ?", url).Scan(&exists)
	if err == nil {
		return &types.FeedExistsError{URL: url}
	}
	if err != sql.ErrNoRows {
		return storageErr("add feed", err)
	}

	_, err = tx.Exec(`
		INSERT INTO feeds (url, added, updates_enabled)
		VALUES (?, ?, 1)
	`, url, added.UTC().UnixMicro())
	if err != nil {
		return storageErr("add feed", err)
	}

	if err := tx.Commit(); err != nil {
		return storageErr("add feed", err)
	}
	return nil
}

// DeleteFeed removes a feed and, transactionally, all of its entries and
// tags. It fails with FeedNotFoundError when the feed is absent.
func (s *Store) DeleteFeed(url string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return storageErr("delete feed", err)
	}
	defer tx.Rollback()

	// Tags have no foreign key (the global namespace shares the table), so
	// feed and entry tags are removed explicitly in the same transaction.
	_, err = tx.Exec("DELETE FROM tags WHERE feed = ?", url)
	if err != nil {
		return storageErr("delete feed", err)
	}

	res, err := tx.Exec("DELETE FROM feeds WHERE url = ?", url)
	if err != nil {
		return storageErr("delete feed", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("delete feed", err)
	}
	if n == 0 {
		return &types.FeedNotFoundError{URL: url}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("delete feed", err)
	}
	return nil
}

// GetFeed retrieves a single feed by URL.
func (s *Store) GetFeed(url string) (*types.Feed, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	row := db.QueryRow("SELECT "+feedColumns+" FROM feeds WHERE url = ?", url)
	feed, err := scanFeed(row)
	if err == sql.ErrNoRows {
		return nil, &types.FeedNotFoundError{URL: url}
	}
	if err != nil {
		return nil, storageErr("get feed", err)
	}
	return feed, nil
}

// feedFilterWhere translates a FeedFilter into WHERE clauses.
func feedFilterWhere(f types.FeedFilter) (clauses []string, args []any) {
	if f.URL != "" {
		clauses = append(clauses, "url = ?")
		args = append(args, f.URL)
	}
	if f.Broken != nil {
		if *f.Broken {
			clauses = append(clauses, "last_exception IS NOT NULL")
		} else {
			clauses = append(clauses, "last_exception IS NULL")
		}
	}
	if f.UpdatesEnabled != nil {
		clauses = append(clauses, "updates_enabled = ?")
		args = append(args, *f.UpdatesEnabled)
	}
	if f.New != nil {
		if *f.New {
			clauses = append(clauses, "last_retrieved IS NULL")
		} else {
			clauses = append(clauses, "last_retrieved IS NOT NULL")
		}
	}
	for _, key := range f.TagKeys {
		clauses = append(clauses, `EXISTS (
			SELECT 1 FROM tags
			WHERE tags.kind = ? AND tags.feed = feeds.url AND tags.entry_id = '' AND tags.key = ?
		)`)
		args = append(args, types.ResourceFeed, key)
	}
	return clauses, args
}

// GetFeedsPage returns one keyset-paginated page of feeds. A chunk of zero
// disables chunking. The returned cursor is nil on the last page.
func (s *Store) GetFeedsPage(filter types.FeedFilter, sort types.FeedSort,
	chunk int, after *types.FeedCursor) ([]types.Feed, *types.FeedCursor, error) {

	db, err := s.conn()
	if err != nil {
		return nil, nil, err
	}

	clauses, args := feedFilterWhere(filter)

	var order, key string
	switch sort {
	case types.FeedSortTitle, "":
		key = "lower(coalesce(user_title, title, ''))"
		order = key + " ASC, url ASC"
		if after != nil {
			clauses = append(clauses, fmt.Sprintf("(%s > ? OR (%s = ? AND url > ?))", key, key))
			args = append(args, after.Key, after.Key, after.URL)
		}
	case types.FeedSortAdded:
		key = "added"
		order = "added DESC, url ASC"
		if after != nil {
			afterAdded, err := strconv.ParseInt(after.Key, 10, 64)
			if err != nil {
				return nil, nil, fmt.Errorf("malformed feed cursor: %w", err)
			}
			clauses = append(clauses, "(added < ? OR (added = ? AND url > ?))")
			args = append(args, afterAdded, afterAdded, after.URL)
		}
	default:
		return nil, nil, fmt.Errorf("unknown feed sort: %q", sort)
	}

	query := "SELECT " + feedColumns + ", " + key + " FROM feeds"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY " + order
	if chunk > 0 {
		query += " LIMIT ?"
		args = append(args, chunk)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, nil, storageErr("get feeds", err)
	}
	defer rows.Close()

	var feeds []types.Feed
	var lastKey string
	for rows.Next() {
		var f types.Feed
		var title, link, author, subtitle, userTitle, etag, lastModified sql.NullString
		var updated, added, lastUpdated, lastRetrieved, updateAfter sql.NullInt64
		var lastException sql.NullString
		var sortKey sql.NullString

		err := rows.Scan(
			&f.URL, &title, &link, &author, &subtitle, &updated, &userTitle,
			&etag, &lastModified, &added, &lastUpdated, &lastRetrieved, &updateAfter,
			&f.UpdatesEnabled, &lastException, &f.Stale, &sortKey,
		)
		if err != nil {
			return nil, nil, storageErr("get feeds", err)
		}

		f.Title = title.String
		f.Link = link.String
		f.Author = author.String
		f.Subtitle = subtitle.String
		f.UserTitle = userTitle.String
		f.ETag = etag.String
		f.LastModified = lastModified.String
		f.Updated = microTime(updated)
		if added.Valid {
			f.Added = time.UnixMicro(added.Int64).UTC()
		}
		f.LastUpdated = microTime(lastUpdated)
		f.LastRetrieved = microTime(lastRetrieved)
		f.UpdateAfter = microTime(updateAfter)
		f.LastException, err = decodeException(lastException)
		if err != nil {
			return nil, nil, storageErr("get feeds", err)
		}

		feeds = append(feeds, f)
		lastKey = sortKey.String
	}
	if err := rows.Err(); err != nil {
		return nil, nil, storageErr("get feeds", err)
	}

	if chunk > 0 && len(feeds) == chunk {
		return feeds, &types.FeedCursor{Key: lastKey, URL: feeds[len(feeds)-1].URL}, nil
	}
	return feeds, nil, nil
}

// GetFeedsDueForUpdate returns feeds with updates enabled whose update_after
// is unset or has passed. With newOnly set, only never-retrieved feeds
// qualify; with force set, the schedule is ignored entirely.
func (s *Store) GetFeedsDueForUpdate(now time.Time, newOnly, force bool) ([]types.Feed, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	query := "SELECT " + feedColumns + " FROM feeds WHERE updates_enabled = 1"
	var args []any
	if newOnly {
		query += " AND last_retrieved IS NULL"
	}
	if !force {
		query += " AND (update_after IS NULL OR update_after <= ?)"
		args = append(args, now.UTC().UnixMicro())
	}
	query += " ORDER BY url"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, storageErr("get feeds due for update", err)
	}
	defer rows.Close()

	var feeds []types.Feed
	for rows.Next() {
		feed, err := scanFeed(rows)
		if err != nil {
			return nil, storageErr("get feeds due for update", err)
		}
		feeds = append(feeds, *feed)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("get feeds due for update", err)
	}
	return feeds, nil
}

// UpdateFeed writes back the result of one refresh pass: new content fields
// on change, the refreshed caching tokens and schedule, or the failure
// snapshot. A successful pass clears last_exception and the stale flag.
func (s *Store) UpdateFeed(intent types.FeedUpdateIntent) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	exceptionJSON, err := jsonOrNull(intent.LastException)
	if err != nil {
		return storageErr("update feed", err)
	}

	var res sql.Result
	if intent.LastException != nil {
		res, err = db.Exec(`
			UPDATE feeds
			SET last_retrieved = ?, update_after = ?, last_exception = ?
			WHERE url = ?
		`, intent.LastRetrieved.UTC().UnixMicro(), tsMicro(intent.UpdateAfter),
			exceptionJSON, intent.URL)
	} else if intent.Feed != nil {
		res, err = db.Exec(`
			UPDATE feeds
			SET title = ?, link = ?, author = ?, subtitle = ?, updated = ?,
			    etag = ?, last_modified = ?,
			    last_updated = ?, last_retrieved = ?, update_after = ?,
			    last_exception = NULL, stale = 0
			WHERE url = ?
		`, nullString(intent.Feed.Title), nullString(intent.Feed.Link),
			nullString(intent.Feed.Author), nullString(intent.Feed.Subtitle),
			tsMicro(intent.Feed.Updated),
			nullString(intent.ETag), nullString(intent.LastModified),
			intent.LastRetrieved.UTC().UnixMicro(),
			intent.LastRetrieved.UTC().UnixMicro(), tsMicro(intent.UpdateAfter),
			intent.URL)
	} else {
		res, err = db.Exec(`
			UPDATE feeds
			SET etag = ?, last_modified = ?, last_retrieved = ?, update_after = ?,
			    last_exception = NULL, stale = 0
			WHERE url = ?
		`, nullString(intent.ETag), nullString(intent.LastModified),
			intent.LastRetrieved.UTC().UnixMicro(), tsMicro(intent.UpdateAfter),
			intent.URL)
	}
	if err != nil {
		return storageErr("update feed", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("update feed", err)
	}
	if n == 0 {
		return &types.FeedNotFoundError{URL: intent.URL}
	}
	return nil
}

// SetFeedUserTitle assigns or clears the user title of a feed.
func (s *Store) SetFeedUserTitle(url, title string) error {
	return s.setFeedColumn(url, "user_title", nullString(title))
}

// SetFeedUpdatesEnabled switches scheduled updates for a feed on or off.
func (s *Store) SetFeedUpdatesEnabled(url string, enabled bool) error {
	return s.setFeedColumn(url, "updates_enabled", enabled)
}

// SetFeedStale flags a feed for full re-evaluation on its next update,
// ignoring stored caching tokens and timestamps for one pass.
func (s *Store) SetFeedStale(url string, stale bool) error {
	return s.setFeedColumn(url, "stale", stale)
}

func (s *Store) setFeedColumn(url, column string, value any) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	res, err := db.Exec("UPDATE feeds SET "+column+" = ? WHERE url = ?", value, url)
	if err != nil {
		return storageErr("set feed "+column, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("set feed "+column, err)
	}
	if n == 0 {
		return &types.FeedNotFoundError{URL: url}
	}
	return nil
}

// ChangeFeedURL renames a feed. Entries follow via the cascading foreign key
// and remember their original feed URL; retrieval state is reset so the next
// update re-evaluates the new location from scratch.
func (s *Store) ChangeFeedURL(oldURL, newURL string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return storageErr("change feed url", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRow("SELECT 1 FROM feeds WHERE url = ?", newURL).Scan(&exists)
	if err == nil {
		return &types.FeedExistsError{URL: newURL}
	}
	if err != sql.ErrNoRows {
		return storageErr("change feed url", err)
	}

	_, err = tx.Exec(`
		UPDATE entries SET original_feed = coalesce(original_feed, feed)
		WHERE feed = ?
	`, oldURL)
	if err != nil {
		return storageErr("change feed url", err)
	}

	res, err := tx.Exec(`
		UPDATE feeds
		SET url = ?, updated = NULL, etag = NULL, last_modified = NULL,
		    last_exception = NULL, update_after = NULL, stale = 0
		WHERE url = ?
	`, newURL, oldURL)
	if err != nil {
		return storageErr("change feed url", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("change feed url", err)
	}
	if n == 0 {
		return &types.FeedNotFoundError{URL: oldURL}
	}

	_, err = tx.Exec("UPDATE tags SET feed = ? WHERE feed = ?", newURL, oldURL)
	if err != nil {
		return storageErr("change feed url", err)
	}

	if err := tx.Commit(); err != nil {
		return storageErr("change feed url", err)
	}
	return nil
}

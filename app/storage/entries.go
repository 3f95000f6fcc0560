package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mlevkov/feedcore/app/types"
)

const entryColumns = `entries.feed, entries.id, entries.title, entries.link,
	entries.author, entries.summary, entries.content, entries.enclosures,
	entries.published, entries.updated, entries.read, entries.read_modified,
	entries.important, entries.important_modified, entries.added,
	entries.last_updated, entries.recent_sort, entries.feed_order,
	entries.original_feed`

// maxQueryParams caps the number of bound parameters in a single batched
// query; above it, batch lookups fall back to one query per pair. The SQLite
// default limit is 999, this stays safely under it.
const maxQueryParams = 800

func scanEntry(row feedScanner) (*types.Entry, error) {
	var e types.Entry
	var title, link, author, summary, content, enclosures sql.NullString
	var published, updated, readModified, importantModified sql.NullInt64
	var added, lastUpdated int64
	var originalFeed sql.NullString

	err := row.Scan(
		&e.FeedURL, &e.ID, &title, &link, &author, &summary, &content, &enclosures,
		&published, &updated, &e.Read, &readModified,
		&e.Important, &importantModified, &added,
		&lastUpdated, &e.RecentSort, &e.FeedOrder, &originalFeed,
	)
	if err != nil {
		return nil, err
	}

	e.Title = title.String
	e.Link = link.String
	e.Author = author.String
	e.Summary = summary.String
	e.Published = microTime(published)
	e.Updated = microTime(updated)
	e.ReadModified = microTime(readModified)
	e.ImportantModified = microTime(importantModified)
	e.Added = time.UnixMicro(added).UTC()
	e.LastUpdated = time.UnixMicro(lastUpdated).UTC()
	e.OriginalFeedURL = originalFeed.String

	if content.Valid && content.String != "" {
		if err := json.Unmarshal([]byte(content.String), &e.Content); err != nil {
			return nil, fmt.Errorf("failed to decode entry content: %w", err)
		}
	}
	if enclosures.Valid && enclosures.String != "" {
		if err := json.Unmarshal([]byte(enclosures.String), &e.Enclosures); err != nil {
			return nil, fmt.Errorf("failed to decode entry enclosures: %w", err)
		}
	}
	return &e, nil
}

func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// AddOrUpdateEntries upserts entry content in one transaction. Existing rows
// keep their read/important flags, the flags' modified timestamps, added,
// first_updated and recent_sort; only genuinely new rows take the intent's
// first-seen values. It fails with FeedNotFoundError when the owning feed
// row vanished concurrently.
func (s *Store) AddOrUpdateEntries(intents []types.EntryUpdateIntent) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return storageErr("add or update entries", err)
	}
	defer tx.Rollback()

	for _, intent := range intents {
		if err := upsertEntry(tx, intent); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("add or update entries", err)
	}
	return nil
}

// AddOrUpdateEntry upserts a single entry. See AddOrUpdateEntries.
func (s *Store) AddOrUpdateEntry(intent types.EntryUpdateIntent) error {
	return s.AddOrUpdateEntries([]types.EntryUpdateIntent{intent})
}

func upsertEntry(tx *sql.Tx, intent types.EntryUpdateIntent) error {
	e := intent.Entry

	var exists int
	err := tx.QueryRow("SELECT 1 FROM feeds WHERE url = ?", e.FeedURL).Scan(&exists)
	if err == sql.ErrNoRows {
		return &types.FeedNotFoundError{URL: e.FeedURL}
	}
	if err != nil {
		return storageErr("add or update entries", err)
	}

	contentJSON, err := encodeList(e.Content)
	if err != nil {
		return storageErr("add or update entries", err)
	}
	enclosuresJSON, err := encodeList(e.Enclosures)
	if err != nil {
		return storageErr("add or update entries", err)
	}

	_, err = tx.Exec(`
		INSERT INTO entries (
			feed, id, title, link, author, summary, content, enclosures,
			published, updated, added, last_updated, first_updated,
			recent_sort, feed_order, data_hash
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (feed, id) DO UPDATE SET
			title = excluded.title,
			link = excluded.link,
			author = excluded.author,
			summary = excluded.summary,
			content = excluded.content,
			enclosures = excluded.enclosures,
			published = excluded.published,
			updated = excluded.updated,
			last_updated = excluded.last_updated,
			feed_order = excluded.feed_order,
			data_hash = excluded.data_hash
	`, e.FeedURL, e.ID, nullString(e.Title), nullString(e.Link),
		nullString(e.Author), nullString(e.Summary), contentJSON, enclosuresJSON,
		tsMicro(e.Published), tsMicro(e.Updated),
		intent.FirstUpdated.UTC().UnixMicro(),
		intent.LastUpdated.UTC().UnixMicro(),
		intent.FirstUpdated.UTC().UnixMicro(),
		intent.RecentSort, intent.FeedOrder, nullString(intent.Hash))
	if isForeignKeyViolation(err) {
		return &types.FeedNotFoundError{URL: e.FeedURL}
	}
	if err != nil {
		return storageErr("add or update entries", err)
	}
	return nil
}

func encodeList(v any) (any, error) {
	switch list := v.(type) {
	case []types.Content:
		if len(list) == 0 {
			return nil, nil
		}
	case []types.Enclosure:
		if len(list) == 0 {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode list: %w", err)
	}
	return string(b), nil
}

// AddEntry inserts an entry explicitly, outside the update pipeline. It
// fails with EntryExistsError when the (feed, id) pair is already present.
func (s *Store) AddEntry(intent types.EntryUpdateIntent) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return storageErr("add entry", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRow("SELECT 1 FROM entries WHERE feed = ? AND id = ?",
		intent.Entry.FeedURL, intent.Entry.ID).Scan(&exists)
	if err == nil {
		return &types.EntryExistsError{FeedURL: intent.Entry.FeedURL, ID: intent.Entry.ID}
	}
	if err != sql.ErrNoRows {
		return storageErr("add entry", err)
	}

	if err := upsertEntry(tx, intent); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return storageErr("add entry", err)
	}
	return nil
}

// DeleteEntries removes entries explicitly. It fails with EntryNotFoundError
// on the first missing reference unless missingOK is set.
func (s *Store) DeleteEntries(refs []types.EntryRef, missingOK bool) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return storageErr("delete entries", err)
	}
	defer tx.Rollback()

	for _, ref := range refs {
		res, err := tx.Exec("DELETE FROM entries WHERE feed = ? AND id = ?", ref.FeedURL, ref.ID)
		if err != nil {
			return storageErr("delete entries", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return storageErr("delete entries", err)
		}
		if n == 0 && !missingOK {
			return &types.EntryNotFoundError{FeedURL: ref.FeedURL, ID: ref.ID}
		}
		_, err = tx.Exec("DELETE FROM tags WHERE kind = ? AND feed = ? AND entry_id = ?",
			types.ResourceEntry, ref.FeedURL, ref.ID)
		if err != nil {
			return storageErr("delete entries", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("delete entries", err)
	}
	return nil
}

// GetEntry retrieves a single entry.
func (s *Store) GetEntry(ref types.EntryRef) (*types.Entry, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	row := db.QueryRow(
		"SELECT "+entryColumns+" FROM entries WHERE feed = ? AND id = ?",
		ref.FeedURL, ref.ID)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, &types.EntryNotFoundError{FeedURL: ref.FeedURL, ID: ref.ID}
	}
	if err != nil {
		return nil, storageErr("get entry", err)
	}
	return entry, nil
}

// EntryFilterWhere translates an EntryFilter into WHERE clauses over the
// entries table. Shared with the search layer, which joins against the same
// table.
func EntryFilterWhere(f types.EntryFilter) (clauses []string, args []any) {
	if f.FeedURL != "" {
		clauses = append(clauses, "entries.feed = ?")
		args = append(args, f.FeedURL)
	}
	if f.Entry != nil {
		clauses = append(clauses, "entries.feed = ? AND entries.id = ?")
		args = append(args, f.Entry.FeedURL, f.Entry.ID)
	}
	if f.Read != nil {
		clauses = append(clauses, "entries.read = ?")
		args = append(args, *f.Read)
	}
	if f.Important != nil {
		clauses = append(clauses, "entries.important = ?")
		args = append(args, *f.Important)
	}
	if f.HasEnclosures != nil {
		if *f.HasEnclosures {
			clauses = append(clauses, "entries.enclosures IS NOT NULL")
		} else {
			clauses = append(clauses, "entries.enclosures IS NULL")
		}
	}
	for _, key := range f.FeedTagKeys {
		clauses = append(clauses, `EXISTS (
			SELECT 1 FROM tags
			WHERE tags.kind = ? AND tags.feed = entries.feed AND tags.entry_id = '' AND tags.key = ?
		)`)
		args = append(args, types.ResourceFeed, key)
	}
	return clauses, args
}

// recentCursorWhere builds the keyset window for the composite recent order:
// recent_sort DESC, feed ASC, last_updated DESC, feed_order DESC, id ASC.
func recentCursorWhere(c *types.EntryCursor) (string, []any) {
	return `(
		entries.recent_sort < ?
		OR (entries.recent_sort = ? AND entries.feed > ?)
		OR (entries.recent_sort = ? AND entries.feed = ? AND entries.last_updated < ?)
		OR (entries.recent_sort = ? AND entries.feed = ? AND entries.last_updated = ? AND entries.feed_order < ?)
		OR (entries.recent_sort = ? AND entries.feed = ? AND entries.last_updated = ? AND entries.feed_order = ? AND entries.id > ?)
	)`, []any{
		c.RecentSort,
		c.RecentSort, c.FeedURL,
		c.RecentSort, c.FeedURL, c.LastUpdated,
		c.RecentSort, c.FeedURL, c.LastUpdated, c.FeedOrder,
		c.RecentSort, c.FeedURL, c.LastUpdated, c.FeedOrder, c.ID,
	}
}

const recentOrder = `entries.recent_sort DESC, entries.feed ASC,
	entries.last_updated DESC, entries.feed_order DESC, entries.id ASC`

// GetEntriesPage returns one keyset-paginated page of entries. A chunk of
// zero disables chunking. The random sort ignores the cursor and never
// returns one.
func (s *Store) GetEntriesPage(filter types.EntryFilter, sort types.EntrySort,
	chunk int, after *types.EntryCursor) ([]types.Entry, *types.EntryCursor, error) {

	db, err := s.conn()
	if err != nil {
		return nil, nil, err
	}

	clauses, args := EntryFilterWhere(filter)

	var order string
	switch sort {
	case types.EntrySortRecent, "":
		order = recentOrder
		if after != nil {
			where, whereArgs := recentCursorWhere(after)
			clauses = append(clauses, where)
			args = append(args, whereArgs...)
		}
	case types.EntrySortRandom:
		order = "random()"
	default:
		return nil, nil, fmt.Errorf("unknown entry sort: %q", sort)
	}

	query := "SELECT " + entryColumns + " FROM entries"
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
		return nil, nil, storageErr("get entries", err)
	}
	defer rows.Close()

	var entries []types.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, nil, storageErr("get entries", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, storageErr("get entries", err)
	}

	if sort == types.EntrySortRandom || chunk == 0 || len(entries) < chunk {
		return entries, nil, nil
	}
	last := entries[len(entries)-1]
	return entries, &types.EntryCursor{
		RecentSort:  last.RecentSort,
		FeedURL:     last.FeedURL,
		LastUpdated: last.LastUpdated.UnixMicro(),
		FeedOrder:   last.FeedOrder,
		ID:          last.ID,
	}, nil
}

// EntryForUpdate is the prior state of an entry consulted by the update
// pipeline's change decision.
type EntryForUpdate struct {
	Updated *time.Time
	Hash    string
}

// GetEntriesForUpdate returns, for each (feed, id) pair, the last-known
// declared-updated timestamp and content hash, or nil for pairs with no
// stored row. Batches fitting the engine's parameter limit run as one query;
// larger batches transparently fall back to one query per pair, with
// identical results.
func (s *Store) GetEntriesForUpdate(refs []types.EntryRef) ([]*EntryForUpdate, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	if len(refs)*2 > maxQueryParams {
		return getEntriesForUpdateOneByOne(db, refs)
	}
	if len(refs) == 0 {
		return nil, nil
	}

	placeholders := make([]string, 0, len(refs))
	args := make([]any, 0, len(refs)*2)
	for _, ref := range refs {
		placeholders = append(placeholders, "(?, ?)")
		args = append(args, ref.FeedURL, ref.ID)
	}

	rows, err := db.Query(`
		SELECT feed, id, updated, data_hash FROM entries
		WHERE (feed, id) IN (VALUES `+strings.Join(placeholders, ", ")+`)
	`, args...)
	if err != nil {
		return nil, storageErr("get entries for update", err)
	}
	defer rows.Close()

	found := make(map[types.EntryRef]*EntryForUpdate, len(refs))
	for rows.Next() {
		var ref types.EntryRef
		var updated sql.NullInt64
		var hash sql.NullString
		if err := rows.Scan(&ref.FeedURL, &ref.ID, &updated, &hash); err != nil {
			return nil, storageErr("get entries for update", err)
		}
		found[ref] = &EntryForUpdate{Updated: microTime(updated), Hash: hash.String}
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("get entries for update", err)
	}

	result := make([]*EntryForUpdate, len(refs))
	for i, ref := range refs {
		result[i] = found[ref]
	}
	return result, nil
}

func getEntriesForUpdateOneByOne(db *sql.DB, refs []types.EntryRef) ([]*EntryForUpdate, error) {
	result := make([]*EntryForUpdate, len(refs))
	for i, ref := range refs {
		var updated sql.NullInt64
		var hash sql.NullString
		err := db.QueryRow(
			"SELECT updated, data_hash FROM entries WHERE feed = ? AND id = ?",
			ref.FeedURL, ref.ID).Scan(&updated, &hash)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, storageErr("get entries for update", err)
		}
		result[i] = &EntryForUpdate{Updated: microTime(updated), Hash: hash.String}
	}
	return result, nil
}

// SetEntryRead sets the read flag and its modified timestamp.
func (s *Store) SetEntryRead(ref types.EntryRef, read bool, modified *time.Time) error {
	return s.setEntryFlag(ref, "read", read, modified)
}

// SetEntryImportant sets the important flag and its modified timestamp.
func (s *Store) SetEntryImportant(ref types.EntryRef, important bool, modified *time.Time) error {
	return s.setEntryFlag(ref, "important", important, modified)
}

func (s *Store) setEntryFlag(ref types.EntryRef, column string, value bool, modified *time.Time) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	res, err := db.Exec(
		"UPDATE entries SET "+column+" = ?, "+column+"_modified = ? WHERE feed = ? AND id = ?",
		value, tsMicro(modified), ref.FeedURL, ref.ID)
	if err != nil {
		return storageErr("set entry "+column, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("set entry "+column, err)
	}
	if n == 0 {
		return &types.EntryNotFoundError{FeedURL: ref.FeedURL, ID: ref.ID}
	}
	return nil
}

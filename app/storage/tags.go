package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mlevkov/feedcore/app/types"
)

// Tag is one (key, value) pair of a resource's tag namespace.
type Tag struct {
	Key   string
	Value types.TagValue
}

// checkResource verifies the tag owner exists: the global namespace always
// does, feed and entry namespaces require the corresponding row.
func checkResource(db *sql.DB, res types.ResourceRef) error {
	switch res.Kind() {
	case types.ResourceGlobal:
		return nil
	case types.ResourceFeed:
		var exists int
		err := db.QueryRow("SELECT 1 FROM feeds WHERE url = ?", res.FeedURL).Scan(&exists)
		if err == sql.ErrNoRows {
			return &types.FeedNotFoundError{URL: res.FeedURL}
		}
		if err != nil {
			return storageErr("check tag resource", err)
		}
		return nil
	default:
		var exists int
		err := db.QueryRow("SELECT 1 FROM entries WHERE feed = ? AND id = ?",
			res.FeedURL, res.EntryID).Scan(&exists)
		if err == sql.ErrNoRows {
			return &types.EntryNotFoundError{FeedURL: res.FeedURL, ID: res.EntryID}
		}
		if err != nil {
			return storageErr("check tag resource", err)
		}
		return nil
	}
}

// SetTag stores a structured value under (resource, key), overwriting any
// previous value. Tags on an unknown feed or entry are rejected with that
// resource's not-found error.
func (s *Store) SetTag(res types.ResourceRef, key string, value types.TagValue) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	if err := checkResource(db, res); err != nil {
		return err
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return storageErr("set tag", fmt.Errorf("failed to encode tag value: %w", err))
	}

	_, err = db.Exec(`
		INSERT INTO tags (kind, feed, entry_id, key, value)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (kind, feed, entry_id, key) DO UPDATE SET value = excluded.value
	`, res.Kind(), res.FeedURL, res.EntryID, key, string(encoded))
	if err != nil {
		return storageErr("set tag", err)
	}
	return nil
}

// GetTag retrieves the value stored under (resource, key). It fails with
// TagNotFoundError when the key is absent.
func (s *Store) GetTag(res types.ResourceRef, key string) (types.TagValue, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	var raw string
	err = db.QueryRow(`
		SELECT value FROM tags
		WHERE kind = ? AND feed = ? AND entry_id = ? AND key = ?
	`, res.Kind(), res.FeedURL, res.EntryID, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, &types.TagNotFoundError{Resource: res, Key: key}
	}
	if err != nil {
		return nil, storageErr("get tag", err)
	}

	var value types.TagValue
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, storageErr("get tag", fmt.Errorf("failed to decode tag value: %w", err))
	}
	return value, nil
}

// DeleteTag removes the tag stored under (resource, key). It fails with
// TagNotFoundError unless missingOK is set.
func (s *Store) DeleteTag(res types.ResourceRef, key string, missingOK bool) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	result, err := db.Exec(`
		DELETE FROM tags
		WHERE kind = ? AND feed = ? AND entry_id = ? AND key = ?
	`, res.Kind(), res.FeedURL, res.EntryID, key)
	if err != nil {
		return storageErr("delete tag", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return storageErr("delete tag", err)
	}
	if n == 0 && !missingOK {
		return &types.TagNotFoundError{Resource: res, Key: key}
	}
	return nil
}

// GetTagsPage lists a resource's tags ordered by key, keyset-paginated. A
// chunk of zero disables chunking.
func (s *Store) GetTagsPage(res types.ResourceRef, chunk int, after *types.TagCursor) ([]Tag, *types.TagCursor, error) {
	db, err := s.conn()
	if err != nil {
		return nil, nil, err
	}

	query := `
		SELECT key, value FROM tags
		WHERE kind = ? AND feed = ? AND entry_id = ?`
	args := []any{res.Kind(), res.FeedURL, res.EntryID}
	if after != nil {
		query += " AND key > ?"
		args = append(args, after.Key)
	}
	query += " ORDER BY key"
	if chunk > 0 {
		query += " LIMIT ?"
		args = append(args, chunk)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, nil, storageErr("get tags", err)
	}
	defer rows.Close()

	var tags []Tag
	for rows.Next() {
		var tag Tag
		var raw string
		if err := rows.Scan(&tag.Key, &raw); err != nil {
			return nil, nil, storageErr("get tags", err)
		}
		if err := json.Unmarshal([]byte(raw), &tag.Value); err != nil {
			return nil, nil, storageErr("get tags", fmt.Errorf("failed to decode tag value: %w", err))
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, storageErr("get tags", err)
	}

	if chunk > 0 && len(tags) == chunk {
		return tags, &types.TagCursor{Key: tags[len(tags)-1].Key}, nil
	}
	return tags, nil, nil
}

// GetTagKeys lists a resource's tag keys in order.
func (s *Store) GetTagKeys(res types.ResourceRef) ([]string, error) {
	tags, _, err := s.GetTagsPage(res, 0, nil)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(tags))
	for _, tag := range tags {
		keys = append(keys, tag.Key)
	}
	return keys, nil
}

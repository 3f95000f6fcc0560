package search

// The search layer keeps two tables next to the row store: an FTS5 index and
// a change-tracking table. Triggers on the entries table write one tracking
// row per touched entry, so the index can never silently drift even if a
// write path bypasses the update pipeline. Both are created only once search
// is enabled.

var enableStatements = []string{
	`CREATE VIRTUAL TABLE IF NOT EXISTS entries_search USING fts5(
		title,
		content,
		feed,
		id UNINDEXED,
		feed_url UNINDEXED,
		content_path UNINDEXED,
		tokenize = 'porter unicode61 remove_diacritics 1'
	)`,

	`CREATE TABLE IF NOT EXISTS entries_search_sync_state (
		feed TEXT NOT NULL,
		id TEXT NOT NULL,
		to_update INTEGER NOT NULL DEFAULT 1,
		to_delete INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (feed, id)
	)`,

	// Existing entries become part of the tracked set immediately.
	`INSERT INTO entries_search_sync_state (feed, id)
		SELECT feed, id FROM entries
		WHERE 1
		ON CONFLICT (feed, id) DO NOTHING`,

	`CREATE TRIGGER IF NOT EXISTS entries_search_entries_insert
	AFTER INSERT ON entries
	BEGIN
		INSERT INTO entries_search_sync_state (feed, id, to_update, to_delete)
		VALUES (new.feed, new.id, 1, 0)
		ON CONFLICT (feed, id) DO UPDATE SET to_update = 1, to_delete = 0;
	END`,

	`CREATE TRIGGER IF NOT EXISTS entries_search_entries_update
	AFTER UPDATE ON entries
	BEGIN
		INSERT INTO entries_search_sync_state (feed, id, to_update, to_delete)
		VALUES (new.feed, new.id, 1, 0)
		ON CONFLICT (feed, id) DO UPDATE SET to_update = 1;
	END`,

	// A cascading feed URL change moves entries to a new key; the old index
	// rows must go.
	`CREATE TRIGGER IF NOT EXISTS entries_search_entries_move
	AFTER UPDATE OF feed, id ON entries
	WHEN old.feed != new.feed OR old.id != new.id
	BEGIN
		INSERT INTO entries_search_sync_state (feed, id, to_update, to_delete)
		VALUES (old.feed, old.id, 0, 1)
		ON CONFLICT (feed, id) DO UPDATE SET to_delete = 1, to_update = 0;
	END`,

	`CREATE TRIGGER IF NOT EXISTS entries_search_entries_delete
	AFTER DELETE ON entries
	BEGIN
		INSERT INTO entries_search_sync_state (feed, id, to_update, to_delete)
		VALUES (old.feed, old.id, 0, 1)
		ON CONFLICT (feed, id) DO UPDATE SET to_delete = 1, to_update = 0;
	END`,
}

var disableStatements = []string{
	"DROP TRIGGER IF EXISTS entries_search_entries_insert",
	"DROP TRIGGER IF EXISTS entries_search_entries_update",
	"DROP TRIGGER IF EXISTS entries_search_entries_move",
	"DROP TRIGGER IF EXISTS entries_search_entries_delete",
	"DROP TABLE IF EXISTS entries_search_sync_state",
	"DROP TABLE IF EXISTS entries_search",
}

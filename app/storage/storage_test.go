package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mlevkov/feedcore/app/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Expected no error opening store, got: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustAddFeed(t *testing.T, s *Store, url string, added time.Time) {
	t.Helper()
	if err := s.AddFeed(url, added); err != nil {
		t.Fatalf("Expected no error adding feed %s, got: %v", url, err)
	}
}

func entryIntent(feedURL, id string, seq int64) types.EntryUpdateIntent {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := base.Add(time.Duration(seq) * time.Microsecond)
	return types.EntryUpdateIntent{
		Entry: types.EntryData{
			FeedURL: feedURL,
			ID:      id,
			Title:   "Entry " + id,
			Link:    feedURL + "/" + id,
		},
		LastUpdated:  tick,
		FirstUpdated: tick,
		RecentSort:   tick.UnixMicro(),
		FeedOrder:    int(seq),
		Hash:         "hash-" + id,
	}
}

func TestOpenCreatesAndReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Expected no error on first open, got: %v", err)
	}
	mustAddFeed(t, s, "http://example.com/feed", time.Now().UTC())
	if err := s.Close(); err != nil {
		t.Fatalf("Expected no error on close, got: %v", err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatalf("Expected no error on reopen, got: %v", err)
	}
	defer s.Close()

	if _, err := s.GetFeed("http://example.com/feed"); err != nil {
		t.Errorf("Expected feed to survive reopen, got: %v", err)
	}
}

func TestOpenRejectsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "foreign.db")

	// A valid SQLite file carrying someone else's application id.
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Expected no error creating database, got: %v", err)
	}
	db, err := s.DB()
	if err != nil {
		t.Fatalf("Expected no error getting handle, got: %v", err)
	}
	if _, err := db.Exec("PRAGMA application_id = 12345"); err != nil {
		t.Fatalf("Expected no error rewriting application id, got: %v", err)
	}
	s.Close()

	if _, err := Open(path); err == nil {
		t.Error("Expected error opening a file with a foreign application id")
	}
}

func TestOpenRejectsGarbageFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.db")
	if err := os.WriteFile(path, []byte("this is not a database"), 0o644); err != nil {
		t.Fatalf("Expected no error writing file, got: %v", err)
	}

	if _, err := Open(path); err == nil {
		t.Error("Expected error opening a non-database file")
	}
}

func TestClosedStoreReturnsTypedError(t *testing.T) {
	s := openTestStore(t)
	if err := s.Close(); err != nil {
		t.Fatalf("Expected no error on close, got: %v", err)
	}

	if _, err := s.GetFeed("http://example.com/feed"); !errors.Is(err, types.ErrStorageClosed) {
		t.Errorf("Expected ErrStorageClosed, got: %v", err)
	}
	if err := s.AddFeed("http://example.com/feed", time.Now()); !errors.Is(err, types.ErrStorageClosed) {
		t.Errorf("Expected ErrStorageClosed, got: %v", err)
	}

	// Closing twice is fine.
	if err := s.Close(); err != nil {
		t.Errorf("Expected no error on double close, got: %v", err)
	}
}

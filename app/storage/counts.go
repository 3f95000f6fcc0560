package storage

import (
	"strings"
	"time"

	"github.com/mlevkov/feedcore/app/types"
)

// averagePeriods are the trailing windows, in days, of the recent-activity
// averages: roughly 1, 3 and 12 months.
var averagePeriods = [3]float64{30, 91, 365}

// GetEntryCounts aggregates entries matching the filter, including the mean
// number of entries per day over each trailing period, anchored at now.
func (s *Store) GetEntryCounts(now time.Time, filter types.EntryFilter) (types.EntryCounts, error) {
	var counts types.EntryCounts

	db, err := s.conn()
	if err != nil {
		return counts, err
	}

	clauses, args := EntryFilterWhere(filter)
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(entries.read), 0),
			COALESCE(SUM(entries.important), 0),
			COALESCE(SUM(CASE WHEN entries.important_modified IS NOT NULL
				AND NOT entries.important THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN entries.enclosures IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM entries` + where

	err = db.QueryRow(query, args...).Scan(
		&counts.Total, &counts.Read, &counts.Important,
		&counts.Unimportant, &counts.HasEnclosures)
	if err != nil {
		return counts, storageErr("get entry counts", err)
	}

	// Activity is bucketed on the entry's published-or-updated time, falling
	// back to first_updated for entries that declare neither.
	nowMicro := now.UTC().UnixMicro()
	for i, days := range averagePeriods {
		cutoff := nowMicro - int64(days*24*float64(time.Hour/time.Microsecond))
		var n int
		periodQuery := `
			SELECT COUNT(*) FROM entries` + where
		if where == "" {
			periodQuery += " WHERE "
		} else {
			periodQuery += " AND "
		}
		periodQuery += "COALESCE(entries.published, entries.updated, entries.first_updated) >= ?"

		periodArgs := append(append([]any{}, args...), cutoff)
		if err := db.QueryRow(periodQuery, periodArgs...).Scan(&n); err != nil {
			return counts, storageErr("get entry counts", err)
		}
		counts.Averages[i] = float64(n) / days
	}

	return counts, nil
}

// GetFeedCounts aggregates feeds matching the filter.
func (s *Store) GetFeedCounts(filter types.FeedFilter) (types.FeedCounts, error) {
	var counts types.FeedCounts

	db, err := s.conn()
	if err != nil {
		return counts, err
	}

	clauses, args := feedFilterWhere(filter)
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN last_exception IS NOT NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(updates_enabled), 0)
		FROM feeds`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}

	err = db.QueryRow(query, args...).Scan(
		&counts.Total, &counts.Broken, &counts.UpdatesEnabled)
	if err != nil {
		return counts, storageErr("get feed counts", err)
	}
	return counts, nil
}

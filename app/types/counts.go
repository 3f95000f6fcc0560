package types

// FeedCounts aggregates feeds matching a filter.
type FeedCounts struct {
	Total          int
	Broken         int
	UpdatesEnabled int
}

// EntryCounts aggregates entries matching a filter. Averages holds the mean
// number of entries per day over the trailing 1, 3 and 12 months.
type EntryCounts struct {
	Total         int
	Read          int
	Important     int
	Unimportant   int
	HasEnclosures int
	Averages      [3]float64
}

package engine

import (
	"testing"
	"time"

	"github.com/mlevkov/feedcore/app/types"
)

func httpInfo(status int, headers map[string]string) *types.HTTPInfo {
	info := &types.HTTPInfo{StatusCode: status, Headers: map[string][]string{}}
	for name, value := range headers {
		info.Headers[name] = []string{value}
	}
	return info
}

func TestRetrievalBackoff(t *testing.T) {
	now := time.Date(2023, 7, 3, 12, 0, 0, 0, time.UTC)
	serverDate := "Mon, 03 Jul 2023 11:59:00 GMT"

	cases := []struct {
		name     string
		info     *types.HTTPInfo
		expected time.Time
	}{
		{"no info", nil, time.Time{}},
		{"no metadata", httpInfo(200, nil), time.Time{}},
		{
			"retry-after seconds on failure, from the server date",
			httpInfo(503, map[string]string{"Retry-After": "3600", "Date": serverDate}),
			time.Date(2023, 7, 3, 12, 59, 0, 0, time.UTC),
		},
		{
			"retry-after seconds without a date, from now",
			httpInfo(429, map[string]string{"Retry-After": "120"}),
			now.Add(2 * time.Minute),
		},
		{
			"retry-after as an http date",
			httpInfo(503, map[string]string{"Retry-After": "Mon, 03 Jul 2023 15:00:00 GMT"}),
			time.Date(2023, 7, 3, 15, 0, 0, 0, time.UTC),
		},
		{
			"retry-after ignored on success",
			httpInfo(200, map[string]string{"Retry-After": "3600"}),
			time.Time{},
		},
		{
			"cache-control max-age",
			httpInfo(200, map[string]string{"Cache-Control": "public, max-age=600"}),
			now.Add(10 * time.Minute),
		},
		{
			"no-cache wins over max-age",
			httpInfo(200, map[string]string{
				"Cache-Control": "no-cache, max-age=600",
				"Expires":       "Mon, 03 Jul 2023 14:00:00 GMT",
			}),
			time.Date(2023, 7, 3, 14, 0, 0, 0, time.UTC),
		},
		{
			"expires",
			httpInfo(200, map[string]string{"Expires": "Mon, 03 Jul 2023 18:00:00 GMT"}),
			time.Date(2023, 7, 3, 18, 0, 0, 0, time.UTC),
		},
		{
			"invalid retry-after falls through",
			httpInfo(503, map[string]string{
				"Retry-After":   "soon",
				"Cache-Control": "max-age=60",
			}),
			now.Add(time.Minute),
		},
		{
			"excessive backoff is clamped",
			httpInfo(503, map[string]string{"Retry-After": "31536000"}),
			now.Add(maxRetrievalBackoff),
		},
	}

	for _, tc := range cases {
		got := retrievalBackoff(tc.info, now)
		if !got.Equal(tc.expected) {
			t.Errorf("%s: expected %v, got: %v", tc.name, tc.expected, got)
		}
	}
}

func TestUpdateAfterFor(t *testing.T) {
	asof := time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)
	hourly := scheduleConfig{interval: time.Hour}

	cases := []struct {
		name     string
		sched    scheduleConfig
		info     *types.HTTPInfo
		expected time.Time
	}{
		{
			"no backoff keeps the schedule",
			hourly, nil,
			time.Date(2010, 1, 1, 1, 0, 0, 0, time.UTC),
		},
		{
			"backoff within the next slot keeps the schedule",
			hourly,
			httpInfo(429, map[string]string{"Retry-After": "600"}),
			time.Date(2010, 1, 1, 1, 0, 0, 0, time.UTC),
		},
		{
			// Retry-After of an hour and a second cannot be honored by the
			// one-hour slot, so the retry lands on the slot after it.
			"backoff past the next slot snaps to the following one",
			hourly,
			httpInfo(429, map[string]string{"Retry-After": "3601"}),
			time.Date(2010, 1, 1, 2, 0, 0, 0, time.UTC),
		},
		{
			"backoff exactly on a slot boundary keeps that slot",
			hourly,
			httpInfo(429, map[string]string{"Retry-After": "3600"}),
			time.Date(2010, 1, 1, 1, 0, 0, 0, time.UTC),
		},
		{
			"long backoff stays interval-aligned",
			scheduleConfig{interval: 8 * time.Hour},
			httpInfo(503, map[string]string{"Retry-After": "86400"}),
			time.Date(2010, 1, 2, 8, 0, 0, 0, time.UTC),
		},
	}

	for _, tc := range cases {
		got := updateAfterFor(asof, tc.sched, tc.info, 0)
		if !got.Equal(tc.expected) {
			t.Errorf("%s: expected %v, got: %v", tc.name, tc.expected, got)
		}
	}
}

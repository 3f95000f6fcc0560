package engine

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/mlevkov/feedcore/app/config"
	"github.com/mlevkov/feedcore/app/storage"
	"github.com/mlevkov/feedcore/app/types"
)

func TestNextUpdateAfter(t *testing.T) {
	cases := []struct {
		name     string
		now      time.Time
		interval time.Duration
		jitter   float64
		random   float64
		expected time.Time
	}{
		{
			"snaps to the next boundary",
			time.Date(2010, 1, 1, 0, 0, 10, 0, time.UTC),
			480 * time.Minute, 0, 0,
			time.Date(2010, 1, 1, 8, 0, 0, 0, time.UTC),
		},
		{
			"a boundary itself still advances",
			time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC),
			480 * time.Minute, 0, 0,
			time.Date(2010, 1, 1, 8, 0, 0, 0, time.UTC),
		},
		{
			"full jitter at half draw lands mid-interval",
			time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC),
			480 * time.Minute, 1, 0.5,
			time.Date(2010, 1, 1, 12, 0, 0, 0, time.UTC),
		},
		{
			"hourly",
			time.Date(2010, 1, 1, 5, 30, 0, 0, time.UTC),
			time.Hour, 0, 0,
			time.Date(2010, 1, 1, 6, 0, 0, 0, time.UTC),
		},
		{
			"zero interval falls back to the default",
			time.Date(2010, 1, 1, 5, 30, 0, 0, time.UTC),
			0, 0, 0,
			time.Date(2010, 1, 1, 6, 0, 0, 0, time.UTC),
		},
	}

	for _, tc := range cases {
		got := nextUpdateAfter(tc.now, tc.interval, tc.jitter, tc.random)
		if !got.Equal(tc.expected) {
			t.Errorf("%s: expected %v, got: %v", tc.name, tc.expected, got)
		}
	}
}

func TestValidIntervalAndJitter(t *testing.T) {
	if !validInterval(30) || validInterval(0) || validInterval(-5) ||
		validInterval(math.NaN()) || validInterval(math.Inf(1)) {
		t.Error("validInterval accepts positive finite minutes only")
	}
	if !validJitter(0) || !validJitter(0.5) || !validJitter(1) ||
		validJitter(-0.1) || validJitter(1.1) || validJitter(math.NaN()) {
		t.Error("validJitter accepts the [0, 1] range only")
	}
}

func TestApplyScheduleIgnoresInvalidValues(t *testing.T) {
	base := scheduleConfig{interval: time.Hour, jitter: 0.25}

	bad := -5.0
	worse := 2.0
	got := applySchedule(base, config.Schedule{Interval: &bad, Jitter: &worse})
	if got != base {
		t.Errorf("Expected invalid values to be ignored, got: %+v", got)
	}

	interval := 30.0
	got = applySchedule(base, config.Schedule{Interval: &interval})
	if got.interval != 30*time.Minute {
		t.Errorf("Expected interval 30m, got: %v", got.interval)
	}
	if got.jitter != 0.25 {
		t.Errorf("Expected jitter to be inherited, got: %f", got.jitter)
	}
}

func TestScheduleForLayering(t *testing.T) {
	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	defer store.Close()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, url := range []string{
		"http://plain.example.com",
		"http://overridden.example.com",
		"http://tagged.example.com",
	} {
		if err := store.AddFeed(url, now); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
	}

	globalInterval := 120.0
	feedInterval := 30.0
	defaults := &config.Defaults{
		Update: config.Schedule{Interval: &globalInterval},
		Feeds: map[string]config.Schedule{
			"http://overridden.example.com": {Interval: &feedInterval},
		},
	}

	e := New(store, Options{
		UpdateInterval: time.Hour,
		Jitter:         0.25,
		Defaults:       defaults,
	})

	// The defaults file's global layer beats the engine default.
	got := e.scheduleFor(&types.Feed{URL: "http://plain.example.com"})
	if got.interval != 120*time.Minute {
		t.Errorf("Expected the global defaults layer, got: %v", got.interval)
	}
	if got.jitter != 0.25 {
		t.Errorf("Expected the engine jitter, got: %f", got.jitter)
	}

	// The per-feed layer beats the global one.
	got = e.scheduleFor(&types.Feed{URL: "http://overridden.example.com"})
	if got.interval != 30*time.Minute {
		t.Errorf("Expected the per-feed layer, got: %v", got.interval)
	}

	// The feed's own tag beats everything.
	err = store.SetTag(types.FeedRef("http://tagged.example.com"), UpdateConfigTagKey,
		map[string]any{"interval": 15.0, "jitter": 0.5})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	got = e.scheduleFor(&types.Feed{URL: "http://tagged.example.com"})
	if got.interval != 15*time.Minute {
		t.Errorf("Expected the tag layer interval, got: %v", got.interval)
	}
	if got.jitter != 0.5 {
		t.Errorf("Expected the tag layer jitter, got: %f", got.jitter)
	}

	// A malformed tag value is ignored.
	err = store.SetTag(types.FeedRef("http://tagged.example.com"), UpdateConfigTagKey, "not a map")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	got = e.scheduleFor(&types.Feed{URL: "http://tagged.example.com"})
	if got.interval != 120*time.Minute {
		t.Errorf("Expected the malformed tag to be ignored, got: %v", got.interval)
	}
}

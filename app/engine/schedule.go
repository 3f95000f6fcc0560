package engine

import (
	"math"
	"time"

	"github.com/mlevkov/feedcore/app/config"
	"github.com/mlevkov/feedcore/app/types"
)

// UpdateConfigTagKey is the feed tag whose value overrides scheduling for
// that feed: a map with "interval" (minutes) and/or "jitter" keys.
const UpdateConfigTagKey = "update"

type scheduleConfig struct {
	interval time.Duration
	jitter   float64
}

// nextUpdateAfter computes the next allowed update time: it snaps to the
// next interval-aligned boundary counted from the Unix epoch, so
// co-scheduled feeds with the same interval coalesce into shared refresh
// windows, then adds jitter*interval*random with random drawn from [0, 1).
func nextUpdateAfter(now time.Time, interval time.Duration, jitter, random float64) time.Time {
	if interval <= 0 {
		interval = defaultUpdateInterval
	}
	iv := interval.Nanoseconds()
	n := now.UTC().UnixNano()/iv + 1
	next := time.Unix(0, n*iv).UTC()
	if jitter > 0 {
		next = next.Add(time.Duration(jitter * random * float64(iv)))
	}
	return next
}

func validInterval(minutes float64) bool {
	return !math.IsNaN(minutes) && !math.IsInf(minutes, 0) && minutes > 0
}

func validJitter(jitter float64) bool {
	return !math.IsNaN(jitter) && !math.IsInf(jitter, 0) && jitter >= 0 && jitter <= 1
}

func applySchedule(base scheduleConfig, layer config.Schedule) scheduleConfig {
	if layer.Interval != nil && validInterval(*layer.Interval) {
		base.interval = time.Duration(*layer.Interval * float64(time.Minute))
	}
	if layer.Jitter != nil && validJitter(*layer.Jitter) {
		base.jitter = *layer.Jitter
	}
	return base
}

// scheduleFor resolves the effective schedule of one feed: the engine's
// global default, the defaults file's global then per-feed layers, then the
// feed's own "update" tag. Invalid or out-of-range values are ignored,
// never raised.
func (e *Engine) scheduleFor(feed *types.Feed) scheduleConfig {
	cfg := scheduleConfig{interval: e.interval, jitter: e.jitter}
	if e.defaults != nil {
		cfg = applySchedule(cfg, e.defaults.Update)
	}
	cfg = applySchedule(cfg, e.defaults.FeedSchedule(feed.URL))

	value, err := e.store.GetTag(types.FeedRef(feed.URL), UpdateConfigTagKey)
	if err != nil {
		return cfg
	}
	m, ok := value.(map[string]any)
	if !ok {
		return cfg
	}
	var layer config.Schedule
	if v, ok := m["interval"].(float64); ok {
		layer.Interval = &v
	}
	if v, ok := m["jitter"].(float64); ok {
		layer.Jitter = &v
	}
	return applySchedule(cfg, layer)
}

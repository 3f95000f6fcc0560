package config

// Schedule holds update scheduling knobs: the refresh interval in minutes
// and the jitter fraction in [0, 1]. Nil fields inherit from the next layer
// down (per-feed over global over built-in).
type Schedule struct {
	Interval *float64 `yaml:"interval"`
	Jitter   *float64 `yaml:"jitter"`
}

// Defaults is the scheduling-defaults file: a global schedule plus per-feed
// overrides keyed by feed URL.
type Defaults struct {
	Update Schedule            `yaml:"update"`
	Feeds  map[string]Schedule `yaml:"feeds"`
}

// FeedSchedule returns the override layer for one feed URL; the zero
// Schedule inherits everything.
func (d *Defaults) FeedSchedule(url string) Schedule {
	if d == nil {
		return Schedule{}
	}
	return d.Feeds[url]
}

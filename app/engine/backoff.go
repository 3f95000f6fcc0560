package engine

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mlevkov/feedcore/app/types"
)

// maxRetrievalBackoff caps how far out HTTP caching metadata can push the
// next retrieval.
const maxRetrievalBackoff = 31 * 24 * time.Hour

// retrievalBackoff computes the earliest allowed retry derived from the
// response's protocol metadata, or the zero time when none applies.
// Priority: Retry-After on 4xx/5xx, else Cache-Control max-age, else
// Expires; relative values count from the response's own Date header when
// present, else from now. Invalid values are ignored.
func retrievalBackoff(info *types.HTTPInfo, now time.Time) time.Time {
	if info == nil {
		return time.Time{}
	}

	base := now
	if d := info.Header("Date"); d != "" {
		if t, err := http.ParseTime(d); err == nil {
			base = t
		}
	}

	if info.StatusCode >= 400 {
		if ra := info.Header("Retry-After"); ra != "" {
			if secs, err := strconv.ParseInt(strings.TrimSpace(ra), 10, 64); err == nil {
				if secs >= 0 {
					return clampBackoff(base.Add(time.Duration(secs)*time.Second), now)
				}
			} else if t, err := http.ParseTime(ra); err == nil {
				return clampBackoff(t, now)
			}
		}
	}

	if cc := info.Header("Cache-Control"); cc != "" {
		noCache := false
		maxAge := int64(-1)
		for _, directive := range strings.Split(cc, ",") {
			directive = strings.TrimSpace(strings.ToLower(directive))
			if directive == "no-cache" {
				noCache = true
			}
			if v, ok := strings.CutPrefix(directive, "max-age="); ok {
				if secs, err := strconv.ParseInt(v, 10, 64); err == nil && secs >= 0 {
					maxAge = secs
				}
			}
		}
		if !noCache && maxAge >= 0 {
			return clampBackoff(base.Add(time.Duration(maxAge)*time.Second), now)
		}
	}

	if exp := info.Header("Expires"); exp != "" {
		if t, err := http.ParseTime(exp); err == nil {
			return clampBackoff(t, now)
		}
	}

	return time.Time{}
}

func clampBackoff(t, now time.Time) time.Time {
	if limit := now.Add(maxRetrievalBackoff); t.After(limit) {
		return limit
	}
	return t
}

// updateAfterFor combines the interval schedule with the protocol backoff
// floor. The result always sits on an interval-aligned slot: when the backoff
// pushes past the next slot, the following slot after the floor is taken
// rather than the floor itself.
func updateAfterFor(asof time.Time, sched scheduleConfig, info *types.HTTPInfo, random float64) time.Time {
	next := nextUpdateAfter(asof, sched.interval, sched.jitter, random)
	if backoff := retrievalBackoff(info, asof); backoff.After(next) {
		next = nextUpdateAfter(backoff, sched.interval, sched.jitter, random)
	}
	return next
}

package engine

import (
	"time"

	"github.com/keywheel/keywheel/internal/core"
)

// MinuteWindow is the length of the per-minute accounting window. It is
// measured from the last reset, not aligned to wall-clock minutes.
const MinuteWindow = 60 * time.Second

type record struct {
	core.Credential

	// failed marks a credential deactivated by a failure report, as opposed
	// to one configured inactive.
	failed bool
}

// resetWindows lazily rolls both accounting windows. The day window rolls when
// the UTC calendar date changes; the minute window rolls once MinuteWindow has
// elapsed. Both checks run on every touch and are no-ops inside a window.
func (r *record) resetWindows(now time.Time) {
	if !sameUTCDay(r.LastDayReset, now) {
		r.TokensUsedToday = 0
		r.LastDayReset = now
	}

	if now.Sub(r.LastMinuteReset) >= MinuteWindow {
		r.MinuteRequests = 0
		r.MinuteTokens = 0
		r.LastMinuteReset = now
	}
}

func sameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// nextUTCMidnight returns the first instant of the UTC day after now.
func nextUTCMidnight(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}

package engine

import (
	"math"
	"time"

	"github.com/keywheel/keywheel/internal/core"
)

// Select picks the eligible credential with the lowest daily usage. Ties go to
// the credential listed first. When nothing is eligible it returns an
// *core.ExhaustedError carrying a best-effort retry estimate.
func (p *Pool) Select() (core.Selection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()

	var best *record
	for _, rec := range p.records {
		if !rec.Active {
			continue
		}
		rec.resetWindows(now)
		if !rec.Eligible() {
			continue
		}
		if best == nil || rec.TokensUsedToday < best.TokensUsedToday {
			best = rec
		}
	}

	if best == nil {
		return core.Selection{}, p.exhausted(now)
	}

	return core.Selection{
		Key:        best.Key,
		Name:       best.Name,
		Limits:     best.Remaining(),
		SelectedAt: now,
	}, nil
}

// exhausted estimates when capacity may return: the earliest of the next UTC
// midnight and any active credential's next minute rollover. Daily exhaustion
// is not considered, so the estimate can be early. Caller must hold mu.
func (p *Pool) exhausted(now time.Time) *core.ExhaustedError {
	next := nextUTCMidnight(now)
	for _, rec := range p.records {
		if !rec.Active {
			continue
		}
		minuteReset := rec.LastMinuteReset.Add(MinuteWindow)
		if minuteReset.Before(next) {
			next = minuteReset
		}
	}

	return &core.ExhaustedError{
		NextResetTime: next,
		RetryAfter:    int64(math.Ceil(next.Sub(now).Seconds())),
	}
}

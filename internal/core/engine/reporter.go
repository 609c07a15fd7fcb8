package engine

import (
	"math"

	"github.com/keywheel/keywheel/internal/core"
)

// Confirm records actual usage against a credential: one request plus the
// consumed tokens in both the minute and day windows. Counters may exceed
// their limits; the next selection pass filters the credential out. Counters
// saturate at math.MaxInt64 instead of wrapping.
func (p *Pool) Confirm(key string, tokens int64) (core.UsageStats, error) {
	if key == "" {
		return core.UsageStats{}, core.ErrKeyRequired
	}
	if tokens <= 0 {
		return core.UsageStats{}, core.ErrInvalidTokens
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	rec := p.lookup(key)
	if rec == nil {
		return core.UsageStats{}, core.ErrCredentialNotFound
	}

	rec.resetWindows(p.now())
	rec.MinuteRequests++
	rec.MinuteTokens = addTokens(rec.MinuteTokens, tokens)
	rec.TokensUsedToday = addTokens(rec.TokensUsedToday, tokens)

	return core.UsageStats{
		RequestsThisMinute: rec.MinuteRequests,
		TokensThisMinute:   rec.MinuteTokens,
		TokensToday:        rec.TokensUsedToday,
	}, nil
}

// ReportFailure forces a credential out of rotation for the scope of the
// failure. daily_limit pins daily usage at the cap until the UTC day rolls;
// rate_limit pins both minute counters until the minute window rolls; any
// other kind deactivates the credential with no automatic recovery.
func (p *Pool) ReportFailure(key string, kind core.FailureKind) (core.FailureResult, error) {
	if key == "" {
		return core.FailureResult{}, core.ErrKeyRequired
	}
	kind = core.ParseFailureKind(string(kind))

	p.mu.Lock()
	defer p.mu.Unlock()

	rec := p.lookup(key)
	if rec == nil {
		return core.FailureResult{}, core.ErrCredentialNotFound
	}

	result := core.FailureResult{Name: rec.Name, Kind: kind}
	switch kind {
	case core.FailureDailyLimit:
		rec.TokensUsedToday = rec.DailyTokenLimit
	case core.FailureRateLimit:
		rec.MinuteRequests = rec.RequestsPerMinute
		rec.MinuteTokens = rec.TokensPerMinute
	default:
		if rec.Active {
			rec.failed = true
		}
		rec.Active = false
		result.Deactivated = true
	}

	return result, nil
}

// Stats reports counters and limits for every credential, inactive ones
// included. Window resets are applied as a side effect.
func (p *Pool) Stats() []core.CredentialStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	stats := make([]core.CredentialStats, 0, len(p.records))
	for _, rec := range p.records {
		rec.resetWindows(now)
		stats = append(stats, core.CredentialStats{
			Name:               rec.Name,
			Active:             rec.Active,
			RequestsThisMinute: rec.MinuteRequests,
			TokensThisMinute:   rec.MinuteTokens,
			TokensToday:        rec.TokensUsedToday,
			DailyLimit:         rec.DailyTokenLimit,
		})
	}
	return stats
}

// addTokens adds a positive token count, saturating at math.MaxInt64.
func addTokens(counter, tokens int64) int64 {
	if counter > math.MaxInt64-tokens {
		return math.MaxInt64
	}
	return counter + tokens
}

package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/keywheel/keywheel/internal/core"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func testCredential(key string) core.Credential {
	return core.Credential{
		Key:               key,
		Name:              "cred-" + key,
		Active:            true,
		DailyTokenLimit:   1000,
		RequestsPerMinute: 10,
		TokensPerMinute:   500,
	}
}

func newTestPool(t *testing.T, start time.Time, creds ...core.Credential) (*Pool, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: start}
	return NewPool(creds, WithClock(clock.Now)), clock
}

func TestNewPoolStartsWithFreshWindows(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	cred := testCredential("a")
	cred.TokensUsedToday = 99
	cred.MinuteRequests = 3

	pool, _ := newTestPool(t, start, cred)
	snap := pool.Snapshot()
	require.Len(t, snap, 1)
	require.Zero(t, snap[0].TokensUsedToday)
	require.Zero(t, snap[0].MinuteRequests)
	require.Equal(t, start, snap[0].LastMinuteReset)
	require.Equal(t, start, snap[0].LastDayReset)
}

func TestResetWindowsIdempotentWithinWindow(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := &record{Credential: testCredential("a")}
	rec.LastMinuteReset = start
	rec.LastDayReset = start
	rec.MinuteRequests = 4
	rec.MinuteTokens = 40
	rec.TokensUsedToday = 400

	rec.resetWindows(start.Add(10 * time.Second))
	first := rec.Credential
	rec.resetWindows(start.Add(59 * time.Second))

	require.Equal(t, first, rec.Credential)
	require.Equal(t, int64(4), rec.MinuteRequests)
	require.Equal(t, int64(400), rec.TokensUsedToday)
}

func TestResetWindowsMinuteRollover(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := &record{Credential: testCredential("a")}
	rec.LastMinuteReset = start
	rec.LastDayReset = start
	rec.MinuteRequests = 4
	rec.MinuteTokens = 40
	rec.TokensUsedToday = 400

	rollover := start.Add(MinuteWindow)
	rec.resetWindows(rollover)
	require.Zero(t, rec.MinuteRequests)
	require.Zero(t, rec.MinuteTokens)
	require.Equal(t, rollover, rec.LastMinuteReset)
	require.Equal(t, int64(400), rec.TokensUsedToday, "minute rollover must not touch daily usage")

	rec.MinuteRequests = 2
	rec.resetWindows(rollover.Add(30 * time.Second))
	require.Equal(t, int64(2), rec.MinuteRequests, "second touch in the new window must not reset again")
}

func TestResetWindowsDayRolloverUsesCalendarDate(t *testing.T) {
	beforeMidnight := time.Date(2025, 3, 1, 23, 59, 59, 0, time.UTC)
	afterMidnight := time.Date(2025, 3, 2, 0, 0, 1, 0, time.UTC)

	rec := &record{Credential: testCredential("a")}
	rec.LastMinuteReset = beforeMidnight
	rec.LastDayReset = beforeMidnight
	rec.TokensUsedToday = 900

	rec.resetWindows(afterMidnight)
	require.Zero(t, rec.TokensUsedToday)
	require.Equal(t, afterMidnight, rec.LastDayReset)
}

func TestResetWindowsNoDayRolloverWithinSameDate(t *testing.T) {
	morning := time.Date(2025, 3, 1, 0, 0, 1, 0, time.UTC)
	night := time.Date(2025, 3, 1, 23, 59, 59, 0, time.UTC)

	rec := &record{Credential: testCredential("a")}
	rec.LastMinuteReset = morning
	rec.LastDayReset = morning
	rec.TokensUsedToday = 900

	rec.resetWindows(night)
	require.Equal(t, int64(900), rec.TokensUsedToday)
}

func TestSameUTCDayIgnoresLocalZone(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	a := time.Date(2025, 3, 2, 8, 0, 0, 0, tokyo) // 2025-03-01 23:00 UTC
	b := time.Date(2025, 3, 1, 22, 0, 0, 0, time.UTC)
	require.True(t, sameUTCDay(a, b))
}

func TestNextUTCMidnight(t *testing.T) {
	now := time.Date(2025, 12, 31, 18, 30, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), nextUTCMidnight(now))
}

func TestSummaryCountsActiveAndEligible(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	pool, _ := newTestPool(t, start, testCredential("a"), testCredential("b"), testCredential("c"))

	_, err := pool.ReportFailure("b", core.FailureOther)
	require.NoError(t, err)
	_, err = pool.ReportFailure("c", core.FailureRateLimit)
	require.NoError(t, err)

	require.Equal(t, core.PoolSummary{Total: 3, Active: 2, Eligible: 1}, pool.Summary())
}

func TestReactivateRestoresDeactivatedCredentials(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	pool, _ := newTestPool(t, start, testCredential("a"), testCredential("b"))

	_, err := pool.ReportFailure("a", core.FailureOther)
	require.NoError(t, err)

	require.Equal(t, []string{"cred-a"}, pool.Reactivate())
	require.Empty(t, pool.Reactivate())

	sel, err := pool.Select()
	require.NoError(t, err)
	require.Equal(t, "a", sel.Key)
}

func TestReactivateKeepsConfiguredInactive(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	disabled := testCredential("off")
	disabled.Active = false
	pool, _ := newTestPool(t, start, disabled, testCredential("on"))

	// a failure report on an already inactive credential does not mark it
	_, err := pool.ReportFailure("off", core.FailureOther)
	require.NoError(t, err)

	require.Empty(t, pool.Reactivate())
	require.Equal(t, 1, pool.Summary().Active)
}

func TestNameOf(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	pool, _ := newTestPool(t, start, testCredential("a"))

	name, ok := pool.NameOf("a")
	require.True(t, ok)
	require.Equal(t, "cred-a", name)

	_, ok = pool.NameOf("missing")
	require.False(t, ok)
}

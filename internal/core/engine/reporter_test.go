package engine

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/keywheel/keywheel/internal/core"
)

func TestConfirmIncrementsCounters(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	pool, _ := newTestPool(t, start, testCredential("a"))

	stats, err := pool.Confirm("a", 25)
	require.NoError(t, err)
	require.Equal(t, core.UsageStats{RequestsThisMinute: 1, TokensThisMinute: 25, TokensToday: 25}, stats)

	stats, err = pool.Confirm("a", 5)
	require.NoError(t, err)
	require.Equal(t, core.UsageStats{RequestsThisMinute: 2, TokensThisMinute: 30, TokensToday: 30}, stats)
}

func TestConfirmRejectsInvalidInputWithoutMutation(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	pool, _ := newTestPool(t, start, testCredential("a"))

	_, err := pool.Confirm("", 10)
	require.ErrorIs(t, err, core.ErrKeyRequired)

	_, err = pool.Confirm("a", 0)
	require.ErrorIs(t, err, core.ErrInvalidTokens)

	_, err = pool.Confirm("a", -3)
	require.ErrorIs(t, err, core.ErrInvalidTokens)

	_, err = pool.Confirm("missing", 3)
	require.ErrorIs(t, err, core.ErrCredentialNotFound)

	stats := pool.Stats()
	require.Zero(t, stats[0].RequestsThisMinute)
	require.Zero(t, stats[0].TokensThisMinute)
	require.Zero(t, stats[0].TokensToday)
}

func TestConfirmResetsExpiredMinuteWindowFirst(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	pool, clock := newTestPool(t, start, testCredential("a"))

	_, err := pool.Confirm("a", 100)
	require.NoError(t, err)

	clock.Advance(61 * time.Second)
	stats, err := pool.Confirm("a", 10)
	require.NoError(t, err)
	require.Equal(t, core.UsageStats{RequestsThisMinute: 1, TokensThisMinute: 10, TokensToday: 110}, stats)
}

func TestConfirmMayExceedLimit(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	cred := testCredential("a")
	cred.TokensPerMinute = 50
	pool, _ := newTestPool(t, start, cred)

	stats, err := pool.Confirm("a", 80)
	require.NoError(t, err)
	require.Equal(t, int64(80), stats.TokensThisMinute)
}

func TestConfirmSaturatesHugeTokenCounts(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	pool, _ := newTestPool(t, start, testCredential("a"), testCredential("b"))

	_, err := pool.Confirm("a", 10)
	require.NoError(t, err)

	stats, err := pool.Confirm("a", math.MaxInt64)
	require.NoError(t, err)
	require.Equal(t, int64(math.MaxInt64), stats.TokensThisMinute)
	require.Equal(t, int64(math.MaxInt64), stats.TokensToday)

	stats, err = pool.Confirm("a", 1)
	require.NoError(t, err)
	require.Equal(t, int64(math.MaxInt64), stats.TokensToday, "daily usage never decreases")

	selection, err := pool.Select()
	require.NoError(t, err)
	require.Equal(t, "b", selection.Key, "a is over every token limit")
}

func TestReportFailureDailyLimit(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	pool, clock := newTestPool(t, start, testCredential("a"))

	result, err := pool.ReportFailure("a", core.FailureDailyLimit)
	require.NoError(t, err)
	require.Equal(t, core.FailureResult{Name: "cred-a", Kind: core.FailureDailyLimit}, result)

	stats := pool.Stats()
	require.Equal(t, stats[0].DailyLimit, stats[0].TokensToday)
	require.True(t, stats[0].Active)

	clock.now = time.Date(2025, 3, 2, 0, 0, 5, 0, time.UTC)
	sel, err := pool.Select()
	require.NoError(t, err)
	require.Equal(t, "a", sel.Key)
}

func TestReportFailureRateLimitDefaultsWhenEmpty(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	pool, clock := newTestPool(t, start, testCredential("a"))

	result, err := pool.ReportFailure("a", "")
	require.NoError(t, err)
	require.Equal(t, core.FailureRateLimit, result.Kind)
	require.False(t, result.Deactivated)

	snap := pool.Snapshot()
	require.Equal(t, snap[0].RequestsPerMinute, snap[0].MinuteRequests)
	require.Equal(t, snap[0].TokensPerMinute, snap[0].MinuteTokens)

	_, err = pool.Select()
	require.Error(t, err)

	clock.Advance(MinuteWindow)
	_, err = pool.Select()
	require.NoError(t, err)
}

func TestReportFailureOtherDeactivatesPermanently(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	pool, clock := newTestPool(t, start, testCredential("a"), testCredential("b"))

	_, err := pool.Confirm("b", 500)
	require.NoError(t, err)

	for _, kind := range []core.FailureKind{core.FailureOther, "invalid_key"} {
		result, err := pool.ReportFailure("a", kind)
		require.NoError(t, err)
		require.Equal(t, core.FailureOther, result.Kind)
		require.True(t, result.Deactivated)
	}

	clock.now = time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		sel, err := pool.Select()
		require.NoError(t, err)
		require.Equal(t, "b", sel.Key)
	}

	stats := pool.Stats()
	require.False(t, stats[0].Active)
}

func TestReportFailureUnknownKey(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	pool, _ := newTestPool(t, start, testCredential("a"))

	_, err := pool.ReportFailure("nope", core.FailureRateLimit)
	require.ErrorIs(t, err, core.ErrCredentialNotFound)

	_, err = pool.ReportFailure("", core.FailureRateLimit)
	require.ErrorIs(t, err, core.ErrKeyRequired)
}

func TestStatsIncludesInactiveAndResetsWindows(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	pool, clock := newTestPool(t, start, testCredential("a"), testCredential("b"))

	_, err := pool.Confirm("a", 40)
	require.NoError(t, err)
	_, err = pool.ReportFailure("b", core.FailureOther)
	require.NoError(t, err)

	clock.Advance(90 * time.Second)
	stats := pool.Stats()
	require.Equal(t, []core.CredentialStats{
		{Name: "cred-a", Active: true, RequestsThisMinute: 0, TokensThisMinute: 0, TokensToday: 40, DailyLimit: 1000},
		{Name: "cred-b", Active: false, DailyLimit: 1000},
	}, stats)
}

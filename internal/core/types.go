package core

import "time"

// TimestampFormat renders times in responses: UTC with millisecond precision.
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// Credential is one upstream API credential and its live quota counters.
type Credential struct {
	Key    string `json:"-"`
	Name   string `json:"name"`
	Active bool   `json:"active"`

	DailyTokenLimit int64 `json:"daily_token_limit"`
	TokensUsedToday int64 `json:"tokens_used_today"`

	RequestsPerMinute int64 `json:"requests_per_minute"`
	TokensPerMinute   int64 `json:"tokens_per_minute"`

	MinuteRequests int64 `json:"minute_requests"`
	MinuteTokens   int64 `json:"minute_tokens"`

	LastMinuteReset time.Time `json:"last_minute_reset"`
	LastDayReset    time.Time `json:"last_day_reset"`
}

// Eligible reports whether the credential has headroom in all three quota
// dimensions. Reaching a limit exactly makes the credential ineligible.
func (c Credential) Eligible() bool {
	return c.MinuteRequests < c.RequestsPerMinute &&
		c.MinuteTokens < c.TokensPerMinute &&
		c.TokensUsedToday < c.DailyTokenLimit
}

// Remaining returns the capacity left in each quota dimension.
func (c Credential) Remaining() Remaining {
	return Remaining{
		RequestsRemaining:         c.RequestsPerMinute - c.MinuteRequests,
		TokensRemainingThisMinute: c.TokensPerMinute - c.MinuteTokens,
		TokensRemainingToday:      c.DailyTokenLimit - c.TokensUsedToday,
	}
}

// Remaining is the headroom reported alongside a selected credential.
type Remaining struct {
	RequestsRemaining         int64 `json:"requestsRemaining"`
	TokensRemainingThisMinute int64 `json:"tokensRemainingThisMinute"`
	TokensRemainingToday      int64 `json:"tokensRemainingToday"`
}

// Selection is the result of a successful pick.
type Selection struct {
	Key        string
	Name       string
	Limits     Remaining
	SelectedAt time.Time
}

// UsageStats are the counters returned after a confirmed usage.
type UsageStats struct {
	RequestsThisMinute int64 `json:"requestsThisMinute"`
	TokensThisMinute   int64 `json:"tokensThisMinute"`
	TokensToday        int64 `json:"tokensToday"`
}

// CredentialStats is the observability view of one credential.
type CredentialStats struct {
	Name               string `json:"name"`
	Active             bool   `json:"active"`
	RequestsThisMinute int64  `json:"requestsThisMinute"`
	TokensThisMinute   int64  `json:"tokensThisMinute"`
	TokensToday        int64  `json:"tokensToday"`
	DailyLimit         int64  `json:"dailyLimit"`
}

// PoolSummary counts credentials by state.
type PoolSummary struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Eligible int `json:"eligible"`
}

// FailureKind classifies a reported upstream failure.
type FailureKind string

const (
	FailureDailyLimit FailureKind = "daily_limit"
	FailureRateLimit  FailureKind = "rate_limit"
	FailureOther      FailureKind = "other"
)

// ParseFailureKind normalizes a caller-supplied error type. An empty value
// means rate_limit; anything unrecognized is treated as other.
func ParseFailureKind(value string) FailureKind {
	switch FailureKind(value) {
	case "", FailureRateLimit:
		return FailureRateLimit
	case FailureDailyLimit:
		return FailureDailyLimit
	default:
		return FailureOther
	}
}

// FailureResult describes how a failure report changed a credential.
type FailureResult struct {
	Name        string
	Kind        FailureKind
	Deactivated bool
}

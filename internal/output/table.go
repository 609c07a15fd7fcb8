package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/keywheel/keywheel/internal/core"
	"github.com/keywheel/keywheel/internal/core/store"
)

// PoolEntry is the printable view of a configured credential. Key is masked.
type PoolEntry struct {
	Name              string `json:"name"`
	Key               string `json:"key"`
	Active            bool   `json:"active"`
	DailyTokenLimit   int64  `json:"daily_token_limit"`
	RequestsPerMinute int64  `json:"requests_per_minute"`
	TokensPerMinute   int64  `json:"tokens_per_minute"`
}

// NewPoolEntries builds masked entries from pool credentials.
func NewPoolEntries(credentials []core.Credential) []PoolEntry {
	entries := make([]PoolEntry, 0, len(credentials))
	for _, c := range credentials {
		entries = append(entries, PoolEntry{
			Name:              c.Name,
			Key:               MaskKey(c.Key),
			Active:            c.Active,
			DailyTokenLimit:   c.DailyTokenLimit,
			RequestsPerMinute: c.RequestsPerMinute,
			TokensPerMinute:   c.TokensPerMinute,
		})
	}
	return entries
}

// MaskKey keeps the first and last four characters of keys longer than
// twelve characters and hides everything else.
func MaskKey(key string) string {
	const visible = 4
	if len(key) <= 3*visible {
		return strings.Repeat("*", len(key))
	}
	return key[:visible] + strings.Repeat("*", len(key)-2*visible) + key[len(key)-visible:]
}

// FormatPool renders the configured pool.
func FormatPool(format Format, entries []PoolEntry) (string, error) {
	return render(format, entries, func() table.Writer {
		t := newTable(table.Row{"Name", "Key", "Active", "Daily Tokens", "RPM", "TPM"})
		active := 0
		for _, e := range entries {
			if e.Active {
				active++
			}
			t.AppendRow(table.Row{
				e.Name,
				e.Key,
				yesNo(e.Active),
				formatCount(e.DailyTokenLimit),
				formatCount(e.RequestsPerMinute),
				formatCount(e.TokensPerMinute),
			})
		}
		t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d/%d active", active, len(entries)), "", "", ""})
		return t
	})
}

// FormatStats renders per-credential counters as reported by a running server.
func FormatStats(format Format, stats []core.CredentialStats) (string, error) {
	return render(format, stats, func() table.Writer {
		t := newTable(table.Row{"Name", "Active", "Req/min", "Tokens/min", "Tokens Today", "Daily Limit", "Used"})
		for _, s := range stats {
			t.AppendRow(table.Row{
				s.Name,
				yesNo(s.Active),
				formatCount(s.RequestsThisMinute),
				formatCount(s.TokensThisMinute),
				formatCount(s.TokensToday),
				formatCount(s.DailyLimit),
				percentUsed(s.TokensToday, s.DailyLimit),
			})
		}
		return t
	})
}

// FormatEvents renders journal events, newest first as supplied.
func FormatEvents(format Format, events []store.Event) (string, error) {
	return render(format, events, func() table.Writer {
		t := newTable(table.Row{"Time", "Credential", "Kind", "Tokens", "Failure", "Request ID"})
		for _, e := range events {
			tokens := ""
			if e.Tokens > 0 {
				tokens = formatCount(e.Tokens)
			}
			t.AppendRow(table.Row{
				e.CreatedAt.UTC().Format(time.RFC3339),
				e.Credential,
				string(e.Kind),
				tokens,
				e.FailureKind,
				e.RequestID,
			})
		}
		if len(events) == 0 {
			t.AppendRow(table.Row{"", "", "no events", "", "", ""})
		}
		return t
	})
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

var countPrinter = message.NewPrinter(language.English)

// formatCount groups digits in thousands: 1000000 -> 1,000,000.
func formatCount(value int64) string {
	return countPrinter.Sprintf("%d", value)
}

func percentUsed(used, limit int64) string {
	if limit <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", float64(used)*100/float64(limit))
}

package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keywheel/keywheel/internal/config"
	"github.com/keywheel/keywheel/internal/core"
	"github.com/keywheel/keywheel/internal/core/engine"
	"github.com/keywheel/keywheel/internal/core/store"
	errwrap "github.com/keywheel/keywheel/internal/errors"
	"github.com/keywheel/keywheel/internal/server/handlers"
)

func TestExitCodeFor(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name string
		err  error
		want foundry.ExitCode
	}{
		{"nil", nil, foundry.ExitFailure},
		{"config", errwrap.WrapConfigInvalid(ctx, fmt.Errorf("no pool"), "invalid configuration"), foundry.ExitConfigInvalid},
		{"unavailable", errwrap.NewServiceUnavailableError("down"), foundry.ExitExternalServiceUnavailable},
		{"missing file", fmt.Errorf("read pool file: %w", os.ErrNotExist), foundry.ExitFileNotFound},
		{"other", fmt.Errorf("boom"), foundry.ExitFailure},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExitCodeFor(tc.err))
		})
	}
}

func newStatsServer(t *testing.T) *httptest.Server {
	t.Helper()
	pool := engine.NewPool([]core.Credential{
		{Key: "k1", Name: "primary", Active: true, DailyTokenLimit: 1000, RequestsPerMinute: 5, TokensPerMinute: 500},
		{Key: "k2", Name: "backup", Active: true, DailyTokenLimit: 1000, RequestsPerMinute: 5, TokensPerMinute: 500},
	})
	_, err := pool.Confirm("k1", 120)
	require.NoError(t, err)

	srv := httptest.NewServer(handlers.NewKeyHandler(pool))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchStats(t *testing.T) {
	srv := newStatsServer(t)

	stats, err := fetchStats(context.Background(), srv.Client(), srv.URL+"/api/key")
	require.NoError(t, err)
	require.Len(t, stats.Stats, 2)
	assert.Equal(t, "primary", stats.Stats[0].Name)
	assert.Equal(t, int64(120), stats.Stats[0].TokensToday)
	assert.Equal(t, int64(1), stats.Stats[0].RequestsThisMinute)
}

func TestFetchStatsErrors(t *testing.T) {
	_, err := fetchStats(context.Background(), http.DefaultClient, "localhost:8080/api/key")
	require.Error(t, err)

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "stats", r.URL.Query().Get("action"))
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream gone"))
	}))
	defer failing.Close()

	_, err = fetchStats(context.Background(), failing.Client(), failing.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

type memoryJournal struct {
	events []store.Event
	err    error
}

func (m *memoryJournal) RecordEvent(ctx context.Context, event store.Event) error {
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, event)
	return nil
}

func TestPoolMembershipChanged(t *testing.T) {
	running := engine.NewPool([]core.Credential{
		{Key: "sk-a", Name: "a", Active: true, DailyTokenLimit: 10, RequestsPerMinute: 1, TokensPerMinute: 10},
		{Key: "sk-b", Name: "b", Active: true, DailyTokenLimit: 10, RequestsPerMinute: 1, TokensPerMinute: 10},
	}).Snapshot()

	cases := []struct {
		name       string
		configured []core.Credential
		want       bool
	}{
		{"same keys reordered", []core.Credential{{Key: "sk-b"}, {Key: "sk-a"}}, false},
		{"key swapped", []core.Credential{{Key: "sk-a"}, {Key: "sk-c"}}, true},
		{"key added", []core.Credential{{Key: "sk-a"}, {Key: "sk-b"}, {Key: "sk-c"}}, true},
		{"key removed", []core.Credential{{Key: "sk-a"}}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, poolMembershipChanged(running, tc.configured))
		})
	}
}

func TestReactivateCredentials(t *testing.T) {
	pool := engine.NewPool([]core.Credential{
		{Key: "k1", Name: "primary", Active: true, DailyTokenLimit: 1000, RequestsPerMinute: 5, TokensPerMinute: 500},
		{Key: "k2", Name: "disabled", Active: false, DailyTokenLimit: 1000, RequestsPerMinute: 5, TokensPerMinute: 500},
	})
	_, err := pool.ReportFailure("k1", core.FailureOther)
	require.NoError(t, err)
	require.Equal(t, 0, pool.Summary().Active)

	journal := &memoryJournal{}
	names := reactivateCredentials(context.Background(), pool, journal)

	assert.Equal(t, []string{"primary"}, names)
	assert.Equal(t, 1, pool.Summary().Active)
	require.Len(t, journal.events, 1)
	assert.Equal(t, store.EventReactivated, journal.events[0].Kind)
	assert.Equal(t, "primary", journal.events[0].Credential)

	assert.Empty(t, reactivateCredentials(context.Background(), pool, nil))
}

func TestReactivateCredentialsJournalFailure(t *testing.T) {
	pool := engine.NewPool([]core.Credential{
		{Key: "k1", Name: "primary", Active: true, DailyTokenLimit: 1000, RequestsPerMinute: 5, TokensPerMinute: 500},
	})
	_, err := pool.ReportFailure("k1", core.FailureOther)
	require.NoError(t, err)

	names := reactivateCredentials(context.Background(), pool, &memoryJournal{err: fmt.Errorf("disk full")})
	assert.Equal(t, []string{"primary"}, names)
	assert.Equal(t, 1, pool.Summary().Active)
}

func TestWritePruneResult(t *testing.T) {
	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	var box bytes.Buffer
	require.NoError(t, writePruneResult("table", &box, cutoff, 7, 0, true))
	assert.Contains(t, box.String(), "Would delete 7 event(s)")
	assert.Contains(t, box.String(), "2026-03-01T00:00:00Z")

	var payload bytes.Buffer
	require.NoError(t, writePruneResult("json", &payload, cutoff, 7, 5, false))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload.Bytes(), &decoded))
	assert.EqualValues(t, 5, decoded["deleted"])
	assert.Equal(t, false, decoded["dry_run"])
}

func TestOpenSink(t *testing.T) {
	stdout, err := openSink("-")
	require.NoError(t, err)
	assert.Equal(t, "-", stdout.path)
	require.NoError(t, stdout.close())

	path := filepath.Join(t.TempDir(), "nested", "pool.json")
	sink, err := openSink(path)
	require.NoError(t, err)
	_, err = sink.writer.Write([]byte("[]"))
	require.NoError(t, err)
	require.NoError(t, sink.close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestOpenJournalSQLite(t *testing.T) {
	ctx := context.Background()

	db, err := openJournal(ctx, configForSQLite(t))
	require.NoError(t, err)
	defer db.Close() // nolint:errcheck // best-effort cleanup

	require.NoError(t, journalHealthChecker{store: db}.CheckHealth(ctx))
	require.NoError(t, db.RecordEvent(ctx, store.Event{Credential: "primary", Kind: store.EventSelected}))

	count, err := db.CountEvents(ctx, store.EventQuery{})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func configForSQLite(t *testing.T) config.StoreConfig {
	t.Helper()
	return config.StoreConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "journal.db"),
	}
}

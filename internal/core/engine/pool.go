package engine

import (
	"sync"
	"time"

	"github.com/keywheel/keywheel/internal/core"
)

// Pool owns the credential set and all of its quota counters. A single mutex
// serializes every read-modify-write; selection holds no lease, so two callers
// may be handed the same credential before either confirms.
type Pool struct {
	mu      sync.Mutex
	records []*record
	clock   func() time.Time
}

// Option configures a Pool.
type Option func(*Pool)

// WithClock overrides the time source. Used by tests to drive window rollover.
func WithClock(clock func() time.Time) Option {
	return func(p *Pool) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// NewPool builds a pool from static credential definitions. Counters start at
// zero and both windows open at construction time. Pool order is preserved and
// breaks selection ties.
func NewPool(credentials []core.Credential, opts ...Option) *Pool {
	p := &Pool{
		clock: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}

	now := p.now()
	p.records = make([]*record, 0, len(credentials))
	for _, cred := range credentials {
		cred.TokensUsedToday = 0
		cred.MinuteRequests = 0
		cred.MinuteTokens = 0
		cred.LastMinuteReset = now
		cred.LastDayReset = now
		p.records = append(p.records, &record{Credential: cred})
	}
	return p
}

// Len returns the number of configured credentials.
func (p *Pool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.records)
}

// Snapshot returns copies of every credential after applying window resets.
func (p *Pool) Snapshot() []core.Credential {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	out := make([]core.Credential, 0, len(p.records))
	for _, rec := range p.records {
		rec.resetWindows(now)
		out = append(out, rec.Credential)
	}
	return out
}

// Summary counts total, active and currently eligible credentials.
func (p *Pool) Summary() core.PoolSummary {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	summary := core.PoolSummary{Total: len(p.records)}
	for _, rec := range p.records {
		if !rec.Active {
			continue
		}
		summary.Active++
		rec.resetWindows(now)
		if rec.Eligible() {
			summary.Eligible++
		}
	}
	return summary
}

// Reactivate re-enables credentials deactivated by failure reports and returns
// their names. Credentials configured inactive stay inactive. This is the only
// way back into rotation after a hard failure.
func (p *Pool) Reactivate() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var names []string
	for _, rec := range p.records {
		if !rec.failed {
			continue
		}
		rec.Active = true
		rec.failed = false
		names = append(names, rec.Name)
	}
	return names
}

// NameOf returns the display name for key.
func (p *Pool) NameOf(key string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if rec := p.lookup(key); rec != nil {
		return rec.Name, true
	}
	return "", false
}

// lookup finds a credential by key. Caller must hold mu.
func (p *Pool) lookup(key string) *record {
	for _, rec := range p.records {
		if rec.Key == key {
			return rec
		}
	}
	return nil
}

func (p *Pool) now() time.Time {
	return p.clock()
}

package keyrotor

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

const dayLayout = "2006-01-02"

// Pool rotates a list of API keys round-robin under a per-key daily request
// limit. It is safe for concurrent use.
//
// A Pool is process-local: construct one per provider at startup and share
// it by pointer. Counters are not coordinated across processes; each process
// keeps its own view of usage.
type Pool struct {
	mu         sync.Mutex
	name       string
	keys       []string
	known      map[string]struct{}
	usage      map[string]int
	cursor     int
	resetDay   string
	dailyLimit int

	now   func() time.Time
	loc   *time.Location
	meter Meter

	// Events raised under mu, emitted by unlock once mu is released.
	pendingReset  *ResetEvent
	pendingSelect *SelectEvent
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithName sets the pool name reported to the meter (default "gemini").
func WithName(name string) PoolOption {
	return func(p *Pool) { p.name = name }
}

// WithClock sets the time source used for the daily reset.
func WithClock(now func() time.Time) PoolOption {
	return func(p *Pool) { p.now = now }
}

// WithLocation sets the time zone whose midnight resets the counters (default UTC).
func WithLocation(loc *time.Location) PoolOption {
	return func(p *Pool) { p.loc = loc }
}

// WithPoolMeter sets the meter notified of selections and resets.
func WithPoolMeter(m Meter) PoolOption {
	return func(p *Pool) { p.meter = m }
}

// NewPool creates a pool over keys with the given per-key daily limit.
// Duplicate and blank keys are dropped; order is preserved.
func NewPool(keys []string, dailyLimit int, opts ...PoolOption) (*Pool, error) {
	if dailyLimit <= 0 {
		return nil, fmt.Errorf("keyrotor: daily limit must be positive, got %d", dailyLimit)
	}

	p := &Pool{
		name:       "gemini",
		usage:      make(map[string]int),
		dailyLimit: dailyLimit,
		now:        time.Now,
		loc:        time.UTC,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.now == nil {
		p.now = time.Now
	}
	if p.loc == nil {
		p.loc = time.UTC
	}
	if p.meter == nil {
		p.meter = noopMeter{}
	}

	p.setKeys(keys)
	p.resetDay = p.today()
	return p, nil
}

// Name returns the pool name.
func (p *Pool) Name() string { return p.name }

// DailyLimit returns the per-key daily request limit.
func (p *Pool) DailyLimit() int { return p.dailyLimit }

// Select returns the next key below the daily limit and counts one use
// against it. Scanning starts after the previously selected key and wraps
// around the list at most once. Returns ErrPoolExhausted when no key is usable.
func (p *Pool) Select() (string, error) {
	p.mu.Lock()
	defer p.unlock()

	p.checkReset()

	n := len(p.keys)
	if n == 0 {
		p.pendingSelect = &SelectEvent{Pool: p.name, Limit: p.dailyLimit}
		return "", fmt.Errorf("%w: no keys loaded", ErrPoolExhausted)
	}

	for i := 0; i < n; i++ {
		idx := (p.cursor + i) % n
		key := p.keys[idx]
		if p.usage[key] >= p.dailyLimit {
			continue
		}

		p.usage[key]++
		p.cursor = (idx + 1) % n

		p.pendingSelect = &SelectEvent{
			Pool:      p.name,
			Key:       MaskKey(key),
			Used:      p.usage[key],
			Limit:     p.dailyLimit,
			Available: p.availableLocked(),
			OK:        true,
		}
		return key, nil
	}

	p.pendingSelect = &SelectEvent{Pool: p.name, Limit: p.dailyLimit}
	return "", ErrPoolExhausted
}

// MarkExhausted forces key into the exhausted state for the rest of the day,
// regardless of its local count. The provider's own limit wins over the local
// estimate. The cursor is not moved. Returns false if key is not in the pool.
func (p *Pool) MarkExhausted(key string) bool {
	p.mu.Lock()
	defer p.unlock()

	p.checkReset()

	if _, ok := p.known[key]; !ok {
		return false
	}
	if p.usage[key] < p.dailyLimit {
		p.usage[key] = p.dailyLimit
	}
	return true
}

// Reload replaces the key list. Usage of keys seen earlier today is kept, so
// a reload never brings an exhausted key back before the daily reset.
// Returns the number of keys now in the pool.
func (p *Pool) Reload(keys []string) int {
	p.mu.Lock()
	defer p.unlock()

	p.checkReset()
	p.setKeys(keys)

	if len(p.keys) == 0 {
		p.cursor = 0
	} else {
		p.cursor %= len(p.keys)
	}
	return len(p.keys)
}

// Usage returns the number of requests counted against key today.
func (p *Pool) Usage(key string) int {
	p.mu.Lock()
	defer p.unlock()

	p.checkReset()
	return p.usage[key]
}

// Len returns the number of keys in the pool.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

// Available returns the number of keys still below the daily limit.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.unlock()

	p.checkReset()
	return p.availableLocked()
}

// Day returns the calendar day the counters belong to.
func (p *Pool) Day() string {
	p.mu.Lock()
	defer p.unlock()

	p.checkReset()
	return p.resetDay
}

// KeyStats is a masked view of one key's usage.
type KeyStats struct {
	Key         string `json:"key"`
	Fingerprint string `json:"fingerprint"`
	Used        int    `json:"used"`
	Remaining   int    `json:"remaining"`
	Exhausted   bool   `json:"exhausted"`
}

// Stats returns per-key usage in rotation order.
func (p *Pool) Stats() []KeyStats {
	p.mu.Lock()
	defer p.unlock()

	p.checkReset()

	stats := make([]KeyStats, 0, len(p.keys))
	for _, k := range p.keys {
		used := p.usage[k]
		remaining := p.dailyLimit - used
		if remaining < 0 {
			remaining = 0
		}
		stats = append(stats, KeyStats{
			Key:         MaskKey(k),
			Fingerprint: Fingerprint(k),
			Used:        used,
			Remaining:   remaining,
			Exhausted:   used >= p.dailyLimit,
		})
	}
	return stats
}

// Snapshot returns today's non-zero counters keyed by fingerprint.
func (p *Pool) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.unlock()

	p.checkReset()

	usage := make(map[string]int, len(p.usage))
	for k, n := range p.usage {
		if n > 0 {
			usage[Fingerprint(k)] = n
		}
	}
	return Snapshot{Pool: p.name, Day: p.resetDay, Usage: usage}
}

// Restore raises counters to the values in s. Snapshots from another day
// are ignored and counters are never lowered. Returns the number of keys updated.
func (p *Pool) Restore(s Snapshot) int {
	p.mu.Lock()
	defer p.unlock()

	p.checkReset()

	if s.Day != p.resetDay || len(s.Usage) == 0 {
		return 0
	}

	byFingerprint := make(map[string]string, len(p.keys))
	for _, k := range p.keys {
		byFingerprint[Fingerprint(k)] = k
	}

	restored := 0
	for fp, n := range s.Usage {
		key, ok := byFingerprint[fp]
		if !ok {
			continue
		}
		if n > p.dailyLimit {
			n = p.dailyLimit
		}
		if n > p.usage[key] {
			p.usage[key] = n
			restored++
		}
	}
	return restored
}

// checkReset clears all counters if the calendar day has changed.
// Must be called with lock held; the reset event is emitted by unlock.
func (p *Pool) checkReset() {
	today := p.today()
	if today == p.resetDay {
		return
	}

	cleared := len(p.usage)
	p.usage = make(map[string]int)
	p.resetDay = today

	p.pendingReset = &ResetEvent{Pool: p.name, Day: today, Cleared: cleared}
}

// unlock releases mu, then hands pending events to the meter so a slow
// meter never holds up other callers.
func (p *Pool) unlock() {
	reset, sel := p.pendingReset, p.pendingSelect
	p.pendingReset, p.pendingSelect = nil, nil
	p.mu.Unlock()

	if reset != nil {
		p.meter.OnReset(*reset)
	}
	if sel != nil {
		p.meter.OnSelect(*sel)
	}
}

func (p *Pool) today() string {
	return p.now().In(p.loc).Format(dayLayout)
}

// availableLocked must be called with lock held.
func (p *Pool) availableLocked() int {
	n := 0
	for _, k := range p.keys {
		if p.usage[k] < p.dailyLimit {
			n++
		}
	}
	return n
}

// setKeys must be called with lock held (or before the pool is shared).
func (p *Pool) setKeys(keys []string) {
	p.keys = dedupeKeys(keys)
	p.known = make(map[string]struct{}, len(p.keys))
	for _, k := range p.keys {
		p.known[k] = struct{}{}
	}
}

func dedupeKeys(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

package cache

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrBackendUnavailable is returned while a breaker is open.
var ErrBackendUnavailable = errors.New("cache backend unavailable")

// Defaults for NewBreaker.
const (
	DefaultBreakerFailures = 5
	DefaultBreakerCooldown = 30 * time.Second
)

// BreakerState is the state of a breaker store.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateHalfOpen
	StateOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateHalfOpen:
		return "HALF_OPEN"
	case StateOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

// BreakerStore stops calling a failing backend. After maxFailures consecutive
// errors it opens and fails fast with ErrBackendUnavailable for cooldown,
// then lets a single probe through. A successful probe closes it again.
type BreakerStore struct {
	Store
	cfg         config
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool
}

var _ Store = (*BreakerStore)(nil)

// NewBreaker wraps store with a circuit breaker. Non-positive arguments
// select the defaults.
func NewBreaker(store Store, maxFailures int, cooldown time.Duration, opts ...Option) *BreakerStore {
	if maxFailures <= 0 {
		maxFailures = DefaultBreakerFailures
	}
	if cooldown <= 0 {
		cooldown = DefaultBreakerCooldown
	}
	return &BreakerStore{
		Store:       store,
		cfg:         applyOptions(opts),
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         time.Now,
	}
}

// State returns the current breaker state.
func (b *BreakerStore) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *BreakerStore) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return ErrBackendUnavailable
		}
		b.state = StateHalfOpen
		b.probing = true
		return nil
	case StateHalfOpen:
		if b.probing {
			return ErrBackendUnavailable
		}
		b.probing = true
	}
	return nil
}

func (b *BreakerStore) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
	// a cancelled caller says nothing about the backend
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, ErrCacheCorrupt)) {
		if b.state == StateHalfOpen {
			b.state = StateOpen
		}
		return
	}
	if err == nil {
		if b.state != StateClosed {
			b.cfg.logger.Info("cache backend recovered")
		}
		b.state = StateClosed
		b.failures = 0
		return
	}
	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.maxFailures {
		if b.state != StateOpen {
			b.cfg.logger.Warn("cache backend failing, bypassing for %s: %s", b.cooldown, err)
		}
		b.state = StateOpen
		b.openedAt = b.now()
	}
}

func (b *BreakerStore) Get(ctx context.Context, key Key) (Record, bool, error) {
	if err := b.before(); err != nil {
		return Record{}, false, err
	}
	rec, found, err := b.Store.Get(ctx, key)
	b.after(err)
	return rec, found, err
}

func (b *BreakerStore) Put(ctx context.Context, record Record) error {
	if err := b.before(); err != nil {
		return err
	}
	err := b.Store.Put(ctx, record)
	b.after(err)
	return err
}

func (b *BreakerStore) EvictStale(ctx context.Context, keep func(Record) bool) (int, error) {
	if err := b.before(); err != nil {
		return 0, err
	}
	n, err := b.Store.EvictStale(ctx, keep)
	b.after(err)
	return n, err
}

func (b *BreakerStore) Len(ctx context.Context) (int, error) {
	if err := b.before(); err != nil {
		return 0, err
	}
	n, err := b.Store.Len(ctx)
	b.after(err)
	return n, err
}

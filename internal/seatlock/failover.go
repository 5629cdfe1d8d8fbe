package seatlock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/atakanes/seatlock/internal/domain"
	"github.com/atakanes/seatlock/internal/events"
)

const probeTimeout = 2 * time.Second

// FailoverConfig tunes the health prober. Zero values fall back to defaults.
type FailoverConfig struct {
	// ProbeInterval is how often the primary backend is pinged.
	ProbeInterval time.Duration
	// RecoveryStreak is how many consecutive successful probes are required
	// before traffic returns to the primary.
	RecoveryStreak int
	// RecoveryInterval is the minimum spacing between recoveries. A primary
	// that flaps faster than this stays degraded until it holds steady.
	RecoveryInterval time.Duration
}

func (c FailoverConfig) withDefaults() FailoverConfig {
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 5 * time.Second
	}
	if c.RecoveryStreak <= 0 {
		c.RecoveryStreak = 2
	}
	if c.RecoveryInterval <= 0 {
		c.RecoveryInterval = 30 * time.Second
	}

	return c
}

// FailoverStore serves every Store operation from the primary backend and
// swaps to the in-process fallback when the primary starts failing. Swapping
// happens both on a failed probe and inline when an operation hits an
// infrastructure error, so a dead primary costs each request at most one
// failed round trip.
//
// Recovery discards fallback state instead of merging it back: clients are
// told to refetch via a stateRefresh event per touched showtime.
type FailoverStore struct {
	primary  Store
	fallback *MemoryStore
	sink     events.Sink
	logger   *slog.Logger
	cfg      FailoverConfig

	healthy      atomic.Bool
	okStreak     atomic.Int32
	recoveryGate *rate.Limiter

	// swapMu orders recovery after in-flight operations: every operation
	// holds the read side for its whole run, recovery takes the write side
	// to flip back and discard fallback state. No fallback write can land
	// after the recovery reset has dropped it.
	swapMu sync.RWMutex
}

func NewFailoverStore(primary Store, fallback *MemoryStore, sink events.Sink, logger *slog.Logger, cfg FailoverConfig) *FailoverStore {
	cfg = cfg.withDefaults()

	f := &FailoverStore{
		primary:      primary,
		fallback:     fallback,
		sink:         sink,
		logger:       logger,
		cfg:          cfg,
		recoveryGate: rate.NewLimiter(rate.Every(cfg.RecoveryInterval), 1),
	}
	f.healthy.Store(true)

	return f
}

// Healthy reports whether operations are currently served by the primary.
func (f *FailoverStore) Healthy() bool {
	return f.healthy.Load()
}

// Start runs the health prober until ctx is cancelled.
func (f *FailoverStore) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(f.cfg.ProbeInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				f.probe(ctx)
			}
		}
	}()
}

func (f *FailoverStore) probe(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	err := f.primary.Ping(ctx)

	if f.healthy.Load() {
		if err != nil {
			f.markDown(err)
		}
		return
	}

	if err != nil {
		f.okStreak.Store(0)
		return
	}

	if f.okStreak.Add(1) < int32(f.cfg.RecoveryStreak) {
		return
	}
	if !f.recoveryGate.Allow() {
		f.logger.Warn("primary store steady but recovery deferred by flap damping")
		return
	}

	f.recover(ctx)
}

func (f *FailoverStore) markDown(err error) {
	if !f.healthy.CompareAndSwap(true, false) {
		return
	}
	f.okStreak.Store(0)
	f.logger.Error("primary seat lock store down, degraded mode on", "error", err)
}

// recover flips traffic back to the primary and drops all fallback state,
// holding the swap gate so every in-flight fallback write lands before the
// reset, then announces a refresh for every showtime that state covered.
func (f *FailoverStore) recover(ctx context.Context) {
	f.swapMu.Lock()
	f.healthy.Store(true)
	f.okStreak.Store(0)

	showtimes := f.fallback.ActiveShowtimes()
	f.fallback.Reset()
	f.swapMu.Unlock()

	for _, showtimeID := range showtimes {
		if err := f.sink.Publish(ctx, domain.NewStateRefreshEvent(showtimeID)); err != nil {
			f.logger.Error("state refresh publish failed", "showtime_id", showtimeID, "error", err)
		}
	}

	f.logger.Info("primary seat lock store recovered", "refreshed_showtimes", len(showtimes))
}

// isDomainErr reports whether err is a business outcome rather than an
// infrastructure failure. Business outcomes must never trigger failover.
func isDomainErr(err error) bool {
	var conflict *domain.SeatConflictError

	return errors.Is(err, domain.ErrNotOwner) ||
		errors.Is(err, domain.ErrRecordNotFound) ||
		errors.Is(err, domain.ErrAlreadyBooked) ||
		errors.As(err, &conflict)
}

// do runs op against the active backend, demoting the primary and retrying
// on the fallback when op fails with an infrastructure error.
//
// A dead request context is the caller's failure, not the primary's: it
// never demotes, and the departed caller is not handed a fallback hold
// either. Only failures with the request still live count against the
// primary's health.
func (f *FailoverStore) do(ctx context.Context, op func(Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.swapMu.RLock()
	defer f.swapMu.RUnlock()

	if f.healthy.Load() {
		err := op(f.primary)
		if err == nil || isDomainErr(err) || ctx.Err() != nil {
			return err
		}
		f.markDown(err)
	}

	return op(f.fallback)
}

func (f *FailoverStore) Claim(ctx context.Context, p ClaimParams) (ClaimResult, error) {
	var res ClaimResult
	err := f.do(ctx, func(s Store) error {
		var opErr error
		res, opErr = s.Claim(ctx, p)
		return opErr
	})

	return res, err
}

func (f *FailoverStore) Release(ctx context.Context, showtimeID int64, seat domain.SeatID, holderID string, admin bool) (bool, error) {
	var removed bool
	err := f.do(ctx, func(s Store) error {
		var opErr error
		removed, opErr = s.Release(ctx, showtimeID, seat, holderID, admin)
		return opErr
	})

	return removed, err
}

func (f *FailoverStore) Promote(ctx context.Context, showtimeID int64, seat domain.SeatID, holderID string) error {
	return f.do(ctx, func(s Store) error {
		return s.Promote(ctx, showtimeID, seat, holderID)
	})
}

func (f *FailoverStore) RemoveBooked(ctx context.Context, showtimeID int64, seat domain.SeatID, holderID string) error {
	return f.do(ctx, func(s Store) error {
		return s.RemoveBooked(ctx, showtimeID, seat, holderID)
	})
}

func (f *FailoverStore) ExtendHold(ctx context.Context, showtimeID int64, seat domain.SeatID, holderID string, ttl time.Duration) error {
	return f.do(ctx, func(s Store) error {
		return s.ExtendHold(ctx, showtimeID, seat, holderID, ttl)
	})
}

func (f *FailoverStore) Snapshot(ctx context.Context, showtimeID int64) (map[domain.SeatID]domain.HoldStatus, error) {
	var snap map[domain.SeatID]domain.HoldStatus
	err := f.do(ctx, func(s Store) error {
		var opErr error
		snap, opErr = s.Snapshot(ctx, showtimeID)
		return opErr
	})

	return snap, err
}

func (f *FailoverStore) HolderRecords(ctx context.Context, holderID string) ([]domain.RecordRef, error) {
	var refs []domain.RecordRef
	err := f.do(ctx, func(s Store) error {
		var opErr error
		refs, opErr = s.HolderRecords(ctx, holderID)
		return opErr
	})

	return refs, err
}

func (f *FailoverStore) Seed(ctx context.Context, showtimeID int64, records []SeedRecord) (int, error) {
	var seeded int
	err := f.do(ctx, func(s Store) error {
		var opErr error
		seeded, opErr = s.Seed(ctx, showtimeID, records)
		return opErr
	})

	return seeded, err
}

// Ping reports readiness of the active backend. In degraded mode it fails
// with ErrStoreUnavailable so health endpoints can surface the condition
// while traffic keeps flowing through the fallback.
func (f *FailoverStore) Ping(ctx context.Context) error {
	if f.healthy.Load() {
		return f.primary.Ping(ctx)
	}

	return fmt.Errorf("degraded mode: %w", domain.ErrStoreUnavailable)
}

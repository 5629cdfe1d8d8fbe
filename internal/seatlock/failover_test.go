package seatlock

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/atakanes/seatlock/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStore wraps a MemoryStore so tests can yank the "network" out from
// under the failover layer at will.
type flakyStore struct {
	*MemoryStore
	down atomic.Bool

	// beforeReply, when set, runs before each simulated reply so a test
	// can cancel a request context mid-operation.
	beforeReply func()
}

func newFlakyStore() *flakyStore {
	return &flakyStore{MemoryStore: NewMemoryStore()}
}

// err fails the way a real backend client does: a dead connection surfaces
// first, otherwise the caller's own context error comes back.
func (s *flakyStore) err(ctx context.Context) error {
	if s.beforeReply != nil {
		s.beforeReply()
	}
	if s.down.Load() {
		return errors.New("connection refused")
	}

	return ctx.Err()
}

func (s *flakyStore) Claim(ctx context.Context, p ClaimParams) (ClaimResult, error) {
	if err := s.err(ctx); err != nil {
		return 0, err
	}
	return s.MemoryStore.Claim(ctx, p)
}

func (s *flakyStore) Release(ctx context.Context, showtimeID int64, seat domain.SeatID, holderID string, admin bool) (bool, error) {
	if err := s.err(ctx); err != nil {
		return false, err
	}
	return s.MemoryStore.Release(ctx, showtimeID, seat, holderID, admin)
}

func (s *flakyStore) Promote(ctx context.Context, showtimeID int64, seat domain.SeatID, holderID string) error {
	if err := s.err(ctx); err != nil {
		return err
	}
	return s.MemoryStore.Promote(ctx, showtimeID, seat, holderID)
}

func (s *flakyStore) RemoveBooked(ctx context.Context, showtimeID int64, seat domain.SeatID, holderID string) error {
	if err := s.err(ctx); err != nil {
		return err
	}
	return s.MemoryStore.RemoveBooked(ctx, showtimeID, seat, holderID)
}

func (s *flakyStore) ExtendHold(ctx context.Context, showtimeID int64, seat domain.SeatID, holderID string, ttl time.Duration) error {
	if err := s.err(ctx); err != nil {
		return err
	}
	return s.MemoryStore.ExtendHold(ctx, showtimeID, seat, holderID, ttl)
}

func (s *flakyStore) Snapshot(ctx context.Context, showtimeID int64) (map[domain.SeatID]domain.HoldStatus, error) {
	if err := s.err(ctx); err != nil {
		return nil, err
	}
	return s.MemoryStore.Snapshot(ctx, showtimeID)
}

func (s *flakyStore) HolderRecords(ctx context.Context, holderID string) ([]domain.RecordRef, error) {
	if err := s.err(ctx); err != nil {
		return nil, err
	}
	return s.MemoryStore.HolderRecords(ctx, holderID)
}

func (s *flakyStore) Seed(ctx context.Context, showtimeID int64, records []SeedRecord) (int, error) {
	if err := s.err(ctx); err != nil {
		return 0, err
	}
	return s.MemoryStore.Seed(ctx, showtimeID, records)
}

func (s *flakyStore) Ping(ctx context.Context) error {
	return s.err(ctx)
}

type captureSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *captureSink) Publish(_ context.Context, event domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)

	return nil
}

func (s *captureSink) byType(t domain.EventType) []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Event
	for _, event := range s.events {
		if event.Type == t {
			out = append(out, event)
		}
	}

	return out
}

func newFailoverFixture(cfg FailoverConfig) (*FailoverStore, *flakyStore, *captureSink) {
	primary := newFlakyStore()
	sink := &captureSink{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	failover := NewFailoverStore(primary, NewMemoryStore(), sink, logger, cfg)

	return failover, primary, sink
}

func claimOn(t *testing.T, store Store, showtimeID int64, seat, holderID string) {
	t.Helper()

	_, err := store.Claim(context.Background(), ClaimParams{
		ShowtimeID: showtimeID,
		Seat:       seatID(t, seat),
		HolderID:   holderID,
		TTL:        5 * time.Minute,
	})
	require.NoError(t, err)
}

func TestFailoverServesPrimaryWhileHealthy(t *testing.T) {
	failover, primary, _ := newFailoverFixture(FailoverConfig{})

	claimOn(t, failover, 1, "A1", "alice")

	assert.True(t, failover.Healthy())

	snap, err := primary.MemoryStore.Snapshot(context.Background(), 1)
	require.NoError(t, err)
	assert.Contains(t, snap, seatID(t, "A1"))
}

func TestFailoverSwitchesToFallbackOnInfraError(t *testing.T) {
	failover, primary, _ := newFailoverFixture(FailoverConfig{})
	primary.down.Store(true)

	// The claim that hits the dead primary is retried on the fallback, so the
	// caller never sees the outage.
	claimOn(t, failover, 1, "A1", "alice")

	assert.False(t, failover.Healthy())

	snap, err := failover.Snapshot(context.Background(), 1)
	require.NoError(t, err)
	assert.Contains(t, snap, seatID(t, "A1"))

	// Even with the primary back, traffic stays on the fallback until the
	// prober confirms recovery.
	primary.down.Store(false)
	claimOn(t, failover, 1, "A2", "alice")

	primarySnap, err := primary.MemoryStore.Snapshot(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, primarySnap)
}

func TestFailoverIgnoresDomainErrors(t *testing.T) {
	failover, _, _ := newFailoverFixture(FailoverConfig{})

	claimOn(t, failover, 1, "A1", "alice")

	t.Run("seat conflict", func(t *testing.T) {
		_, err := failover.Claim(context.Background(), ClaimParams{
			ShowtimeID: 1,
			Seat:       seatID(t, "A1"),
			HolderID:   "bob",
			TTL:        5 * time.Minute,
		})

		var conflict *domain.SeatConflictError
		require.ErrorAs(t, err, &conflict)
		assert.True(t, failover.Healthy())
	})

	t.Run("not owner", func(t *testing.T) {
		_, err := failover.Release(context.Background(), 1, seatID(t, "A1"), "bob", false)

		require.ErrorIs(t, err, domain.ErrNotOwner)
		assert.True(t, failover.Healthy())
	})

	t.Run("record not found", func(t *testing.T) {
		err := failover.ExtendHold(context.Background(), 1, seatID(t, "Z9"), "alice", time.Minute)

		require.ErrorIs(t, err, domain.ErrRecordNotFound)
		assert.True(t, failover.Healthy())
	})
}

func TestFailoverIgnoresCallerCancellation(t *testing.T) {
	failover, primary, _ := newFailoverFixture(FailoverConfig{})

	dead, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := failover.Claim(dead, ClaimParams{
		ShowtimeID: 1,
		Seat:       seatID(t, "A1"),
		HolderID:   "alice",
		TTL:        5 * time.Minute,
	})

	// The departed caller gets its context error back; the primary is not
	// demoted and no fallback hold is written for a dead session.
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, failover.Healthy())
	assert.Empty(t, failover.fallback.ActiveShowtimes())

	claimOn(t, failover, 1, "A1", "bob")
	snap, err := primary.MemoryStore.Snapshot(context.Background(), 1)
	require.NoError(t, err)
	assert.Contains(t, snap, seatID(t, "A1"))

	// Same rule in degraded mode: cancellation is not an outage and still
	// earns no fallback hold.
	primary.down.Store(true)
	claimOn(t, failover, 2, "B1", "carol")
	require.False(t, failover.Healthy())

	_, err = failover.Claim(dead, ClaimParams{
		ShowtimeID: 2,
		Seat:       seatID(t, "B2"),
		HolderID:   "dave",
		TTL:        5 * time.Minute,
	})
	require.ErrorIs(t, err, context.Canceled)

	snap, err = failover.fallback.Snapshot(context.Background(), 2)
	require.NoError(t, err)
	assert.NotContains(t, snap, seatID(t, "B2"))
}

func TestFailoverKeepsPrimaryWhenRequestDiesMidFlight(t *testing.T) {
	failover, primary, _ := newFailoverFixture(FailoverConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	primary.beforeReply = cancel

	// The request context dies while the claim is on the wire. The primary
	// echoes the cancellation, which says nothing about its health.
	_, err := failover.Claim(ctx, ClaimParams{
		ShowtimeID: 1,
		Seat:       seatID(t, "A1"),
		HolderID:   "alice",
		TTL:        5 * time.Minute,
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, failover.Healthy())
	assert.Empty(t, failover.fallback.ActiveShowtimes())
}

func TestFailoverRecoveryPublishesStateRefresh(t *testing.T) {
	failover, primary, sink := newFailoverFixture(FailoverConfig{
		RecoveryStreak:   2,
		RecoveryInterval: time.Millisecond,
	})
	ctx := context.Background()

	primary.down.Store(true)
	claimOn(t, failover, 1, "A1", "alice")
	claimOn(t, failover, 2, "B1", "bob")
	require.False(t, failover.Healthy())

	primary.down.Store(false)

	// One clean probe is not enough to recover.
	failover.probe(ctx)
	assert.False(t, failover.Healthy())
	assert.Empty(t, sink.byType(domain.EventStateRefresh))

	failover.probe(ctx)
	assert.True(t, failover.Healthy())

	refreshes := sink.byType(domain.EventStateRefresh)
	var showtimes []int64
	for _, event := range refreshes {
		showtimes = append(showtimes, event.ShowtimeID)
	}
	assert.ElementsMatch(t, []int64{1, 2}, showtimes)

	// Fallback state is discarded, not merged back.
	assert.Empty(t, failover.fallback.ActiveShowtimes())

	snap, err := failover.Snapshot(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, snap)
}

func TestFailoverRecoveryDrainsFallbackWrites(t *testing.T) {
	failover, primary, _ := newFailoverFixture(FailoverConfig{
		RecoveryStreak:   1,
		RecoveryInterval: time.Nanosecond,
	})
	ctx := context.Background()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; ; j++ {
				select {
				case <-stop:
					return
				default:
				}
				_, _ = failover.Claim(ctx, ClaimParams{
					ShowtimeID: int64(worker + 1),
					Seat:       domain.SeatID{Row: "A", Col: j%90 + 1},
					HolderID:   "holder",
					TTL:        time.Minute,
				})
			}
		}(i)
	}

	for i := 0; i < 10; i++ {
		primary.down.Store(true)
		claimOn(t, failover, 99, "Z9", "canary")
		require.False(t, failover.Healthy())

		primary.down.Store(false)
		failover.probe(ctx)
		require.True(t, failover.Healthy())

		// Nothing may land in the fallback once recovery has dropped its
		// state: writes in flight at recovery time are waited out, later
		// ones go back to the primary.
		assert.Empty(t, failover.fallback.ActiveShowtimes())
	}

	close(stop)
	wg.Wait()
}

func TestFailoverFlapDampingDefersSecondRecovery(t *testing.T) {
	failover, primary, _ := newFailoverFixture(FailoverConfig{
		RecoveryStreak:   1,
		RecoveryInterval: time.Hour,
	})
	ctx := context.Background()

	primary.down.Store(true)
	claimOn(t, failover, 1, "A1", "alice")
	primary.down.Store(false)

	failover.probe(ctx)
	require.True(t, failover.Healthy())

	// Flap: the primary drops and comes straight back. The recovery gate has
	// no tokens left, so the store stays degraded.
	primary.down.Store(true)
	claimOn(t, failover, 1, "A2", "alice")
	primary.down.Store(false)

	failover.probe(ctx)
	failover.probe(ctx)
	assert.False(t, failover.Healthy())
}

func TestFailoverPingReportsDegradedMode(t *testing.T) {
	failover, primary, _ := newFailoverFixture(FailoverConfig{})

	require.NoError(t, failover.Ping(context.Background()))

	primary.down.Store(true)
	claimOn(t, failover, 1, "A1", "alice")

	err := failover.Ping(context.Background())
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestFailoverProbeMarksPrimaryDown(t *testing.T) {
	failover, primary, _ := newFailoverFixture(FailoverConfig{})

	primary.down.Store(true)
	failover.probe(context.Background())

	assert.False(t, failover.Healthy())
}

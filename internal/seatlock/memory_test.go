package seatlock

import (
	"context"
	"testing"
	"time"

	"github.com/atakanes/seatlock/internal/domain"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/suite"
)

type MemoryStoreTestSuite struct {
	suite.Suite
	store *MemoryStore
	now   time.Time
	ctx   context.Context
}

func TestMemoryStoreTestSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreTestSuite))
}

func (s *MemoryStoreTestSuite) SetupTest() {
	s.store = NewMemoryStore()
	s.now = time.Date(2025, 3, 14, 18, 0, 0, 0, time.UTC)
	s.store.now = func() time.Time { return s.now }
	s.ctx = context.Background()
}

func (s *MemoryStoreTestSuite) advance(d time.Duration) {
	s.now = s.now.Add(d)
}

func (s *MemoryStoreTestSuite) claim(showtimeID int64, seat, holderID string) ClaimResult {
	result, err := s.store.Claim(s.ctx, ClaimParams{
		ShowtimeID:   showtimeID,
		Seat:         seatID(s.T(), seat),
		HolderID:     holderID,
		ConnectionID: "conn-" + holderID,
		TTL:          5 * time.Minute,
	})
	s.Require().NoError(err)

	return result
}

func seatID(t *testing.T, raw string) domain.SeatID {
	t.Helper()

	id, err := domain.ParseSeatID(raw)
	if err != nil {
		t.Fatalf("bad seat id %q: %v", raw, err)
	}

	return id
}

func (s *MemoryStoreTestSuite) TestClaim() {
	s.Run("should acquire a free seat", func() {
		s.Equal(ClaimAcquired, s.claim(1, "A1", "alice"))
	})

	s.Run("should refresh holder's own selecting claim", func() {
		s.claim(1, "A2", "alice")
		s.Equal(ClaimRefreshed, s.claim(1, "A2", "alice"))
	})

	s.Run("should reject a seat held by someone else", func() {
		s.claim(1, "A3", "alice")

		_, err := s.store.Claim(s.ctx, ClaimParams{
			ShowtimeID: 1,
			Seat:       seatID(s.T(), "A3"),
			HolderID:   "bob",
			TTL:        5 * time.Minute,
		})

		var conflict *domain.SeatConflictError
		s.Require().ErrorAs(err, &conflict)
		s.Equal("alice", conflict.OwnerID)
		s.Equal(seatID(s.T(), "A3"), conflict.SeatID)
	})

	s.Run("should report an already booked seat without touching it", func() {
		s.claim(1, "A4", "alice")
		s.Require().NoError(s.store.Promote(s.ctx, 1, seatID(s.T(), "A4"), "alice"))

		s.Equal(ClaimAlreadyHeld, s.claim(1, "A4", "alice"))
	})
}

func (s *MemoryStoreTestSuite) TestClaimTakesOverExpiredSeat() {
	s.claim(1, "A1", "alice")
	s.advance(6 * time.Minute)

	s.Equal(ClaimAcquired, s.claim(1, "A1", "bob"))

	refs, err := s.store.HolderRecords(s.ctx, "alice")
	s.Require().NoError(err)
	s.Empty(refs)
}

func (s *MemoryStoreTestSuite) TestRefreshResetsExpiry() {
	s.claim(1, "A1", "alice")
	s.advance(4 * time.Minute)
	s.Equal(ClaimRefreshed, s.claim(1, "A1", "alice"))

	// 4 minutes into the original TTL plus another 4 would have expired the
	// first claim; the refresh restarted the clock.
	s.advance(4 * time.Minute)

	snap, err := s.store.Snapshot(s.ctx, 1)
	s.Require().NoError(err)
	s.Contains(snap, seatID(s.T(), "A1"))
}

func (s *MemoryStoreTestSuite) TestRelease() {
	s.Run("should release holder's own claim", func() {
		s.claim(1, "B1", "alice")

		removed, err := s.store.Release(s.ctx, 1, seatID(s.T(), "B1"), "alice", false)
		s.NoError(err)
		s.True(removed)

		snap, err := s.store.Snapshot(s.ctx, 1)
		s.Require().NoError(err)
		s.NotContains(snap, seatID(s.T(), "B1"))
	})

	s.Run("should report absent records without removing anything", func() {
		removed, err := s.store.Release(s.ctx, 1, seatID(s.T(), "B2"), "alice", false)

		s.NoError(err)
		s.False(removed)
	})

	s.Run("should refuse to release someone else's claim", func() {
		s.claim(1, "B3", "alice")

		removed, err := s.store.Release(s.ctx, 1, seatID(s.T(), "B3"), "bob", false)

		s.ErrorIs(err, domain.ErrNotOwner)
		s.False(removed)
	})

	s.Run("should let an admin release regardless of owner", func() {
		s.claim(1, "B4", "alice")

		removed, err := s.store.Release(s.ctx, 1, seatID(s.T(), "B4"), "", true)
		s.NoError(err)
		s.True(removed)
	})

	s.Run("should never release a booked seat", func() {
		s.claim(1, "B5", "alice")
		s.Require().NoError(s.store.Promote(s.ctx, 1, seatID(s.T(), "B5"), "alice"))

		removed, err := s.store.Release(s.ctx, 1, seatID(s.T(), "B5"), "alice", false)

		s.ErrorIs(err, domain.ErrAlreadyBooked)
		s.False(removed)
	})
}

func (s *MemoryStoreTestSuite) TestPromote() {
	s.Run("should mark the seat booked and stop the expiry clock", func() {
		s.claim(1, "C1", "alice")

		s.Require().NoError(s.store.Promote(s.ctx, 1, seatID(s.T(), "C1"), "alice"))
		s.advance(24 * time.Hour)

		snap, err := s.store.Snapshot(s.ctx, 1)
		s.Require().NoError(err)
		s.Equal(domain.StatusBooked, snap[seatID(s.T(), "C1")])
	})

	s.Run("should fail for an absent record", func() {
		err := s.store.Promote(s.ctx, 1, seatID(s.T(), "C2"), "alice")

		s.ErrorIs(err, domain.ErrRecordNotFound)
	})

	s.Run("should fail for a record owned by someone else", func() {
		s.claim(1, "C3", "alice")

		err := s.store.Promote(s.ctx, 1, seatID(s.T(), "C3"), "bob")

		s.ErrorIs(err, domain.ErrNotOwner)
	})

	s.Run("should fail once the claim has expired", func() {
		s.claim(1, "C4", "alice")
		s.advance(6 * time.Minute)

		err := s.store.Promote(s.ctx, 1, seatID(s.T(), "C4"), "alice")

		s.ErrorIs(err, domain.ErrRecordNotFound)
	})
}

func (s *MemoryStoreTestSuite) TestRemoveBooked() {
	s.Run("should remove a booked record", func() {
		s.claim(1, "D1", "alice")
		s.Require().NoError(s.store.Promote(s.ctx, 1, seatID(s.T(), "D1"), "alice"))

		s.NoError(s.store.RemoveBooked(s.ctx, 1, seatID(s.T(), "D1"), "alice"))

		snap, err := s.store.Snapshot(s.ctx, 1)
		s.Require().NoError(err)
		s.NotContains(snap, seatID(s.T(), "D1"))
	})

	s.Run("should not remove a record that is still selecting", func() {
		s.claim(1, "D2", "alice")

		err := s.store.RemoveBooked(s.ctx, 1, seatID(s.T(), "D2"), "alice")

		s.ErrorIs(err, domain.ErrRecordNotFound)
	})

	s.Run("should refuse a different holder", func() {
		s.claim(1, "D3", "alice")
		s.Require().NoError(s.store.Promote(s.ctx, 1, seatID(s.T(), "D3"), "alice"))

		err := s.store.RemoveBooked(s.ctx, 1, seatID(s.T(), "D3"), "bob")

		s.ErrorIs(err, domain.ErrNotOwner)
	})
}

func (s *MemoryStoreTestSuite) TestExtendHold() {
	s.Run("should push the expiry out", func() {
		s.claim(1, "E1", "alice")
		s.advance(4 * time.Minute)

		s.Require().NoError(s.store.ExtendHold(s.ctx, 1, seatID(s.T(), "E1"), "alice", 10*time.Minute))
		s.advance(9 * time.Minute)

		snap, err := s.store.Snapshot(s.ctx, 1)
		s.Require().NoError(err)
		s.Contains(snap, seatID(s.T(), "E1"))
	})

	s.Run("should fail for an absent record", func() {
		err := s.store.ExtendHold(s.ctx, 1, seatID(s.T(), "E2"), "alice", time.Minute)

		s.ErrorIs(err, domain.ErrRecordNotFound)
	})

	s.Run("should fail for a booked record", func() {
		s.claim(1, "E3", "alice")
		s.Require().NoError(s.store.Promote(s.ctx, 1, seatID(s.T(), "E3"), "alice"))

		err := s.store.ExtendHold(s.ctx, 1, seatID(s.T(), "E3"), "alice", time.Minute)

		s.ErrorIs(err, domain.ErrAlreadyBooked)
	})
}

func (s *MemoryStoreTestSuite) TestSnapshotSkipsExpiredRecords() {
	s.claim(1, "A1", "alice")
	s.claim(1, "A2", "bob")
	s.Require().NoError(s.store.Promote(s.ctx, 1, seatID(s.T(), "A2"), "bob"))

	s.advance(6 * time.Minute)

	snap, err := s.store.Snapshot(s.ctx, 1)
	s.Require().NoError(err)

	want := map[domain.SeatID]domain.HoldStatus{
		seatID(s.T(), "A2"): domain.StatusBooked,
	}
	if diff := cmp.Diff(want, snap); diff != "" {
		s.T().Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func (s *MemoryStoreTestSuite) TestHolderRecordsSpanShowtimes() {
	s.claim(1, "A1", "alice")
	s.claim(2, "F9", "alice")
	s.claim(1, "A2", "bob")
	s.Require().NoError(s.store.Promote(s.ctx, 2, seatID(s.T(), "F9"), "alice"))

	refs, err := s.store.HolderRecords(s.ctx, "alice")
	s.Require().NoError(err)

	s.Len(refs, 2)
	byShowtime := make(map[int64]domain.RecordRef, len(refs))
	for _, ref := range refs {
		byShowtime[ref.ShowtimeID] = ref
	}
	s.Equal(domain.StatusSelecting, byShowtime[1].Status)
	s.Equal(domain.StatusBooked, byShowtime[2].Status)
}

func (s *MemoryStoreTestSuite) TestSeed() {
	s.Run("should write only absent records", func() {
		s.claim(1, "A1", "alice")

		seeded, err := s.store.Seed(s.ctx, 1, []SeedRecord{
			{Seat: seatID(s.T(), "A1"), HolderID: domain.SystemHolderID, Status: domain.StatusBooked},
			{Seat: seatID(s.T(), "A2"), HolderID: domain.SystemHolderID, Status: domain.StatusBooked},
			{Seat: seatID(s.T(), "A3"), HolderID: domain.SystemHolderID, Status: domain.StatusPending},
		})
		s.Require().NoError(err)
		s.Equal(2, seeded)

		snap, err := s.store.Snapshot(s.ctx, 1)
		s.Require().NoError(err)
		s.Equal(domain.StatusSelecting, snap[seatID(s.T(), "A1")])
		s.Equal(domain.StatusBooked, snap[seatID(s.T(), "A2")])
		s.Equal(domain.StatusPending, snap[seatID(s.T(), "A3")])
	})

	s.Run("should write records that never expire", func() {
		_, err := s.store.Seed(s.ctx, 2, []SeedRecord{
			{Seat: seatID(s.T(), "B1"), HolderID: domain.SystemHolderID, Status: domain.StatusBooked},
		})
		s.Require().NoError(err)

		s.advance(48 * time.Hour)

		snap, err := s.store.Snapshot(s.ctx, 2)
		s.Require().NoError(err)
		s.Contains(snap, seatID(s.T(), "B1"))
	})

	s.Run("should refuse the whole batch when a record would never expire in Selecting", func() {
		seeded, err := s.store.Seed(s.ctx, 3, []SeedRecord{
			{Seat: seatID(s.T(), "C1"), HolderID: domain.SystemHolderID, Status: domain.StatusBooked},
			{Seat: seatID(s.T(), "C2"), HolderID: "alice", Status: domain.StatusSelecting},
		})

		s.ErrorContains(err, "not seedable")
		s.Zero(seeded)

		// The valid record must not have been written either.
		snap, err := s.store.Snapshot(s.ctx, 3)
		s.Require().NoError(err)
		s.Empty(snap)
	})
}

func (s *MemoryStoreTestSuite) TestActiveShowtimesAndReset() {
	s.claim(1, "A1", "alice")
	s.claim(2, "A1", "bob")
	s.claim(3, "A1", "carol")

	// Let showtime 3's only record expire; it should drop off the list.
	s.advance(6 * time.Minute)
	s.claim(1, "A2", "alice")
	s.claim(2, "A2", "bob")

	ids := s.store.ActiveShowtimes()
	s.ElementsMatch([]int64{1, 2}, ids)

	s.store.Reset()

	s.Empty(s.store.ActiveShowtimes())
	snap, err := s.store.Snapshot(s.ctx, 1)
	s.Require().NoError(err)
	s.Empty(snap)
}

func (s *MemoryStoreTestSuite) TestSweepDropsExpiredRecords() {
	s.claim(1, "A1", "alice")
	s.claim(1, "A2", "bob")
	s.Require().NoError(s.store.Promote(s.ctx, 1, seatID(s.T(), "A2"), "bob"))

	s.advance(6 * time.Minute)
	s.store.sweep()

	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	s.Len(s.store.seats[1], 1)
	s.NotContains(s.store.holders, "alice")
}

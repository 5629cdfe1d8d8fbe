package seatlock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/atakanes/seatlock/internal/domain"
)

type recordKey struct {
	showtimeID int64
	seat       domain.SeatID
}

type memoryRecord struct {
	holderID     string
	connectionID string
	status       domain.HoldStatus
	createdAt    time.Time
	expiresAt    time.Time // zero for statuses that never expire
}

// MemoryStore is the in-process SeatLockStore backend used while Redis is
// unreachable. One mutex guards both maps; contention is acceptable because
// the store only ever serves a single process in degraded mode.
type MemoryStore struct {
	mu      sync.RWMutex
	seats   map[int64]map[domain.SeatID]*memoryRecord
	holders map[string]map[recordKey]struct{}
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		seats:   make(map[int64]map[domain.SeatID]*memoryRecord),
		holders: make(map[string]map[recordKey]struct{}),
		now:     time.Now,
	}
}

// StartJanitor sweeps expired records every interval until ctx is cancelled.
// Records are also pruned lazily on read, so the janitor only bounds how long
// abandoned holds linger in memory.
func (s *MemoryStore) StartJanitor(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for showtimeID, bucket := range s.seats {
		for seat, rec := range bucket {
			if rec.expired(now) {
				s.dropLocked(showtimeID, seat, rec)
			}
		}
	}
}

func (r *memoryRecord) expired(now time.Time) bool {
	return !r.expiresAt.IsZero() && !r.expiresAt.After(now)
}

// getLocked returns the live record for a seat, pruning it first if expired.
func (s *MemoryStore) getLocked(showtimeID int64, seat domain.SeatID) *memoryRecord {
	rec, ok := s.seats[showtimeID][seat]
	if !ok {
		return nil
	}
	if rec.expired(s.now()) {
		s.dropLocked(showtimeID, seat, rec)
		return nil
	}

	return rec
}

func (s *MemoryStore) dropLocked(showtimeID int64, seat domain.SeatID, rec *memoryRecord) {
	bucket := s.seats[showtimeID]
	delete(bucket, seat)
	if len(bucket) == 0 {
		delete(s.seats, showtimeID)
	}

	held := s.holders[rec.holderID]
	delete(held, recordKey{showtimeID: showtimeID, seat: seat})
	if len(held) == 0 {
		delete(s.holders, rec.holderID)
	}
}

func (s *MemoryStore) putLocked(showtimeID int64, seat domain.SeatID, rec *memoryRecord) {
	bucket, ok := s.seats[showtimeID]
	if !ok {
		bucket = make(map[domain.SeatID]*memoryRecord)
		s.seats[showtimeID] = bucket
	}
	bucket[seat] = rec

	held, ok := s.holders[rec.holderID]
	if !ok {
		held = make(map[recordKey]struct{})
		s.holders[rec.holderID] = held
	}
	held[recordKey{showtimeID: showtimeID, seat: seat}] = struct{}{}
}

func (s *MemoryStore) Claim(_ context.Context, p ClaimParams) (ClaimResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	rec := s.getLocked(p.ShowtimeID, p.Seat)
	if rec == nil {
		s.putLocked(p.ShowtimeID, p.Seat, &memoryRecord{
			holderID:     p.HolderID,
			connectionID: p.ConnectionID,
			status:       domain.StatusSelecting,
			createdAt:    now,
			expiresAt:    now.Add(p.TTL),
		})

		return ClaimAcquired, nil
	}

	if rec.holderID != p.HolderID {
		return 0, &domain.SeatConflictError{SeatID: p.Seat, OwnerID: rec.holderID}
	}
	if rec.status != domain.StatusSelecting {
		return ClaimAlreadyHeld, nil
	}

	rec.connectionID = p.ConnectionID
	rec.expiresAt = now.Add(p.TTL)

	return ClaimRefreshed, nil
}

func (s *MemoryStore) Release(_ context.Context, showtimeID int64, seat domain.SeatID, holderID string, admin bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.getLocked(showtimeID, seat)
	if rec == nil {
		return false, nil
	}
	if rec.status != domain.StatusSelecting {
		return false, domain.ErrAlreadyBooked
	}
	if rec.holderID != holderID && !admin {
		return false, domain.ErrNotOwner
	}

	s.dropLocked(showtimeID, seat, rec)

	return true, nil
}

func (s *MemoryStore) Promote(_ context.Context, showtimeID int64, seat domain.SeatID, holderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.getLocked(showtimeID, seat)
	if rec == nil {
		return domain.ErrRecordNotFound
	}
	if rec.holderID != holderID {
		return domain.ErrNotOwner
	}

	rec.status = domain.StatusBooked
	rec.expiresAt = time.Time{}

	return nil
}

func (s *MemoryStore) RemoveBooked(_ context.Context, showtimeID int64, seat domain.SeatID, holderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.getLocked(showtimeID, seat)
	if rec == nil || rec.status == domain.StatusSelecting {
		return domain.ErrRecordNotFound
	}
	if rec.holderID != holderID {
		return domain.ErrNotOwner
	}

	s.dropLocked(showtimeID, seat, rec)

	return nil
}

func (s *MemoryStore) ExtendHold(_ context.Context, showtimeID int64, seat domain.SeatID, holderID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.getLocked(showtimeID, seat)
	if rec == nil {
		return domain.ErrRecordNotFound
	}
	if rec.holderID != holderID {
		return domain.ErrNotOwner
	}
	if rec.status != domain.StatusSelecting {
		return domain.ErrAlreadyBooked
	}

	rec.expiresAt = s.now().Add(ttl)

	return nil
}

func (s *MemoryStore) Snapshot(_ context.Context, showtimeID int64) (map[domain.SeatID]domain.HoldStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	snap := make(map[domain.SeatID]domain.HoldStatus, len(s.seats[showtimeID]))
	for seat, rec := range s.seats[showtimeID] {
		if rec.expired(now) {
			s.dropLocked(showtimeID, seat, rec)
			continue
		}
		snap[seat] = rec.status
	}

	return snap, nil
}

func (s *MemoryStore) HolderRecords(_ context.Context, holderID string) ([]domain.RecordRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	refs := make([]domain.RecordRef, 0, len(s.holders[holderID]))
	for key := range s.holders[holderID] {
		rec := s.getLocked(key.showtimeID, key.seat)
		if rec == nil {
			continue
		}
		refs = append(refs, domain.RecordRef{
			ShowtimeID: key.showtimeID,
			SeatID:     key.seat,
			Status:     rec.status,
		})
	}

	return refs, nil
}

func (s *MemoryStore) Seed(_ context.Context, showtimeID int64, records []SeedRecord) (int, error) {
	for _, sr := range records {
		if !sr.Status.Seedable() {
			return 0, fmt.Errorf("memory seed %s: status %q is not seedable", sr.Seat, sr.Status)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	seeded := 0

	for _, sr := range records {
		if s.getLocked(showtimeID, sr.Seat) != nil {
			continue
		}
		s.putLocked(showtimeID, sr.Seat, &memoryRecord{
			holderID:  sr.HolderID,
			status:    sr.Status,
			createdAt: now,
		})
		seeded++
	}

	return seeded, nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// Reset drops every record. Called when leaving degraded mode; fallback state
// is discarded rather than merged back into Redis.
func (s *MemoryStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seats = make(map[int64]map[domain.SeatID]*memoryRecord)
	s.holders = make(map[string]map[recordKey]struct{})
}

// ActiveShowtimes lists showtimes with at least one live record, so that
// recovery can announce which boards need a refresh.
func (s *MemoryStore) ActiveShowtimes() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	ids := make([]int64, 0, len(s.seats))
	for showtimeID, bucket := range s.seats {
		for seat, rec := range bucket {
			if rec.expired(now) {
				s.dropLocked(showtimeID, seat, rec)
			}
		}
		if len(bucket) > 0 {
			ids = append(ids, showtimeID)
		}
	}

	return ids
}

// Package seatlock holds per-seat reservation records with TTL and atomic
// claim-if-free semantics. Two interchangeable backends implement the same
// contract: a Redis-backed store shared across processes and an in-process
// fallback used while Redis is unreachable. FailoverStore selects between
// them and is what the rest of the system talks to.
package seatlock

import (
	"context"
	"time"

	"github.com/atakanes/seatlock/internal/domain"
)

// ClaimResult distinguishes the ways a claim can succeed.
type ClaimResult int

const (
	// ClaimAcquired means a fresh Selecting record was written.
	ClaimAcquired ClaimResult = iota
	// ClaimRefreshed means the holder already had a Selecting record on
	// the seat; its TTL and connection were refreshed.
	ClaimRefreshed
	// ClaimAlreadyHeld means the holder owns the seat in a non-expiring
	// state already; nothing was changed.
	ClaimAlreadyHeld
)

type ClaimParams struct {
	ShowtimeID   int64
	Seat         domain.SeatID
	HolderID     string
	ConnectionID string
	TTL          time.Duration
}

// SeedRecord is a claim-if-absent write used by reconciliation. Seeded
// records never carry a TTL, so Status must be Seedable; stores refuse
// whole batches that carry an expiring status.
type SeedRecord struct {
	Seat     domain.SeatID
	HolderID string
	Status   domain.HoldStatus
}

// Store is the per-seat reservation record store. Every method is atomic
// with respect to a single seat key: two concurrent Claim calls for the
// same seat never both acquire it.
//
// Failure vocabulary: Claim loses with *domain.SeatConflictError; Release,
// Promote, RemoveBooked and ExtendHold use domain.ErrNotOwner,
// domain.ErrRecordNotFound and domain.ErrAlreadyBooked. Anything else is an
// infrastructure failure.
type Store interface {
	Claim(ctx context.Context, p ClaimParams) (ClaimResult, error)

	// Release removes a Selecting record and reports whether one existed.
	// Absent records release cleanly with false, so compensation and
	// retried deselects stay idempotent without announcing a release that
	// never happened. admin skips the ownership check.
	Release(ctx context.Context, showtimeID int64, seat domain.SeatID, holderID string, admin bool) (bool, error)

	// Promote transitions Selecting (or reconciled Pending) to Booked and
	// clears the expiry. Promoting an already-Booked record is a no-op.
	Promote(ctx context.Context, showtimeID int64, seat domain.SeatID, holderID string) error

	// RemoveBooked deletes a Booked or Pending record on booking
	// cancellation.
	RemoveBooked(ctx context.Context, showtimeID int64, seat domain.SeatID, holderID string) error

	// ExtendHold refreshes a Selecting record's TTL without changing status.
	ExtendHold(ctx context.Context, showtimeID int64, seat domain.SeatID, holderID string, ttl time.Duration) error

	// Snapshot returns the live status of every held seat for a showtime.
	Snapshot(ctx context.Context, showtimeID int64) (map[domain.SeatID]domain.HoldStatus, error)

	// HolderRecords lists the holder's active records across showtimes.
	HolderRecords(ctx context.Context, holderID string) ([]domain.RecordRef, error)

	// Seed writes records that do not exist yet and reports how many it
	// wrote. Existing records are never overwritten.
	Seed(ctx context.Context, showtimeID int64, records []SeedRecord) (int, error)

	Ping(ctx context.Context) error
}

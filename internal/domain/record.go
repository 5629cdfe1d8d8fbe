package domain

import (
	"context"
	"time"
)

// HoldStatus is the closed set of states a reservation record moves through.
// Selecting holds expire by TTL, Pending mirrors an in-flight payment owned
// by the booking system, Booked never expires on its own.
type HoldStatus string

const (
	StatusSelecting HoldStatus = "selecting"
	StatusPending   HoldStatus = "pending"
	StatusBooked    HoldStatus = "booked"
)

func (s HoldStatus) Valid() bool {
	switch s {
	case StatusSelecting, StatusPending, StatusBooked:
		return true
	}

	return false
}

// Expirable reports whether a record in this status carries a TTL.
// Only Selecting records do; Pending and Booked survive until released.
func (s HoldStatus) Expirable() bool {
	return s == StatusSelecting
}

// Seedable reports whether reconciliation may write a record in this status.
// Seeded records never expire, so a seeded Selecting record would hold its
// seat forever; only the non-expiring statuses qualify.
func (s HoldStatus) Seedable() bool {
	return s == StatusPending || s == StatusBooked
}

// SystemHolderID owns records seeded from the external booking store during
// reconciliation, where the original holder session is unknown.
const SystemHolderID = "system"

// ReservationRecord is one holder's claim on one seat of one showtime.
type ReservationRecord struct {
	ShowtimeID   int64
	SeatID       SeatID
	HolderID     string
	ConnectionID string
	Status       HoldStatus
	CreatedAt    time.Time
	ExpiresAt    *time.Time
}

// RecordRef is the key-plus-status view kept in a holder's reservation
// index, enough to bulk-release on disconnect without scanning seats.
type RecordRef struct {
	ShowtimeID int64
	SeatID     SeatID
	Status     HoldStatus
}

// BookingStatus is the status vocabulary of the external booking store.
type BookingStatus string

const (
	BookingConfirmed BookingStatus = "Confirmed"
	BookingPending   BookingStatus = "Pending"
)

// HoldStatus maps an external booking status onto the lock-store variant
// used when seeding reconciled records.
func (s BookingStatus) HoldStatus() HoldStatus {
	if s == BookingPending {
		return StatusPending
	}

	return StatusBooked
}

type BookedSeat struct {
	SeatID SeatID
	Status BookingStatus
}

// BookingLookup reads already-sold seats from the persistence collaborator.
// The reservation core never writes through this seam.
type BookingLookup interface {
	LookupConfirmedSeats(ctx context.Context, showtimeID int64) ([]BookedSeat, error)
}

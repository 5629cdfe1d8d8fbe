package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventSeatClaimed      EventType = "seatClaimed"
	EventSeatReleased     EventType = "seatReleased"
	EventSeatConflict     EventType = "seatConflict"
	EventSeatBooked       EventType = "seatBooked"
	EventValidationFailed EventType = "validationFailed"
	EventStateRefresh     EventType = "stateRefresh"
)

// Event is the outbound payload handed to the broadcast collaborator.
// Fields beyond Type and ShowtimeID are populated per event type.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	ShowtimeID int64     `json:"showtimeId"`
	SeatID     string    `json:"seatId,omitempty"`
	HolderID   string    `json:"holderId,omitempty"`
	// Owner is only set on conflict events and always in redacted form.
	Owner          string    `json:"ownerIdRedacted,omitempty"`
	Rule           string    `json:"rule,omitempty"`
	SuggestedSeats []string  `json:"suggestedSeats,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

func newEvent(t EventType, showtimeID int64) Event {
	return Event{
		ID:         uuid.New().String(),
		Type:       t,
		ShowtimeID: showtimeID,
		OccurredAt: time.Now().UTC(),
	}
}

func NewSeatClaimedEvent(showtimeID int64, seat SeatID, holderID string) Event {
	ev := newEvent(EventSeatClaimed, showtimeID)
	ev.SeatID = seat.String()
	ev.HolderID = holderID

	return ev
}

func NewSeatReleasedEvent(showtimeID int64, seat SeatID, holderID string) Event {
	ev := newEvent(EventSeatReleased, showtimeID)
	ev.SeatID = seat.String()
	ev.HolderID = holderID

	return ev
}

func NewSeatConflictEvent(showtimeID int64, seat SeatID, ownerID string) Event {
	ev := newEvent(EventSeatConflict, showtimeID)
	ev.SeatID = seat.String()
	ev.Owner = RedactHolderID(ownerID)

	return ev
}

func NewSeatBookedEvent(showtimeID int64, seat SeatID, holderID string) Event {
	ev := newEvent(EventSeatBooked, showtimeID)
	ev.SeatID = seat.String()
	ev.HolderID = holderID

	return ev
}

func NewValidationFailedEvent(showtimeID int64, holderID string, v *RuleViolation) Event {
	ev := newEvent(EventValidationFailed, showtimeID)
	ev.HolderID = holderID
	ev.Rule = v.Rule
	ev.SuggestedSeats = make([]string, len(v.Suggested))
	for i, s := range v.Suggested {
		ev.SuggestedSeats[i] = s.String()
	}

	return ev
}

func NewStateRefreshEvent(showtimeID int64) Event {
	return newEvent(EventStateRefresh, showtimeID)
}

// RedactHolderID maps a holder identity to a stable anonymous handle, so
// clients can tell "two seats held by the same somebody" apart from "two
// different somebodies" without learning who.
func RedactHolderID(holderID string) string {
	if holderID == "" {
		return ""
	}

	sum := sha256.Sum256([]byte(holderID))

	return "anon-" + hex.EncodeToString(sum[:4])
}

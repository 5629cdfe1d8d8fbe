package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotOwner         = errors.New("record is held by a different holder")
	ErrRecordNotFound   = errors.New("no reservation record for this seat")
	ErrAlreadyBooked    = errors.New("record is no longer in the selecting state")
	ErrSeatUnknown      = errors.New("seat does not exist or is not active for this showtime")
	ErrStoreUnavailable = errors.New("seat lock store unavailable")
	ErrAdminForbidden   = errors.New("administrative override rejected")
)

// SeatConflictError reports a claim that lost to another holder. OwnerID is
// the raw winning holder and must never leave the core unredacted; callers
// see the seat id only.
type SeatConflictError struct {
	SeatID  SeatID
	OwnerID string
}

func (e *SeatConflictError) Error() string {
	return fmt.Sprintf("seat %s is already held", e.SeatID)
}

const (
	RuleAdjacency     = "adjacency"
	RuleGapPrevention = "gapPrevention"
)

// RuleViolation is the structured outcome of a failed seating rule check.
// Suggested lists the exact seats that would repair the batch; it is part
// of the contract, not advisory.
type RuleViolation struct {
	Rule      string
	Reason    string
	Suggested []SeatID
}

func (v *RuleViolation) Error() string {
	if len(v.Suggested) == 0 {
		return fmt.Sprintf("%s rule violated: %s", v.Rule, v.Reason)
	}

	return fmt.Sprintf("%s rule violated: %s (try adding %s)", v.Rule, v.Reason, FormatSeatIDs(v.Suggested))
}

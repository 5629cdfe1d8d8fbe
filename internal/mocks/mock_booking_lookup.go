package mocks

import (
	"context"

	"github.com/atakanes/seatlock/internal/domain"
)

type MockBookingLookup struct {
	LookupConfirmedSeatsFunc func(ctx context.Context, showtimeID int64) ([]domain.BookedSeat, error)
}

func (m *MockBookingLookup) LookupConfirmedSeats(ctx context.Context, showtimeID int64) ([]domain.BookedSeat, error) {
	return m.LookupConfirmedSeatsFunc(ctx, showtimeID)
}

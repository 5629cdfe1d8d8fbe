package mocks

import (
	"context"

	"github.com/atakanes/seatlock/internal/domain"
)

type MockSeatMapSource struct {
	SeatMapByShowtimeFunc func(ctx context.Context, showtimeID int64) (*domain.SeatMap, error)
}

func (m *MockSeatMapSource) SeatMapByShowtime(ctx context.Context, showtimeID int64) (*domain.SeatMap, error) {
	return m.SeatMapByShowtimeFunc(ctx, showtimeID)
}

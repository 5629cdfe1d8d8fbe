package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/atakanes/seatlock/internal/domain"
	"github.com/atakanes/seatlock/internal/seatlock"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Claim(ctx context.Context, p seatlock.ClaimParams) (seatlock.ClaimResult, error) {
	args := m.Called(ctx, p)
	result, _ := args.Get(0).(seatlock.ClaimResult)
	return result, args.Error(1)
}

func (m *MockStore) Release(ctx context.Context, showtimeID int64, seat domain.SeatID, holderID string, admin bool) (bool, error) {
	args := m.Called(ctx, showtimeID, seat, holderID, admin)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) Promote(ctx context.Context, showtimeID int64, seat domain.SeatID, holderID string) error {
	args := m.Called(ctx, showtimeID, seat, holderID)
	return args.Error(0)
}

func (m *MockStore) RemoveBooked(ctx context.Context, showtimeID int64, seat domain.SeatID, holderID string) error {
	args := m.Called(ctx, showtimeID, seat, holderID)
	return args.Error(0)
}

func (m *MockStore) ExtendHold(ctx context.Context, showtimeID int64, seat domain.SeatID, holderID string, ttl time.Duration) error {
	args := m.Called(ctx, showtimeID, seat, holderID, ttl)
	return args.Error(0)
}

func (m *MockStore) Snapshot(ctx context.Context, showtimeID int64) (map[domain.SeatID]domain.HoldStatus, error) {
	args := m.Called(ctx, showtimeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[domain.SeatID]domain.HoldStatus), args.Error(1)
}

func (m *MockStore) HolderRecords(ctx context.Context, holderID string) ([]domain.RecordRef, error) {
	args := m.Called(ctx, holderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.RecordRef), args.Error(1)
}

func (m *MockStore) Seed(ctx context.Context, showtimeID int64, records []seatlock.SeedRecord) (int, error) {
	args := m.Called(ctx, showtimeID, records)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atakanes/seatlock/internal/domain"
	"github.com/atakanes/seatlock/internal/events"
	"github.com/atakanes/seatlock/internal/mocks"
	"github.com/atakanes/seatlock/internal/reservation"
	"github.com/atakanes/seatlock/internal/seatlock"
	appvalidator "github.com/atakanes/seatlock/internal/validator"
)

const testAdminToken = "test-admin-token"

// newTestApplication wires a full Application around the given primary lock
// store, with an in-memory fallback, a two row test hall, and no broker.
func newTestApplication(primary seatlock.Store) *Application {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := Config{Env: "test"}
	cfg.Lock.HoldTTL = 5 * time.Minute
	cfg.Lock.AdminToken = testAdminToken

	failover := seatlock.NewFailoverStore(
		primary, seatlock.NewMemoryStore(), events.Discard, logger, seatlock.FailoverConfig{})

	seats := &mocks.MockSeatMapSource{
		SeatMapByShowtimeFunc: func(context.Context, int64) (*domain.SeatMap, error) {
			return testHall(), nil
		},
	}
	bookings := &mocks.MockBookingLookup{
		LookupConfirmedSeatsFunc: func(context.Context, int64) ([]domain.BookedSeat, error) {
			return nil, nil
		},
	}

	reconciler := reservation.NewBookingStateReconciler(failover, bookings, logger)
	coordinator := reservation.NewCoordinator(
		failover,
		seats,
		reconciler,
		reservation.NewSeatAdjacencyValidator(logger),
		appvalidator.NewValidator(),
		events.Discard,
		failover,
		logger,
		reservation.CoordinatorConfig{
			HoldTTL:    cfg.Lock.HoldTTL,
			AdminToken: cfg.Lock.AdminToken,
		},
	)

	return &Application{
		config:      cfg,
		logger:      logger,
		store:       failover,
		coordinator: coordinator,
	}
}

// testHall is a two row hall, six seats per row, everything active.
func testHall() *domain.SeatMap {
	rows := make([]domain.SeatRow, 0, 2)
	for _, label := range []string{"A", "B"} {
		row := domain.SeatRow{Label: label}
		for col := 1; col <= 6; col++ {
			row.Seats = append(row.Seats, domain.Seat{
				ID:     domain.SeatID{Row: label, Col: col},
				Type:   domain.SeatTypeStandard,
				Active: true,
			})
		}
		rows = append(rows, row)
	}

	return &domain.SeatMap{ShowtimeID: 7, HallID: 1, Rows: rows}
}

// failingStore is a primary whose backing service is unreachable.
type failingStore struct{}

var errStoreOffline = errors.New("store offline")

func (failingStore) Claim(context.Context, seatlock.ClaimParams) (seatlock.ClaimResult, error) {
	return 0, errStoreOffline
}

func (failingStore) Release(context.Context, int64, domain.SeatID, string, bool) (bool, error) {
	return false, errStoreOffline
}

func (failingStore) Promote(context.Context, int64, domain.SeatID, string) error {
	return errStoreOffline
}

func (failingStore) RemoveBooked(context.Context, int64, domain.SeatID, string) error {
	return errStoreOffline
}

func (failingStore) ExtendHold(context.Context, int64, domain.SeatID, string, time.Duration) error {
	return errStoreOffline
}

func (failingStore) Snapshot(context.Context, int64) (map[domain.SeatID]domain.HoldStatus, error) {
	return nil, errStoreOffline
}

func (failingStore) HolderRecords(context.Context, string) ([]domain.RecordRef, error) {
	return nil, errStoreOffline
}

func (failingStore) Seed(context.Context, int64, []seatlock.SeedRecord) (int, error) {
	return 0, errStoreOffline
}

func (failingStore) Ping(context.Context) error {
	return errStoreOffline
}

func executeRequest(req *http.Request, app *Application) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	app.routes().ServeHTTP(rr, req)

	return rr
}

func decodeResponse[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))

	return out
}

func checkErrorResponse(t *testing.T, rr *httptest.ResponseRecorder, wantStatus int, wantMessage string) {
	t.Helper()

	require.Equal(t, wantStatus, rr.Code)

	resp := decodeResponse[ErrorResponse](t, rr)
	require.Equal(t, wantMessage, resp.Message)
}

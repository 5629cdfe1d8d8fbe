package reservation

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/atakanes/seatlock/internal/domain"
	"github.com/atakanes/seatlock/internal/seatlock"
)

const (
	reconcileCacheSize = 1024
	reconcileCacheTTL  = 5 * time.Minute
)

// BookingStateReconciler seeds the lock store from the persistent booking
// collaborator the first time a showtime is served without cached state.
// Seeding is claim-if-absent, so a record placed by a live holder or by a
// concurrently reconciling process is never overwritten.
type BookingStateReconciler struct {
	store    seatlock.Store
	bookings domain.BookingLookup
	logger   *slog.Logger

	group  singleflight.Group
	seeded *expirable.LRU[int64, struct{}]
}

func NewBookingStateReconciler(store seatlock.Store, bookings domain.BookingLookup, logger *slog.Logger) *BookingStateReconciler {
	return &BookingStateReconciler{
		store:    store,
		bookings: bookings,
		logger:   logger,
		seeded:   expirable.NewLRU[int64, struct{}](reconcileCacheSize, nil, reconcileCacheTTL),
	}
}

// EnsureSeeded makes sure the lock store reflects the showtime's sold seats
// before it serves a live view. Cheap after the first call: a marker cache
// skips the store round trip, and singleflight collapses concurrent misses
// for the same showtime into one reconciliation.
func (r *BookingStateReconciler) EnsureSeeded(ctx context.Context, showtimeID int64) error {
	if _, ok := r.seeded.Get(showtimeID); ok {
		return nil
	}

	_, err, _ := r.group.Do(strconv.FormatInt(showtimeID, 10), func() (any, error) {
		if _, ok := r.seeded.Get(showtimeID); ok {
			return nil, nil
		}

		if err := r.reconcile(ctx, showtimeID); err != nil {
			return nil, err
		}
		r.seeded.Add(showtimeID, struct{}{})

		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("reconcile showtime %d: %w", showtimeID, err)
	}

	return nil
}

func (r *BookingStateReconciler) reconcile(ctx context.Context, showtimeID int64) error {
	snapshot, err := r.store.Snapshot(ctx, showtimeID)
	if err != nil {
		return err
	}
	if len(snapshot) > 0 {
		return nil
	}

	sold, err := r.bookings.LookupConfirmedSeats(ctx, showtimeID)
	if err != nil {
		return err
	}
	if len(sold) == 0 {
		return nil
	}

	records := make([]seatlock.SeedRecord, len(sold))
	for i, seat := range sold {
		records[i] = seatlock.SeedRecord{
			Seat:     seat.SeatID,
			HolderID: domain.SystemHolderID,
			Status:   seat.Status.HoldStatus(),
		}
	}

	written, err := r.store.Seed(ctx, showtimeID, records)
	if err != nil {
		return err
	}

	if written < len(records) {
		r.logger.Info("reconciliation raced another writer, kept existing records",
			"showtime_id", showtimeID, "skipped", len(records)-written)
	}
	r.logger.Info("seeded lock store from booking history",
		"showtime_id", showtimeID, "seeded", written)

	return nil
}

// Forget drops the reconciliation marker, forcing the next view of the
// showtime to re-check the store. Called after recovery from degraded mode,
// where the primary may have been repopulated behind our back.
func (r *BookingStateReconciler) Forget(showtimeID int64) {
	r.seeded.Remove(showtimeID)
}

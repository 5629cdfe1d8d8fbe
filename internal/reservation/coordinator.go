// Package reservation orchestrates live seat holds for showtimes: seating
// rule validation, batch claims with compensation, promotion on payment
// capture, and read-through reconciliation with the persistent booking
// store.
package reservation

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/atakanes/seatlock/internal/domain"
	"github.com/atakanes/seatlock/internal/events"
	"github.com/atakanes/seatlock/internal/seatlock"
)

const (
	seatMapCacheSize = 256
	seatMapCacheTTL  = 10 * time.Minute
)

// HealthReporter exposes whether the primary lock store is serving traffic.
type HealthReporter interface {
	Healthy() bool
}

type SelectRequest struct {
	ShowtimeID int64 `json:"showtimeId" validate:"required,gt=0"`
	// The cap only bounds the payload; the seating rules hold real batches
	// far below it (at most eight seats per row).
	SeatIDs      []string `json:"seatIds" validate:"required,min=1,max=64,dive,seat_id"`
	HolderID     string   `json:"holderId" validate:"required"`
	ConnectionID string   `json:"connId" validate:"required"`
}

type DeselectRequest struct {
	ShowtimeID int64  `json:"showtimeId" validate:"required,gt=0"`
	SeatID     string `json:"seatId" validate:"required,seat_id"`
	HolderID   string `json:"holderId" validate:"required"`
}

type ExtendHoldRequest struct {
	ShowtimeID int64  `json:"showtimeId" validate:"required,gt=0"`
	SeatID     string `json:"seatId" validate:"required,seat_id"`
	HolderID   string `json:"holderId" validate:"required"`
}

type PromoteRequest struct {
	ShowtimeID int64    `json:"showtimeId" validate:"required,gt=0"`
	SeatIDs    []string `json:"seatIds" validate:"required,min=1,dive,seat_id"`
	HolderID   string   `json:"holderId" validate:"required"`
}

// AdminReleaseRequest frees a seat regardless of ownership. Token must match
// the configured admin token; Actor identifies the operator for the audit
// log.
type AdminReleaseRequest struct {
	ShowtimeID int64  `json:"showtimeId" validate:"required,gt=0"`
	SeatID     string `json:"seatId" validate:"required,seat_id"`
	Actor      string `json:"actor" validate:"required"`
	Token      string `json:"-" validate:"required"`
}

type CancelBookedRequest struct {
	ShowtimeID int64  `json:"showtimeId" validate:"required,gt=0"`
	SeatID     string `json:"seatId" validate:"required,seat_id"`
	HolderID   string `json:"holderId" validate:"required"`
}

// SeatConflict reports the seat that lost a claim race. The winning holder's
// identity is deliberately absent; it travels only inside the redacted
// seatConflict event.
type SeatConflict struct {
	SeatID domain.SeatID `json:"seatId"`
}

// SelectResult is the outcome of a selection attempt. Exactly one of
// Claimed, Conflict, or Violation is set. On the rejection paths Snapshot
// carries the showtime's current state, so a client acting on stale data
// can repaint instead of guessing.
type SelectResult struct {
	Claimed   []domain.SeatID
	Conflict  *SeatConflict
	Violation *domain.RuleViolation
	Snapshot  map[domain.SeatID]domain.HoldStatus
}

type ShowtimeStats struct {
	ShowtimeID   int64 `json:"showtimeId"`
	Selecting    int   `json:"selecting"`
	Pending      int   `json:"pending"`
	Booked       int   `json:"booked"`
	StoreHealthy bool  `json:"storeHealthy"`
}

// CoordinatorConfig tunes hold behavior. Zero values fall back to defaults;
// an empty AdminToken disables the administrative release path entirely.
type CoordinatorConfig struct {
	HoldTTL    time.Duration
	AdminToken string
}

func (c CoordinatorConfig) withDefaults() CoordinatorConfig {
	if c.HoldTTL <= 0 {
		c.HoldTTL = 10 * time.Minute
	}

	return c
}

// Coordinator is the single entry point for holder operations. It is the
// only component that mutates seat state, always through the lock store, and
// it emits an event for every state change it makes.
type Coordinator struct {
	store      seatlock.Store
	seats      domain.SeatMapSource
	reconciler *BookingStateReconciler
	rules      *SeatAdjacencyValidator
	validate   *validator.Validate
	sink       events.Sink
	health     HealthReporter
	logger     *slog.Logger

	holdTTL    time.Duration
	adminToken string
	seatMaps   *expirable.LRU[int64, *domain.SeatMap]
}

func NewCoordinator(
	store seatlock.Store,
	seats domain.SeatMapSource,
	reconciler *BookingStateReconciler,
	rules *SeatAdjacencyValidator,
	validate *validator.Validate,
	sink events.Sink,
	health HealthReporter,
	logger *slog.Logger,
	cfg CoordinatorConfig,
) *Coordinator {
	cfg = cfg.withDefaults()

	return &Coordinator{
		store:      store,
		seats:      seats,
		reconciler: reconciler,
		rules:      rules,
		validate:   validate,
		sink:       sink,
		health:     health,
		logger:     logger,
		holdTTL:    cfg.HoldTTL,
		adminToken: cfg.AdminToken,
		seatMaps:   expirable.NewLRU[int64, *domain.SeatMap](seatMapCacheSize, nil, seatMapCacheTTL),
	}
}

// Select validates the batch against the seating rules, then claims each
// seat in order. A claim lost to another holder rolls back every seat this
// call acquired and reports the conflict; rule rejections and conflicts are
// outcomes, not errors.
func (c *Coordinator) Select(ctx context.Context, req SelectRequest) (*SelectResult, error) {
	if err := c.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid select request: %w", err)
	}

	seatMap, err := c.seatMap(ctx, req.ShowtimeID)
	if err != nil {
		return nil, err
	}

	batch, err := resolveBatch(seatMap, req.SeatIDs)
	if err != nil {
		return nil, err
	}

	if err := c.reconciler.EnsureSeeded(ctx, req.ShowtimeID); err != nil {
		return nil, err
	}

	occupied, err := c.store.Snapshot(ctx, req.ShowtimeID)
	if err != nil {
		return nil, fmt.Errorf("snapshot showtime %d: %w", req.ShowtimeID, err)
	}

	if violation := c.rules.Validate(seatMap, occupied, batch); violation != nil {
		c.logger.Info("seat selection rejected by seating rules",
			"showtime_id", req.ShowtimeID, "holder_id", req.HolderID,
			"rule", violation.Rule, "suggested", domain.FormatSeatIDs(violation.Suggested))
		c.emit(ctx, domain.NewValidationFailedEvent(req.ShowtimeID, req.HolderID, violation))

		return &SelectResult{Violation: violation, Snapshot: occupied}, nil
	}

	// Seats acquired by this call, in order, for rollback on a later
	// conflict. Refreshed holds are excluded: this call did not create
	// them, so compensation must not release them.
	acquired := make([]domain.SeatID, 0, len(batch))

	for _, seat := range batch {
		result, err := c.store.Claim(ctx, seatlock.ClaimParams{
			ShowtimeID:   req.ShowtimeID,
			Seat:         seat,
			HolderID:     req.HolderID,
			ConnectionID: req.ConnectionID,
			TTL:          c.holdTTL,
		})
		if err != nil {
			c.compensate(ctx, req.ShowtimeID, req.HolderID, acquired)

			var conflict *domain.SeatConflictError
			if errors.As(err, &conflict) {
				c.logger.Warn("seat selection lost a claim race",
					"showtime_id", req.ShowtimeID, "seat_id", conflict.SeatID.String(),
					"holder_id", req.HolderID)
				c.emit(ctx, domain.NewSeatConflictEvent(req.ShowtimeID, conflict.SeatID, conflict.OwnerID))

				snapshot, snapErr := c.store.Snapshot(context.WithoutCancel(ctx), req.ShowtimeID)
				if snapErr != nil {
					c.logger.Error("post-conflict snapshot failed",
						"showtime_id", req.ShowtimeID, "error", snapErr)
				}

				return &SelectResult{
					Conflict: &SeatConflict{SeatID: conflict.SeatID},
					Snapshot: snapshot,
				}, nil
			}

			return nil, fmt.Errorf("claim seat %s: %w", seat, err)
		}

		if result == seatlock.ClaimAcquired {
			acquired = append(acquired, seat)
		}
	}

	for _, seat := range acquired {
		c.emit(ctx, domain.NewSeatClaimedEvent(req.ShowtimeID, seat, req.HolderID))
	}

	return &SelectResult{Claimed: batch}, nil
}

// compensate releases the seats this request managed to claim, newest first.
// It runs on a detached context: the rollback has to complete even when the
// trigger was the caller's own context dying mid-batch.
func (c *Coordinator) compensate(ctx context.Context, showtimeID int64, holderID string, acquired []domain.SeatID) {
	ctx = context.WithoutCancel(ctx)

	for i := len(acquired) - 1; i >= 0; i-- {
		if _, err := c.store.Release(ctx, showtimeID, acquired[i], holderID, false); err != nil {
			c.logger.Error("compensating release failed",
				"showtime_id", showtimeID, "seat_id", acquired[i].String(), "error", err)
		}
	}
}

func (c *Coordinator) Deselect(ctx context.Context, req DeselectRequest) error {
	if err := c.validate.Struct(req); err != nil {
		return fmt.Errorf("invalid deselect request: %w", err)
	}

	seat, err := domain.ParseSeatID(req.SeatID)
	if err != nil {
		return fmt.Errorf("%q: %w", req.SeatID, domain.ErrSeatUnknown)
	}

	removed, err := c.store.Release(ctx, req.ShowtimeID, seat, req.HolderID, false)
	if err != nil {
		return fmt.Errorf("release seat %s: %w", seat, err)
	}

	// An absent record releases cleanly but announces nothing; the seat was
	// already free in every viewer's picture.
	if removed {
		c.emit(ctx, domain.NewSeatReleasedEvent(req.ShowtimeID, seat, req.HolderID))
	}

	return nil
}

// ExtendHold refreshes a Selecting record's TTL without changing its status,
// for holders mid-checkout. No event is emitted; viewers see no change.
func (c *Coordinator) ExtendHold(ctx context.Context, req ExtendHoldRequest) error {
	if err := c.validate.Struct(req); err != nil {
		return fmt.Errorf("invalid extend request: %w", err)
	}

	seat, err := domain.ParseSeatID(req.SeatID)
	if err != nil {
		return fmt.Errorf("%q: %w", req.SeatID, domain.ErrSeatUnknown)
	}

	if err := c.store.ExtendHold(ctx, req.ShowtimeID, seat, req.HolderID, c.holdTTL); err != nil {
		return fmt.Errorf("extend hold on seat %s: %w", seat, err)
	}

	return nil
}

// Promote marks the holder's seats as booked after payment capture. Each
// seat is attempted even when an earlier one fails, so one bad seat cannot
// strand the rest of a paid order in the expiring state.
func (c *Coordinator) Promote(ctx context.Context, req PromoteRequest) error {
	if err := c.validate.Struct(req); err != nil {
		return fmt.Errorf("invalid promote request: %w", err)
	}

	var errs []error
	for _, rawID := range req.SeatIDs {
		seat, err := domain.ParseSeatID(rawID)
		if err != nil {
			errs = append(errs, fmt.Errorf("%q: %w", rawID, domain.ErrSeatUnknown))
			continue
		}

		if err := c.store.Promote(ctx, req.ShowtimeID, seat, req.HolderID); err != nil {
			errs = append(errs, fmt.Errorf("promote seat %s: %w", seat, err))
			continue
		}

		c.emit(ctx, domain.NewSeatBookedEvent(req.ShowtimeID, seat, req.HolderID))
	}

	return errors.Join(errs...)
}

// Disconnect releases the holder's Selecting records across all showtimes.
// Booked records survive; a paid seat must not be lost to a dropped
// connection.
func (c *Coordinator) Disconnect(ctx context.Context, holderID string) error {
	if holderID == "" {
		return errors.New("holder id is required")
	}

	refs, err := c.store.HolderRecords(ctx, holderID)
	if err != nil {
		return fmt.Errorf("load records for holder: %w", err)
	}

	released := 0
	for _, ref := range refs {
		if ref.Status != domain.StatusSelecting {
			continue
		}

		removed, err := c.store.Release(ctx, ref.ShowtimeID, ref.SeatID, holderID, false)
		if err != nil {
			c.logger.Error("release on disconnect failed",
				"showtime_id", ref.ShowtimeID, "seat_id", ref.SeatID.String(), "error", err)
			continue
		}
		if !removed {
			// Expired between listing and release; nothing to announce.
			continue
		}

		released++
		c.emit(ctx, domain.NewSeatReleasedEvent(ref.ShowtimeID, ref.SeatID, holderID))
	}

	if released > 0 {
		c.logger.Info("released unpromoted seats on disconnect",
			"holder_id", holderID, "released", released)
	}

	return nil
}

// AdminRelease frees a stuck Selecting record regardless of who holds it.
// Every invocation, allowed or not, lands in the audit log.
func (c *Coordinator) AdminRelease(ctx context.Context, req AdminReleaseRequest) error {
	if err := c.validate.Struct(req); err != nil {
		return fmt.Errorf("invalid admin release request: %w", err)
	}

	if err := c.authorizeAdmin(req.Token); err != nil {
		c.logger.Warn("administrative release rejected",
			slog.Group("audit", "actor", req.Actor, "showtime_id", req.ShowtimeID, "seat_id", req.SeatID))
		return err
	}

	seat, err := domain.ParseSeatID(req.SeatID)
	if err != nil {
		return fmt.Errorf("%q: %w", req.SeatID, domain.ErrSeatUnknown)
	}

	removed, err := c.store.Release(ctx, req.ShowtimeID, seat, "", true)
	if err != nil {
		return fmt.Errorf("admin release seat %s: %w", seat, err)
	}

	c.logger.Warn("administrative seat release",
		slog.Group("audit", "actor", req.Actor, "showtime_id", req.ShowtimeID,
			"seat_id", seat.String(), "removed", removed))
	if removed {
		c.emit(ctx, domain.NewSeatReleasedEvent(req.ShowtimeID, seat, ""))
	}

	return nil
}

func (c *Coordinator) authorizeAdmin(token string) error {
	if c.adminToken == "" {
		return fmt.Errorf("administrative release disabled: %w", domain.ErrAdminForbidden)
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(c.adminToken)) != 1 {
		return domain.ErrAdminForbidden
	}

	return nil
}

// CancelBooked removes a booked record after the external booking system
// cancels or refunds the reservation, returning the seat to the open pool.
func (c *Coordinator) CancelBooked(ctx context.Context, req CancelBookedRequest) error {
	if err := c.validate.Struct(req); err != nil {
		return fmt.Errorf("invalid cancel request: %w", err)
	}

	seat, err := domain.ParseSeatID(req.SeatID)
	if err != nil {
		return fmt.Errorf("%q: %w", req.SeatID, domain.ErrSeatUnknown)
	}

	if err := c.store.RemoveBooked(ctx, req.ShowtimeID, seat, req.HolderID); err != nil {
		return fmt.Errorf("remove booked seat %s: %w", seat, err)
	}

	c.logger.Info("booked seat returned to pool",
		"showtime_id", req.ShowtimeID, "seat_id", seat.String())
	c.emit(ctx, domain.NewSeatReleasedEvent(req.ShowtimeID, seat, req.HolderID))

	return nil
}

// Snapshot returns the showtime's current seat statuses, reconciling from
// booking history first when the store has no state for it yet.
func (c *Coordinator) Snapshot(ctx context.Context, showtimeID int64) (map[domain.SeatID]domain.HoldStatus, error) {
	if err := c.reconciler.EnsureSeeded(ctx, showtimeID); err != nil {
		return nil, err
	}

	snapshot, err := c.store.Snapshot(ctx, showtimeID)
	if err != nil {
		return nil, fmt.Errorf("snapshot showtime %d: %w", showtimeID, err)
	}

	return snapshot, nil
}

func (c *Coordinator) Stats(ctx context.Context, showtimeID int64) (*ShowtimeStats, error) {
	snapshot, err := c.Snapshot(ctx, showtimeID)
	if err != nil {
		return nil, err
	}

	stats := &ShowtimeStats{
		ShowtimeID:   showtimeID,
		StoreHealthy: c.health.Healthy(),
	}

	for _, status := range snapshot {
		switch status {
		case domain.StatusSelecting:
			stats.Selecting++
		case domain.StatusPending:
			stats.Pending++
		case domain.StatusBooked:
			stats.Booked++
		}
	}

	return stats, nil
}

func (c *Coordinator) seatMap(ctx context.Context, showtimeID int64) (*domain.SeatMap, error) {
	if seatMap, ok := c.seatMaps.Get(showtimeID); ok {
		return seatMap, nil
	}

	seatMap, err := c.seats.SeatMapByShowtime(ctx, showtimeID)
	if err != nil {
		return nil, fmt.Errorf("load seat map for showtime %d: %w", showtimeID, err)
	}
	c.seatMaps.Add(showtimeID, seatMap)

	return seatMap, nil
}

// resolveBatch parses, deduplicates, and resolves raw seat ids against the
// seat map, preserving request order.
func resolveBatch(seatMap *domain.SeatMap, rawIDs []string) ([]domain.SeatID, error) {
	batch := make([]domain.SeatID, 0, len(rawIDs))
	seen := make(map[domain.SeatID]bool, len(rawIDs))

	for _, rawID := range rawIDs {
		id, err := domain.ParseSeatID(rawID)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", rawID, domain.ErrSeatUnknown)
		}
		if seen[id] {
			continue
		}
		seen[id] = true

		seat, ok := seatMap.Seat(id)
		if !ok || !seat.Active {
			return nil, fmt.Errorf("seat %s: %w", id, domain.ErrSeatUnknown)
		}

		batch = append(batch, id)
	}

	return batch, nil
}

func (c *Coordinator) emit(ctx context.Context, event domain.Event) {
	if err := c.sink.Publish(ctx, event); err != nil {
		c.logger.Error("event publish failed",
			"event_type", event.Type, "showtime_id", event.ShowtimeID, "error", err)
	}
}

package app

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/atakanes/seatlock/internal/domain"
	"github.com/atakanes/seatlock/internal/reservation"
)

type SystemInfo struct {
	Version     string `json:"version"`
	Environment string `json:"environment"`
}

type HealthResponse struct {
	Status     string     `json:"status"`
	SystemInfo SystemInfo `json:"systemInfo"`
}

type SeatMapResponse struct {
	ShowtimeID int64             `json:"showtimeId"`
	Seats      map[string]string `json:"seats"`
}

type AdminReleaseInput struct {
	Actor string `json:"actor"`
}

type CancelBookedInput struct {
	HolderID string `json:"holderId"`
}

func (app *Application) GetHealth(w http.ResponseWriter, r *http.Request) {
	status := "UP"
	if err := app.store.Ping(r.Context()); err != nil {
		status = "DEGRADED"
	}

	resp := HealthResponse{
		Status: status,
		SystemInfo: SystemInfo{
			Version:     version,
			Environment: app.config.Env,
		},
	}

	app.writeJSON(w, http.StatusOK, resp, nil)
}

// GetShowtimeSeats serves the current seat statuses for one showtime. Free
// seats are absent from the map; clients overlay it on the seat layout they
// already have.
func (app *Application) GetShowtimeSeats(w http.ResponseWriter, r *http.Request) {
	showtimeID, err := showtimeIDParam(r)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	snapshot, err := app.coordinator.Snapshot(r.Context(), showtimeID)
	if err != nil {
		app.reservationErrorResponse(w, r, err)
		return
	}

	resp := SeatMapResponse{
		ShowtimeID: showtimeID,
		Seats:      make(map[string]string, len(snapshot)),
	}
	for seat, status := range snapshot {
		resp.Seats[seat.String()] = string(status)
	}

	app.writeJSON(w, http.StatusOK, resp, nil)
}

func (app *Application) GetShowtimeStats(w http.ResponseWriter, r *http.Request) {
	showtimeID, err := showtimeIDParam(r)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	stats, err := app.coordinator.Stats(r.Context(), showtimeID)
	if err != nil {
		app.reservationErrorResponse(w, r, err)
		return
	}

	app.writeJSON(w, http.StatusOK, stats, nil)
}

// AdminReleaseSeat frees a stuck hold on behalf of an operator. The token
// comes from the X-Admin-Token header so it stays out of request logs.
func (app *Application) AdminReleaseSeat(w http.ResponseWriter, r *http.Request) {
	showtimeID, err := showtimeIDParam(r)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	var input AdminReleaseInput
	if err := app.readJSON(w, r, &input); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	err = app.coordinator.AdminRelease(r.Context(), reservation.AdminReleaseRequest{
		ShowtimeID: showtimeID,
		SeatID:     chi.URLParam(r, "seatID"),
		Actor:      input.Actor,
		Token:      r.Header.Get("X-Admin-Token"),
	})
	if err != nil {
		app.reservationErrorResponse(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// CancelBookedSeat returns a booked seat to the open pool after the booking
// system cancels or refunds the reservation.
func (app *Application) CancelBookedSeat(w http.ResponseWriter, r *http.Request) {
	showtimeID, err := showtimeIDParam(r)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	var input CancelBookedInput
	if err := app.readJSON(w, r, &input); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	err = app.coordinator.CancelBooked(r.Context(), reservation.CancelBookedRequest{
		ShowtimeID: showtimeID,
		SeatID:     chi.URLParam(r, "seatID"),
		HolderID:   input.HolderID,
	})
	if err != nil {
		app.reservationErrorResponse(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func showtimeIDParam(r *http.Request) (int64, error) {
	showtimeID, err := strconv.ParseInt(chi.URLParam(r, "showtimeID"), 10, 64)
	if err != nil || showtimeID < 1 {
		return 0, errors.New("showtime ID must be a positive integer")
	}

	return showtimeID, nil
}

func (app *Application) reservationErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	var validationErrs validator.ValidationErrors

	switch {
	case errors.Is(err, domain.ErrSeatUnknown), errors.Is(err, domain.ErrRecordNotFound):
		app.notFoundResponse(w, r)
	case errors.Is(err, domain.ErrNotOwner), errors.Is(err, domain.ErrAdminForbidden):
		app.forbiddenResponse(w, r)
	case errors.Is(err, domain.ErrAlreadyBooked):
		app.editConflictResponse(w, r)
	case errors.As(err, &validationErrs):
		app.failedValidationResponse(w, r, validationErrs)
	default:
		app.serverErrorResponse(w, r, err)
	}
}

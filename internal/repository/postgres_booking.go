package repository

import (
	"context"

	"github.com/atakanes/seatlock/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresBookingRepository struct {
	db *pgxpool.Pool
}

func NewPostgresBookingRepository(db *pgxpool.Pool) *PostgresBookingRepository {
	return &PostgresBookingRepository{
		db: db,
	}
}

func (p *PostgresBookingRepository) LookupConfirmedSeats(ctx context.Context, showtimeID int64) ([]domain.BookedSeat, error) {
	query := `
		SELECT se.seat_row, se.seat_col, b.status
		FROM booking_seats bs
		JOIN bookings b
			ON bs.booking_id = b.id
		JOIN seats se
			ON bs.seat_id = se.id
		WHERE b.showtime_id = $1 AND b.status IN ('Confirmed', 'Pending')
	`

	rows, err := p.db.Query(ctx, query, showtimeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bookedSeats := make([]domain.BookedSeat, 0)

	for rows.Next() {
		var bookedSeat domain.BookedSeat

		err = rows.Scan(
			&bookedSeat.SeatID.Row,
			&bookedSeat.SeatID.Col,
			&bookedSeat.Status,
		)
		if err != nil {
			return nil, err
		}

		bookedSeats = append(bookedSeats, bookedSeat)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return bookedSeats, nil
}

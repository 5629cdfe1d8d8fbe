package repository

import (
	"context"

	"github.com/atakanes/seatlock/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresSeatMapRepository struct {
	db *pgxpool.Pool
}

func NewPostgresSeatMapRepository(db *pgxpool.Pool) *PostgresSeatMapRepository {
	return &PostgresSeatMapRepository{
		db: db,
	}
}

func (p *PostgresSeatMapRepository) SeatMapByShowtime(ctx context.Context, showtimeID int64) (*domain.SeatMap, error) {
	// Ordering by label length before the label itself keeps double-letter
	// rows after the single-letter ones (A..Z, then AA).
	query := `
		SELECT
			h.id AS hall_id,
			se.seat_row,
			se.seat_col,
			se.seat_type,
			se.is_active
		FROM showtimes sh
		JOIN halls h
			ON sh.hall_id = h.id
		JOIN seats se
			ON se.hall_id = h.id
		WHERE sh.id = $1
		ORDER BY length(se.seat_row), se.seat_row, se.seat_col
	`

	rows, err := p.db.Query(ctx, query, showtimeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seatMap := domain.SeatMap{ShowtimeID: showtimeID}

	for rows.Next() {
		var (
			rowLabel string
			seat     domain.Seat
		)

		err = rows.Scan(
			&seatMap.HallID,
			&rowLabel,
			&seat.ID.Col,
			&seat.Type,
			&seat.Active,
		)
		if err != nil {
			return nil, err
		}

		seat.ID.Row = rowLabel

		if n := len(seatMap.Rows); n == 0 || seatMap.Rows[n-1].Label != rowLabel {
			seatMap.Rows = append(seatMap.Rows, domain.SeatRow{Label: rowLabel})
		}

		last := &seatMap.Rows[len(seatMap.Rows)-1]
		last.Seats = append(last.Seats, seat)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	if len(seatMap.Rows) == 0 {
		return nil, domain.ErrRecordNotFound
	}

	return &seatMap, nil
}

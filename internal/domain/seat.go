package domain

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

type SeatType string

const (
	SeatTypeStandard   SeatType = "Standard"
	SeatTypeVIP        SeatType = "VIP"
	SeatTypeRecliner   SeatType = "Recliner"
	SeatTypeAccessible SeatType = "Accessible"
)

// SeatID identifies a seat within a hall by its row label and column number.
// The wire form is the label immediately followed by the column, e.g. "A12".
type SeatID struct {
	Row string
	Col int
}

func (s SeatID) String() string {
	return s.Row + strconv.Itoa(s.Col)
}

// ParseSeatID parses the "A12" wire form. Row labels are one or more
// uppercase letters, columns start at 1.
func ParseSeatID(raw string) (SeatID, error) {
	i := 0
	for i < len(raw) && raw[i] >= 'A' && raw[i] <= 'Z' {
		i++
	}

	if i == 0 || i == len(raw) {
		return SeatID{}, fmt.Errorf("invalid seat id %q", raw)
	}

	col, err := strconv.Atoi(raw[i:])
	if err != nil || col < 1 {
		return SeatID{}, fmt.Errorf("invalid seat id %q", raw)
	}

	return SeatID{Row: raw[:i], Col: col}, nil
}

// RowOrdinal maps a row label to its position in the hall ordering:
// A=1 .. Z=26, AA=27 and so on. Used to decide whether selected rows
// are alphabetically contiguous.
func RowOrdinal(label string) int {
	n := 0
	for _, ch := range label {
		n = n*26 + int(ch-'A') + 1
	}

	return n
}

// SortSeatIDs orders seats by row label then column, in place.
func SortSeatIDs(seats []SeatID) {
	sort.Slice(seats, func(i, j int) bool {
		if seats[i].Row != seats[j].Row {
			return RowOrdinal(seats[i].Row) < RowOrdinal(seats[j].Row)
		}
		return seats[i].Col < seats[j].Col
	})
}

func FormatSeatIDs(seats []SeatID) string {
	parts := make([]string, len(seats))
	for i, s := range seats {
		parts[i] = s.String()
	}

	return strings.Join(parts, ",")
}

type Seat struct {
	ID     SeatID
	Type   SeatType
	Active bool
}

type SeatRow struct {
	Label string
	Seats []Seat
}

// SeatMap is the immutable seating reference data for one showtime's hall.
// Seats within a row are sorted by column.
type SeatMap struct {
	ShowtimeID int64
	HallID     int
	Rows       []SeatRow
}

func (m *SeatMap) Row(label string) *SeatRow {
	for i := range m.Rows {
		if m.Rows[i].Label == label {
			return &m.Rows[i]
		}
	}

	return nil
}

// Seat looks up a single seat by ID. The second return is false when the
// hall has no such seat.
func (m *SeatMap) Seat(id SeatID) (Seat, bool) {
	row := m.Row(id.Row)
	if row == nil {
		return Seat{}, false
	}

	for _, s := range row.Seats {
		if s.ID.Col == id.Col {
			return s, true
		}
	}

	return Seat{}, false
}

// ActiveColumns returns the row's active seat columns in ascending order.
// Inactive seats are invisible to the seating rules: they behave like a
// structural gap, the same way an aisle does.
func (r *SeatRow) ActiveColumns() []int {
	cols := make([]int, 0, len(r.Seats))
	for _, s := range r.Seats {
		if s.Active {
			cols = append(cols, s.ID.Col)
		}
	}

	return cols
}

// SeatMapSource serves seat maps from the externally owned reference data.
type SeatMapSource interface {
	SeatMapByShowtime(ctx context.Context, showtimeID int64) (*SeatMap, error)
}

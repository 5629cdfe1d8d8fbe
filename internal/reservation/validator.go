package reservation

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/atakanes/seatlock/internal/domain"
)

const maxSeatsPerRow = 8

// SeatAdjacencyValidator checks a selection batch against the seating rules
// before any seat is claimed. Adjacency requires the batch itself to form a
// contiguous block; gap prevention rejects batches that would strand a
// single free seat between occupied ones.
//
// Callers must resolve the batch against the seat map first: every seat is
// assumed to exist, be active, and appear once.
type SeatAdjacencyValidator struct {
	logger *slog.Logger
}

func NewSeatAdjacencyValidator(logger *slog.Logger) *SeatAdjacencyValidator {
	return &SeatAdjacencyValidator{logger: logger}
}

// Validate returns nil when the batch is admissible. Rules run in order and
// the first violated rule is returned, with suggested seats that would
// repair the batch.
func (v *SeatAdjacencyValidator) Validate(
	seatMap *domain.SeatMap,
	occupied map[domain.SeatID]domain.HoldStatus,
	batch []domain.SeatID,
) *domain.RuleViolation {
	if violation := v.checkAdjacency(seatMap, batch); violation != nil {
		return violation
	}

	return v.checkGapPrevention(seatMap, occupied, batch)
}

// checkAdjacency enforces one contiguous column run per row and, for batches
// spanning rows, that the rows sit next to each other in the hall. Single
// seats are trivially adjacent.
func (v *SeatAdjacencyValidator) checkAdjacency(seatMap *domain.SeatMap, batch []domain.SeatID) *domain.RuleViolation {
	if len(batch) < 2 {
		return nil
	}

	byRow := make(map[string][]int)
	for _, seat := range batch {
		byRow[seat.Row] = append(byRow[seat.Row], seat.Col)
	}

	var missing []domain.SeatID
	for label, cols := range byRow {
		if len(cols) > maxSeatsPerRow {
			return &domain.RuleViolation{
				Rule: domain.RuleAdjacency,
				Reason: fmt.Sprintf(
					"row %s has %d seats selected, at most %d are allowed per row", label, len(cols), maxSeatsPerRow),
			}
		}

		sort.Ints(cols)
		for i := 1; i < len(cols); i++ {
			for col := cols[i-1] + 1; col < cols[i]; col++ {
				missing = append(missing, domain.SeatID{Row: label, Col: col})
			}
		}
	}

	if len(missing) > 0 {
		domain.SortSeatIDs(missing)

		return &domain.RuleViolation{
			Rule:      domain.RuleAdjacency,
			Reason:    "selected seats must form a contiguous block",
			Suggested: missing,
		}
	}

	if len(byRow) > 1 {
		return v.checkRowContiguity(seatMap, byRow)
	}

	return nil
}

// checkRowContiguity requires the selected rows to be consecutive rows of
// the hall. Positions come from the seat map rather than raw label
// arithmetic, so halls that skip a label (no row I, say) still treat the
// rows around the skip as neighbors.
func (v *SeatAdjacencyValidator) checkRowContiguity(seatMap *domain.SeatMap, byRow map[string][]int) *domain.RuleViolation {
	minPos, maxPos := len(seatMap.Rows), -1
	for pos, row := range seatMap.Rows {
		if _, ok := byRow[row.Label]; !ok {
			continue
		}
		if pos < minPos {
			minPos = pos
		}
		if pos > maxPos {
			maxPos = pos
		}
	}

	if maxPos-minPos+1 == len(byRow) {
		return nil
	}

	shared := sharedColumns(byRow)

	var missing []domain.SeatID
	for pos := minPos + 1; pos < maxPos; pos++ {
		label := seatMap.Rows[pos].Label
		if _, ok := byRow[label]; ok {
			continue
		}
		for _, col := range shared {
			missing = append(missing, domain.SeatID{Row: label, Col: col})
		}
	}
	domain.SortSeatIDs(missing)

	return &domain.RuleViolation{
		Rule:      domain.RuleAdjacency,
		Reason:    "selected rows are not adjacent",
		Suggested: missing,
	}
}

// sharedColumns picks the columns to suggest for a skipped row: the columns
// present in every selected row, or the full column span when the rows
// share none.
func sharedColumns(byRow map[string][]int) []int {
	counts := make(map[int]int)
	minCol, maxCol := 0, 0

	for _, cols := range byRow {
		for _, col := range cols {
			counts[col]++
			if minCol == 0 || col < minCol {
				minCol = col
			}
			if col > maxCol {
				maxCol = col
			}
		}
	}

	var shared []int
	for col, n := range counts {
		if n == len(byRow) {
			shared = append(shared, col)
		}
	}

	if len(shared) == 0 {
		for col := minCol; col <= maxCol; col++ {
			shared = append(shared, col)
		}
	}
	sort.Ints(shared)

	return shared
}

// checkGapPrevention evaluates the hypothetical post-batch state of every
// row the batch touches. A free run of exactly one seat, walled in by
// occupied seats the batch put there, is an orphan and fails the batch.
// Pre-existing orphans are not the batch's fault and pass through.
func (v *SeatAdjacencyValidator) checkGapPrevention(
	seatMap *domain.SeatMap,
	occupied map[domain.SeatID]domain.HoldStatus,
	batch []domain.SeatID,
) *domain.RuleViolation {
	hypothetical := make(map[domain.SeatID]bool, len(occupied)+len(batch))
	for id := range occupied {
		hypothetical[id] = true
	}

	fromBatch := make(map[domain.SeatID]bool, len(batch))
	for _, id := range batch {
		hypothetical[id] = true
		fromBatch[id] = true
	}

	var orphans []domain.SeatID
	for _, label := range batchRowLabels(batch) {
		row := seatMap.Row(label)
		if row == nil {
			continue
		}
		for _, segment := range activeSegments(row.ActiveColumns()) {
			orphans = append(orphans, v.scanSegment(label, segment, hypothetical, fromBatch)...)
		}
	}

	if len(orphans) > 0 {
		domain.SortSeatIDs(orphans)

		return &domain.RuleViolation{
			Rule:      domain.RuleGapPrevention,
			Reason:    "selection would leave isolated seats",
			Suggested: orphans,
		}
	}

	return nil
}

func batchRowLabels(batch []domain.SeatID) []string {
	seen := make(map[string]bool, len(batch))
	var labels []string

	for _, seat := range batch {
		if !seen[seat.Row] {
			seen[seat.Row] = true
			labels = append(labels, seat.Row)
		}
	}
	sort.Slice(labels, func(i, j int) bool {
		return domain.RowOrdinal(labels[i]) < domain.RowOrdinal(labels[j])
	})

	return labels
}

// activeSegments splits a row's active columns into maximal consecutive
// runs. Inactive seats and aisles split the row; each segment behaves like
// a small row of its own, with its ends counting as row edges.
func activeSegments(cols []int) [][]int {
	var segments [][]int

	start := 0
	for i := 1; i <= len(cols); i++ {
		if i == len(cols) || cols[i] != cols[i-1]+1 {
			segments = append(segments, cols[start:i])
			start = i
		}
	}

	return segments
}

// scanSegment finds free runs inside one segment of the hypothetical state.
// Interior runs of size one that touch a batch seat are orphans; interior
// runs of size two are tolerated with a warning, since rejecting them forces
// over-selection more often than it protects revenue.
func (v *SeatAdjacencyValidator) scanSegment(
	label string,
	segment []int,
	hypothetical map[domain.SeatID]bool,
	fromBatch map[domain.SeatID]bool,
) []domain.SeatID {
	var orphans []domain.SeatID

	i := 0
	for i < len(segment) {
		if hypothetical[domain.SeatID{Row: label, Col: segment[i]}] {
			i++
			continue
		}

		j := i
		for j < len(segment) && !hypothetical[domain.SeatID{Row: label, Col: segment[j]}] {
			j++
		}

		interior := i > 0 && j < len(segment)
		if interior {
			left := domain.SeatID{Row: label, Col: segment[i-1]}
			right := domain.SeatID{Row: label, Col: segment[j]}

			if fromBatch[left] || fromBatch[right] {
				switch j - i {
				case 1:
					orphans = append(orphans, domain.SeatID{Row: label, Col: segment[i]})
				case 2:
					v.logger.Warn("selection leaves a two-seat gap",
						"row", label, "from_column", segment[i], "to_column", segment[j-1])
				}
			}
		}

		i = j
	}

	return orphans
}

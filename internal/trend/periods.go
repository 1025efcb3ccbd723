// Package trend implements the temporal analysis layer: period bucketing,
// the linear and GAM regression models with their diagnostic suites,
// rolling-origin cross-validation and forecasting.
package trend

import (
	"fmt"
	"time"

	"github.com/sensibyte/SensiByte/internal/domain"
)

// Period is one contiguous bucket of the analysis range.
type Period struct {
	Start time.Time
	End   time.Time
	Label string
}

// CalculatePeriods partitions [start, end] into contiguous buckets by the
// grouping, labelling them "Q<q> <yyyy>", "S<s> <yyyy>" or "<yyyy>".
// Buckets are spans of the grouping's length counted from start, each
// labelled by the period its first day falls in, so they follow calendar
// boundaries only when start is the first day of a period. A bucket whose
// label repeats the previous one is merged into it; the last bucket is cut
// at end.
func CalculatePeriods(start, end time.Time, grouping domain.Grouping) []Period {
	var months int
	switch grouping {
	case domain.ByQuarter:
		months = 3
	case domain.BySemester:
		months = 6
	default:
		months = 12
	}

	var periods []Period
	lastLabel := ""
	cur := start
	for !cur.After(end) {
		next := cur.AddDate(0, months, 0).AddDate(0, 0, -1)
		if next.After(end) {
			next = end
		}

		var label string
		switch grouping {
		case domain.ByQuarter:
			q := (int(cur.Month())-1)/3 + 1
			label = fmt.Sprintf("Q%d %d", q, cur.Year())
		case domain.BySemester:
			s := 1
			if cur.Month() > 6 {
				s = 2
			}
			label = fmt.Sprintf("S%d %d", s, cur.Year())
		default:
			label = fmt.Sprintf("%d", cur.Year())
		}

		if label != lastLabel {
			periods = append(periods, Period{Start: cur, End: next, Label: label})
			lastLabel = label
		} else {
			periods[len(periods)-1].End = next
		}
		cur = next.AddDate(0, 0, 1)
	}
	return periods
}

// NextLabel names the period immediately after the one ending at end.
func NextLabel(end time.Time, grouping domain.Grouping) string {
	next := end.AddDate(0, 0, 1)
	switch grouping {
	case domain.ByQuarter:
		return fmt.Sprintf("Q%d %d", (int(next.Month())-1)/3+1, next.Year())
	case domain.BySemester:
		s := 1
		if next.Month() > 6 {
			s = 2
		}
		return fmt.Sprintf("S%d %d", s, next.Year())
	default:
		return fmt.Sprintf("%d", next.Year())
	}
}

package trend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensibyte/SensiByte/internal/domain"
)

func d(y int, m time.Month, day int) time.Time {
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

func TestQuarterlyPeriods(t *testing.T) {
	periods := CalculatePeriods(d(2022, 1, 1), d(2023, 12, 31), domain.ByQuarter)
	require.Len(t, periods, 8)

	assert.Equal(t, "Q1 2022", periods[0].Label)
	assert.Equal(t, d(2022, 1, 1), periods[0].Start)
	assert.Equal(t, d(2022, 3, 31), periods[0].End)

	assert.Equal(t, "Q4 2023", periods[7].Label)
	assert.Equal(t, d(2023, 12, 31), periods[7].End)

	// Contiguity: each period starts the day after the previous one ends.
	for i := 1; i < len(periods); i++ {
		assert.Equal(t, periods[i-1].End.AddDate(0, 0, 1), periods[i].Start)
	}
}

func TestSemesterAndYearLabels(t *testing.T) {
	semesters := CalculatePeriods(d(2023, 1, 1), d(2023, 12, 31), domain.BySemester)
	require.Len(t, semesters, 2)
	assert.Equal(t, "S1 2023", semesters[0].Label)
	assert.Equal(t, "S2 2023", semesters[1].Label)

	years := CalculatePeriods(d(2021, 1, 1), d(2023, 12, 31), domain.ByYear)
	require.Len(t, years, 3)
	assert.Equal(t, "2021", years[0].Label)
	assert.Equal(t, "2023", years[2].Label)
}

func TestPartialTrailingPeriod(t *testing.T) {
	periods := CalculatePeriods(d(2024, 1, 1), d(2024, 5, 15), domain.ByQuarter)
	require.Len(t, periods, 2)
	assert.Equal(t, d(2024, 5, 15), periods[1].End)
}

func TestNextLabel(t *testing.T) {
	assert.Equal(t, "Q1 2025", NextLabel(d(2024, 12, 31), domain.ByQuarter))
	assert.Equal(t, "S2 2024", NextLabel(d(2024, 6, 30), domain.BySemester))
	assert.Equal(t, "2025", NextLabel(d(2024, 12, 31), domain.ByYear))
}

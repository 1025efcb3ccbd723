package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCI95ZeroWidthOnEmpty(t *testing.T) {
	low, high := ci95(0, 0)
	assert.Equal(t, 0.0, low)
	assert.Equal(t, 0.0, high)
}

func TestCI95BoundsContainPoint(t *testing.T) {
	cases := []struct{ x, n int }{
		{0, 10}, {5, 10}, {10, 10}, // Clopper-Pearson range
		{3, 30}, {30, 30},
		{10, 100}, {50, 100}, {99, 100}, // Agresti-Coull range
	}
	for _, c := range cases {
		low, high := ci95(c.x, c.n)
		p := float64(c.x) / float64(c.n)
		assert.LessOrEqual(t, low, p+1e-9, "x=%d n=%d", c.x, c.n)
		assert.GreaterOrEqual(t, high, p-1e-9, "x=%d n=%d", c.x, c.n)
		assert.GreaterOrEqual(t, low, 0.0)
		assert.LessOrEqual(t, high, 1.0)
	}
}

func TestCI95MethodSwitch(t *testing.T) {
	// At the exact boundary the exact method applies; one above, the
	// adjusted-Wald approximation takes over. The two differ measurably
	// for mid-range proportions.
	cpLow, cpHigh := ci95(15, 30)
	directLow, directHigh := clopperPearson(15, 30)
	assert.InDelta(t, directLow, cpLow, 1e-12)
	assert.InDelta(t, directHigh, cpHigh, 1e-12)

	acLow, acHigh := ci95(16, 31)
	wantLow, wantHigh := agrestiCoull(16, 31)
	assert.InDelta(t, wantLow, acLow, 1e-12)
	assert.InDelta(t, wantHigh, acHigh, 1e-12)
}

func TestClopperPearsonKnownValue(t *testing.T) {
	// 5/10 at 95%: the textbook exact interval is (0.187, 0.813).
	low, high := clopperPearson(5, 10)
	assert.InDelta(t, 0.187, low, 0.005)
	assert.InDelta(t, 0.813, high, 0.005)
}

func TestAgrestiCoullKnownValue(t *testing.T) {
	// 50/100 at 95% is close to the Wald interval (0.402, 0.598).
	low, high := agrestiCoull(50, 100)
	assert.InDelta(t, 0.402, low, 0.01)
	assert.InDelta(t, 0.598, high, 0.01)
}

func TestCompareRequiresMinimumTotals(t *testing.T) {
	assert.Equal(t, "", compareProportions(1, 5, 9, 50))
	assert.Equal(t, "", compareProportions(40, 50, 3, 9))
}

func TestCompareArrowDirection(t *testing.T) {
	// A collapse from 90% to 30% susceptibility over large samples is
	// unambiguously significant and points down.
	assert.Equal(t, "↓", compareProportions(30, 100, 90, 100))
	assert.Equal(t, "↑", compareProportions(90, 100, 30, 100))

	// Identical proportions never produce an arrow.
	assert.Equal(t, "", compareProportions(50, 100, 50, 100))
}

func TestCompareUsesFisherForSmallExpected(t *testing.T) {
	// A sparse success column keeps the expected frequencies below 5, so
	// Fisher's exact decides; the drop is still significant.
	assert.Equal(t, "↓", compareProportions(0, 12, 5, 12))
}

func TestFisherExactKnownTable(t *testing.T) {
	// Fisher's tea-tasting table: [[3,1],[1,3]] has two-sided p ≈ 0.486.
	p := fisherExact(3, 1, 1, 3)
	assert.InDelta(t, 0.486, p, 0.01)
}

func TestChiSquareIndependence(t *testing.T) {
	// A perfectly balanced table carries no association.
	p := chiSquare(50, 50, 50, 50)
	assert.InDelta(t, 1.0, p, 1e-9)

	// A strongly associated table is essentially zero.
	p = chiSquare(90, 10, 10, 90)
	assert.Less(t, p, 1e-6)
}

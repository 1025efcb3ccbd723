// Package report builds cumulative resistance reports: first-isolate
// deduplication, stratified S/I/R proportions with 95% confidence
// intervals, mechanism-combination summaries and period-over-period
// significance.
package report

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// ci95 returns the 95% confidence interval of the proportion x/n as
// fractions in [0, 1]. Clopper–Pearson exact is used for n <= 30,
// Agresti–Coull above. n = 0 yields the zero-width interval [0, 0].
func ci95(x, n int) (low, high float64) {
	if n == 0 {
		return 0, 0
	}
	if n <= 30 {
		return clopperPearson(x, n)
	}
	return agrestiCoull(x, n)
}

// clopperPearson inverts the beta distribution at alpha = 0.05.
func clopperPearson(x, n int) (low, high float64) {
	const alpha = 0.05
	if x > 0 {
		low = distuv.Beta{Alpha: float64(x), Beta: float64(n - x + 1)}.Quantile(alpha / 2)
	}
	high = 1
	if x < n {
		high = distuv.Beta{Alpha: float64(x + 1), Beta: float64(n - x)}.Quantile(1 - alpha/2)
	}
	return low, high
}

// agrestiCoull is the adjusted-Wald interval at z = z(0.975).
func agrestiCoull(x, n int) (low, high float64) {
	z := distuv.UnitNormal.Quantile(0.975)
	nTilde := float64(n) + z*z
	pTilde := (float64(x) + z*z/2) / nTilde
	half := z * math.Sqrt(pTilde*(1-pTilde)/nTilde)
	return math.Max(0, pTilde-half), math.Min(1, pTilde+half)
}

// compareProportions tests whether the success proportion moved between
// two periods and returns "↑", "↓" or "".
//
// Both totals must reach 10. The 2x2 table's expected frequencies choose
// the test: Fisher's exact when any expected cell is below 5, Pearson χ²
// of independence otherwise. The arrow only appears at p < 0.05 and points
// with the sign of the change.
func compareProportions(successCur, totalCur, successPrev, totalPrev int) string {
	const alpha = 0.05
	if totalCur < 10 || totalPrev < 10 {
		return ""
	}
	failCur := totalCur - successCur
	failPrev := totalPrev - successPrev
	if successCur < 0 || failCur < 0 || successPrev < 0 || failPrev < 0 {
		return ""
	}

	var p float64
	if anyExpectedBelow5(successCur, failCur, successPrev, failPrev) {
		p = fisherExact(successCur, failCur, successPrev, failPrev)
	} else {
		p = chiSquare(successCur, failCur, successPrev, failPrev)
	}
	if p >= alpha {
		return ""
	}

	propCur := float64(successCur) / float64(totalCur)
	propPrev := float64(successPrev) / float64(totalPrev)
	if propCur > propPrev {
		return "↑"
	}
	return "↓"
}

func anyExpectedBelow5(a, b, c, d int) bool {
	total := float64(a + b + c + d)
	if total == 0 {
		return true
	}
	rows := [2]float64{float64(a + b), float64(c + d)}
	cols := [2]float64{float64(a + c), float64(b + d)}
	for _, r := range rows {
		for _, col := range cols {
			if r*col/total < 5 {
				return true
			}
		}
	}
	return false
}

// chiSquare is Pearson's test of independence on the 2x2 table, df = 1.
func chiSquare(a, b, c, d int) float64 {
	total := float64(a + b + c + d)
	rows := [2]float64{float64(a + b), float64(c + d)}
	cols := [2]float64{float64(a + c), float64(b + d)}
	obs := [2][2]float64{{float64(a), float64(b)}, {float64(c), float64(d)}}

	stat := 0.0
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			exp := rows[i] * cols[j] / total
			if exp == 0 {
				continue
			}
			diff := obs[i][j] - exp
			stat += diff * diff / exp
		}
	}
	chi := distuv.ChiSquared{K: 1}
	return 1 - chi.CDF(stat)
}

// fisherExact is the two-sided exact test on the 2x2 table: the sum of all
// hypergeometric table probabilities not exceeding the observed one.
func fisherExact(a, b, c, d int) float64 {
	r1 := a + b
	r2 := c + d
	c1 := a + c
	n := r1 + r2

	lo := 0
	if r1+c1-n > 0 {
		lo = r1 + c1 - n
	}
	hi := r1
	if c1 < hi {
		hi = c1
	}

	pObs := hypergeomPMF(a, r1, r2, c1)
	const eps = 1e-9
	p := 0.0
	for k := lo; k <= hi; k++ {
		if pk := hypergeomPMF(k, r1, r2, c1); pk <= pObs*(1+eps) {
			p += pk
		}
	}
	return math.Min(1, p)
}

// hypergeomPMF is P(X = k) drawing c1 items from r1 successes and r2
// failures, computed in log space.
func hypergeomPMF(k, r1, r2, c1 int) float64 {
	if k < 0 || k > r1 || c1-k < 0 || c1-k > r2 {
		return 0
	}
	return math.Exp(logChoose(r1, k) + logChoose(r2, c1-k) - logChoose(r1+r2, c1))
}

func logChoose(n, k int) float64 {
	if k < 0 || k > n {
		return math.Inf(-1)
	}
	ln1, _ := math.Lgamma(float64(n + 1))
	ln2, _ := math.Lgamma(float64(k + 1))
	ln3, _ := math.Lgamma(float64(n - k + 1))
	return ln1 - ln2 - ln3
}

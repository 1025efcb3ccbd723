package trend

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Diagnostics is the residual test battery shared by both models. Pointers
// are nil when a test was not run (Shapiro–Wilk beyond n = 50) or could not
// be computed.
type Diagnostics struct {
	JarqueBeraStat *float64 `json:"jarque_bera_stat,omitempty"`
	JarqueBeraP    *float64 `json:"jarque_bera_p,omitempty"`

	ShapiroStat *float64 `json:"shapiro_stat,omitempty"`
	ShapiroP    *float64 `json:"shapiro_p,omitempty"`

	BreuschPaganStat *float64 `json:"breusch_pagan_stat,omitempty"`
	BreuschPaganP    *float64 `json:"breusch_pagan_p,omitempty"`

	WhiteStat *float64 `json:"white_stat,omitempty"`
	WhiteP    *float64 `json:"white_p,omitempty"`

	DurbinWatson *float64 `json:"durbin_watson,omitempty"`

	LjungBoxLag  int      `json:"ljung_box_lag,omitempty"`
	LjungBoxStat *float64 `json:"ljung_box_stat,omitempty"`
	LjungBoxP    *float64 `json:"ljung_box_p,omitempty"`

	ACF     []float64 `json:"acf,omitempty"`
	ACFPlot string    `json:"acf_plot,omitempty"` // base64 PNG
}

// runDiagnostics computes the full battery on a residual series given the
// regressor values. White's test is skipped when x is nil.
func runDiagnostics(resid, x []float64, acfTitle string) Diagnostics {
	d := Diagnostics{}
	n := len(resid)
	if n == 0 {
		return d
	}

	if stat, p, ok := jarqueBera(resid); ok {
		d.JarqueBeraStat, d.JarqueBeraP = &stat, &p
	}
	if n <= 50 {
		if stat, p, ok := shapiroWilk(resid); ok {
			d.ShapiroStat, d.ShapiroP = &stat, &p
		}
	}
	if x != nil {
		if stat, p, ok := breuschPagan(resid, x); ok {
			d.BreuschPaganStat, d.BreuschPaganP = &stat, &p
		}
		if stat, p, ok := whiteTest(resid, x); ok {
			d.WhiteStat, d.WhiteP = &stat, &p
		}
	}
	if dw, ok := durbinWatson(resid); ok {
		d.DurbinWatson = &dw
	}

	lag := minInt(10, maxInt(1, n/5))
	if stat, p, ok := ljungBox(resid, lag); ok {
		d.LjungBoxLag = lag
		d.LjungBoxStat, d.LjungBoxP = &stat, &p
	}

	maxLag := minInt(n-1, 10)
	if maxLag > 0 {
		d.ACF = autocorrelations(resid, maxLag)
		d.ACFPlot = acfPlot(d.ACF, n, acfTitle)
	}
	return d
}

// jarqueBera tests residual normality from skewness and kurtosis; the
// statistic is asymptotically chi-squared with 2 degrees of freedom.
func jarqueBera(resid []float64) (stat, p float64, ok bool) {
	n := float64(len(resid))
	if n < 3 {
		return 0, 0, false
	}
	m := mean(resid)
	var m2, m3, m4 float64
	for _, r := range resid {
		d := r - m
		m2 += d * d
		m3 += d * d * d
		m4 += d * d * d * d
	}
	m2 /= n
	m3 /= n
	m4 /= n
	if m2 == 0 {
		return 0, 1, true
	}
	skew := m3 / math.Pow(m2, 1.5)
	kurt := m4 / (m2 * m2)
	stat = n / 6 * (skew*skew + (kurt-3)*(kurt-3)/4)
	p = 1 - distuv.ChiSquared{K: 2}.CDF(stat)
	return stat, p, true
}

// shapiroWilk implements Royston's AS R94 approximation, valid for
// 3 <= n <= 5000. Only the n <= 50 range is exercised here.
func shapiroWilk(sample []float64) (w, p float64, ok bool) {
	n := len(sample)
	if n < 3 {
		return 0, 0, false
	}

	x := append([]float64(nil), sample...)
	sort.Float64s(x)
	if x[0] == x[n-1] {
		return 0, 0, false
	}

	// Expected normal order statistics (Blom scores), normalized.
	m := make([]float64, n)
	norm := distuv.UnitNormal
	for i := 0; i < n; i++ {
		m[i] = norm.Quantile((float64(i+1) - 0.375) / (float64(n) + 0.25))
	}
	var mm float64
	for _, v := range m {
		mm += v * v
	}

	a := make([]float64, n)
	u := 1 / math.Sqrt(float64(n))
	rm := math.Sqrt(mm)
	if n <= 5 {
		an := m[n-1] / rm
		a1 := an + polyval([]float64{-2.706056, 4.434685, -2.071190, -0.147981, 0.221157, 0}, u)
		phi := (mm - 2*m[n-1]*m[n-1]) / (1 - 2*a1*a1)
		a[n-1] = a1
		a[0] = -a1
		for i := 1; i < n-1; i++ {
			a[i] = m[i] / math.Sqrt(phi)
		}
	} else {
		an := m[n-1] / rm
		an1 := m[n-2] / rm
		a1 := an + polyval([]float64{-2.706056, 4.434685, -2.071190, -0.147981, 0.221157, 0}, u)
		a2 := an1 + polyval([]float64{-3.582633, 5.682633, -1.752461, -0.293762, 0.042981, 0}, u)
		phi := (mm - 2*m[n-1]*m[n-1] - 2*m[n-2]*m[n-2]) / (1 - 2*a1*a1 - 2*a2*a2)
		a[n-1], a[n-2] = a1, a2
		a[0], a[1] = -a1, -a2
		for i := 2; i < n-2; i++ {
			a[i] = m[i] / math.Sqrt(phi)
		}
	}

	xb := mean(x)
	var num, den float64
	for i := 0; i < n; i++ {
		num += a[i] * x[i]
		den += (x[i] - xb) * (x[i] - xb)
	}
	w = num * num / den
	if w >= 1 {
		return 1, 1, true
	}

	// Royston's normalizing transformation of W.
	if n <= 11 {
		fn := float64(n)
		gamma := -2.273 + 0.459*fn
		mu := polyval([]float64{-0.0006714, 0.0250540, -0.39978, 0.54400}, fn)
		sigma := math.Exp(polyval([]float64{-0.0020322, 0.0627670, -0.77857, 1.38220}, fn))
		if gamma-math.Log(1-w) <= 0 {
			return w, 0, true
		}
		z := (-math.Log(gamma-math.Log(1-w)) - mu) / sigma
		p = 1 - norm.CDF(z)
		return w, p, true
	}
	lnN := math.Log(float64(n))
	mu := polyval([]float64{0.0038915, -0.083751, -0.31082, -1.5861}, lnN)
	sigma := math.Exp(polyval([]float64{0.0030302, -0.082676, -0.4803}, lnN))
	z := (math.Log(1-w) - mu) / sigma
	p = 1 - norm.CDF(z)
	return w, p, true
}

// polyval evaluates a polynomial with coefficients ordered highest first.
func polyval(coefs []float64, x float64) float64 {
	v := 0.0
	for _, c := range coefs {
		v = v*x + c
	}
	return v
}

// breuschPagan is the LM test of homoscedasticity: squared residuals
// regressed on the regressor, statistic n·R², chi-squared df 1.
func breuschPagan(resid, x []float64) (stat, p float64, ok bool) {
	n := len(resid)
	if n < 4 {
		return 0, 0, false
	}
	y := make([]float64, n)
	for i, r := range resid {
		y[i] = r * r
	}
	r2, ok := auxR2(y, [][]float64{x})
	if !ok {
		return 0, 0, false
	}
	stat = float64(n) * r2
	p = 1 - distuv.ChiSquared{K: 1}.CDF(stat)
	return stat, p, true
}

// whiteTest extends Breusch–Pagan with the squared regressor, chi-squared
// df 2.
func whiteTest(resid, x []float64) (stat, p float64, ok bool) {
	n := len(resid)
	if n < 5 {
		return 0, 0, false
	}
	y := make([]float64, n)
	x2 := make([]float64, n)
	for i, r := range resid {
		y[i] = r * r
		x2[i] = x[i] * x[i]
	}
	r2, ok := auxR2(y, [][]float64{x, x2})
	if !ok {
		return 0, 0, false
	}
	stat = float64(n) * r2
	p = 1 - distuv.ChiSquared{K: 2}.CDF(stat)
	return stat, p, true
}

// durbinWatson measures lag-1 autocorrelation of the residuals.
func durbinWatson(resid []float64) (float64, bool) {
	if len(resid) < 2 {
		return 0, false
	}
	var num, den float64
	for i, r := range resid {
		den += r * r
		if i > 0 {
			d := r - resid[i-1]
			num += d * d
		}
	}
	if den == 0 {
		return 0, false
	}
	return num / den, true
}

// ljungBox tests joint autocorrelation up to the given lag.
func ljungBox(resid []float64, lags int) (stat, p float64, ok bool) {
	n := len(resid)
	if n <= lags+1 {
		lags = n - 2
	}
	if lags < 1 {
		return 0, 0, false
	}
	acf := autocorrelations(resid, lags)
	fn := float64(n)
	for k, rho := range acf {
		stat += rho * rho / (fn - float64(k+1))
	}
	stat *= fn * (fn + 2)
	p = 1 - distuv.ChiSquared{K: float64(lags)}.CDF(stat)
	return stat, p, true
}

// auxR2 fits y on an intercept plus the given regressors by least squares
// and returns the coefficient of determination.
func auxR2(y []float64, regressors [][]float64) (float64, bool) {
	n := len(y)
	k := len(regressors) + 1
	if n <= k {
		return 0, false
	}
	X := mat.NewDense(n, k, nil)
	for i := 0; i < n; i++ {
		X.Set(i, 0, 1)
		for j, reg := range regressors {
			X.Set(i, j+1, reg[i])
		}
	}
	yv := mat.NewVecDense(n, append([]float64(nil), y...))

	var beta mat.VecDense
	if err := beta.SolveVec(X, yv); err != nil {
		// Fall back to the normal equations when X is rank deficient.
		var xtx, xty mat.Dense
		xtx.Mul(X.T(), X)
		xty.Mul(X.T(), yv)
		var sol mat.Dense
		if err := sol.Solve(&xtx, &xty); err != nil {
			return 0, false
		}
		beta.CloneFromVec(sol.ColView(0))
	}

	var fitted mat.VecDense
	fitted.MulVec(X, &beta)

	yb := mean(y)
	var rss, tss float64
	for i := 0; i < n; i++ {
		e := y[i] - fitted.AtVec(i)
		rss += e * e
		d := y[i] - yb
		tss += d * d
	}
	if tss == 0 {
		return 0, false
	}
	return 1 - rss/tss, true
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

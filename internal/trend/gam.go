package trend

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// gamConfig picks the spline basis adaptively from the observation count,
// guaranteeing splines > order.
func gamConfig(n int) (nSplines, order int) {
	switch {
	case n <= 6:
		order = 2
		nSplines = maxInt(3, minInt(n-1, 5))
	case n <= 10:
		order = 2
		nSplines = minInt(n, 6)
	default:
		order = 3
		nSplines = minInt(n, 10)
	}
	if nSplines <= order {
		nSplines = order + 1
	}
	return nSplines, order
}

// bsplineBasis is a clamped uniform B-spline basis over [lo, hi].
type bsplineBasis struct {
	degree int
	knots  []float64
	num    int
}

// newBasis builds nSplines basis functions of the given polynomial degree.
// The domain must cover every x the model will be evaluated at, including
// forecast points.
func newBasis(nSplines, degree int, lo, hi float64) *bsplineBasis {
	if hi <= lo {
		hi = lo + 1
	}
	// Clamped knot vector: degree+1 repeats at both ends, uniform inside.
	inner := nSplines - degree - 1
	knots := make([]float64, 0, nSplines+degree+1)
	for i := 0; i <= degree; i++ {
		knots = append(knots, lo)
	}
	for i := 1; i <= inner; i++ {
		knots = append(knots, lo+(hi-lo)*float64(i)/float64(inner+1))
	}
	for i := 0; i <= degree; i++ {
		knots = append(knots, hi)
	}
	return &bsplineBasis{degree: degree, knots: knots, num: nSplines}
}

// eval returns the basis row at x by the Cox–de Boor recursion. Values
// outside the domain clamp to the nearest endpoint, which extrapolates the
// boundary polynomial.
func (b *bsplineBasis) eval(x float64) []float64 {
	lo := b.knots[0]
	hi := b.knots[len(b.knots)-1]
	x = clip(x, lo, hi-1e-12)

	out := make([]float64, b.num)
	// Degree 0.
	nKnots := len(b.knots)
	prev := make([]float64, nKnots-1)
	for i := 0; i < nKnots-1; i++ {
		if x >= b.knots[i] && x < b.knots[i+1] {
			prev[i] = 1
		}
	}
	// Raise the degree.
	for d := 1; d <= b.degree; d++ {
		cur := make([]float64, nKnots-1-d)
		for i := range cur {
			var left, right float64
			if den := b.knots[i+d] - b.knots[i]; den > 0 {
				left = (x - b.knots[i]) / den * prev[i]
			}
			if den := b.knots[i+d+1] - b.knots[i+1]; den > 0 {
				right = (b.knots[i+d+1] - x) / den * prev[i+1]
			}
			cur[i] = left + right
		}
		prev = cur
	}
	copy(out, prev[:b.num])
	return out
}

// gamFit is a penalized B-spline regression with a second-order difference
// penalty on the coefficients, fitted on the logit scale.
type gamFit struct {
	basis  *bsplineBasis
	beta   *mat.VecDense
	ginv   *mat.Dense // (BᵀB + λDᵀD)⁻¹
	lambda float64

	EDOF     float64
	GCV      float64
	PseudoR2 float64
	AIC      float64
	SmoothP  float64
	Resid    []float64
	Fitted   []float64

	sigma2 float64
}

// fitGAM fits y (logit scale) on x with the given basis size, order and
// smoothing parameter. domainHi extends the basis domain beyond max(x) so
// forecasts stay inside it.
func fitGAM(x, y []float64, nSplines, order int, lambda, domainHi float64) (*gamFit, error) {
	n := len(x)
	if n < 3 || n != len(y) {
		return nil, errors.New("need at least 3 paired observations")
	}

	lo := x[0]
	hi := x[0]
	for _, v := range x {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if domainHi > hi {
		hi = domainHi
	}

	basis := newBasis(nSplines, order, lo, hi)
	B := mat.NewDense(n, nSplines, nil)
	for i, xv := range x {
		B.SetRow(i, basis.eval(xv))
	}

	// Second-order difference penalty.
	D := mat.NewDense(maxInt(1, nSplines-2), nSplines, nil)
	if nSplines >= 3 {
		for i := 0; i < nSplines-2; i++ {
			D.Set(i, i, 1)
			D.Set(i, i+1, -2)
			D.Set(i, i+2, 1)
		}
	}

	var btb, dtd, g mat.Dense
	btb.Mul(B.T(), B)
	dtd.Mul(D.T(), D)
	dtd.Scale(lambda, &dtd)
	g.Add(&btb, &dtd)

	// Small ridge keeps the system well posed when folds are tiny.
	for i := 0; i < nSplines; i++ {
		g.Set(i, i, g.At(i, i)+1e-9)
	}

	var ginv mat.Dense
	if err := ginv.Inverse(&g); err != nil {
		return nil, err
	}

	yv := mat.NewVecDense(n, append([]float64(nil), y...))
	var bty mat.VecDense
	bty.MulVec(B.T(), yv)
	beta := mat.NewVecDense(nSplines, nil)
	beta.MulVec(&ginv, &bty)

	f := &gamFit{basis: basis, beta: beta, ginv: &ginv, lambda: lambda}

	// Hat matrix trace gives the effective degrees of freedom.
	var bg mat.Dense
	bg.Mul(B, &ginv)
	var hat mat.Dense
	hat.Mul(&bg, B.T())
	for i := 0; i < n; i++ {
		f.EDOF += hat.At(i, i)
	}

	f.Fitted = make([]float64, n)
	f.Resid = make([]float64, n)
	ybar := mean(y)
	var rss, tss float64
	for i := 0; i < n; i++ {
		var fit float64
		row := basis.eval(x[i])
		for j, bv := range row {
			fit += bv * beta.AtVec(j)
		}
		f.Fitted[i] = fit
		f.Resid[i] = y[i] - fit
		rss += f.Resid[i] * f.Resid[i]
		d := y[i] - ybar
		tss += d * d
	}

	fn := float64(n)
	if tss > 0 {
		f.PseudoR2 = math.Max(0, 1-rss/tss)
	}
	denom := fn - f.EDOF
	if denom <= 0 {
		denom = 1e-6
	}
	f.sigma2 = rss / denom
	f.GCV = fn * rss / (denom * denom)

	ll := -fn / 2 * (math.Log(2*math.Pi) + math.Log(math.Max(rss/fn, 1e-300)) + 1)
	f.AIC = -2*ll + 2*f.EDOF

	// Approximate F-test of the smooth term against the constant model.
	if tss > rss && f.EDOF > 1 && denom > 0 {
		fstat := ((tss - rss) / (f.EDOF - 1)) / (rss / denom)
		f.SmoothP = 1 - distuv.F{D1: f.EDOF - 1, D2: denom}.CDF(fstat)
	} else {
		f.SmoothP = 1
	}

	return f, nil
}

// Predict evaluates the smooth at x (logit scale).
func (f *gamFit) Predict(x float64) float64 {
	row := f.basis.eval(x)
	var out float64
	for j, bv := range row {
		out += bv * f.beta.AtVec(j)
	}
	return out
}

// intervals returns the 95% confidence and prediction bands at x on the
// logit scale.
func (f *gamFit) intervals(x float64) (ciLow, ciHigh, piLow, piHigh float64) {
	row := f.basis.eval(x)
	b := mat.NewVecDense(len(row), row)
	var gb mat.VecDense
	gb.MulVec(f.ginv, b)
	leverage := mat.Dot(b, &gb)

	p := f.Predict(x)
	z := distuv.UnitNormal.Quantile(0.975)
	seFit := math.Sqrt(math.Max(0, f.sigma2*leverage))
	sePred := math.Sqrt(math.Max(0, f.sigma2*(1+leverage)))
	return p - z*seFit, p + z*seFit, p - z*sePred, p + z*sePred
}

// PredictPercent back-transforms a logit-scale prediction to [0, 100].
func (f *gamFit) PredictPercent(x float64) float64 {
	return clip(expit(f.Predict(x))*100, 0, 100)
}

// PredictionIntervalPercent is the 95% prediction band in percent.
func (f *gamFit) PredictionIntervalPercent(x float64) (low, high float64) {
	_, _, piLow, piHigh := f.intervals(x)
	return clip(expit(piLow)*100, 0, 100), clip(expit(piHigh)*100, 0, 100)
}

// ConfidenceIntervalPercent is the 95% confidence band in percent.
func (f *gamFit) ConfidenceIntervalPercent(x float64) (low, high float64) {
	ciLow, ciHigh, _, _ := f.intervals(x)
	return clip(expit(ciLow)*100, 0, 100), clip(expit(ciHigh)*100, 0, 100)
}

package trend

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// olsFit is a simple linear regression y ~ b0 + b1·x with the inference
// the analyzer reports.
type olsFit struct {
	x, y []float64

	Slope     float64
	Intercept float64
	R2        float64
	Resid     []float64
	Fitted    []float64

	SlopeSE   float64
	SlopeP    float64
	SlopeLow  float64
	SlopeHigh float64
	FStat     float64
	FP        float64
	AIC       float64
	BIC       float64

	sigma2 float64
	xbar   float64
	sxx    float64
}

// fitOLS fits by the closed-form normal equations. Requires n >= 3 and a
// non-degenerate x.
func fitOLS(x, y []float64) (*olsFit, error) {
	n := len(x)
	if n < 3 || n != len(y) {
		return nil, errors.New("need at least 3 paired observations")
	}

	xbar := mean(x)
	ybar := mean(y)
	var sxx, sxy float64
	for i := range x {
		dx := x[i] - xbar
		sxx += dx * dx
		sxy += dx * (y[i] - ybar)
	}
	if sxx == 0 {
		return nil, errors.New("degenerate regressor")
	}

	f := &olsFit{x: x, y: y, xbar: xbar, sxx: sxx}
	f.Slope = sxy / sxx
	f.Intercept = ybar - f.Slope*xbar

	f.Fitted = make([]float64, n)
	f.Resid = make([]float64, n)
	var rss, tss float64
	for i := range x {
		f.Fitted[i] = f.Intercept + f.Slope*x[i]
		f.Resid[i] = y[i] - f.Fitted[i]
		rss += f.Resid[i] * f.Resid[i]
		d := y[i] - ybar
		tss += d * d
	}
	if tss > 0 {
		f.R2 = 1 - rss/tss
	}

	df := float64(n - 2)
	f.sigma2 = rss / df
	f.SlopeSE = math.Sqrt(f.sigma2 / sxx)

	tdist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	if f.SlopeSE > 0 {
		t := f.Slope / f.SlopeSE
		f.SlopeP = 2 * (1 - tdist.CDF(math.Abs(t)))
		f.FStat = t * t
		f.FP = 1 - distuv.F{D1: 1, D2: df}.CDF(f.FStat)
	}
	tq := tdist.Quantile(0.975)
	f.SlopeLow = f.Slope - tq*f.SlopeSE
	f.SlopeHigh = f.Slope + tq*f.SlopeSE

	// Gaussian log-likelihood with the ML variance, as statsmodels does.
	fn := float64(n)
	ll := -fn / 2 * (math.Log(2*math.Pi) + math.Log(rss/fn) + 1)
	f.AIC = -2*ll + 2*2
	f.BIC = -2*ll + math.Log(fn)*2

	return f, nil
}

// Predict evaluates the fitted line.
func (f *olsFit) Predict(x0 float64) float64 {
	return f.Intercept + f.Slope*x0
}

// PredictionInterval returns the 95% prediction band at x0, accounting for
// both coefficient and observation noise.
func (f *olsFit) PredictionInterval(x0 float64) (low, high float64) {
	n := float64(len(f.x))
	se := math.Sqrt(f.sigma2 * (1 + 1/n + (x0-f.xbar)*(x0-f.xbar)/f.sxx))
	tq := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: n - 2}.Quantile(0.975)
	p := f.Predict(x0)
	return p - tq*se, p + tq*se
}

// ConfidenceInterval returns the 95% band of the conditional mean at x0.
func (f *olsFit) ConfidenceInterval(x0 float64) (low, high float64) {
	n := float64(len(f.x))
	se := math.Sqrt(f.sigma2 * (1/n + (x0-f.xbar)*(x0-f.xbar)/f.sxx))
	tq := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: n - 2}.Quantile(0.975)
	p := f.Predict(x0)
	return p - tq*se, p + tq*se
}

// r2FisherCI approximates the 95% interval of R² by Fisher-transforming
// r = sign(slope)·√R².
func r2FisherCI(r2, slope float64, n int) (low, high float64) {
	if n <= 3 {
		return 0, 1
	}
	r := math.Sqrt(math.Max(0, r2))
	if slope < 0 {
		r = -r
	}
	r = clip(r, -0.999999, 0.999999)
	z := 0.5 * math.Log((1+r)/(1-r))
	se := 1 / math.Sqrt(float64(n-3))
	zq := distuv.UnitNormal.Quantile(0.975)
	inv := func(z float64) float64 {
		e := math.Exp(2 * z)
		return (e - 1) / (e + 1)
	}
	rl := inv(z - zq*se)
	rh := inv(z + zq*se)
	low, high = rl*rl, rh*rh
	if low > high {
		low, high = high, low
	}
	if rl < 0 && rh > 0 {
		low = 0
	}
	return low, high
}

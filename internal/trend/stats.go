package trend

import "math"

// smape is the symmetric mean absolute percentage error of one prediction,
// bounded in [0, 200]. The 0/0 case maps to 0.
func smape(yTrue, yPred float64) float64 {
	num := math.Abs(yTrue - yPred)
	den := (math.Abs(yTrue) + math.Abs(yPred)) / 2
	if den == 0 {
		return 0
	}
	return 100 * num / den
}

func meanSmape(yTrue, yPred []float64) float64 {
	if len(yTrue) == 0 {
		return 0
	}
	sum := 0.0
	for i := range yTrue {
		sum += smape(yTrue[i], yPred[i])
	}
	return sum / float64(len(yTrue))
}

func meanAbs(errs []float64) float64 {
	if len(errs) == 0 {
		return 0
	}
	sum := 0.0
	for _, e := range errs {
		sum += math.Abs(e)
	}
	return sum / float64(len(errs))
}

func rootMeanSquare(errs []float64) float64 {
	if len(errs) == 0 {
		return 0
	}
	sum := 0.0
	for _, e := range errs {
		sum += e * e
	}
	return math.Sqrt(sum / float64(len(errs)))
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	sum := 0.0
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)))
}

// autocorrelations returns lag-1..maxLag sample autocorrelations.
func autocorrelations(xs []float64, maxLag int) []float64 {
	n := len(xs)
	m := mean(xs)
	denom := 0.0
	for _, x := range xs {
		denom += (x - m) * (x - m)
	}
	out := make([]float64, 0, maxLag)
	for lag := 1; lag <= maxLag; lag++ {
		if lag >= n || denom == 0 {
			out = append(out, 0)
			continue
		}
		num := 0.0
		for t := lag; t < n; t++ {
			num += (xs[t] - m) * (xs[t-lag] - m)
		}
		out = append(out, num/denom)
	}
	return out
}

// logit maps a proportion in (0, 1) to the real line.
func logit(p float64) float64 {
	return math.Log(p / (1 - p))
}

// expit is the inverse of logit.
func expit(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// clip bounds v to [lo, hi].
func clip(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

// logitPercent transforms a percentage series to the logit scale with an
// epsilon guard at the boundaries.
func logitPercent(y []float64) []float64 {
	const eps = 1e-6
	out := make([]float64, len(y))
	for i, v := range y {
		out[i] = logit(clip(v/100, eps, 1-eps))
	}
	return out
}

// round2 rounds to two decimals for report fields.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// round4 rounds to four decimals for statistics.
func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// logspace mirrors numpy.logspace: n points from 10^lo to 10^hi.
func logspace(lo, hi float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = math.Pow(10, lo)
		return out
	}
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = math.Pow(10, lo+float64(i)*step)
	}
	return out
}

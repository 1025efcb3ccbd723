package trend

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/sensibyte/SensiByte/internal/domain"
	"github.com/sensibyte/SensiByte/internal/store"
)

// ErrInsufficientData marks a series too short to model.
var ErrInsufficientData = errors.New("at least 3 non-empty periods are required")

// LinearResult is the OLS model output.
type LinearResult struct {
	Err string `json:"error,omitempty"`

	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
	R2        float64 `json:"r2"`
	R2CILow   float64 `json:"r2_ci_low"`
	R2CIHigh  float64 `json:"r2_ci_high"`
	PValue    float64 `json:"p_value"`
	FStat     float64 `json:"f_statistic"`
	FPValue   float64 `json:"f_p_value"`

	MAE   float64 `json:"mae"`
	RMSE  float64 `json:"rmse"`
	SMAPE float64 `json:"smape"`
	AIC   float64 `json:"aic"`
	BIC   float64 `json:"bic"`

	// Exponentiated logit-slope: percentage change of the odds per period.
	RateChange   float64 `json:"rate_change"`
	RateChangeLo float64 `json:"rate_change_low"`
	RateChangeHi float64 `json:"rate_change_high"`

	Forecast     float64 `json:"forecast"`
	ForecastLow  float64 `json:"forecast_low"`
	ForecastHigh float64 `json:"forecast_high"`

	Trend       string `json:"trend"` // ascending, descending, stable
	Significant bool   `json:"significant"`
	Arrow       string `json:"arrow"`

	Diagnostics Diagnostics `json:"diagnostics"`
	CV          CVMetrics   `json:"cv"`
	Chart       string      `json:"chart,omitempty"` // base64 PNG
}

// GAMResult is the logit-link GAM output.
type GAMResult struct {
	Err string `json:"error,omitempty"`

	PseudoR2 float64 `json:"pseudo_r2"`
	MAE      float64 `json:"mae"`
	RMSE     float64 `json:"rmse"`
	EDOF     float64 `json:"edof"`
	AIC      float64 `json:"aic"`
	GCV      float64 `json:"gcv"`
	SmoothP  float64 `json:"smooth_p"`

	NSplines    int     `json:"n_splines"`
	SplineOrder int     `json:"spline_order"`
	Lambda      float64 `json:"lambda"`

	Forecast     float64 `json:"forecast"`
	ForecastLow  float64 `json:"forecast_low"`
	ForecastHigh float64 `json:"forecast_high"`

	Diagnostics Diagnostics `json:"diagnostics"`
	CV          CVMetrics   `json:"cv"`
	Chart       string      `json:"chart,omitempty"`
}

// Analysis is the full trend output: the series, both models and the CV
// layout shared between them.
type Analysis struct {
	Points          []PeriodPoint `json:"points"`
	Global          GlobalStats   `json:"global"`
	NextPeriodLabel string        `json:"next_period_label"`
	Linear          LinearResult  `json:"linear"`
	GAM             GAMResult     `json:"gam"`
	CVConfig        CVConfig      `json:"cv_config"`
}

// Analyzer runs trend analyses over persisted state.
type Analyzer struct {
	store   store.Store
	catalog *domain.Catalog
	tenant  *domain.TenantCatalog
	log     *logrus.Logger
}

// NewAnalyzer wires an analyzer for one tenant.
func NewAnalyzer(st store.Store, catalog *domain.Catalog, tenant *domain.TenantCatalog, logger *logrus.Logger) *Analyzer {
	return &Analyzer{store: st, catalog: catalog, tenant: tenant, log: logger}
}

// Analyze buckets the range, builds the p_si series and fits both models.
// A model that cannot be fitted records its error; the other still runs.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (*Analysis, error) {
	if !req.Grouping.IsValid() {
		return nil, fmt.Errorf("invalid grouping %q", req.Grouping)
	}
	periods := CalculatePeriods(req.From, req.To, req.Grouping)
	if len(periods) == 0 {
		return nil, ErrInsufficientData
	}

	points, err := buildSeries(ctx, a.store, a.tenant, req, periods)
	if err != nil {
		return nil, err
	}

	var x, y []float64
	var labels []string
	for _, p := range points {
		if p.Total == 0 {
			continue
		}
		x = append(x, float64(p.Index))
		y = append(y, p.PercentSI)
		labels = append(labels, p.Label)
	}
	if len(x) < 3 {
		return nil, ErrInsufficientData
	}

	analysis := &Analysis{
		Points:          points,
		Global:          globalStats(points),
		NextPeriodLabel: NextLabel(periods[len(periods)-1].End, req.Grouping),
	}

	cv := crossValidate(x, y, a.log)
	analysis.CVConfig = cv.Config

	analysis.Linear = a.buildLinear(x, y, labels, req.Title, cv.Linear)
	analysis.GAM = a.buildGAM(x, y, labels, req.Title, cv.GAM)

	a.log.WithFields(logrus.Fields{
		"periods": len(points),
		"fitted":  len(x),
		"title":   req.Title,
	}).Info("Trend analysis finished")
	return analysis, nil
}

func (a *Analyzer) buildLinear(x, y []float64, labels []string, title string, cv CVMetrics) LinearResult {
	out := LinearResult{CV: cv}

	fit, err := fitOLS(x, y)
	if err != nil {
		out.Err = fmt.Sprintf("linear regression: %v", err)
		return out
	}
	n := len(x)

	out.Slope = round4(fit.Slope)
	out.Intercept = round4(fit.Intercept)
	out.R2 = round4(fit.R2)
	out.PValue = round4(fit.SlopeP)
	out.FStat = round4(fit.FStat)
	out.FPValue = round4(fit.FP)
	out.AIC = round2(fit.AIC)
	out.BIC = round2(fit.BIC)
	out.MAE = round2(meanAbs(fit.Resid))
	out.RMSE = round4(rootMeanSquare(fit.Resid))
	out.SMAPE = round4(meanSmape(y, fit.Fitted))

	lo, hi := r2FisherCI(fit.R2, fit.Slope, n)
	out.R2CILow = round4(lo)
	out.R2CIHigh = round4(hi)

	// Refit on the logit scale for the period-over-period rate of change.
	if logitFit, err := fitOLS(x, logitPercent(y)); err == nil {
		out.RateChange = round4((math.Exp(logitFit.Slope) - 1) * 100)
		out.RateChangeLo = round4((math.Exp(logitFit.SlopeLow) - 1) * 100)
		out.RateChangeHi = round4((math.Exp(logitFit.SlopeHigh) - 1) * 100)
	}

	nextX := x[len(x)-1] + 1
	out.Forecast = round2(fit.Predict(nextX))
	plow, phigh := fit.PredictionInterval(nextX)
	out.ForecastLow = round2(clip(plow, 0, 100))
	out.ForecastHigh = round2(clip(phigh, 0, 100))

	switch {
	case fit.SlopeP < 0.05 && fit.Slope > 0:
		out.Trend = "ascending"
		out.Significant = true
		out.Arrow = "↑"
	case fit.SlopeP < 0.05 && fit.Slope < 0:
		out.Trend = "descending"
		out.Significant = true
		out.Arrow = "↓"
	default:
		out.Trend = "stable"
	}

	out.Diagnostics = runDiagnostics(fit.Resid, x, "Residual ACF (linear)")

	fitX := make([]float64, 0, len(x)+1)
	fitY := make([]float64, 0, len(x)+1)
	bandLow := make([]float64, 0, len(x)+1)
	bandHigh := make([]float64, 0, len(x)+1)
	for xi := x[0]; xi <= nextX+1e-9; xi++ {
		fitX = append(fitX, xi)
		fitY = append(fitY, clip(fit.Predict(xi), 0, 100))
		l, h := fit.PredictionInterval(xi)
		bandLow = append(bandLow, clip(l, 0, 100))
		bandHigh = append(bandHigh, clip(h, 0, 100))
	}
	out.Chart = seriesChart("Linear trend - "+title, "% susceptible + intermediate",
		labels, x, y, fitX, fitY, bandLow, bandHigh, nextX, out.Forecast)

	return out
}

func (a *Analyzer) buildGAM(x, y []float64, labels []string, title string, cv CVMetrics) GAMResult {
	out := GAMResult{CV: cv}
	if cv.Err != nil {
		out.Err = fmt.Sprintf("cross-validation: %v", cv.Err)
		return out
	}

	lambda := 1.0
	if cv.BestLambda != nil {
		lambda = *cv.BestLambda
	}
	nSpl, order := gamConfig(len(x))
	nextX := x[len(x)-1] + 1

	fit, err := fitGAM(x, logitPercent(y), nSpl, order, lambda, nextX)
	if err != nil {
		out.Err = fmt.Sprintf("GAM: %v", err)
		return out
	}

	out.NSplines = nSpl
	out.SplineOrder = order
	out.Lambda = round4(lambda)
	out.EDOF = round2(fit.EDOF)
	out.GCV = round4(fit.GCV)
	out.PseudoR2 = round4(fit.PseudoR2)
	out.AIC = round2(fit.AIC)
	out.SmoothP = round4(fit.SmoothP)

	fittedPct := make([]float64, len(x))
	resid := make([]float64, len(x))
	for i, xv := range x {
		fittedPct[i] = fit.PredictPercent(xv)
		resid[i] = y[i] - fittedPct[i]
	}
	out.MAE = round4(meanAbs(resid))
	out.RMSE = round4(rootMeanSquare(resid))

	out.Forecast = round2(fit.PredictPercent(nextX))
	lo, hi := fit.PredictionIntervalPercent(nextX)
	out.ForecastLow = round2(lo)
	out.ForecastHigh = round2(hi)

	out.Diagnostics = runDiagnostics(resid, x, "Residual ACF (GAM)")

	// Smooth curve across the range plus the forecast step.
	const steps = 150
	fitX := make([]float64, 0, steps)
	fitY := make([]float64, 0, steps)
	bandLow := make([]float64, 0, steps)
	bandHigh := make([]float64, 0, steps)
	span := nextX - x[0]
	for i := 0; i <= steps; i++ {
		xv := x[0] + span*float64(i)/steps
		fitX = append(fitX, xv)
		fitY = append(fitY, fit.PredictPercent(xv))
		l, h := fit.PredictionIntervalPercent(xv)
		bandLow = append(bandLow, l)
		bandHigh = append(bandHigh, h)
	}
	out.Chart = seriesChart("GAM trend - "+title, "% susceptible + intermediate",
		labels, x, y, fitX, fitY, bandLow, bandHigh, nextX, out.Forecast)

	return out
}

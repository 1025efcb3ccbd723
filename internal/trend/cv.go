package trend

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// gamMinTrain is the smallest training window a GAM fold accepts.
const gamMinTrain = 5

// CVMetrics aggregates rolling-origin fold errors for one model.
type CVMetrics struct {
	Err error `json:"-"`

	MAEMean   float64 `json:"mae_mean"`
	MAEStd    float64 `json:"mae_std"`
	RMSEMean  float64 `json:"rmse_mean"`
	RMSEStd   float64 `json:"rmse_std"`
	SMAPEMean float64 `json:"smape_mean"`
	SMAPEStd  float64 `json:"smape_std"`

	ValidFolds int `json:"valid_folds"`
	TotalFolds int `json:"total_folds"`

	// GAM only: the grid-searched smoothing parameter and its selection
	// error.
	BestLambda *float64 `json:"best_lambda,omitempty"`
	LambdaMAE  *float64 `json:"lambda_mae,omitempty"`
	LambdaStd  *float64 `json:"lambda_std,omitempty"`
}

// CVConfig describes the adaptive fold layout.
type CVConfig struct {
	Periods    int `json:"periods"`
	TestWindow int `json:"test_window"`
	MinTrain   int `json:"min_train"`
	Folds      int `json:"folds"`
}

// CVResult is the outcome of one cross-validation run.
type CVResult struct {
	Linear CVMetrics `json:"linear"`
	GAM    CVMetrics `json:"gam"`
	Config CVConfig  `json:"config"`
}

// cvWindows picks the test window and minimum training size from n.
func cvWindows(n int) (testWindow, minTrain int) {
	switch {
	case n <= 10:
		return 1, 3
	case n <= 20:
		return 2, 5
	default:
		return 3, 7
	}
}

// crossValidate runs expanding-window forward-chaining CV over the series
// and grid-searches the GAM smoothing parameter by mean fold MAE.
//
// Phase 1 evaluates the linear model and every lambda of the grid on every
// fold. Phase 2 selects lambda* = argmin mean MAE. Phase 3 re-runs the GAM
// with lambda* to collect its final fold errors.
func crossValidate(x, y []float64, log *logrus.Logger) CVResult {
	n := len(x)
	testWindow, minTrain := cvWindows(n)

	res := CVResult{Config: CVConfig{Periods: n, TestWindow: testWindow, MinTrain: minTrain}}
	if n < minTrain+testWindow {
		err := fmt.Errorf("insufficient data for CV: need at least %d periods, have %d", minTrain+testWindow, n)
		res.Linear.Err = err
		res.GAM.Err = err
		return res
	}
	folds := n - minTrain - testWindow + 1
	res.Config.Folds = folds

	lamGrid := logspace(-3, 3, 20)
	lamErrors := make(map[int][]float64, len(lamGrid)) // grid index -> fold MAEs

	var linErrors, linSmape []float64

	for fold := 0; fold < folds; fold++ {
		trainEnd := minTrain + fold
		testEnd := trainEnd + testWindow

		xTrain, yTrain := x[:trainEnd], y[:trainEnd]
		xTest, yTest := x[trainEnd:testEnd], y[trainEnd:testEnd]

		if lin, err := fitOLS(xTrain, yTrain); err == nil {
			for i, xv := range xTest {
				pred := clip(lin.Predict(xv), 0, 100)
				linErrors = append(linErrors, yTest[i]-pred)
				linSmape = append(linSmape, smape(yTest[i], pred))
			}
		}

		if trainEnd < gamMinTrain {
			continue
		}
		nSpl, order := gamConfig(trainEnd)
		yLogit := logitPercent(yTrain)
		domainHi := xTest[len(xTest)-1]
		for li, lam := range lamGrid {
			gam, err := fitGAM(xTrain, yLogit, nSpl, order, lam, domainHi)
			if err != nil {
				continue
			}
			var absSum float64
			for i, xv := range xTest {
				absSum += absErr(yTest[i], gam.PredictPercent(xv))
			}
			lamErrors[li] = append(lamErrors[li], absSum/float64(len(xTest)))
		}
	}

	res.Linear = foldMetrics(linErrors, linSmape, testWindow)

	if len(lamErrors) == 0 {
		res.GAM.Err = fmt.Errorf("GAM could not be evaluated on any fold")
		return res
	}

	bestIdx := -1
	bestMAE := 0.0
	bestStd := 0.0
	for li := range lamGrid {
		errs := lamErrors[li]
		if len(errs) == 0 {
			continue
		}
		m := mean(errs)
		if bestIdx < 0 || m < bestMAE {
			bestIdx, bestMAE, bestStd = li, m, stddev(errs)
		}
	}
	if bestIdx < 0 {
		res.GAM.Err = fmt.Errorf("no lambda produced valid CV results")
		return res
	}
	bestLambda := lamGrid[bestIdx]

	var gamErrors, gamSmape []float64
	for fold := 0; fold < folds; fold++ {
		trainEnd := minTrain + fold
		testEnd := trainEnd + testWindow
		if trainEnd < gamMinTrain {
			continue
		}
		xTrain, yTrain := x[:trainEnd], y[:trainEnd]
		xTest, yTest := x[trainEnd:testEnd], y[trainEnd:testEnd]

		nSpl, order := gamConfig(trainEnd)
		gam, err := fitGAM(xTrain, logitPercent(yTrain), nSpl, order, bestLambda, xTest[len(xTest)-1])
		if err != nil {
			continue
		}
		for i, xv := range xTest {
			pred := gam.PredictPercent(xv)
			gamErrors = append(gamErrors, yTest[i]-pred)
			gamSmape = append(gamSmape, smape(yTest[i], pred))
		}
	}

	if len(gamErrors) == 0 {
		res.GAM.Err = fmt.Errorf("GAM failed on every evaluation fold")
		return res
	}
	res.GAM = foldMetrics(gamErrors, gamSmape, testWindow)
	res.GAM.BestLambda = &bestLambda
	res.GAM.LambdaMAE = &bestMAE
	res.GAM.LambdaStd = &bestStd

	if log != nil {
		log.WithFields(logrus.Fields{
			"folds":       folds,
			"test_window": testWindow,
			"best_lambda": bestLambda,
		}).Debug("Cross-validation finished")
	}
	return res
}

// foldMetrics regroups the flat per-observation errors into window-sized
// folds and aggregates MAE, RMSE and SMAPE with their spreads.
func foldMetrics(errs, smapes []float64, testWindow int) CVMetrics {
	if len(errs) == 0 {
		return CVMetrics{Err: fmt.Errorf("no valid folds")}
	}
	folds := len(errs) / testWindow
	if folds < 1 {
		folds = 1
	}

	var maes, rmses, smapeMeans []float64
	for i := 0; i < folds; i++ {
		lo := i * testWindow
		hi := minInt(lo+testWindow, len(errs))
		if lo >= hi {
			break
		}
		maes = append(maes, meanAbs(errs[lo:hi]))
		rmses = append(rmses, rootMeanSquare(errs[lo:hi]))
		smapeMeans = append(smapeMeans, mean(smapes[lo:hi]))
	}

	return CVMetrics{
		MAEMean:    round2(mean(maes)),
		MAEStd:     round2(stddev(maes)),
		RMSEMean:   round2(mean(rmses)),
		RMSEStd:    round2(stddev(rmses)),
		SMAPEMean:  round2(mean(smapeMeans)),
		SMAPEStd:   round2(stddev(smapeMeans)),
		ValidFolds: len(maes),
		TotalFolds: folds,
	}
}

func absErr(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}

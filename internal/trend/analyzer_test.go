package trend

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensibyte/SensiByte/internal/domain"
	"github.com/sensibyte/SensiByte/internal/testkit"
)

// seedQuarter writes `total` isolates for one quarter with the given
// percentage of susceptible results for ciprofloxacin.
func seedQuarter(t *testing.T, env *testkit.Env, start time.Time, quarter, total, percentS int) {
	t.Helper()
	ctx := context.Background()
	ta := env.Tenant.Antibiotics[testkit.AbCiprofloxacin]

	susceptible := total * percentS / 100
	for i := 0; i < total; i++ {
		rec := &domain.Record{
			TenantID: testkit.TenantID, Date: start.AddDate(0, 0, i%80),
			PatientHash: fmt.Sprintf("q%d-p%03d", quarter, i),
			Age:         testkit.Ptr(50.0), SexID: 21, ScopeID: 31, ServiceID: 41, SampleTypeID: 61,
		}
		require.NoError(t, env.Store.CreateRecord(ctx, rec))

		iso := &domain.Isolate{
			TenantID: testkit.TenantID, RecordID: rec.ID,
			TenantOrganismID: testkit.TenantOrgEcoli, VersionID: testkit.VersionID2024,
		}
		require.NoError(t, env.Store.CreateIsolate(ctx, iso))

		interp := domain.R
		if i < susceptible {
			interp = domain.S
		}
		res := &domain.Result{IsolateID: iso.ID, TenantAntibioticID: ta.ID, Interpretation: interp}
		require.NoError(t, env.Store.CreateResult(ctx, res))
	}
}

func TestAnalyzeDecliningQuarterlySeries(t *testing.T) {
	e := testkit.NewEnv()
	percents := []int{70, 72, 68, 65, 60, 58, 55, 52}
	starts := []time.Time{
		d(2022, 1, 1), d(2022, 4, 1), d(2022, 7, 1), d(2022, 10, 1),
		d(2023, 1, 1), d(2023, 4, 1), d(2023, 7, 1), d(2023, 10, 1),
	}
	for i, p := range percents {
		seedQuarter(t, e, starts[i], i, 100, p)
	}

	a := NewAnalyzer(e.Store, e.Catalog, e.Tenant, e.Logger)
	taID := e.Tenant.Antibiotics[testkit.AbCiprofloxacin].ID
	analysis, err := a.Analyze(context.Background(), Request{
		Target: Target{
			TenantOrganismID:   testkit.TenantOrgEcoli,
			TenantAntibioticID: &taID,
		},
		TenantID:  testkit.TenantID,
		VersionID: testkit.VersionID2024,
		From:      d(2022, 1, 1),
		To:        d(2023, 12, 31),
		Grouping:  domain.ByQuarter,
		Title:     "E. coli / Ciprofloxacin",
	})
	require.NoError(t, err)

	require.Len(t, analysis.Points, 8)
	for i, p := range percents {
		assert.Equal(t, 100, analysis.Points[i].Total)
		assert.InDelta(t, float64(p), analysis.Points[i].PercentSI, 0.01, "quarter %d", i)
	}
	assert.Equal(t, "Q1 2024", analysis.NextPeriodLabel)

	lin := analysis.Linear
	assert.Empty(t, lin.Err)
	assert.Less(t, lin.Slope, 0.0)
	assert.True(t, lin.Significant)
	assert.Equal(t, "descending", lin.Trend)
	assert.Equal(t, "↓", lin.Arrow)
	assert.Less(t, lin.Forecast, 52.0, "the Q9 forecast continues below the last point")
	assert.LessOrEqual(t, lin.ForecastLow, lin.Forecast)
	assert.GreaterOrEqual(t, lin.ForecastHigh, lin.Forecast)
	assert.GreaterOrEqual(t, lin.CV.ValidFolds, 1)

	gam := analysis.GAM
	assert.Empty(t, gam.Err)
	assert.GreaterOrEqual(t, gam.Forecast, 0.0)
	assert.LessOrEqual(t, gam.Forecast, 100.0)
	assert.GreaterOrEqual(t, gam.PseudoR2, 0.0)
	assert.GreaterOrEqual(t, gam.CV.ValidFolds, 1)
	assert.Greater(t, gam.Lambda, 0.0)

	assert.Equal(t, 5, analysis.CVConfig.Folds)
}

func TestAnalyzeRequiresThreePeriods(t *testing.T) {
	e := testkit.NewEnv()
	seedQuarter(t, e, d(2024, 1, 1), 0, 20, 50)
	seedQuarter(t, e, d(2024, 4, 1), 1, 20, 50)

	a := NewAnalyzer(e.Store, e.Catalog, e.Tenant, e.Logger)
	taID := e.Tenant.Antibiotics[testkit.AbCiprofloxacin].ID
	_, err := a.Analyze(context.Background(), Request{
		Target: Target{
			TenantOrganismID:   testkit.TenantOrgEcoli,
			TenantAntibioticID: &taID,
		},
		TenantID:  testkit.TenantID,
		VersionID: testkit.VersionID2024,
		From:      d(2024, 1, 1),
		To:        d(2024, 6, 30),
		Grouping:  domain.ByQuarter,
	})
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestAnalyzeMechanismPrevalence(t *testing.T) {
	e := testkit.NewEnv()
	ctx := context.Background()

	// Three semesters; BLEE prevalence grows 20% -> 40% -> 60%.
	starts := []time.Time{d(2022, 1, 1), d(2022, 7, 1), d(2023, 1, 1)}
	prevalence := []int{20, 40, 60}
	for q, start := range starts {
		for i := 0; i < 20; i++ {
			rec := &domain.Record{
				TenantID: testkit.TenantID, Date: start.AddDate(0, 0, i),
				PatientHash: fmt.Sprintf("m%d-%02d", q, i),
				Age:         testkit.Ptr(50.0), SexID: 21, ScopeID: 31, ServiceID: 41, SampleTypeID: 61,
			}
			require.NoError(t, e.Store.CreateRecord(ctx, rec))
			iso := &domain.Isolate{
				TenantID: testkit.TenantID, RecordID: rec.ID,
				TenantOrganismID: testkit.TenantOrgEcoli, VersionID: testkit.VersionID2024,
			}
			if i < prevalence[q]*20/100 {
				iso.MechanismIDs = []int64{testkit.TenantMechBLEE}
			}
			require.NoError(t, e.Store.CreateIsolate(ctx, iso))
		}
	}

	a := NewAnalyzer(e.Store, e.Catalog, e.Tenant, e.Logger)
	mechID := testkit.TenantMechBLEE
	analysis, err := a.Analyze(context.Background(), Request{
		Target: Target{
			TenantOrganismID: testkit.TenantOrgEcoli,
			MechanismID:      &mechID,
		},
		TenantID:  testkit.TenantID,
		VersionID: testkit.VersionID2024,
		From:      d(2022, 1, 1),
		To:        d(2023, 6, 30),
		Grouping:  domain.BySemester,
		Title:     "E. coli / BLEE",
	})
	require.NoError(t, err)

	require.Len(t, analysis.Points, 3)
	assert.InDelta(t, 20.0, analysis.Points[0].PercentSI, 0.01)
	assert.InDelta(t, 40.0, analysis.Points[1].PercentSI, 0.01)
	assert.InDelta(t, 60.0, analysis.Points[2].PercentSI, 0.01)

	assert.Empty(t, analysis.Linear.Err)
	assert.Greater(t, analysis.Linear.Slope, 0.0)
}

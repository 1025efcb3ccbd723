package report

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensibyte/SensiByte/internal/domain"
	"github.com/sensibyte/SensiByte/internal/store"
	"github.com/sensibyte/SensiByte/internal/testkit"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type seedIso struct {
	hash         string
	date         time.Time
	sampleTypeID int64
	sexID        int64
	results      map[int64]domain.Interpretation // base antibiotic id -> interp
	mechIDs      []int64
	subIDs       []int64
}

func addIsolate(t *testing.T, env *testkit.Env, s seedIso) *domain.Isolate {
	t.Helper()
	ctx := context.Background()
	if s.sampleTypeID == 0 {
		s.sampleTypeID = 61
	}
	if s.sexID == 0 {
		s.sexID = 21
	}

	rec := &domain.Record{
		TenantID: testkit.TenantID, Date: s.date, PatientHash: s.hash,
		Age: testkit.Ptr(50.0), SexID: s.sexID, ScopeID: 31, ServiceID: 41,
		SampleTypeID: s.sampleTypeID,
	}
	require.NoError(t, env.Store.CreateRecord(ctx, rec))

	iso := &domain.Isolate{
		TenantID: testkit.TenantID, RecordID: rec.ID,
		TenantOrganismID: testkit.TenantOrgEcoli, VersionID: testkit.VersionID2024,
		MechanismIDs: s.mechIDs, SubtypeIDs: s.subIDs,
	}
	require.NoError(t, env.Store.CreateIsolate(ctx, iso))

	for abID, interp := range s.results {
		ta := env.Tenant.Antibiotics[abID]
		require.NotNil(t, ta)
		res := &domain.Result{IsolateID: iso.ID, TenantAntibioticID: ta.ID, Interpretation: interp}
		require.NoError(t, env.Store.CreateResult(ctx, res))
	}
	return iso
}

func buildReport(t *testing.T, env *testkit.Env, opts Options) *Report {
	t.Helper()
	agg := NewAggregator(env.Store, env.Catalog, env.Tenant, env.Mechs, env.Subs, env.Logger)
	rep, err := agg.Build(context.Background(), opts)
	require.NoError(t, err)
	return rep
}

func defaultOptions() Options {
	orgID := testkit.TenantOrgEcoli
	return Options{
		Window: store.Window{
			TenantID:         testkit.TenantID,
			TenantOrganismID: &orgID,
			From:             day(2024, 1, 1),
			To:               day(2024, 12, 31),
		},
		VersionID: testkit.VersionID2024,
	}
}

func TestCountsAndPercentagesAreConsistent(t *testing.T) {
	env := testkit.NewEnv()
	for i := 0; i < 40; i++ {
		interp := domain.S
		if i%4 == 0 {
			interp = domain.R
		} else if i%5 == 0 {
			interp = domain.I
		}
		addIsolate(t, env, seedIso{
			hash: fmt.Sprintf("p%03d", i), date: day(2024, 3, 1+i%20),
			results: map[int64]domain.Interpretation{testkit.AbCiprofloxacin: interp},
		})
	}

	rep := buildReport(t, env, defaultOptions())
	require.Len(t, rep.Global.Rows, 1)
	row := rep.Global.Rows[0]

	assert.Equal(t, row.Total, row.Success+row.SEI+row.Resistant)
	sum := row.PercentS + row.PercentI + row.PercentR
	assert.InDelta(t, 100, sum, 0.05)
	assert.LessOrEqual(t, row.CILow, row.PercentSI+1e-9)
	assert.GreaterOrEqual(t, row.CIHigh+1e-9, row.PercentS)
	assert.False(t, row.NeedsAsterisk)
}

func TestSingleIsolateRowsAreDropped(t *testing.T) {
	env := testkit.NewEnv()
	addIsolate(t, env, seedIso{
		hash: "only", date: day(2024, 3, 1),
		results: map[int64]domain.Interpretation{
			testkit.AbAmpicillin:    domain.R,
			testkit.AbCiprofloxacin: domain.S,
		},
	})

	rep := buildReport(t, env, defaultOptions())
	assert.Equal(t, 1, rep.Total)
	assert.Empty(t, rep.Global.Rows, "cells with a single observation are omitted")
}

func TestFirstIsolatePerPatient(t *testing.T) {
	env := testkit.NewEnv()
	// The same patient cultured three times: only the earliest counts.
	for i := 0; i < 3; i++ {
		addIsolate(t, env, seedIso{
			hash: "recurrent", date: day(2024, 2, 1+i),
			results: map[int64]domain.Interpretation{testkit.AbCiprofloxacin: domain.R},
		})
	}
	addIsolate(t, env, seedIso{
		hash: "other", date: day(2024, 2, 10),
		results: map[int64]domain.Interpretation{testkit.AbCiprofloxacin: domain.S},
	})

	rep := buildReport(t, env, defaultOptions())
	assert.Equal(t, 2, rep.Total)
	require.Len(t, rep.Global.Rows, 1)
	assert.Equal(t, 2, rep.Global.Rows[0].Total)
}

func TestIntrinsicDrugsExcluded(t *testing.T) {
	env := testkit.NewEnv()
	for i := 0; i < 3; i++ {
		addIsolate(t, env, seedIso{
			hash: fmt.Sprintf("p%d", i), date: day(2024, 3, 1+i),
			results: map[int64]domain.Interpretation{
				testkit.AbLinezolid:     domain.R,
				testkit.AbCiprofloxacin: domain.S,
			},
		})
	}

	rep := buildReport(t, env, defaultOptions())
	for _, row := range rep.Global.Rows {
		assert.NotEqual(t, testkit.AbLinezolid, row.AntibioticID,
			"intrinsic-resistance drugs never appear in reports")
	}
}

func TestVariantVisibility(t *testing.T) {
	env := testkit.NewEnv()
	for i := 0; i < 3; i++ {
		addIsolate(t, env, seedIso{
			hash: fmt.Sprintf("p%d", i), date: day(2024, 3, 1+i),
			results: map[int64]domain.Interpretation{
				testkit.AbAmoxClav:    domain.S,
				testkit.AbAmoxClavUTI: domain.S,
			},
		})
	}

	// Default view: bases only.
	rep := buildReport(t, env, defaultOptions())
	names := map[int64]bool{}
	for _, row := range rep.Global.Rows {
		names[row.AntibioticID] = true
	}
	assert.True(t, names[testkit.AbAmoxClav])
	assert.False(t, names[testkit.AbAmoxClavUTI])

	// Variant view: variants shown, bases with variants hidden.
	opts := defaultOptions()
	opts.IncludeVariants = true
	rep = buildReport(t, env, opts)
	names = map[int64]bool{}
	for _, row := range rep.Global.Rows {
		names[row.AntibioticID] = true
	}
	assert.False(t, names[testkit.AbAmoxClav])
	assert.True(t, names[testkit.AbAmoxClavUTI])
}

func TestCombineSIFoldsIntoSuccess(t *testing.T) {
	env := testkit.NewEnv()
	interps := []domain.Interpretation{domain.S, domain.S, domain.I, domain.R}
	for i, interp := range interps {
		addIsolate(t, env, seedIso{
			hash: fmt.Sprintf("p%d", i), date: day(2024, 3, 1+i),
			results: map[int64]domain.Interpretation{testkit.AbCiprofloxacin: interp},
		})
	}

	opts := defaultOptions()
	opts.CombineSI = true
	rep := buildReport(t, env, opts)
	require.Len(t, rep.Global.Rows, 1)
	row := rep.Global.Rows[0]

	assert.Equal(t, 3, row.Success, "S and I merge")
	assert.Equal(t, 0, row.SEI)
	assert.Equal(t, 1, row.Resistant)
	assert.InDelta(t, 75.0, row.PercentS, 0.01)
}

func TestMechanismCombinations(t *testing.T) {
	env := testkit.NewEnv()
	addIsolate(t, env, seedIso{hash: "a", date: day(2024, 3, 1),
		results: map[int64]domain.Interpretation{testkit.AbCiprofloxacin: domain.S},
		mechIDs: []int64{testkit.TenantMechBLEE}, subIDs: []int64{testkit.TenantSubCTXM}})
	addIsolate(t, env, seedIso{hash: "b", date: day(2024, 3, 2),
		results: map[int64]domain.Interpretation{testkit.AbCiprofloxacin: domain.S},
		mechIDs: []int64{testkit.TenantMechBLEE}})
	addIsolate(t, env, seedIso{hash: "c", date: day(2024, 3, 3),
		results: map[int64]domain.Interpretation{testkit.AbCiprofloxacin: domain.S},
		mechIDs: []int64{testkit.TenantMechBLEE, testkit.TenantMechCarba}})

	rep := buildReport(t, env, defaultOptions())
	require.Len(t, rep.Global.Mechanisms, 2, "A and A+B are distinct rows")

	byName := map[string]MechanismRow{}
	for _, m := range rep.Global.Mechanisms {
		byName[m.Name] = m
	}
	blee := byName["BLEE"]
	assert.Equal(t, 2, blee.Count)
	assert.False(t, blee.IsCombination)
	require.Len(t, blee.Subtypes, 1)
	assert.Equal(t, "CTX-M", blee.Subtypes[0].Name)

	combo := byName["BLEE + Carbapenemasa"]
	assert.Equal(t, 1, combo.Count)
	assert.True(t, combo.IsCombination)
}

func TestStratumThresholdAndIgnoreMin(t *testing.T) {
	env := testkit.NewEnv()
	// 35 urine isolates pass the threshold; 5 blood isolates stay below it
	// but the blood category sets ignore_min.
	for i := 0; i < 35; i++ {
		addIsolate(t, env, seedIso{
			hash: fmt.Sprintf("u%02d", i), date: day(2024, 3, 1+i%25),
			results: map[int64]domain.Interpretation{testkit.AbCiprofloxacin: domain.S},
		})
	}
	for i := 0; i < 5; i++ {
		addIsolate(t, env, seedIso{
			hash: fmt.Sprintf("b%02d", i), date: day(2024, 4, 1+i), sampleTypeID: 62,
			results: map[int64]domain.Interpretation{testkit.AbCiprofloxacin: domain.R},
		})
	}

	rep := buildReport(t, env, defaultOptions())
	assert.Contains(t, rep.BySample, "Urinaria")
	assert.Contains(t, rep.BySample, "Sangre", "ignore_min keeps the small blood stratum")
	// The scope stratum has 40 isolates and survives; sex/age strata too.
	assert.Contains(t, rep.ByScope, "Hospitalizacion")

	// A 5-member sex stratum would be dropped: all isolates share sex 21
	// here, so the female stratum simply does not exist.
	assert.NotContains(t, rep.BySex, "Mujer")
}

func TestReinterpretationPreferredAtOtherVersion(t *testing.T) {
	env := testkit.NewEnv()
	ctx := context.Background()

	var resultIDs []int64
	for i := 0; i < 3; i++ {
		iso := addIsolate(t, env, seedIso{
			hash: fmt.Sprintf("p%d", i), date: day(2024, 3, 1+i),
			results: map[int64]domain.Interpretation{testkit.AbCiprofloxacin: domain.S},
		})
		results, err := env.Store.ResultsByIsolate(ctx, iso.ID)
		require.NoError(t, err)
		resultIDs = append(resultIDs, results[0].ID)
	}
	// Stored under 2024; reinterpret everything to R at 2023.
	for _, id := range resultIDs {
		require.NoError(t, env.Store.UpsertReinterpretation(ctx, &domain.Reinterpretation{
			ResultID: id, VersionID: testkit.VersionID2023,
			NewInterpretation: domain.R, WasRecomputed: true,
		}))
	}

	opts := defaultOptions()
	opts.VersionID = testkit.VersionID2023
	rep := buildReport(t, env, opts)
	require.Len(t, rep.Global.Rows, 1)
	assert.Equal(t, 3, rep.Global.Rows[0].Resistant)
	assert.Equal(t, 0, rep.Global.Rows[0].Success)
}

func TestCompareSetsArrows(t *testing.T) {
	env := testkit.NewEnv()
	for i := 0; i < 40; i++ {
		interp := domain.S
		if i >= 10 {
			interp = domain.R // 25% susceptible now
		}
		addIsolate(t, env, seedIso{
			hash: fmt.Sprintf("cur%02d", i), date: day(2024, 6, 1+i%25),
			results: map[int64]domain.Interpretation{testkit.AbCiprofloxacin: interp},
		})
	}
	for i := 0; i < 40; i++ {
		interp := domain.S
		if i >= 36 {
			interp = domain.R // 90% susceptible before
		}
		addIsolate(t, env, seedIso{
			hash: fmt.Sprintf("pre%02d", i), date: day(2023, 6, 1+i%25),
			results: map[int64]domain.Interpretation{testkit.AbCiprofloxacin: interp},
		})
	}

	current := buildReport(t, env, defaultOptions())

	priorOpts := defaultOptions()
	priorOpts.Window.From = day(2023, 1, 1)
	priorOpts.Window.To = day(2023, 12, 31)
	prior := buildReport(t, env, priorOpts)

	Compare(current, prior)
	require.Len(t, current.Global.Rows, 1)
	assert.Equal(t, "↓", current.Global.Rows[0].Arrow)
}

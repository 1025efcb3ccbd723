package reinterpret

import (
	"context"
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

// seed inserts one isolate with the given results, captured under the 2023
// version so reinterpretation at 2024 has work to do.
func seed(t *testing.T, env *testkit.Env, results map[int64]*domain.Result, mechIDs []int64) *domain.Isolate {
	t.Helper()
	ctx := context.Background()

	rec := &domain.Record{
		TenantID: testkit.TenantID, Date: day(2023, 6, 1), PatientHash: "p1",
		Age: testkit.Ptr(50.0), SexID: 21, ScopeID: 31, ServiceID: 41, SampleTypeID: 61,
	}
	require.NoError(t, env.Store.CreateRecord(ctx, rec))

	iso := &domain.Isolate{
		TenantID: testkit.TenantID, RecordID: rec.ID,
		TenantOrganismID: testkit.TenantOrgEcoli, VersionID: testkit.VersionID2023,
		MechanismIDs: mechIDs,
	}
	require.NoError(t, env.Store.CreateIsolate(ctx, iso))

	for _, r := range results {
		r.IsolateID = iso.ID
		require.NoError(t, env.Store.CreateResult(ctx, r))
	}
	return iso
}

func window() store.Window {
	return store.Window{TenantID: testkit.TenantID, From: day(2023, 1, 1), To: day(2023, 12, 31)}
}

func reinterpsOf(t *testing.T, env *testkit.Env, resultID int64) []*domain.Reinterpretation {
	t.Helper()
	out, err := env.Store.ReinterpretationsByResult(context.Background(), resultID)
	require.NoError(t, err)
	return out
}

func TestRecomputesFromMic(t *testing.T) {
	env := testkit.NewEnv()
	amcu := &domain.Result{TenantAntibioticID: 103, Interpretation: domain.R, Mic: testkit.Ptr(40.0)}
	seed(t, env, map[int64]*domain.Result{testkit.AbAmoxClavUTI: amcu}, nil)

	svc := NewService(env.Store, env.Catalog, env.Tenant, env.Logger)
	n, err := svc.Batch(context.Background(), window(), testkit.VersionID2024)
	require.NoError(t, err)
	assert.Greater(t, n, 0)

	ris := reinterpsOf(t, env, amcu.ID)
	require.Len(t, ris, 1)
	// 40 > 2·16, so the 2024 urinary rule says R, recomputed from the MIC.
	assert.Equal(t, domain.R, ris[0].NewInterpretation)
	assert.True(t, ris[0].WasRecomputed)
	assert.Equal(t, testkit.VersionID2024, ris[0].VersionID)
}

func TestCopiesForwardWithoutMeasurement(t *testing.T) {
	env := testkit.NewEnv()
	// Ampicillin has no breakpoint rule in the test catalog, so its stored
	// interpretation is copied forward unchanged.
	amp := &domain.Result{TenantAntibioticID: 101, Interpretation: domain.S}
	seed(t, env, map[int64]*domain.Result{testkit.AbAmpicillin: amp}, nil)

	svc := NewService(env.Store, env.Catalog, env.Tenant, env.Logger)
	_, err := svc.Batch(context.Background(), window(), testkit.VersionID2024)
	require.NoError(t, err)

	ris := reinterpsOf(t, env, amp.ID)
	require.Len(t, ris, 1)
	assert.Equal(t, domain.S, ris[0].NewInterpretation)
	assert.False(t, ris[0].WasRecomputed)
}

func TestVariantPlaceholderClonedFromParent(t *testing.T) {
	env := testkit.NewEnv()
	amc := &domain.Result{TenantAntibioticID: 102, Interpretation: domain.S, Mic: testkit.Ptr(4.0)}
	iso := seed(t, env, map[int64]*domain.Result{testkit.AbAmoxClav: amc}, nil)

	svc := NewService(env.Store, env.Catalog, env.Tenant, env.Logger)
	_, err := svc.Batch(context.Background(), window(), testkit.VersionID2024)
	require.NoError(t, err)

	results, err := env.Store.ResultsByIsolate(context.Background(), iso.ID)
	require.NoError(t, err)

	var variant *domain.Result
	for _, r := range results {
		if r.TenantAntibioticID == 103 {
			variant = r
		}
	}
	require.NotNil(t, variant, "a placeholder result was cloned for the UTI variant")
	require.NotNil(t, variant.Mic)
	assert.InDelta(t, 4.0, *variant.Mic, 1e-9)

	ris := reinterpsOf(t, env, variant.ID)
	require.Len(t, ris, 1)
	assert.Equal(t, domain.S, ris[0].NewInterpretation, "4 <= 32 at the 2024 urinary rule")
	assert.True(t, ris[0].WasRecomputed)
}

func TestAcquiredResistanceForcesR(t *testing.T) {
	env := testkit.NewEnv()
	amc := &domain.Result{TenantAntibioticID: 102, Interpretation: domain.S, Mic: testkit.Ptr(2.0)}
	seed(t, env, map[int64]*domain.Result{testkit.AbAmoxClav: amc}, []int64{testkit.TenantMechBLEE})

	svc := NewService(env.Store, env.Catalog, env.Tenant, env.Logger)
	_, err := svc.Batch(context.Background(), window(), testkit.VersionID2024)
	require.NoError(t, err)

	ris := reinterpsOf(t, env, amc.ID)
	require.Len(t, ris, 1)
	assert.Equal(t, domain.R, ris[0].NewInterpretation)
	assert.True(t, ris[0].WasRecomputed)
}

func TestIntrinsicResistanceAppliesTransitively(t *testing.T) {
	env := testkit.NewEnv()
	lzd := &domain.Result{TenantAntibioticID: 106, Interpretation: domain.S}
	seed(t, env, map[int64]*domain.Result{testkit.AbLinezolid: lzd}, nil)

	svc := NewService(env.Store, env.Catalog, env.Tenant, env.Logger)
	_, err := svc.Batch(context.Background(), window(), testkit.VersionID2024)
	require.NoError(t, err)

	ris := reinterpsOf(t, env, lzd.ID)
	require.Len(t, ris, 1)
	assert.Equal(t, domain.R, ris[0].NewInterpretation,
		"E. coli is intrinsically resistant to linezolid")
}

func TestUpsertKeepsPairUnique(t *testing.T) {
	env := testkit.NewEnv()
	amcu := &domain.Result{TenantAntibioticID: 103, Interpretation: domain.S, Mic: testkit.Ptr(4.0)}
	seed(t, env, map[int64]*domain.Result{testkit.AbAmoxClavUTI: amcu}, nil)

	svc := NewService(env.Store, env.Catalog, env.Tenant, env.Logger)
	_, err := svc.Batch(context.Background(), window(), testkit.VersionID2024)
	require.NoError(t, err)
	_, err = svc.Batch(context.Background(), window(), testkit.VersionID2024)
	require.NoError(t, err)

	assert.Len(t, reinterpsOf(t, env, amcu.ID), 1)
}

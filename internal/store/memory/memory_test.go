package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensibyte/SensiByte/internal/domain"
	"github.com/sensibyte/SensiByte/internal/store"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func seedIsolate(t *testing.T, s *Store, hash string, date time.Time) (*domain.Record, *domain.Isolate, *domain.Result) {
	t.Helper()
	ctx := context.Background()

	rec := &domain.Record{TenantID: 1, Date: date, PatientHash: hash, SexID: 21, ScopeID: 31, ServiceID: 41, SampleTypeID: 61}
	require.NoError(t, s.CreateRecord(ctx, rec))

	iso := &domain.Isolate{TenantID: 1, RecordID: rec.ID, TenantOrganismID: 11, VersionID: 2}
	require.NoError(t, s.CreateIsolate(ctx, iso))

	res := &domain.Result{IsolateID: iso.ID, TenantAntibioticID: 101, Interpretation: domain.S}
	require.NoError(t, s.CreateResult(ctx, res))

	return rec, iso, res
}

func TestDeleteRecordCascades(t *testing.T) {
	s := New()
	ctx := context.Background()

	rec, iso, res := seedIsolate(t, s, "h1", day(2024, 3, 1))
	ri := &domain.Reinterpretation{ResultID: res.ID, VersionID: 1, NewInterpretation: domain.R}
	require.NoError(t, s.UpsertReinterpretation(ctx, ri))

	require.NoError(t, s.DeleteRecord(ctx, rec.ID))

	details, err := s.IsolatesByRecordOrganism(ctx, rec.ID, iso.TenantOrganismID)
	require.NoError(t, err)
	assert.Empty(t, details)

	results, err := s.ResultsByIsolate(ctx, iso.ID)
	require.NoError(t, err)
	assert.Empty(t, results)

	ris, err := s.ReinterpretationsByResult(ctx, res.ID)
	require.NoError(t, err)
	assert.Empty(t, ris)
}

func TestUpsertReinterpretationIsUnique(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, _, res := seedIsolate(t, s, "h1", day(2024, 3, 1))

	first := &domain.Reinterpretation{ResultID: res.ID, VersionID: 1, NewInterpretation: domain.S}
	require.NoError(t, s.UpsertReinterpretation(ctx, first))

	second := &domain.Reinterpretation{ResultID: res.ID, VersionID: 1, NewInterpretation: domain.R, WasRecomputed: true}
	require.NoError(t, s.UpsertReinterpretation(ctx, second))

	assert.Equal(t, first.ID, second.ID)
	ris, err := s.ReinterpretationsByResult(ctx, res.ID)
	require.NoError(t, err)
	require.Len(t, ris, 1)
	assert.Equal(t, domain.R, ris[0].NewInterpretation)
}

func TestFirstIsolatesDeduplication(t *testing.T) {
	s := New()
	ctx := context.Background()

	seedIsolate(t, s, "patient-a", day(2024, 1, 10))
	seedIsolate(t, s, "patient-a", day(2024, 2, 10))
	seedIsolate(t, s, "patient-b", day(2024, 3, 1))

	w := store.Window{TenantID: 1, From: day(2024, 1, 1), To: day(2024, 12, 31)}
	details, err := s.FirstIsolates(ctx, w)
	require.NoError(t, err)
	require.Len(t, details, 2)

	byHash := map[string]time.Time{}
	for _, d := range details {
		byHash[d.Record.PatientHash] = d.Record.Date
	}
	assert.Equal(t, day(2024, 1, 10), byHash["patient-a"])
	assert.Equal(t, day(2024, 3, 1), byHash["patient-b"])
}

func TestWindowBounds(t *testing.T) {
	s := New()
	ctx := context.Background()

	seedIsolate(t, s, "in", day(2024, 6, 15))
	seedIsolate(t, s, "out", day(2025, 1, 1))

	w := store.Window{TenantID: 1, From: day(2024, 1, 1), To: day(2024, 12, 31)}
	details, err := s.IsolatesInWindow(ctx, w)
	require.NoError(t, err)
	require.Len(t, details, 1)
	assert.Equal(t, "in", details[0].Record.PatientHash)
}

func TestDeleteOrphanRecords(t *testing.T) {
	s := New()
	ctx := context.Background()

	seedIsolate(t, s, "kept", day(2024, 5, 1))
	orphan := &domain.Record{TenantID: 1, Date: day(2024, 5, 2), PatientHash: "orphan", SexID: 21, ScopeID: 31, ServiceID: 41, SampleTypeID: 61}
	require.NoError(t, s.CreateRecord(ctx, orphan))

	n, err := s.DeleteOrphanRecords(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	found, err := s.FindRecords(ctx, 1, orphan.Key())
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestFindRecordsMatchesFullKey(t *testing.T) {
	s := New()
	ctx := context.Background()

	rec, _, _ := seedIsolate(t, s, "h1", day(2024, 3, 1))

	found, err := s.FindRecords(ctx, 1, rec.Key())
	require.NoError(t, err)
	require.Len(t, found, 1)

	other := rec.Key()
	other.ServiceID = 42
	found, err = s.FindRecords(ctx, 1, other)
	require.NoError(t, err)
	assert.Empty(t, found)
}

package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensibyte/SensiByte/internal/domain"
	"github.com/sensibyte/SensiByte/internal/parse"
	"github.com/sensibyte/SensiByte/internal/store"
	"github.com/sensibyte/SensiByte/internal/testkit"
)

var mapping = map[string]string{
	"nh":            "NHC",
	"edad":          "Edad",
	"fecha":         "Fecha",
	"sexo":          "Sexo",
	"ambito":        "Ambito",
	"servicio":      "Servicio",
	"tipo_muestra":  "Muestra",
	"observaciones": "Observaciones",
}

func writeCSV(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newPipeline(t *testing.T, env *testkit.Env) *Pipeline {
	t.Helper()
	hasher := parse.NewHasher("pre", "post")
	return NewPipeline(env.Store, env.Catalog, env.Tenant, env.Mechs, env.Subs, hasher, env.Logger)
}

func run(t *testing.T, env *testkit.Env, orgID int64, csv string) (Counters, []*domain.RowError) {
	t.Helper()
	p := newPipeline(t, env)
	counters, rowErrors, err := p.Run(context.Background(), []string{writeCSV(t, "load.csv", csv)}, Options{
		TenantOrganismID: orgID,
		Mapping:          mapping,
		LoadTimestamp:    1700000000,
	})
	require.NoError(t, err)
	return counters, rowErrors
}

func loadIsolates(t *testing.T, env *testkit.Env, orgID int64) []*store.IsolateDetail {
	t.Helper()
	w := store.Window{
		TenantID:         testkit.TenantID,
		TenantOrganismID: &orgID,
		From:             time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		To:               time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
	}
	details, err := env.Store.IsolatesInWindow(context.Background(), w)
	require.NoError(t, err)
	return details
}

// resultByAb indexes an isolate's results by base antibiotic id.
func resultByAb(env *testkit.Env, d *store.IsolateDetail) map[int64]*domain.Result {
	out := map[int64]*domain.Result{}
	for _, r := range d.Results {
		if ta := env.Tenant.TenantAntibioticByID(r.TenantAntibioticID); ta != nil {
			out[ta.AntibioticID] = r
		}
	}
	return out
}

func TestSingleEcoliRow(t *testing.T) {
	env := testkit.NewEnv()
	csv := "NHC;Edad;Fecha;Sexo;Ambito;Servicio;Muestra;Observaciones;AMP;CIP\n" +
		"1001;45;15/03/2024;Hombre;Hosp;Urgencias;Orina;;R;S\n"

	counters, rowErrors := run(t, env, testkit.TenantOrgEcoli, csv)

	assert.Empty(t, rowErrors)
	assert.Equal(t, 1, counters.RecordsCreated)
	assert.Equal(t, 1, counters.IsolatesCreated)
	assert.Equal(t, 0, counters.OrphansRemoved)

	details := loadIsolates(t, env, testkit.TenantOrgEcoli)
	require.Len(t, details, 1)
	require.Len(t, details[0].Results, 2)

	byAb := resultByAb(env, details[0])
	assert.Equal(t, domain.R, byAb[testkit.AbAmpicillin].Interpretation)
	assert.Equal(t, domain.S, byAb[testkit.AbCiprofloxacin].Interpretation)
	assert.Equal(t, testkit.VersionID2024, details[0].Isolate.VersionID)
}

func TestMechanismUpgradesAcquiredResistance(t *testing.T) {
	env := testkit.NewEnv()
	csv := "NHC;Edad;Fecha;Sexo;Ambito;Servicio;Muestra;Observaciones;AMC;BLEE\n" +
		"2001;60;10/04/2024;Mujer;Hosp;Urgencias;Orina;;S;positiva\n"

	counters, rowErrors := run(t, env, testkit.TenantOrgKpneu, csv)
	assert.Empty(t, rowErrors)
	assert.Equal(t, 1, counters.IsolatesCreated)

	details := loadIsolates(t, env, testkit.TenantOrgKpneu)
	require.Len(t, details, 1)

	assert.Contains(t, details[0].Isolate.MechanismIDs, testkit.TenantMechBLEE)

	byAb := resultByAb(env, details[0])
	require.Contains(t, byAb, testkit.AbAmoxClav)
	assert.Equal(t, domain.R, byAb[testkit.AbAmoxClav].Interpretation,
		"acquired resistance upgrades the lab's S to R")
}

func TestIntrinsicResistanceForcesR(t *testing.T) {
	env := testkit.NewEnv()
	csv := "NHC;Edad;Fecha;Sexo;Ambito;Servicio;Muestra;Observaciones;LZD\n" +
		"3001;30;05/05/2024;Hombre;Hosp;Urgencias;Orina;;S\n"

	_, rowErrors := run(t, env, testkit.TenantOrgEcoli, csv)
	assert.Empty(t, rowErrors)

	details := loadIsolates(t, env, testkit.TenantOrgEcoli)
	require.Len(t, details, 1)

	byAb := resultByAb(env, details[0])
	require.Contains(t, byAb, testkit.AbLinezolid)
	assert.Equal(t, domain.R, byAb[testkit.AbLinezolid].Interpretation,
		"intrinsic resistance overrides the measured S")
}

func TestExcelCorruptedMicDrivesVariants(t *testing.T) {
	env := testkit.NewEnv()
	csv := "NHC;Edad;Fecha;Sexo;Ambito;Servicio;Muestra;Observaciones;AMC;AMC CMI\n" +
		"4001;55;20/06/2024;Mujer;Hosp;Urgencias;Orina;;S;27851\n"

	_, rowErrors := run(t, env, testkit.TenantOrgEcoli, csv)
	assert.Empty(t, rowErrors)

	details := loadIsolates(t, env, testkit.TenantOrgEcoli)
	require.Len(t, details, 1)
	byAb := resultByAb(env, details[0])

	base := byAb[testkit.AbAmoxClav]
	require.NotNil(t, base)
	require.NotNil(t, base.Mic)
	assert.InDelta(t, 4.0, *base.Mic, 1e-9, "27851 is the Excel corruption of 4/79")
	assert.Equal(t, domain.S, base.Interpretation)

	uti := byAb[testkit.AbAmoxClavUTI]
	require.NotNil(t, uti, "the urinary variant gets a rule-derived result")
	assert.Equal(t, domain.S, uti.Interpretation)
	require.NotNil(t, uti.Mic)
	assert.InDelta(t, 4.0, *uti.Mic, 1e-9)

	iv := byAb[testkit.AbAmoxClavIV]
	require.NotNil(t, iv)
	assert.Equal(t, domain.S, iv.Interpretation)
}

func TestDuplicateRowsYieldOneIsolate(t *testing.T) {
	env := testkit.NewEnv()
	row := "5001;40;01/07/2024;Hombre;Hosp;Urgencias;Orina;;R;S\n"
	csv := "NHC;Edad;Fecha;Sexo;Ambito;Servicio;Muestra;Observaciones;AMP;CIP\n" + row + row

	counters, rowErrors := run(t, env, testkit.TenantOrgEcoli, csv)
	assert.Empty(t, rowErrors)
	assert.Equal(t, 1, counters.IsolatesCreated)
	assert.Equal(t, 1, counters.DuplicatesSkipped)

	details := loadIsolates(t, env, testkit.TenantOrgEcoli)
	assert.Len(t, details, 1)
}

func TestSameFileTwiceCreatesNothingNew(t *testing.T) {
	env := testkit.NewEnv()
	csv := "NHC;Edad;Fecha;Sexo;Ambito;Servicio;Muestra;Observaciones;AMP;CIP\n" +
		"6001;40;01/07/2024;Hombre;Hosp;Urgencias;Orina;;R;S\n"

	counters1, _ := run(t, env, testkit.TenantOrgEcoli, csv)
	assert.Equal(t, 1, counters1.IsolatesCreated)

	counters2, _ := run(t, env, testkit.TenantOrgEcoli, csv)
	assert.Equal(t, 0, counters2.IsolatesCreated)
	assert.Equal(t, 1, counters2.DuplicatesSkipped)
	assert.Equal(t, 1, counters2.RecordsReused)

	details := loadIsolates(t, env, testkit.TenantOrgEcoli)
	assert.Len(t, details, 1)
}

func TestMissingDemographicSkipsRow(t *testing.T) {
	env := testkit.NewEnv()
	csv := "NHC;Edad;Fecha;Sexo;Ambito;Servicio;Muestra;Observaciones;AMP\n" +
		"7001;40;01/07/2024;Desconocido;Hosp;Urgencias;Orina;;R\n" +
		"7002;41;01/07/2024;Hombre;Hosp;Urgencias;Orina;;R\n"

	counters, rowErrors := run(t, env, testkit.TenantOrgEcoli, csv)

	assert.Equal(t, 1, counters.RowErrors)
	require.Len(t, rowErrors, 1)
	assert.Equal(t, 1, rowErrors[0].Row)
	assert.Equal(t, 1, counters.IsolatesCreated)

	details := loadIsolates(t, env, testkit.TenantOrgEcoli)
	assert.Len(t, details, 1, "the failing row produced no record")
}

func TestFallbackHashWhenNHMissing(t *testing.T) {
	env := testkit.NewEnv()
	csv := "NHC;Edad;Fecha;Sexo;Ambito;Servicio;Muestra;Observaciones;AMP\n" +
		";40;01/07/2024;Hombre;Hosp;Urgencias;Orina;;R\n" +
		";40;01/07/2024;Hombre;Hosp;Urgencias;Orina;;S\n"

	counters, rowErrors := run(t, env, testkit.TenantOrgEcoli, csv)
	assert.Empty(t, rowErrors)
	// The fallback hash differs per row, so both rows stand alone.
	assert.Equal(t, 2, counters.RecordsCreated)
	assert.Equal(t, 2, counters.IsolatesCreated)

	details := loadIsolates(t, env, testkit.TenantOrgEcoli)
	require.Len(t, details, 2)
	assert.NotEqual(t, details[0].Record.PatientHash, details[1].Record.PatientHash)
	assert.Len(t, details[0].Record.PatientHash, 16)
}

func TestEmptyResultsAreNotPersisted(t *testing.T) {
	env := testkit.NewEnv()
	csv := "NHC;Edad;Fecha;Sexo;Ambito;Servicio;Muestra;Observaciones;AMP;CIP\n" +
		"8001;40;01/07/2024;Hombre;Hosp;Urgencias;Orina;;R;\n"

	_, rowErrors := run(t, env, testkit.TenantOrgEcoli, csv)
	assert.Empty(t, rowErrors)

	details := loadIsolates(t, env, testkit.TenantOrgEcoli)
	require.Len(t, details, 1)
	require.Len(t, details[0].Results, 1)
	byAb := resultByAb(env, details[0])
	assert.Contains(t, byAb, testkit.AbAmpicillin)
	assert.NotContains(t, byAb, testkit.AbCiprofloxacin)
}

func TestInterpretationAliasMapping(t *testing.T) {
	env := testkit.NewEnv()
	csv := "NHC;Edad;Fecha;Sexo;Ambito;Servicio;Muestra;Observaciones;AMP\n" +
		"9001;40;01/07/2024;Hombre;Hosp;Urgencias;Orina;;Resistente\n"

	_, rowErrors := run(t, env, testkit.TenantOrgEcoli, csv)
	assert.Empty(t, rowErrors)

	details := loadIsolates(t, env, testkit.TenantOrgEcoli)
	require.Len(t, details, 1)
	byAb := resultByAb(env, details[0])
	assert.Equal(t, domain.R, byAb[testkit.AbAmpicillin].Interpretation)
}

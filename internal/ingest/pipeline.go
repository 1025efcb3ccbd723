package ingest

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/sensibyte/SensiByte/internal/alias"
	"github.com/sensibyte/SensiByte/internal/domain"
	"github.com/sensibyte/SensiByte/internal/mechanisms"
	"github.com/sensibyte/SensiByte/internal/parse"
	"github.com/sensibyte/SensiByte/internal/rules"
	"github.com/sensibyte/SensiByte/internal/store"
)

// recordCacheSize bounds the get-or-create cache within one load.
const recordCacheSize = 4096

// Counters accumulates the progress of one load.
type Counters struct {
	RecordsCreated    int
	RecordsReused     int
	RowErrors         int
	IsolatesCreated   int
	DuplicatesSkipped int
	InvalidResults    int
	OrphansRemoved    int
}

// Options parameterizes one load: the organism the files describe, the
// semantic-to-column mapping supplied by the user, and the load timestamp
// feeding the fallback patient hash.
type Options struct {
	TenantOrganismID int64
	Mapping          map[string]string
	LoadTimestamp    int64
}

// measurement is the working value of one antibiotic during row assembly.
type measurement struct {
	interp domain.Interpretation
	mic    *float64
	halo   *float64
}

// Pipeline ingests spreadsheet rows into records, isolates and results.
// All caches are built at construction and read-only afterwards.
type Pipeline struct {
	store    store.Store
	catalog  *domain.Catalog
	tenant   *domain.TenantCatalog
	engine   *rules.Engine
	detector *mechanisms.Detector
	hasher   *parse.Hasher
	log      *logrus.Logger

	sexCache     *alias.Cache[*domain.TenantSex]
	scopeCache   *alias.Cache[*domain.TenantScope]
	serviceCache *alias.Cache[*domain.TenantService]
	sampleCache  *alias.Cache[*domain.TenantSampleType]

	interpAliases []*domain.InterpretationAlias
	taByAb        map[int64]*domain.TenantAntibiotic
}

// NewPipeline wires a pipeline for one tenant. The mechanism and subtype
// name maps come from the global catalog store.
func NewPipeline(st store.Store, catalog *domain.Catalog, tenant *domain.TenantCatalog,
	mechNames map[int64]*domain.ResistanceMechanism, subNames map[int64]*domain.MechanismSubtype,
	hasher *parse.Hasher, logger *logrus.Logger) *Pipeline {

	p := &Pipeline{
		store:    st,
		catalog:  catalog,
		tenant:   tenant,
		engine:   rules.NewEngine(catalog, logger),
		detector: mechanisms.NewDetector(catalog, tenant, mechNames, subNames, logger),
		hasher:   hasher,
		log:      logger,
		taByAb:   map[int64]*domain.TenantAntibiotic{},
	}

	p.sexCache = alias.Build(tenant.Sexes,
		func(ts *domain.TenantSex) string {
			if s := catalog.Sexes[ts.SexID]; s != nil {
				return s.Description
			}
			return ""
		},
		func(ts *domain.TenantSex) []string { return ts.Aliases })
	p.scopeCache = alias.Build(tenant.Scopes,
		func(ts *domain.TenantScope) string {
			if s := catalog.Scopes[ts.ScopeID]; s != nil {
				return s.Name
			}
			return ""
		},
		func(ts *domain.TenantScope) []string { return ts.Aliases })
	p.serviceCache = alias.Build(tenant.Services,
		func(ts *domain.TenantService) string {
			if s := catalog.Services[ts.ServiceID]; s != nil {
				return s.Name
			}
			return ""
		},
		func(ts *domain.TenantService) []string { return ts.Aliases })
	p.sampleCache = alias.Build(tenant.SampleTypes,
		func(ts *domain.TenantSampleType) string {
			if s := catalog.Samples[ts.SampleTypeID]; s != nil {
				return s.Name
			}
			return ""
		},
		func(ts *domain.TenantSampleType) []string { return ts.Aliases })

	p.interpAliases = tenant.InterpMap
	for abID, ta := range tenant.Antibiotics {
		p.taByAb[abID] = ta
	}
	return p
}

// Run ingests the given files for one organism. Row failures are isolated:
// they are collected and counted, never abort the file. Each file runs in
// its own store transaction.
func (p *Pipeline) Run(ctx context.Context, paths []string, opts Options) (Counters, []*domain.RowError, error) {
	var counters Counters
	var rowErrors []*domain.RowError

	torg, ok := p.tenant.Organisms[opts.TenantOrganismID]
	if !ok {
		return counters, nil, fmt.Errorf("tenant organism %d: %w", opts.TenantOrganismID, domain.ErrNotFound)
	}
	org := p.catalog.Organisms[torg.OrganismID]
	if org == nil {
		return counters, nil, fmt.Errorf("organism %d: %w", torg.OrganismID, domain.ErrNotFound)
	}
	profile, err := p.tenant.ProfileFor(org.GroupID)
	if err != nil {
		group := p.catalog.Groups[org.GroupID]
		name := fmt.Sprintf("%d", org.GroupID)
		if group != nil {
			name = group.Name
		}
		return counters, nil, fmt.Errorf("EUCAST group %s: %w", name, err)
	}

	if opts.LoadTimestamp == 0 {
		opts.LoadTimestamp = time.Now().Unix()
	}
	loadID := uuid.NewString()
	log := p.log.WithFields(logrus.Fields{
		"load_id":  loadID,
		"organism": org.Name,
	})

	sheets, err := ReadFiles(paths)
	if err != nil {
		return counters, nil, err
	}

	recordCache, err := lru.New[domain.RecordKey, *domain.Record](recordCacheSize)
	if err != nil {
		return counters, nil, fmt.Errorf("building record cache: %w", err)
	}

	rowCounter := 0
	for start := 0; start < len(sheets); {
		end := start + 1
		for end < len(sheets) && sheets[end].File == sheets[start].File {
			end++
		}
		file, group := sheets[start].File, sheets[start:end]
		start = end
		err := p.store.WithinTx(ctx, func(tx store.Store) error {
			for _, sheet := range group {
				for i, row := range sheet.Rows {
					rowCounter++
					if err := p.processRow(ctx, tx, row, sheet.Headers, opts, torg, org, profile,
						recordCache, rowCounter, &counters); err != nil {
						counters.RowErrors++
						rowErrors = append(rowErrors, domain.NewRowError(sheet.File, i+1, err))
						log.WithFields(logrus.Fields{
							"file": sheet.File,
							"row":  i + 1,
						}).WithError(err).Warn("Row skipped")
					}
				}
			}
			return nil
		})
		if err != nil {
			return counters, rowErrors, fmt.Errorf("ingesting %s: %w", file, err)
		}
	}

	orphans, err := p.store.DeleteOrphanRecords(ctx, p.tenant.Tenant.ID)
	if err != nil {
		return counters, rowErrors, fmt.Errorf("removing orphan records: %w", err)
	}
	counters.OrphansRemoved = orphans

	log.WithFields(logrus.Fields{
		"records_created": counters.RecordsCreated - counters.OrphansRemoved,
		"records_reused":  counters.RecordsReused,
		"row_errors":      counters.RowErrors,
		"isolates":        counters.IsolatesCreated,
		"duplicates":      counters.DuplicatesSkipped,
		"invalid_results": counters.InvalidResults,
	}).Info("Load finished")

	return counters, rowErrors, nil
}

// demographics is the resolved identity of one row.
type demographics struct {
	hash    string
	age     *float64
	date    time.Time
	version *domain.EucastVersion
	sex     *domain.TenantSex
	scope   *domain.TenantScope
	service *domain.TenantService
	sample  *domain.TenantSampleType
}

func (p *Pipeline) resolveDemographics(row map[string]string, opts Options, orgID int64, rowCounter int) (*demographics, error) {
	d := &demographics{}

	nh := strings.TrimSpace(row[opts.Mapping["nh"]])
	if nh != "" {
		d.hash = p.hasher.HashNH(nh)
	} else {
		d.hash = parse.FallbackHash(opts.LoadTimestamp, rowCounter, orgID)
	}

	d.age = parse.ParseAge(row[opts.Mapping["edad"]])

	date := parse.ParseDate(row[opts.Mapping["fecha"]])
	if date == nil {
		return nil, fmt.Errorf("unparseable date %q", row[opts.Mapping["fecha"]])
	}
	d.date = *date

	version, err := p.catalog.VersionForDate(d.date)
	if err != nil {
		return nil, err
	}
	d.version = version

	var ok bool
	if d.sex, ok = p.sexCache.Exact(row[opts.Mapping["sexo"]]); !ok {
		return nil, fmt.Errorf("unresolvable sex %q", row[opts.Mapping["sexo"]])
	}
	if d.scope, ok = p.scopeCache.Exact(row[opts.Mapping["ambito"]]); !ok {
		return nil, fmt.Errorf("unresolvable scope %q", row[opts.Mapping["ambito"]])
	}
	if d.service, ok = p.serviceCache.Exact(row[opts.Mapping["servicio"]]); !ok {
		return nil, fmt.Errorf("unresolvable service %q", row[opts.Mapping["servicio"]])
	}
	if d.sample, ok = p.sampleCache.Exact(row[opts.Mapping["tipo_muestra"]]); !ok {
		return nil, fmt.Errorf("unresolvable sample type %q", row[opts.Mapping["tipo_muestra"]])
	}
	return d, nil
}

func (p *Pipeline) processRow(ctx context.Context, tx store.Store, row map[string]string, headers []string,
	opts Options, torg *domain.TenantOrganism, org *domain.Organism, profile *domain.Profile,
	recordCache *lru.Cache[domain.RecordKey, *domain.Record], rowCounter int, counters *Counters) error {

	d, err := p.resolveDemographics(row, opts, org.ID, rowCounter)
	if err != nil {
		return err
	}

	record, err := p.getOrCreateRecord(ctx, tx, d, recordCache, counters)
	if err != nil {
		return err
	}

	results := p.extractAntibiogram(row, headers, d, org, profile, counters)

	detection := p.detector.Detect(row, opts.Mapping["observaciones"])
	applyAcquiredResistance(results, detection)

	dup, err := p.isDuplicate(ctx, tx, record.ID, torg.ID, results)
	if err != nil {
		return err
	}
	if dup {
		counters.DuplicatesSkipped++
		p.log.WithField("record_id", record.ID).Debug("Duplicate isolate skipped")
		return nil
	}

	return p.createIsolate(ctx, tx, record, torg, d, results, detection, counters)
}

func (p *Pipeline) getOrCreateRecord(ctx context.Context, tx store.Store, d *demographics,
	cache *lru.Cache[domain.RecordKey, *domain.Record], counters *Counters) (*domain.Record, error) {

	rec := &domain.Record{
		TenantID:     p.tenant.Tenant.ID,
		Date:         d.date,
		PatientHash:  d.hash,
		Age:          d.age,
		SexID:        d.sex.ID,
		ScopeID:      d.scope.ID,
		ServiceID:    d.service.ID,
		SampleTypeID: d.sample.ID,
	}
	key := rec.Key()

	if cached, ok := cache.Get(key); ok {
		counters.RecordsReused++
		return cached, nil
	}

	existing, err := tx.FindRecords(ctx, p.tenant.Tenant.ID, key)
	if err != nil {
		return nil, fmt.Errorf("looking up record: %w", err)
	}
	if len(existing) > 0 {
		// Multiple matches resolve to the first, deterministically.
		counters.RecordsReused++
		cache.Add(key, existing[0])
		return existing[0], nil
	}

	if err := tx.CreateRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("creating record: %w", err)
	}
	counters.RecordsCreated++
	cache.Add(key, rec)
	return rec, nil
}

// extractAntibiogram walks the organism's profile and assembles the final
// antibiotic-id -> measurement map of the row.
func (p *Pipeline) extractAntibiogram(row map[string]string, headers []string, d *demographics,
	org *domain.Organism, profile *domain.Profile, counters *Counters) map[int64]measurement {

	results := map[int64]measurement{}
	intrinsic := p.catalog.IntrinsicSet(org)

	for _, pa := range orderedProfileAntibiotics(p.tenant, profile) {
		ta := p.tenant.TenantAntibioticByID(pa.TenantAntibioticID)
		if ta == nil {
			continue
		}
		base := p.catalog.Drugs[ta.AntibioticID]
		if base == nil {
			continue
		}
		aliases := antibioticAliases(base, ta)

		rawInterp := findExactColumn(row, headers, aliases)
		rawMic := findSuffixColumn(row, headers, aliases, parse.IsMicColumn)
		rawHalo := findSuffixColumn(row, headers, aliases, parse.IsHaloColumn)

		if rawInterp == "" && rawMic == "" && rawHalo == "" {
			continue
		}

		interp := p.standardInterpretation(rawInterp)
		mic := parse.ParseMic(rawMic)
		halo := parse.ParseHalo(rawHalo)

		if !interp.Countable() && mic == nil && halo == nil {
			counters.InvalidResults++
			continue
		}

		// Intrinsic resistance overrides the measurement for the base and
		// every variant; nothing else runs for this drug.
		if intrinsic[base.ID] {
			results[base.ID] = measurement{interp: domain.R, mic: mic, halo: halo}
			for _, vid := range p.catalog.VariantsOf(base.ID) {
				results[vid] = measurement{interp: domain.R, mic: mic, halo: halo}
			}
			continue
		}

		// The base keeps its laboratory interpretation verbatim.
		results[base.ID] = measurement{interp: interp, mic: mic, halo: halo}

		// Variants are derived through the breakpoint rules of the version
		// in force at the sample date. The base row is never overwritten.
		for _, vid := range p.catalog.VariantsOf(base.ID) {
			in := rules.Input{
				AntibioticID: vid,
				Organism:     org,
				GroupID:      org.GroupID,
				Age:          d.age,
				SexID:        &d.sex.SexID,
				SampleType:   d.sample,
				VersionID:    &d.version.ID,
			}
			rule := p.engine.FirstApplicable(in)
			if rule == nil {
				continue
			}
			results[vid] = measurement{interp: rules.Interpret(rule, mic, halo), mic: mic, halo: halo}
		}
	}
	return results
}

// applyAcquiredResistance upgrades the affected drugs to R, preserving the
// measured MIC and halo. ND and NA stay untouched.
func applyAcquiredResistance(results map[int64]measurement, det mechanisms.Detection) {
	for abID := range det.AcquiredResistance() {
		m, ok := results[abID]
		if !ok {
			continue
		}
		if m.interp == domain.R || m.interp == domain.NA || m.interp == domain.ND {
			continue
		}
		m.interp = domain.R
		results[abID] = m
	}
}

// signature renders the final result map into a comparable form, rounding
// numerics to three decimals.
func signature(results map[int64]measurement) map[int64][3]string {
	sig := make(map[int64][3]string, len(results))
	for abID, m := range results {
		sig[abID] = [3]string{string(m.interp), roundKey(m.mic), roundKey(m.halo)}
	}
	return sig
}

func roundKey(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%.3f", math.Round(*v*1000)/1000)
}

func (p *Pipeline) isDuplicate(ctx context.Context, tx store.Store, recordID, torgID int64,
	results map[int64]measurement) (bool, error) {

	existing, err := tx.IsolatesByRecordOrganism(ctx, recordID, torgID)
	if err != nil {
		return false, fmt.Errorf("loading existing isolates: %w", err)
	}
	if len(existing) == 0 {
		return false, nil
	}

	newSig := signature(results)
	for _, detail := range existing {
		oldSig := map[int64][3]string{}
		for _, r := range detail.Results {
			ta := p.tenant.TenantAntibioticByID(r.TenantAntibioticID)
			if ta == nil {
				continue
			}
			oldSig[ta.AntibioticID] = [3]string{string(r.Interpretation), roundKey(r.Mic), roundKey(r.Halo)}
		}
		if equalSignatures(newSig, oldSig) {
			return true, nil
		}
	}
	return false, nil
}

func equalSignatures(a, b map[int64][3]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func (p *Pipeline) createIsolate(ctx context.Context, tx store.Store, record *domain.Record,
	torg *domain.TenantOrganism, d *demographics, results map[int64]measurement,
	det mechanisms.Detection, counters *Counters) error {

	iso := &domain.Isolate{
		TenantID:         p.tenant.Tenant.ID,
		RecordID:         record.ID,
		TenantOrganismID: torg.ID,
		VersionID:        d.version.ID,
	}
	for id := range det.Mechanisms {
		iso.MechanismIDs = append(iso.MechanismIDs, id)
	}
	for id := range det.Subtypes {
		iso.SubtypeIDs = append(iso.SubtypeIDs, id)
	}
	sort.Slice(iso.MechanismIDs, func(i, j int) bool { return iso.MechanismIDs[i] < iso.MechanismIDs[j] })
	sort.Slice(iso.SubtypeIDs, func(i, j int) bool { return iso.SubtypeIDs[i] < iso.SubtypeIDs[j] })

	if err := tx.CreateIsolate(ctx, iso); err != nil {
		return fmt.Errorf("creating isolate: %w", err)
	}
	counters.IsolatesCreated++

	abIDs := make([]int64, 0, len(results))
	for abID := range results {
		abIDs = append(abIDs, abID)
	}
	sort.Slice(abIDs, func(i, j int) bool { return abIDs[i] < abIDs[j] })

	for _, abID := range abIDs {
		m := results[abID]
		// Fully empty entries are never persisted.
		if (m.interp == domain.ND || m.interp == "") && m.mic == nil && m.halo == nil {
			continue
		}
		ta := p.taByAb[abID]
		if ta == nil {
			counters.InvalidResults++
			p.log.WithField("antibiotic_id", abID).Warn("No tenant overlay for antibiotic, result dropped")
			continue
		}
		res := &domain.Result{
			IsolateID:          iso.ID,
			TenantAntibioticID: ta.ID,
			Interpretation:     m.interp,
			Mic:                m.mic,
			Halo:               m.halo,
		}
		if err := tx.CreateResult(ctx, res); err != nil {
			return fmt.Errorf("creating result: %w", err)
		}
	}
	return nil
}

// standardInterpretation maps free interpretation text through the tenant's
// alias table, falling back to a direct S/R/I uppercase match.
func (p *Pipeline) standardInterpretation(raw string) domain.Interpretation {
	if raw == "" {
		return domain.ND
	}
	upper := strings.ToUpper(strings.TrimSpace(raw))
	for _, ia := range p.interpAliases {
		for _, a := range ia.Aliases {
			if strings.ToUpper(strings.TrimSpace(a)) == upper {
				return ia.Interpretation
			}
		}
	}
	switch upper {
	case "S", "R", "I":
		return domain.Interpretation(upper)
	}
	return domain.ND
}

// antibioticAliases is the normalized token list that locates a drug's
// columns: abbreviation first, then the tenant aliases.
func antibioticAliases(base *domain.Antibiotic, ta *domain.TenantAntibiotic) []string {
	out := []string{parse.Normalize(base.Abbr)}
	for _, a := range ta.Aliases {
		if n := parse.Normalize(a); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// findExactColumn returns the first non-empty cell whose normalized header
// equals one of the aliases.
func findExactColumn(row map[string]string, headers []string, aliases []string) string {
	for _, a := range aliases {
		for _, h := range headers {
			if parse.Normalize(h) != a {
				continue
			}
			if v := strings.TrimSpace(row[h]); v != "" {
				return v
			}
		}
	}
	return ""
}

// findSuffixColumn returns the first non-empty cell of a MIC/halo column
// whose stripped header matches one of the aliases.
func findSuffixColumn(row map[string]string, headers []string, aliases []string,
	match func(string) (string, bool)) string {

	for _, a := range aliases {
		compact := strings.ReplaceAll(a, " ", "")
		for _, h := range headers {
			prefix, ok := match(h)
			if !ok || prefix != compact {
				continue
			}
			if v := strings.TrimSpace(row[h]); v != "" {
				return v
			}
		}
	}
	return ""
}

// orderedProfileAntibiotics returns the profile entries in report order.
func orderedProfileAntibiotics(tc *domain.TenantCatalog, profile *domain.Profile) []domain.ProfileAntibiotic {
	out := make([]domain.ProfileAntibiotic, len(profile.Antibiotics))
	copy(out, profile.Antibiotics)
	sort.SliceStable(out, func(i, j int) bool {
		a := tc.TenantAntibioticByID(out[i].TenantAntibioticID)
		b := tc.TenantAntibioticByID(out[j].TenantAntibioticID)
		if a == nil || b == nil {
			return a != nil
		}
		if a.ReportOrder != b.ReportOrder {
			return a.ReportOrder < b.ReportOrder
		}
		return a.ID < b.ID
	})
	return out
}

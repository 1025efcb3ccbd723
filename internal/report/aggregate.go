package report

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/sensibyte/SensiByte/internal/domain"
	"github.com/sensibyte/SensiByte/internal/store"
)

// minStratumSize is the default threshold below which a stratum is omitted.
const minStratumSize = 30

// Options parameterizes one cumulative report.
type Options struct {
	Window    store.Window
	VersionID int64

	// CombineSI folds I into the success column ("SEI with S").
	CombineSI bool

	// IncludeVariants switches to the variant-only view: variants are
	// reported and bases that have variants are hidden. The default hides
	// variants.
	IncludeVariants bool
}

// Row is one (antibiotic, slice) cell of the report. Percentages carry two
// decimals; CI bounds are percent.
type Row struct {
	AntibioticID int64
	Name         string
	ReportOrder  int

	Total     int
	Success   int // S, or S+I when CombineSI
	SEI       int // I alone; zero when CombineSI
	Resistant int

	PercentS  float64
	PercentI  float64
	PercentSI float64
	PercentR  float64

	CILow  float64
	CIHigh float64

	// Separate interval for I, present only when n >= 30 and I > 0 in the
	// split view.
	CILowI  *float64
	CIHighI *float64

	CILowSI  float64
	CIHighSI float64

	NeedsAsterisk bool
	Arrow         string
}

// SubtypeCount is one subtype frequency inside a mechanism combination.
type SubtypeCount struct {
	Name  string
	Count int
}

// MechanismRow is one mechanism combination ("A + B" is distinct from "A").
type MechanismRow struct {
	Name          string
	Count         int
	Percent       float64
	Subtypes      []SubtypeCount
	IsCombination bool
	Arrow         string
}

// Slice is the report content of one stratum.
type Slice struct {
	Total      int
	Rows       []Row
	Mechanisms []MechanismRow
}

// Report is the full output of one aggregation pass.
type Report struct {
	Total      int
	Global     Slice
	ByScope    map[string]Slice
	ByService  map[string]Slice
	BySex      map[string]Slice
	ByAge      map[string]Slice
	BySample   map[string]Slice
	BySexAge   map[string]Slice
}

// Aggregator computes cumulative reports over persisted state. It reads
// only; every count uses the first-isolate-per-patient deduplicated set.
type Aggregator struct {
	store     store.Store
	catalog   *domain.Catalog
	tenant    *domain.TenantCatalog
	mechNames map[int64]*domain.ResistanceMechanism
	subNames  map[int64]*domain.MechanismSubtype
	log       *logrus.Logger
}

// NewAggregator wires an aggregator for one tenant.
func NewAggregator(st store.Store, catalog *domain.Catalog, tenant *domain.TenantCatalog,
	mechNames map[int64]*domain.ResistanceMechanism, subNames map[int64]*domain.MechanismSubtype,
	logger *logrus.Logger) *Aggregator {
	return &Aggregator{
		store:     st,
		catalog:   catalog,
		tenant:    tenant,
		mechNames: mechNames,
		subNames:  subNames,
		log:       logger,
	}
}

// Build runs one aggregation pass, computing the global slice and every
// stratification in a single sweep over the deduplicated isolates.
func (a *Aggregator) Build(ctx context.Context, opts Options) (*Report, error) {
	isolates, err := a.store.FirstIsolates(ctx, opts.Window)
	if err != nil {
		return nil, fmt.Errorf("loading first isolates: %w", err)
	}

	rep := &Report{
		Total:     len(isolates),
		ByScope:   map[string]Slice{},
		ByService: map[string]Slice{},
		BySex:     map[string]Slice{},
		ByAge:     map[string]Slice{},
		BySample:  map[string]Slice{},
		BySexAge:  map[string]Slice{},
	}

	rep.Global = a.buildSlice(isolates, opts, true)

	strata := []struct {
		dest   map[string]Slice
		key    func(*store.IsolateDetail) string
		sample bool
	}{
		{rep.ByScope, a.scopeKey, false},
		{rep.ByService, a.serviceKey, false},
		{rep.BySex, a.sexKey, false},
		{rep.ByAge, func(d *store.IsolateDetail) string { return string(domain.AgeGroupOf(d.Record.Age)) }, false},
		{rep.BySample, a.sampleKey, true},
		{rep.BySexAge, func(d *store.IsolateDetail) string {
			sex := a.sexKey(d)
			age := string(domain.AgeGroupOf(d.Record.Age))
			if sex == "" || age == "" {
				return ""
			}
			return sex + " / " + age
		}, false},
	}

	for _, st := range strata {
		groups := map[string][]*store.IsolateDetail{}
		for _, d := range isolates {
			k := st.key(d)
			if k == "" {
				continue
			}
			groups[k] = append(groups[k], d)
		}
		for k, members := range groups {
			if len(members) < minStratumSize && !(st.sample && a.categoryIgnoresMin(k)) {
				continue
			}
			st.dest[k] = a.buildSlice(members, opts, true)
		}
	}

	if a.log != nil {
		a.log.WithFields(logrus.Fields{
			"isolates": rep.Total,
			"rows":     len(rep.Global.Rows),
		}).Info("Report built")
	}
	return rep, nil
}

// Compare annotates the current report's rows and mechanism rows with
// significance arrows against a prior-period report.
func Compare(current, prior *Report) {
	compareSlice(&current.Global, prior.Global)
	pairs := []struct {
		cur  map[string]Slice
		prev map[string]Slice
	}{
		{current.ByScope, prior.ByScope},
		{current.ByService, prior.ByService},
		{current.BySex, prior.BySex},
		{current.ByAge, prior.ByAge},
		{current.BySample, prior.BySample},
		{current.BySexAge, prior.BySexAge},
	}
	for _, p := range pairs {
		for k, cur := range p.cur {
			prev, ok := p.prev[k]
			if !ok {
				continue
			}
			compareSlice(&cur, prev)
			p.cur[k] = cur
		}
	}
}

func compareSlice(cur *Slice, prev Slice) {
	prevRows := map[string]Row{}
	for _, r := range prev.Rows {
		prevRows[r.Name] = r
	}
	for i := range cur.Rows {
		if p, ok := prevRows[cur.Rows[i].Name]; ok {
			cur.Rows[i].Arrow = compareProportions(
				cur.Rows[i].Success, cur.Rows[i].Total, p.Success, p.Total)
		}
	}

	prevMechs := map[string]MechanismRow{}
	for _, m := range prev.Mechanisms {
		prevMechs[m.Name] = m
	}
	for i := range cur.Mechanisms {
		if p, ok := prevMechs[cur.Mechanisms[i].Name]; ok {
			cur.Mechanisms[i].Arrow = compareProportions(
				cur.Mechanisms[i].Count, cur.Total, p.Count, prev.Total)
		}
	}
}

// buildSlice counts S/I/R per antibiotic over a set of isolates and
// derives percentages and intervals.
func (a *Aggregator) buildSlice(isolates []*store.IsolateDetail, opts Options, computeCI bool) Slice {
	type counts struct{ s, sei, total int }
	perAb := map[int64]*counts{}

	var org *domain.Organism
	if len(isolates) > 0 {
		if torg := a.tenant.Organisms[isolates[0].Isolate.TenantOrganismID]; torg != nil {
			org = a.catalog.Organisms[torg.OrganismID]
		}
	}
	var intrinsic map[int64]bool
	if org != nil {
		intrinsic = a.catalog.IntrinsicSet(org)
	}

	for _, d := range isolates {
		for _, r := range d.Results {
			ta := a.tenant.TenantAntibioticByID(r.TenantAntibioticID)
			if ta == nil {
				continue
			}
			ab := a.catalog.Drugs[ta.AntibioticID]
			if ab == nil {
				continue
			}
			if intrinsic != nil && intrinsic[ab.ID] {
				continue
			}
			if !a.visibleInProfile(org, ta.ID) {
				continue
			}
			if !a.variantVisible(ab, opts.IncludeVariants) {
				continue
			}

			interp := effectiveInterpretation(d, r, opts.VersionID)
			if !interp.Countable() {
				continue
			}

			c := perAb[ab.ID]
			if c == nil {
				c = &counts{}
				perAb[ab.ID] = c
			}
			c.total++
			switch interp {
			case domain.S:
				c.s++
			case domain.I:
				c.sei++
			}
		}
	}

	sl := Slice{Total: len(isolates)}
	for abID, c := range perAb {
		if c.total <= 1 {
			continue
		}
		ab := a.catalog.Drugs[abID]
		ta := a.tenant.Antibiotics[abID]
		order := 0
		if ta != nil {
			order = ta.ReportOrder
		}

		success := c.s
		sei := c.sei
		if opts.CombineSI {
			success += sei
			sei = 0
		}
		resistant := c.total - c.s - c.sei

		row := Row{
			AntibioticID:  abID,
			Name:          ab.Name,
			ReportOrder:   order,
			Total:         c.total,
			Success:       success,
			SEI:           sei,
			Resistant:     resistant,
			PercentS:      pct(success, c.total),
			PercentR:      pct(resistant, c.total),
			NeedsAsterisk: c.total < minStratumSize,
		}

		if computeCI {
			low, high := ci95(success, c.total)
			row.CILow = round2(low * 100)
			row.CIHigh = round2(high * 100)
		}

		if !opts.CombineSI {
			row.PercentI = pct(sei, c.total)
			si := c.s + c.sei
			row.PercentSI = pct(si, c.total)
			if computeCI {
				low, high := ci95(si, c.total)
				row.CILowSI = round2(low * 100)
				row.CIHighSI = round2(high * 100)
				if c.total >= 30 && sei > 0 {
					li, hi := ci95(sei, c.total)
					liP, hiP := round2(li*100), round2(hi*100)
					row.CILowI, row.CIHighI = &liP, &hiP
				}
			}
		}

		sl.Rows = append(sl.Rows, row)
	}

	sort.Slice(sl.Rows, func(i, j int) bool {
		if sl.Rows[i].ReportOrder != sl.Rows[j].ReportOrder {
			return sl.Rows[i].ReportOrder < sl.Rows[j].ReportOrder
		}
		return sl.Rows[i].Name < sl.Rows[j].Name
	})

	sl.Mechanisms = a.mechanismRows(isolates)
	return sl
}

// mechanismRows groups isolates by the set of base mechanisms they carry.
// Each distinct combination is its own row with its subtype frequencies.
func (a *Aggregator) mechanismRows(isolates []*store.IsolateDetail) []MechanismRow {
	tenantMechs := map[int64]*domain.TenantMechanism{}
	for _, tm := range a.tenant.Mechanisms {
		tenantMechs[tm.ID] = tm
	}
	tenantSubs := map[int64]*domain.TenantSubtype{}
	for _, ts := range a.tenant.Subtypes {
		tenantSubs[ts.ID] = ts
	}

	type combo struct {
		count    int
		subtypes map[string]int
	}
	combos := map[string]*combo{}
	comboIDs := map[string][]int64{}

	for _, d := range isolates {
		var baseIDs []int64
		for _, tmID := range d.Isolate.MechanismIDs {
			if tm := tenantMechs[tmID]; tm != nil {
				baseIDs = append(baseIDs, tm.MechanismID)
			}
		}
		if len(baseIDs) == 0 {
			continue
		}
		sort.Slice(baseIDs, func(i, j int) bool { return baseIDs[i] < baseIDs[j] })
		key := comboKey(baseIDs)

		c := combos[key]
		if c == nil {
			c = &combo{subtypes: map[string]int{}}
			combos[key] = c
			comboIDs[key] = baseIDs
		}
		c.count++

		for _, tsID := range d.Isolate.SubtypeIDs {
			ts := tenantSubs[tsID]
			if ts == nil {
				continue
			}
			if sub := a.subNames[ts.SubtypeID]; sub != nil {
				c.subtypes[sub.Name]++
			}
		}
	}

	total := len(isolates)
	var rows []MechanismRow
	for key, c := range combos {
		ids := comboIDs[key]
		names := make([]string, 0, len(ids))
		for _, id := range ids {
			if m := a.mechNames[id]; m != nil {
				names = append(names, m.Name)
			} else {
				names = append(names, fmt.Sprintf("Mechanism %d", id))
			}
		}

		subs := make([]SubtypeCount, 0, len(c.subtypes))
		for name, n := range c.subtypes {
			subs = append(subs, SubtypeCount{Name: name, Count: n})
		}
		sort.Slice(subs, func(i, j int) bool {
			if subs[i].Count != subs[j].Count {
				return subs[i].Count > subs[j].Count
			}
			return subs[i].Name < subs[j].Name
		})

		rows = append(rows, MechanismRow{
			Name:          strings.Join(names, " + "),
			Count:         c.count,
			Percent:       pct(c.count, total),
			Subtypes:      subs,
			IsCombination: len(ids) > 1,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Name < rows[j].Name
	})
	return rows
}

// effectiveInterpretation prefers the reinterpretation at the target
// version when the isolate was captured under a different one.
func effectiveInterpretation(d *store.IsolateDetail, r *domain.Result, versionID int64) domain.Interpretation {
	if versionID != 0 && d.Isolate.VersionID != versionID {
		if byVersion, ok := d.Reinterps[r.ID]; ok {
			if ri, ok := byVersion[versionID]; ok {
				return ri.NewInterpretation
			}
		}
	}
	return r.Interpretation
}

// variantVisible applies the variant/base exclusion of the chosen view.
func (a *Aggregator) variantVisible(ab *domain.Antibiotic, includeVariants bool) bool {
	if includeVariants {
		if ab.IsVariant {
			return true
		}
		return len(a.catalog.VariantsOf(ab.ID)) == 0
	}
	return !ab.IsVariant
}

// visibleInProfile honors the per-profile show_in_report flag.
func (a *Aggregator) visibleInProfile(org *domain.Organism, tenantAntibioticID int64) bool {
	if org == nil {
		return true
	}
	profile, err := a.tenant.ProfileFor(org.GroupID)
	if err != nil {
		return true
	}
	for _, pa := range profile.Antibiotics {
		if pa.TenantAntibioticID == tenantAntibioticID {
			return pa.ShowInReport
		}
	}
	return false
}

func (a *Aggregator) scopeKey(d *store.IsolateDetail) string {
	for _, ts := range a.tenant.Scopes {
		if ts.ID == d.Record.ScopeID {
			if s := a.catalog.Scopes[ts.ScopeID]; s != nil {
				return s.Name
			}
		}
	}
	return ""
}

func (a *Aggregator) serviceKey(d *store.IsolateDetail) string {
	for _, ts := range a.tenant.Services {
		if ts.ID == d.Record.ServiceID {
			if s := a.catalog.Services[ts.ServiceID]; s != nil {
				return s.Name
			}
		}
	}
	return ""
}

func (a *Aggregator) sexKey(d *store.IsolateDetail) string {
	for _, ts := range a.tenant.Sexes {
		if ts.ID == d.Record.SexID {
			if s := a.catalog.Sexes[ts.SexID]; s != nil {
				return s.Description
			}
		}
	}
	return ""
}

func (a *Aggregator) sampleKey(d *store.IsolateDetail) string {
	for _, ts := range a.tenant.SampleTypes {
		if ts.ID == d.Record.SampleTypeID {
			if cat := a.tenant.Categories[ts.CategoryID]; cat != nil {
				return cat.Name
			}
		}
	}
	return ""
}

func (a *Aggregator) categoryIgnoresMin(name string) bool {
	for _, cat := range a.tenant.Categories {
		if cat.Name == name {
			return cat.IgnoreMin
		}
	}
	return false
}

func comboKey(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, "+")
}

func pct(x, n int) float64 {
	if n == 0 {
		return 0
	}
	return round2(100 * float64(x) / float64(n))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

package trend

import (
	"context"
	"fmt"
	"time"

	"github.com/sensibyte/SensiByte/internal/domain"
	"github.com/sensibyte/SensiByte/internal/store"
)

// Target selects what the trend follows: the susceptibility of one
// antibiotic, or the prevalence of one mechanism (optionally narrowed to a
// subtype).
type Target struct {
	TenantOrganismID   int64
	TenantAntibioticID *int64
	MechanismID        *int64
	SubtypeID          *int64
}

// Filters narrows the isolate population by demographics. Empty slices
// leave a dimension unfiltered.
type Filters struct {
	SexIDs      []int64
	ScopeIDs    []int64
	ServiceIDs  []int64
	CategoryIDs []int64
	AgeMin      *float64
	AgeMax      *float64
}

// Request is one trend analysis job.
type Request struct {
	Target    Target
	Filters   Filters
	TenantID  int64
	VersionID int64
	From, To  time.Time
	Grouping  domain.Grouping
	Title     string
}

// PeriodPoint is the aggregate of one period.
type PeriodPoint struct {
	Period
	Index int

	S, I, R   int
	Total     int
	PercentS  float64
	PercentI  float64
	PercentR  float64
	PercentSI float64

	Originals      int
	Reinterpreted  int
	CopiedForward  int
	HasCopied      bool
}

// GlobalStats sums the whole range.
type GlobalStats struct {
	Total    int
	S, I, R  int
	PercentS float64
	PercentI float64
	PercentR float64
}

// buildSeries loads the deduplicated isolates of the full range once, then
// buckets per period and counts under the target version's override policy.
func buildSeries(ctx context.Context, st store.Store, tenant *domain.TenantCatalog,
	req Request, periods []Period) ([]PeriodPoint, error) {

	w := store.Window{
		TenantID:         req.TenantID,
		TenantOrganismID: &req.Target.TenantOrganismID,
		From:             periods[0].Start,
		To:               periods[len(periods)-1].End,
	}
	isolates, err := st.FirstIsolates(ctx, w)
	if err != nil {
		return nil, fmt.Errorf("loading first isolates: %w", err)
	}

	filtered := make([]*store.IsolateDetail, 0, len(isolates))
	for _, d := range isolates {
		if matchesFilters(tenant, d, req.Filters) {
			filtered = append(filtered, d)
		}
	}

	points := make([]PeriodPoint, len(periods))
	for i, p := range periods {
		points[i] = PeriodPoint{Period: p, Index: i}
	}

	for _, d := range filtered {
		idx := -1
		for i, p := range periods {
			if !d.Record.Date.Before(p.Start) && !d.Record.Date.After(p.End) {
				idx = i
				break
			}
		}
		if idx < 0 {
			continue
		}
		pt := &points[idx]

		if req.Target.MechanismID != nil {
			countMechanism(pt, d, req)
			continue
		}
		countAntibiotic(pt, d, req)
	}

	for i := range points {
		pt := &points[i]
		pt.Total = pt.S + pt.I + pt.R
		if pt.Total > 0 {
			pt.PercentS = round2(100 * float64(pt.S) / float64(pt.Total))
			pt.PercentI = round2(100 * float64(pt.I) / float64(pt.Total))
			pt.PercentR = round2(100 * float64(pt.R) / float64(pt.Total))
			pt.PercentSI = round2(100 * float64(pt.S+pt.I) / float64(pt.Total))
		}
		pt.HasCopied = pt.CopiedForward > 0
	}
	return points, nil
}

// countAntibiotic counts one isolate's result for the target drug,
// preferring the reinterpretation when the stored version differs from the
// requested one.
func countAntibiotic(pt *PeriodPoint, d *store.IsolateDetail, req Request) {
	for _, r := range d.Results {
		if r.TenantAntibioticID != *req.Target.TenantAntibioticID {
			continue
		}
		interp := r.Interpretation
		fromReinterp := false
		if req.VersionID != 0 && d.Isolate.VersionID != req.VersionID {
			if byVersion, ok := d.Reinterps[r.ID]; ok {
				if ri, ok := byVersion[req.VersionID]; ok {
					interp = ri.NewInterpretation
					fromReinterp = true
					if !ri.WasRecomputed {
						pt.CopiedForward++
					}
				}
			}
		}
		if !interp.Countable() {
			return
		}
		if fromReinterp {
			pt.Reinterpreted++
		} else {
			pt.Originals++
		}
		switch interp {
		case domain.S:
			pt.S++
		case domain.I:
			pt.I++
		case domain.R:
			pt.R++
		}
		return
	}
}

// countMechanism counts prevalence: S carries carriers, R non-carriers, so
// percent_si degenerates to the prevalence share downstream.
func countMechanism(pt *PeriodPoint, d *store.IsolateDetail, req Request) {
	carries := false
	for _, mid := range d.Isolate.MechanismIDs {
		if mid == *req.Target.MechanismID {
			carries = true
			break
		}
	}
	if carries && req.Target.SubtypeID != nil {
		carries = false
		for _, sid := range d.Isolate.SubtypeIDs {
			if sid == *req.Target.SubtypeID {
				carries = true
				break
			}
		}
	}
	pt.Originals++
	if carries {
		pt.S++
	} else {
		pt.R++
	}
}

func matchesFilters(tenant *domain.TenantCatalog, d *store.IsolateDetail, f Filters) bool {
	rec := d.Record
	if len(f.SexIDs) > 0 && !containsID(f.SexIDs, rec.SexID) {
		return false
	}
	if len(f.ScopeIDs) > 0 && !containsID(f.ScopeIDs, rec.ScopeID) {
		return false
	}
	if len(f.ServiceIDs) > 0 && !containsID(f.ServiceIDs, rec.ServiceID) {
		return false
	}
	if len(f.CategoryIDs) > 0 {
		matched := false
		for _, ts := range tenant.SampleTypes {
			if ts.ID == rec.SampleTypeID && containsID(f.CategoryIDs, ts.CategoryID) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if f.AgeMin != nil && (rec.Age == nil || *rec.Age < *f.AgeMin) {
		return false
	}
	if f.AgeMax != nil && (rec.Age == nil || *rec.Age > *f.AgeMax) {
		return false
	}
	return true
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// globalStats sums S/I/R over the whole range.
func globalStats(points []PeriodPoint) GlobalStats {
	g := GlobalStats{}
	for _, p := range points {
		g.S += p.S
		g.I += p.I
		g.R += p.R
	}
	g.Total = g.S + g.I + g.R
	if g.Total > 0 {
		g.PercentS = round2(100 * float64(g.S) / float64(g.Total))
		g.PercentI = round2(100 * float64(g.I) / float64(g.Total))
		g.PercentR = round2(100 * float64(g.R) / float64(g.Total))
	}
	return g
}

// Package rules implements the EUCAST rule engine: taxonomic condition
// matching, breakpoint rule applicability and the MIC/halo interpretation
// that yields an S/I/R category.
package rules

import (
	"github.com/sirupsen/logrus"

	"github.com/sensibyte/SensiByte/internal/domain"
)

// Engine evaluates breakpoint rules against a read-only catalog snapshot.
type Engine struct {
	catalog *domain.Catalog
	log     *logrus.Logger
}

// NewEngine creates a rule engine over the loaded catalog.
func NewEngine(catalog *domain.Catalog, logger *logrus.Logger) *Engine {
	return &Engine{catalog: catalog, log: logger}
}

// Input carries the facts of an isolate a rule is checked against. Age,
// SexID, SampleType and VersionID may be absent.
type Input struct {
	AntibioticID int64
	Organism     *domain.Organism
	GroupID      int64
	Age          *float64
	SexID        *int64
	SampleType   *domain.TenantSampleType
	VersionID    *int64
}

// ConditionApplies evaluates a taxonomic condition against an organism.
//
// Exclusion is checked first and is never restricted to the condition's
// scope: EUCAST rules sometimes exclude at a higher level than they
// include, so an exclude member vetoes any organism sharing its species or
// genus. Inclusion walks each include member by decreasing specificity
// (species, genus, family, group) down to the condition's scope; custom
// conditions require explicit membership.
func (e *Engine) ConditionApplies(tc *domain.TaxonCondition, org *domain.Organism) bool {
	for _, id := range tc.Exclude {
		if id == org.ID {
			return false
		}
		if m := e.catalog.Organisms[id]; m != nil && taxonMatch(org, m, domain.ScopeGenus) {
			return false
		}
	}

	if len(tc.Include) == 0 {
		return tc.Scope != domain.ScopeCustom
	}

	if tc.Scope == domain.ScopeCustom {
		for _, id := range tc.Include {
			if id == org.ID {
				return true
			}
		}
		return false
	}

	for _, id := range tc.Include {
		if id == org.ID {
			return true
		}
		if m := e.catalog.Organisms[id]; m != nil && taxonMatch(org, m, tc.Scope) {
			return true
		}
	}
	return false
}

// taxonMatch reports whether two organisms coincide at any specificity
// level between species and the given coarsest scope.
func taxonMatch(org, member *domain.Organism, coarsest domain.TaxonScope) bool {
	levels := []domain.TaxonScope{domain.ScopeSpecies, domain.ScopeGenus, domain.ScopeFamily, domain.ScopeGroup}
	for _, lvl := range levels {
		switch lvl {
		case domain.ScopeSpecies:
			if org.Species != "" && org.Species == member.Species {
				return true
			}
		case domain.ScopeGenus:
			if org.Genus != "" && org.Genus == member.Genus {
				return true
			}
		case domain.ScopeFamily:
			if org.Family != "" && org.Family == member.Family {
				return true
			}
		case domain.ScopeGroup:
			if org.GroupID != 0 && org.GroupID == member.GroupID {
				return true
			}
		}
		if lvl == coarsest {
			break
		}
	}
	return false
}

// Applies reports whether a breakpoint rule covers the input.
func (e *Engine) Applies(r *domain.BreakpointRule, in Input) bool {
	if in.VersionID != nil && r.VersionID != *in.VersionID {
		return false
	}
	if r.AntibioticID != in.AntibioticID {
		return false
	}
	if r.GroupID != nil && in.GroupID != 0 && *r.GroupID != in.GroupID {
		return false
	}

	if len(r.ConditionIDs) > 0 {
		matched := false
		for _, cid := range r.ConditionIDs {
			tc := e.catalog.Conditions[cid]
			if tc == nil {
				continue
			}
			if e.ConditionApplies(tc, in.Organism) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	// A bounded rule cannot apply to an unknown age.
	if r.AgeMin != nil && (in.Age == nil || *in.Age < *r.AgeMin) {
		return false
	}
	if r.AgeMax != nil && (in.Age == nil || *in.Age > *r.AgeMax) {
		return false
	}

	if r.SexID != nil && in.SexID != nil && *r.SexID != *in.SexID {
		return false
	}

	if len(r.CategoryIDs) > 0 {
		if in.SampleType == nil {
			return false
		}
		found := false
		for _, cid := range r.CategoryIDs {
			if cid == in.SampleType.CategoryID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}

// Interpret maps a MIC or halo measurement to a clinical category under the
// rule's thresholds.
//
// MIC takes precedence over halo. RMicMin is the EUCAST table value
// strictly above which the isolate is resistant; the comparison doubles it
// because the reported off-scale value sits one step up the two-fold
// dilution series.
func Interpret(r *domain.BreakpointRule, mic, halo *float64) domain.Interpretation {
	if mic == nil && halo == nil {
		return domain.ND
	}

	if mic != nil {
		switch {
		case r.SMicMax != nil && *mic <= *r.SMicMax:
			return domain.S
		case r.RMicMin != nil && *mic > 2**r.RMicMin:
			return domain.R
		case r.SMicMax != nil && r.RMicMin != nil && *mic > *r.SMicMax && *mic < 2**r.RMicMin:
			return domain.I
		default:
			return domain.ND
		}
	}

	switch {
	case r.SHaloMin != nil && *halo >= *r.SHaloMin:
		return domain.S
	case r.RHaloMax != nil && *halo < *r.RHaloMax:
		return domain.R
	case r.SHaloMin != nil && r.RHaloMax != nil && *halo >= *r.RHaloMax && *halo < *r.SHaloMin:
		return domain.I
	default:
		return domain.ND
	}
}

// ApplicableRules returns every candidate rule that applies to the input,
// most specific first. Callers pick the first or apply all, per use case.
func (e *Engine) ApplicableRules(in Input) []*domain.BreakpointRule {
	var out []*domain.BreakpointRule
	for _, r := range e.catalog.RulesForAntibiotic(in.AntibioticID) {
		if e.Applies(r, in) {
			out = append(out, r)
		}
	}
	if e.log != nil {
		e.log.WithFields(logrus.Fields{
			"antibiotic_id": in.AntibioticID,
			"organism":      in.Organism.Name,
			"applicable":    len(out),
		}).Debug("Evaluated breakpoint rules")
	}
	return out
}

// FirstApplicable returns the most specific applicable rule, or nil.
func (e *Engine) FirstApplicable(in Input) *domain.BreakpointRule {
	if rs := e.ApplicableRules(in); len(rs) > 0 {
		return rs[0]
	}
	return nil
}

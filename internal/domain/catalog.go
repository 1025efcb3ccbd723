package domain

import (
	"sort"
	"time"
)

// Catalog is the fixture-loaded global state: antibiotics, organisms,
// EUCAST groups, versions and breakpoint rules. It is immutable after
// startup and shared read-only by every job.
type Catalog struct {
	Families   map[int64]*AntibioticFamily
	Drugs      map[int64]*Antibiotic
	Groups     map[int64]*EucastGroup
	Organisms  map[int64]*Organism
	Versions   []*EucastVersion
	Rules      []*BreakpointRule
	Conditions map[int64]*TaxonCondition
	Sexes      map[int64]*Sex
	Scopes     map[int64]*SampleScope
	Services   map[int64]*Service
	Samples    map[int64]*SampleType

	variantsOf map[int64][]int64
	rulesByAb  map[int64][]*BreakpointRule
}

// NewCatalog returns an empty catalog with all maps allocated.
func NewCatalog() *Catalog {
	return &Catalog{
		Families:   map[int64]*AntibioticFamily{},
		Drugs:      map[int64]*Antibiotic{},
		Groups:     map[int64]*EucastGroup{},
		Organisms:  map[int64]*Organism{},
		Conditions: map[int64]*TaxonCondition{},
		Sexes:      map[int64]*Sex{},
		Scopes:     map[int64]*SampleScope{},
		Services:   map[int64]*Service{},
		Samples:    map[int64]*SampleType{},
	}
}

// Reindex rebuilds the derived indexes (variant lists, per-antibiotic rule
// lists, version ordering). Call once after loading, before any lookup.
func (c *Catalog) Reindex() {
	c.variantsOf = map[int64][]int64{}
	for id, ab := range c.Drugs {
		if ab.ParentID != nil {
			c.variantsOf[*ab.ParentID] = append(c.variantsOf[*ab.ParentID], id)
		}
	}
	for _, ids := range c.variantsOf {
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}

	c.rulesByAb = map[int64][]*BreakpointRule{}
	for _, r := range c.Rules {
		c.rulesByAb[r.AntibioticID] = append(c.rulesByAb[r.AntibioticID], r)
	}
	for _, rs := range c.rulesByAb {
		sort.SliceStable(rs, func(i, j int) bool { return rs[i].Specificity() > rs[j].Specificity() })
	}

	sort.Slice(c.Versions, func(i, j int) bool { return c.Versions[i].Year > c.Versions[j].Year })
}

// VariantsOf returns the ids of the variants descending from a base drug,
// in stable id order.
func (c *Catalog) VariantsOf(baseID int64) []int64 {
	return c.variantsOf[baseID]
}

// RulesForAntibiotic returns the candidate rules for a drug, most specific
// first. Version filtering belongs to the rule engine.
func (c *Catalog) RulesForAntibiotic(abID int64) []*BreakpointRule {
	return c.rulesByAb[abID]
}

// VersionForDate returns the EUCAST version whose validity window contains
// the date, preferring the most recent publication, or ErrNoVersion.
func (c *Catalog) VersionForDate(date time.Time) (*EucastVersion, error) {
	var best *EucastVersion
	for _, v := range c.Versions {
		if !v.Covers(date) {
			continue
		}
		if best == nil || v.ValidFrom.After(best.ValidFrom) {
			best = v
		}
	}
	if best == nil {
		return nil, ErrNoVersion
	}
	return best, nil
}

// VersionByID returns a version by id, or nil.
func (c *Catalog) VersionByID(id int64) *EucastVersion {
	for _, v := range c.Versions {
		if v.ID == id {
			return v
		}
	}
	return nil
}

// IsIntrinsic reports whether the organism is intrinsically resistant to
// the drug. The intrinsic set stores base drugs; variants inherit the
// resistance of their parent.
func (c *Catalog) IsIntrinsic(org *Organism, abID int64) bool {
	target := abID
	if ab := c.Drugs[abID]; ab != nil && ab.ParentID != nil {
		target = *ab.ParentID
	}
	for _, id := range org.IntrinsicResistance {
		if id == target {
			return true
		}
	}
	return false
}

// IntrinsicSet expands the organism's intrinsic base drugs with all their
// variants.
func (c *Catalog) IntrinsicSet(org *Organism) map[int64]bool {
	set := map[int64]bool{}
	for _, base := range org.IntrinsicResistance {
		set[base] = true
		for _, v := range c.variantsOf[base] {
			set[v] = true
		}
	}
	return set
}

// TenantCatalog is the per-tenant overlay state, rebuilt at job start and
// read-only for the duration of the job.
type TenantCatalog struct {
	Tenant *Tenant

	Antibiotics map[int64]*TenantAntibiotic // keyed by base antibiotic id
	Organisms   map[int64]*TenantOrganism   // keyed by tenant organism id
	Profiles    map[int64]*Profile          // keyed by EUCAST group id

	Sexes       []*TenantSex
	Scopes      []*TenantScope
	Services    []*TenantService
	SampleTypes []*TenantSampleType
	Categories  map[int64]*SampleCategory

	Mechanisms []*TenantMechanism
	Subtypes   []*TenantSubtype
	InterpMap  []*InterpretationAlias
	Positives  *PositiveTokens
}

// TenantAntibioticByID finds an overlay row by its own id.
func (tc *TenantCatalog) TenantAntibioticByID(id int64) *TenantAntibiotic {
	for _, ta := range tc.Antibiotics {
		if ta.ID == id {
			return ta
		}
	}
	return nil
}

// ProfileFor returns the tenant's profile for an EUCAST group, or
// ErrNoProfile. A missing profile fails the whole file: without it no
// antibiogram can be extracted for organisms of that group.
func (tc *TenantCatalog) ProfileFor(groupID int64) (*Profile, error) {
	p, ok := tc.Profiles[groupID]
	if !ok {
		return nil, ErrNoProfile
	}
	return p, nil
}

// CategoryOf returns the sample category of a tenant sample type, or nil.
func (tc *TenantCatalog) CategoryOf(st *TenantSampleType) *SampleCategory {
	if st == nil {
		return nil
	}
	return tc.Categories[st.CategoryID]
}

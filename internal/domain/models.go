package domain

import "time"

// Tenant is the owner scope of every hospital-specific entity. All
// tenant-scoped lookups filter by tenant id.
type Tenant struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// AntibioticFamily groups antibiotics below their pharmacological class.
type AntibioticFamily struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Class string `json:"class"`
}

// Antibiotic is a canonical drug from the global catalog. A variant models a
// dosage- or indication-specific form of a base drug (for example oral
// amoxicillin-clavulanate for uncomplicated UTI) and descends from exactly
// one base through ParentID.
type Antibiotic struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Abbr      string `json:"abbr"`
	FamilyID  int64  `json:"family_id"`
	IsVariant bool   `json:"is_variant"`
	ParentID  *int64 `json:"parent_id,omitempty"`

	// Route and Indication are only meaningful for variants.
	Route      string `json:"route,omitempty"`
	Indication string `json:"indication,omitempty"`
}

// Validate enforces the variant invariant: is_variant ⇔ parent set.
func (a *Antibiotic) Validate() error {
	if a.IsVariant != (a.ParentID != nil) {
		return ErrVariantParent
	}
	return nil
}

// TenantAntibiotic is the per-tenant materialization of an Antibiotic,
// carrying the report order and the header aliases used during ingestion.
// Unique per (tenant, antibiotic).
type TenantAntibiotic struct {
	ID           int64    `json:"id"`
	TenantID     int64    `json:"tenant_id"`
	AntibioticID int64    `json:"antibiotic_id"`
	ReportOrder  int      `json:"report_order"`
	Aliases      []string `json:"aliases"`
}

// EucastGroup is a named taxonomic bucket, e.g. "Enterobacterales".
type EucastGroup struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Organism is a global taxon. IntrinsicResistance lists base antibiotic ids
// the species is constitutively resistant to; the set is transitive over
// variants (a variant of an intrinsic base is implicitly intrinsic).
type Organism struct {
	ID                  int64   `json:"id"`
	Name                string  `json:"name"`
	Kingdom             string  `json:"kingdom"`
	Family              string  `json:"family"`
	Genus               string  `json:"genus"`
	Species             string  `json:"species"`
	GroupID             int64   `json:"group_id"`
	Gram                string  `json:"gram"`
	IntrinsicResistance []int64 `json:"intrinsic_resistance"`
}

// TenantOrganism is the per-tenant materialization of an Organism.
type TenantOrganism struct {
	ID         int64    `json:"id"`
	TenantID   int64    `json:"tenant_id"`
	OrganismID int64    `json:"organism_id"`
	Aliases    []string `json:"aliases"`
}

// TaxonCondition is a reusable taxonomic predicate attached to breakpoint
// rules. Include and Exclude hold organism ids; matching semantics live in
// the rules package.
type TaxonCondition struct {
	ID      int64      `json:"id"`
	Name    string     `json:"name"`
	Scope   TaxonScope `json:"scope"`
	Include []int64    `json:"include"`
	Exclude []int64    `json:"exclude"`
}

// EucastVersion identifies a yearly EUCAST breakpoint table with its
// validity window. Ordered descending by year.
type EucastVersion struct {
	ID         int64      `json:"id"`
	Year       int        `json:"year"`
	Label      string     `json:"label"`
	ValidFrom  time.Time  `json:"valid_from"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
}

// Covers reports whether the version's validity window contains the date.
func (v *EucastVersion) Covers(date time.Time) bool {
	if date.Before(v.ValidFrom) {
		return false
	}
	return v.ValidUntil == nil || !date.After(*v.ValidUntil)
}

// BreakpointRule carries the EUCAST thresholds for one antibiotic at one
// version, optionally narrowed by taxonomy, sample category, age and sex.
// Every numeric bound may be nil independently.
type BreakpointRule struct {
	ID           int64 `json:"id"`
	AntibioticID int64 `json:"antibiotic_id"`

	GroupID      *int64   `json:"group_id,omitempty"`
	ConditionIDs []int64  `json:"condition_ids,omitempty"`
	CategoryIDs  []int64  `json:"category_ids,omitempty"`
	AgeMin       *float64 `json:"age_min,omitempty"`
	AgeMax       *float64 `json:"age_max,omitempty"`
	SexID        *int64   `json:"sex_id,omitempty"`

	SMicMax  *float64 `json:"s_mic_max,omitempty"`
	RMicMin  *float64 `json:"r_mic_min,omitempty"`
	SHaloMin *float64 `json:"s_halo_min,omitempty"`
	RHaloMax *float64 `json:"r_halo_max,omitempty"`

	VersionID int64  `json:"version_id"`
	Comment   string `json:"comment,omitempty"`
}

// Specificity counts the populated discriminators of the rule. Candidate
// rules are tried most-specific first.
func (r *BreakpointRule) Specificity() int {
	n := 0
	if r.GroupID != nil {
		n++
	}
	n += len(r.ConditionIDs)
	n += len(r.CategoryIDs)
	if r.AgeMin != nil || r.AgeMax != nil {
		n++
	}
	if r.SexID != nil {
		n++
	}
	return n
}

// Profile is a tenant's reporting profile for an EUCAST group: the set of
// antibiotics evaluated for organisms of that group.
type Profile struct {
	ID          int64               `json:"id"`
	TenantID    int64               `json:"tenant_id"`
	GroupID     int64               `json:"group_id"`
	Antibiotics []ProfileAntibiotic `json:"antibiotics"`
}

// ProfileAntibiotic joins a Profile with a TenantAntibiotic.
type ProfileAntibiotic struct {
	TenantAntibioticID int64 `json:"tenant_antibiotic_id"`
	ShowInReport       bool  `json:"show_in_report"`
}

// ResistanceMechanism is a global mechanism of acquired resistance, for
// example an extended-spectrum beta-lactamase.
type ResistanceMechanism struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// MechanismSubtype is a concrete gene or enzyme family under a mechanism,
// for example CTX-M under ESBL. Every subtype has exactly one parent.
type MechanismSubtype struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	MechanismID int64  `json:"mechanism_id"`
}

// TenantMechanism overlays a ResistanceMechanism with tenant aliases and
// the antibiotics forced to R when the mechanism is detected.
type TenantMechanism struct {
	ID                 int64    `json:"id"`
	TenantID           int64    `json:"tenant_id"`
	MechanismID        int64    `json:"mechanism_id"`
	Aliases            []string `json:"aliases"`
	AcquiredResistance []int64  `json:"acquired_resistance"`
}

// TenantSubtype overlays a MechanismSubtype per tenant.
type TenantSubtype struct {
	ID                 int64    `json:"id"`
	TenantID           int64    `json:"tenant_id"`
	SubtypeID          int64    `json:"subtype_id"`
	Aliases            []string `json:"aliases"`
	AcquiredResistance []int64  `json:"acquired_resistance"`
}

// InterpretationAlias maps a tenant's free-text interpretation values onto
// a canonical category.
type InterpretationAlias struct {
	ID             int64          `json:"id"`
	TenantID       int64          `json:"tenant_id"`
	Interpretation Interpretation `json:"interpretation"`
	Aliases        []string       `json:"aliases"`
}

// PositiveTokens lists the strings a tenant uses to mark a mechanism column
// as positive ("positivo", "pos", "+", ...).
type PositiveTokens struct {
	ID       int64    `json:"id"`
	TenantID int64    `json:"tenant_id"`
	Tokens   []string `json:"tokens"`
}

// Sex is a global sex code; TenantSex carries the tenant's aliases for it.
type Sex struct {
	ID          int64  `json:"id"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

// SampleScope is the care setting a sample was collected in (inpatient,
// outpatient, ICU...). Known as "ámbito" in the source files.
type SampleScope struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Service is the clinical service that ordered the sample.
type Service struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// SampleType is a global specimen type with its LOINC code.
type SampleType struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	Classification string `json:"classification"`
	LoincCode      string `json:"loinc_code,omitempty"`
}

// SampleCategory is a tenant-defined bucket of sample types (urine, blood,
// respiratory...). IgnoreMin lets a category bypass the n >= 30 report
// threshold, e.g. for blood cultures.
type SampleCategory struct {
	ID        int64  `json:"id"`
	TenantID  int64  `json:"tenant_id"`
	Name      string `json:"name"`
	IgnoreMin bool   `json:"ignore_min"`
}

// Tenant overlays for the demographic lookups. Each is unique per
// (tenant, base entity) and carries the tenant's aliases.
type (
	TenantSex struct {
		ID       int64    `json:"id"`
		TenantID int64    `json:"tenant_id"`
		SexID    int64    `json:"sex_id"`
		Aliases  []string `json:"aliases"`
	}

	TenantScope struct {
		ID       int64    `json:"id"`
		TenantID int64    `json:"tenant_id"`
		ScopeID  int64    `json:"scope_id"`
		Aliases  []string `json:"aliases"`
	}

	TenantService struct {
		ID        int64    `json:"id"`
		TenantID  int64    `json:"tenant_id"`
		ServiceID int64    `json:"service_id"`
		Aliases   []string `json:"aliases"`
	}

	TenantSampleType struct {
		ID           int64    `json:"id"`
		TenantID     int64    `json:"tenant_id"`
		SampleTypeID int64    `json:"sample_type_id"`
		CategoryID   int64    `json:"category_id"`
		Aliases      []string `json:"aliases"`
	}
)

// Record is one patient encounter. PatientHash is the salted SHA-256 of the
// patient's history number (or a synthetic 16-hex fallback). No two records
// in a tenant share (hash, date, age, sex, scope, service, sample type).
type Record struct {
	ID           int64     `json:"id"`
	TenantID     int64     `json:"tenant_id"`
	Date         time.Time `json:"date"`
	PatientHash  string    `json:"patient_hash"`
	Age          *float64  `json:"age,omitempty"`
	SexID        int64     `json:"sex_id"`
	ScopeID      int64     `json:"scope_id"`
	ServiceID    int64     `json:"service_id"`
	SampleTypeID int64     `json:"sample_type_id"`
}

// RecordKey identifies a Record within a tenant for get-or-create lookups.
type RecordKey struct {
	PatientHash  string
	Date         time.Time
	Age          float64
	HasAge       bool
	SexID        int64
	ScopeID      int64
	ServiceID    int64
	SampleTypeID int64
}

// Key derives the lookup key of the record.
func (r *Record) Key() RecordKey {
	k := RecordKey{
		PatientHash:  r.PatientHash,
		Date:         r.Date,
		SexID:        r.SexID,
		ScopeID:      r.ScopeID,
		ServiceID:    r.ServiceID,
		SampleTypeID: r.SampleTypeID,
	}
	if r.Age != nil {
		k.Age, k.HasAge = *r.Age, true
	}
	return k
}

// Isolate is one organism grown from a record's sample, with the mechanisms
// and subtypes detected at capture and the EUCAST version in force then.
type Isolate struct {
	ID               int64   `json:"id"`
	TenantID         int64   `json:"tenant_id"`
	RecordID         int64   `json:"record_id"`
	TenantOrganismID int64   `json:"tenant_organism_id"`
	VersionID        int64   `json:"version_id"`
	MechanismIDs     []int64 `json:"mechanism_ids"`
	SubtypeIDs       []int64 `json:"subtype_ids"`
}

// Result is the susceptibility measurement of one isolate against one
// tenant antibiotic. Unique per (isolate, tenant antibiotic).
type Result struct {
	ID                 int64          `json:"id"`
	IsolateID          int64          `json:"isolate_id"`
	TenantAntibioticID int64          `json:"tenant_antibiotic_id"`
	Interpretation     Interpretation `json:"interpretation"`
	Mic                *float64       `json:"mic,omitempty"`
	Halo               *float64       `json:"halo,omitempty"`
}

// Reinterpretation is the category a stored result maps to under a
// different EUCAST version. Unique per (result, version). WasRecomputed is
// false when the original interpretation was copied forward for lack of a
// usable measurement.
type Reinterpretation struct {
	ID                int64          `json:"id"`
	ResultID          int64          `json:"result_id"`
	VersionID         int64          `json:"version_id"`
	NewInterpretation Interpretation `json:"new_interpretation"`
	WasRecomputed     bool           `json:"was_recomputed"`
	CreatedAt         time.Time      `json:"created_at"`
}

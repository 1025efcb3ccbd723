// Package testkit builds the seeded in-memory environment shared by the
// engine tests: a small but complete global catalog and one tenant with
// realistic overlays.
package testkit

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sensibyte/SensiByte/internal/domain"
	"github.com/sensibyte/SensiByte/internal/store/memory"
)

// Well-known ids used across tests.
const (
	AbAmpicillin   int64 = 1
	AbAmoxClav     int64 = 2
	AbAmoxClavUTI  int64 = 3
	AbAmoxClavIV   int64 = 4
	AbCiprofloxacin int64 = 5
	AbLinezolid    int64 = 6
	AbMeropenem    int64 = 7
	AbCotrimoxazole int64 = 8

	OrgEcoli      int64 = 1
	OrgKpneumoniae int64 = 2

	GroupEnterobacterales int64 = 1

	VersionID2023 int64 = 1
	VersionID2024 int64 = 2

	TenantID int64 = 1

	TenantOrgEcoli int64 = 11
	TenantOrgKpneu int64 = 12

	MechBLEE          int64 = 1
	MechCarbapenemase int64 = 2

	TenantMechBLEE   int64 = 71
	TenantMechCarba  int64 = 72
	TenantSubCTXM    int64 = 81
	TenantSubOXA48   int64 = 82

	CategoryUrine int64 = 1
	CategoryBlood int64 = 2
)

// Env is the seeded test environment.
type Env struct {
	Store   *memory.Store
	Catalog *domain.Catalog
	Tenant  *domain.TenantCatalog
	Mechs   map[int64]*domain.ResistanceMechanism
	Subs    map[int64]*domain.MechanismSubtype
	Logger  *logrus.Logger
}

func ptr[T any](v T) *T { return &v }

// SilentLogger discards output so tests stay quiet.
func SilentLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// NewEnv seeds a memory store with the standard catalog and tenant.
func NewEnv() *Env {
	st := memory.New()
	c := st.Catalog

	c.Families[1] = &domain.AntibioticFamily{ID: 1, Name: "Penicillins", Class: "Beta-lactams"}
	c.Families[2] = &domain.AntibioticFamily{ID: 2, Name: "Beta-lactam combinations", Class: "Beta-lactams"}
	c.Families[3] = &domain.AntibioticFamily{ID: 3, Name: "Fluoroquinolones", Class: "Quinolones"}
	c.Families[4] = &domain.AntibioticFamily{ID: 4, Name: "Oxazolidinones", Class: "Oxazolidinones"}

	c.Drugs[AbAmpicillin] = &domain.Antibiotic{ID: AbAmpicillin, Name: "Ampicillin", Abbr: "AMP", FamilyID: 1}
	c.Drugs[AbAmoxClav] = &domain.Antibiotic{ID: AbAmoxClav, Name: "Amoxicillin-clavulanate", Abbr: "AMC", FamilyID: 2}
	c.Drugs[AbAmoxClavUTI] = &domain.Antibiotic{
		ID: AbAmoxClavUTI, Name: "Amoxicillin-clavulanate (oral, uncomplicated UTI)", Abbr: "AMCU",
		FamilyID: 2, IsVariant: true, ParentID: ptr(AbAmoxClav), Route: "oral", Indication: "uncomplicated UTI",
	}
	c.Drugs[AbAmoxClavIV] = &domain.Antibiotic{
		ID: AbAmoxClavIV, Name: "Amoxicillin-clavulanate (IV)", Abbr: "AMCI",
		FamilyID: 2, IsVariant: true, ParentID: ptr(AbAmoxClav), Route: "iv", Indication: "systemic infection",
	}
	c.Drugs[AbCiprofloxacin] = &domain.Antibiotic{ID: AbCiprofloxacin, Name: "Ciprofloxacin", Abbr: "CIP", FamilyID: 3}
	c.Drugs[AbLinezolid] = &domain.Antibiotic{ID: AbLinezolid, Name: "Linezolid", Abbr: "LZD", FamilyID: 4}
	c.Drugs[AbMeropenem] = &domain.Antibiotic{ID: AbMeropenem, Name: "Meropenem", Abbr: "MEM", FamilyID: 2}
	c.Drugs[AbCotrimoxazole] = &domain.Antibiotic{ID: AbCotrimoxazole, Name: "Cotrimoxazole", Abbr: "SXT", FamilyID: 1}

	c.Groups[GroupEnterobacterales] = &domain.EucastGroup{ID: GroupEnterobacterales, Name: "Enterobacterales"}
	c.Groups[2] = &domain.EucastGroup{ID: 2, Name: "Staphylococcus spp."}

	c.Organisms[OrgEcoli] = &domain.Organism{
		ID: OrgEcoli, Name: "Escherichia coli", Kingdom: "Bacteria",
		Family: "Enterobacteriaceae", Genus: "Escherichia", Species: "Escherichia coli",
		GroupID: GroupEnterobacterales, Gram: "gn",
		IntrinsicResistance: []int64{AbLinezolid},
	}
	c.Organisms[OrgKpneumoniae] = &domain.Organism{
		ID: OrgKpneumoniae, Name: "Klebsiella pneumoniae", Kingdom: "Bacteria",
		Family: "Enterobacteriaceae", Genus: "Klebsiella", Species: "Klebsiella pneumoniae",
		GroupID: GroupEnterobacterales, Gram: "gn",
		IntrinsicResistance: []int64{AbAmpicillin, AbLinezolid},
	}

	until2023 := time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)
	c.Versions = []*domain.EucastVersion{
		{ID: VersionID2023, Year: 2023, Label: "EUCAST 2023 v13.0",
			ValidFrom: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), ValidUntil: &until2023},
		{ID: VersionID2024, Year: 2024, Label: "EUCAST 2024 v14.0",
			ValidFrom: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	}

	c.Conditions[1] = &domain.TaxonCondition{
		ID: 1, Name: "Enterobacterales (all)", Scope: domain.ScopeGroup, Include: []int64{OrgEcoli},
	}

	c.Rules = []*domain.BreakpointRule{
		{
			ID: 1, AntibioticID: AbAmoxClavUTI, GroupID: ptr(GroupEnterobacterales),
			ConditionIDs: []int64{1}, CategoryIDs: []int64{CategoryUrine},
			SMicMax: ptr(32.0), RMicMin: ptr(16.0), VersionID: VersionID2024,
		},
		{
			ID: 2, AntibioticID: AbAmoxClavIV, GroupID: ptr(GroupEnterobacterales),
			ConditionIDs: []int64{1},
			SMicMax:      ptr(8.0), RMicMin: ptr(4.0), SHaloMin: ptr(19.0), RHaloMax: ptr(19.0),
			VersionID: VersionID2024,
		},
		{
			ID: 3, AntibioticID: AbAmoxClavUTI, GroupID: ptr(GroupEnterobacterales),
			ConditionIDs: []int64{1}, CategoryIDs: []int64{CategoryUrine},
			SMicMax: ptr(32.0), RMicMin: ptr(16.0), VersionID: VersionID2023,
		},
		{
			ID: 4, AntibioticID: AbAmoxClavIV, GroupID: ptr(GroupEnterobacterales),
			ConditionIDs: []int64{1},
			SMicMax:      ptr(8.0), RMicMin: ptr(4.0), SHaloMin: ptr(19.0), RHaloMax: ptr(19.0),
			VersionID: VersionID2023,
		},
		{
			ID: 5, AntibioticID: AbCiprofloxacin, GroupID: ptr(GroupEnterobacterales),
			SMicMax: ptr(0.25), RMicMin: ptr(0.25), SHaloMin: ptr(25.0), RHaloMax: ptr(22.0),
			VersionID: VersionID2024,
		},
	}

	c.Sexes[1] = &domain.Sex{ID: 1, Code: "M", Description: "Hombre"}
	c.Sexes[2] = &domain.Sex{ID: 2, Code: "F", Description: "Mujer"}
	c.Scopes[1] = &domain.SampleScope{ID: 1, Name: "Hospitalizacion"}
	c.Scopes[2] = &domain.SampleScope{ID: 2, Name: "Atencion primaria"}
	c.Services[1] = &domain.Service{ID: 1, Name: "Urgencias"}
	c.Services[2] = &domain.Service{ID: 2, Name: "Medicina interna"}
	c.Samples[1] = &domain.SampleType{ID: 1, Name: "Orina", Classification: "urinaria"}
	c.Samples[2] = &domain.SampleType{ID: 2, Name: "Hemocultivo", Classification: "sangre"}

	c.Reindex()

	st.MechNames = map[int64]*domain.ResistanceMechanism{
		MechBLEE:          {ID: MechBLEE, Name: "BLEE", Description: "Extended-spectrum beta-lactamase"},
		MechCarbapenemase: {ID: MechCarbapenemase, Name: "Carbapenemasa"},
	}
	st.SubNames = map[int64]*domain.MechanismSubtype{
		1: {ID: 1, Name: "CTX-M", MechanismID: MechBLEE},
		2: {ID: 2, Name: "OXA-48", MechanismID: MechCarbapenemase},
	}

	tenant := &domain.TenantCatalog{
		Tenant: &domain.Tenant{ID: TenantID, Name: "Hospital General", Slug: "general"},
		Antibiotics: map[int64]*domain.TenantAntibiotic{
			AbAmpicillin:    {ID: 101, TenantID: TenantID, AntibioticID: AbAmpicillin, ReportOrder: 1, Aliases: []string{"ampicilina"}},
			AbAmoxClav:      {ID: 102, TenantID: TenantID, AntibioticID: AbAmoxClav, ReportOrder: 2, Aliases: []string{"amoxicilina-clavulanico", "augmentine"}},
			AbAmoxClavUTI:   {ID: 103, TenantID: TenantID, AntibioticID: AbAmoxClavUTI, ReportOrder: 3},
			AbAmoxClavIV:    {ID: 104, TenantID: TenantID, AntibioticID: AbAmoxClavIV, ReportOrder: 4},
			AbCiprofloxacin: {ID: 105, TenantID: TenantID, AntibioticID: AbCiprofloxacin, ReportOrder: 5, Aliases: []string{"ciprofloxacino"}},
			AbLinezolid:     {ID: 106, TenantID: TenantID, AntibioticID: AbLinezolid, ReportOrder: 6, Aliases: []string{"linezolid"}},
			AbMeropenem:     {ID: 107, TenantID: TenantID, AntibioticID: AbMeropenem, ReportOrder: 7, Aliases: []string{"meropenem"}},
			AbCotrimoxazole: {ID: 108, TenantID: TenantID, AntibioticID: AbCotrimoxazole, ReportOrder: 8, Aliases: []string{"cotrimoxazol"}},
		},
		Organisms: map[int64]*domain.TenantOrganism{
			TenantOrgEcoli: {ID: TenantOrgEcoli, TenantID: TenantID, OrganismID: OrgEcoli, Aliases: []string{"e. coli", "e coli"}},
			TenantOrgKpneu: {ID: TenantOrgKpneu, TenantID: TenantID, OrganismID: OrgKpneumoniae, Aliases: []string{"k. pneumoniae"}},
		},
		Profiles: map[int64]*domain.Profile{
			GroupEnterobacterales: {
				ID: 1, TenantID: TenantID, GroupID: GroupEnterobacterales,
				Antibiotics: []domain.ProfileAntibiotic{
					{TenantAntibioticID: 101, ShowInReport: true},
					{TenantAntibioticID: 102, ShowInReport: true},
					{TenantAntibioticID: 103, ShowInReport: true},
					{TenantAntibioticID: 104, ShowInReport: true},
					{TenantAntibioticID: 105, ShowInReport: true},
					{TenantAntibioticID: 106, ShowInReport: true},
					{TenantAntibioticID: 107, ShowInReport: true},
					{TenantAntibioticID: 108, ShowInReport: true},
				},
			},
		},
		Sexes: []*domain.TenantSex{
			{ID: 21, TenantID: TenantID, SexID: 1, Aliases: []string{"hombre", "varon", "m"}},
			{ID: 22, TenantID: TenantID, SexID: 2, Aliases: []string{"mujer", "f"}},
		},
		Scopes: []*domain.TenantScope{
			{ID: 31, TenantID: TenantID, ScopeID: 1, Aliases: []string{"hosp", "ingreso"}},
			{ID: 32, TenantID: TenantID, ScopeID: 2, Aliases: []string{"primaria", "ap"}},
		},
		Services: []*domain.TenantService{
			{ID: 41, TenantID: TenantID, ServiceID: 1, Aliases: []string{"urg"}},
			{ID: 42, TenantID: TenantID, ServiceID: 2, Aliases: []string{"mir"}},
		},
		SampleTypes: []*domain.TenantSampleType{
			{ID: 61, TenantID: TenantID, SampleTypeID: 1, CategoryID: CategoryUrine, Aliases: []string{"orina miccion"}},
			{ID: 62, TenantID: TenantID, SampleTypeID: 2, CategoryID: CategoryBlood, Aliases: []string{"sangre"}},
		},
		Categories: map[int64]*domain.SampleCategory{
			CategoryUrine: {ID: CategoryUrine, TenantID: TenantID, Name: "Urinaria"},
			CategoryBlood: {ID: CategoryBlood, TenantID: TenantID, Name: "Sangre", IgnoreMin: true},
		},
		Mechanisms: []*domain.TenantMechanism{
			{ID: TenantMechBLEE, TenantID: TenantID, MechanismID: MechBLEE,
				Aliases:            []string{"blee", "esbl"},
				AcquiredResistance: []int64{AbAmoxClav, AbAmoxClavUTI, AbAmoxClavIV}},
			{ID: TenantMechCarba, TenantID: TenantID, MechanismID: MechCarbapenemase,
				Aliases:            []string{"carbapenemasa"},
				AcquiredResistance: []int64{AbMeropenem}},
		},
		Subtypes: []*domain.TenantSubtype{
			{ID: TenantSubCTXM, TenantID: TenantID, SubtypeID: 1, Aliases: []string{"ctx-m", "ctxm"}},
			{ID: TenantSubOXA48, TenantID: TenantID, SubtypeID: 2,
				Aliases: []string{"oxa-48", "oxa48"}, AcquiredResistance: []int64{AbMeropenem}},
		},
		InterpMap: []*domain.InterpretationAlias{
			{ID: 91, TenantID: TenantID, Interpretation: domain.S, Aliases: []string{"sensible", "sen"}},
			{ID: 92, TenantID: TenantID, Interpretation: domain.I, Aliases: []string{"intermedio", "sei"}},
			{ID: 93, TenantID: TenantID, Interpretation: domain.R, Aliases: []string{"resistente", "res"}},
		},
		Positives: &domain.PositiveTokens{ID: 95, TenantID: TenantID,
			Tokens: []string{"positivo", "positiva", "pos", "+", "si"}},
	}
	st.Tenants[TenantID] = tenant

	return &Env{
		Store:   st,
		Catalog: c,
		Tenant:  tenant,
		Mechs:   st.MechNames,
		Subs:    st.SubNames,
		Logger:  SilentLogger(),
	}
}

// Ptr exposes the pointer helper to tests.
func Ptr[T any](v T) *T { return ptr(v) }

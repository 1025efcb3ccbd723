// Package mechanisms infers resistance mechanisms and their subtypes from
// dedicated spreadsheet columns and from free-text observation fields.
package mechanisms

import (
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/sensibyte/SensiByte/internal/alias"
	"github.com/sensibyte/SensiByte/internal/domain"
	"github.com/sensibyte/SensiByte/internal/parse"
)

// negations are the phrase-local tokens that veto a free-text hit.
var negations = []string{"no", "ausencia", "sin", "negativo", "no se detecta"}

// phraseSeparators splits an observations field into phrases.
var phraseSeparators = regexp.MustCompile(`[.;$]+`)

// Detection is the outcome of one row: the tenant mechanism and subtype
// overlays found positive.
type Detection struct {
	Mechanisms map[int64]*domain.TenantMechanism
	Subtypes   map[int64]*domain.TenantSubtype
}

// AcquiredResistance unions the acquired-resistance antibiotic ids of every
// detected mechanism and subtype.
func (d *Detection) AcquiredResistance() map[int64]bool {
	out := map[int64]bool{}
	for _, m := range d.Mechanisms {
		for _, id := range m.AcquiredResistance {
			out[id] = true
		}
	}
	for _, s := range d.Subtypes {
		for _, id := range s.AcquiredResistance {
			out[id] = true
		}
	}
	return out
}

// Detector matches tenant mechanism overlays against rows. Caches are
// built once per job and read-only afterwards.
type Detector struct {
	catalog   *domain.Catalog
	mechCache *alias.Cache[*domain.TenantMechanism]
	subCache  *alias.Cache[*domain.TenantSubtype]
	mechByID  map[int64]*domain.TenantMechanism // keyed by base mechanism id
	subParent map[int64]int64                   // subtype id -> parent mechanism id
	positives map[string]bool
	log       *logrus.Logger
}

// NewDetector builds a detector from the tenant's overlays. Mechanism and
// subtype names come from the global catalog entries referenced by the
// overlays; names and aliases are normalized once here.
func NewDetector(catalog *domain.Catalog, tc *domain.TenantCatalog,
	mechNames map[int64]*domain.ResistanceMechanism,
	subNames map[int64]*domain.MechanismSubtype,
	logger *logrus.Logger) *Detector {

	d := &Detector{
		catalog:   catalog,
		mechByID:  map[int64]*domain.TenantMechanism{},
		positives: map[string]bool{},
		log:       logger,
	}

	d.mechCache = alias.Build(tc.Mechanisms,
		func(m *domain.TenantMechanism) string {
			if base := mechNames[m.MechanismID]; base != nil {
				return base.Name
			}
			return ""
		},
		func(m *domain.TenantMechanism) []string { return m.Aliases })

	d.subCache = alias.Build(tc.Subtypes,
		func(s *domain.TenantSubtype) string {
			if base := subNames[s.SubtypeID]; base != nil {
				return base.Name
			}
			return ""
		},
		func(s *domain.TenantSubtype) []string { return s.Aliases })

	for _, m := range tc.Mechanisms {
		d.mechByID[m.MechanismID] = m
	}
	if tc.Positives != nil {
		for _, t := range tc.Positives.Tokens {
			d.positives[parse.Normalize(t)] = true
		}
	}

	d.subParent = map[int64]int64{}
	for id, s := range subNames {
		d.subParent[id] = s.MechanismID
	}
	return d
}

// Detect runs both passes over a row and unions the hits.
//
// The column pass reads dedicated columns whose header contains a
// mechanism/subtype alias and requires the cell to hold a positive token.
// The free-text pass splits the observations field into phrases; a hit in a
// phrase stands unless the same phrase carries a negation token.
func (d *Detector) Detect(row map[string]string, observationsColumn string) Detection {
	det := Detection{
		Mechanisms: map[int64]*domain.TenantMechanism{},
		Subtypes:   map[int64]*domain.TenantSubtype{},
	}

	for header, cell := range row {
		value := parse.Normalize(cell)
		positive := d.positives[value]

		for _, hit := range d.mechCache.Contains(header) {
			if positive {
				det.Mechanisms[hit.Value.ID] = hit.Value
			} else if d.log != nil {
				d.log.WithField("column", header).Debug("Mechanism column negative")
			}
		}
		for _, hit := range d.subCache.Contains(header) {
			if positive {
				d.addSubtype(&det, hit.Value)
			}
		}
	}

	if observationsColumn != "" {
		text := row[observationsColumn]
		for _, phrase := range phraseSeparators.Split(text, -1) {
			n := parse.Normalize(phrase)
			if n == "" {
				continue
			}
			negated := false
			for _, neg := range negations {
				if strings.Contains(n, neg) {
					negated = true
					break
				}
			}

			for _, hit := range d.mechCache.Contains(phrase) {
				if negated {
					continue
				}
				det.Mechanisms[hit.Value.ID] = hit.Value
			}
			for _, hit := range d.subCache.Contains(phrase) {
				if negated {
					continue
				}
				d.addSubtype(&det, hit.Value)
			}
		}
	}

	return det
}

// addSubtype records a subtype and implicitly its parent mechanism.
func (d *Detector) addSubtype(det *Detection, sub *domain.TenantSubtype) {
	det.Subtypes[sub.ID] = sub
	if parentID, ok := d.subParent[sub.SubtypeID]; ok {
		if mech := d.mechByID[parentID]; mech != nil {
			det.Mechanisms[mech.ID] = mech
		}
	}
}

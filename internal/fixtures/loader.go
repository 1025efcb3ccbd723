// Package fixtures seeds the global catalog from the JSON files shipped
// under fixtures/. Loading is idempotent on a per-name uniqueness check, so
// re-running the seeder never duplicates entries.
package fixtures

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/sensibyte/SensiByte/internal/domain"
)

// Bundle is everything the fixture directory defines.
type Bundle struct {
	Catalog    *domain.Catalog
	Mechanisms map[int64]*domain.ResistanceMechanism
	Subtypes   map[int64]*domain.MechanismSubtype
}

type catalogFile struct {
	Families   []*domain.AntibioticFamily    `json:"families"`
	Drugs      []*domain.Antibiotic          `json:"antibiotics"`
	Groups     []*domain.EucastGroup         `json:"eucast_groups"`
	Organisms  []*domain.Organism            `json:"organisms"`
	Versions   []*domain.EucastVersion       `json:"eucast_versions"`
	Rules      []*domain.BreakpointRule      `json:"breakpoint_rules"`
	Conditions []*domain.TaxonCondition      `json:"taxon_conditions"`
	Sexes      []*domain.Sex                 `json:"sexes"`
	Scopes     []*domain.SampleScope         `json:"scopes"`
	Services   []*domain.Service             `json:"services"`
	Samples    []*domain.SampleType          `json:"sample_types"`
	Mechanisms []*domain.ResistanceMechanism `json:"mechanisms"`
	Subtypes   []*domain.MechanismSubtype    `json:"subtypes"`
}

// Load reads every *.json file of dir and merges it into one Bundle.
// Entities already present under the same name are skipped.
func Load(dir string, logger *logrus.Logger) (*Bundle, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading fixtures dir: %w", err)
	}

	b := &Bundle{
		Catalog:    domain.NewCatalog(),
		Mechanisms: map[int64]*domain.ResistanceMechanism{},
		Subtypes:   map[int64]*domain.MechanismSubtype{},
	}
	seen := map[string]map[string]bool{}
	taken := func(kind, name string) bool {
		if seen[kind] == nil {
			seen[kind] = map[string]bool{}
		}
		if seen[kind][name] {
			return true
		}
		seen[kind][name] = true
		return false
	}

	files := 0
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading fixture %s: %w", e.Name(), err)
		}
		var f catalogFile
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("parsing fixture %s: %w", e.Name(), err)
		}
		b.merge(&f, taken)
		files++
	}

	b.Catalog.Reindex()
	if logger != nil {
		logger.WithFields(logrus.Fields{
			"files":     files,
			"drugs":     len(b.Catalog.Drugs),
			"organisms": len(b.Catalog.Organisms),
			"rules":     len(b.Catalog.Rules),
			"versions":  len(b.Catalog.Versions),
		}).Info("Loaded fixture catalog")
	}
	return b, nil
}

func (b *Bundle) merge(f *catalogFile, taken func(kind, name string) bool) {
	c := b.Catalog
	for _, x := range f.Families {
		if !taken("family", x.Name) {
			c.Families[x.ID] = x
		}
	}
	for _, x := range f.Drugs {
		if !taken("antibiotic", x.Name) {
			c.Drugs[x.ID] = x
		}
	}
	for _, x := range f.Groups {
		if !taken("group", x.Name) {
			c.Groups[x.ID] = x
		}
	}
	for _, x := range f.Organisms {
		if !taken("organism", x.Name) {
			c.Organisms[x.ID] = x
		}
	}
	for _, x := range f.Versions {
		if !taken("version", x.Label) {
			c.Versions = append(c.Versions, x)
		}
	}
	// Rules have no natural name; idempotence keys on their id.
	for _, x := range f.Rules {
		if !taken("rule", fmt.Sprintf("%d", x.ID)) {
			c.Rules = append(c.Rules, x)
		}
	}
	for _, x := range f.Conditions {
		if !taken("condition", x.Name) {
			c.Conditions[x.ID] = x
		}
	}
	for _, x := range f.Sexes {
		if !taken("sex", x.Code) {
			c.Sexes[x.ID] = x
		}
	}
	for _, x := range f.Scopes {
		if !taken("scope", x.Name) {
			c.Scopes[x.ID] = x
		}
	}
	for _, x := range f.Services {
		if !taken("service", x.Name) {
			c.Services[x.ID] = x
		}
	}
	for _, x := range f.Samples {
		if !taken("sample_type", x.Name) {
			c.Samples[x.ID] = x
		}
	}
	for _, x := range f.Mechanisms {
		if !taken("mechanism", x.Name) {
			b.Mechanisms[x.ID] = x
		}
	}
	for _, x := range f.Subtypes {
		if !taken("subtype", x.Name) {
			b.Subtypes[x.ID] = x
		}
	}
}

// Validate checks the referential invariants of the loaded bundle before it
// is handed to any engine.
func (b *Bundle) Validate() error {
	for _, ab := range b.Catalog.Drugs {
		if err := ab.Validate(); err != nil {
			return fmt.Errorf("antibiotic %s: %w", ab.Name, err)
		}
		if ab.ParentID != nil {
			parent, ok := b.Catalog.Drugs[*ab.ParentID]
			if !ok {
				return fmt.Errorf("antibiotic %s: parent %d not in catalog", ab.Name, *ab.ParentID)
			}
			if parent.IsVariant {
				return fmt.Errorf("antibiotic %s: parent %s is itself a variant", ab.Name, parent.Name)
			}
		}
	}
	for _, org := range b.Catalog.Organisms {
		if _, ok := b.Catalog.Groups[org.GroupID]; !ok {
			return fmt.Errorf("organism %s: unknown EUCAST group %d", org.Name, org.GroupID)
		}
	}
	for _, sub := range b.Subtypes {
		if _, ok := b.Mechanisms[sub.MechanismID]; !ok {
			return fmt.Errorf("subtype %s: unknown mechanism %d", sub.Name, sub.MechanismID)
		}
	}
	return nil
}

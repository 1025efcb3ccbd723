package postgres

import (
	"context"
	"fmt"

	"github.com/sensibyte/SensiByte/internal/domain"
)

// SeedCatalog writes the fixture bundle into the catalog tables. Every
// insert is ON CONFLICT DO NOTHING on the table's unique key (name; label
// for versions, code for sexes, id for rules), so seeding is idempotent.
func (s *Store) SeedCatalog(ctx context.Context, c *domain.Catalog,
	mechs map[int64]*domain.ResistanceMechanism, subs map[int64]*domain.MechanismSubtype) error {

	for _, x := range c.Families {
		if _, err := s.q.Exec(ctx, `
			INSERT INTO antibiotic_families (id, name, class) VALUES ($1, $2, $3)
			ON CONFLICT (name) DO NOTHING`, x.ID, x.Name, x.Class); err != nil {
			return fmt.Errorf("seeding families: %w", err)
		}
	}

	// Bases before variants so the parent FK resolves.
	for pass := 0; pass < 2; pass++ {
		for _, x := range c.Drugs {
			if (pass == 0) == x.IsVariant {
				continue
			}
			if _, err := s.q.Exec(ctx, `
				INSERT INTO antibiotics (id, name, abbr, family_id, is_variant, parent_id, route, indication)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				ON CONFLICT (name) DO NOTHING`,
				x.ID, x.Name, x.Abbr, x.FamilyID, x.IsVariant, x.ParentID, x.Route, x.Indication); err != nil {
				return fmt.Errorf("seeding antibiotic %s: %w", x.Name, err)
			}
		}
	}

	for _, x := range c.Groups {
		if _, err := s.q.Exec(ctx, `
			INSERT INTO eucast_groups (id, name) VALUES ($1, $2)
			ON CONFLICT (name) DO NOTHING`, x.ID, x.Name); err != nil {
			return fmt.Errorf("seeding groups: %w", err)
		}
	}
	for _, x := range c.Organisms {
		if _, err := s.q.Exec(ctx, `
			INSERT INTO organisms (id, name, kingdom, family, genus, species, group_id, gram, intrinsic_resistance)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (name) DO NOTHING`,
			x.ID, x.Name, x.Kingdom, x.Family, x.Genus, x.Species, x.GroupID, x.Gram,
			x.IntrinsicResistance); err != nil {
			return fmt.Errorf("seeding organism %s: %w", x.Name, err)
		}
	}
	for _, x := range c.Versions {
		if _, err := s.q.Exec(ctx, `
			INSERT INTO eucast_versions (id, year, label, valid_from, valid_until)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (label) DO NOTHING`,
			x.ID, x.Year, x.Label, x.ValidFrom, x.ValidUntil); err != nil {
			return fmt.Errorf("seeding version %s: %w", x.Label, err)
		}
	}
	for _, x := range c.Conditions {
		if _, err := s.q.Exec(ctx, `
			INSERT INTO taxon_conditions (id, name, scope, include, exclude)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (name) DO NOTHING`,
			x.ID, x.Name, string(x.Scope), x.Include, x.Exclude); err != nil {
			return fmt.Errorf("seeding condition %s: %w", x.Name, err)
		}
	}
	for _, x := range c.Sexes {
		if _, err := s.q.Exec(ctx, `
			INSERT INTO sexes (id, code, description) VALUES ($1, $2, $3)
			ON CONFLICT (code) DO NOTHING`, x.ID, x.Code, x.Description); err != nil {
			return fmt.Errorf("seeding sexes: %w", err)
		}
	}
	for _, x := range c.Scopes {
		if _, err := s.q.Exec(ctx, `
			INSERT INTO sample_scopes (id, name) VALUES ($1, $2)
			ON CONFLICT (name) DO NOTHING`, x.ID, x.Name); err != nil {
			return fmt.Errorf("seeding scopes: %w", err)
		}
	}
	for _, x := range c.Services {
		if _, err := s.q.Exec(ctx, `
			INSERT INTO services (id, name) VALUES ($1, $2)
			ON CONFLICT (name) DO NOTHING`, x.ID, x.Name); err != nil {
			return fmt.Errorf("seeding services: %w", err)
		}
	}
	for _, x := range c.Samples {
		if _, err := s.q.Exec(ctx, `
			INSERT INTO sample_types (id, name, classification, loinc_code)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (name) DO NOTHING`,
			x.ID, x.Name, x.Classification, x.LoincCode); err != nil {
			return fmt.Errorf("seeding sample types: %w", err)
		}
	}
	for _, x := range c.Rules {
		if _, err := s.q.Exec(ctx, `
			INSERT INTO breakpoint_rules (id, antibiotic_id, group_id, condition_ids, category_ids,
				age_min, age_max, sex_id, s_mic_max, r_mic_min, s_halo_min, r_halo_max, version_id, comment)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (id) DO NOTHING`,
			x.ID, x.AntibioticID, x.GroupID, orEmptyIDs(x.ConditionIDs), orEmptyIDs(x.CategoryIDs),
			x.AgeMin, x.AgeMax, x.SexID, x.SMicMax, x.RMicMin, x.SHaloMin, x.RHaloMax,
			x.VersionID, x.Comment); err != nil {
			return fmt.Errorf("seeding rule %d: %w", x.ID, err)
		}
	}
	for _, x := range mechs {
		if _, err := s.q.Exec(ctx, `
			INSERT INTO mechanisms (id, name, description) VALUES ($1, $2, $3)
			ON CONFLICT (name) DO NOTHING`, x.ID, x.Name, x.Description); err != nil {
			return fmt.Errorf("seeding mechanisms: %w", err)
		}
	}
	for _, x := range subs {
		if _, err := s.q.Exec(ctx, `
			INSERT INTO mechanism_subtypes (id, name, mechanism_id) VALUES ($1, $2, $3)
			ON CONFLICT (name) DO NOTHING`, x.ID, x.Name, x.MechanismID); err != nil {
			return fmt.Errorf("seeding subtypes: %w", err)
		}
	}
	return nil
}

func orEmptyIDs(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}

// Package reinterpret re-applies the rule engine at a chosen EUCAST
// version to every stored result of a set of isolates, producing one
// reinterpretation per (result, version).
package reinterpret

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sensibyte/SensiByte/internal/domain"
	"github.com/sensibyte/SensiByte/internal/rules"
	"github.com/sensibyte/SensiByte/internal/store"
)

// Service runs reinterpretation batches for one tenant.
type Service struct {
	store   store.Store
	catalog *domain.Catalog
	tenant  *domain.TenantCatalog
	engine  *rules.Engine
	log     *logrus.Logger
}

// NewService wires a reinterpretation service.
func NewService(st store.Store, catalog *domain.Catalog, tenant *domain.TenantCatalog, logger *logrus.Logger) *Service {
	return &Service{
		store:   st,
		catalog: catalog,
		tenant:  tenant,
		engine:  rules.NewEngine(catalog, logger),
		log:     logger,
	}
}

// Batch reinterprets every isolate of the window at the target version.
// The whole batch runs inside one store transaction so the (result,
// version) uniqueness of reinterpretations is atomic.
func (s *Service) Batch(ctx context.Context, w store.Window, versionID int64) (int, error) {
	version := s.catalog.VersionByID(versionID)
	if version == nil {
		return 0, fmt.Errorf("EUCAST version %d: %w", versionID, domain.ErrNotFound)
	}

	total := 0
	err := s.store.WithinTx(ctx, func(tx store.Store) error {
		isolates, err := tx.IsolatesInWindow(ctx, w)
		if err != nil {
			return fmt.Errorf("loading isolates: %w", err)
		}
		for _, detail := range isolates {
			n, err := s.reinterpretIsolate(ctx, tx, detail, version)
			if err != nil {
				return fmt.Errorf("isolate %d: %w", detail.Isolate.ID, err)
			}
			total += n
		}
		return nil
	})
	if err != nil {
		return total, err
	}

	s.log.WithFields(logrus.Fields{
		"version":           version.Label,
		"reinterpretations": total,
	}).Info("Reinterpretation batch finished")
	return total, nil
}

func (s *Service) reinterpretIsolate(ctx context.Context, tx store.Store,
	detail *store.IsolateDetail, version *domain.EucastVersion) (int, error) {

	iso := detail.Isolate
	torg := s.tenant.Organisms[iso.TenantOrganismID]
	if torg == nil {
		return 0, fmt.Errorf("tenant organism %d: %w", iso.TenantOrganismID, domain.ErrNotFound)
	}
	org := s.catalog.Organisms[torg.OrganismID]
	if org == nil {
		return 0, fmt.Errorf("organism %d: %w", torg.OrganismID, domain.ErrNotFound)
	}
	profile, err := s.tenant.ProfileFor(org.GroupID)
	if err != nil {
		return 0, err
	}

	record := detail.Record
	acquired := s.acquiredSet(iso)
	intrinsic := s.catalog.IntrinsicSet(org)

	byTA := map[int64]*domain.Result{}
	for _, r := range detail.Results {
		byTA[r.TenantAntibioticID] = r
	}

	created := 0
	for _, pa := range profile.Antibiotics {
		ta := s.tenant.TenantAntibioticByID(pa.TenantAntibioticID)
		if ta == nil {
			continue
		}
		base := s.catalog.Drugs[ta.AntibioticID]
		if base == nil {
			continue
		}

		result, placeholder, err := s.resultFor(ctx, tx, iso, byTA, ta, base)
		if err != nil {
			return created, err
		}
		if result == nil {
			continue
		}

		var sexID *int64
		if ts := s.tenantSexByID(record.SexID); ts != nil {
			sexID = &ts.SexID
		}
		sample := s.tenantSampleTypeByID(record.SampleTypeID)

		in := rules.Input{
			AntibioticID: base.ID,
			Organism:     org,
			GroupID:      org.GroupID,
			Age:          record.Age,
			SexID:        sexID,
			SampleType:   sample,
			VersionID:    &version.ID,
		}

		var newInterp domain.Interpretation
		recomputed := false
		if rule := s.engine.FirstApplicable(in); rule != nil {
			newInterp = rules.Interpret(rule, result.Mic, result.Halo)
			recomputed = result.Mic != nil || result.Halo != nil
		}

		if newInterp == "" || newInterp == domain.ND {
			// A fresh variant placeholder that stays ND is noise: drop it.
			if placeholder {
				if err := tx.DeleteResult(ctx, result.ID); err != nil {
					return created, fmt.Errorf("deleting placeholder result: %w", err)
				}
				continue
			}
			newInterp = result.Interpretation
			recomputed = false
		}

		// Intrinsic resistance wins over any recomputed category, variants
		// included.
		if intrinsic[base.ID] || acquired[base.ID] {
			if newInterp != domain.R && newInterp != domain.NA && newInterp != domain.ND {
				newInterp = domain.R
				recomputed = true
			}
		}

		ri := &domain.Reinterpretation{
			ResultID:          result.ID,
			VersionID:         version.ID,
			NewInterpretation: newInterp,
			WasRecomputed:     recomputed,
			CreatedAt:         time.Now().UTC(),
		}
		if err := tx.UpsertReinterpretation(ctx, ri); err != nil {
			return created, fmt.Errorf("upserting reinterpretation: %w", err)
		}
		created++
	}
	return created, nil
}

// resultFor finds the isolate's result for a drug, cloning the parent's
// measurement into a placeholder when the drug is a variant without one.
func (s *Service) resultFor(ctx context.Context, tx store.Store, iso *domain.Isolate,
	byTA map[int64]*domain.Result, ta *domain.TenantAntibiotic, base *domain.Antibiotic) (*domain.Result, bool, error) {

	if r, ok := byTA[ta.ID]; ok {
		return r, false, nil
	}
	if !base.IsVariant || base.ParentID == nil {
		return nil, false, nil
	}
	parentTA := s.tenant.Antibiotics[*base.ParentID]
	if parentTA == nil {
		return nil, false, nil
	}
	parentResult, ok := byTA[parentTA.ID]
	if !ok {
		return nil, false, nil
	}

	placeholder := &domain.Result{
		IsolateID:          iso.ID,
		TenantAntibioticID: ta.ID,
		Interpretation:     domain.ND,
		Mic:                parentResult.Mic,
		Halo:               parentResult.Halo,
	}
	if err := tx.CreateResult(ctx, placeholder); err != nil {
		return nil, false, fmt.Errorf("creating variant placeholder: %w", err)
	}
	byTA[ta.ID] = placeholder
	s.log.WithFields(logrus.Fields{
		"isolate_id": iso.ID,
		"variant":    base.Name,
	}).Debug("Variant placeholder cloned from parent")
	return placeholder, true, nil
}

// acquiredSet unions the acquired-resistance drugs of the isolate's
// detected mechanisms and subtypes.
func (s *Service) acquiredSet(iso *domain.Isolate) map[int64]bool {
	out := map[int64]bool{}
	for _, mid := range iso.MechanismIDs {
		for _, tm := range s.tenant.Mechanisms {
			if tm.ID == mid {
				for _, ab := range tm.AcquiredResistance {
					out[ab] = true
				}
			}
		}
	}
	for _, sid := range iso.SubtypeIDs {
		for _, ts := range s.tenant.Subtypes {
			if ts.ID == sid {
				for _, ab := range ts.AcquiredResistance {
					out[ab] = true
				}
			}
		}
	}
	return out
}

func (s *Service) tenantSexByID(id int64) *domain.TenantSex {
	for _, ts := range s.tenant.Sexes {
		if ts.ID == id {
			return ts
		}
	}
	return nil
}

func (s *Service) tenantSampleTypeByID(id int64) *domain.TenantSampleType {
	for _, st := range s.tenant.SampleTypes {
		if st.ID == id {
			return st
		}
	}
	return nil
}

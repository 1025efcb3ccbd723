// Package memory is the reference implementation of the store contract.
// It backs the engine tests and small single-process deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sensibyte/SensiByte/internal/domain"
	"github.com/sensibyte/SensiByte/internal/store"
)

// Store keeps all entities in process memory. Iteration is made
// deterministic by sorting on ids before returning.
type Store struct {
	mu sync.Mutex

	Catalog    *domain.Catalog
	Tenants    map[int64]*domain.TenantCatalog
	MechNames  map[int64]*domain.ResistanceMechanism
	SubNames   map[int64]*domain.MechanismSubtype

	records   map[int64]*domain.Record
	isolates  map[int64]*domain.Isolate
	results   map[int64]*domain.Result
	reinterps map[int64]*domain.Reinterpretation

	nextID int64
}

// New returns an empty memory store.
func New() *Store {
	return &Store{
		Catalog:   domain.NewCatalog(),
		Tenants:   map[int64]*domain.TenantCatalog{},
		MechNames: map[int64]*domain.ResistanceMechanism{},
		SubNames:  map[int64]*domain.MechanismSubtype{},
		records:   map[int64]*domain.Record{},
		isolates:  map[int64]*domain.Isolate{},
		results:   map[int64]*domain.Result{},
		reinterps: map[int64]*domain.Reinterpretation{},
	}
}

func (s *Store) nextKey() int64 {
	s.nextID++
	return s.nextID
}

// LoadCatalog returns the seeded global catalog, reindexed.
func (s *Store) LoadCatalog(ctx context.Context) (*domain.Catalog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Catalog.Reindex()
	return s.Catalog, nil
}

// LoadTenantCatalog returns the seeded overlays of one tenant.
func (s *Store) LoadTenantCatalog(ctx context.Context, tenantID int64) (*domain.TenantCatalog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tc, ok := s.Tenants[tenantID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return tc, nil
}

// Mechanisms returns the global mechanism names.
func (s *Store) Mechanisms(ctx context.Context) (map[int64]*domain.ResistanceMechanism, error) {
	return s.MechNames, nil
}

// Subtypes returns the global subtype names.
func (s *Store) Subtypes(ctx context.Context) (map[int64]*domain.MechanismSubtype, error) {
	return s.SubNames, nil
}

// FindRecords returns the records matching the key within a tenant, sorted
// by id so multiple matches resolve deterministically.
func (s *Store) FindRecords(ctx context.Context, tenantID int64, key domain.RecordKey) ([]*domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Record
	for _, r := range s.records {
		if r.TenantID == tenantID && r.Key() == key {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateRecord stores a record and assigns its id.
func (s *Store) CreateRecord(ctx context.Context, r *domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = s.nextKey()
	s.records[r.ID] = r
	return nil
}

// DeleteRecord removes a record and cascades to isolates, results and
// reinterpretations.
func (s *Store) DeleteRecord(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.records, id)
	for isoID, iso := range s.isolates {
		if iso.RecordID != id {
			continue
		}
		s.deleteIsolateLocked(isoID)
	}
	return nil
}

func (s *Store) deleteIsolateLocked(isoID int64) {
	delete(s.isolates, isoID)
	for resID, res := range s.results {
		if res.IsolateID != isoID {
			continue
		}
		delete(s.results, resID)
		for riID, ri := range s.reinterps {
			if ri.ResultID == resID {
				delete(s.reinterps, riID)
			}
		}
	}
}

// DeleteOrphanRecords removes records that ended a load without isolates.
func (s *Store) DeleteOrphanRecords(ctx context.Context, tenantID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	withIsolates := map[int64]bool{}
	for _, iso := range s.isolates {
		withIsolates[iso.RecordID] = true
	}
	n := 0
	for id, r := range s.records {
		if r.TenantID == tenantID && !withIsolates[id] {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

// CreateIsolate stores an isolate and assigns its id.
func (s *Store) CreateIsolate(ctx context.Context, iso *domain.Isolate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	iso.ID = s.nextKey()
	s.isolates[iso.ID] = iso
	return nil
}

// CreateResult stores a result and assigns its id.
func (s *Store) CreateResult(ctx context.Context, r *domain.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = s.nextKey()
	s.results[r.ID] = r
	return nil
}

// ResultsByIsolate lists an isolate's results ordered by id.
func (s *Store) ResultsByIsolate(ctx context.Context, isolateID int64) ([]*domain.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resultsByIsolateLocked(isolateID), nil
}

func (s *Store) resultsByIsolateLocked(isolateID int64) []*domain.Result {
	var out []*domain.Result
	for _, r := range s.results {
		if r.IsolateID == isolateID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DeleteResult removes a result and its reinterpretations.
func (s *Store) DeleteResult(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.results[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.results, id)
	for riID, ri := range s.reinterps {
		if ri.ResultID == id {
			delete(s.reinterps, riID)
		}
	}
	return nil
}

// UpsertReinterpretation creates or replaces the reinterpretation for a
// (result, version) pair.
func (s *Store) UpsertReinterpretation(ctx context.Context, r *domain.Reinterpretation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.reinterps {
		if existing.ResultID == r.ResultID && existing.VersionID == r.VersionID {
			existing.NewInterpretation = r.NewInterpretation
			existing.WasRecomputed = r.WasRecomputed
			existing.CreatedAt = r.CreatedAt
			r.ID = existing.ID
			return nil
		}
	}
	r.ID = s.nextKey()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	s.reinterps[r.ID] = r
	return nil
}

// ReinterpretationsByResult lists the reinterpretations of one result.
func (s *Store) ReinterpretationsByResult(ctx context.Context, resultID int64) ([]*domain.Reinterpretation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Reinterpretation
	for _, ri := range s.reinterps {
		if ri.ResultID == resultID {
			out = append(out, ri)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// IsolatesByRecordOrganism prefetches the isolates of one record and
// organism with their results, for duplicate detection.
func (s *Store) IsolatesByRecordOrganism(ctx context.Context, recordID, tenantOrganismID int64) ([]*store.IsolateDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.IsolateDetail
	for _, iso := range s.isolates {
		if iso.RecordID == recordID && iso.TenantOrganismID == tenantOrganismID {
			out = append(out, s.detailLocked(iso))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Isolate.ID < out[j].Isolate.ID })
	return out, nil
}

// IsolatesInWindow prefetches every isolate of the window.
func (s *Store) IsolatesInWindow(ctx context.Context, w store.Window) ([]*store.IsolateDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.windowLocked(w), nil
}

func (s *Store) windowLocked(w store.Window) []*store.IsolateDetail {
	var out []*store.IsolateDetail
	for _, iso := range s.isolates {
		if iso.TenantID != w.TenantID {
			continue
		}
		if w.TenantOrganismID != nil && iso.TenantOrganismID != *w.TenantOrganismID {
			continue
		}
		rec := s.records[iso.RecordID]
		if rec == nil || rec.Date.Before(w.From) || rec.Date.After(w.To) {
			continue
		}
		out = append(out, s.detailLocked(iso))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Isolate.ID < out[j].Isolate.ID })
	return out
}

// FirstIsolates keeps only the earliest isolate per patient hash inside the
// window. Ties on date resolve to the lowest isolate id.
func (s *Store) FirstIsolates(ctx context.Context, w store.Window) ([]*store.IsolateDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.windowLocked(w)
	best := map[string]*store.IsolateDetail{}
	for _, d := range all {
		cur, ok := best[d.Record.PatientHash]
		if !ok || d.Record.Date.Before(cur.Record.Date) ||
			(d.Record.Date.Equal(cur.Record.Date) && d.Isolate.ID < cur.Isolate.ID) {
			best[d.Record.PatientHash] = d
		}
	}
	out := make([]*store.IsolateDetail, 0, len(best))
	for _, d := range best {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Isolate.ID < out[j].Isolate.ID })
	return out, nil
}

func (s *Store) detailLocked(iso *domain.Isolate) *store.IsolateDetail {
	d := &store.IsolateDetail{
		Isolate:   iso,
		Record:    s.records[iso.RecordID],
		Results:   s.resultsByIsolateLocked(iso.ID),
		Reinterps: map[int64]map[int64]*domain.Reinterpretation{},
	}
	for _, res := range d.Results {
		for _, ri := range s.reinterps {
			if ri.ResultID != res.ID {
				continue
			}
			if d.Reinterps[res.ID] == nil {
				d.Reinterps[res.ID] = map[int64]*domain.Reinterpretation{}
			}
			d.Reinterps[res.ID][ri.VersionID] = ri
		}
	}
	return d
}

// WithinTx runs fn against the same store. The memory implementation has
// no rollback; it exists to satisfy the contract in tests.
func (s *Store) WithinTx(ctx context.Context, fn func(store.Store) error) error {
	return fn(s)
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

var _ store.Store = (*Store)(nil)

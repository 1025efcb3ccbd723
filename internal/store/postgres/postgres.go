// Package postgres implements the store contract on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/sensibyte/SensiByte/internal/domain"
	"github.com/sensibyte/SensiByte/internal/store"
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store talks to PostgreSQL. Zero-value is not usable; construct with New.
type Store struct {
	pool *pgxpool.Pool
	q    querier
	log  *logrus.Logger
}

// New connects a pool and verifies it with a ping.
func New(ctx context.Context, dsn string, logger *logrus.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	logger.WithField("database", cfg.ConnConfig.Database).Info("Connected to postgres")
	return &Store{pool: pool, q: pool, log: logger}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// WithinTx runs fn inside one transaction, rolling back on error.
func (s *Store) WithinTx(ctx context.Context, fn func(store.Store) error) error {
	if s.pool == nil {
		// Already inside a transaction; nest flatly.
		return fn(s)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	child := &Store{q: tx, log: s.log}
	if err := fn(child); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// LoadCatalog reads the whole global catalog into memory.
func (s *Store) LoadCatalog(ctx context.Context) (*domain.Catalog, error) {
	c := domain.NewCatalog()

	rows, err := s.q.Query(ctx, `SELECT id, name, class FROM antibiotic_families`)
	if err != nil {
		return nil, fmt.Errorf("loading families: %w", err)
	}
	for rows.Next() {
		f := &domain.AntibioticFamily{}
		if err := rows.Scan(&f.ID, &f.Name, &f.Class); err != nil {
			rows.Close()
			return nil, err
		}
		c.Families[f.ID] = f
	}
	rows.Close()

	rows, err = s.q.Query(ctx, `
		SELECT id, name, abbr, family_id, is_variant, parent_id, route, indication
		FROM antibiotics`)
	if err != nil {
		return nil, fmt.Errorf("loading antibiotics: %w", err)
	}
	for rows.Next() {
		a := &domain.Antibiotic{}
		if err := rows.Scan(&a.ID, &a.Name, &a.Abbr, &a.FamilyID, &a.IsVariant,
			&a.ParentID, &a.Route, &a.Indication); err != nil {
			rows.Close()
			return nil, err
		}
		c.Drugs[a.ID] = a
	}
	rows.Close()

	rows, err = s.q.Query(ctx, `SELECT id, name FROM eucast_groups`)
	if err != nil {
		return nil, fmt.Errorf("loading groups: %w", err)
	}
	for rows.Next() {
		g := &domain.EucastGroup{}
		if err := rows.Scan(&g.ID, &g.Name); err != nil {
			rows.Close()
			return nil, err
		}
		c.Groups[g.ID] = g
	}
	rows.Close()

	rows, err = s.q.Query(ctx, `
		SELECT id, name, kingdom, family, genus, species, group_id, gram, intrinsic_resistance
		FROM organisms`)
	if err != nil {
		return nil, fmt.Errorf("loading organisms: %w", err)
	}
	for rows.Next() {
		o := &domain.Organism{}
		if err := rows.Scan(&o.ID, &o.Name, &o.Kingdom, &o.Family, &o.Genus,
			&o.Species, &o.GroupID, &o.Gram, &o.IntrinsicResistance); err != nil {
			rows.Close()
			return nil, err
		}
		c.Organisms[o.ID] = o
	}
	rows.Close()

	rows, err = s.q.Query(ctx, `SELECT id, year, label, valid_from, valid_until FROM eucast_versions`)
	if err != nil {
		return nil, fmt.Errorf("loading versions: %w", err)
	}
	for rows.Next() {
		v := &domain.EucastVersion{}
		if err := rows.Scan(&v.ID, &v.Year, &v.Label, &v.ValidFrom, &v.ValidUntil); err != nil {
			rows.Close()
			return nil, err
		}
		c.Versions = append(c.Versions, v)
	}
	rows.Close()

	rows, err = s.q.Query(ctx, `SELECT id, name, scope, include, exclude FROM taxon_conditions`)
	if err != nil {
		return nil, fmt.Errorf("loading taxon conditions: %w", err)
	}
	for rows.Next() {
		tc := &domain.TaxonCondition{}
		var scope string
		if err := rows.Scan(&tc.ID, &tc.Name, &scope, &tc.Include, &tc.Exclude); err != nil {
			rows.Close()
			return nil, err
		}
		tc.Scope = domain.TaxonScope(scope)
		c.Conditions[tc.ID] = tc
	}
	rows.Close()

	rows, err = s.q.Query(ctx, `
		SELECT id, antibiotic_id, group_id, condition_ids, category_ids,
		       age_min, age_max, sex_id, s_mic_max, r_mic_min, s_halo_min, r_halo_max,
		       version_id, comment
		FROM breakpoint_rules`)
	if err != nil {
		return nil, fmt.Errorf("loading breakpoint rules: %w", err)
	}
	for rows.Next() {
		r := &domain.BreakpointRule{}
		if err := rows.Scan(&r.ID, &r.AntibioticID, &r.GroupID, &r.ConditionIDs,
			&r.CategoryIDs, &r.AgeMin, &r.AgeMax, &r.SexID, &r.SMicMax, &r.RMicMin,
			&r.SHaloMin, &r.RHaloMax, &r.VersionID, &r.Comment); err != nil {
			rows.Close()
			return nil, err
		}
		c.Rules = append(c.Rules, r)
	}
	rows.Close()

	rows, err = s.q.Query(ctx, `SELECT id, code, description FROM sexes`)
	if err != nil {
		return nil, fmt.Errorf("loading sexes: %w", err)
	}
	for rows.Next() {
		x := &domain.Sex{}
		if err := rows.Scan(&x.ID, &x.Code, &x.Description); err != nil {
			rows.Close()
			return nil, err
		}
		c.Sexes[x.ID] = x
	}
	rows.Close()

	rows, err = s.q.Query(ctx, `SELECT id, name FROM sample_scopes`)
	if err != nil {
		return nil, fmt.Errorf("loading scopes: %w", err)
	}
	for rows.Next() {
		x := &domain.SampleScope{}
		if err := rows.Scan(&x.ID, &x.Name); err != nil {
			rows.Close()
			return nil, err
		}
		c.Scopes[x.ID] = x
	}
	rows.Close()

	rows, err = s.q.Query(ctx, `SELECT id, name FROM services`)
	if err != nil {
		return nil, fmt.Errorf("loading services: %w", err)
	}
	for rows.Next() {
		x := &domain.Service{}
		if err := rows.Scan(&x.ID, &x.Name); err != nil {
			rows.Close()
			return nil, err
		}
		c.Services[x.ID] = x
	}
	rows.Close()

	rows, err = s.q.Query(ctx, `SELECT id, name, classification, loinc_code FROM sample_types`)
	if err != nil {
		return nil, fmt.Errorf("loading sample types: %w", err)
	}
	for rows.Next() {
		x := &domain.SampleType{}
		if err := rows.Scan(&x.ID, &x.Name, &x.Classification, &x.LoincCode); err != nil {
			rows.Close()
			return nil, err
		}
		c.Samples[x.ID] = x
	}
	rows.Close()

	c.Reindex()
	return c, nil
}

// Mechanisms loads the global mechanism names.
func (s *Store) Mechanisms(ctx context.Context) (map[int64]*domain.ResistanceMechanism, error) {
	rows, err := s.q.Query(ctx, `SELECT id, name, description FROM mechanisms`)
	if err != nil {
		return nil, fmt.Errorf("loading mechanisms: %w", err)
	}
	defer rows.Close()
	out := map[int64]*domain.ResistanceMechanism{}
	for rows.Next() {
		m := &domain.ResistanceMechanism{}
		if err := rows.Scan(&m.ID, &m.Name, &m.Description); err != nil {
			return nil, err
		}
		out[m.ID] = m
	}
	return out, rows.Err()
}

// Subtypes loads the global subtype names.
func (s *Store) Subtypes(ctx context.Context) (map[int64]*domain.MechanismSubtype, error) {
	rows, err := s.q.Query(ctx, `SELECT id, name, mechanism_id FROM mechanism_subtypes`)
	if err != nil {
		return nil, fmt.Errorf("loading subtypes: %w", err)
	}
	defer rows.Close()
	out := map[int64]*domain.MechanismSubtype{}
	for rows.Next() {
		m := &domain.MechanismSubtype{}
		if err := rows.Scan(&m.ID, &m.Name, &m.MechanismID); err != nil {
			return nil, err
		}
		out[m.ID] = m
	}
	return out, rows.Err()
}

// LoadTenantCatalog reads every overlay of one tenant.
func (s *Store) LoadTenantCatalog(ctx context.Context, tenantID int64) (*domain.TenantCatalog, error) {
	tc := &domain.TenantCatalog{
		Antibiotics: map[int64]*domain.TenantAntibiotic{},
		Organisms:   map[int64]*domain.TenantOrganism{},
		Profiles:    map[int64]*domain.Profile{},
		Categories:  map[int64]*domain.SampleCategory{},
	}

	t := &domain.Tenant{}
	err := s.q.QueryRow(ctx, `SELECT id, name, slug FROM tenants WHERE id = $1`, tenantID).
		Scan(&t.ID, &t.Name, &t.Slug)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("tenant %d: %w", tenantID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading tenant: %w", err)
	}
	tc.Tenant = t

	rows, err := s.q.Query(ctx, `
		SELECT id, antibiotic_id, report_order, aliases
		FROM tenant_antibiotics WHERE tenant_id = $1 ORDER BY id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("loading tenant antibiotics: %w", err)
	}
	for rows.Next() {
		ta := &domain.TenantAntibiotic{TenantID: tenantID}
		if err := rows.Scan(&ta.ID, &ta.AntibioticID, &ta.ReportOrder, &ta.Aliases); err != nil {
			rows.Close()
			return nil, err
		}
		tc.Antibiotics[ta.AntibioticID] = ta
	}
	rows.Close()

	rows, err = s.q.Query(ctx, `
		SELECT id, organism_id, aliases
		FROM tenant_organisms WHERE tenant_id = $1 ORDER BY id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("loading tenant organisms: %w", err)
	}
	for rows.Next() {
		to := &domain.TenantOrganism{TenantID: tenantID}
		if err := rows.Scan(&to.ID, &to.OrganismID, &to.Aliases); err != nil {
			rows.Close()
			return nil, err
		}
		tc.Organisms[to.ID] = to
	}
	rows.Close()

	rows, err = s.q.Query(ctx, `
		SELECT p.id, p.group_id, pa.tenant_antibiotic_id, pa.show_in_report
		FROM profiles p
		JOIN profile_antibiotics pa ON pa.profile_id = p.id
		WHERE p.tenant_id = $1
		ORDER BY p.id, pa.tenant_antibiotic_id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("loading profiles: %w", err)
	}
	for rows.Next() {
		var profileID, groupID, taID int64
		var show bool
		if err := rows.Scan(&profileID, &groupID, &taID, &show); err != nil {
			rows.Close()
			return nil, err
		}
		p := tc.Profiles[groupID]
		if p == nil {
			p = &domain.Profile{ID: profileID, TenantID: tenantID, GroupID: groupID}
			tc.Profiles[groupID] = p
		}
		p.Antibiotics = append(p.Antibiotics, domain.ProfileAntibiotic{
			TenantAntibioticID: taID,
			ShowInReport:       show,
		})
	}
	rows.Close()

	rows, err = s.q.Query(ctx, `
		SELECT id, mechanism_id, aliases, acquired_resistance
		FROM tenant_mechanisms WHERE tenant_id = $1 ORDER BY id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("loading tenant mechanisms: %w", err)
	}
	for rows.Next() {
		tm := &domain.TenantMechanism{TenantID: tenantID}
		if err := rows.Scan(&tm.ID, &tm.MechanismID, &tm.Aliases, &tm.AcquiredResistance); err != nil {
			rows.Close()
			return nil, err
		}
		tc.Mechanisms = append(tc.Mechanisms, tm)
	}
	rows.Close()

	rows, err = s.q.Query(ctx, `
		SELECT id, subtype_id, aliases, acquired_resistance
		FROM tenant_subtypes WHERE tenant_id = $1 ORDER BY id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("loading tenant subtypes: %w", err)
	}
	for rows.Next() {
		ts := &domain.TenantSubtype{TenantID: tenantID}
		if err := rows.Scan(&ts.ID, &ts.SubtypeID, &ts.Aliases, &ts.AcquiredResistance); err != nil {
			rows.Close()
			return nil, err
		}
		tc.Subtypes = append(tc.Subtypes, ts)
	}
	rows.Close()

	rows, err = s.q.Query(ctx, `
		SELECT id, interpretation, aliases
		FROM interpretation_aliases WHERE tenant_id = $1 ORDER BY id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("loading interpretation aliases: %w", err)
	}
	for rows.Next() {
		ia := &domain.InterpretationAlias{TenantID: tenantID}
		var interp string
		if err := rows.Scan(&ia.ID, &interp, &ia.Aliases); err != nil {
			rows.Close()
			return nil, err
		}
		ia.Interpretation = domain.Interpretation(interp)
		tc.InterpMap = append(tc.InterpMap, ia)
	}
	rows.Close()

	pt := &domain.PositiveTokens{TenantID: tenantID}
	err = s.q.QueryRow(ctx, `
		SELECT id, tokens FROM positive_tokens WHERE tenant_id = $1 ORDER BY id LIMIT 1`, tenantID).
		Scan(&pt.ID, &pt.Tokens)
	if err == nil {
		tc.Positives = pt
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("loading positive tokens: %w", err)
	}

	rows, err = s.q.Query(ctx, `
		SELECT id, name, ignore_min FROM sample_categories WHERE tenant_id = $1 ORDER BY id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("loading sample categories: %w", err)
	}
	for rows.Next() {
		sc := &domain.SampleCategory{TenantID: tenantID}
		if err := rows.Scan(&sc.ID, &sc.Name, &sc.IgnoreMin); err != nil {
			rows.Close()
			return nil, err
		}
		tc.Categories[sc.ID] = sc
	}
	rows.Close()

	rows, err = s.q.Query(ctx, `
		SELECT id, sex_id, aliases FROM tenant_sexes WHERE tenant_id = $1 ORDER BY id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("loading tenant sexes: %w", err)
	}
	for rows.Next() {
		x := &domain.TenantSex{TenantID: tenantID}
		if err := rows.Scan(&x.ID, &x.SexID, &x.Aliases); err != nil {
			rows.Close()
			return nil, err
		}
		tc.Sexes = append(tc.Sexes, x)
	}
	rows.Close()

	rows, err = s.q.Query(ctx, `
		SELECT id, scope_id, aliases FROM tenant_scopes WHERE tenant_id = $1 ORDER BY id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("loading tenant scopes: %w", err)
	}
	for rows.Next() {
		x := &domain.TenantScope{TenantID: tenantID}
		if err := rows.Scan(&x.ID, &x.ScopeID, &x.Aliases); err != nil {
			rows.Close()
			return nil, err
		}
		tc.Scopes = append(tc.Scopes, x)
	}
	rows.Close()

	rows, err = s.q.Query(ctx, `
		SELECT id, service_id, aliases FROM tenant_services WHERE tenant_id = $1 ORDER BY id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("loading tenant services: %w", err)
	}
	for rows.Next() {
		x := &domain.TenantService{TenantID: tenantID}
		if err := rows.Scan(&x.ID, &x.ServiceID, &x.Aliases); err != nil {
			rows.Close()
			return nil, err
		}
		tc.Services = append(tc.Services, x)
	}
	rows.Close()

	rows, err = s.q.Query(ctx, `
		SELECT id, sample_type_id, category_id, aliases
		FROM tenant_sample_types WHERE tenant_id = $1 ORDER BY id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("loading tenant sample types: %w", err)
	}
	for rows.Next() {
		x := &domain.TenantSampleType{TenantID: tenantID}
		if err := rows.Scan(&x.ID, &x.SampleTypeID, &x.CategoryID, &x.Aliases); err != nil {
			rows.Close()
			return nil, err
		}
		tc.SampleTypes = append(tc.SampleTypes, x)
	}
	rows.Close()

	return tc, nil
}

// FindRecords matches records on the full demographic key.
func (s *Store) FindRecords(ctx context.Context, tenantID int64, key domain.RecordKey) ([]*domain.Record, error) {
	query := `
		SELECT id, tenant_id, date, patient_hash, age, sex_id, scope_id, service_id, sample_type_id
		FROM records
		WHERE tenant_id = $1 AND patient_hash = $2 AND date = $3
		  AND sex_id = $4 AND scope_id = $5 AND service_id = $6 AND sample_type_id = $7
		  AND (($8::double precision IS NULL AND age IS NULL) OR age = $8)
		ORDER BY id`

	var age *float64
	if key.HasAge {
		age = &key.Age
	}
	rows, err := s.q.Query(ctx, query, tenantID, key.PatientHash, key.Date,
		key.SexID, key.ScopeID, key.ServiceID, key.SampleTypeID, age)
	if err != nil {
		return nil, fmt.Errorf("finding records: %w", err)
	}
	defer rows.Close()

	var out []*domain.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (*domain.Record, error) {
	r := &domain.Record{}
	if err := row.Scan(&r.ID, &r.TenantID, &r.Date, &r.PatientHash, &r.Age,
		&r.SexID, &r.ScopeID, &r.ServiceID, &r.SampleTypeID); err != nil {
		return nil, fmt.Errorf("scanning record: %w", err)
	}
	return r, nil
}

// CreateRecord inserts a record and fills its id.
func (s *Store) CreateRecord(ctx context.Context, r *domain.Record) error {
	err := s.q.QueryRow(ctx, `
		INSERT INTO records (tenant_id, date, patient_hash, age, sex_id, scope_id, service_id, sample_type_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		r.TenantID, r.Date, r.PatientHash, r.Age, r.SexID, r.ScopeID, r.ServiceID, r.SampleTypeID).
		Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("creating record: %w", err)
	}
	return nil
}

// DeleteRecord removes a record; the schema cascades to isolates, results
// and reinterpretations.
func (s *Store) DeleteRecord(ctx context.Context, id int64) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteOrphanRecords drops records with no isolates.
func (s *Store) DeleteOrphanRecords(ctx context.Context, tenantID int64) (int, error) {
	tag, err := s.q.Exec(ctx, `
		DELETE FROM records r
		WHERE r.tenant_id = $1
		  AND NOT EXISTS (SELECT 1 FROM isolates i WHERE i.record_id = r.id)`, tenantID)
	if err != nil {
		return 0, fmt.Errorf("deleting orphan records: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// CreateIsolate inserts an isolate and fills its id.
func (s *Store) CreateIsolate(ctx context.Context, iso *domain.Isolate) error {
	mechs := iso.MechanismIDs
	if mechs == nil {
		mechs = []int64{}
	}
	subs := iso.SubtypeIDs
	if subs == nil {
		subs = []int64{}
	}
	err := s.q.QueryRow(ctx, `
		INSERT INTO isolates (tenant_id, record_id, tenant_organism_id, version_id, mechanism_ids, subtype_ids)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		iso.TenantID, iso.RecordID, iso.TenantOrganismID, iso.VersionID, mechs, subs).
		Scan(&iso.ID)
	if err != nil {
		return fmt.Errorf("creating isolate: %w", err)
	}
	return nil
}

// CreateResult inserts a result and fills its id.
func (s *Store) CreateResult(ctx context.Context, r *domain.Result) error {
	err := s.q.QueryRow(ctx, `
		INSERT INTO results (isolate_id, tenant_antibiotic_id, interpretation, mic, halo)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		r.IsolateID, r.TenantAntibioticID, string(r.Interpretation), r.Mic, r.Halo).
		Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("creating result: %w", err)
	}
	return nil
}

// ResultsByIsolate lists an isolate's results.
func (s *Store) ResultsByIsolate(ctx context.Context, isolateID int64) ([]*domain.Result, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, isolate_id, tenant_antibiotic_id, interpretation, mic, halo
		FROM results WHERE isolate_id = $1 ORDER BY id`, isolateID)
	if err != nil {
		return nil, fmt.Errorf("loading results: %w", err)
	}
	defer rows.Close()
	return scanResults(rows)
}

func scanResults(rows pgx.Rows) ([]*domain.Result, error) {
	var out []*domain.Result
	for rows.Next() {
		r := &domain.Result{}
		var interp string
		if err := rows.Scan(&r.ID, &r.IsolateID, &r.TenantAntibioticID, &interp, &r.Mic, &r.Halo); err != nil {
			return nil, err
		}
		r.Interpretation = domain.Interpretation(interp)
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteResult removes one result; reinterpretations cascade.
func (s *Store) DeleteResult(ctx context.Context, id int64) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM results WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpsertReinterpretation inserts or replaces the (result, version) row.
func (s *Store) UpsertReinterpretation(ctx context.Context, r *domain.Reinterpretation) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	err := s.q.QueryRow(ctx, `
		INSERT INTO reinterpretations (result_id, version_id, new_interpretation, was_recomputed, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (result_id, version_id)
		DO UPDATE SET new_interpretation = EXCLUDED.new_interpretation,
		              was_recomputed = EXCLUDED.was_recomputed,
		              created_at = EXCLUDED.created_at
		RETURNING id`,
		r.ResultID, r.VersionID, string(r.NewInterpretation), r.WasRecomputed, r.CreatedAt).
		Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("upserting reinterpretation: %w", err)
	}
	return nil
}

// ReinterpretationsByResult lists the reinterpretations of a result.
func (s *Store) ReinterpretationsByResult(ctx context.Context, resultID int64) ([]*domain.Reinterpretation, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, result_id, version_id, new_interpretation, was_recomputed, created_at
		FROM reinterpretations WHERE result_id = $1 ORDER BY id`, resultID)
	if err != nil {
		return nil, fmt.Errorf("loading reinterpretations: %w", err)
	}
	defer rows.Close()
	var out []*domain.Reinterpretation
	for rows.Next() {
		ri := &domain.Reinterpretation{}
		var interp string
		if err := rows.Scan(&ri.ID, &ri.ResultID, &ri.VersionID, &interp, &ri.WasRecomputed, &ri.CreatedAt); err != nil {
			return nil, err
		}
		ri.NewInterpretation = domain.Interpretation(interp)
		out = append(out, ri)
	}
	return out, rows.Err()
}

// IsolatesByRecordOrganism prefetches isolates with results for duplicate
// detection.
func (s *Store) IsolatesByRecordOrganism(ctx context.Context, recordID, tenantOrganismID int64) ([]*store.IsolateDetail, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, tenant_id, record_id, tenant_organism_id, version_id, mechanism_ids, subtype_ids
		FROM isolates WHERE record_id = $1 AND tenant_organism_id = $2 ORDER BY id`,
		recordID, tenantOrganismID)
	if err != nil {
		return nil, fmt.Errorf("loading isolates: %w", err)
	}
	isolates, err := scanIsolates(rows)
	if err != nil {
		return nil, err
	}
	return s.attachDetails(ctx, isolates)
}

// IsolatesInWindow prefetches every isolate of the window.
func (s *Store) IsolatesInWindow(ctx context.Context, w store.Window) ([]*store.IsolateDetail, error) {
	query := `
		SELECT i.id, i.tenant_id, i.record_id, i.tenant_organism_id, i.version_id,
		       i.mechanism_ids, i.subtype_ids
		FROM isolates i
		JOIN records r ON r.id = i.record_id
		WHERE i.tenant_id = $1 AND r.date BETWEEN $2 AND $3
		  AND ($4::bigint IS NULL OR i.tenant_organism_id = $4)
		ORDER BY i.id`
	rows, err := s.q.Query(ctx, query, w.TenantID, w.From, w.To, w.TenantOrganismID)
	if err != nil {
		return nil, fmt.Errorf("loading window isolates: %w", err)
	}
	isolates, err := scanIsolates(rows)
	if err != nil {
		return nil, err
	}
	return s.attachDetails(ctx, isolates)
}

// FirstIsolates applies the first-isolate-per-patient window rank in SQL.
func (s *Store) FirstIsolates(ctx context.Context, w store.Window) ([]*store.IsolateDetail, error) {
	query := `
		SELECT id, tenant_id, record_id, tenant_organism_id, version_id, mechanism_ids, subtype_ids
		FROM (
			SELECT i.*, ROW_NUMBER() OVER (
				PARTITION BY r.patient_hash ORDER BY r.date ASC, i.id ASC
			) AS rank
			FROM isolates i
			JOIN records r ON r.id = i.record_id
			WHERE i.tenant_id = $1 AND r.date BETWEEN $2 AND $3
			  AND ($4::bigint IS NULL OR i.tenant_organism_id = $4)
		) ranked
		WHERE rank = 1
		ORDER BY id`
	rows, err := s.q.Query(ctx, query, w.TenantID, w.From, w.To, w.TenantOrganismID)
	if err != nil {
		return nil, fmt.Errorf("loading first isolates: %w", err)
	}
	isolates, err := scanIsolates(rows)
	if err != nil {
		return nil, err
	}
	return s.attachDetails(ctx, isolates)
}

func scanIsolates(rows pgx.Rows) ([]*domain.Isolate, error) {
	defer rows.Close()
	var out []*domain.Isolate
	for rows.Next() {
		iso := &domain.Isolate{}
		if err := rows.Scan(&iso.ID, &iso.TenantID, &iso.RecordID, &iso.TenantOrganismID,
			&iso.VersionID, &iso.MechanismIDs, &iso.SubtypeIDs); err != nil {
			return nil, err
		}
		out = append(out, iso)
	}
	return out, rows.Err()
}

// attachDetails loads records, results and reinterpretations for a batch
// of isolates.
func (s *Store) attachDetails(ctx context.Context, isolates []*domain.Isolate) ([]*store.IsolateDetail, error) {
	out := make([]*store.IsolateDetail, 0, len(isolates))
	for _, iso := range isolates {
		rec, err := scanRecord(s.q.QueryRow(ctx, `
			SELECT id, tenant_id, date, patient_hash, age, sex_id, scope_id, service_id, sample_type_id
			FROM records WHERE id = $1`, iso.RecordID))
		if err != nil {
			return nil, err
		}

		results, err := s.ResultsByIsolate(ctx, iso.ID)
		if err != nil {
			return nil, err
		}

		detail := &store.IsolateDetail{
			Isolate:   iso,
			Record:    rec,
			Results:   results,
			Reinterps: map[int64]map[int64]*domain.Reinterpretation{},
		}
		for _, res := range results {
			ris, err := s.ReinterpretationsByResult(ctx, res.ID)
			if err != nil {
				return nil, err
			}
			for _, ri := range ris {
				if detail.Reinterps[res.ID] == nil {
					detail.Reinterps[res.ID] = map[int64]*domain.Reinterpretation{}
				}
				detail.Reinterps[res.ID][ri.VersionID] = ri
			}
		}
		out = append(out, detail)
	}
	return out, nil
}

var _ store.Store = (*Store)(nil)

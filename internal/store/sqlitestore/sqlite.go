// Package sqlitestore implements the store contract on an embedded SQLite
// database. It mirrors the postgres store for single-node deployments and
// local analysis; list-valued columns are stored as JSON text.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/sensibyte/SensiByte/internal/domain"
	"github.com/sensibyte/SensiByte/internal/store"
)

// dbtx is satisfied by *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store talks to SQLite through database/sql.
type Store struct {
	db  *sql.DB
	q   dbtx
	log *logrus.Logger
}

// New opens (and creates, if needed) the database file and its schema.
func New(path string, logger *logrus.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, q: db, log: logger}
	if err := s.createSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	logger.WithField("path", path).Info("SQLite store ready")
	return s, nil
}

// Close closes the underlying handle.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// WithinTx runs fn in one transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(store.Store) error) error {
	if s.db == nil {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	child := &Store{q: tx, log: s.log}
	if err := fn(child); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) createSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS catalog_blobs (
		kind TEXT NOT NULL,
		name TEXT NOT NULL,
		body TEXT NOT NULL,
		PRIMARY KEY (kind, name)
	);
	CREATE TABLE IF NOT EXISTS tenant_blobs (
		tenant_id INTEGER NOT NULL,
		body      TEXT NOT NULL,
		PRIMARY KEY (tenant_id)
	);
	CREATE TABLE IF NOT EXISTS records (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant_id      INTEGER NOT NULL,
		date           TEXT NOT NULL,
		patient_hash   TEXT NOT NULL,
		age            REAL,
		sex_id         INTEGER NOT NULL,
		scope_id       INTEGER NOT NULL,
		service_id     INTEGER NOT NULL,
		sample_type_id INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_records_lookup ON records(tenant_id, patient_hash, date);
	CREATE TABLE IF NOT EXISTS isolates (
		id                 INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant_id          INTEGER NOT NULL,
		record_id          INTEGER NOT NULL REFERENCES records(id) ON DELETE CASCADE,
		tenant_organism_id INTEGER NOT NULL,
		version_id         INTEGER NOT NULL,
		mechanism_ids      TEXT NOT NULL DEFAULT '[]',
		subtype_ids        TEXT NOT NULL DEFAULT '[]'
	);
	CREATE INDEX IF NOT EXISTS idx_isolates_record ON isolates(record_id, tenant_organism_id);
	CREATE TABLE IF NOT EXISTS results (
		id                   INTEGER PRIMARY KEY AUTOINCREMENT,
		isolate_id           INTEGER NOT NULL REFERENCES isolates(id) ON DELETE CASCADE,
		tenant_antibiotic_id INTEGER NOT NULL,
		interpretation       TEXT NOT NULL,
		mic                  REAL,
		halo                 REAL,
		UNIQUE (isolate_id, tenant_antibiotic_id)
	);
	CREATE TABLE IF NOT EXISTS reinterpretations (
		id                 INTEGER PRIMARY KEY AUTOINCREMENT,
		result_id          INTEGER NOT NULL REFERENCES results(id) ON DELETE CASCADE,
		version_id         INTEGER NOT NULL,
		new_interpretation TEXT NOT NULL,
		was_recomputed     INTEGER NOT NULL DEFAULT 0,
		created_at         TEXT NOT NULL,
		UNIQUE (result_id, version_id)
	);`
	if _, err := s.q.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating sqlite schema: %w", err)
	}
	return nil
}

// SeedCatalog persists the fixture bundle. Each entity is stored as one
// JSON blob keyed by (kind, name); INSERT OR IGNORE keeps seeding
// idempotent on the per-name uniqueness check.
func (s *Store) SeedCatalog(ctx context.Context, c *domain.Catalog,
	mechs map[int64]*domain.ResistanceMechanism, subs map[int64]*domain.MechanismSubtype) error {

	put := func(kind, name string, v any) error {
		body, err := json.Marshal(v)
		if err != nil {
			return err
		}
		_, err = s.q.ExecContext(ctx,
			`INSERT OR IGNORE INTO catalog_blobs (kind, name, body) VALUES (?, ?, ?)`,
			kind, name, string(body))
		return err
	}

	for _, x := range c.Families {
		if err := put("family", x.Name, x); err != nil {
			return fmt.Errorf("seeding families: %w", err)
		}
	}
	for _, x := range c.Drugs {
		if err := put("antibiotic", x.Name, x); err != nil {
			return fmt.Errorf("seeding antibiotics: %w", err)
		}
	}
	for _, x := range c.Groups {
		if err := put("group", x.Name, x); err != nil {
			return fmt.Errorf("seeding groups: %w", err)
		}
	}
	for _, x := range c.Organisms {
		if err := put("organism", x.Name, x); err != nil {
			return fmt.Errorf("seeding organisms: %w", err)
		}
	}
	for _, x := range c.Versions {
		if err := put("version", x.Label, x); err != nil {
			return fmt.Errorf("seeding versions: %w", err)
		}
	}
	for _, x := range c.Rules {
		if err := put("rule", fmt.Sprintf("%d", x.ID), x); err != nil {
			return fmt.Errorf("seeding rules: %w", err)
		}
	}
	for _, x := range c.Conditions {
		if err := put("condition", x.Name, x); err != nil {
			return fmt.Errorf("seeding conditions: %w", err)
		}
	}
	for _, x := range c.Sexes {
		if err := put("sex", x.Code, x); err != nil {
			return fmt.Errorf("seeding sexes: %w", err)
		}
	}
	for _, x := range c.Scopes {
		if err := put("scope", x.Name, x); err != nil {
			return fmt.Errorf("seeding scopes: %w", err)
		}
	}
	for _, x := range c.Services {
		if err := put("service", x.Name, x); err != nil {
			return fmt.Errorf("seeding services: %w", err)
		}
	}
	for _, x := range c.Samples {
		if err := put("sample_type", x.Name, x); err != nil {
			return fmt.Errorf("seeding sample types: %w", err)
		}
	}
	for _, x := range mechs {
		if err := put("mechanism", x.Name, x); err != nil {
			return fmt.Errorf("seeding mechanisms: %w", err)
		}
	}
	for _, x := range subs {
		if err := put("subtype", x.Name, x); err != nil {
			return fmt.Errorf("seeding subtypes: %w", err)
		}
	}
	return nil
}

// SeedTenant persists one tenant's overlays as a JSON blob.
func (s *Store) SeedTenant(ctx context.Context, tc *domain.TenantCatalog) error {
	body, err := json.Marshal(tc)
	if err != nil {
		return fmt.Errorf("encoding tenant catalog: %w", err)
	}
	_, err = s.q.ExecContext(ctx,
		`INSERT OR REPLACE INTO tenant_blobs (tenant_id, body) VALUES (?, ?)`,
		tc.Tenant.ID, string(body))
	if err != nil {
		return fmt.Errorf("seeding tenant catalog: %w", err)
	}
	return nil
}

func loadKind[T any](ctx context.Context, q dbtx, kind string, assign func(*T)) error {
	rows, err := q.QueryContext(ctx, `SELECT body FROM catalog_blobs WHERE kind = ? ORDER BY name`, kind)
	if err != nil {
		return fmt.Errorf("loading %s: %w", kind, err)
	}
	defer rows.Close()
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return err
		}
		v := new(T)
		if err := json.Unmarshal([]byte(body), v); err != nil {
			return fmt.Errorf("decoding %s: %w", kind, err)
		}
		assign(v)
	}
	return rows.Err()
}

// LoadCatalog reconstructs the global catalog from the seeded blobs.
func (s *Store) LoadCatalog(ctx context.Context) (*domain.Catalog, error) {
	c := domain.NewCatalog()
	if err := loadKind(ctx, s.q, "family", func(x *domain.AntibioticFamily) { c.Families[x.ID] = x }); err != nil {
		return nil, err
	}
	if err := loadKind(ctx, s.q, "antibiotic", func(x *domain.Antibiotic) { c.Drugs[x.ID] = x }); err != nil {
		return nil, err
	}
	if err := loadKind(ctx, s.q, "group", func(x *domain.EucastGroup) { c.Groups[x.ID] = x }); err != nil {
		return nil, err
	}
	if err := loadKind(ctx, s.q, "organism", func(x *domain.Organism) { c.Organisms[x.ID] = x }); err != nil {
		return nil, err
	}
	if err := loadKind(ctx, s.q, "version", func(x *domain.EucastVersion) { c.Versions = append(c.Versions, x) }); err != nil {
		return nil, err
	}
	if err := loadKind(ctx, s.q, "rule", func(x *domain.BreakpointRule) { c.Rules = append(c.Rules, x) }); err != nil {
		return nil, err
	}
	if err := loadKind(ctx, s.q, "condition", func(x *domain.TaxonCondition) { c.Conditions[x.ID] = x }); err != nil {
		return nil, err
	}
	if err := loadKind(ctx, s.q, "sex", func(x *domain.Sex) { c.Sexes[x.ID] = x }); err != nil {
		return nil, err
	}
	if err := loadKind(ctx, s.q, "scope", func(x *domain.SampleScope) { c.Scopes[x.ID] = x }); err != nil {
		return nil, err
	}
	if err := loadKind(ctx, s.q, "service", func(x *domain.Service) { c.Services[x.ID] = x }); err != nil {
		return nil, err
	}
	if err := loadKind(ctx, s.q, "sample_type", func(x *domain.SampleType) { c.Samples[x.ID] = x }); err != nil {
		return nil, err
	}
	c.Reindex()
	return c, nil
}

// Mechanisms loads the global mechanism names.
func (s *Store) Mechanisms(ctx context.Context) (map[int64]*domain.ResistanceMechanism, error) {
	out := map[int64]*domain.ResistanceMechanism{}
	err := loadKind(ctx, s.q, "mechanism", func(x *domain.ResistanceMechanism) { out[x.ID] = x })
	return out, err
}

// Subtypes loads the global subtype names.
func (s *Store) Subtypes(ctx context.Context) (map[int64]*domain.MechanismSubtype, error) {
	out := map[int64]*domain.MechanismSubtype{}
	err := loadKind(ctx, s.q, "subtype", func(x *domain.MechanismSubtype) { out[x.ID] = x })
	return out, err
}

// LoadTenantCatalog reads one tenant's overlays.
func (s *Store) LoadTenantCatalog(ctx context.Context, tenantID int64) (*domain.TenantCatalog, error) {
	var body string
	err := s.q.QueryRowContext(ctx,
		`SELECT body FROM tenant_blobs WHERE tenant_id = ?`, tenantID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tenant %d: %w", tenantID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading tenant catalog: %w", err)
	}
	tc := &domain.TenantCatalog{}
	if err := json.Unmarshal([]byte(body), tc); err != nil {
		return nil, fmt.Errorf("decoding tenant catalog: %w", err)
	}
	return tc, nil
}

const dateLayout = "2006-01-02"

// FindRecords matches records on the full demographic key.
func (s *Store) FindRecords(ctx context.Context, tenantID int64, key domain.RecordKey) ([]*domain.Record, error) {
	query := `
		SELECT id, tenant_id, date, patient_hash, age, sex_id, scope_id, service_id, sample_type_id
		FROM records
		WHERE tenant_id = ? AND patient_hash = ? AND date = ?
		  AND sex_id = ? AND scope_id = ? AND service_id = ? AND sample_type_id = ?
		  AND ((? IS NULL AND age IS NULL) OR age = ?)
		ORDER BY id`
	var age any
	if key.HasAge {
		age = key.Age
	}
	rows, err := s.q.QueryContext(ctx, query, tenantID, key.PatientHash,
		key.Date.Format(dateLayout), key.SexID, key.ScopeID, key.ServiceID,
		key.SampleTypeID, age, age)
	if err != nil {
		return nil, fmt.Errorf("finding records: %w", err)
	}
	defer rows.Close()

	var out []*domain.Record
	for rows.Next() {
		r, err := scanRecordRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRecordRows(rows *sql.Rows) (*domain.Record, error) {
	r := &domain.Record{}
	var date string
	if err := rows.Scan(&r.ID, &r.TenantID, &date, &r.PatientHash, &r.Age,
		&r.SexID, &r.ScopeID, &r.ServiceID, &r.SampleTypeID); err != nil {
		return nil, err
	}
	t, err := time.Parse(dateLayout, date)
	if err != nil {
		return nil, fmt.Errorf("parsing stored date %q: %w", date, err)
	}
	r.Date = t
	return r, nil
}

// CreateRecord inserts a record and fills its id.
func (s *Store) CreateRecord(ctx context.Context, r *domain.Record) error {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO records (tenant_id, date, patient_hash, age, sex_id, scope_id, service_id, sample_type_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.TenantID, r.Date.Format(dateLayout), r.PatientHash, r.Age,
		r.SexID, r.ScopeID, r.ServiceID, r.SampleTypeID)
	if err != nil {
		return fmt.Errorf("creating record: %w", err)
	}
	r.ID, err = res.LastInsertId()
	return err
}

// DeleteRecord removes a record; foreign keys cascade downwards.
func (s *Store) DeleteRecord(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteOrphanRecords drops records without isolates.
func (s *Store) DeleteOrphanRecords(ctx context.Context, tenantID int64) (int, error) {
	res, err := s.q.ExecContext(ctx, `
		DELETE FROM records
		WHERE tenant_id = ?
		  AND id NOT IN (SELECT DISTINCT record_id FROM isolates)`, tenantID)
	if err != nil {
		return 0, fmt.Errorf("deleting orphan records: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// CreateIsolate inserts an isolate and fills its id.
func (s *Store) CreateIsolate(ctx context.Context, iso *domain.Isolate) error {
	mechs, _ := json.Marshal(orEmpty(iso.MechanismIDs))
	subs, _ := json.Marshal(orEmpty(iso.SubtypeIDs))
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO isolates (tenant_id, record_id, tenant_organism_id, version_id, mechanism_ids, subtype_ids)
		VALUES (?, ?, ?, ?, ?, ?)`,
		iso.TenantID, iso.RecordID, iso.TenantOrganismID, iso.VersionID, string(mechs), string(subs))
	if err != nil {
		return fmt.Errorf("creating isolate: %w", err)
	}
	iso.ID, err = res.LastInsertId()
	return err
}

// CreateResult inserts a result and fills its id.
func (s *Store) CreateResult(ctx context.Context, r *domain.Result) error {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO results (isolate_id, tenant_antibiotic_id, interpretation, mic, halo)
		VALUES (?, ?, ?, ?, ?)`,
		r.IsolateID, r.TenantAntibioticID, string(r.Interpretation), r.Mic, r.Halo)
	if err != nil {
		return fmt.Errorf("creating result: %w", err)
	}
	r.ID, err = res.LastInsertId()
	return err
}

// ResultsByIsolate lists an isolate's results.
func (s *Store) ResultsByIsolate(ctx context.Context, isolateID int64) ([]*domain.Result, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, isolate_id, tenant_antibiotic_id, interpretation, mic, halo
		FROM results WHERE isolate_id = ? ORDER BY id`, isolateID)
	if err != nil {
		return nil, fmt.Errorf("loading results: %w", err)
	}
	defer rows.Close()

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
	res, err := s.q.ExecContext(ctx, `DELETE FROM results WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting result: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpsertReinterpretation inserts or replaces the (result, version) row.
func (s *Store) UpsertReinterpretation(ctx context.Context, r *domain.Reinterpretation) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO reinterpretations (result_id, version_id, new_interpretation, was_recomputed, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (result_id, version_id)
		DO UPDATE SET new_interpretation = excluded.new_interpretation,
		              was_recomputed = excluded.was_recomputed,
		              created_at = excluded.created_at`,
		r.ResultID, r.VersionID, string(r.NewInterpretation), r.WasRecomputed,
		r.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upserting reinterpretation: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil && id > 0 {
		r.ID = id
	}
	return nil
}

// ReinterpretationsByResult lists the reinterpretations of a result.
func (s *Store) ReinterpretationsByResult(ctx context.Context, resultID int64) ([]*domain.Reinterpretation, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, result_id, version_id, new_interpretation, was_recomputed, created_at
		FROM reinterpretations WHERE result_id = ? ORDER BY id`, resultID)
	if err != nil {
		return nil, fmt.Errorf("loading reinterpretations: %w", err)
	}
	defer rows.Close()

	var out []*domain.Reinterpretation
	for rows.Next() {
		ri := &domain.Reinterpretation{}
		var interp, created string
		if err := rows.Scan(&ri.ID, &ri.ResultID, &ri.VersionID, &interp, &ri.WasRecomputed, &created); err != nil {
			return nil, err
		}
		ri.NewInterpretation = domain.Interpretation(interp)
		if t, err := time.Parse(time.RFC3339, created); err == nil {
			ri.CreatedAt = t
		}
		out = append(out, ri)
	}
	return out, rows.Err()
}

// IsolatesByRecordOrganism prefetches isolates with results.
func (s *Store) IsolatesByRecordOrganism(ctx context.Context, recordID, tenantOrganismID int64) ([]*store.IsolateDetail, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, tenant_id, record_id, tenant_organism_id, version_id, mechanism_ids, subtype_ids
		FROM isolates WHERE record_id = ? AND tenant_organism_id = ? ORDER BY id`,
		recordID, tenantOrganismID)
	if err != nil {
		return nil, fmt.Errorf("loading isolates: %w", err)
	}
	isolates, err := scanIsolateRows(rows)
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
		WHERE i.tenant_id = ? AND r.date BETWEEN ? AND ?
		  AND (? IS NULL OR i.tenant_organism_id = ?)
		ORDER BY i.id`
	var torg any
	if w.TenantOrganismID != nil {
		torg = *w.TenantOrganismID
	}
	rows, err := s.q.QueryContext(ctx, query, w.TenantID,
		w.From.Format(dateLayout), w.To.Format(dateLayout), torg, torg)
	if err != nil {
		return nil, fmt.Errorf("loading window isolates: %w", err)
	}
	isolates, err := scanIsolateRows(rows)
	if err != nil {
		return nil, err
	}
	return s.attachDetails(ctx, isolates)
}

// FirstIsolates ranks by (patient hash, date) and keeps rank 1.
func (s *Store) FirstIsolates(ctx context.Context, w store.Window) ([]*store.IsolateDetail, error) {
	query := `
		SELECT id, tenant_id, record_id, tenant_organism_id, version_id, mechanism_ids, subtype_ids
		FROM (
			SELECT i.*, ROW_NUMBER() OVER (
				PARTITION BY r.patient_hash ORDER BY r.date ASC, i.id ASC
			) AS rank
			FROM isolates i
			JOIN records r ON r.id = i.record_id
			WHERE i.tenant_id = ? AND r.date BETWEEN ? AND ?
			  AND (? IS NULL OR i.tenant_organism_id = ?)
		)
		WHERE rank = 1
		ORDER BY id`
	var torg any
	if w.TenantOrganismID != nil {
		torg = *w.TenantOrganismID
	}
	rows, err := s.q.QueryContext(ctx, query, w.TenantID,
		w.From.Format(dateLayout), w.To.Format(dateLayout), torg, torg)
	if err != nil {
		return nil, fmt.Errorf("loading first isolates: %w", err)
	}
	isolates, err := scanIsolateRows(rows)
	if err != nil {
		return nil, err
	}
	return s.attachDetails(ctx, isolates)
}

func scanIsolateRows(rows *sql.Rows) ([]*domain.Isolate, error) {
	defer rows.Close()
	var out []*domain.Isolate
	for rows.Next() {
		iso := &domain.Isolate{}
		var mechs, subs string
		if err := rows.Scan(&iso.ID, &iso.TenantID, &iso.RecordID, &iso.TenantOrganismID,
			&iso.VersionID, &mechs, &subs); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(mechs), &iso.MechanismIDs); err != nil {
			return nil, fmt.Errorf("decoding mechanism ids: %w", err)
		}
		if err := json.Unmarshal([]byte(subs), &iso.SubtypeIDs); err != nil {
			return nil, fmt.Errorf("decoding subtype ids: %w", err)
		}
		out = append(out, iso)
	}
	return out, rows.Err()
}

func (s *Store) attachDetails(ctx context.Context, isolates []*domain.Isolate) ([]*store.IsolateDetail, error) {
	out := make([]*store.IsolateDetail, 0, len(isolates))
	for _, iso := range isolates {
		rows, err := s.q.QueryContext(ctx, `
			SELECT id, tenant_id, date, patient_hash, age, sex_id, scope_id, service_id, sample_type_id
			FROM records WHERE id = ?`, iso.RecordID)
		if err != nil {
			return nil, err
		}
		var rec *domain.Record
		if rows.Next() {
			rec, err = scanRecordRows(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
		}
		rows.Close()
		if rec == nil {
			return nil, fmt.Errorf("record %d: %w", iso.RecordID, domain.ErrNotFound)
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

func orEmpty(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}

var _ store.Store = (*Store)(nil)

// Package store defines the persistence contract of the engine: catalog
// loading, CRUD on the clinical entities, the first-isolate window query
// and the prefetching joins the analytical layers need. Three
// implementations exist: memory (reference), postgres and sqlite.
package store

import (
	"context"
	"time"

	"github.com/sensibyte/SensiByte/internal/domain"
)

// IsolateDetail is an isolate prefetched with its record, its results and
// any reinterpretations of those results.
type IsolateDetail struct {
	Isolate *domain.Isolate
	Record  *domain.Record
	Results []*domain.Result

	// Reinterps maps result id -> version id -> reinterpretation.
	Reinterps map[int64]map[int64]*domain.Reinterpretation
}

// Window restricts a query to a tenant, an optional organism overlay and a
// closed date range.
type Window struct {
	TenantID         int64
	TenantOrganismID *int64
	From, To         time.Time
}

// CatalogStore loads the global catalog and the per-tenant overlays. Both
// are recomputed at job start and treated as read-only within a job.
type CatalogStore interface {
	LoadCatalog(ctx context.Context) (*domain.Catalog, error)
	LoadTenantCatalog(ctx context.Context, tenantID int64) (*domain.TenantCatalog, error)
	Mechanisms(ctx context.Context) (map[int64]*domain.ResistanceMechanism, error)
	Subtypes(ctx context.Context) (map[int64]*domain.MechanismSubtype, error)
}

// RecordStore persists patient encounters. Deleting a record cascades to
// its isolates, their results and their reinterpretations.
type RecordStore interface {
	FindRecords(ctx context.Context, tenantID int64, key domain.RecordKey) ([]*domain.Record, error)
	CreateRecord(ctx context.Context, r *domain.Record) error
	DeleteRecord(ctx context.Context, id int64) error

	// DeleteOrphanRecords removes records without isolates and returns how
	// many were deleted. Run after every load.
	DeleteOrphanRecords(ctx context.Context, tenantID int64) (int, error)
}

// IsolateStore persists isolates and serves the dedup and window queries.
type IsolateStore interface {
	CreateIsolate(ctx context.Context, iso *domain.Isolate) error
	IsolatesByRecordOrganism(ctx context.Context, recordID, tenantOrganismID int64) ([]*IsolateDetail, error)
	IsolatesInWindow(ctx context.Context, w Window) ([]*IsolateDetail, error)

	// FirstIsolates applies first-isolate-per-patient deduplication inside
	// the window: isolates are ranked by ascending record date partitioned
	// by patient hash and only rank 1 survives.
	FirstIsolates(ctx context.Context, w Window) ([]*IsolateDetail, error)
}

// ResultStore persists susceptibility results.
type ResultStore interface {
	CreateResult(ctx context.Context, r *domain.Result) error
	ResultsByIsolate(ctx context.Context, isolateID int64) ([]*domain.Result, error)
	DeleteResult(ctx context.Context, id int64) error
}

// ReinterpretationStore persists reinterpretations. Upsert keeps the
// (result, version) pair unique.
type ReinterpretationStore interface {
	UpsertReinterpretation(ctx context.Context, r *domain.Reinterpretation) error
	ReinterpretationsByResult(ctx context.Context, resultID int64) ([]*domain.Reinterpretation, error)
}

// Store is the full persistence contract. WithinTx runs fn atomically; the
// memory implementation calls fn directly, without locking or rollback.
type Store interface {
	CatalogStore
	RecordStore
	IsolateStore
	ResultStore
	ReinterpretationStore

	WithinTx(ctx context.Context, fn func(Store) error) error
	Close() error
}

// Package store provides the unit-of-work persistence used by every work-order
// operation. Update runs a function atomically: either all of its writes commit
// or none do. MemoryStore and SQLStore (Postgres, SQLite) implement Store.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Mindburn-Labs/reportdesk/pkg/contracts"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when an insert violates a uniqueness rule.
	ErrDuplicate = errors.New("store: duplicate")
	// ErrUnsupported is returned when the schema lacks an optional table.
	ErrUnsupported = errors.New("store: not supported by schema")

	errReadOnly = errors.New("store: write in read-only transaction")
)

// Store runs units of work.
type Store interface {
	// Update runs fn in a read-write transaction. A non-nil error rolls back.
	Update(ctx context.Context, fn func(Tx) error) error
	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(Tx) error) error
	// Features reports the optional capabilities of the underlying schema.
	Features() Features
	Close() error
}

// Features are optional schema capabilities, fixed when the store is opened.
type Features struct {
	SchemaVersion      int
	FieldEvidenceLinks bool
	Comments           bool
}

// AllFeatures enables every optional capability.
func AllFeatures() Features {
	return Features{SchemaVersion: LatestSchemaVersion, FieldEvidenceLinks: true, Comments: true}
}

// FeaturesForSchema derives capabilities from an applied schema version.
func FeaturesForSchema(version int) Features {
	return Features{
		SchemaVersion:      version,
		FieldEvidenceLinks: version >= 2,
		Comments:           version >= 2,
	}
}

// WorkOrderFilter narrows ListWorkOrders.
type WorkOrderFilter struct {
	TenantID string
	Status   contracts.Status
	Limit    int
	Offset   int
}

// Tx exposes the typed repositories available inside a unit of work.
type Tx interface {
	GetWorkOrder(ctx context.Context, id string) (*contracts.WorkOrder, error)
	// LockWorkOrder reads a work order and holds its row until the unit of work ends.
	LockWorkOrder(ctx context.Context, id string) (*contracts.WorkOrder, error)
	InsertWorkOrder(ctx context.Context, wo *contracts.WorkOrder) error
	UpdateWorkOrder(ctx context.Context, wo *contracts.WorkOrder) error
	ListWorkOrders(ctx context.Context, f WorkOrderFilter) ([]*contracts.WorkOrder, error)

	LatestSnapshot(ctx context.Context, workOrderID string) (*contracts.ContractSnapshot, error)
	LatestSnapshotOfKind(ctx context.Context, workOrderID string, kind contracts.SnapshotKind) (*contracts.ContractSnapshot, error)
	GetSnapshot(ctx context.Context, id string) (*contracts.ContractSnapshot, error)
	// InsertSnapshot fails with ErrDuplicate when the version is taken.
	InsertSnapshot(ctx context.Context, s *contracts.ContractSnapshot) error
	ListSnapshots(ctx context.Context, workOrderID string) ([]*contracts.ContractSnapshot, error)

	UpsertEvidence(ctx context.Context, e *contracts.EvidenceItem) error
	GetEvidence(ctx context.Context, id string) (*contracts.EvidenceItem, error)
	ListEvidence(ctx context.Context, workOrderID string) ([]*contracts.EvidenceItem, error)

	// UpsertLink returns the stored link; re-linking the same tuple returns the existing row.
	UpsertLink(ctx context.Context, l *contracts.FieldEvidenceLink) (*contracts.FieldEvidenceLink, error)
	DeleteLink(ctx context.Context, workOrderID, linkID string) error
	ListLinks(ctx context.Context, workOrderID, snapshotID string) ([]*contracts.FieldEvidenceLink, error)

	InsertRulesRun(ctx context.Context, r *contracts.RulesRun) error
	ListRulesRuns(ctx context.Context, workOrderID string) ([]*contracts.RulesRun, error)

	InsertPack(ctx context.Context, p *contracts.ReportPack) error
	GetPack(ctx context.Context, id string) (*contracts.ReportPack, error)
	UpdatePackStatus(ctx context.Context, id string, status contracts.PackStatus, at time.Time) error
	InsertArtifact(ctx context.Context, a *contracts.PackArtifact) error

	// InsertJob returns the existing job and created=false when (tenant, key) is taken.
	InsertJob(ctx context.Context, j *contracts.GenerationJob) (job *contracts.GenerationJob, created bool, err error)
	GetJob(ctx context.Context, id string) (*contracts.GenerationJob, error)
	LockJob(ctx context.Context, id string) (*contracts.GenerationJob, error)
	GetJobByKey(ctx context.Context, tenantID, key string) (*contracts.GenerationJob, error)
	JobForPack(ctx context.Context, packID string) (*contracts.GenerationJob, error)
	UpdateJob(ctx context.Context, j *contracts.GenerationJob) error

	// InsertRelease returns the existing release and created=false when (tenant, key) is taken.
	InsertRelease(ctx context.Context, r *contracts.DeliverableRelease) (rel *contracts.DeliverableRelease, created bool, err error)
	GetReleaseByKey(ctx context.Context, tenantID, key string) (*contracts.DeliverableRelease, error)
	ListReleases(ctx context.Context, workOrderID string) ([]*contracts.DeliverableRelease, error)

	InsertComment(ctx context.Context, c *contracts.Comment) error
	ListComments(ctx context.Context, workOrderID string) ([]*contracts.Comment, error)
}

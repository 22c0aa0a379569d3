// Package workorder implements work-order intake, lookup, the status state
// machine with its readiness and billing gates, and work-order comments.
package workorder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/reportdesk/pkg/billing"
	"github.com/Mindburn-Labs/reportdesk/pkg/contracts"
	"github.com/Mindburn-Labs/reportdesk/pkg/evidence"
	"github.com/Mindburn-Labs/reportdesk/pkg/lock"
	"github.com/Mindburn-Labs/reportdesk/pkg/observability"
	"github.com/Mindburn-Labs/reportdesk/pkg/snapshot"
	"github.com/Mindburn-Labs/reportdesk/pkg/store"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// CreateInput is the intake request.
type CreateInput struct {
	Source            contracts.Source `json:"source"`
	ReportType        string           `json:"report_type"`
	BankName          string           `json:"bank_name"`
	BankType          string           `json:"bank_type"`
	ValueSlab         string           `json:"value_slab,omitempty"`
	TemplateSelector  string           `json:"template_selector,omitempty"`
	EvidenceProfileID string           `json:"evidence_profile_id,omitempty"`
}

// ListFilter narrows List. An empty Status lists every status.
type ListFilter struct {
	Status string
	Limit  int
	Offset int
}

// Detail is the read model of one work order.
type Detail struct {
	WorkOrder      *contracts.WorkOrder        `json:"work_order"`
	LatestSnapshot *contracts.ContractSnapshot `json:"latest_snapshot,omitempty"`
	Readiness      contracts.Readiness         `json:"readiness"`
	Pack           *contracts.ReportPack       `json:"pack,omitempty"`
}

// Service implements the work-order operations.
type Service struct {
	store     store.Store
	locker    lock.Locker
	billing   billing.Control
	evidence  *evidence.Service
	snapshots *snapshot.Service
	obs       *observability.Provider
	clock     func() time.Time
	log       *slog.Logger
}

type Option func(*Service)

func WithObservability(p *observability.Provider) Option { return func(s *Service) { s.obs = p } }

func WithClock(clock func() time.Time) Option { return func(s *Service) { s.clock = clock } }

func NewService(st store.Store, locker lock.Locker, bc billing.Control, ev *evidence.Service, snaps *snapshot.Service, opts ...Option) *Service {
	s := &Service{
		store:     st,
		locker:    locker,
		billing:   bc,
		evidence:  ev,
		snapshots: snaps,
		clock:     time.Now,
		log:       slog.Default().With("component", "workorder"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Create registers a new DRAFT work order owned by the actor's tenant.
func (s *Service) Create(ctx context.Context, actor contracts.Actor, in CreateInput) (d *Detail, err error) {
	ctx, done := s.obs.TrackOperation(ctx, "workorder.create", attribute.String("tenant_id", actor.TenantID))
	defer func() { done(err) }()

	wo, err := s.newWorkOrder(actor, in)
	if err != nil {
		return nil, err
	}
	if wo.EvidenceProfileID != "" {
		_, ok, err := s.evidence.Profiles().Profile(ctx, wo.EvidenceProfileID)
		if err != nil {
			return nil, contracts.Upstream("evidence profiles", err)
		}
		if !ok {
			return nil, &contracts.ValidationError{Field: "evidence_profile_id", Detail: fmt.Sprintf("unknown evidence profile %q", wo.EvidenceProfileID)}
		}
	} else if _, err := s.evidence.AssignDefaultProfile(ctx, wo); err != nil {
		return nil, err
	}

	err = s.store.Update(ctx, func(tx store.Tx) error {
		if err := tx.InsertWorkOrder(ctx, wo); err != nil {
			return err
		}
		d, err = s.detail(ctx, tx, wo)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "work order created",
		"work_order_id", wo.ID,
		"tenant_id", wo.TenantID,
		"report_type", wo.ReportType,
		"evidence_profile_id", wo.EvidenceProfileID,
	)
	return d, nil
}

func (s *Service) newWorkOrder(actor contracts.Actor, in CreateInput) (*contracts.WorkOrder, error) {
	if actor.TenantID == "" {
		return nil, &contracts.ValidationError{Field: "tenant_id", Detail: "actor has no tenant"}
	}
	reportType := strings.ToUpper(strings.TrimSpace(in.ReportType))
	if reportType == "" {
		return nil, &contracts.ValidationError{Field: "report_type", Detail: "is required"}
	}
	if strings.TrimSpace(in.BankName) == "" {
		return nil, &contracts.ValidationError{Field: "bank_name", Detail: "is required"}
	}
	if strings.TrimSpace(in.BankType) == "" {
		return nil, &contracts.ValidationError{Field: "bank_type", Detail: "is required"}
	}
	src := in.Source
	switch src.Kind {
	case "":
		src.Kind = contracts.SourceTenant
	case contracts.SourceTenant, contracts.SourceExternal, contracts.SourceChannel:
	default:
		return nil, &contracts.ValidationError{Field: "source.kind", Detail: fmt.Sprintf("unknown source kind %q", src.Kind)}
	}
	now := s.clock().UTC()
	return &contracts.WorkOrder{
		ID:                uuid.New().String(),
		TenantID:          actor.TenantID,
		Source:            src,
		ReportType:        reportType,
		BankName:          strings.TrimSpace(in.BankName),
		BankType:          strings.ToUpper(strings.TrimSpace(in.BankType)),
		ValueSlab:         in.ValueSlab,
		TemplateSelector:  in.TemplateSelector,
		Status:            contracts.StatusDraft,
		EvidenceProfileID: in.EvidenceProfileID,
		CreatedBy:         actor.ID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// Get returns the work order with its latest output snapshot, readiness
// recomputed against current evidence, and linked pack.
func (s *Service) Get(ctx context.Context, actor contracts.Actor, id string) (*Detail, error) {
	var d *Detail
	err := s.store.View(ctx, func(tx store.Tx) error {
		wo, err := store.LoadWorkOrder(ctx, tx, actor, id, false)
		if err != nil {
			return err
		}
		d, err = s.detail(ctx, tx, wo)
		return err
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) detail(ctx context.Context, tx store.Tx, wo *contracts.WorkOrder) (*Detail, error) {
	ready, snap, err := s.snapshots.CurrentReadiness(ctx, tx, wo)
	if err != nil {
		return nil, err
	}
	d := &Detail{WorkOrder: wo, LatestSnapshot: snap, Readiness: ready}
	if wo.PackID != "" {
		if d.Pack, err = tx.GetPack(ctx, wo.PackID); err != nil {
			return nil, store.AsNotFound(err, "report_pack", wo.PackID)
		}
	}
	return d, nil
}

// List returns the tenant's work orders, newest first.
func (s *Service) List(ctx context.Context, actor contracts.Actor, f ListFilter) ([]*contracts.WorkOrder, error) {
	if actor.TenantID == "" {
		return nil, &contracts.ValidationError{Field: "tenant_id", Detail: "actor has no tenant"}
	}
	filter := store.WorkOrderFilter{TenantID: actor.TenantID, Limit: f.Limit, Offset: f.Offset}
	if f.Status != "" {
		st, err := contracts.ParseStatus(strings.ToUpper(f.Status))
		if err != nil {
			return nil, err
		}
		filter.Status = st
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = DefaultListLimit
	case filter.Limit > MaxListLimit:
		filter.Limit = MaxListLimit
	}
	if filter.Offset < 0 {
		return nil, &contracts.ValidationError{Field: "offset", Detail: "must not be negative"}
	}

	var out []*contracts.WorkOrder
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.ListWorkOrders(ctx, filter)
		return err
	})
	if out == nil {
		out = []*contracts.WorkOrder{}
	}
	return out, err
}

// Package release applies the billing gate to a completed pack and records
// one auditable release decision per idempotency key.
package release

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/reportdesk/pkg/billing"
	"github.com/Mindburn-Labs/reportdesk/pkg/contracts"
	"github.com/Mindburn-Labs/reportdesk/pkg/factory"
	"github.com/Mindburn-Labs/reportdesk/pkg/lock"
	"github.com/Mindburn-Labs/reportdesk/pkg/logging"
	"github.com/Mindburn-Labs/reportdesk/pkg/observability"
	"github.com/Mindburn-Labs/reportdesk/pkg/store"
)

// Request asks to release the deliverables of a work order's pack.
type Request struct {
	IdempotencyKey string `json:"idempotency_key"`
	Override       bool   `json:"override,omitempty"`
	OverrideReason string `json:"override_reason,omitempty"`
}

// Result carries the recorded decision and the refreshed pack view. A BLOCKED
// gate is a normal result, not an error.
type Result struct {
	Release    *contracts.DeliverableRelease `json:"release"`
	Idempotent bool                          `json:"idempotent"`
	View       *factory.View                 `json:"view"`
}

// ConsumeKey is the credit-consumption idempotency key for a release key.
func ConsumeKey(idempotencyKey string) string {
	return "release:" + idempotencyKey
}

type Service struct {
	store   store.Store
	locker  lock.Locker
	billing billing.Control
	factory *factory.Service
	obs     *observability.Provider
	clock   func() time.Time
	log     *slog.Logger
}

type Option func(*Service)

func WithObservability(p *observability.Provider) Option { return func(s *Service) { s.obs = p } }

func WithClock(clock func() time.Time) Option { return func(s *Service) { s.clock = clock } }

func NewService(st store.Store, locker lock.Locker, bc billing.Control, fs *factory.Service, opts ...Option) *Service {
	s := &Service{
		store:   st,
		locker:  locker,
		billing: bc,
		factory: fs,
		clock:   time.Now,
		log:     slog.Default().With("component", "release"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ReleaseDeliverables evaluates the billing gate for the work order's pack and
// records the decision. Replaying a key returns the stored decision.
func (s *Service) ReleaseDeliverables(ctx context.Context, actor contracts.Actor, workOrderID string, req Request) (res *Result, err error) {
	ctx, done := s.obs.TrackOperation(ctx, "release.deliverables", attribute.String("work_order_id", workOrderID))
	defer func() { done(err) }()

	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.IdempotencyKey == "" {
		return nil, &contracts.ValidationError{Field: "idempotency_key", Detail: "is required"}
	}
	req.OverrideReason = strings.TrimSpace(req.OverrideReason)

	err = lock.With(ctx, s.locker, lock.Key("workorder", workOrderID), func() error {
		return s.store.Update(ctx, func(tx store.Tx) error {
			var err error
			res, err = s.release(ctx, tx, actor, workOrderID, req)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	rel := res.Release
	switch {
	case res.Idempotent:
		s.log.DebugContext(ctx, "release replayed", "work_order_id", workOrderID, "release_id", rel.ID, "key", rel.IdempotencyKey)
	case rel.Blocked():
		s.log.InfoContext(ctx, "release blocked by billing gate", "work_order_id", workOrderID, "mode", rel.BillingMode)
	default:
		s.log.InfoContext(ctx, "deliverables released",
			"work_order_id", workOrderID,
			"release_id", rel.ID,
			"gate", rel.GateResult,
			"mode", rel.BillingMode,
			"actor", actor.ID,
		)
	}
	return res, nil
}

func (s *Service) release(ctx context.Context, tx store.Tx, actor contracts.Actor, workOrderID string, req Request) (*Result, error) {
	wo, err := store.LoadWorkOrder(ctx, tx, actor, workOrderID, true)
	if err != nil {
		return nil, err
	}

	prior, err := tx.GetReleaseByKey(ctx, wo.TenantID, req.IdempotencyKey)
	switch {
	case err == nil:
		return s.replay(ctx, tx, wo, prior)
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	if wo.PackID == "" {
		return nil, &contracts.ConflictError{Detail: "work order has no report pack"}
	}
	view, err := s.factory.LoadView(ctx, tx, wo)
	if err != nil {
		return nil, err
	}
	if view.Job == nil || view.Job.Status != contracts.JobCompleted {
		status := "missing"
		if view.Job != nil {
			status = string(view.Job.Status)
		}
		return nil, &contracts.ConflictError{Detail: fmt.Sprintf("generation job is %s; deliverables need a completed job", status)}
	}

	rel := &contracts.DeliverableRelease{
		ID:             uuid.New().String(),
		TenantID:       wo.TenantID,
		WorkOrderID:    wo.ID,
		PackID:         wo.PackID,
		ReleasedBy:     actor.ID,
		ReleasedAt:     s.clock().UTC(),
		BillingMode:    wo.Billing.Mode,
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       map[string]any{"job_id": view.Job.ID},
	}
	if rid := logging.RequestID(ctx); rid != "" {
		rel.Metadata["request_id"] = rid
	}
	if err := s.gate(ctx, wo, req, rel); err != nil {
		return nil, err
	}

	stored, created, err := tx.InsertRelease(ctx, rel)
	if err != nil {
		return nil, err
	}
	if !created {
		return s.replay(ctx, tx, wo, stored)
	}
	if view, err = s.factory.LoadView(ctx, tx, wo); err != nil {
		return nil, err
	}
	return &Result{Release: stored, View: view}, nil
}

// gate fills GateResult, LedgerRef and OverrideReason on rel.
func (s *Service) gate(ctx context.Context, wo *contracts.WorkOrder, req Request, rel *contracts.DeliverableRelease) error {
	switch wo.Billing.Mode {
	case contracts.BillingModeCredit:
		ref, err := s.billing.ConsumeCredits(ctx, ConsumeKey(req.IdempotencyKey), billing.ConsumeRequest{
			TenantID:      wo.TenantID,
			AccountID:     wo.Billing.AccountID,
			ReservationID: wo.Billing.ReservationID,
			WorkOrderID:   wo.ID,
		})
		if err != nil {
			s.log.ErrorContext(ctx, "credit consumption failed", "work_order_id", wo.ID, "error", err)
			return contracts.Upstream("billing", err)
		}
		rel.GateResult = contracts.GateCreditConsumed
		rel.LedgerRef = ref
		return nil

	case contracts.BillingModePostpaid:
		inv, err := s.billing.GetServiceInvoice(ctx, wo.Billing.ServiceInvoiceID)
		if err != nil {
			s.log.ErrorContext(ctx, "invoice lookup failed", "work_order_id", wo.ID, "invoice_id", wo.Billing.ServiceInvoiceID, "error", err)
			return contracts.Upstream("billing", err)
		}
		rel.Metadata["invoice_id"] = inv.ID
		rel.Metadata["invoice_status"] = inv.Status
		if inv.IsPaid {
			rel.GateResult = contracts.GatePaid
			return nil
		}
	}
	return s.override(req, rel)
}

func (s *Service) override(req Request, rel *contracts.DeliverableRelease) error {
	if !req.Override {
		rel.GateResult = contracts.GateBlocked
		return nil
	}
	if req.OverrideReason == "" {
		return &contracts.ValidationError{Field: "override_reason", Detail: "is required when overriding the billing gate"}
	}
	rel.GateResult = contracts.GateOverride
	rel.OverrideReason = req.OverrideReason
	return nil
}

func (s *Service) replay(ctx context.Context, tx store.Tx, wo *contracts.WorkOrder, prior *contracts.DeliverableRelease) (*Result, error) {
	if prior.WorkOrderID != wo.ID {
		return nil, &contracts.ConflictError{Detail: fmt.Sprintf("idempotency key %q belongs to another work order", prior.IdempotencyKey)}
	}
	res := &Result{Release: prior, Idempotent: true}
	if wo.PackID != "" {
		v, err := s.factory.LoadView(ctx, tx, wo)
		if err != nil {
			return nil, err
		}
		res.View = v
	}
	return res, nil
}

// History lists every release decision for a work order, oldest first.
func (s *Service) History(ctx context.Context, actor contracts.Actor, workOrderID string) ([]*contracts.DeliverableRelease, error) {
	var out []*contracts.DeliverableRelease
	err := s.store.View(ctx, func(tx store.Tx) error {
		if _, err := store.LoadWorkOrder(ctx, tx, actor, workOrderID, false); err != nil {
			return err
		}
		var err error
		out, err = tx.ListReleases(ctx, workOrderID)
		return err
	})
	return out, err
}

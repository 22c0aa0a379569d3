package workorder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/reportdesk/pkg/billing"
	"github.com/Mindburn-Labs/reportdesk/pkg/contracts"
	"github.com/Mindburn-Labs/reportdesk/pkg/lock"
	"github.com/Mindburn-Labs/reportdesk/pkg/store"
)

// Hook log keys on the work order billing snapshot.
const (
	HookAcceptance         = "acceptance"
	HookPlannedConsumption = "planned_consumption"
)

var transitions = map[contracts.Status][]contracts.Status{
	contracts.StatusDraft:           {contracts.StatusEvidencePending, contracts.StatusDataPending, contracts.StatusCancelled},
	contracts.StatusEvidencePending: {contracts.StatusDataPending, contracts.StatusCancelled},
	contracts.StatusDataPending:     {contracts.StatusReadyForRender, contracts.StatusCancelled, contracts.StatusClosed},
	contracts.StatusReadyForRender:  {contracts.StatusClosed, contracts.StatusCancelled},
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to contracts.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// PlannedConsumptionKey is the usage-event idempotency key for a work order.
func PlannedConsumptionKey(workOrderID string) string {
	return "planned-consumption:" + workOrderID
}

// Transition moves a work order to target. Moving to the current status is a
// no-op. Gates, billing hooks, the status write and the audit comment commit
// together or not at all.
func (s *Service) Transition(ctx context.Context, actor contracts.Actor, id string, target contracts.Status, note string) (d *Detail, err error) {
	ctx, done := s.obs.TrackOperation(ctx, "workorder.transition",
		attribute.String("work_order_id", id), attribute.String("target", string(target)))
	defer func() { done(err) }()

	if !target.Valid() {
		return nil, &contracts.ValidationError{Field: "status", Detail: fmt.Sprintf("unknown status %q", target)}
	}
	var from contracts.Status
	err = lock.With(ctx, s.locker, lock.Key("workorder", id), func() error {
		return s.store.Update(ctx, func(tx store.Tx) error {
			wo, err := store.LoadWorkOrder(ctx, tx, actor, id, true)
			if err != nil {
				return err
			}
			from = wo.Status
			if from != target {
				if err := s.apply(ctx, tx, actor, wo, target, note); err != nil {
					return err
				}
			}
			d, err = s.detail(ctx, tx, wo)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	if from == target {
		s.log.DebugContext(ctx, "transition is a no-op", "work_order_id", id, "status", target)
	} else {
		s.log.InfoContext(ctx, "work order transitioned", "work_order_id", id, "from", from, "to", target, "actor", actor.ID)
	}
	return d, nil
}

func (s *Service) apply(ctx context.Context, tx store.Tx, actor contracts.Actor, wo *contracts.WorkOrder, target contracts.Status, note string) error {
	from := wo.Status
	if !CanTransition(from, target) {
		return &contracts.InvalidTransitionError{From: from, To: target}
	}
	now := s.clock().UTC()

	if target == contracts.StatusReadyForRender {
		ready, snap, err := s.snapshots.CurrentReadiness(ctx, tx, wo)
		if err != nil {
			return err
		}
		if snap == nil || !ready.Complete() {
			return &contracts.ReadinessBlockError{Readiness: ready}
		}
	}

	if target == contracts.StatusDataPending {
		if err := s.ensureAcceptance(ctx, wo, now); err != nil {
			return err
		}
	}

	if target == contracts.StatusReadyForRender && wo.Billing.AccountID != "" {
		if err := s.plannedConsumption(ctx, wo, now); err != nil {
			return err
		}
	}

	wo.Status = target
	wo.UpdatedAt = now
	if err := tx.UpdateWorkOrder(ctx, wo); err != nil {
		return err
	}

	body := fmt.Sprintf("status: %s -> %s", from, target)
	if note != "" {
		body += "\n" + note
	}
	err := tx.InsertComment(ctx, &contracts.Comment{
		ID:          uuid.New().String(),
		WorkOrderID: wo.ID,
		Author:      actor.ID,
		Body:        body,
		Kind:        contracts.CommentSystem,
		CreatedAt:   now,
	})
	if errors.Is(err, store.ErrUnsupported) {
		s.log.DebugContext(ctx, "comments not enabled; audit comment skipped", "work_order_id", wo.ID)
		return nil
	}
	return err
}

func (s *Service) ensureAcceptance(ctx context.Context, wo *contracts.WorkOrder, now time.Time) error {
	acc, err := s.billing.EnsureAcceptanceBilling(ctx, billing.WorkOrderRef{
		WorkOrderID: wo.ID,
		TenantID:    wo.TenantID,
		ReportType:  wo.ReportType,
		BankName:    wo.BankName,
		BankType:    wo.BankType,
		ValueSlab:   wo.ValueSlab,
	})
	if err != nil {
		s.log.ErrorContext(ctx, "acceptance billing failed", "work_order_id", wo.ID, "error", err)
		return contracts.Upstream("billing", err)
	}
	wo.Billing.Mode = acc.Mode
	wo.Billing.AccountID = acc.AccountID
	wo.Billing.ReservationID = acc.ReservationID
	wo.Billing.ServiceInvoiceID = acc.ServiceInvoiceID

	outcome := "ensured"
	if acc.Mode == contracts.BillingModeNone {
		outcome = "no_account"
	}
	setHook(wo, HookAcceptance, contracts.HookEntry{
		At:      now,
		Outcome: outcome,
		Data: map[string]any{
			"mode":               string(acc.Mode),
			"account_id":         acc.AccountID,
			"reservation_id":     acc.ReservationID,
			"service_invoice_id": acc.ServiceInvoiceID,
		},
	})
	s.log.InfoContext(ctx, "acceptance billing ensured", "work_order_id", wo.ID, "mode", acc.Mode, "account_id", acc.AccountID)
	return nil
}

func (s *Service) plannedConsumption(ctx context.Context, wo *contracts.WorkOrder, now time.Time) error {
	key := PlannedConsumptionKey(wo.ID)
	err := s.billing.IngestUsageEvent(ctx, billing.UsageEvent{
		TenantID:    wo.TenantID,
		AccountID:   wo.Billing.AccountID,
		WorkOrderID: wo.ID,
		EventType:   billing.EventPlannedConsumption,
		Quantity:    1,
		Timestamp:   now,
		Metadata: map[string]any{
			"report_type": wo.ReportType,
			"value_slab":  wo.ValueSlab,
		},
	}, key)
	if err != nil {
		s.log.ErrorContext(ctx, "planned consumption failed", "work_order_id", wo.ID, "error", err)
		return contracts.Upstream("billing", err)
	}
	setHook(wo, HookPlannedConsumption, contracts.HookEntry{
		At:      now,
		Outcome: "ingested",
		Data:    map[string]any{"idempotency_key": key, "account_id": wo.Billing.AccountID},
	})
	s.log.InfoContext(ctx, "planned consumption recorded", "work_order_id", wo.ID, "key", key)
	return nil
}

func setHook(wo *contracts.WorkOrder, name string, e contracts.HookEntry) {
	if wo.Billing.Hooks == nil {
		wo.Billing.Hooks = make(map[string]contracts.HookEntry)
	}
	wo.Billing.Hooks[name] = e
}

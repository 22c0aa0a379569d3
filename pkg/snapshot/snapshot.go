// Package snapshot implements the contract snapshot pipeline: every contract
// patch is merged, validated and stored as an input snapshot, run through the
// rules engine and stored again as an output snapshot carrying derived values
// and readiness. It also assembles the export bundle consumed by the factory.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/reportdesk/pkg/contracts"
	"github.com/Mindburn-Labs/reportdesk/pkg/document"
	"github.com/Mindburn-Labs/reportdesk/pkg/evidence"
	"github.com/Mindburn-Labs/reportdesk/pkg/lock"
	"github.com/Mindburn-Labs/reportdesk/pkg/observability"
	"github.com/Mindburn-Labs/reportdesk/pkg/rules"
	"github.com/Mindburn-Labs/reportdesk/pkg/store"
)

// PatchResult is returned by PatchContract.
type PatchResult struct {
	WorkOrder      *contracts.WorkOrder        `json:"work_order"`
	InputSnapshot  *contracts.ContractSnapshot `json:"input_snapshot"`
	OutputSnapshot *contracts.ContractSnapshot `json:"output_snapshot"`
	RulesRun       *contracts.RulesRun         `json:"rules_run"`
	Readiness      contracts.Readiness         `json:"readiness"`
}

// Service runs the snapshot pipeline.
type Service struct {
	store          store.Store
	locker         lock.Locker
	engine         rules.Engine
	evidence       *evidence.Service
	validator      *document.Validator
	documents      evidence.DocumentLookup
	rulesetVersion string
	obs            *observability.Provider
	clock          func() time.Time
	log            *slog.Logger
}

type Option func(*Service)

// WithRulesetVersion sets the semver constraint passed to the engine. The
// default, empty, selects the latest registered ruleset.
func WithRulesetVersion(v string) Option { return func(s *Service) { s.rulesetVersion = v } }

func WithValidator(v *document.Validator) Option { return func(s *Service) { s.validator = v } }

func WithDocumentLookup(l evidence.DocumentLookup) Option { return func(s *Service) { s.documents = l } }

func WithObservability(p *observability.Provider) Option { return func(s *Service) { s.obs = p } }

func WithClock(clock func() time.Time) Option { return func(s *Service) { s.clock = clock } }

func NewService(st store.Store, locker lock.Locker, engine rules.Engine, ev *evidence.Service, opts ...Option) *Service {
	s := &Service{
		store:     st,
		locker:    locker,
		engine:    engine,
		evidence:  ev,
		documents: evidence.NoopLookup{},
		clock:     time.Now,
		log:       slog.Default().With("component", "snapshot"),
	}
	for _, o := range opts {
		o(s)
	}
	if s.validator == nil {
		s.validator = document.MustValidator()
	}
	return s
}

func identity(wo *contracts.WorkOrder) document.Identity {
	return document.Identity{ReportType: wo.ReportType, BankType: wo.BankType, BankName: wo.BankName}
}

// PatchContract merges patch onto the latest contract and writes the input
// and output snapshots, the rules run and any work-order refinements in one
// unit of work. Nothing is written when validation or the rules engine fails.
func (s *Service) PatchContract(ctx context.Context, actor contracts.Actor, workOrderID string, patch document.Tree) (res *PatchResult, err error) {
	ctx, done := s.obs.TrackOperation(ctx, "snapshot.patch_contract", attribute.String("work_order_id", workOrderID))
	defer func() { done(err) }()

	if patch == nil {
		patch = document.Tree{}
	}
	err = lock.With(ctx, s.locker, lock.Key("workorder", workOrderID), func() error {
		return s.store.Update(ctx, func(tx store.Tx) error {
			var err error
			res, err = s.patch(ctx, tx, actor, workOrderID, patch)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "contract patched",
		"work_order_id", workOrderID,
		"input_version", res.InputSnapshot.Version,
		"output_version", res.OutputSnapshot.Version,
		"ruleset_version", res.RulesRun.RulesetVersion,
		"score", res.Readiness.CompletenessScore,
	)
	return res, nil
}

func (s *Service) patch(ctx context.Context, tx store.Tx, actor contracts.Actor, workOrderID string, patch document.Tree) (*PatchResult, error) {
	wo, err := store.LoadWorkOrder(ctx, tx, actor, workOrderID, true)
	if err != nil {
		return nil, err
	}
	if wo.Status.Terminal() {
		return nil, &contracts.ConflictError{Detail: fmt.Sprintf("work order is %s; contract is read-only", wo.Status)}
	}

	id := identity(wo)
	version := 0
	base := document.Default(id)
	latest, err := tx.LatestSnapshot(ctx, wo.ID)
	switch {
	case err == nil:
		version, base = latest.Version, latest.Contract
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	merged, err := document.Canonical(document.Merge(base, patch))
	if err != nil {
		return nil, &contracts.ValidationError{Field: "patch", Detail: err.Error()}
	}
	document.AssertIdentity(merged, id)
	if err := s.validator.Validate(wo.ReportType, merged); err != nil {
		return nil, err
	}

	now := s.clock().UTC()
	input := document.Clone(merged)
	document.Stamp(input, document.Audit{Version: version + 1, Actor: actor.ID, StampedAt: now})
	inSnap := &contracts.ContractSnapshot{
		ID:          uuid.New().String(),
		WorkOrderID: wo.ID,
		Version:     version + 1,
		Kind:        contracts.SnapshotInput,
		Contract:    input,
		CreatedBy:   actor.ID,
		CreatedAt:   now,
	}

	out, err := s.engine.Run(ctx, document.WithoutAudit(merged), s.rulesetVersion)
	if err != nil {
		return nil, &contracts.UpstreamError{Collaborator: "rules engine", Err: err}
	}
	outContract, err := document.Canonical(out.Contract)
	if err != nil {
		return nil, &contracts.UpstreamError{Collaborator: "rules engine", Err: err}
	}
	document.AssertIdentity(outContract, id)
	if err := s.validator.Validate(wo.ReportType, outContract); err != nil {
		return nil, &contracts.UpstreamError{Collaborator: "rules engine", Err: err}
	}
	derived, err := document.Canonical(out.Derived)
	if err != nil {
		return nil, &contracts.UpstreamError{Collaborator: "rules engine", Err: err}
	}
	document.Stamp(outContract, document.Audit{Version: version + 2, Actor: actor.ID, StampedAt: now})

	// Slab and template refine profile matching, and the profile must be
	// settled before readiness so later recomputations agree with it.
	changed := false
	if v := document.String(outContract, "meta.value_slab"); v != "" && v != wo.ValueSlab {
		wo.ValueSlab, changed = v, true
	}
	if v := document.String(outContract, "meta.template_selector"); v != "" && v != wo.TemplateSelector {
		wo.TemplateSelector, changed = v, true
	}
	profileAssigned, err := s.evidence.AssignDefaultProfile(ctx, wo)
	if err != nil {
		return nil, err
	}
	changed = changed || profileAssigned
	inputs, err := s.evidence.Gather(ctx, tx, wo)
	if err != nil {
		return nil, err
	}

	ready := inputs.Evaluate(wo.ReportType, outContract, out.WarningStrings())
	outSnap := &contracts.ContractSnapshot{
		ID:          uuid.New().String(),
		WorkOrderID: wo.ID,
		Version:     version + 2,
		Kind:        contracts.SnapshotOutput,
		Contract:    outContract,
		Derived:     derived,
		Readiness:   &ready,
		CreatedBy:   actor.ID,
		CreatedAt:   now,
	}
	for _, snap := range []*contracts.ContractSnapshot{inSnap, outSnap} {
		if err := tx.InsertSnapshot(ctx, snap); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return nil, &contracts.ConflictError{Detail: fmt.Sprintf("snapshot version %d already exists", snap.Version)}
			}
			return nil, err
		}
	}

	run := &contracts.RulesRun{
		ID:               uuid.New().String(),
		WorkOrderID:      wo.ID,
		InputSnapshotID:  inSnap.ID,
		OutputSnapshotID: outSnap.ID,
		RulesetVersion:   out.RulesetVersion,
		Warnings:         out.Warnings,
		Errors:           out.Errors,
		CreatedAt:        now,
	}
	if err := tx.InsertRulesRun(ctx, run); err != nil {
		return nil, err
	}

	if changed {
		wo.UpdatedAt = now
		if err := tx.UpdateWorkOrder(ctx, wo); err != nil {
			return nil, err
		}
	}

	return &PatchResult{
		WorkOrder:      wo,
		InputSnapshot:  inSnap,
		OutputSnapshot: outSnap,
		RulesRun:       run,
		Readiness:      ready,
	}, nil
}

// CurrentReadiness recomputes readiness of the latest output snapshot against
// the work order's current evidence, links and profile. Without a snapshot the
// default contract is evaluated and snap is nil.
func (s *Service) CurrentReadiness(ctx context.Context, tx store.Tx, wo *contracts.WorkOrder) (ready contracts.Readiness, snap *contracts.ContractSnapshot, err error) {
	contract := document.Default(identity(wo))
	var warnings []string
	snap, err = tx.LatestSnapshotOfKind(ctx, wo.ID, contracts.SnapshotOutput)
	switch {
	case err == nil:
		contract = snap.Contract
		if snap.Readiness != nil {
			warnings = snap.Readiness.Warnings
		}
	case errors.Is(err, store.ErrNotFound):
		snap = nil
	default:
		return contracts.Readiness{}, nil, err
	}
	inputs, err := s.evidence.Gather(ctx, tx, wo)
	if err != nil {
		return contracts.Readiness{}, nil, err
	}
	return inputs.Evaluate(wo.ReportType, contract, warnings), snap, nil
}

// History lists every snapshot and rules run of a work order.
type History struct {
	Snapshots []*contracts.ContractSnapshot `json:"snapshots"`
	RulesRuns []*contracts.RulesRun         `json:"rules_runs"`
}

func (s *Service) History(ctx context.Context, actor contracts.Actor, workOrderID string) (*History, error) {
	h := &History{}
	err := s.store.View(ctx, func(tx store.Tx) error {
		if _, err := store.LoadWorkOrder(ctx, tx, actor, workOrderID, false); err != nil {
			return err
		}
		var err error
		if h.Snapshots, err = tx.ListSnapshots(ctx, workOrderID); err != nil {
			return err
		}
		h.RulesRuns, err = tx.ListRulesRuns(ctx, workOrderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Package factory bridges render-ready work orders to the downstream render
// worker. It creates exactly one pack, one debug artifact and one queued
// generation job per work order, and records the job status reported back.
package factory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/reportdesk/pkg/artifacts"
	"github.com/Mindburn-Labs/reportdesk/pkg/canonicalize"
	"github.com/Mindburn-Labs/reportdesk/pkg/contracts"
	"github.com/Mindburn-Labs/reportdesk/pkg/lock"
	"github.com/Mindburn-Labs/reportdesk/pkg/logging"
	"github.com/Mindburn-Labs/reportdesk/pkg/observability"
	"github.com/Mindburn-Labs/reportdesk/pkg/snapshot"
	"github.com/Mindburn-Labs/reportdesk/pkg/store"
)

// errKeyRace means another unit of work committed a job under the same key
// between our lookup and insert.
var errKeyRace = errors.New("factory: idempotency key taken concurrently")

// QueuePayload is what the caller hands to the render queue.
type QueuePayload struct {
	JobID      string `json:"job_id"`
	PackID     string `json:"pack_id"`
	TenantID   string `json:"tenant_id"`
	RequestID  string `json:"request_id,omitempty"`
	BundleHash string `json:"bundle_hash"`
}

// View is the pack linked to a work order with its job and latest release.
type View struct {
	Pack          *contracts.ReportPack         `json:"pack"`
	Job           *contracts.GenerationJob      `json:"job,omitempty"`
	LatestRelease *contracts.DeliverableRelease `json:"latest_release,omitempty"`
}

// EnsureResult is returned by EnsureReportPack. Queue is nil on replays.
type EnsureResult struct {
	Idempotent bool          `json:"idempotent"`
	View       *View         `json:"view"`
	Queue      *QueuePayload `json:"queue,omitempty"`
}

type Service struct {
	store     store.Store
	locker    lock.Locker
	snapshots *snapshot.Service
	blobs     artifacts.Store
	obs       *observability.Provider
	clock     func() time.Time
	log       *slog.Logger
}

type Option func(*Service)

func WithObservability(p *observability.Provider) Option { return func(s *Service) { s.obs = p } }

func WithClock(clock func() time.Time) Option { return func(s *Service) { s.clock = clock } }

func NewService(st store.Store, locker lock.Locker, snaps *snapshot.Service, blobs artifacts.Store, opts ...Option) *Service {
	s := &Service{
		store:     st,
		locker:    locker,
		snapshots: snaps,
		blobs:     blobs,
		clock:     time.Now,
		log:       slog.Default().With("component", "factory"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// DefaultIdempotencyKey derives the job key from the work order and its
// template selector.
func DefaultIdempotencyKey(workOrderID, templateSelector string) string {
	sum := sha256.Sum256([]byte(workOrderID + "|" + templateSelector))
	return "wo-pack:" + hex.EncodeToString(sum[:])
}

// EnsureReportPack creates the pack and job for a render-ready work order, or
// returns the ones already linked.
func (s *Service) EnsureReportPack(ctx context.Context, actor contracts.Actor, workOrderID, requestID, idempotencyKey string) (res *EnsureResult, err error) {
	ctx, done := s.obs.TrackOperation(ctx, "factory.ensure_pack", attribute.String("work_order_id", workOrderID))
	defer func() { done(err) }()

	if requestID == "" {
		requestID = logging.RequestID(ctx)
	}
	err = lock.With(ctx, s.locker, lock.Key("workorder", workOrderID), func() error {
		res, err = s.ensure(ctx, actor, workOrderID, requestID, idempotencyKey)
		if errors.Is(err, errKeyRace) {
			s.log.DebugContext(ctx, "job key taken concurrently; retrying", "work_order_id", workOrderID)
			res, err = s.ensure(ctx, actor, workOrderID, requestID, idempotencyKey)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if res.Idempotent {
		s.log.DebugContext(ctx, "pack already linked", "work_order_id", workOrderID, "pack_id", res.View.Pack.ID)
	} else {
		s.log.InfoContext(ctx, "report pack created",
			"work_order_id", workOrderID,
			"pack_id", res.Queue.PackID,
			"job_id", res.Queue.JobID,
			"bundle_hash", res.Queue.BundleHash,
		)
	}
	return res, nil
}

func (s *Service) ensure(ctx context.Context, actor contracts.Actor, workOrderID, requestID, idempotencyKey string) (*EnsureResult, error) {
	var res *EnsureResult
	err := s.store.Update(ctx, func(tx store.Tx) error {
		wo, err := store.LoadWorkOrder(ctx, tx, actor, workOrderID, true)
		if err != nil {
			return err
		}
		if wo.PackID != "" {
			v, err := s.LoadView(ctx, tx, wo)
			if err != nil {
				return err
			}
			res = &EnsureResult{Idempotent: true, View: v}
			return nil
		}
		if wo.Status != contracts.StatusReadyForRender && wo.Status != contracts.StatusClosed {
			return &contracts.ConflictError{Detail: fmt.Sprintf("work order is %s; packs are created from %s", wo.Status, contracts.StatusReadyForRender)}
		}

		key := strings.TrimSpace(idempotencyKey)
		if key == "" {
			key = DefaultIdempotencyKey(wo.ID, wo.TemplateSelector)
		}
		existing, err := tx.GetJobByKey(ctx, wo.TenantID, key)
		switch {
		case err == nil:
			res, err = s.adopt(ctx, tx, wo, existing)
			return err
		case !errors.Is(err, store.ErrNotFound):
			return err
		}

		res, err = s.create(ctx, tx, wo, key, requestID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// adopt links a job created earlier under the same key.
func (s *Service) adopt(ctx context.Context, tx store.Tx, wo *contracts.WorkOrder, job *contracts.GenerationJob) (*EnsureResult, error) {
	pack, err := tx.GetPack(ctx, job.PackID)
	if err != nil {
		return nil, store.AsNotFound(err, "report_pack", job.PackID)
	}
	if pack.WorkOrderID != "" && pack.WorkOrderID != wo.ID {
		return nil, &contracts.ConflictError{Detail: fmt.Sprintf("idempotency key %q belongs to another work order", job.IdempotencyKey)}
	}
	wo.PackID = pack.ID
	wo.UpdatedAt = s.clock().UTC()
	if err := tx.UpdateWorkOrder(ctx, wo); err != nil {
		return nil, err
	}
	v, err := s.LoadView(ctx, tx, wo)
	if err != nil {
		return nil, err
	}
	return &EnsureResult{Idempotent: true, View: v}, nil
}

func (s *Service) create(ctx context.Context, tx store.Tx, wo *contracts.WorkOrder, key, requestID string) (*EnsureResult, error) {
	bundle, err := s.snapshots.BuildBundle(ctx, tx, wo)
	if err != nil {
		return nil, err
	}
	canonical, err := canonicalize.JCS(bundle)
	if err != nil {
		return nil, fmt.Errorf("factory: canonicalize bundle: %w", err)
	}
	hash := canonicalize.HashBytes(canonical)
	addr, err := s.blobs.Store(ctx, canonical)
	if err != nil {
		return nil, contracts.Upstream("artifact store", err)
	}

	now := s.clock().UTC()
	ctxSnap, err := json.Marshal(map[string]any{
		"snapshot_id":      bundle.SnapshotID,
		"snapshot_version": bundle.SnapshotVersion,
		"bundle_hash":      hash,
	})
	if err != nil {
		return nil, err
	}
	pack := &contracts.ReportPack{
		ID:              uuid.New().String(),
		TenantID:        wo.TenantID,
		WorkOrderID:     wo.ID,
		TemplateID:      templateID(wo),
		Family:          wo.ReportType,
		Version:         fmt.Sprintf("v%d", bundle.SnapshotVersion),
		Status:          contracts.PackDraft,
		Warnings:        bundle.Readiness.Warnings,
		ContextSnapshot: ctxSnap,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := tx.InsertPack(ctx, pack); err != nil {
		return nil, err
	}
	if err := tx.InsertArtifact(ctx, &contracts.PackArtifact{
		ID:          uuid.New().String(),
		PackID:      pack.ID,
		Kind:        contracts.ArtifactDebugBundle,
		StorageKey:  addr,
		ContentHash: hash,
		SizeBytes:   int64(len(canonical)),
		CreatedAt:   now,
	}); err != nil {
		return nil, err
	}

	job, created, err := tx.InsertJob(ctx, &contracts.GenerationJob{
		ID:             uuid.New().String(),
		TenantID:       wo.TenantID,
		IdempotencyKey: key,
		Status:         contracts.JobQueued,
		PackID:         pack.ID,
		Payload:        canonical,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, errKeyRace
	}

	wo.PackID = pack.ID
	wo.UpdatedAt = now
	if err := tx.UpdateWorkOrder(ctx, wo); err != nil {
		return nil, err
	}
	v, err := s.LoadView(ctx, tx, wo)
	if err != nil {
		return nil, err
	}
	return &EnsureResult{
		View: v,
		Queue: &QueuePayload{
			JobID:      job.ID,
			PackID:     pack.ID,
			TenantID:   wo.TenantID,
			RequestID:  requestID,
			BundleHash: hash,
		},
	}, nil
}

func templateID(wo *contracts.WorkOrder) string {
	if wo.TemplateSelector != "" {
		return wo.TemplateSelector
	}
	return strings.ToLower(wo.ReportType + ":" + wo.BankType)
}

// PackView returns the pack linked to a work order.
func (s *Service) PackView(ctx context.Context, actor contracts.Actor, workOrderID string) (*View, error) {
	var v *View
	err := s.store.View(ctx, func(tx store.Tx) error {
		wo, err := store.LoadWorkOrder(ctx, tx, actor, workOrderID, false)
		if err != nil {
			return err
		}
		if wo.PackID == "" {
			return &contracts.NotFoundError{Kind: "report_pack", ID: workOrderID}
		}
		v, err = s.LoadView(ctx, tx, wo)
		return err
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// LoadView reads the pack view inside an existing unit of work.
func (s *Service) LoadView(ctx context.Context, tx store.Tx, wo *contracts.WorkOrder) (*View, error) {
	pack, err := tx.GetPack(ctx, wo.PackID)
	if err != nil {
		return nil, store.AsNotFound(err, "report_pack", wo.PackID)
	}
	v := &View{Pack: pack}
	job, err := tx.JobForPack(ctx, pack.ID)
	switch {
	case err == nil:
		v.Job = job
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}
	releases, err := tx.ListReleases(ctx, wo.ID)
	if err != nil {
		return nil, err
	}
	for i := len(releases) - 1; i >= 0; i-- {
		if releases[i].PackID == pack.ID {
			v.LatestRelease = releases[i]
			break
		}
	}
	return v, nil
}

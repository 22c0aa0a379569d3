// Package evidence manages the supporting material attached to work orders:
// evidence items, field-evidence links and the evidence profiles that set
// per-category minimums for readiness.
package evidence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/reportdesk/pkg/contracts"
	"github.com/Mindburn-Labs/reportdesk/pkg/lock"
	"github.com/Mindburn-Labs/reportdesk/pkg/observability"
	"github.com/Mindburn-Labs/reportdesk/pkg/store"
)

// ItemInput is the writable part of an evidence item.
type ItemInput struct {
	EvidenceType   string            `json:"evidence_type"`
	DocType        string            `json:"doc_type,omitempty"`
	Classification string            `json:"classification,omitempty"`
	Sensitivity    string            `json:"sensitivity,omitempty"`
	Source         string            `json:"source,omitempty"`
	DocumentID     string            `json:"document_id,omitempty"`
	FileRef        string            `json:"file_ref,omitempty"`
	CapturedBy     string            `json:"captured_by,omitempty"`
	CapturedAt     *time.Time        `json:"captured_at,omitempty"`
	AnnexureOrder  *int              `json:"annexure_order,omitempty"`
	Tags           map[string]string `json:"tags,omitempty"`
	Status         string            `json:"status,omitempty"`
}

// LinkInput ties a contract field to an evidence item. An empty SnapshotID
// binds the link to the latest snapshot.
type LinkInput struct {
	SnapshotID     string   `json:"snapshot_id,omitempty"`
	FieldKey       string   `json:"field_key"`
	EvidenceItemID string   `json:"evidence_item_id"`
	Confidence     *float64 `json:"confidence,omitempty"`
	Note           string   `json:"note,omitempty"`
}

// Service implements the evidence operations.
type Service struct {
	store    store.Store
	locker   lock.Locker
	profiles ProfileResolver
	obs      *observability.Provider
	clock    func() time.Time
	log      *slog.Logger
}

type Option func(*Service)

func WithProfiles(r ProfileResolver) Option { return func(s *Service) { s.profiles = r } }

func WithObservability(p *observability.Provider) Option { return func(s *Service) { s.obs = p } }

func WithClock(clock func() time.Time) Option { return func(s *Service) { s.clock = clock } }

func NewService(st store.Store, locker lock.Locker, opts ...Option) *Service {
	s := &Service{
		store:    st,
		locker:   locker,
		profiles: NoProfiles{},
		clock:    time.Now,
		log:      slog.Default().With("component", "evidence"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Profiles exposes the resolver so other services share one catalog.
func (s *Service) Profiles() ProfileResolver { return s.profiles }

// UpsertItem creates or replaces evidence item itemID on a work order. An empty
// itemID allocates a new one. The item must reference a document or a file.
func (s *Service) UpsertItem(ctx context.Context, actor contracts.Actor, workOrderID, itemID string, in ItemInput) (item *contracts.EvidenceItem, err error) {
	ctx, done := s.obs.TrackOperation(ctx, "evidence.upsert_item", attribute.String("work_order_id", workOrderID))
	defer func() { done(err) }()

	item, err = buildItem(workOrderID, itemID, in)
	if err != nil {
		return nil, err
	}
	err = lock.With(ctx, s.locker, lock.Key("workorder", workOrderID), func() error {
		return s.store.Update(ctx, func(tx store.Tx) error {
			if _, err := store.LoadWorkOrder(ctx, tx, actor, workOrderID, true); err != nil {
				return err
			}
			now := s.clock().UTC()
			item.CreatedAt, item.UpdatedAt = now, now
			prev, err := tx.GetEvidence(ctx, item.ID)
			switch {
			case err == nil && prev.WorkOrderID != workOrderID:
				return &contracts.ConflictError{Detail: fmt.Sprintf("evidence item %s belongs to another work order", item.ID)}
			case err == nil:
				item.CreatedAt = prev.CreatedAt
			case !errors.Is(err, store.ErrNotFound):
				return err
			}
			if err := tx.UpsertEvidence(ctx, item); err != nil {
				if errors.Is(err, store.ErrDuplicate) {
					return &contracts.ConflictError{Detail: fmt.Sprintf("evidence item %s belongs to another work order", item.ID)}
				}
				return err
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "evidence item stored", "work_order_id", workOrderID, "evidence_id", item.ID, "type", item.EvidenceType, "status", item.Status)
	return item, nil
}

func buildItem(workOrderID, itemID string, in ItemInput) (*contracts.EvidenceItem, error) {
	if strings.TrimSpace(in.DocumentID) == "" && strings.TrimSpace(in.FileRef) == "" {
		return nil, &contracts.ValidationError{Field: "document_id", Detail: "document_id or file_ref is required"}
	}
	typ, err := contracts.ParseEvidenceType(in.EvidenceType)
	if err != nil {
		return nil, err
	}
	status := contracts.EvidenceStatus(strings.ToUpper(strings.TrimSpace(in.Status)))
	switch status {
	case "":
		status = contracts.EvidenceActive
	case contracts.EvidenceActive, contracts.EvidenceArchived:
	default:
		return nil, &contracts.ValidationError{Field: "status", Detail: fmt.Sprintf("unknown evidence status %q", in.Status)}
	}
	if in.AnnexureOrder != nil && *in.AnnexureOrder < 0 {
		return nil, &contracts.ValidationError{Field: "annexure_order", Detail: "must not be negative"}
	}
	if itemID == "" {
		itemID = uuid.New().String()
	}
	return &contracts.EvidenceItem{
		ID:             itemID,
		WorkOrderID:    workOrderID,
		EvidenceType:   typ,
		DocType:        strings.TrimSpace(in.DocType),
		Classification: in.Classification,
		Sensitivity:    in.Sensitivity,
		Source:         in.Source,
		DocumentID:     strings.TrimSpace(in.DocumentID),
		FileRef:        strings.TrimSpace(in.FileRef),
		CapturedBy:     in.CapturedBy,
		CapturedAt:     in.CapturedAt,
		AnnexureOrder:  in.AnnexureOrder,
		Tags:           in.Tags,
		Status:         status,
	}, nil
}

// ListItems returns every evidence item of a work order in insertion order.
func (s *Service) ListItems(ctx context.Context, actor contracts.Actor, workOrderID string) ([]*contracts.EvidenceItem, error) {
	var out []*contracts.EvidenceItem
	err := s.store.View(ctx, func(tx store.Tx) error {
		if _, err := store.LoadWorkOrder(ctx, tx, actor, workOrderID, false); err != nil {
			return err
		}
		var err error
		out, err = tx.ListEvidence(ctx, workOrderID)
		return err
	})
	return out, err
}

// Link records a field-evidence link. Linking the same tuple twice returns
// the original link.
func (s *Service) Link(ctx context.Context, actor contracts.Actor, workOrderID string, in LinkInput) (link *contracts.FieldEvidenceLink, err error) {
	ctx, done := s.obs.TrackOperation(ctx, "evidence.link", attribute.String("work_order_id", workOrderID))
	defer func() { done(err) }()

	in.FieldKey = strings.TrimSpace(in.FieldKey)
	if in.FieldKey == "" {
		return nil, &contracts.ValidationError{Field: "field_key", Detail: "is required"}
	}
	if in.EvidenceItemID == "" {
		return nil, &contracts.ValidationError{Field: "evidence_item_id", Detail: "is required"}
	}
	if in.Confidence != nil && (*in.Confidence < 0 || *in.Confidence > 1) {
		return nil, &contracts.ValidationError{Field: "confidence", Detail: "must be between 0 and 1"}
	}

	err = lock.With(ctx, s.locker, lock.Key("workorder", workOrderID), func() error {
		return s.store.Update(ctx, func(tx store.Tx) error {
			if _, err := store.LoadWorkOrder(ctx, tx, actor, workOrderID, true); err != nil {
				return err
			}
			snap, err := s.linkSnapshot(ctx, tx, workOrderID, in.SnapshotID)
			if err != nil {
				return err
			}
			item, err := tx.GetEvidence(ctx, in.EvidenceItemID)
			if err != nil || item.WorkOrderID != workOrderID {
				if err != nil && !errors.Is(err, store.ErrNotFound) {
					return err
				}
				return &contracts.NotFoundError{Kind: "evidence_item", ID: in.EvidenceItemID}
			}
			link, err = tx.UpsertLink(ctx, &contracts.FieldEvidenceLink{
				ID:             uuid.New().String(),
				WorkOrderID:    workOrderID,
				SnapshotID:     snap.ID,
				FieldKey:       in.FieldKey,
				EvidenceItemID: item.ID,
				Confidence:     in.Confidence,
				Note:           in.Note,
				CreatedBy:      actor.ID,
				CreatedAt:      s.clock().UTC(),
			})
			if errors.Is(err, store.ErrUnsupported) {
				return &contracts.ConflictError{Detail: "field evidence links are not enabled for this deployment"}
			}
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "field evidence linked", "work_order_id", workOrderID, "link_id", link.ID, "field_key", link.FieldKey)
	return link, nil
}

func (s *Service) linkSnapshot(ctx context.Context, tx store.Tx, workOrderID, snapshotID string) (*contracts.ContractSnapshot, error) {
	if snapshotID == "" {
		snap, err := tx.LatestSnapshot(ctx, workOrderID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, &contracts.ConflictError{Detail: "work order has no contract snapshot to link against"}
		}
		return snap, err
	}
	snap, err := tx.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return nil, store.AsNotFound(err, "snapshot", snapshotID)
	}
	if snap.WorkOrderID != workOrderID {
		return nil, &contracts.NotFoundError{Kind: "snapshot", ID: snapshotID}
	}
	return snap, nil
}

// Unlink removes a field-evidence link.
func (s *Service) Unlink(ctx context.Context, actor contracts.Actor, workOrderID, linkID string) error {
	return lock.With(ctx, s.locker, lock.Key("workorder", workOrderID), func() error {
		return s.store.Update(ctx, func(tx store.Tx) error {
			if _, err := store.LoadWorkOrder(ctx, tx, actor, workOrderID, true); err != nil {
				return err
			}
			err := tx.DeleteLink(ctx, workOrderID, linkID)
			if errors.Is(err, store.ErrUnsupported) {
				return &contracts.ConflictError{Detail: "field evidence links are not enabled for this deployment"}
			}
			return store.AsNotFound(err, "field_evidence_link", linkID)
		})
	})
}

// ListLinks returns the links of a work order, optionally for one snapshot.
func (s *Service) ListLinks(ctx context.Context, actor contracts.Actor, workOrderID, snapshotID string) ([]*contracts.FieldEvidenceLink, error) {
	var out []*contracts.FieldEvidenceLink
	err := s.store.View(ctx, func(tx store.Tx) error {
		if _, err := store.LoadWorkOrder(ctx, tx, actor, workOrderID, false); err != nil {
			return err
		}
		var err error
		out, err = tx.ListLinks(ctx, workOrderID, snapshotID)
		return err
	})
	return out, err
}

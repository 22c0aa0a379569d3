package snapshot

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Mindburn-Labs/reportdesk/pkg/contracts"
	"github.com/Mindburn-Labs/reportdesk/pkg/document"
	"github.com/Mindburn-Labs/reportdesk/pkg/evidence"
	"github.com/Mindburn-Labs/reportdesk/pkg/store"
)

// Bundle is everything a renderer needs for one work order. It carries no
// wall-clock data so its canonical hash only changes with its content.
type Bundle struct {
	WorkOrderID      string              `json:"work_order_id"`
	TenantID         string              `json:"tenant_id"`
	ReportType       string              `json:"report_type"`
	BankName         string              `json:"bank_name"`
	BankType         string              `json:"bank_type"`
	ValueSlab        string              `json:"value_slab,omitempty"`
	TemplateSelector string              `json:"template_selector,omitempty"`
	SnapshotID       string              `json:"snapshot_id"`
	SnapshotVersion  int                 `json:"snapshot_version"`
	Contract         document.Tree       `json:"contract"`
	Derived          document.Tree       `json:"derived"`
	Readiness        contracts.Readiness `json:"readiness"`
	Evidence         []ManifestEntry     `json:"evidence"`
	AnnexureHints    []AnnexureHint      `json:"annexure_hints"`
}

// ManifestEntry is one active evidence item, enriched with document metadata
// when the document store knows it.
type ManifestEntry struct {
	ID             string                 `json:"id"`
	EvidenceType   contracts.EvidenceType `json:"evidence_type"`
	DocType        string                 `json:"doc_type,omitempty"`
	Classification string                 `json:"classification,omitempty"`
	Sensitivity    string                 `json:"sensitivity,omitempty"`
	Source         string                 `json:"source,omitempty"`
	DocumentID     string                 `json:"document_id,omitempty"`
	FileRef        string                 `json:"file_ref,omitempty"`
	CapturedBy     string                 `json:"captured_by,omitempty"`
	CapturedAt     *time.Time             `json:"captured_at,omitempty"`
	AnnexureOrder  *int                   `json:"annexure_order,omitempty"`
	Tags           map[string]string      `json:"tags,omitempty"`
	Document       *evidence.DocumentMeta `json:"document,omitempty"`
}

// AnnexureHint suggests where an evidence item lands in the rendered report.
type AnnexureHint struct {
	Annexure   string `json:"annexure"`
	Order      int    `json:"order"`
	EvidenceID string `json:"evidence_id"`
	Title      string `json:"title"`
}

// ExportBundle assembles the bundle for the latest output snapshot.
func (s *Service) ExportBundle(ctx context.Context, actor contracts.Actor, workOrderID string) (*Bundle, error) {
	var b *Bundle
	err := s.store.View(ctx, func(tx store.Tx) error {
		wo, err := store.LoadWorkOrder(ctx, tx, actor, workOrderID, false)
		if err != nil {
			return err
		}
		b, err = s.BuildBundle(ctx, tx, wo)
		return err
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// BuildBundle assembles the bundle inside an existing unit of work.
func (s *Service) BuildBundle(ctx context.Context, tx store.Tx, wo *contracts.WorkOrder) (*Bundle, error) {
	ready, snap, err := s.CurrentReadiness(ctx, tx, wo)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, &contracts.ConflictError{Detail: "work order has no computed contract snapshot"}
	}
	if _, err := document.Decode(snap.Contract); err != nil {
		return nil, &contracts.ConflictError{Detail: fmt.Sprintf("snapshot %d contract no longer parses: %v", snap.Version, err)}
	}

	items, err := tx.ListEvidence(ctx, wo.ID)
	if err != nil {
		return nil, err
	}
	manifest := s.manifest(ctx, wo.ID, items)

	derived := snap.Derived
	if derived == nil {
		derived = document.Tree{}
	}
	return &Bundle{
		WorkOrderID:      wo.ID,
		TenantID:         wo.TenantID,
		ReportType:       wo.ReportType,
		BankName:         wo.BankName,
		BankType:         wo.BankType,
		ValueSlab:        wo.ValueSlab,
		TemplateSelector: wo.TemplateSelector,
		SnapshotID:       snap.ID,
		SnapshotVersion:  snap.Version,
		Contract:         snap.Contract,
		Derived:          derived,
		Readiness:        ready,
		Evidence:         manifest,
		AnnexureHints:    annexureHints(manifest),
	}, nil
}

// manifest keeps active items ordered by annexure order (unordered last), then id.
func (s *Service) manifest(ctx context.Context, workOrderID string, items []*contracts.EvidenceItem) []ManifestEntry {
	active := make([]*contracts.EvidenceItem, 0, len(items))
	var docIDs []string
	for _, it := range items {
		if it.Status == contracts.EvidenceArchived {
			continue
		}
		active = append(active, it)
		if it.DocumentID != "" {
			docIDs = append(docIDs, it.DocumentID)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		a, b := active[i].AnnexureOrder, active[j].AnnexureOrder
		switch {
		case a != nil && b != nil && *a != *b:
			return *a < *b
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return active[i].ID < active[j].ID
	})

	docs := map[string]evidence.DocumentMeta{}
	if len(docIDs) > 0 {
		found, err := s.documents.Lookup(ctx, docIDs)
		if err != nil {
			s.log.WarnContext(ctx, "document lookup failed; manifest not enriched", "work_order_id", workOrderID, "error", err)
		} else {
			docs = found
		}
	}

	out := make([]ManifestEntry, 0, len(active))
	for _, it := range active {
		e := ManifestEntry{
			ID:             it.ID,
			EvidenceType:   it.EvidenceType,
			DocType:        it.DocType,
			Classification: it.Classification,
			Sensitivity:    it.Sensitivity,
			Source:         it.Source,
			DocumentID:     it.DocumentID,
			FileRef:        it.FileRef,
			CapturedBy:     it.CapturedBy,
			CapturedAt:     it.CapturedAt,
			AnnexureOrder:  it.AnnexureOrder,
			Tags:           it.Tags,
		}
		if m, ok := docs[it.DocumentID]; ok {
			e.Document = &m
		}
		out = append(out, e)
	}
	return out
}

// annexureHints numbers the items that carry an annexure order.
func annexureHints(manifest []ManifestEntry) []AnnexureHint {
	hints := []AnnexureHint{}
	for _, e := range manifest {
		if e.AnnexureOrder == nil {
			continue
		}
		hints = append(hints, AnnexureHint{
			Annexure:   fmt.Sprintf("Annexure %d", len(hints)+1),
			Order:      *e.AnnexureOrder,
			EvidenceID: e.ID,
			Title:      title(e),
		})
	}
	return hints
}

func title(e ManifestEntry) string {
	switch {
	case e.Document != nil && e.Document.Filename != "":
		return e.Document.Filename
	case e.DocType != "":
		return strings.ReplaceAll(e.DocType, "_", " ")
	default:
		return strings.ToLower(string(e.EvidenceType))
	}
}

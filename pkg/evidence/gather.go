package evidence

import (
	"context"
	"sort"

	"github.com/Mindburn-Labs/reportdesk/pkg/contracts"
	"github.com/Mindburn-Labs/reportdesk/pkg/readiness"
	"github.com/Mindburn-Labs/reportdesk/pkg/store"
)

// Inputs is the evidence side of a readiness evaluation.
type Inputs struct {
	Items []contracts.EvidenceItem
	// Requirements is nil when no profile applies; readiness then uses the
	// report-type defaults.
	Requirements      []readiness.Requirement
	RequireFieldLinks bool
	LinkedFieldKeys   []string
}

// Gather loads the current evidence, profile requirements and linked field
// keys of a work order. Links from every snapshot count.
func (s *Service) Gather(ctx context.Context, tx store.Tx, wo *contracts.WorkOrder) (*Inputs, error) {
	items, err := tx.ListEvidence(ctx, wo.ID)
	if err != nil {
		return nil, err
	}
	in := &Inputs{Items: make([]contracts.EvidenceItem, 0, len(items))}
	for _, it := range items {
		in.Items = append(in.Items, *it)
	}

	if wo.EvidenceProfileID != "" {
		p, ok, err := s.profiles.Profile(ctx, wo.EvidenceProfileID)
		if err != nil {
			return nil, contracts.Upstream("evidence profiles", err)
		}
		if ok {
			in.Requirements = p.Requirements
			in.RequireFieldLinks = p.RequireFieldLinks
		} else {
			s.log.WarnContext(ctx, "evidence profile not found; using defaults", "work_order_id", wo.ID, "profile_id", wo.EvidenceProfileID)
		}
	}

	links, err := tx.ListLinks(ctx, wo.ID, "")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(links))
	for _, l := range links {
		if _, ok := seen[l.FieldKey]; ok {
			continue
		}
		seen[l.FieldKey] = struct{}{}
		in.LinkedFieldKeys = append(in.LinkedFieldKeys, l.FieldKey)
	}
	sort.Strings(in.LinkedFieldKeys)
	return in, nil
}

// Evaluate runs the readiness evaluator over a contract with these inputs.
func (in *Inputs) Evaluate(reportType string, contract map[string]any, warnings []string) contracts.Readiness {
	return readiness.Evaluate(readiness.Input{
		ReportType:          reportType,
		Contract:            contract,
		Evidence:            in.Items,
		RuleWarnings:        warnings,
		ProfileRequirements: in.Requirements,
		LinkedFieldKeys:     in.LinkedFieldKeys,
		RequireFieldLinks:   in.RequireFieldLinks,
	})
}

// AssignDefaultProfile links the resolved default profile when the work order
// has none. It reports whether wo changed.
func (s *Service) AssignDefaultProfile(ctx context.Context, wo *contracts.WorkOrder) (bool, error) {
	if wo.EvidenceProfileID != "" {
		return false, nil
	}
	id, ok, err := s.profiles.Resolve(ctx, RefFor(wo))
	if err != nil {
		return false, contracts.Upstream("evidence profiles", err)
	}
	if !ok {
		return false, nil
	}
	wo.EvidenceProfileID = id
	return true, nil
}

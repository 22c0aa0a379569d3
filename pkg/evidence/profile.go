package evidence

import (
	"context"
	"fmt"
	"strings"

	"github.com/Mindburn-Labs/reportdesk/pkg/contracts"
	"github.com/Mindburn-Labs/reportdesk/pkg/readiness"
)

// Wildcard matches any value in a profile selector.
const Wildcard = "*"

// Selector chooses the work orders a profile applies to. Empty fields and "*"
// match anything.
type Selector struct {
	TenantID   string `yaml:"tenant_id" json:"tenant_id,omitempty"`
	ReportType string `yaml:"report_type" json:"report_type,omitempty"`
	BankType   string `yaml:"bank_type" json:"bank_type,omitempty"`
	ValueSlab  string `yaml:"value_slab" json:"value_slab,omitempty"`
}

// Profile is a tenant-configurable set of evidence minimums.
type Profile struct {
	ID                string                  `yaml:"id" json:"id"`
	Match             Selector                `yaml:"match" json:"match"`
	RequireFieldLinks bool                    `yaml:"require_field_links" json:"require_field_links"`
	Requirements      []readiness.Requirement `yaml:"requirements" json:"requirements"`
}

// Ref is the part of a work order profiles are matched on.
type Ref struct {
	TenantID   string
	ReportType string
	BankType   string
	ValueSlab  string
}

// RefFor extracts the profile selector fields of a work order.
func RefFor(wo *contracts.WorkOrder) Ref {
	return Ref{TenantID: wo.TenantID, ReportType: wo.ReportType, BankType: wo.BankType, ValueSlab: wo.ValueSlab}
}

// ProfileResolver maps work orders to evidence profiles.
type ProfileResolver interface {
	// Resolve returns the default profile for ref, if any.
	Resolve(ctx context.Context, ref Ref) (profileID string, ok bool, err error)
	// Profile returns a profile by id; ok is false for unknown ids.
	Profile(ctx context.Context, id string) (profile *Profile, ok bool, err error)
}

// CatalogResolver resolves profiles from a static catalog. The most specific
// selector wins; ties go to the profile declared first.
type CatalogResolver struct {
	profiles []Profile
	byID     map[string]int
}

// NewCatalogResolver rejects duplicate or empty profile ids and invalid requirements.
func NewCatalogResolver(profiles []Profile) (*CatalogResolver, error) {
	r := &CatalogResolver{byID: make(map[string]int, len(profiles))}
	for i, p := range profiles {
		if strings.TrimSpace(p.ID) == "" {
			return nil, fmt.Errorf("evidence: profile %d has no id", i)
		}
		if _, dup := r.byID[p.ID]; dup {
			return nil, fmt.Errorf("evidence: duplicate profile id %q", p.ID)
		}
		for _, req := range p.Requirements {
			if req.MinCount < 0 {
				return nil, fmt.Errorf("evidence: profile %q: negative min_count for %s", p.ID, req.Category())
			}
		}
		r.byID[p.ID] = i
		r.profiles = append(r.profiles, p)
	}
	return r, nil
}

func (r *CatalogResolver) Resolve(_ context.Context, ref Ref) (string, bool, error) {
	best, bestScore := -1, -1
	for i, p := range r.profiles {
		score, ok := p.Match.score(ref)
		if ok && score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return "", false, nil
	}
	return r.profiles[best].ID, true, nil
}

func (r *CatalogResolver) Profile(_ context.Context, id string) (*Profile, bool, error) {
	i, ok := r.byID[id]
	if !ok {
		return nil, false, nil
	}
	p := r.profiles[i]
	p.Requirements = append([]readiness.Requirement(nil), p.Requirements...)
	return &p, true, nil
}

// score counts the non-wildcard fields of s; ok is false when any field mismatches.
func (s Selector) score(ref Ref) (int, bool) {
	score := 0
	for _, f := range [][2]string{
		{s.TenantID, ref.TenantID},
		{s.ReportType, ref.ReportType},
		{s.BankType, ref.BankType},
		{s.ValueSlab, ref.ValueSlab},
	} {
		want := strings.TrimSpace(f[0])
		if want == "" || want == Wildcard {
			continue
		}
		if !strings.EqualFold(want, f[1]) {
			return 0, false
		}
		score++
	}
	return score, true
}

// NoProfiles resolves nothing; readiness falls back to report-type defaults.
type NoProfiles struct{}

func (NoProfiles) Resolve(context.Context, Ref) (string, bool, error) { return "", false, nil }

func (NoProfiles) Profile(context.Context, string) (*Profile, bool, error) { return nil, false, nil }

package document

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Meta is the identity and routing block every contract carries.
type Meta struct {
	ReportType       string `json:"report_type"`
	BankType         string `json:"bank_type"`
	BankName         string `json:"bank_name,omitempty"`
	ValueSlab        string `json:"value_slab,omitempty"`
	TemplateSelector string `json:"template_selector,omitempty"`
	Audit            *Audit `json:"audit,omitempty"`
}

// Body is the report-type specific part of a contract.
type Body interface {
	ReportType() string
	// Seed is the body's contribution to a fresh default contract.
	Seed() Tree
}

// Contract is the typed view of a contract tree.
type Contract struct {
	Meta Meta
	Body Body
}

// Valuation is the body of a VALUATION contract.
type Valuation struct {
	Property struct {
		Address      *string  `json:"address"`
		LandArea     *float64 `json:"land_area"`
		BuiltUpArea  *float64 `json:"built_up_area"`
		SurveyNumber *string  `json:"survey_number"`
	} `json:"property"`
	Valuation struct {
		GuidelineRate  *float64 `json:"guideline_rate"`
		MarketRate     *float64 `json:"market_rate"`
		DistressFactor *float64 `json:"distress_factor"`
	} `json:"valuation"`
}

func (Valuation) ReportType() string { return "VALUATION" }

func (Valuation) Seed() Tree {
	return Tree{
		"property":  map[string]any{"address": nil, "land_area": nil},
		"valuation": map[string]any{"guideline_rate": nil, "market_rate": nil},
	}
}

// StockAudit is the body of a STOCK_AUDIT contract.
type StockAudit struct {
	Borrower struct {
		Name *string `json:"name"`
	} `json:"borrower"`
	Inspection struct {
		Date *string `json:"date"`
	} `json:"inspection"`
	Stock struct {
		StatementValue *float64 `json:"statement_value"`
		PhysicalValue  *float64 `json:"physical_value"`
	} `json:"stock"`
}

func (StockAudit) ReportType() string { return "STOCK_AUDIT" }

func (StockAudit) Seed() Tree {
	return Tree{
		"borrower":   map[string]any{"name": nil},
		"inspection": map[string]any{"date": nil},
		"stock":      map[string]any{"statement_value": nil},
	}
}

// LendersEngineer is the body of a LENDERS_ENGINEER contract.
type LendersEngineer struct {
	Project struct {
		Name         *string  `json:"name"`
		CostEstimate *float64 `json:"cost_estimate"`
		CostIncurred *float64 `json:"cost_incurred"`
	} `json:"project"`
	Inspection struct {
		Date *string `json:"date"`
	} `json:"inspection"`
}

func (LendersEngineer) ReportType() string { return "LENDERS_ENGINEER" }

func (LendersEngineer) Seed() Tree {
	return Tree{
		"project":    map[string]any{"name": nil, "cost_estimate": nil},
		"inspection": map[string]any{"date": nil},
	}
}

// Generic is the body of any report type without a dedicated shape.
type Generic struct {
	Kind     string `json:"-"`
	Property struct {
		Address *string `json:"address"`
	} `json:"property"`
}

func (g Generic) ReportType() string { return g.Kind }

func (Generic) Seed() Tree {
	return Tree{"property": map[string]any{"address": nil}}
}

// BodyFor returns an empty body of the right variant.
func BodyFor(reportType string) Body {
	switch strings.ToUpper(strings.TrimSpace(reportType)) {
	case "VALUATION":
		return &Valuation{}
	case "STOCK_AUDIT":
		return &StockAudit{}
	case "LENDERS_ENGINEER":
		return &LendersEngineer{}
	default:
		return &Generic{Kind: reportType}
	}
}

// Default builds a fresh contract seeded from the work order identity.
func Default(id Identity) Tree {
	t := BodyFor(id.ReportType).Seed()
	t["meta"] = map[string]any{
		"report_type": id.ReportType,
		"bank_type":   id.BankType,
		"bank_name":   id.BankName,
	}
	return t
}

// Decode parses a stored tree into its typed view. A tree whose known fields
// have the wrong shape fails to decode.
func Decode(t Tree) (*Contract, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("document: encode contract: %w", err)
	}
	var head struct {
		Meta Meta `json:"meta"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("document: decode meta: %w", err)
	}
	if head.Meta.ReportType == "" {
		return nil, fmt.Errorf("document: contract has no meta.report_type")
	}
	body := BodyFor(head.Meta.ReportType)
	if err := json.Unmarshal(raw, body); err != nil {
		return nil, fmt.Errorf("document: decode %s body: %w", head.Meta.ReportType, err)
	}
	return &Contract{Meta: head.Meta, Body: body}, nil
}

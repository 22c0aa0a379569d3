package billing

import (
	"fmt"
)

// Money is an amount in minor units of a currency.
type Money struct {
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"` // ISO 4217 code
	Scale       int    `json:"scale"`
}

// NewMoney creates a Money with the currency's usual scale.
func NewMoney(amount int64, currency string) Money {
	scale := 2
	switch currency {
	case "JPY", "KRW":
		scale = 0
	case "BHD", "KWD", "OMR":
		scale = 3
	}
	return Money{AmountMinor: amount, Currency: currency, Scale: scale}
}

// Add adds two amounts. Returns error on currency or scale mismatch.
func (m Money) Add(other Money) (Money, error) {
	if err := m.compatible(other); err != nil {
		return Money{}, err
	}
	return Money{AmountMinor: m.AmountMinor + other.AmountMinor, Currency: m.Currency, Scale: m.Scale}, nil
}

// Sub subtracts other from m. Returns error on currency or scale mismatch.
func (m Money) Sub(other Money) (Money, error) {
	if err := m.compatible(other); err != nil {
		return Money{}, err
	}
	return Money{AmountMinor: m.AmountMinor - other.AmountMinor, Currency: m.Currency, Scale: m.Scale}, nil
}

// Covers reports whether m is at least other.
func (m Money) Covers(other Money) bool {
	return m.compatible(other) == nil && m.AmountMinor >= other.AmountMinor
}

func (m Money) compatible(other Money) error {
	if m.Currency != other.Currency {
		return fmt.Errorf("currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	if m.Scale != other.Scale {
		return fmt.Errorf("scale mismatch: %d vs %d", m.Scale, other.Scale)
	}
	return nil
}

// IsZero returns true if the amount is 0.
func (m Money) IsZero() bool {
	return m.AmountMinor == 0
}

// IsNegative returns true if the amount is < 0.
func (m Money) IsNegative() bool {
	return m.AmountMinor < 0
}

func (m Money) String() string {
	if m.Scale == 0 {
		return fmt.Sprintf("%d %s", m.AmountMinor, m.Currency)
	}
	div := int64(1)
	for i := 0; i < m.Scale; i++ {
		div *= 10
	}
	sign := ""
	amt := m.AmountMinor
	if amt < 0 {
		sign, amt = "-", -amt
	}
	return fmt.Sprintf("%s%d.%0*d %s", sign, amt/div, m.Scale, amt%div, m.Currency)
}

package models

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// Tier is a named membership level.
type Tier string

const (
	TierFree   Tier = "Free"
	TierBronze Tier = "Bronze"
	TierSilver Tier = "Silver"
	TierGold   Tier = "Gold"
)

type tierTerms struct {
	priceCents           int64
	requiredAppointments int
	cadenceWeeks         int
}

var terms = map[Tier]tierTerms{
	TierGold:   {priceCents: 10000, requiredAppointments: 4, cadenceWeeks: 2},
	TierSilver: {priceCents: 7500, requiredAppointments: 3, cadenceWeeks: 3},
	TierBronze: {priceCents: 5000, requiredAppointments: 2, cadenceWeeks: 4},
	TierFree:   {priceCents: 0, requiredAppointments: 2, cadenceWeeks: 0},
}

// Tiers lists the paid tiers from most to least expensive.
var Tiers = []Tier{TierGold, TierSilver, TierBronze}

// ParseTier is case-insensitive; anything unrecognized is Free.
func ParseTier(s string) Tier {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "gold":
		return TierGold
	case "silver":
		return TierSilver
	case "bronze":
		return TierBronze
	default:
		return TierFree
	}
}

// Paid reports whether the tier is billed.
func (t Tier) Paid() bool {
	return terms[t.normalized()].priceCents > 0
}

// PriceCents is the monthly price in cents.
func (t Tier) PriceCents() int64 {
	return terms[t.normalized()].priceCents
}

// RequiredAppointments is how many bookings a new member schedules up front.
func (t Tier) RequiredAppointments() int {
	return terms[t.normalized()].requiredAppointments
}

// CadenceWeeks is the haircut interval; zero for Free.
func (t Tier) CadenceWeeks() int {
	return terms[t.normalized()].cadenceWeeks
}

// DisplayPrice renders the price the way the checkout page shows it.
func (t Tier) DisplayPrice() string {
	if !t.Paid() {
		return "N/A"
	}
	return fmt.Sprintf("$%d/mo", t.PriceCents()/100)
}

func (t Tier) normalized() Tier {
	if _, ok := terms[t]; ok {
		return t
	}
	return ParseTier(string(t))
}

// Value implements driver.Valuer.
func (t Tier) Value() (driver.Value, error) {
	return string(t.normalized()), nil
}

// Scan implements sql.Scanner.
func (t *Tier) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*t = TierFree
	case string:
		*t = ParseTier(v)
	case []byte:
		*t = ParseTier(string(v))
	default:
		return fmt.Errorf("failed to scan Tier: unsupported type %T", value)
	}
	return nil
}

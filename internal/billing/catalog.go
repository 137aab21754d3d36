package billing

import (
	"github.com/shopspring/decimal"
)

const (
	// MinBillableSeconds is the shortest answered call that is billed.
	MinBillableSeconds  = 15
	FreeLifetimeSeconds = 600
	DefaultCurrency     = "USD"
)

// PlanSpec prices one plan. Rates are per minute in DefaultCurrency.
type PlanSpec struct {
	Plan            Plan            `json:"plan"`
	MonthlyFee      decimal.Decimal `json:"monthly_fee"`
	IncludedMinutes int64           `json:"included_minutes"`
	OverageRate     decimal.Decimal `json:"overage_rate"`
	FreeSeconds     int64           `json:"free_seconds,omitempty"`
}

func (p PlanSpec) IncludedSeconds() int64 { return p.IncludedMinutes * 60 }

// OverageCents prices minutes at the overage rate, rounded half away from
// zero to whole cents.
func (p PlanSpec) OverageCents(minutes int64) int64 {
	if minutes <= 0 {
		return 0
	}
	return p.OverageRate.
		Mul(decimal.NewFromInt(minutes)).
		Mul(decimal.NewFromInt(100)).
		Round(0).
		IntPart()
}

type Catalog map[Plan]PlanSpec

func DefaultCatalog() Catalog {
	spec := func(p Plan, fee string, included int64, rate string) PlanSpec {
		return PlanSpec{
			Plan:            p,
			MonthlyFee:      decimal.RequireFromString(fee),
			IncludedMinutes: included,
			OverageRate:     decimal.RequireFromString(rate),
		}
	}
	free := spec(PlanFree, "0", 0, "0")
	free.FreeSeconds = FreeLifetimeSeconds
	return Catalog{
		PlanFree:    free,
		PlanStarter: spec(PlanStarter, "49.00", 100, "0.35"),
		PlanPro:     spec(PlanPro, "149.00", 400, "0.30"),
		PlanScale:   spec(PlanScale, "399.00", 1200, "0.25"),
		PlanPAYG:    spec(PlanPAYG, "0", 0, "0.45"),
	}
}

func (c Catalog) Lookup(p Plan) (PlanSpec, bool) {
	s, ok := c[p]
	return s, ok
}

// Paid reports whether p is a known plan other than FREE.
func (c Catalog) Paid(p Plan) bool {
	_, ok := c[p]
	return ok && p != PlanFree
}

// BillableMinutes rounds a billable call up to whole minutes, at least one.
func BillableMinutes(connectedSeconds int) int64 {
	if connectedSeconds <= 60 {
		return 1
	}
	return int64((connectedSeconds + 59) / 60)
}

// ceilMinutes rounds seconds up to whole minutes; zero stays zero.
func ceilMinutes(seconds int64) int64 {
	if seconds <= 0 {
		return 0
	}
	return (seconds + 59) / 60
}

func clamp(want, remaining int64) int64 {
	if remaining <= 0 {
		return 0
	}
	return min(want, remaining)
}

package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBillableMinutes(t *testing.T) {
	cases := map[int]int64{15: 1, 59: 1, 60: 1, 61: 2, 120: 2, 121: 3}
	for secs, want := range cases {
		assert.Equal(t, want, BillableMinutes(secs), "seconds=%d", secs)
	}
}

func TestOverageCents(t *testing.T) {
	c := DefaultCatalog()
	assert.Equal(t, int64(70), c[PlanStarter].OverageCents(2))
	assert.Equal(t, int64(45), c[PlanPAYG].OverageCents(1))
	assert.Equal(t, int64(0), c[PlanPro].OverageCents(0))
	assert.Equal(t, int64(72000), c[PlanScale].IncludedSeconds())
}

func TestCatalogPaid(t *testing.T) {
	c := DefaultCatalog()
	assert.False(t, c.Paid(PlanFree))
	assert.True(t, c.Paid(PlanPAYG))
	assert.False(t, c.Paid(Plan("GOLD")))
	assert.Equal(t, int64(FreeLifetimeSeconds), c[PlanFree].FreeSeconds)
}

package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"recovery-caller/pkg/logger"

	"github.com/oklog/ulid/v2"
)

// CallUsage is what the meter needs to know about a finished call.
type CallUsage struct {
	Shop             string
	CallJobID        string
	ConnectedSeconds int
	Answered         bool
	Voicemail        bool
}

// Billable reports whether the call counts against quota or is charged.
func (u CallUsage) Billable() bool {
	return u.Answered && !u.Voicemail && u.ConnectedSeconds >= MinBillableSeconds
}

// Meter turns finished calls into call charges.
type Meter struct {
	store    Store
	provider BillingProvider
	catalog  Catalog
	log      *slog.Logger
	clock    func() time.Time
	newID    func() string
}

func NewMeter(store Store, provider BillingProvider, catalog Catalog, log *slog.Logger) *Meter {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Meter{
		store:    store,
		provider: provider,
		catalog:  catalog,
		log:      logger.OrDefault(log),
		clock:    time.Now,
		newID:    func() string { return ulid.Make().String() },
	}
}

// ApplyBillingForCall records the call's charge, at most once per call job.
// Redelivered reports get the stored charge back unchanged. On error nothing
// is written, so the caller can safely retry.
func (m *Meter) ApplyBillingForCall(ctx context.Context, u CallUsage) (CallCharge, error) {
	if u.Shop == "" || u.CallJobID == "" || u.ConnectedSeconds < 0 {
		return CallCharge{}, ErrInvalidArgument
	}
	now := m.clock().UTC()
	charge := CallCharge{
		ID:               m.newID(),
		Shop:             u.Shop,
		CallJobID:        u.CallJobID,
		IdempotencyKey:   ChargeKey(u.CallJobID),
		ConnectedSeconds: u.ConnectedSeconds,
		CurrencyCode:     DefaultCurrency,
		CreatedAt:        now,
	}

	if !u.Billable() {
		out, err := m.store.InsertChargeIfAbsent(ctx, charge)
		if err != nil {
			return CallCharge{}, fmt.Errorf("record unbilled call: %w", err)
		}
		return out, nil
	}

	charge.MinutesBilled = BillableMinutes(u.ConnectedSeconds)
	var out CallCharge
	err := m.store.WithinShopTx(ctx, u.Shop, func(ctx context.Context, tx LedgerTx) error {
		if existing, ok, err := tx.ChargeFor(ctx, u.CallJobID); err != nil {
			return err
		} else if ok {
			out = existing
			return nil
		}

		row := tx.Shop()
		spec, ok := m.catalog.Lookup(row.Plan)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownPlan, row.Plan)
		}
		if err := m.meter(ctx, &row, spec, &charge); err != nil {
			return err
		}
		if err := tx.SaveShop(ctx, row); err != nil {
			return fmt.Errorf("save usage: %w", err)
		}
		if err := tx.InsertCharge(ctx, charge); err != nil {
			return fmt.Errorf("insert charge: %w", err)
		}
		out = charge
		return nil
	})
	if errors.Is(err, ErrChargeExists) {
		// A concurrent delivery recorded the call first.
		return m.store.ChargeByCallJob(ctx, u.CallJobID)
	}
	if err != nil {
		return CallCharge{}, err
	}
	if out.ID == charge.ID {
		m.log.Info("call metered",
			"shop", u.Shop,
			"job_id", u.CallJobID,
			"minutes", out.MinutesBilled,
			"overage_minutes", out.OverageMinutes,
			"amount_cents", out.AmountCents,
		)
	}
	return out, nil
}

// meter consumes quota on row and prices the remainder into c.
func (m *Meter) meter(ctx context.Context, row *ShopBilling, spec PlanSpec, c *CallCharge) error {
	seconds := c.MinutesBilled * 60

	if row.Plan == PlanFree {
		row.FreeSecondsUsed += clamp(seconds, spec.FreeSeconds-row.FreeSecondsUsed)
		return nil
	}

	if row.UsageLineItemID == "" {
		id, err := m.provider.SyncUsageLineItem(ctx, *row)
		if err != nil {
			return fmt.Errorf("sync usage line item: %w", err)
		}
		if id == "" {
			return fmt.Errorf("%w: shop %s", ErrUsageLineItemMissing, row.Shop)
		}
		row.UsageLineItemID = id
	}

	consumed := clamp(seconds, spec.IncludedSeconds()-row.IncludedSecondsUsed)
	row.IncludedSecondsUsed += consumed
	c.OverageMinutes = ceilMinutes(seconds - consumed)
	c.AmountCents = spec.OverageCents(c.OverageMinutes)
	if c.AmountCents == 0 {
		return nil
	}

	recordID, err := m.provider.CreateUsageCharge(ctx, UsageCharge{
		Shop:           row.Shop,
		CustomerID:     row.CustomerID,
		SubscriptionID: row.SubscriptionID,
		LineItemID:     row.UsageLineItemID,
		AmountCents:    c.AmountCents,
		Currency:       c.CurrencyCode,
		IdempotencyKey: c.IdempotencyKey,
		Description:    fmt.Sprintf("Recovery call %s: %d overage min", c.CallJobID, c.OverageMinutes),
	})
	if err != nil {
		return fmt.Errorf("create usage charge: %w", err)
	}
	c.UsageRecordID = recordID
	return nil
}

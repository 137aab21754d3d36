package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"recovery-caller/pkg/utils"
)

// NOTE: tables are created by migrations/0001_init.sql:
// - shop_billing (one row per shop, locked FOR UPDATE by the meter)
// - call_charges (append-only, UNIQUE call_job_id and idempotency_key)
// - coupons, coupon_redemptions

type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

const shopColumns = `
shop, plan, status,
COALESCE(customer_id, ''), COALESCE(subscription_id, ''),
COALESCE(usage_line_item_id, ''), COALESCE(recurring_line_item_id, ''),
included_seconds_used, free_seconds_used,
COALESCE(pending_plan, ''), COALESCE(pending_coupon_code, ''), COALESCE(pending_coupon_percent, 0),
updated_at`

func scanShop(row interface{ Scan(...any) error }) (ShopBilling, error) {
	var b ShopBilling
	err := row.Scan(
		&b.Shop,
		&b.Plan,
		&b.Status,
		&b.CustomerID,
		&b.SubscriptionID,
		&b.UsageLineItemID,
		&b.RecurringLineItemID,
		&b.IncludedSecondsUsed,
		&b.FreeSecondsUsed,
		&b.PendingPlan,
		&b.PendingCouponCode,
		&b.PendingCouponPercent,
		&b.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return ShopBilling{}, ErrNotFound
	}
	return b, err
}

func ensureShop(ctx context.Context, q utils.DBTX, shop string, now time.Time) error {
	const stmt = `
INSERT INTO shop_billing (shop, plan, status, included_seconds_used, free_seconds_used, updated_at)
VALUES ($1, 'FREE', 'NONE', 0, 0, $2)
ON CONFLICT (shop) DO NOTHING
`
	_, err := q.ExecContext(ctx, stmt, shop, now)
	return err
}

func (s *PostgresStore) GetShopBilling(ctx context.Context, shop string) (ShopBilling, error) {
	if shop == "" {
		return ShopBilling{}, ErrInvalidArgument
	}
	if err := ensureShop(ctx, s.db, shop, s.clock().UTC()); err != nil {
		return ShopBilling{}, fmt.Errorf("ensure shop billing: %w", err)
	}
	return scanShop(s.db.QueryRowContext(ctx, `SELECT `+shopColumns+` FROM shop_billing WHERE shop = $1`, shop))
}

func (s *PostgresStore) ShopBySubscription(ctx context.Context, subscriptionID string) (ShopBilling, error) {
	if subscriptionID == "" {
		return ShopBilling{}, ErrNotFound
	}
	return scanShop(s.db.QueryRowContext(ctx, `SELECT `+shopColumns+` FROM shop_billing WHERE subscription_id = $1`, subscriptionID))
}

type pgTx struct {
	tx  *sql.Tx
	row ShopBilling
	now time.Time
}

func (t *pgTx) Shop() ShopBilling { return t.row }

func (t *pgTx) ChargeFor(ctx context.Context, callJobID string) (CallCharge, bool, error) {
	c, err := scanCharge(t.tx.QueryRowContext(ctx, `SELECT `+chargeColumns+` FROM call_charges WHERE call_job_id = $1`, callJobID))
	if errors.Is(err, ErrNotFound) {
		return CallCharge{}, false, nil
	}
	if err != nil {
		return CallCharge{}, false, err
	}
	return c, true, nil
}

func (t *pgTx) InsertCharge(ctx context.Context, c CallCharge) error {
	_, err := t.tx.ExecContext(ctx, insertChargeSQL, chargeArgs(c)...)
	return insertChargeErr(err, c.CallJobID)
}

// insertChargeErr maps a lost race on call_charges.call_job_id to
// ErrChargeExists.
func insertChargeErr(err error, callJobID string) error {
	if utils.IsUniqueViolation(err) {
		return fmt.Errorf("%w: call job %s", ErrChargeExists, callJobID)
	}
	return err
}

func (t *pgTx) SaveShop(ctx context.Context, b ShopBilling) error {
	const q = `
UPDATE shop_billing SET
  plan = $2,
  status = $3,
  customer_id = NULLIF($4, ''),
  subscription_id = NULLIF($5, ''),
  usage_line_item_id = NULLIF($6, ''),
  recurring_line_item_id = NULLIF($7, ''),
  included_seconds_used = GREATEST(included_seconds_used, $8),
  free_seconds_used = GREATEST(free_seconds_used, $9),
  pending_plan = NULLIF($10, ''),
  pending_coupon_code = NULLIF($11, ''),
  pending_coupon_percent = NULLIF($12, 0),
  updated_at = $13
WHERE shop = $1
`
	_, err := t.tx.ExecContext(ctx, q,
		b.Shop,
		b.Plan,
		b.Status,
		b.CustomerID,
		b.SubscriptionID,
		b.UsageLineItemID,
		b.RecurringLineItemID,
		b.IncludedSecondsUsed,
		b.FreeSecondsUsed,
		b.PendingPlan,
		b.PendingCouponCode,
		b.PendingCouponPercent,
		t.now,
	)
	return err
}

func (s *PostgresStore) WithinShopTx(ctx context.Context, shop string, fn func(ctx context.Context, tx LedgerTx) error) error {
	if shop == "" {
		return ErrInvalidArgument
	}
	now := s.clock().UTC()
	return utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		if err := ensureShop(ctx, tx, shop, now); err != nil {
			return fmt.Errorf("ensure shop billing: %w", err)
		}
		// Serializes metering and subscription changes per shop.
		row, err := scanShop(tx.QueryRowContext(ctx, `SELECT `+shopColumns+` FROM shop_billing WHERE shop = $1 FOR UPDATE`, shop))
		if err != nil {
			return fmt.Errorf("lock shop billing: %w", err)
		}
		return fn(ctx, &pgTx{tx: tx, row: row, now: now})
	})
}

const chargeColumns = `
id, shop, call_job_id, idempotency_key, connected_seconds, minutes_billed, overage_minutes,
amount_cents, currency_code, COALESCE(usage_record_id, ''), created_at`

const insertChargeSQL = `
INSERT INTO call_charges (
  id, shop, call_job_id, idempotency_key, connected_seconds, minutes_billed, overage_minutes,
  amount_cents, currency_code, usage_record_id, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,NULLIF($10, ''),$11
)
`

func chargeArgs(c CallCharge) []any {
	return []any{
		c.ID,
		c.Shop,
		c.CallJobID,
		c.IdempotencyKey,
		c.ConnectedSeconds,
		c.MinutesBilled,
		c.OverageMinutes,
		c.AmountCents,
		c.CurrencyCode,
		c.UsageRecordID,
		c.CreatedAt,
	}
}

func scanCharge(row interface{ Scan(...any) error }) (CallCharge, error) {
	var c CallCharge
	err := row.Scan(
		&c.ID,
		&c.Shop,
		&c.CallJobID,
		&c.IdempotencyKey,
		&c.ConnectedSeconds,
		&c.MinutesBilled,
		&c.OverageMinutes,
		&c.AmountCents,
		&c.CurrencyCode,
		&c.UsageRecordID,
		&c.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return CallCharge{}, ErrNotFound
	}
	return c, err
}

func (s *PostgresStore) InsertChargeIfAbsent(ctx context.Context, c CallCharge) (CallCharge, error) {
	res, err := s.db.ExecContext(ctx, strings.TrimSpace(insertChargeSQL)+` ON CONFLICT (call_job_id) DO NOTHING`, chargeArgs(c)...)
	if err != nil {
		return CallCharge{}, fmt.Errorf("insert charge: %w", err)
	}
	if utils.RowsAffected(res) == 1 {
		return c, nil
	}
	return s.ChargeByCallJob(ctx, c.CallJobID)
}

func (s *PostgresStore) ChargeByCallJob(ctx context.Context, callJobID string) (CallCharge, error) {
	return scanCharge(s.db.QueryRowContext(ctx, `SELECT `+chargeColumns+` FROM call_charges WHERE call_job_id = $1`, callJobID))
}

func (s *PostgresStore) ListCharges(ctx context.Context, shop string, from, to time.Time) ([]CallCharge, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+chargeColumns+`
FROM call_charges
WHERE shop = $1 AND created_at >= $2 AND created_at < $3
ORDER BY id`, shop, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]CallCharge, 0)
	for rows.Next() {
		c, err := scanCharge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetCoupon(ctx context.Context, code string) (Coupon, error) {
	const q = `
SELECT code, percent_off, valid_from, valid_until, COALESCE(array_to_string(plans, ','), ''),
       max_redemptions, max_per_shop, active
FROM coupons
WHERE upper(code) = upper($1)
`
	var (
		c          Coupon
		validUntil sql.NullTime
		plans      string
		maxTotal   sql.NullInt64
		maxShop    sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, q, code).Scan(
		&c.Code,
		&c.PercentOff,
		&c.ValidFrom,
		&validUntil,
		&plans,
		&maxTotal,
		&maxShop,
		&c.Active,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Coupon{}, ErrNotFound
		}
		return Coupon{}, err
	}
	if validUntil.Valid {
		t := validUntil.Time
		c.ValidUntil = &t
	}
	for _, p := range strings.Split(plans, ",") {
		if p != "" {
			c.Plans = append(c.Plans, Plan(p))
		}
	}
	if maxTotal.Valid {
		n := int(maxTotal.Int64)
		c.MaxRedemptions = &n
	}
	if maxShop.Valid {
		n := int(maxShop.Int64)
		c.MaxPerShop = &n
	}
	return c, nil
}

func (s *PostgresStore) CouponUsage(ctx context.Context, code, shop string) (int, int, error) {
	const q = `
SELECT COUNT(*), COUNT(*) FILTER (WHERE shop = $2)
FROM coupon_redemptions
WHERE upper(code) = upper($1)
`
	var total, forShop int
	if err := s.db.QueryRowContext(ctx, q, code, shop).Scan(&total, &forShop); err != nil {
		return 0, 0, err
	}
	return total, forShop, nil
}

func (s *PostgresStore) RecordRedemption(ctx context.Context, r CouponRedemption) error {
	const q = `
INSERT INTO coupon_redemptions (code, shop, subscription_id, percent_off, redeemed_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (code, shop, subscription_id) DO NOTHING
`
	_, err := s.db.ExecContext(ctx, q, strings.ToUpper(r.Code), r.Shop, r.SubscriptionID, r.PercentOff, r.RedeemedAt)
	return err
}

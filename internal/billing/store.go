package billing

import (
	"context"
	"time"
)

// Store is the billing ledger: shop billing rows, call charges and coupons.
type Store interface {
	// GetShopBilling returns the shop row, creating FREE/NONE on first reference.
	GetShopBilling(ctx context.Context, shop string) (ShopBilling, error)
	ShopBySubscription(ctx context.Context, subscriptionID string) (ShopBilling, error)

	// WithinShopTx runs fn in one unit of work holding the shop row lock. Any
	// error from fn discards every write made through tx.
	WithinShopTx(ctx context.Context, shop string, fn func(ctx context.Context, tx LedgerTx) error) error

	// InsertChargeIfAbsent stores c unless the call already has a charge, and
	// returns whichever charge is stored.
	InsertChargeIfAbsent(ctx context.Context, c CallCharge) (CallCharge, error)
	ChargeByCallJob(ctx context.Context, callJobID string) (CallCharge, error)
	ListCharges(ctx context.Context, shop string, from, to time.Time) ([]CallCharge, error)

	GetCoupon(ctx context.Context, code string) (Coupon, error)
	// CouponUsage counts confirmed redemptions overall and for one shop.
	CouponUsage(ctx context.Context, code, shop string) (total, forShop int, err error)
	RecordRedemption(ctx context.Context, r CouponRedemption) error
}

// LedgerTx is the view of the store inside WithinShopTx.
type LedgerTx interface {
	// Shop is the locked row as read at the start of the unit of work.
	Shop() ShopBilling
	ChargeFor(ctx context.Context, callJobID string) (CallCharge, bool, error)
	InsertCharge(ctx context.Context, c CallCharge) error
	// SaveShop writes b back. Usage counters never move backwards.
	SaveShop(ctx context.Context, b ShopBilling) error
}

// updateShop is a locked read-modify-write of one shop row.
func updateShop(ctx context.Context, s Store, shop string, fn func(b *ShopBilling) error) (ShopBilling, error) {
	var out ShopBilling
	err := s.WithinShopTx(ctx, shop, func(ctx context.Context, tx LedgerTx) error {
		b := tx.Shop()
		if err := fn(&b); err != nil {
			return err
		}
		if err := tx.SaveShop(ctx, b); err != nil {
			return err
		}
		out = b
		return nil
	})
	return out, err
}

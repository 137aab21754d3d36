package billing

import (
	"errors"
	"time"
)

var (
	ErrNotFound             = errors.New("billing: not found")
	ErrInvalidArgument      = errors.New("billing: invalid argument")
	ErrUnknownPlan          = errors.New("billing: unknown plan")
	ErrInvalidCoupon        = errors.New("billing: invalid coupon")
	ErrUsageLineItemMissing = errors.New("billing: usage line item missing")
	ErrChargeExists         = errors.New("billing: charge already recorded")
)

type Plan string

const (
	PlanFree    Plan = "FREE"
	PlanStarter Plan = "STARTER"
	PlanPro     Plan = "PRO"
	PlanScale   Plan = "SCALE"
	PlanPAYG    Plan = "PAYG"
)

type SubscriptionStatus string

const (
	StatusNone      SubscriptionStatus = "NONE"
	StatusPending   SubscriptionStatus = "PENDING"
	StatusActive    SubscriptionStatus = "ACTIVE"
	StatusCancelled SubscriptionStatus = "CANCELLED"
)

// ShopBilling is the per-shop billing row. It is created on first reference
// as FREE/NONE.
//
// Usage counters only grow and never exceed the plan quota; the meter clamps
// consumption and stores reject decreases.
type ShopBilling struct {
	Shop   string             `json:"shop"`
	Plan   Plan               `json:"plan"`
	Status SubscriptionStatus `json:"status"`

	CustomerID          string `json:"customer_id,omitempty"`
	SubscriptionID      string `json:"subscription_id,omitempty"`
	UsageLineItemID     string `json:"usage_line_item_id,omitempty"`
	RecurringLineItemID string `json:"recurring_line_item_id,omitempty"`

	IncludedSecondsUsed int64 `json:"included_seconds_used"`
	// FreeSecondsUsed is lifetime; plan changes never reset it.
	FreeSecondsUsed int64 `json:"free_seconds_used"`

	PendingPlan          Plan   `json:"pending_plan,omitempty"`
	PendingCouponCode    string `json:"pending_coupon_code,omitempty"`
	PendingCouponPercent int    `json:"pending_coupon_percent,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

func newShopBilling(shop string, now time.Time) ShopBilling {
	return ShopBilling{Shop: shop, Plan: PlanFree, Status: StatusNone, UpdatedAt: now}
}

// CallCharge is the append-only usage record of one call. There is at most one
// per call job.
type CallCharge struct {
	ID               string `json:"id"`
	Shop             string `json:"shop"`
	CallJobID        string `json:"call_job_id"`
	IdempotencyKey   string `json:"idempotency_key"`
	ConnectedSeconds int    `json:"connected_seconds"`
	// MinutesBilled is the rounded call duration; OverageMinutes is the part
	// that fell outside the plan quota and was charged.
	MinutesBilled  int64     `json:"minutes_billed"`
	OverageMinutes int64     `json:"overage_minutes"`
	AmountCents    int64     `json:"amount_cents"`
	CurrencyCode   string    `json:"currency_code"`
	UsageRecordID  string    `json:"usage_record_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ChargeKey is the idempotency key shared by the ledger row and the billing
// provider request for one call.
func ChargeKey(callJobID string) string {
	return "call-charge:" + callJobID
}

// Coupon is a subscription discount. Caps are enforced when a subscription is
// started; a redemption is recorded once it is confirmed.
type Coupon struct {
	Code           string     `json:"code"`
	PercentOff     int        `json:"percent_off"`
	ValidFrom      time.Time  `json:"valid_from"`
	ValidUntil     *time.Time `json:"valid_until,omitempty"`
	Plans          []Plan     `json:"plans,omitempty"`
	MaxRedemptions *int       `json:"max_redemptions,omitempty"`
	MaxPerShop     *int       `json:"max_per_shop,omitempty"`
	Active         bool       `json:"active"`
}

type CouponRedemption struct {
	Code           string    `json:"code"`
	Shop           string    `json:"shop"`
	SubscriptionID string    `json:"subscription_id"`
	PercentOff     int       `json:"percent_off"`
	RedeemedAt     time.Time `json:"redeemed_at"`
}

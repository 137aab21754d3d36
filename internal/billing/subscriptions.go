package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"recovery-caller/pkg/logger"
)

// Subscriptions moves shops between plans. The provider confirms every change;
// Start only records it as pending.
type Subscriptions struct {
	store    Store
	provider BillingProvider
	catalog  Catalog
	log      *slog.Logger
	clock    func() time.Time
}

func NewSubscriptions(store Store, provider BillingProvider, catalog Catalog, log *slog.Logger) *Subscriptions {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Subscriptions{store: store, provider: provider, catalog: catalog, log: logger.OrDefault(log), clock: time.Now}
}

// ValidateCoupon checks c for plan at now given its confirmed redemptions.
func ValidateCoupon(c Coupon, plan Plan, now time.Time, total, forShop int) error {
	switch {
	case !c.Active:
		return fmt.Errorf("%w: %s is inactive", ErrInvalidCoupon, c.Code)
	case now.Before(c.ValidFrom):
		return fmt.Errorf("%w: %s is not valid yet", ErrInvalidCoupon, c.Code)
	case c.ValidUntil != nil && !now.Before(*c.ValidUntil):
		return fmt.Errorf("%w: %s has expired", ErrInvalidCoupon, c.Code)
	case len(c.Plans) > 0 && !slices.Contains(c.Plans, plan):
		return fmt.Errorf("%w: %s does not apply to %s", ErrInvalidCoupon, c.Code, plan)
	case c.MaxRedemptions != nil && total >= *c.MaxRedemptions:
		return fmt.Errorf("%w: %s is fully redeemed", ErrInvalidCoupon, c.Code)
	case c.MaxPerShop != nil && forShop >= *c.MaxPerShop:
		return fmt.Errorf("%w: %s already used by this shop", ErrInvalidCoupon, c.Code)
	}
	return nil
}

// Start creates a provider subscription for plan and marks the shop PENDING
// until the provider confirms it.
func (s *Subscriptions) Start(ctx context.Context, shop string, plan Plan, couponCode string) (SubscriptionResult, error) {
	if shop == "" {
		return SubscriptionResult{}, ErrInvalidArgument
	}
	if !s.catalog.Paid(plan) {
		return SubscriptionResult{}, fmt.Errorf("%w: %s", ErrUnknownPlan, plan)
	}

	var coupon *Coupon
	if code := strings.TrimSpace(couponCode); code != "" {
		c, err := s.store.GetCoupon(ctx, code)
		if errors.Is(err, ErrNotFound) {
			return SubscriptionResult{}, fmt.Errorf("%w: %s not found", ErrInvalidCoupon, code)
		}
		if err != nil {
			return SubscriptionResult{}, fmt.Errorf("load coupon: %w", err)
		}
		total, forShop, err := s.store.CouponUsage(ctx, c.Code, shop)
		if err != nil {
			return SubscriptionResult{}, fmt.Errorf("coupon usage: %w", err)
		}
		if err := ValidateCoupon(c, plan, s.clock().UTC(), total, forShop); err != nil {
			return SubscriptionResult{}, err
		}
		coupon = &c
	}

	current, err := s.store.GetShopBilling(ctx, shop)
	if err != nil {
		return SubscriptionResult{}, fmt.Errorf("load shop billing: %w", err)
	}
	req := SubscriptionRequest{Shop: shop, CustomerID: current.CustomerID, Plan: plan}
	if coupon != nil {
		req.CouponCode = coupon.Code
	}
	res, err := s.provider.CreateSubscription(ctx, req)
	if err != nil {
		return SubscriptionResult{}, fmt.Errorf("create subscription: %w", err)
	}

	_, err = updateShop(ctx, s.store, shop, func(b *ShopBilling) error {
		b.Status = StatusPending
		b.PendingPlan = plan
		b.SubscriptionID = res.SubscriptionID
		if res.CustomerID != "" {
			b.CustomerID = res.CustomerID
		}
		b.PendingCouponCode, b.PendingCouponPercent = "", 0
		if coupon != nil {
			b.PendingCouponCode = coupon.Code
			b.PendingCouponPercent = coupon.PercentOff
		}
		return nil
	})
	if err != nil {
		return SubscriptionResult{}, fmt.Errorf("save pending subscription: %w", err)
	}
	s.log.Info("subscription started", "shop", shop, "plan", plan, "subscription_id", res.SubscriptionID, "coupon", req.CouponCode)
	return res, nil
}

// Confirm activates the pending plan once the provider reports the
// subscription active. Repeated confirmations are no-ops.
func (s *Subscriptions) Confirm(ctx context.Context, subscriptionID string) (ShopBilling, error) {
	current, err := s.store.ShopBySubscription(ctx, subscriptionID)
	if err != nil {
		return ShopBilling{}, err
	}
	info, err := s.provider.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return ShopBilling{}, fmt.Errorf("get subscription: %w", err)
	}
	if !info.Active {
		return current, nil
	}

	if current.PendingCouponCode != "" {
		if err := s.store.RecordRedemption(ctx, CouponRedemption{
			Code:           current.PendingCouponCode,
			Shop:           current.Shop,
			SubscriptionID: subscriptionID,
			PercentOff:     current.PendingCouponPercent,
			RedeemedAt:     s.clock().UTC(),
		}); err != nil {
			return ShopBilling{}, fmt.Errorf("record coupon redemption: %w", err)
		}
	}

	out, err := updateShop(ctx, s.store, current.Shop, func(b *ShopBilling) error {
		if b.SubscriptionID != subscriptionID {
			return fmt.Errorf("%w: subscription %s replaced", ErrNotFound, subscriptionID)
		}
		if b.PendingPlan != "" {
			b.Plan = b.PendingPlan
		}
		b.Status = StatusActive
		if info.UsageLineItemID != "" {
			b.UsageLineItemID = info.UsageLineItemID
		}
		if info.RecurringLineItemID != "" {
			b.RecurringLineItemID = info.RecurringLineItemID
		}
		if info.CustomerID != "" {
			b.CustomerID = info.CustomerID
		}
		b.PendingPlan, b.PendingCouponCode, b.PendingCouponPercent = "", "", 0
		return nil
	})
	if err != nil {
		return ShopBilling{}, err
	}
	s.log.Info("subscription active", "shop", out.Shop, "plan", out.Plan, "subscription_id", subscriptionID)
	return out, nil
}

// Cancel drops the shop back to FREE. Usage counters are kept.
func (s *Subscriptions) Cancel(ctx context.Context, subscriptionID string) (ShopBilling, error) {
	current, err := s.store.ShopBySubscription(ctx, subscriptionID)
	if err != nil {
		return ShopBilling{}, err
	}
	out, err := updateShop(ctx, s.store, current.Shop, func(b *ShopBilling) error {
		b.Plan = PlanFree
		b.Status = StatusCancelled
		b.UsageLineItemID, b.RecurringLineItemID = "", ""
		b.PendingPlan, b.PendingCouponCode, b.PendingCouponPercent = "", "", 0
		return nil
	})
	if err != nil {
		return ShopBilling{}, err
	}
	s.log.Info("subscription cancelled", "shop", out.Shop, "subscription_id", subscriptionID)
	return out, nil
}

// SubscriptionEvent is a provider notification about one subscription.
type SubscriptionEvent struct {
	Type           string
	SubscriptionID string
	Status         string
}

const (
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// HandleEvent applies a provider notification. Events for subscriptions the
// ledger does not know are ignored.
func (s *Subscriptions) HandleEvent(ctx context.Context, ev SubscriptionEvent) error {
	var err error
	switch {
	case ev.Type == EventSubscriptionDeleted, ev.Status == "canceled":
		_, err = s.Cancel(ctx, ev.SubscriptionID)
	case ev.Type == EventSubscriptionCreated, ev.Type == EventSubscriptionUpdated:
		_, err = s.Confirm(ctx, ev.SubscriptionID)
	default:
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		s.log.Warn("subscription event for unknown subscription", "type", ev.Type, "subscription_id", ev.SubscriptionID)
		return nil
	}
	return err
}

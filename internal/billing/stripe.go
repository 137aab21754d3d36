package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82"
	customerpkg "github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/invoiceitem"
	subscriptionpkg "github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"
)

type StripeConfig struct {
	SecretKey string
	// PlanPrices maps each paid plan to its recurring Stripe price id.
	PlanPrices map[string]string
	// UsagePrice is the metered price attached to every paid subscription.
	UsagePrice string
}

// StripeProvider implements BillingProvider on Stripe subscriptions. Overage
// is posted as invoice items on the subscription's next invoice.
type StripeProvider struct {
	cfg StripeConfig
}

func NewStripeProvider(cfg StripeConfig) *StripeProvider {
	stripe.Key = cfg.SecretKey
	return &StripeProvider{cfg: cfg}
}

func (p *StripeProvider) SyncUsageLineItem(ctx context.Context, b ShopBilling) (string, error) {
	if b.SubscriptionID == "" {
		return "", nil
	}
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := subscriptionpkg.Get(b.SubscriptionID, params)
	if err != nil {
		return "", fmt.Errorf("get stripe subscription: %w", err)
	}
	usage, _ := p.lineItems(sub)
	return usage, nil
}

// lineItems finds the metered and the recurring item of sub.
func (p *StripeProvider) lineItems(sub *stripe.Subscription) (usage, recurring string) {
	if sub.Items == nil {
		return "", ""
	}
	for _, item := range sub.Items.Data {
		if item.Price == nil {
			continue
		}
		metered := item.Price.ID == p.cfg.UsagePrice ||
			(item.Price.Recurring != nil && item.Price.Recurring.UsageType == stripe.PriceRecurringUsageTypeMetered)
		if metered && usage == "" {
			usage = item.ID
		} else if !metered && recurring == "" {
			recurring = item.ID
		}
	}
	return usage, recurring
}

func (p *StripeProvider) CreateUsageCharge(ctx context.Context, c UsageCharge) (string, error) {
	if c.CustomerID == "" {
		return "", fmt.Errorf("%w: shop %s has no stripe customer", ErrInvalidArgument, c.Shop)
	}
	params := &stripe.InvoiceItemParams{
		Customer:    stripe.String(c.CustomerID),
		Amount:      stripe.Int64(c.AmountCents),
		Currency:    stripe.String(strings.ToLower(c.Currency)),
		Description: stripe.String(c.Description),
		Metadata: map[string]string{
			"shop":         c.Shop,
			"line_item_id": c.LineItemID,
		},
	}
	if c.SubscriptionID != "" {
		params.Subscription = stripe.String(c.SubscriptionID)
	}
	params.Context = ctx
	params.SetIdempotencyKey(c.IdempotencyKey)

	item, err := invoiceitem.New(params)
	if err != nil {
		return "", fmt.Errorf("create stripe invoice item: %w", err)
	}
	return item.ID, nil
}

func (p *StripeProvider) CreateSubscription(ctx context.Context, req SubscriptionRequest) (SubscriptionResult, error) {
	price := p.cfg.PlanPrices[string(req.Plan)]
	if price == "" {
		return SubscriptionResult{}, fmt.Errorf("%w: no stripe price for %s", ErrUnknownPlan, req.Plan)
	}

	customerID := req.CustomerID
	if customerID == "" {
		cp := &stripe.CustomerParams{
			Name:     stripe.String(req.Shop),
			Metadata: map[string]string{"shop": req.Shop},
		}
		cp.Context = ctx
		cust, err := customerpkg.New(cp)
		if err != nil {
			return SubscriptionResult{}, fmt.Errorf("create stripe customer: %w", err)
		}
		customerID = cust.ID
	}

	items := []*stripe.SubscriptionItemsParams{{Price: stripe.String(price), Quantity: stripe.Int64(1)}}
	if p.cfg.UsagePrice != "" {
		items = append(items, &stripe.SubscriptionItemsParams{Price: stripe.String(p.cfg.UsagePrice)})
	}
	params := &stripe.SubscriptionParams{
		Customer:        stripe.String(customerID),
		Items:           items,
		PaymentBehavior: stripe.String("default_incomplete"),
		Metadata:        map[string]string{"shop": req.Shop, "plan": string(req.Plan)},
	}
	if req.CouponCode != "" {
		params.Discounts = []*stripe.SubscriptionDiscountParams{{Coupon: stripe.String(req.CouponCode)}}
	}
	params.AddExpand("latest_invoice")
	params.Context = ctx

	sub, err := subscriptionpkg.New(params)
	if err != nil {
		return SubscriptionResult{}, fmt.Errorf("create stripe subscription: %w", err)
	}
	res := SubscriptionResult{CustomerID: customerID, SubscriptionID: sub.ID}
	if sub.LatestInvoice != nil {
		res.ConfirmationURL = sub.LatestInvoice.HostedInvoiceURL
	}
	return res, nil
}

func (p *StripeProvider) GetSubscription(ctx context.Context, subscriptionID string) (SubscriptionInfo, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := subscriptionpkg.Get(subscriptionID, params)
	if err != nil {
		return SubscriptionInfo{}, fmt.Errorf("get stripe subscription: %w", err)
	}
	info := SubscriptionInfo{
		ID:       sub.ID,
		Active:   sub.Status == stripe.SubscriptionStatusActive || sub.Status == stripe.SubscriptionStatusTrialing,
		Canceled: sub.Status == stripe.SubscriptionStatusCanceled,
	}
	if sub.Customer != nil {
		info.CustomerID = sub.Customer.ID
	}
	info.UsageLineItemID, info.RecurringLineItemID = p.lineItems(sub)
	return info, nil
}

// ParseStripeEvent verifies a webhook signature and extracts the subscription
// part of the event. Events that are not about subscriptions come back with
// an empty SubscriptionID.
func ParseStripeEvent(payload []byte, signature, secret string) (SubscriptionEvent, error) {
	event, err := webhook.ConstructEvent(payload, signature, secret)
	if err != nil {
		return SubscriptionEvent{}, fmt.Errorf("verify stripe webhook: %w", err)
	}
	ev := SubscriptionEvent{Type: string(event.Type)}
	if !strings.HasPrefix(ev.Type, "customer.subscription.") || event.Data == nil {
		return ev, nil
	}
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return SubscriptionEvent{}, fmt.Errorf("decode stripe subscription: %w", err)
	}
	ev.SubscriptionID = sub.ID
	ev.Status = string(sub.Status)
	return ev, nil
}

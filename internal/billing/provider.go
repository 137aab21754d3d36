package billing

import "context"

// BillingProvider is the external billing system. It is the source of truth
// for subscription state; the ledger mirrors it.
type BillingProvider interface {
	// SyncUsageLineItem looks up the metered line item on the shop's
	// subscription. An empty id with a nil error means there is none.
	SyncUsageLineItem(ctx context.Context, b ShopBilling) (string, error)
	// CreateUsageCharge posts an overage charge. Repeating a request with the
	// same IdempotencyKey must not charge twice.
	CreateUsageCharge(ctx context.Context, c UsageCharge) (string, error)
	CreateSubscription(ctx context.Context, req SubscriptionRequest) (SubscriptionResult, error)
	GetSubscription(ctx context.Context, subscriptionID string) (SubscriptionInfo, error)
}

type UsageCharge struct {
	Shop           string
	CustomerID     string
	SubscriptionID string
	LineItemID     string
	AmountCents    int64
	Currency       string
	IdempotencyKey string
	Description    string
}

type SubscriptionRequest struct {
	Shop       string
	CustomerID string
	Plan       Plan
	CouponCode string
}

type SubscriptionResult struct {
	CustomerID     string `json:"customer_id"`
	SubscriptionID string `json:"subscription_id"`
	// ConfirmationURL is where the merchant approves the charge, if the
	// provider needs that step.
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

type SubscriptionInfo struct {
	ID                  string
	CustomerID          string
	Active              bool
	Canceled            bool
	UsageLineItemID     string
	RecurringLineItemID string
}

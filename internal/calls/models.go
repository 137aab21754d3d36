package calls

import (
	"time"

	"github.com/shopspring/decimal"
)

// CallJob is one scheduled or attempted outbound recovery call for one checkout.
//
// Lifecycle: QUEUED -> CALLING (dispatcher claim) -> COMPLETED | FAILED, or back to
// QUEUED for a retry while attempts remain.
type CallJob struct {
	ID         string `json:"id"`
	Shop       string `json:"shop"`
	CheckoutID string `json:"checkout_id"`
	Phone      string `json:"phone"`

	Status       Status    `json:"status"`
	Attempts     int       `json:"attempts"`
	ScheduledFor time.Time `json:"scheduled_for"`

	ProviderCallID   string `json:"provider_call_id,omitempty"`
	Outcome          string `json:"outcome,omitempty"`
	Transcript       string `json:"transcript,omitempty"`
	EndedReason      string `json:"ended_reason,omitempty"`
	ConnectedSeconds int    `json:"connected_seconds"`

	Metadata Metadata `json:"metadata"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusCalling   Status = "CALLING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

// Metadata is the typed view of the call_jobs.metadata JSONB column.
// Sections are optional and persisted with additive merges only.
type Metadata struct {
	Checkout *Checkout    `json:"checkout,omitempty"`
	Offer    *OfferRecord `json:"offer,omitempty"`
	Billing  *BillingNote `json:"billing,omitempty"`
}

// Checkout is the snapshot written when the job is enqueued.
type Checkout struct {
	RecoveryURL  string           `json:"recovery_url,omitempty"`
	CartTotal    *decimal.Decimal `json:"cart_total,omitempty"`
	Currency     string           `json:"currency,omitempty"`
	CustomerName string           `json:"customer_name,omitempty"`
}

type OfferType string

const (
	OfferLinkOnly     OfferType = "link_only"
	OfferDiscount     OfferType = "discount"
	OfferFreeShipping OfferType = "free_shipping"
)

func (t OfferType) Valid() bool {
	switch t {
	case OfferLinkOnly, OfferDiscount, OfferFreeShipping:
		return true
	default:
		return false
	}
}

// CarriesCode reports whether the offer type needs a storefront discount code.
func (t OfferType) CarriesCode() bool { return t == OfferDiscount || t == OfferFreeShipping }

// OfferRecord is what a tool call sent to the customer. Later attempts read it
// as memory of the previous call; redelivered tool calls read it to stay idempotent.
type OfferRecord struct {
	OfferType       OfferType  `json:"offer_type,omitempty"`
	OfferCode       string     `json:"offer_code,omitempty"`
	DiscountPercent int        `json:"discount_percent,omitempty"`
	DiscountNodeID  string     `json:"discount_node_id,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	SMSSentAt       *time.Time `json:"sms_sent_at,omitempty"`
	SMSMessageSID   string     `json:"sms_message_sid,omitempty"`
	LastToolCallID  string     `json:"last_tool_call_id,omitempty"`
}

// Merge copies every set field of p onto o. Unset fields in p never clear o.
func (o *OfferRecord) Merge(p OfferRecord) {
	if p.OfferType != "" {
		o.OfferType = p.OfferType
	}
	if p.OfferCode != "" {
		o.OfferCode = p.OfferCode
	}
	if p.DiscountPercent != 0 {
		o.DiscountPercent = p.DiscountPercent
	}
	if p.DiscountNodeID != "" {
		o.DiscountNodeID = p.DiscountNodeID
	}
	if p.ExpiresAt != nil {
		t := *p.ExpiresAt
		o.ExpiresAt = &t
	}
	if p.SMSSentAt != nil {
		t := *p.SMSSentAt
		o.SMSSentAt = &t
	}
	if p.SMSMessageSID != "" {
		o.SMSMessageSID = p.SMSMessageSID
	}
	if p.LastToolCallID != "" {
		o.LastToolCallID = p.LastToolCallID
	}
}

// BillingNote records the metering outcome for the call.
type BillingNote struct {
	ChargeID    string     `json:"charge_id,omitempty"`
	ChargedAt   *time.Time `json:"charged_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	LastErrorAt *time.Time `json:"last_error_at,omitempty"`
}

func (b *BillingNote) Merge(p BillingNote) {
	if p.ChargeID != "" {
		b.ChargeID = p.ChargeID
	}
	if p.ChargedAt != nil {
		t := *p.ChargedAt
		b.ChargedAt = &t
	}
	if p.LastError != "" {
		b.LastError = p.LastError
	}
	if p.LastErrorAt != nil {
		t := *p.LastErrorAt
		b.LastErrorAt = &t
	}
}

func (m Metadata) clone() Metadata {
	out := Metadata{}
	if m.Checkout != nil {
		c := *m.Checkout
		out.Checkout = &c
	}
	if m.Offer != nil {
		o := OfferRecord{}
		o.Merge(*m.Offer)
		out.Offer = &o
	}
	if m.Billing != nil {
		b := BillingNote{}
		b.Merge(*m.Billing)
		out.Billing = &b
	}
	return out
}

// Finish is the terminal (or retry) transition applied when a call ends.
type Finish struct {
	// ProviderCallID, when set, limits the transition to the attempt that
	// placed that call.
	ProviderCallID   string
	Status           Status
	Outcome          string
	EndedReason      string
	ConnectedSeconds int
	Transcript       string    // replaces the incremental transcript when set
	NextAttemptAt    time.Time // only for StatusQueued
}

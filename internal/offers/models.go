package offers

import (
	"context"
	"errors"
	"time"

	"recovery-caller/internal/calls"
)

// ToolName is the function the voice agent calls to send an offer.
const ToolName = "send_offer"

// ErrDuplicateCode is returned by a DiscountProvider when the candidate code
// already exists. It is the only creation error worth retrying.
var ErrDuplicateCode = errors.New("offers: discount code already exists")

// ToolCallRequest is one send_offer invocation from the voice agent.
type ToolCallRequest struct {
	Shop            string          `json:"shop" validate:"required"`
	CallJobID       string          `json:"call_job_id" validate:"required"`
	ToolCallID      string          `json:"tool_call_id" validate:"required"`
	OfferType       calls.OfferType `json:"offer_type" validate:"required,oneof=link_only discount free_shipping"`
	DiscountPercent int             `json:"discount_percent" validate:"gte=0,lte=100"`
}

// ToolResult is the payload handed back to the agent. Redeliveries of the
// same tool call get an identical value.
type ToolResult struct {
	OfferType       calls.OfferType `json:"offer_type"`
	OfferCode       string          `json:"offer_code,omitempty"`
	DiscountPercent int             `json:"discount_percent,omitempty"`
	ExpiresAt       *time.Time      `json:"expires_at,omitempty"`
	SMSSent         bool            `json:"sms_sent"`
	Message         string          `json:"message"`
}

// Tool error codes the agent can react to.
const (
	CodeInvalidArguments     = "invalid_arguments"
	CodeJobNotFound          = "job_not_found"
	CodeDiscountDisabled     = "discount_disabled"
	CodePercentOutOfRange    = "percent_out_of_range"
	CodeFreeShippingDisabled = "free_shipping_disabled"
	CodeCartBelowMinimum     = "cart_below_minimum"
	CodeOfferInProgress      = "offer_in_progress"
	CodeCodeUnavailable      = "code_unavailable"
)

// ToolError is a policy or validation failure reported to the agent as data.
type ToolError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ToolError) Error() string { return e.Code + ": " + e.Message }

type DiscountRequest struct {
	Shop        string
	AccessToken string
	Title       string
	Code        string
	// Percent is ignored for free-shipping codes.
	Percent  int
	StartsAt time.Time
	EndsAt   time.Time
}

type DiscountCode struct {
	NodeID string
	Code   string
}

// DiscountProvider creates single-use storefront codes.
type DiscountProvider interface {
	CreateDiscountCode(ctx context.Context, req DiscountRequest) (DiscountCode, error)
	CreateFreeShippingCode(ctx context.Context, req DiscountRequest) (DiscountCode, error)
}

// SMSSender delivers a text message and returns the provider message id.
type SMSSender interface {
	Send(ctx context.Context, to, body string) (string, error)
}

package merchants

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DefaultTimezone        = "UTC"
	DefaultWindowStart     = "09:00"
	DefaultWindowEnd       = "19:00"
	DefaultMaxAttempts     = 3
	DefaultRetryMinutes    = 180
	DefaultMaxDiscount     = 20
	DefaultValidityHours   = 48
	DefaultCodePrefix      = "SAVE"
	DefaultCurrency        = "USD"
	defaultShopDisplayName = "our store"
)

var ErrInvalidSettings = errors.New("merchants: invalid settings")

// Settings is the merchant-owned configuration this service reads but never writes.
type Settings struct {
	Shop     string `json:"shop"`
	ShopName string `json:"shop_name"`

	Timezone    string `json:"timezone"`
	WindowStart string `json:"call_window_start"` // HH:MM local time
	WindowEnd   string `json:"call_window_end"`

	MaxAttempts  int `json:"max_attempts"`
	RetryMinutes int `json:"retry_minutes"`

	DiscountEnabled     bool             `json:"discount_enabled"`
	MaxDiscountPercent  int              `json:"max_discount_percent"`
	FreeShippingEnabled bool             `json:"free_shipping_enabled"`
	MinCartValue        *decimal.Decimal `json:"min_cart_value,omitempty"`
	ValidityHours       int              `json:"discount_validity_hours"`
	CodePrefix          string           `json:"discount_code_prefix"`
	SMSTemplate         string           `json:"sms_template,omitempty"`
	Currency            string           `json:"currency"`

	// ShopifyAccessToken is the Admin API token used for discount creation.
	ShopifyAccessToken string `json:"-"`
}

// WithDefaults fills every unset field with its documented default.
func (s Settings) WithDefaults() Settings {
	out := s
	if strings.TrimSpace(out.Timezone) == "" {
		out.Timezone = DefaultTimezone
	}
	if out.WindowStart == "" {
		out.WindowStart = DefaultWindowStart
	}
	if out.WindowEnd == "" {
		out.WindowEnd = DefaultWindowEnd
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = DefaultMaxAttempts
	}
	if out.RetryMinutes <= 0 {
		out.RetryMinutes = DefaultRetryMinutes
	}
	if out.MaxDiscountPercent <= 0 {
		out.MaxDiscountPercent = DefaultMaxDiscount
	}
	if out.ValidityHours <= 0 {
		out.ValidityHours = DefaultValidityHours
	}
	if out.CodePrefix == "" {
		out.CodePrefix = DefaultCodePrefix
	}
	if out.Currency == "" {
		out.Currency = DefaultCurrency
	}
	if out.ShopName == "" {
		out.ShopName = defaultShopDisplayName
	}
	return out
}

// Window is the daily call-time window in the merchant's timezone.
type Window struct {
	Start    time.Duration // offset from local midnight
	End      time.Duration
	Location *time.Location
}

// CallWindow parses the configured window. An unknown timezone or malformed
// clock value is a configuration error.
func (s Settings) CallWindow() (Window, error) {
	s = s.WithDefaults()
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return Window{}, fmt.Errorf("%w: timezone %q", ErrInvalidSettings, s.Timezone)
	}
	start, err := parseClock(s.WindowStart)
	if err != nil {
		return Window{}, err
	}
	end, err := parseClock(s.WindowEnd)
	if err != nil {
		return Window{}, err
	}
	if end <= start {
		return Window{}, fmt.Errorf("%w: window end %s must be after start %s", ErrInvalidSettings, s.WindowEnd, s.WindowStart)
	}
	return Window{Start: start, End: end, Location: loc}, nil
}

// RetryDelay is the wait before a failed or unanswered call is retried.
func (s Settings) RetryDelay() time.Duration {
	return time.Duration(s.WithDefaults().RetryMinutes) * time.Minute
}

func parseClock(v string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%w: clock %q", ErrInvalidSettings, v)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

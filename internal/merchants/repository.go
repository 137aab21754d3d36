package merchants

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"
)

// Store reads merchant settings. A shop without a settings row gets defaults.
type Store interface {
	Get(ctx context.Context, shop string) (Settings, error)
}

// PostgresStore reads the merchant_settings table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) Get(ctx context.Context, shop string) (Settings, error) {
	const q = `
SELECT shop, shop_name, timezone, call_window_start, call_window_end,
       max_attempts, retry_minutes,
       discount_enabled, max_discount_percent, free_shipping_enabled, min_cart_value,
       discount_validity_hours, discount_code_prefix, sms_template, currency,
       shopify_access_token
FROM merchant_settings
WHERE shop = $1
`
	var (
		out      Settings
		minCart  decimal.NullDecimal
		shopName sql.NullString
		tmpl     sql.NullString
		token    sql.NullString
	)
	err := s.db.QueryRowContext(ctx, q, shop).Scan(
		&out.Shop,
		&shopName,
		&out.Timezone,
		&out.WindowStart,
		&out.WindowEnd,
		&out.MaxAttempts,
		&out.RetryMinutes,
		&out.DiscountEnabled,
		&out.MaxDiscountPercent,
		&out.FreeShippingEnabled,
		&minCart,
		&out.ValidityHours,
		&out.CodePrefix,
		&tmpl,
		&out.Currency,
		&token,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Settings{Shop: shop}.WithDefaults(), nil
	}
	if err != nil {
		return Settings{}, err
	}
	out.ShopName = shopName.String
	out.SMSTemplate = tmpl.String
	out.ShopifyAccessToken = token.String
	if minCart.Valid {
		v := minCart.Decimal
		out.MinCartValue = &v
	}
	return out.WithDefaults(), nil
}

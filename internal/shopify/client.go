package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"recovery-caller/internal/offers"
	"recovery-caller/internal/retry"
	"recovery-caller/pkg/logger"
)

// APIError is a non-2xx answer from the Admin API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("shopify admin api error: %s (status: %d)", e.Message, e.Status)
}

func (e *APIError) IsRateLimited() bool {
	return e.Status == http.StatusTooManyRequests
}

// UserError is one entry of a mutation's userErrors list.
type UserError struct {
	Field   []string `json:"field"`
	Code    string   `json:"code"`
	Message string   `json:"message"`
}

const (
	defaultTimeout    = 10 * time.Second
	defaultAPIVersion = "2025-01"
	rateLimitAttempts = 3
	rateLimitBackoff  = time.Second
)

type Config struct {
	APIVersion string
	Timeout    time.Duration
}

// Client creates discount codes through the Admin GraphQL API. It implements
// offers.DiscountProvider.
type Client struct {
	httpClient *http.Client
	apiVersion string
	log        *slog.Logger
	// endpoint resolves the GraphQL URL of a shop.
	endpoint func(shop string) string
	backoff  time.Duration
}

func NewClient(cfg Config, log *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultAPIVersion
	}
	c := &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		apiVersion: cfg.APIVersion,
		log:        logger.OrDefault(log),
		backoff:    rateLimitBackoff,
	}
	c.endpoint = func(shop string) string {
		return fmt.Sprintf("https://%s/admin/api/%s/graphql.json", shop, c.apiVersion)
	}
	return c
}

const basicCreateMutation = `mutation discountCodeBasicCreate($basicCodeDiscount: DiscountCodeBasicInput!) {
  discountCodeBasicCreate(basicCodeDiscount: $basicCodeDiscount) {
    codeDiscountNode { id }
    userErrors { field code message }
  }
}`

const freeShippingCreateMutation = `mutation discountCodeFreeShippingCreate($freeShippingCodeDiscount: DiscountCodeFreeShippingInput!) {
  discountCodeFreeShippingCreate(freeShippingCodeDiscount: $freeShippingCodeDiscount) {
    codeDiscountNode { id }
    userErrors { field code message }
  }
}`

type createPayload struct {
	CodeDiscountNode *struct {
		ID string `json:"id"`
	} `json:"codeDiscountNode"`
	UserErrors []UserError `json:"userErrors"`
}

// CreateDiscountCode creates a single-use percentage code valid for the whole order.
func (c *Client) CreateDiscountCode(ctx context.Context, req offers.DiscountRequest) (offers.DiscountCode, error) {
	if req.Percent < 1 || req.Percent > 100 {
		return offers.DiscountCode{}, fmt.Errorf("shopify: discount percent %d out of range", req.Percent)
	}
	input := commonInput(req)
	input["customerGets"] = map[string]any{
		"value": map[string]any{"percentage": float64(req.Percent) / 100},
		"items": map[string]any{"all": true},
	}
	vars := map[string]any{"basicCodeDiscount": input}

	var data struct {
		Payload createPayload `json:"discountCodeBasicCreate"`
	}
	if err := c.graphql(ctx, req.Shop, req.AccessToken, basicCreateMutation, vars, &data); err != nil {
		return offers.DiscountCode{}, err
	}
	return result(req.Code, data.Payload)
}

// CreateFreeShippingCode creates a single-use free shipping code for every destination.
func (c *Client) CreateFreeShippingCode(ctx context.Context, req offers.DiscountRequest) (offers.DiscountCode, error) {
	input := commonInput(req)
	input["destination"] = map[string]any{"all": true}
	vars := map[string]any{"freeShippingCodeDiscount": input}

	var data struct {
		Payload createPayload `json:"discountCodeFreeShippingCreate"`
	}
	if err := c.graphql(ctx, req.Shop, req.AccessToken, freeShippingCreateMutation, vars, &data); err != nil {
		return offers.DiscountCode{}, err
	}
	return result(req.Code, data.Payload)
}

func commonInput(req offers.DiscountRequest) map[string]any {
	return map[string]any{
		"title":                  req.Title,
		"code":                   req.Code,
		"startsAt":               req.StartsAt.UTC().Format(time.RFC3339),
		"endsAt":                 req.EndsAt.UTC().Format(time.RFC3339),
		"customerSelection":      map[string]any{"all": true},
		"appliesOncePerCustomer": true,
		"usageLimit":             1,
	}
}

func result(code string, p createPayload) (offers.DiscountCode, error) {
	if len(p.UserErrors) > 0 {
		msgs := make([]string, 0, len(p.UserErrors))
		for _, ue := range p.UserErrors {
			if isTaken(ue) {
				return offers.DiscountCode{}, fmt.Errorf("code %s: %w", code, offers.ErrDuplicateCode)
			}
			msgs = append(msgs, ue.Message)
		}
		return offers.DiscountCode{}, fmt.Errorf("shopify: discount rejected: %s", strings.Join(msgs, "; "))
	}
	if p.CodeDiscountNode == nil || p.CodeDiscountNode.ID == "" {
		return offers.DiscountCode{}, errors.New("shopify: discount created without a node id")
	}
	return offers.DiscountCode{NodeID: p.CodeDiscountNode.ID, Code: code}, nil
}

func isTaken(ue UserError) bool {
	if ue.Code == "TAKEN" {
		return true
	}
	return strings.Contains(strings.ToLower(ue.Message), "must be unique")
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func isRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsRateLimited()
}

// graphql posts one operation and decodes its data into out. Throttled
// requests were never executed, so only those are retried.
func (c *Client) graphql(ctx context.Context, shop, token, query string, vars map[string]any, out any) error {
	if shop == "" || token == "" {
		return errors.New("shopify: shop and access token are required")
	}
	body, err := json.Marshal(graphqlRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("marshal graphql request: %w", err)
	}

	var raw []byte
	err = retry.Do(ctx, rateLimitAttempts, isRateLimited, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			c.log.Warn("shopify throttled, retrying", "shop", shop, "attempt", attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff):
			}
		}
		raw, err = c.doRequest(ctx, shop, token, body)
		return err
	})
	if err != nil {
		return err
	}

	var resp graphqlResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("decode graphql response: %w", err)
	}
	if len(resp.Errors) > 0 {
		return &APIError{Status: http.StatusOK, Message: resp.Errors[0].Message}
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("decode graphql data: %w", err)
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, shop, token string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(shop), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("X-Shopify-Access-Token", token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode >= 400 {
		msg := strings.TrimSpace(string(raw))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &APIError{Status: resp.StatusCode, Message: msg}
	}
	return raw, nil
}

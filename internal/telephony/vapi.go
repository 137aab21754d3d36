package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"recovery-caller/internal/calls"
)

// APIError is a non-2xx answer from the voice provider.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vapi api error: %s (status: %d)", e.Message, e.Status)
}

// Permanent reports whether resending the same request cannot succeed.
func (e *APIError) Permanent() bool {
	switch e.Status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden,
		http.StatusNotFound, http.StatusUnprocessableEntity:
		return true
	default:
		return false
	}
}

// Unwrap lets errors.Is(err, calls.ErrPermanent) see through permanent API errors.
func (e *APIError) Unwrap() error {
	if e.Permanent() {
		return calls.ErrPermanent
	}
	return nil
}

type VapiConfig struct {
	BaseURL       string
	APIKey        string
	AssistantID   string
	PhoneNumberID string
	Timeout       time.Duration
}

func (c VapiConfig) Validate() error {
	var missing []string
	if c.APIKey == "" {
		missing = append(missing, "api key")
	}
	if c.AssistantID == "" {
		missing = append(missing, "assistant id")
	}
	if c.PhoneNumberID == "" {
		missing = append(missing, "phone number id")
	}
	if len(missing) > 0 {
		return errors.New("vapi: missing " + strings.Join(missing, ", "))
	}
	return nil
}

// VapiProvider places outbound calls with a preconfigured assistant.
type VapiProvider struct {
	cfg        VapiConfig
	httpClient *http.Client
}

func NewVapiProvider(cfg VapiConfig) (*VapiProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.vapi.ai"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &VapiProvider{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}, nil
}

var _ CallProvider = (*VapiProvider)(nil)

func (p *VapiProvider) Name() string { return "vapi" }

func (p *VapiProvider) HealthCheck(ctx context.Context) error {
	_, err := p.do(ctx, http.MethodGet, "/assistant/"+p.cfg.AssistantID, nil)
	return err
}

type createCallRequest struct {
	AssistantID        string             `json:"assistantId"`
	PhoneNumberID      string             `json:"phoneNumberId"`
	Customer           callCustomer       `json:"customer"`
	AssistantOverrides assistantOverrides `json:"assistantOverrides"`
	Metadata           map[string]string  `json:"metadata"`
}

type callCustomer struct {
	Number string `json:"number"`
	Name   string `json:"name,omitempty"`
}

type assistantOverrides struct {
	VariableValues map[string]string `json:"variableValues"`
	Metadata       map[string]string `json:"metadata"`
}

type createCallResponse struct {
	ID string `json:"id"`
}

// StartCall implements calls.CallStarter. The call job id and shop travel as
// call metadata; the checkout context and any earlier offer become assistant
// variables.
func (p *VapiProvider) StartCall(ctx context.Context, req calls.StartCallRequest) (calls.StartCallResult, error) {
	meta := map[string]string{MetaCallJobID: req.CallJobID, MetaShop: req.Shop}
	body := createCallRequest{
		AssistantID:   p.cfg.AssistantID,
		PhoneNumberID: p.cfg.PhoneNumberID,
		Customer:      callCustomer{Number: req.Phone, Name: req.CustomerName},
		AssistantOverrides: assistantOverrides{
			VariableValues: assistantVariables(req),
			Metadata:       meta,
		},
		Metadata: meta,
	}

	raw, err := p.do(ctx, http.MethodPost, "/call", body)
	if err != nil {
		return calls.StartCallResult{}, err
	}
	var out createCallResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return calls.StartCallResult{}, fmt.Errorf("decode call response: %w", err)
	}
	if out.ID == "" {
		return calls.StartCallResult{}, errors.New("vapi: call created without an id")
	}
	return calls.StartCallResult{ProviderCallID: out.ID}, nil
}

func assistantVariables(req calls.StartCallRequest) map[string]string {
	vars := map[string]string{
		"shopName":     req.ShopName,
		"customerName": req.CustomerName,
		"attempt":      strconv.Itoa(req.Attempt),
	}
	if c := req.Checkout; c != nil {
		vars["checkoutUrl"] = c.RecoveryURL
		vars["currency"] = c.Currency
		if c.CartTotal != nil {
			vars["cartTotal"] = c.CartTotal.StringFixed(2)
		}
	}
	if o := req.PreviousOffer; o != nil && o.SMSSentAt != nil {
		vars["previousOfferType"] = string(o.OfferType)
		vars["previousOfferCode"] = o.OfferCode
		if o.DiscountPercent > 0 {
			vars["previousDiscountPercent"] = strconv.Itoa(o.DiscountPercent)
		}
	}
	return vars
}

func (p *VapiProvider) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, rdr)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, &APIError{Status: resp.StatusCode, Message: errorMessage(raw, resp.StatusCode)}
	}
	return raw, nil
}

// errorMessage pulls "message" out of an error body; it may be a string or a list.
func errorMessage(raw []byte, status int) string {
	var body struct {
		Message json.RawMessage `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil && len(body.Message) > 0 {
		var s string
		if json.Unmarshal(body.Message, &s) == nil && s != "" {
			return s
		}
		var list []string
		if json.Unmarshal(body.Message, &list) == nil && len(list) > 0 {
			return strings.Join(list, "; ")
		}
	}
	if msg := strings.TrimSpace(string(raw)); msg != "" {
		return msg
	}
	return http.StatusText(status)
}

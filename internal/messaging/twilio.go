// Package messaging delivers offer texts through Twilio's Messages API.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.twilio.com"
	defaultTimeout = 10 * time.Second
)

// APIError is Twilio's error body for a non-2xx response.
type APIError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twilio api error: %d - %s (status: %d)", e.Code, e.Message, e.Status)
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	BaseURL    string
	Timeout    time.Duration
}

func (c TwilioConfig) Validate() error {
	var missing []string
	if c.AccountSID == "" {
		missing = append(missing, "account sid")
	}
	if c.AuthToken == "" {
		missing = append(missing, "auth token")
	}
	if c.FromNumber == "" {
		missing = append(missing, "from number")
	}
	if len(missing) > 0 {
		return errors.New("twilio: missing " + strings.Join(missing, ", "))
	}
	return nil
}

// TwilioSender implements offers.SMSSender.
type TwilioSender struct {
	cfg        TwilioConfig
	httpClient *http.Client
}

func NewTwilioSender(cfg TwilioConfig) (*TwilioSender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &TwilioSender{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}, nil
}

type messageResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// Send queues body for delivery to the E.164 number to and returns the message SID.
func (s *TwilioSender) Send(ctx context.Context, to, body string) (string, error) {
	if to == "" || strings.TrimSpace(body) == "" {
		return "", errors.New("twilio: recipient and body are required")
	}
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", s.cfg.FromNumber)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.cfg.BaseURL, url.PathEscape(s.cfg.AccountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.SetBasicAuth(s.cfg.AccountSID, s.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(raw, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		apiErr.Status = resp.StatusCode
		return "", apiErr
	}

	var msg messageResponse
	if err := json.Unmarshal(raw, &msg); err != nil {
		return "", fmt.Errorf("decode message response: %w", err)
	}
	if msg.SID == "" {
		return "", errors.New("twilio: response carried no message sid")
	}
	return msg.SID, nil
}

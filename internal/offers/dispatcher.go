package offers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"recovery-caller/internal/calls"
	"recovery-caller/internal/merchants"
	"recovery-caller/internal/retry"
	"recovery-caller/pkg/logger"

	"github.com/go-playground/validator/v10"
)

const (
	// DuplicateWindow is how long a sent offer absorbs equivalent requests.
	DuplicateWindow = 5 * time.Minute
	// MaxCodeAttempts bounds discount-code collision retries.
	MaxCodeAttempts = 8
)

type Options struct {
	Cache     *ResultCache
	Generator CodeGenerator
	Logger    *slog.Logger
	// PollInterval and PollTimeout control how long a losing delivery waits
	// for the winner's offer record.
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// Dispatcher executes send_offer tool calls: at most one discount code and one
// SMS per tool call, however often the call is delivered.
type Dispatcher struct {
	jobs      calls.Store
	merchants merchants.Store
	discounts DiscountProvider
	sms       SMSSender
	cache     *ResultCache
	newCode   CodeGenerator
	validate  *validator.Validate
	log       *slog.Logger
	clock     func() time.Time

	pollInterval time.Duration
	pollTimeout  time.Duration
}

func NewDispatcher(jobs calls.Store, m merchants.Store, discounts DiscountProvider, sms SMSSender, opts Options) *Dispatcher {
	if opts.Cache == nil {
		opts.Cache = NewResultCache(DefaultCacheSize, DefaultCacheTTL)
	}
	if opts.Generator == nil {
		opts.Generator = RandomCode
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 3 * time.Second
	}
	return &Dispatcher{
		jobs:         jobs,
		merchants:    m,
		discounts:    discounts,
		sms:          sms,
		cache:        opts.Cache,
		newCode:      opts.Generator,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		log:          logger.OrDefault(opts.Logger),
		clock:        time.Now,
		pollInterval: opts.PollInterval,
		pollTimeout:  opts.PollTimeout,
	}
}

// HandleToolCall runs one send_offer invocation. Policy and validation
// failures come back as *ToolError; any other error is infrastructure.
func (d *Dispatcher) HandleToolCall(ctx context.Context, req ToolCallRequest) (ToolResult, error) {
	if err := d.validate.Struct(req); err != nil {
		return ToolResult{}, &ToolError{Code: CodeInvalidArguments, Message: err.Error()}
	}
	if res, ok := d.cache.Get(req.Shop, req.CallJobID, req.ToolCallID); ok {
		return res, nil
	}

	job, err := d.jobs.Get(ctx, req.CallJobID)
	if errors.Is(err, calls.ErrNotFound) || (err == nil && job.Shop != req.Shop) {
		return ToolResult{}, &ToolError{Code: CodeJobNotFound, Message: "no call job " + req.CallJobID + " for this shop"}
	}
	if err != nil {
		return ToolResult{}, fmt.Errorf("load job: %w", err)
	}
	log := d.log.With("job_id", job.ID, "shop", job.Shop, "tool_call_id", req.ToolCallID)

	now := d.clock().UTC()
	if rec := job.Metadata.Offer; rec != nil && isDuplicate(*rec, req, now) {
		res := resultFromRecord(*rec)
		d.cache.Add(req.Shop, req.CallJobID, req.ToolCallID, res)
		log.Info("duplicate offer request answered from job record")
		return res, nil
	}

	won, err := d.jobs.ClaimToolCall(ctx, job.ID, req.ToolCallID, now)
	if err != nil {
		return ToolResult{}, fmt.Errorf("claim tool call: %w", err)
	}
	if !won {
		return d.awaitWinner(ctx, req)
	}

	res, err := d.issue(ctx, log, job, req, now)
	if err != nil {
		if rerr := d.jobs.ReleaseToolCall(context.WithoutCancel(ctx), job.ID, req.ToolCallID); rerr != nil {
			log.Warn("release tool call claim failed", "err", rerr)
		}
		return ToolResult{}, err
	}
	d.cache.Add(req.Shop, req.CallJobID, req.ToolCallID, res)
	return res, nil
}

// isDuplicate reports whether rec already satisfies req: an SMS went out
// recently for the same tool call, or for an equivalent offer.
func isDuplicate(rec calls.OfferRecord, req ToolCallRequest, now time.Time) bool {
	if rec.SMSSentAt == nil || now.Sub(*rec.SMSSentAt) > DuplicateWindow {
		return false
	}
	if rec.LastToolCallID == req.ToolCallID {
		return true
	}
	if rec.OfferType != req.OfferType {
		return false
	}
	return req.OfferType != calls.OfferDiscount || rec.DiscountPercent == req.DiscountPercent
}

// awaitWinner polls the job record while a concurrent delivery of the same
// tool call holds the claim.
func (d *Dispatcher) awaitWinner(ctx context.Context, req ToolCallRequest) (ToolResult, error) {
	ctx, cancel := context.WithTimeout(ctx, d.pollTimeout)
	defer cancel()
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		job, err := d.jobs.Get(ctx, req.CallJobID)
		if err != nil && ctx.Err() == nil {
			return ToolResult{}, fmt.Errorf("load job: %w", err)
		}
		if rec := job.Metadata.Offer; err == nil && rec != nil && rec.SMSSentAt != nil && rec.LastToolCallID == req.ToolCallID {
			res := resultFromRecord(*rec)
			d.cache.Add(req.Shop, req.CallJobID, req.ToolCallID, res)
			return res, nil
		}
		select {
		case <-ctx.Done():
			return ToolResult{}, &ToolError{Code: CodeOfferInProgress, Message: "this offer is already being sent"}
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) issue(ctx context.Context, log *slog.Logger, job calls.CallJob, req ToolCallRequest, now time.Time) (ToolResult, error) {
	settings, err := d.merchants.Get(ctx, job.Shop)
	if err != nil {
		return ToolResult{}, fmt.Errorf("load merchant settings: %w", err)
	}
	settings = settings.WithDefaults()
	if err := checkGates(settings, job, req); err != nil {
		return ToolResult{}, err
	}

	rec := calls.OfferRecord{OfferType: req.OfferType, LastToolCallID: req.ToolCallID}
	if req.OfferType.CarriesCode() {
		expires := now.Add(time.Duration(settings.ValidityHours) * time.Hour)
		code, err := d.createCode(ctx, log, settings, job, req, now, expires)
		if err != nil {
			return ToolResult{}, err
		}
		rec.OfferCode = code.Code
		rec.DiscountNodeID = code.NodeID
		rec.ExpiresAt = &expires
		if req.OfferType == calls.OfferDiscount {
			rec.DiscountPercent = req.DiscountPercent
		}
	}

	vars := SMSVars{
		ShopName:   settings.ShopName,
		Code:       rec.OfferCode,
		Percent:    rec.DiscountPercent,
		ValidHours: settings.ValidityHours,
	}
	if c := job.Metadata.Checkout; c != nil {
		vars.CustomerName = c.CustomerName
		vars.CheckoutURL = c.RecoveryURL
	}
	sid, err := d.sms.Send(ctx, job.Phone, RenderSMS(settings.SMSTemplate, req.OfferType, vars))
	if err != nil {
		return ToolResult{}, fmt.Errorf("send sms: %w", err)
	}
	sentAt := now
	rec.SMSSentAt = &sentAt
	rec.SMSMessageSID = sid

	// The SMS is out; persisting the record must not be abandoned with the request.
	if err := d.jobs.MergeOffer(context.WithoutCancel(ctx), job.ID, rec, now); err != nil {
		return ToolResult{}, fmt.Errorf("persist offer: %w", err)
	}
	log.Info("offer sent", "offer_type", rec.OfferType, "code", rec.OfferCode, "sms_sid", sid)
	return resultFromRecord(rec), nil
}

func checkGates(s merchants.Settings, job calls.CallJob, req ToolCallRequest) error {
	switch req.OfferType {
	case calls.OfferDiscount:
		if !s.DiscountEnabled {
			return &ToolError{Code: CodeDiscountDisabled, Message: "discounts are not enabled for this store"}
		}
		if req.DiscountPercent < 1 || req.DiscountPercent > s.MaxDiscountPercent {
			return &ToolError{Code: CodePercentOutOfRange, Message: fmt.Sprintf("discount must be between 1 and %d percent", s.MaxDiscountPercent)}
		}
	case calls.OfferFreeShipping:
		if !s.FreeShippingEnabled {
			return &ToolError{Code: CodeFreeShippingDisabled, Message: "free shipping is not enabled for this store"}
		}
	default:
		return nil
	}

	if s.MinCartValue == nil {
		return nil
	}
	c := job.Metadata.Checkout
	if c == nil || c.CartTotal == nil || c.CartTotal.LessThan(*s.MinCartValue) {
		return &ToolError{Code: CodeCartBelowMinimum, Message: "cart is below the minimum value for offers (" + s.MinCartValue.StringFixed(2) + ")"}
	}
	return nil
}

func (d *Dispatcher) createCode(ctx context.Context, log *slog.Logger, s merchants.Settings, job calls.CallJob, req ToolCallRequest, now, expires time.Time) (DiscountCode, error) {
	var out DiscountCode
	err := retry.Do(ctx, MaxCodeAttempts, retry.Is(ErrDuplicateCode), func(ctx context.Context, attempt int) error {
		dr := DiscountRequest{
			Shop:        job.Shop,
			AccessToken: s.ShopifyAccessToken,
			Code:        d.newCode(s.CodePrefix),
			Percent:     req.DiscountPercent,
			StartsAt:    now,
			EndsAt:      expires,
		}
		dr.Title = "Checkout recovery " + dr.Code

		var err error
		if req.OfferType == calls.OfferDiscount {
			out, err = d.discounts.CreateDiscountCode(ctx, dr)
		} else {
			out, err = d.discounts.CreateFreeShippingCode(ctx, dr)
		}
		if errors.Is(err, ErrDuplicateCode) {
			log.Debug("discount code taken, trying another", "code", dr.Code, "attempt", attempt)
		}
		return err
	})
	if errors.Is(err, retry.ErrExhausted) {
		return DiscountCode{}, &ToolError{Code: CodeCodeUnavailable, Message: "could not create a unique discount code"}
	}
	if err != nil {
		return DiscountCode{}, fmt.Errorf("create discount code: %w", err)
	}
	return out, nil
}

func resultFromRecord(rec calls.OfferRecord) ToolResult {
	res := ToolResult{OfferType: rec.OfferType, SMSSent: rec.SMSSentAt != nil}
	switch rec.OfferType {
	case calls.OfferDiscount:
		res.OfferCode = rec.OfferCode
		res.DiscountPercent = rec.DiscountPercent
		res.ExpiresAt = rec.ExpiresAt
		res.Message = fmt.Sprintf("Sent a text with code %s for %d%% off.", rec.OfferCode, rec.DiscountPercent)
	case calls.OfferFreeShipping:
		res.OfferCode = rec.OfferCode
		res.ExpiresAt = rec.ExpiresAt
		res.Message = fmt.Sprintf("Sent a text with free shipping code %s.", rec.OfferCode)
	default:
		res.Message = "Sent a text with the checkout link."
	}
	return res
}

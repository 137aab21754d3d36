package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"recovery-caller/internal/merchants"
	"recovery-caller/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// CallStarter places an outbound call at the voice provider.
type CallStarter interface {
	StartCall(ctx context.Context, req StartCallRequest) (StartCallResult, error)
}

type StartCallRequest struct {
	CallJobID     string
	Shop          string
	ShopName      string
	Phone         string
	Attempt       int
	CustomerName  string
	Checkout      *Checkout
	// PreviousOffer lets the agent refer back to what an earlier attempt sent.
	PreviousOffer *OfferRecord
}

type StartCallResult struct {
	ProviderCallID string
}

// SlotLimiter caps concurrent calls per shop. Implemented by utils.ConcurrencyCap.
type SlotLimiter interface {
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// ErrPermanent marks start failures that retrying cannot fix.
var ErrPermanent = errors.New("calls: permanent failure")

type DispatcherOptions struct {
	// Slots is optional; nil disables the per-shop cap.
	Slots       SlotLimiter
	Concurrency int
	Logger      *slog.Logger
}

// Dispatcher moves due jobs from QUEUED to CALLING and places the calls. It also
// applies the end-of-call transition (see FinishCall).
type Dispatcher struct {
	jobs        Store
	merchants   merchants.Store
	starter     CallStarter
	slots       SlotLimiter
	concurrency int
	log         *slog.Logger
}

func NewDispatcher(jobs Store, m merchants.Store, starter CallStarter, opts DispatcherOptions) *Dispatcher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Dispatcher{
		jobs:        jobs,
		merchants:   m,
		starter:     starter,
		slots:       opts.Slots,
		concurrency: opts.Concurrency,
		log:         logger.OrDefault(opts.Logger),
	}
}

// SweepResult counts what one sweep did. Processed counts jobs this sweep
// claimed; jobs lost to a concurrent sweep or held back by the shop cap are Skipped.
type SweepResult struct {
	Processed int `json:"processed"`
	Started   int `json:"started"`
	Failed    int `json:"failed"`
	Retried   int `json:"retried"`
	Skipped   int `json:"skipped"`
}

type jobOutcome int

const (
	outcomeSkipped jobOutcome = iota
	outcomeStarted
	outcomeRetried
	outcomeFailed
)

// RunSweep processes up to batchLimit due jobs, oldest first. Jobs are handled
// independently; a failure on one job is logged and never aborts the sweep.
func (d *Dispatcher) RunSweep(ctx context.Context, now time.Time, batchLimit int) (SweepResult, error) {
	if batchLimit <= 0 {
		return SweepResult{}, fmt.Errorf("%w: batch limit must be > 0", ErrInvalidArgument)
	}
	due, err := d.jobs.ListDue(ctx, now, batchLimit)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list due jobs: %w", err)
	}

	var started, retried, failed, skipped atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for _, job := range due {
		g.Go(func() error {
			out, err := d.processJob(gctx, job, now)
			if err != nil {
				d.log.Error("dispatch job failed", "job_id", job.ID, "shop", job.Shop, "err", err)
			}
			switch out {
			case outcomeStarted:
				started.Add(1)
			case outcomeRetried:
				retried.Add(1)
			case outcomeFailed:
				failed.Add(1)
			default:
				skipped.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	res := SweepResult{
		Started: int(started.Load()),
		Retried: int(retried.Load()),
		Failed:  int(failed.Load()),
		Skipped: int(skipped.Load()),
	}
	res.Processed = res.Started + res.Retried + res.Failed
	d.log.Info("sweep finished", "due", len(due), "processed", res.Processed, "started", res.Started, "failed", res.Failed, "retried", res.Retried)
	return res, nil
}

func (d *Dispatcher) processJob(ctx context.Context, job CallJob, now time.Time) (jobOutcome, error) {
	settings, err := d.merchants.Get(ctx, job.Shop)
	if err != nil {
		return outcomeSkipped, fmt.Errorf("load merchant settings: %w", err)
	}

	if d.slots != nil {
		ok, err := d.slots.Acquire(ctx, job.Shop)
		if err != nil {
			return outcomeSkipped, fmt.Errorf("acquire shop slot: %w", err)
		}
		if !ok {
			d.log.Debug("shop at call cap, leaving job queued", "job_id", job.ID, "shop", job.Shop)
			return outcomeSkipped, nil
		}
	}

	claimed, err := d.jobs.Claim(ctx, job.ID, now)
	if err != nil || !claimed {
		d.releaseSlot(ctx, job.Shop)
		if err != nil {
			return outcomeSkipped, fmt.Errorf("claim: %w", err)
		}
		return outcomeSkipped, nil
	}
	job.Attempts++
	log := d.log.With("job_id", job.ID, "shop", job.Shop, "attempt", job.Attempts)

	if !ValidE164(job.Phone) {
		d.releaseSlot(ctx, job.Shop)
		if err := d.jobs.MarkFailed(ctx, job.ID, "invalid phone number", now); err != nil {
			return outcomeFailed, fmt.Errorf("mark failed: %w", err)
		}
		log.Warn("job failed: invalid phone number")
		return outcomeFailed, nil
	}

	req := StartCallRequest{
		CallJobID:     job.ID,
		Shop:          job.Shop,
		ShopName:      settings.ShopName,
		Phone:         job.Phone,
		Attempt:       job.Attempts,
		Checkout:      job.Metadata.Checkout,
		PreviousOffer: job.Metadata.Offer,
	}
	if job.Metadata.Checkout != nil {
		req.CustomerName = job.Metadata.Checkout.CustomerName
	}
	res, startErr := d.starter.StartCall(ctx, req)
	if startErr == nil {
		if err := d.jobs.MarkStarted(ctx, job.ID, res.ProviderCallID, "call started", now); err != nil {
			return outcomeStarted, fmt.Errorf("mark started: %w", err)
		}
		log.Info("call started", "provider_call_id", res.ProviderCallID)
		return outcomeStarted, nil
	}

	d.releaseSlot(ctx, job.Shop)
	return d.handleStartFailure(ctx, log, job.ID, settings, startErr, now)
}

func (d *Dispatcher) handleStartFailure(ctx context.Context, log *slog.Logger, jobID string, settings merchants.Settings, startErr error, now time.Time) (jobOutcome, error) {
	outcome := "call start failed: " + startErr.Error()

	current, err := d.jobs.Get(ctx, jobID)
	if err != nil {
		return outcomeSkipped, fmt.Errorf("re-read job: %w", err)
	}
	if errors.Is(startErr, ErrPermanent) || current.Attempts >= settings.MaxAttempts {
		if err := d.jobs.MarkFailed(ctx, jobID, outcome, now); err != nil {
			return outcomeFailed, fmt.Errorf("mark failed: %w", err)
		}
		log.Warn("job failed", "attempts", current.Attempts, "err", startErr)
		return outcomeFailed, nil
	}

	next := d.retryAt(settings, now)
	if err := d.jobs.Requeue(ctx, jobID, next, outcome, now); err != nil {
		return outcomeRetried, fmt.Errorf("requeue: %w", err)
	}
	log.Warn("call start failed, retry scheduled", "next_attempt_at", next, "err", startErr)
	return outcomeRetried, nil
}

// retryAt is now + retry delay snapped into the merchant's call window. A
// misconfigured window leaves the time unsnapped.
func (d *Dispatcher) retryAt(settings merchants.Settings, now time.Time) time.Time {
	next := now.Add(settings.RetryDelay())
	w, err := settings.CallWindow()
	if err != nil {
		d.log.Warn("call window misconfigured, retry not snapped", "shop", settings.Shop, "err", err)
		return next
	}
	return NextCallTime(next, w)
}

func (d *Dispatcher) releaseSlot(ctx context.Context, shop string) {
	if d.slots == nil {
		return
	}
	if err := d.slots.Release(ctx, shop); err != nil {
		d.log.Warn("release shop slot failed", "shop", shop, "err", err)
	}
}

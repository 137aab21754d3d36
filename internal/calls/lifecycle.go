package calls

import (
	"context"
	"fmt"
	"time"
)

// CallEnded is the provider-neutral summary of an end-of-call report.
type CallEnded struct {
	CallJobID        string
	ProviderCallID   string
	EndedReason      string
	ConnectedSeconds int
	Answered         bool
	Voicemail        bool
	// ProviderError is set when the call never reached the customer because of
	// a provider-side failure rather than the customer not picking up.
	ProviderError bool
	Transcript    string
}

// FinishResult reports the job after the end-of-call transition. Transitioned is
// false when a redelivered report found the job already out of CALLING. Stale
// is set when the report belongs to an earlier attempt than the job's current
// one; such reports never move the job.
type FinishResult struct {
	Job          CallJob
	Transitioned bool
	Stale        bool
}

// Billable reports whether the report that produced r should be metered: it
// must belong to the job's current attempt and the job must be done.
func (r FinishResult) Billable() bool {
	return !r.Stale && r.Job.Status.Terminal()
}

// FinishCall applies the end-of-call transition: answered calls complete;
// unanswered calls are retried inside the call window while attempts remain.
// The shop slot taken at dispatch is released exactly once, on the transition.
func (d *Dispatcher) FinishCall(ctx context.Context, ev CallEnded, now time.Time) (FinishResult, error) {
	job, err := d.jobs.Get(ctx, ev.CallJobID)
	if err != nil {
		return FinishResult{}, err
	}
	if staleAttempt(job, ev) {
		d.log.Warn("end-of-call report for an earlier attempt",
			"job_id", job.ID, "provider_call_id", ev.ProviderCallID, "current_call_id", job.ProviderCallID)
		return FinishResult{Job: job, Stale: true}, nil
	}
	if job.Status != StatusCalling {
		return FinishResult{Job: job}, nil
	}
	settings, err := d.merchants.Get(ctx, job.Shop)
	if err != nil {
		return FinishResult{}, fmt.Errorf("load merchant settings: %w", err)
	}

	f := Finish{
		ProviderCallID:   ev.ProviderCallID,
		EndedReason:      ev.EndedReason,
		ConnectedSeconds: ev.ConnectedSeconds,
		Transcript:       ev.Transcript,
	}
	switch {
	case ev.Answered && !ev.Voicemail:
		f.Status = StatusCompleted
		f.Outcome = fmt.Sprintf("answered (%s, %ds)", ev.EndedReason, ev.ConnectedSeconds)
	case job.Attempts < settings.MaxAttempts:
		f.Status = StatusQueued
		f.NextAttemptAt = d.retryAt(settings, now)
		f.Outcome = fmt.Sprintf("not reached (%s), retry scheduled", reasonOr(ev))
	case ev.ProviderError:
		f.Status = StatusFailed
		f.Outcome = fmt.Sprintf("call failed after %d attempts (%s)", job.Attempts, ev.EndedReason)
	default:
		f.Status = StatusCompleted
		f.Outcome = fmt.Sprintf("not reached after %d attempts (%s)", job.Attempts, reasonOr(ev))
	}

	ok, err := d.jobs.Finish(ctx, job.ID, f, now)
	if err != nil {
		return FinishResult{}, fmt.Errorf("finish job: %w", err)
	}
	if ok {
		d.releaseSlot(ctx, job.Shop)
		d.log.Info("call finished", "job_id", job.ID, "shop", job.Shop, "status", f.Status, "outcome", f.Outcome)
	}

	updated, err := d.jobs.Get(ctx, job.ID)
	if err != nil {
		return FinishResult{}, err
	}
	return FinishResult{Job: updated, Transitioned: ok, Stale: !ok && staleAttempt(updated, ev)}, nil
}

// staleAttempt reports whether ev was produced by a call other than the one
// the job's current attempt placed. Claim clears the call id, so a retry that
// has not started yet has none; on a first attempt there is nothing earlier.
func staleAttempt(job CallJob, ev CallEnded) bool {
	if ev.ProviderCallID == "" {
		return false
	}
	if job.ProviderCallID == "" {
		return job.Status == StatusCalling && job.Attempts > 1
	}
	return job.ProviderCallID != ev.ProviderCallID
}

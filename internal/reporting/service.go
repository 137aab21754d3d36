package reporting

import (
	"context"
	"errors"
	"time"

	"recovery-caller/internal/billing"
	"recovery-caller/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// JobLister reads call jobs for one shop, created in [from, to).
type JobLister interface {
	ListByShop(ctx context.Context, shop string, from, to time.Time) ([]calls.CallJob, error)
}

// ChargeLister reads the billing ledger for one shop, created in [from, to).
type ChargeLister interface {
	ListCharges(ctx context.Context, shop string, from, to time.Time) ([]billing.CallCharge, error)
}

// Service builds read-only summaries for operators. Both sources are
// immutable or append-mostly, so no locking is needed.
type Service struct {
	jobs    JobLister
	charges ChargeLister
}

func NewService(jobs JobLister, charges ChargeLister) *Service {
	return &Service{jobs: jobs, charges: charges}
}

func (s *Service) CallsSummary(ctx context.Context, shop string, r TimeRange) (CallsSummary, error) {
	if shop == "" || !r.Valid() {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.jobs == nil {
		return CallsSummary{}, errors.New("reporting: job source not configured")
	}

	rows, err := s.jobs.ListByShop(ctx, shop, r.From, r.To)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{Shop: shop, Range: r}
	ended := 0
	for _, j := range rows {
		out.TotalJobs++
		out.Attempts += j.Attempts
		switch j.Status {
		case calls.StatusQueued:
			out.QueuedJobs++
		case calls.StatusCalling:
			out.CallingJobs++
		case calls.StatusCompleted:
			out.CompletedJobs++
		case calls.StatusFailed:
			out.FailedJobs++
		}
		if j.Metadata.Offer != nil && j.Metadata.Offer.SMSSentAt != nil {
			out.OffersSent++
		}
		if j.ConnectedSeconds > 0 {
			ended++
			out.TotalConnectedSeconds += j.ConnectedSeconds
		}
	}
	if ended > 0 {
		out.AverageConnectedSeconds = out.TotalConnectedSeconds / ended
	}
	return out, nil
}

func (s *Service) UsageSummary(ctx context.Context, shop string, r TimeRange) (UsageSummary, error) {
	if shop == "" || !r.Valid() {
		return UsageSummary{}, ErrInvalidRequest
	}
	if s.charges == nil {
		return UsageSummary{}, errors.New("reporting: charge source not configured")
	}

	rows, err := s.charges.ListCharges(ctx, shop, r.From, r.To)
	if err != nil {
		return UsageSummary{}, err
	}

	out := UsageSummary{Shop: shop, Range: r}
	for _, c := range rows {
		out.CallsCharged++
		out.MinutesBilled += c.MinutesBilled
		out.OverageMinutes += c.OverageMinutes
		out.AmountCents += c.AmountCents
		out.ConnectedSeconds += c.ConnectedSeconds
		if c.OverageMinutes > 0 {
			out.CallsOverage++
		}
		if out.CurrencyCode == "" {
			out.CurrencyCode = c.CurrencyCode
		}
	}
	return out, nil
}

package reporting

import (
	"context"
	"testing"
	"time"

	"recovery-caller/internal/billing"
	"recovery-caller/internal/calls"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJobs struct {
	shop string
	rows []calls.CallJob
}

func (f *fakeJobs) ListByShop(ctx context.Context, shop string, from, to time.Time) ([]calls.CallJob, error) {
	f.shop = shop
	return f.rows, nil
}

type fakeCharges struct{ rows []billing.CallCharge }

func (f fakeCharges) ListCharges(ctx context.Context, shop string, from, to time.Time) ([]billing.CallCharge, error) {
	return f.rows, nil
}

var day = TimeRange{
	From: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	To:   time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
}

func TestCallsSummary(t *testing.T) {
	sent := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	jobs := &fakeJobs{rows: []calls.CallJob{
		{ID: "1", Status: calls.StatusCompleted, Attempts: 1, ConnectedSeconds: 90,
			Metadata: calls.Metadata{Offer: &calls.OfferRecord{OfferType: calls.OfferDiscount, SMSSentAt: &sent}}},
		{ID: "2", Status: calls.StatusFailed, Attempts: 3},
		{ID: "3", Status: calls.StatusQueued, Attempts: 1, ConnectedSeconds: 30},
		{ID: "4", Status: calls.StatusCalling, Attempts: 2,
			Metadata: calls.Metadata{Offer: &calls.OfferRecord{OfferType: calls.OfferLinkOnly}}},
	}}
	svc := NewService(jobs, nil)

	out, err := svc.CallsSummary(context.Background(), "demo.myshopify.com", day)
	require.NoError(t, err)
	assert.Equal(t, "demo.myshopify.com", jobs.shop)
	assert.Equal(t, 4, out.TotalJobs)
	assert.Equal(t, 1, out.CompletedJobs)
	assert.Equal(t, 1, out.FailedJobs)
	assert.Equal(t, 1, out.QueuedJobs)
	assert.Equal(t, 1, out.CallingJobs)
	assert.Equal(t, 7, out.Attempts)
	assert.Equal(t, 1, out.OffersSent)
	assert.Equal(t, 120, out.TotalConnectedSeconds)
	assert.Equal(t, 60, out.AverageConnectedSeconds)
}

func TestUsageSummary(t *testing.T) {
	svc := NewService(nil, fakeCharges{rows: []billing.CallCharge{
		{CallJobID: "1", ConnectedSeconds: 61, MinutesBilled: 2, CurrencyCode: "USD"},
		{CallJobID: "2", ConnectedSeconds: 150, MinutesBilled: 3, OverageMinutes: 3, AmountCents: 45, CurrencyCode: "USD"},
	}})

	out, err := svc.UsageSummary(context.Background(), "demo.myshopify.com", day)
	require.NoError(t, err)
	assert.Equal(t, 2, out.CallsCharged)
	assert.Equal(t, 1, out.CallsOverage)
	assert.Equal(t, int64(5), out.MinutesBilled)
	assert.Equal(t, int64(3), out.OverageMinutes)
	assert.Equal(t, int64(45), out.AmountCents)
	assert.Equal(t, 211, out.ConnectedSeconds)
	assert.Equal(t, "USD", out.CurrencyCode)
}

func TestSummaries_RejectInvalidRequests(t *testing.T) {
	svc := NewService(&fakeJobs{}, fakeCharges{})

	_, err := svc.CallsSummary(context.Background(), "", day)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = svc.UsageSummary(context.Background(), "s", TimeRange{From: day.To, To: day.From})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestSummaries_WithMemoryStores(t *testing.T) {
	ctx := context.Background()
	jobs := calls.NewMemoryStore()
	created := day.From.Add(3 * time.Hour)
	require.NoError(t, jobs.Create(ctx, calls.CallJob{ID: "job-1", Shop: "demo.myshopify.com", Phone: "+15551234567", Status: calls.StatusQueued, CreatedAt: created}))
	require.NoError(t, jobs.Create(ctx, calls.CallJob{ID: "job-2", Shop: "other.myshopify.com", Phone: "+15551234567", Status: calls.StatusQueued, CreatedAt: created}))

	out, err := NewService(jobs, billing.NewMemoryStore()).CallsSummary(ctx, "demo.myshopify.com", day)
	require.NoError(t, err)
	assert.Equal(t, 1, out.TotalJobs)
}

package calls

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func callingJob(t *testing.T, store *MemoryStore, id string, attempts int) {
	t.Helper()
	seedJob(t, store, id, attempts-1, tuesday8pm.Add(-time.Hour))
	ok, err := store.Claim(context.Background(), id, tuesday8pm.Add(-time.Hour))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestFinishCall_AnsweredCompletes(t *testing.T) {
	store := NewMemoryStore()
	callingJob(t, store, "job-1", 1)
	slots := &fakeSlots{limit: 5, held: map[string]int{testShop: 1}}
	d := newTestDispatcher(store, newFakeStarter(), slots)

	res, err := d.FinishCall(context.Background(), CallEnded{
		CallJobID: "job-1", EndedReason: "customer-ended-call", ConnectedSeconds: 73, Answered: true, Transcript: "AI: hi",
	}, tuesday8pm)
	require.NoError(t, err)
	assert.True(t, res.Transitioned)
	assert.Equal(t, StatusCompleted, res.Job.Status)
	assert.Equal(t, 73, res.Job.ConnectedSeconds)
	assert.Equal(t, "AI: hi", res.Job.Transcript)
	assert.Equal(t, 0, slots.held[testShop])

	// Redelivery is a no-op and does not release the slot twice.
	again, err := d.FinishCall(context.Background(), CallEnded{CallJobID: "job-1", Answered: true, ConnectedSeconds: 73}, tuesday8pm)
	require.NoError(t, err)
	assert.False(t, again.Transitioned)
	assert.Equal(t, StatusCompleted, again.Job.Status)
	assert.Equal(t, 0, slots.held[testShop])
}

func TestFinishCall_UnansweredRetriesWhileAttemptsRemain(t *testing.T) {
	store := NewMemoryStore()
	callingJob(t, store, "job-1", 1)
	d := newTestDispatcher(store, newFakeStarter(), nil)

	res, err := d.FinishCall(context.Background(), CallEnded{CallJobID: "job-1", EndedReason: "customer-did-not-answer"}, tuesday8pm)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, res.Job.Status)
	assert.True(t, time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC).Equal(res.Job.ScheduledFor))
}

func TestFinishCall_VoicemailCountsAsUnanswered(t *testing.T) {
	store := NewMemoryStore()
	callingJob(t, store, "job-1", 3)
	d := newTestDispatcher(store, newFakeStarter(), nil)

	res, err := d.FinishCall(context.Background(), CallEnded{CallJobID: "job-1", EndedReason: "voicemail", Answered: true, Voicemail: true, ConnectedSeconds: 20}, tuesday8pm)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Job.Status)
	assert.Contains(t, res.Job.Outcome, "not reached after 3 attempts")
}

func TestFinishCall_ProviderErrorExhaustedFails(t *testing.T) {
	store := NewMemoryStore()
	callingJob(t, store, "job-1", 3)
	d := newTestDispatcher(store, newFakeStarter(), nil)

	res, err := d.FinishCall(context.Background(), CallEnded{CallJobID: "job-1", EndedReason: "pipeline-error-openai-llm-failed", ProviderError: true}, tuesday8pm)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Job.Status)
}

func TestFinishCall_ReportFromEarlierAttemptIsIgnored(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	callingJob(t, store, "job-1", 1)
	require.NoError(t, store.MarkStarted(ctx, "job-1", "call-1", "call started", tuesday8pm))
	slots := &fakeSlots{limit: 5, held: map[string]int{testShop: 1}}
	d := newTestDispatcher(store, newFakeStarter(), slots)

	first := CallEnded{CallJobID: "job-1", ProviderCallID: "call-1", EndedReason: "customer-did-not-answer"}
	res, err := d.FinishCall(ctx, first, tuesday8pm)
	require.NoError(t, err)
	require.True(t, res.Transitioned)
	require.Equal(t, StatusQueued, res.Job.Status)
	assert.False(t, res.Billable())

	ok, err := store.Claim(ctx, "job-1", tuesday8pm.Add(3*time.Hour))
	require.NoError(t, err)
	require.True(t, ok)
	slots.held[testShop] = 1

	// Redelivered before the retry has a call id of its own.
	res, err = d.FinishCall(ctx, first, tuesday8pm.Add(3*time.Hour))
	require.NoError(t, err)
	assert.True(t, res.Stale)
	assert.False(t, res.Transitioned)
	assert.Equal(t, StatusCalling, res.Job.Status)

	require.NoError(t, store.MarkStarted(ctx, "job-1", "call-2", "call started", tuesday8pm.Add(3*time.Hour)))

	late := first
	late.Answered = true
	late.ConnectedSeconds = 40
	res, err = d.FinishCall(ctx, late, tuesday8pm.Add(3*time.Hour))
	require.NoError(t, err)
	assert.True(t, res.Stale)
	assert.False(t, res.Billable())
	assert.Equal(t, StatusCalling, res.Job.Status)
	assert.Equal(t, 1, slots.held[testShop])

	res, err = d.FinishCall(ctx, CallEnded{
		CallJobID: "job-1", ProviderCallID: "call-2", EndedReason: "customer-ended-call", Answered: true, ConnectedSeconds: 300,
	}, tuesday8pm.Add(3*time.Hour))
	require.NoError(t, err)
	assert.True(t, res.Transitioned)
	assert.True(t, res.Billable())
	assert.Equal(t, StatusCompleted, res.Job.Status)
	assert.Equal(t, 300, res.Job.ConnectedSeconds)
	assert.Equal(t, 0, slots.held[testShop])
}

func TestFinish_ScopedToProviderCall(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	callingJob(t, store, "job-1", 2)

	// A claimed retry without its own call id only accepts unscoped finishes.
	ok, err := store.Finish(ctx, "job-1", Finish{ProviderCallID: "call-1", Status: StatusCompleted}, tuesday8pm)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.MarkStarted(ctx, "job-1", "call-2", "call started", tuesday8pm))
	ok, err = store.Finish(ctx, "job-1", Finish{ProviderCallID: "call-1", Status: StatusCompleted}, tuesday8pm)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.Finish(ctx, "job-1", Finish{ProviderCallID: "call-2", Status: StatusCompleted}, tuesday8pm)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFinishCall_UnknownJob(t *testing.T) {
	d := newTestDispatcher(NewMemoryStore(), newFakeStarter(), nil)
	_, err := d.FinishCall(context.Background(), CallEnded{CallJobID: "missing"}, tuesday8pm)
	assert.ErrorIs(t, err, ErrNotFound)
}

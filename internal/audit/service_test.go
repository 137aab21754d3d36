package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_AppendRequiresShopAndType(t *testing.T) {
	svc := NewService(NewMemoryRepo())

	assert.ErrorIs(t, svc.Append(context.Background(), Event{Type: EventTypeSweepTriggered}), ErrInvalidEvent)
	assert.ErrorIs(t, svc.Append(context.Background(), Event{Shop: "s"}), ErrInvalidEvent)
}

func TestService_LogSweep(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	now := time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)
	svc.clock = func() time.Time { return now }

	require.NoError(t, svc.LogSweep(context.Background(), Actor{Subject: "cron", Role: "scheduler", IP: "10.0.0.1"}, 50, 3))

	evs := repo.Events()
	require.Len(t, evs, 1)
	assert.NotEmpty(t, evs[0].ID)
	assert.Equal(t, ShopAll, evs[0].Shop)
	assert.Equal(t, EventTypeSweepTriggered, evs[0].Type)
	assert.Equal(t, "10.0.0.1", evs[0].IPAddress)
	assert.Equal(t, now, evs[0].CreatedAt)
	assert.JSONEq(t, `{"limit":50,"claimed":3}`, evs[0].Metadata)
}

func TestService_LogSubscriptionStarted(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	require.NoError(t, svc.LogSubscriptionStarted(context.Background(), Actor{Subject: "ops", Role: "operator"}, "demo.myshopify.com", "PRO", "LAUNCH"))

	evs := repo.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, "demo.myshopify.com", evs[0].Shop)
	assert.Equal(t, "ops", evs[0].ActorSubject)
	assert.JSONEq(t, `{"plan":"PRO","coupon_code":"LAUNCH"}`, evs[0].Metadata)
}

func TestMemoryRepo_FiltersByShop(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	actor := Actor{Subject: "ops", Role: "operator"}

	require.NoError(t, svc.LogSubscriptionStarted(context.Background(), actor, "a.myshopify.com", "PRO", ""))
	require.NoError(t, svc.LogSubscriptionStarted(context.Background(), actor, "b.myshopify.com", "STARTER", ""))
	require.NoError(t, svc.LogSweep(context.Background(), actor, 10, 0))

	assert.Len(t, repo.Events(), 3)
	assert.Len(t, repo.Events("a.myshopify.com"), 1)
	assert.Len(t, repo.Events(ShopAll), 1)
}

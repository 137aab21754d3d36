package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testShop = "demo.myshopify.com"

type fakeProvider struct {
	mu        sync.Mutex
	lineItem  string
	syncCalls int
	charges   []UsageCharge
	chargeErr error
	subs      map[string]SubscriptionInfo
	created   []SubscriptionRequest
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{lineItem: "si_usage", subs: map[string]SubscriptionInfo{}}
}

func (f *fakeProvider) SyncUsageLineItem(context.Context, ShopBilling) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncCalls++
	return f.lineItem, nil
}

func (f *fakeProvider) CreateUsageCharge(_ context.Context, c UsageCharge) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chargeErr != nil {
		return "", f.chargeErr
	}
	f.charges = append(f.charges, c)
	return fmt.Sprintf("ii_%d", len(f.charges)), nil
}

func (f *fakeProvider) CreateSubscription(_ context.Context, req SubscriptionRequest) (SubscriptionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, req)
	id := fmt.Sprintf("sub_%d", len(f.created))
	f.subs[id] = SubscriptionInfo{ID: id, CustomerID: "cus_1", UsageLineItemID: "si_usage", RecurringLineItemID: "si_plan"}
	return SubscriptionResult{CustomerID: "cus_1", SubscriptionID: id, ConfirmationURL: "https://pay/" + id}, nil
}

func (f *fakeProvider) GetSubscription(_ context.Context, id string) (SubscriptionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.subs[id]
	if !ok {
		return SubscriptionInfo{}, errors.New("no such subscription")
	}
	return info, nil
}

func (f *fakeProvider) activate(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info := f.subs[id]
	info.Active = true
	f.subs[id] = info
}

func (f *fakeProvider) chargeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.charges)
}

var fixedNow = time.Date(2024, 1, 2, 20, 0, 0, 0, time.UTC)

func newTestMeter(store Store, provider BillingProvider) *Meter {
	m := NewMeter(store, provider, nil, nil)
	m.clock = func() time.Time { return fixedNow }
	var n atomic.Int64
	m.newID = func() string { return fmt.Sprintf("chg-%03d", n.Add(1)) }
	return m
}

func paidShop(plan Plan, includedUsed int64) ShopBilling {
	return ShopBilling{
		Shop:                testShop,
		Plan:                plan,
		Status:              StatusActive,
		CustomerID:          "cus_1",
		SubscriptionID:      "sub_1",
		UsageLineItemID:     "si_usage",
		IncludedSecondsUsed: includedUsed,
	}
}

func answered(job string, seconds int) CallUsage {
	return CallUsage{Shop: testShop, CallJobID: job, ConnectedSeconds: seconds, Answered: true}
}

func TestApplyBilling_ShortCallIsNeverBilled(t *testing.T) {
	store := NewMemoryStore()
	store.PutShop(paidShop(PlanPAYG, 0))
	provider := newFakeProvider()
	m := newTestMeter(store, provider)

	c, err := m.ApplyBillingForCall(context.Background(), answered("job-1", 14))
	require.NoError(t, err)
	assert.Equal(t, int64(0), c.AmountCents)
	assert.Equal(t, int64(0), c.MinutesBilled)
	assert.Equal(t, "call-charge:job-1", c.IdempotencyKey)
	assert.Equal(t, 0, provider.chargeCount())

	again, err := m.ApplyBillingForCall(context.Background(), answered("job-1", 14))
	require.NoError(t, err)
	assert.Equal(t, c.ID, again.ID)
}

func TestApplyBilling_VoicemailAndUnansweredAreFree(t *testing.T) {
	store := NewMemoryStore()
	store.PutShop(paidShop(PlanPAYG, 0))
	provider := newFakeProvider()
	m := newTestMeter(store, provider)

	c, err := m.ApplyBillingForCall(context.Background(), CallUsage{Shop: testShop, CallJobID: "vm", ConnectedSeconds: 40, Answered: true, Voicemail: true})
	require.NoError(t, err)
	assert.Zero(t, c.AmountCents)

	c, err = m.ApplyBillingForCall(context.Background(), CallUsage{Shop: testShop, CallJobID: "na", ConnectedSeconds: 0})
	require.NoError(t, err)
	assert.Zero(t, c.AmountCents)
	assert.Equal(t, 0, provider.chargeCount())
}

func TestApplyBilling_RoundsPartialMinutesUp(t *testing.T) {
	store := NewMemoryStore()
	store.PutShop(paidShop(PlanStarter, 100*60))
	provider := newFakeProvider()
	m := newTestMeter(store, provider)

	c, err := m.ApplyBillingForCall(context.Background(), answered("job-1", 61))
	require.NoError(t, err)
	assert.Equal(t, int64(2), c.MinutesBilled)
	assert.Equal(t, int64(2), c.OverageMinutes)
	assert.Equal(t, int64(70), c.AmountCents)
	assert.Equal(t, "ii_1", c.UsageRecordID)

	require.Equal(t, 1, provider.chargeCount())
	assert.Equal(t, "call-charge:job-1", provider.charges[0].IdempotencyKey)
	assert.Equal(t, "si_usage", provider.charges[0].LineItemID)
}

func TestApplyBilling_FifteenSecondsIsOneMinute(t *testing.T) {
	store := NewMemoryStore()
	store.PutShop(paidShop(PlanPAYG, 0))
	m := newTestMeter(store, newFakeProvider())

	c, err := m.ApplyBillingForCall(context.Background(), answered("job-1", 15))
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.MinutesBilled)
	assert.Equal(t, int64(45), c.AmountCents)
}

func TestApplyBilling_ConsumesIncludedQuotaFirst(t *testing.T) {
	store := NewMemoryStore()
	store.PutShop(paidShop(PlanStarter, 100*60-30))
	provider := newFakeProvider()
	m := newTestMeter(store, provider)

	c, err := m.ApplyBillingForCall(context.Background(), answered("job-1", 61))
	require.NoError(t, err)
	// 120 billable seconds, 30 from quota, 90 over -> 2 chargeable minutes.
	assert.Equal(t, int64(2), c.OverageMinutes)
	assert.Equal(t, int64(70), c.AmountCents)

	b, _ := store.GetShopBilling(context.Background(), testShop)
	assert.Equal(t, int64(100*60), b.IncludedSecondsUsed)
}

func TestApplyBilling_InsideQuotaChargesNothing(t *testing.T) {
	store := NewMemoryStore()
	store.PutShop(paidShop(PlanPro, 0))
	provider := newFakeProvider()
	m := newTestMeter(store, provider)

	c, err := m.ApplyBillingForCall(context.Background(), answered("job-1", 125))
	require.NoError(t, err)
	assert.Equal(t, int64(3), c.MinutesBilled)
	assert.Zero(t, c.AmountCents)
	assert.Equal(t, 0, provider.chargeCount())

	b, _ := store.GetShopBilling(context.Background(), testShop)
	assert.Equal(t, int64(180), b.IncludedSecondsUsed)
}

func TestApplyBilling_FreePlanClampsLifetimeBucket(t *testing.T) {
	store := NewMemoryStore()
	store.PutShop(ShopBilling{Shop: testShop, Plan: PlanFree, Status: StatusNone, FreeSecondsUsed: 590})
	provider := newFakeProvider()
	m := newTestMeter(store, provider)

	c, err := m.ApplyBillingForCall(context.Background(), answered("job-1", 61))
	require.NoError(t, err)
	assert.Zero(t, c.AmountCents)

	b, _ := store.GetShopBilling(context.Background(), testShop)
	assert.Equal(t, int64(FreeLifetimeSeconds), b.FreeSecondsUsed)
	assert.Zero(t, provider.syncCalls)
	assert.Equal(t, 0, provider.chargeCount())
}

func TestApplyBilling_ConcurrentRedeliveriesChargeOnce(t *testing.T) {
	store := NewMemoryStore()
	store.PutShop(paidShop(PlanStarter, 100*60))
	provider := newFakeProvider()
	m := newTestMeter(store, provider)

	const deliveries = 20
	var wg sync.WaitGroup
	ids := make([]string, deliveries)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := m.ApplyBillingForCall(context.Background(), answered("job-1", 90))
			assert.NoError(t, err)
			ids[i] = c.ID
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, provider.chargeCount())
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	charges, err := store.ListCharges(context.Background(), testShop, fixedNow.Add(-time.Hour), fixedNow.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, charges, 1)
}

func TestApplyBilling_QuotaIsMonotonicAndCapped(t *testing.T) {
	store := NewMemoryStore()
	store.PutShop(paidShop(PlanStarter, 0))
	m := newTestMeter(store, newFakeProvider())

	var last int64
	for i := 0; i < 60; i++ {
		_, err := m.ApplyBillingForCall(context.Background(), answered(fmt.Sprintf("job-%d", i), 150))
		require.NoError(t, err)
		b, _ := store.GetShopBilling(context.Background(), testShop)
		assert.GreaterOrEqual(t, b.IncludedSecondsUsed, last)
		assert.LessOrEqual(t, b.IncludedSecondsUsed, int64(100*60))
		last = b.IncludedSecondsUsed
	}
	assert.Equal(t, int64(100*60), last)
}

func TestApplyBilling_ProviderFailureWritesNothing(t *testing.T) {
	store := NewMemoryStore()
	store.PutShop(paidShop(PlanStarter, 100*60-60))
	provider := newFakeProvider()
	provider.chargeErr = errors.New("stripe unavailable")
	m := newTestMeter(store, provider)

	_, err := m.ApplyBillingForCall(context.Background(), answered("job-1", 125))
	require.Error(t, err)

	_, err = store.ChargeByCallJob(context.Background(), "job-1")
	assert.ErrorIs(t, err, ErrNotFound)
	b, _ := store.GetShopBilling(context.Background(), testShop)
	assert.Equal(t, int64(100*60-60), b.IncludedSecondsUsed)

	// Redelivery after recovery bills exactly once.
	provider.mu.Lock()
	provider.chargeErr = nil
	provider.mu.Unlock()
	c, err := m.ApplyBillingForCall(context.Background(), answered("job-1", 125))
	require.NoError(t, err)
	assert.Equal(t, int64(2), c.OverageMinutes)
	assert.Equal(t, 1, provider.chargeCount())
}

func TestApplyBilling_MissingLineItemIsFatal(t *testing.T) {
	store := NewMemoryStore()
	row := paidShop(PlanScale, 1200*60)
	row.UsageLineItemID = ""
	store.PutShop(row)
	provider := newFakeProvider()
	provider.lineItem = ""
	m := newTestMeter(store, provider)

	_, err := m.ApplyBillingForCall(context.Background(), answered("job-1", 60))
	assert.ErrorIs(t, err, ErrUsageLineItemMissing)
	_, err = store.ChargeByCallJob(context.Background(), "job-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApplyBilling_SyncsLineItemWhenMissing(t *testing.T) {
	store := NewMemoryStore()
	row := paidShop(PlanScale, 1200*60)
	row.UsageLineItemID = ""
	store.PutShop(row)
	provider := newFakeProvider()
	m := newTestMeter(store, provider)

	c, err := m.ApplyBillingForCall(context.Background(), answered("job-1", 60))
	require.NoError(t, err)
	assert.Equal(t, int64(25), c.AmountCents)
	b, _ := store.GetShopBilling(context.Background(), testShop)
	assert.Equal(t, "si_usage", b.UsageLineItemID)
}

func TestApplyBilling_RejectsMissingIdentifiers(t *testing.T) {
	m := newTestMeter(NewMemoryStore(), newFakeProvider())
	_, err := m.ApplyBillingForCall(context.Background(), CallUsage{Shop: testShop})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

type conflictStore struct {
	*MemoryStore
	winner CallCharge
}

type conflictTx struct{ LedgerTx }

func (conflictTx) InsertCharge(_ context.Context, c CallCharge) error {
	return fmt.Errorf("%w: call job %s", ErrChargeExists, c.CallJobID)
}

func (s *conflictStore) WithinShopTx(ctx context.Context, shop string, fn func(ctx context.Context, tx LedgerTx) error) error {
	return s.MemoryStore.WithinShopTx(ctx, shop, func(ctx context.Context, tx LedgerTx) error {
		return fn(ctx, conflictTx{tx})
	})
}

func (s *conflictStore) ChargeByCallJob(context.Context, string) (CallCharge, error) {
	return s.winner, nil
}

func TestApplyBilling_LostInsertRaceReturnsStoredCharge(t *testing.T) {
	mem := NewMemoryStore()
	mem.PutShop(paidShop(PlanPro, 0))
	winner := CallCharge{ID: "chg-winner", Shop: testShop, CallJobID: "job-1", MinutesBilled: 2}
	m := newTestMeter(&conflictStore{MemoryStore: mem, winner: winner}, newFakeProvider())

	c, err := m.ApplyBillingForCall(context.Background(), answered("job-1", 90))
	require.NoError(t, err)
	assert.Equal(t, winner, c)

	b, _ := mem.GetShopBilling(context.Background(), testShop)
	assert.Zero(t, b.IncludedSecondsUsed)
}

func TestMemoryLedger_SecondInsertForCallIsRejected(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.InsertChargeIfAbsent(context.Background(), CallCharge{ID: "chg-1", Shop: testShop, CallJobID: "job-1"})
	require.NoError(t, err)

	err = store.WithinShopTx(context.Background(), testShop, func(ctx context.Context, tx LedgerTx) error {
		return tx.InsertCharge(ctx, CallCharge{ID: "chg-2", Shop: testShop, CallJobID: "job-1"})
	})
	assert.ErrorIs(t, err, ErrChargeExists)
}

package billing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and local development. Units of
// work are serialized by one mutex and staged until fn returns nil.
type MemoryStore struct {
	mu          sync.Mutex
	shops       map[string]ShopBilling
	charges     map[string]CallCharge // by call job id
	coupons     map[string]Coupon
	redemptions []CouponRedemption
	clock       func() time.Time
}

func NewMemoryStore(coupons ...Coupon) *MemoryStore {
	s := &MemoryStore{
		shops:   map[string]ShopBilling{},
		charges: map[string]CallCharge{},
		coupons: map[string]Coupon{},
		clock:   time.Now,
	}
	for _, c := range coupons {
		s.coupons[strings.ToUpper(c.Code)] = c
	}
	return s
}

// PutShop seeds a shop row.
func (s *MemoryStore) PutShop(b ShopBilling) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shops[b.Shop] = b
}

func (s *MemoryStore) shopLocked(shop string) ShopBilling {
	b, ok := s.shops[shop]
	if !ok {
		b = newShopBilling(shop, s.clock().UTC())
		s.shops[shop] = b
	}
	return b
}

func (s *MemoryStore) GetShopBilling(_ context.Context, shop string) (ShopBilling, error) {
	if shop == "" {
		return ShopBilling{}, ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shopLocked(shop), nil
}

func (s *MemoryStore) ShopBySubscription(_ context.Context, subscriptionID string) (ShopBilling, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.shops {
		if subscriptionID != "" && b.SubscriptionID == subscriptionID {
			return b, nil
		}
	}
	return ShopBilling{}, ErrNotFound
}

type memTx struct {
	store   *MemoryStore
	row     ShopBilling
	staged  []CallCharge
	touched bool
}

func (t *memTx) Shop() ShopBilling { return t.row }

func (t *memTx) ChargeFor(_ context.Context, callJobID string) (CallCharge, bool, error) {
	if c, ok := t.store.charges[callJobID]; ok {
		return c, true, nil
	}
	for _, c := range t.staged {
		if c.CallJobID == callJobID {
			return c, true, nil
		}
	}
	return CallCharge{}, false, nil
}

func (t *memTx) InsertCharge(ctx context.Context, c CallCharge) error {
	if _, ok, _ := t.ChargeFor(ctx, c.CallJobID); ok {
		return fmt.Errorf("%w: call job %s", ErrChargeExists, c.CallJobID)
	}
	t.staged = append(t.staged, c)
	return nil
}

func (t *memTx) SaveShop(_ context.Context, b ShopBilling) error {
	b.IncludedSecondsUsed = max(b.IncludedSecondsUsed, t.row.IncludedSecondsUsed)
	b.FreeSecondsUsed = max(b.FreeSecondsUsed, t.row.FreeSecondsUsed)
	b.UpdatedAt = t.store.clock().UTC()
	t.row = b
	t.touched = true
	return nil
}

func (s *MemoryStore) WithinShopTx(ctx context.Context, shop string, fn func(ctx context.Context, tx LedgerTx) error) error {
	if shop == "" {
		return ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s, row: s.shopLocked(shop)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if tx.touched {
		s.shops[shop] = tx.row
	}
	for _, c := range tx.staged {
		s.charges[c.CallJobID] = c
	}
	return nil
}

func (s *MemoryStore) InsertChargeIfAbsent(_ context.Context, c CallCharge) (CallCharge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.charges[c.CallJobID]; ok {
		return existing, nil
	}
	s.charges[c.CallJobID] = c
	return c, nil
}

func (s *MemoryStore) ChargeByCallJob(_ context.Context, callJobID string) (CallCharge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.charges[callJobID]
	if !ok {
		return CallCharge{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) ListCharges(_ context.Context, shop string, from, to time.Time) ([]CallCharge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CallCharge, 0)
	for _, c := range s.charges {
		if c.Shop != shop || c.CreatedAt.Before(from) || !c.CreatedAt.Before(to) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetCoupon(_ context.Context, code string) (Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coupons[strings.ToUpper(code)]
	if !ok {
		return Coupon{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) CouponUsage(_ context.Context, code, shop string) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total, forShop int
	for _, r := range s.redemptions {
		if !strings.EqualFold(r.Code, code) {
			continue
		}
		total++
		if r.Shop == shop {
			forShop++
		}
	}
	return total, forShop, nil
}

func (s *MemoryStore) RecordRedemption(_ context.Context, r CouponRedemption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.redemptions {
		if strings.EqualFold(existing.Code, r.Code) && existing.Shop == r.Shop && existing.SubscriptionID == r.SubscriptionID {
			return nil
		}
	}
	s.redemptions = append(s.redemptions, r)
	return nil
}

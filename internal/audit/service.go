package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events. Append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information. Callers treat it as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Shop == "" || e.Type == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogSweep records a manually or externally triggered dispatcher sweep.
func (s *Service) LogSweep(ctx context.Context, actor Actor, limit, claimed int) error {
	return s.Append(ctx, Event{
		Shop:         ShopAll,
		Type:         EventTypeSweepTriggered,
		ActorSubject: actor.Subject,
		ActorRole:    actor.Role,
		IPAddress:    actor.IP,
		Message:      fmt.Sprintf("sweep claimed %d jobs", claimed),
		Metadata:     mustJSON(map[string]int{"limit": limit, "claimed": claimed}),
	})
}

// LogSubscriptionStarted records an operator starting a plan change for a shop.
func (s *Service) LogSubscriptionStarted(ctx context.Context, actor Actor, shop, plan, coupon string) error {
	return s.Append(ctx, Event{
		Shop:         shop,
		Type:         EventTypeSubscriptionStarted,
		ActorSubject: actor.Subject,
		ActorRole:    actor.Role,
		IPAddress:    actor.IP,
		Message:      "subscription started for plan " + plan,
		Metadata:     mustJSON(map[string]string{"plan": plan, "coupon_code": coupon}),
	})
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

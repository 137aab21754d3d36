package audit

import "time"

// Event is an immutable, append-only audit log record of an operator or
// scheduler action.
//
// Invariants:
// - Events are never updated or deleted.
// - shop is required; scheduler-wide actions use ShopAll.
// - actor and ip capture are best-effort; do not block critical flows on audit failures.
type Event struct {
	ID   string    `json:"id" db:"id"`
	Shop string    `json:"shop" db:"shop"`
	Type EventType `json:"type" db:"type"`

	ActorSubject string `json:"actor_subject,omitempty" db:"actor_subject"`
	ActorRole    string `json:"actor_role,omitempty" db:"actor_role"`

	// IPAddress is the resolved client IP.
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	CallJobID string `json:"call_job_id,omitempty" db:"call_job_id"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`
	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeSweepTriggered      EventType = "sweep_triggered"
	EventTypeSubscriptionStarted EventType = "subscription_started"
)

// ShopAll marks events that are not about a single shop.
const ShopAll = "*"

// Actor identifies who caused an event.
type Actor struct {
	Subject string
	Role    string
	IP      string
}

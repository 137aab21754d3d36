package telephony

import (
	"context"

	"recovery-caller/internal/calls"
)

// CallProvider is the outbound voice provider used by the dispatcher.
//
// Rules:
// - No provider HTTP calls outside telephony adapters.
// - Every call carries {shop, callJobId} metadata so webhooks can be routed back to the job.
type CallProvider interface {
	calls.CallStarter
	Name() string
	HealthCheck(ctx context.Context) error
}

// Metadata keys attached to every outbound call and echoed back in webhooks.
const (
	MetaCallJobID = "callJobId"
	MetaShop      = "shop"
)

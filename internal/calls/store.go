package calls

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("calls: not found")
	ErrInvalidArgument = errors.New("calls: invalid argument")
)

// Store is the persistence contract for call jobs.
//
// Every status transition is a conditional write on the current status, so two
// concurrent actors cannot both move the same job.
type Store interface {
	Create(ctx context.Context, job CallJob) error
	Get(ctx context.Context, id string) (CallJob, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]CallJob, error)
	ListByShop(ctx context.Context, shop string, from, to time.Time) ([]CallJob, error)

	// Claim moves QUEUED -> CALLING, increments attempts and clears the
	// previous attempt's provider call id. False means another actor claimed
	// it first.
	Claim(ctx context.Context, id string, now time.Time) (bool, error)
	MarkStarted(ctx context.Context, id, providerCallID, outcome string, now time.Time) error
	MarkFailed(ctx context.Context, id, outcome string, now time.Time) error
	Requeue(ctx context.Context, id string, next time.Time, outcome string, now time.Time) error
	// Finish applies an end-of-call transition only while the job is CALLING
	// and, when f.ProviderCallID is set, only to the attempt that placed it.
	Finish(ctx context.Context, id string, f Finish, now time.Time) (bool, error)

	// SetOutcome overwrites the outcome text. A non-empty onlyIf restricts the
	// write to jobs currently in that status.
	SetOutcome(ctx context.Context, id, outcome string, onlyIf Status, now time.Time) error
	AppendTranscript(ctx context.Context, id, line string, now time.Time) error

	MergeOffer(ctx context.Context, id string, patch OfferRecord, now time.Time) error
	MergeBilling(ctx context.Context, id string, patch BillingNote, now time.Time) error

	// ClaimToolCall records that toolCallID is being executed for the job.
	// False means another delivery of the same tool call holds the claim.
	ClaimToolCall(ctx context.Context, jobID, toolCallID string, now time.Time) (bool, error)
	ReleaseToolCall(ctx context.Context, jobID, toolCallID string) error
}

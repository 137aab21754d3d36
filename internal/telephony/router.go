package telephony

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"recovery-caller/internal/archive"
	"recovery-caller/internal/billing"
	"recovery-caller/internal/calls"
	"recovery-caller/internal/offers"
	"recovery-caller/pkg/logger"
)

// ErrUnroutable is returned for events that carry no call job id.
var ErrUnroutable = errors.New("telephony: event has no call job id")

// EventHandler handles one webhook event type. The returned value, if any, is
// the JSON reply the provider expects.
type EventHandler func(ctx context.Context, ev Event) (any, error)

type CallFinisher interface {
	FinishCall(ctx context.Context, ev calls.CallEnded, now time.Time) (calls.FinishResult, error)
}

type ToolCallHandler interface {
	HandleToolCall(ctx context.Context, req offers.ToolCallRequest) (offers.ToolResult, error)
}

type UsageBiller interface {
	ApplyBillingForCall(ctx context.Context, u billing.CallUsage) (billing.CallCharge, error)
}

type RouterDeps struct {
	Jobs     calls.Store
	Finisher CallFinisher
	Offers   ToolCallHandler
	Billing  UsageBiller
	// Archiver is optional.
	Archiver archive.Archiver
	Logger   *slog.Logger
}

// Router dispatches provider webhooks by event type. Unknown types are
// acknowledged and ignored.
type Router struct {
	handlers map[EventType]EventHandler
	deps     RouterDeps
	log      *slog.Logger
	clock    func() time.Time
}

func NewRouter(deps RouterDeps) *Router {
	if deps.Archiver == nil {
		deps.Archiver = archive.Nop{}
	}
	r := &Router{deps: deps, log: logger.OrDefault(deps.Logger), clock: time.Now}
	r.handlers = map[EventType]EventHandler{
		EventStatusUpdate:    r.handleStatusUpdate,
		EventTranscript:      r.handleTranscript,
		EventToolCalls:       r.handleToolCalls,
		EventEndOfCallReport: r.handleEndOfCallReport,
	}
	return r
}

// Dispatch runs the handler registered for ev.Type.
func (r *Router) Dispatch(ctx context.Context, ev Event) (any, error) {
	h, ok := r.handlers[ev.Type]
	if !ok {
		r.logFor(ctx).Debug("ignoring voice webhook", "type", ev.Type)
		return nil, nil
	}
	return h(ctx, ev)
}

// logFor prefers the request-scoped logger carried by ctx.
func (r *Router) logFor(ctx context.Context) *slog.Logger {
	if l := logger.From(ctx); l != slog.Default() {
		return l
	}
	return r.log
}

func (r *Router) handleStatusUpdate(ctx context.Context, ev Event) (any, error) {
	jobID := ev.CallJobID()
	if jobID == "" {
		return nil, ErrUnroutable
	}
	err := r.deps.Jobs.SetOutcome(ctx, jobID, "status: "+ev.Status, calls.StatusCalling, r.clock().UTC())
	if errors.Is(err, calls.ErrNotFound) {
		return nil, nil
	}
	return nil, err
}

func (r *Router) handleTranscript(ctx context.Context, ev Event) (any, error) {
	if ev.TranscriptType != transcriptTypeFinal || strings.TrimSpace(ev.Transcript) == "" {
		return nil, nil
	}
	jobID := ev.CallJobID()
	if jobID == "" {
		return nil, ErrUnroutable
	}
	line := ev.Role + ": " + strings.TrimSpace(ev.Transcript)
	err := r.deps.Jobs.AppendTranscript(ctx, jobID, line, r.clock().UTC())
	if errors.Is(err, calls.ErrNotFound) {
		return nil, nil
	}
	return nil, err
}

const billingFailedSep = "; billing failed: "

type toolCallsReply struct {
	Results []toolCallResult `json:"results"`
}

type toolCallResult struct {
	ToolCallID string `json:"toolCallId"`
	Result     any    `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
}

type sendOfferArgs struct {
	OfferType       string `json:"offerType"`
	DiscountPercent int    `json:"discountPercent"`
}

// handleToolCalls answers every tool call in the list. Policy failures go
// back to the agent as errors it can talk about; an infrastructure failure
// fails the whole delivery so the provider retries it.
func (r *Router) handleToolCalls(ctx context.Context, ev Event) (any, error) {
	reply := toolCallsReply{Results: make([]toolCallResult, 0, len(ev.ToolCallList))}
	for _, tc := range ev.ToolCallList {
		res := toolCallResult{ToolCallID: tc.ID}
		if tc.Function.Name != offers.ToolName {
			res.Error = "unknown tool " + tc.Function.Name
			reply.Results = append(reply.Results, res)
			continue
		}

		var args sendOfferArgs
		if err := tc.Function.DecodeArguments(&args); err != nil {
			res.Error = offers.CodeInvalidArguments + ": " + err.Error()
			reply.Results = append(reply.Results, res)
			continue
		}
		out, err := r.deps.Offers.HandleToolCall(ctx, offers.ToolCallRequest{
			Shop:            ev.Shop(),
			CallJobID:       ev.CallJobID(),
			ToolCallID:      tc.ID,
			OfferType:       calls.OfferType(args.OfferType),
			DiscountPercent: args.DiscountPercent,
		})
		var te *offers.ToolError
		switch {
		case errors.As(err, &te):
			res.Error = te.Error()
		case err != nil:
			return nil, fmt.Errorf("tool call %s: %w", tc.ID, err)
		default:
			res.Result = out
		}
		reply.Results = append(reply.Results, res)
	}
	return reply, nil
}

// handleEndOfCallReport finishes the job, archives the report and bills the
// call once the job is done. A report whose attempt was requeued, or one from
// an earlier attempt, is not metered. Redeliveries of the final report are
// metered again; the meter makes them no-ops.
func (r *Router) handleEndOfCallReport(ctx context.Context, ev Event) (any, error) {
	jobID := ev.CallJobID()
	if jobID == "" {
		return nil, ErrUnroutable
	}
	log := r.logFor(ctx).With("job_id", jobID, "ended_reason", ev.EndedReason)
	now := r.clock().UTC()

	ended := calls.CallEnded{
		CallJobID:        jobID,
		ProviderCallID:   ev.Call.ID,
		EndedReason:      ev.EndedReason,
		ConnectedSeconds: ev.ConnectedSeconds(),
		Answered:         ev.Answered(),
		Voicemail:        ev.Voicemail(),
		ProviderError:    ev.ProviderError(),
		Transcript:       ev.FullTranscript(),
	}
	fin, err := r.deps.Finisher.FinishCall(ctx, ended, now)
	if errors.Is(err, calls.ErrNotFound) {
		log.Warn("end-of-call report for unknown job")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finish call: %w", err)
	}
	job := fin.Job

	if fin.Transitioned && len(ev.Raw) > 0 {
		if key, err := r.deps.Archiver.ArchiveCallReport(ctx, job.Shop, job.ID, ev.Raw); err != nil {
			log.Warn("archive call report failed", "err", err)
		} else if key != "" {
			log.Debug("call report archived", "key", key)
		}
	}

	if !fin.Billable() {
		log.Info("call not metered", "status", job.Status, "stale", fin.Stale)
		return nil, nil
	}

	charge, err := r.deps.Billing.ApplyBillingForCall(ctx, billing.CallUsage{
		Shop:             job.Shop,
		CallJobID:        job.ID,
		ConnectedSeconds: ended.ConnectedSeconds,
		Answered:         ended.Answered,
		Voicemail:        ended.Voicemail,
	})
	if err != nil {
		r.recordBillingError(ctx, log, job, err, now)
		return nil, fmt.Errorf("apply billing: %w", err)
	}

	chargedAt := charge.CreatedAt
	if err := r.deps.Jobs.MergeBilling(context.WithoutCancel(ctx), job.ID, calls.BillingNote{ChargeID: charge.ID, ChargedAt: &chargedAt}, now); err != nil {
		log.Warn("record billing note failed", "err", err)
	}
	log.Info("call billed", "minutes", charge.MinutesBilled, "amount_cents", charge.AmountCents)
	return nil, nil
}

func (r *Router) recordBillingError(ctx context.Context, log *slog.Logger, job calls.CallJob, billErr error, now time.Time) {
	ctx = context.WithoutCancel(ctx)
	log.Error("billing failed", "err", billErr)
	if err := r.deps.Jobs.MergeBilling(ctx, job.ID, calls.BillingNote{LastError: billErr.Error(), LastErrorAt: &now}, now); err != nil {
		log.Warn("record billing error failed", "err", err)
	}
	base, _, _ := strings.Cut(job.Outcome, billingFailedSep)
	if err := r.deps.Jobs.SetOutcome(ctx, job.ID, base+billingFailedSep+billErr.Error(), "", now); err != nil {
		log.Warn("record billing outcome failed", "err", err)
	}
}

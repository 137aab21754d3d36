package telephony

import (
	"encoding/json"
	"math"
	"strings"
	"time"
)

type EventType string

const (
	EventStatusUpdate    EventType = "status-update"
	EventTranscript      EventType = "transcript"
	EventToolCalls       EventType = "tool-calls"
	EventEndOfCallReport EventType = "end-of-call-report"
)

const (
	transcriptTypeFinal  = "final"
	endedReasonVoicemail = "voicemail"
)

// Envelope is the server message wrapper the provider posts for every event.
type Envelope struct {
	Message Event `json:"message"`
}

// Event carries the union of fields used by the handled event types.
type Event struct {
	Type EventType `json:"type"`
	Call CallInfo  `json:"call"`

	// status-update
	Status string `json:"status,omitempty"`

	// transcript
	Role           string `json:"role,omitempty"`
	TranscriptType string `json:"transcriptType,omitempty"`
	Transcript     string `json:"transcript,omitempty"`

	// tool-calls
	ToolCallList []ToolCall `json:"toolCallList,omitempty"`

	// end-of-call-report
	EndedReason     string     `json:"endedReason,omitempty"`
	DurationSeconds *float64   `json:"durationSeconds,omitempty"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
	Artifact        *Artifact  `json:"artifact,omitempty"`

	// Raw is the undecoded message, kept for archiving.
	Raw json.RawMessage `json:"-"`
}

type CallInfo struct {
	ID       string            `json:"id"`
	Metadata map[string]string `json:"metadata"`
}

type Artifact struct {
	Transcript string `json:"transcript"`
}

type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name string `json:"name"`
	// Arguments arrive either as an object or as a JSON-encoded string.
	Arguments json.RawMessage `json:"arguments"`
}

// DecodeArguments unmarshals the tool arguments into out.
func (f ToolFunction) DecodeArguments(out any) error {
	args := f.Arguments
	var s string
	if json.Unmarshal(args, &s) == nil {
		args = json.RawMessage(s)
	}
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	return json.Unmarshal(args, out)
}

// ParseEnvelope decodes one webhook body.
func ParseEnvelope(body []byte) (Event, error) {
	var raw struct {
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return Event{}, err
	}
	var ev Event
	if len(raw.Message) > 0 {
		if err := json.Unmarshal(raw.Message, &ev); err != nil {
			return Event{}, err
		}
	}
	ev.Raw = raw.Message
	return ev, nil
}

// CallJobID is the job id the dispatcher attached when starting the call.
func (e Event) CallJobID() string { return e.Call.Metadata[MetaCallJobID] }

func (e Event) Shop() string { return e.Call.Metadata[MetaShop] }

// ConnectedSeconds prefers the reported duration and falls back to the
// start/end timestamps. Partial seconds are dropped.
func (e Event) ConnectedSeconds() int {
	if e.DurationSeconds != nil && *e.DurationSeconds > 0 {
		return int(math.Floor(*e.DurationSeconds))
	}
	if e.StartedAt != nil && e.EndedAt != nil && e.EndedAt.After(*e.StartedAt) {
		return int(e.EndedAt.Sub(*e.StartedAt) / time.Second)
	}
	return 0
}

func (e Event) FullTranscript() string {
	if e.Artifact != nil && e.Artifact.Transcript != "" {
		return e.Artifact.Transcript
	}
	return e.Transcript
}

// unanswered reports ended reasons for calls nobody picked up.
func unanswered(reason string) bool {
	switch reason {
	case "customer-did-not-answer", "customer-busy", "silence-timed-out", endedReasonVoicemail:
		return true
	default:
		return false
	}
}

func (e Event) Voicemail() bool { return e.EndedReason == endedReasonVoicemail }

func (e Event) Answered() bool {
	if e.EndedReason == "" {
		return e.ConnectedSeconds() > 0
	}
	return !unanswered(e.EndedReason) && !e.ProviderError()
}

// ProviderError reports an ended reason caused by the provider's own pipeline
// rather than by the customer.
func (e Event) ProviderError() bool {
	r := e.EndedReason
	return strings.HasPrefix(r, "pipeline-error") ||
		strings.HasPrefix(r, "call.in-progress.error") ||
		strings.HasSuffix(r, "-failed-to-connect-call") ||
		r == "assistant-request-failed"
}

package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Valid reports whether the range is non-empty. From is inclusive, To exclusive.
func (r TimeRange) Valid() bool {
	return !r.From.IsZero() && !r.To.IsZero() && r.To.After(r.From)
}

// CallsSummary aggregates call jobs created within the range.
type CallsSummary struct {
	Shop  string    `json:"shop"`
	Range TimeRange `json:"range"`

	TotalJobs     int `json:"total_jobs"`
	QueuedJobs    int `json:"queued_jobs"`
	CallingJobs   int `json:"calling_jobs"`
	CompletedJobs int `json:"completed_jobs"`
	FailedJobs    int `json:"failed_jobs"`

	Attempts   int `json:"attempts"`
	OffersSent int `json:"offers_sent"`

	TotalConnectedSeconds   int `json:"total_connected_seconds"`
	AverageConnectedSeconds int `json:"average_connected_seconds"`
}

// UsageSummary aggregates call charges recorded within the range.
type UsageSummary struct {
	Shop  string    `json:"shop"`
	Range TimeRange `json:"range"`

	CallsCharged   int   `json:"calls_charged"`
	CallsOverage   int   `json:"calls_overage"`
	MinutesBilled  int64 `json:"minutes_billed"`
	OverageMinutes int64 `json:"overage_minutes"`
	AmountCents    int64 `json:"amount_cents"`

	ConnectedSeconds int    `json:"connected_seconds"`
	CurrencyCode     string `json:"currency_code,omitempty"`
}

package calls

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"recovery-caller/pkg/utils"
)

// PostgresStore implements Store on the call_jobs and tool_call_claims tables
// (see migrations/0001_init.sql).
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

const jobColumns = `id, shop, checkout_id, phone, status, attempts, scheduled_for,
       COALESCE(provider_call_id, ''), COALESCE(outcome, ''), transcript,
       COALESCE(ended_reason, ''), connected_seconds, metadata, created_at, updated_at`

func scanJob(row interface{ Scan(dest ...any) error }) (CallJob, error) {
	var (
		j    CallJob
		meta []byte
	)
	if err := row.Scan(
		&j.ID,
		&j.Shop,
		&j.CheckoutID,
		&j.Phone,
		&j.Status,
		&j.Attempts,
		&j.ScheduledFor,
		&j.ProviderCallID,
		&j.Outcome,
		&j.Transcript,
		&j.EndedReason,
		&j.ConnectedSeconds,
		&meta,
		&j.CreatedAt,
		&j.UpdatedAt,
	); err != nil {
		return CallJob{}, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &j.Metadata); err != nil {
			return CallJob{}, fmt.Errorf("decode metadata for job %s: %w", j.ID, err)
		}
	}
	return j, nil
}

func (s *PostgresStore) Create(ctx context.Context, job CallJob) error {
	if job.ID == "" || job.Shop == "" {
		return ErrInvalidArgument
	}
	meta, err := json.Marshal(job.Metadata)
	if err != nil {
		return err
	}
	if job.Status == "" {
		job.Status = StatusQueued
	}
	const q = `
INSERT INTO call_jobs (id, shop, checkout_id, phone, status, attempts, scheduled_for, metadata, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
`
	_, err = s.db.ExecContext(ctx, q, job.ID, job.Shop, job.CheckoutID, job.Phone, job.Status, job.Attempts, job.ScheduledFor, meta, job.CreatedAt)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (CallJob, error) {
	q := `SELECT ` + jobColumns + ` FROM call_jobs WHERE id = $1`
	j, err := scanJob(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return CallJob{}, ErrNotFound
	}
	return j, err
}

func (s *PostgresStore) ListDue(ctx context.Context, now time.Time, limit int) ([]CallJob, error) {
	q := `SELECT ` + jobColumns + `
FROM call_jobs
WHERE status = 'QUEUED' AND scheduled_for <= $1
ORDER BY scheduled_for ASC
LIMIT $2`
	return s.list(ctx, q, now, limit)
}

func (s *PostgresStore) ListByShop(ctx context.Context, shop string, from, to time.Time) ([]CallJob, error) {
	q := `SELECT ` + jobColumns + `
FROM call_jobs
WHERE shop = $1 AND created_at >= $2 AND created_at < $3
ORDER BY created_at ASC`
	return s.list(ctx, q, shop, from, to)
}

func (s *PostgresStore) list(ctx context.Context, q string, args ...any) ([]CallJob, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Claim(ctx context.Context, id string, now time.Time) (bool, error) {
	const q = `
UPDATE call_jobs
SET status = 'CALLING', attempts = attempts + 1, provider_call_id = NULL, updated_at = $2
WHERE id = $1 AND status = 'QUEUED'
`
	res, err := s.db.ExecContext(ctx, q, id, now)
	if err != nil {
		return false, err
	}
	return utils.RowsAffected(res) == 1, nil
}

func (s *PostgresStore) MarkStarted(ctx context.Context, id, providerCallID, outcome string, now time.Time) error {
	const q = `
UPDATE call_jobs
SET provider_call_id = $2, outcome = $3, updated_at = $4
WHERE id = $1 AND status = 'CALLING'
`
	return s.execOne(ctx, q, id, providerCallID, outcome, now)
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id, outcome string, now time.Time) error {
	const q = `
UPDATE call_jobs
SET status = 'FAILED', outcome = $2, updated_at = $3
WHERE id = $1 AND status = 'CALLING'
`
	return s.execOne(ctx, q, id, outcome, now)
}

func (s *PostgresStore) Requeue(ctx context.Context, id string, next time.Time, outcome string, now time.Time) error {
	const q = `
UPDATE call_jobs
SET status = 'QUEUED', scheduled_for = $2, outcome = $3, updated_at = $4
WHERE id = $1 AND status = 'CALLING'
`
	return s.execOne(ctx, q, id, next, outcome, now)
}

func (s *PostgresStore) Finish(ctx context.Context, id string, f Finish, now time.Time) (bool, error) {
	if f.Status == StatusCalling || f.Status == "" {
		return false, ErrInvalidArgument
	}
	var next any
	if f.Status == StatusQueued {
		next = f.NextAttemptAt
	}
	const q = `
UPDATE call_jobs
SET status = $2,
    outcome = $3,
    ended_reason = $4,
    connected_seconds = $5,
    transcript = CASE WHEN $6 = '' THEN transcript ELSE $6 END,
    scheduled_for = COALESCE($7, scheduled_for),
    updated_at = $8
WHERE id = $1 AND status = 'CALLING'
  AND ($9 = '' OR provider_call_id = $9 OR (COALESCE(provider_call_id, '') = '' AND attempts <= 1))
`
	res, err := s.db.ExecContext(ctx, q, id, f.Status, f.Outcome, f.EndedReason, f.ConnectedSeconds, f.Transcript, next, now, f.ProviderCallID)
	if err != nil {
		return false, err
	}
	return utils.RowsAffected(res) == 1, nil
}

func (s *PostgresStore) SetOutcome(ctx context.Context, id, outcome string, onlyIf Status, now time.Time) error {
	const q = `
UPDATE call_jobs
SET outcome = $2, updated_at = $3
WHERE id = $1 AND ($4 = '' OR status = $4)
`
	_, err := s.db.ExecContext(ctx, q, id, outcome, now, string(onlyIf))
	return err
}

func (s *PostgresStore) AppendTranscript(ctx context.Context, id, line string, now time.Time) error {
	const q = `
UPDATE call_jobs
SET transcript = CASE WHEN transcript = '' THEN $2 ELSE transcript || E'\n' || $2 END,
    updated_at = $3
WHERE id = $1
`
	return s.execOne(ctx, q, id, line, now)
}

// MergeOffer and MergeBilling merge into one metadata section with jsonb ||,
// leaving every other key (and every unset field of the patch) untouched.
func (s *PostgresStore) MergeOffer(ctx context.Context, id string, patch OfferRecord, now time.Time) error {
	return s.mergeSection(ctx, id, "offer", patch, now)
}

func (s *PostgresStore) MergeBilling(ctx context.Context, id string, patch BillingNote, now time.Time) error {
	return s.mergeSection(ctx, id, "billing", patch, now)
}

func (s *PostgresStore) mergeSection(ctx context.Context, id, section string, patch any, now time.Time) error {
	raw, err := json.Marshal(patch)
	if err != nil {
		return err
	}
	const q = `
UPDATE call_jobs
SET metadata = metadata || jsonb_build_object($2::text, COALESCE(metadata -> $2::text, '{}'::jsonb) || $3::jsonb),
    updated_at = $4
WHERE id = $1
`
	return s.execOne(ctx, q, id, section, raw, now)
}

func (s *PostgresStore) ClaimToolCall(ctx context.Context, jobID, toolCallID string, now time.Time) (bool, error) {
	const q = `
INSERT INTO tool_call_claims (call_job_id, tool_call_id, claimed_at)
VALUES ($1, $2, $3)
ON CONFLICT (call_job_id, tool_call_id) DO NOTHING
`
	res, err := s.db.ExecContext(ctx, q, jobID, toolCallID, now)
	if err != nil {
		return false, err
	}
	return utils.RowsAffected(res) == 1, nil
}

func (s *PostgresStore) ReleaseToolCall(ctx context.Context, jobID, toolCallID string) error {
	const q = `DELETE FROM tool_call_claims WHERE call_job_id = $1 AND tool_call_id = $2`
	_, err := s.db.ExecContext(ctx, q, jobID, toolCallID)
	return err
}

func (s *PostgresStore) execOne(ctx context.Context, q string, args ...any) error {
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	if utils.RowsAffected(res) == 0 {
		return ErrNotFound
	}
	return nil
}

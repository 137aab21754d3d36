package calls

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and local development.
// One mutex serializes every operation, which gives the same conditional-write
// semantics as the Postgres implementation.
type MemoryStore struct {
	mu     sync.Mutex
	jobs   map[string]*CallJob
	claims map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: map[string]*CallJob{}, claims: map[string]time.Time{}}
}

func copyJob(j *CallJob) CallJob {
	out := *j
	out.Metadata = j.Metadata.clone()
	return out
}

func (s *MemoryStore) Create(_ context.Context, job CallJob) error {
	if job.ID == "" || job.Shop == "" {
		return ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.Status == "" {
		job.Status = StatusQueued
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
	j := copyJob(&job)
	s.jobs[job.ID] = &j
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (CallJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return CallJob{}, ErrNotFound
	}
	return copyJob(j), nil
}

func (s *MemoryStore) ListDue(_ context.Context, now time.Time, limit int) ([]CallJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CallJob, 0)
	for _, j := range s.jobs {
		if j.Status == StatusQueued && !j.ScheduledFor.After(now) {
			out = append(out, copyJob(j))
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].ScheduledFor.Equal(out[b].ScheduledFor) {
			return out[a].ID < out[b].ID
		}
		return out[a].ScheduledFor.Before(out[b].ScheduledFor)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListByShop(_ context.Context, shop string, from, to time.Time) ([]CallJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CallJob, 0)
	for _, j := range s.jobs {
		if j.Shop != shop {
			continue
		}
		if j.CreatedAt.Before(from) || !j.CreatedAt.Before(to) {
			continue
		}
		out = append(out, copyJob(j))
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Claim(_ context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status != StatusQueued {
		return false, nil
	}
	j.Status = StatusCalling
	j.Attempts++
	j.ProviderCallID = ""
	j.UpdatedAt = now
	return true, nil
}

func (s *MemoryStore) calling(id string) (*CallJob, error) {
	j, ok := s.jobs[id]
	if !ok || j.Status != StatusCalling {
		return nil, ErrNotFound
	}
	return j, nil
}

func (s *MemoryStore) MarkStarted(_ context.Context, id, providerCallID, outcome string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.calling(id)
	if err != nil {
		return err
	}
	j.ProviderCallID = providerCallID
	j.Outcome = outcome
	j.UpdatedAt = now
	return nil
}

func (s *MemoryStore) MarkFailed(_ context.Context, id, outcome string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.calling(id)
	if err != nil {
		return err
	}
	j.Status = StatusFailed
	j.Outcome = outcome
	j.UpdatedAt = now
	return nil
}

func (s *MemoryStore) Requeue(_ context.Context, id string, next time.Time, outcome string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.calling(id)
	if err != nil {
		return err
	}
	j.Status = StatusQueued
	j.ScheduledFor = next
	j.Outcome = outcome
	j.UpdatedAt = now
	return nil
}

func (s *MemoryStore) Finish(_ context.Context, id string, f Finish, now time.Time) (bool, error) {
	if f.Status == StatusCalling || f.Status == "" {
		return false, ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status != StatusCalling {
		return false, nil
	}
	if staleAttempt(*j, CallEnded{ProviderCallID: f.ProviderCallID}) {
		return false, nil
	}
	j.Status = f.Status
	j.Outcome = f.Outcome
	j.EndedReason = f.EndedReason
	j.ConnectedSeconds = f.ConnectedSeconds
	if f.Transcript != "" {
		j.Transcript = f.Transcript
	}
	if f.Status == StatusQueued {
		j.ScheduledFor = f.NextAttemptAt
	}
	j.UpdatedAt = now
	return true, nil
}

func (s *MemoryStore) SetOutcome(_ context.Context, id, outcome string, onlyIf Status, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || (onlyIf != "" && j.Status != onlyIf) {
		return nil
	}
	j.Outcome = outcome
	j.UpdatedAt = now
	return nil
}

func (s *MemoryStore) AppendTranscript(_ context.Context, id, line string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.Transcript == "" {
		j.Transcript = line
	} else {
		j.Transcript += "\n" + line
	}
	j.UpdatedAt = now
	return nil
}

func (s *MemoryStore) MergeOffer(_ context.Context, id string, patch OfferRecord, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.Metadata.Offer == nil {
		j.Metadata.Offer = &OfferRecord{}
	}
	j.Metadata.Offer.Merge(patch)
	j.UpdatedAt = now
	return nil
}

func (s *MemoryStore) MergeBilling(_ context.Context, id string, patch BillingNote, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.Metadata.Billing == nil {
		j.Metadata.Billing = &BillingNote{}
	}
	j.Metadata.Billing.Merge(patch)
	j.UpdatedAt = now
	return nil
}

func (s *MemoryStore) ClaimToolCall(_ context.Context, jobID, toolCallID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := jobID + "|" + toolCallID
	if _, ok := s.claims[k]; ok {
		return false, nil
	}
	s.claims[k] = now
	return true, nil
}

func (s *MemoryStore) ReleaseToolCall(_ context.Context, jobID, toolCallID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claims, jobID+"|"+toolCallID)
	return nil
}

// Package memory provides a process-local dispatch.Store for tests and local runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JULAME/trianglerh-web/pkg/dispatch"
)

// Store keeps jobs and tokens in maps guarded by one mutex, so Complete is
// atomic in the same sense the Firestore transaction is.
type Store struct {
	mu     sync.Mutex
	jobs   map[string]dispatch.Job
	tokens map[string]map[string]dispatch.DeviceToken
}

func NewStore() *Store {
	return &Store{
		jobs:   make(map[string]dispatch.Job),
		tokens: make(map[string]map[string]dispatch.DeviceToken),
	}
}

// PutJob inserts or replaces a job as-is. An empty ID gets a generated one.
func (s *Store) PutJob(job dispatch.Job) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	s.jobs[job.ID] = job
	return job.ID
}

// Job returns a copy of the stored job.
func (s *Store) Job(id string) (dispatch.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	return job, ok
}

func (s *Store) Enqueue(_ context.Context, job dispatch.Job) (string, error) {
	job.ID = ""
	job.Sent = false
	job.Outcome = dispatch.Outcome{}
	return s.PutJob(job), nil
}

func (s *Store) DueJobs(_ context.Context, now time.Time, limit int) ([]dispatch.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]dispatch.Job, 0)
	for _, job := range s.jobs {
		if job.Sent || job.SendAt.After(now) {
			continue
		}
		due = append(due, job)
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].SendAt.Equal(due[j].SendAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].SendAt.Before(due[j].SendAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *Store) Claim(_ context.Context, jobID, owner string, now time.Time, lease time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return false, dispatch.ErrJobNotFound
	}
	if job.Sent {
		return false, nil
	}
	if job.ClaimedBy != "" && job.ClaimedBy != owner && now.Before(job.ClaimedAt.Add(lease)) {
		return false, nil
	}
	job.ClaimedBy = owner
	job.ClaimedAt = now
	s.jobs[jobID] = job
	return true, nil
}

func (s *Store) Complete(_ context.Context, job dispatch.Job, outcome dispatch.Outcome, deadTokens []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.jobs[job.ID]
	if !ok {
		return dispatch.ErrJobNotFound
	}
	if stored.Sent {
		return dispatch.ErrJobAlreadyCompleted
	}

	if userTokens := s.tokens[stored.UID]; userTokens != nil {
		for _, t := range deadTokens {
			delete(userTokens, t)
		}
	}

	stored.Sent = true
	stored.Outcome = outcome
	s.jobs[job.ID] = stored
	return nil
}

func (s *Store) RegisterToken(_ context.Context, uid string, token dispatch.DeviceToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token.Platform == "" {
		token.Platform = dispatch.PlatformFCM
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now()
	}
	userTokens, ok := s.tokens[uid]
	if !ok {
		userTokens = make(map[string]dispatch.DeviceToken)
		s.tokens[uid] = userTokens
	}
	userTokens[token.Token] = token
	return nil
}

func (s *Store) UnregisterToken(_ context.Context, uid string, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens[uid], token)
	return nil
}

func (s *Store) ListTokens(_ context.Context, uid string) ([]dispatch.DeviceToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]dispatch.DeviceToken, 0, len(s.tokens[uid]))
	for _, t := range s.tokens[uid] {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out, nil
}

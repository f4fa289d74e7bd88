package jobstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/stemtranscriber/api/internal/model"
)

// MemoryStore is an in-process Store used by tests and the offline CLI.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*model.Job
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*model.Job),
		now:  time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, jobID, projectID string, kind model.JobKind, message string) error {
	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[jobID] = &model.Job{
		ID:        jobID,
		ProjectID: projectID,
		Kind:      kind,
		State:     model.JobStateQueued,
		Message:   message,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

func (s *MemoryStore) Update(_ context.Context, jobID string, u model.JobUpdate) error {
	u = normalize(u)

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if job.State.Terminal() {
		return ErrTerminal
	}

	if u.State != nil {
		job.State = *u.State
	}
	if u.Progress != nil {
		job.Progress = *u.Progress
	}
	if u.Message != nil {
		job.Message = *u.Message
	}
	job.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, jobID string) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	snapshot := *job
	return &snapshot, nil
}

func (s *MemoryStore) Active(_ context.Context) ([]*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var jobs []*model.Job
	for _, job := range s.jobs {
		if job.State.Terminal() {
			continue
		}
		snapshot := *job
		jobs = append(jobs, &snapshot)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs, nil
}

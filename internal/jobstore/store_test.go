package jobstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stemtranscriber/api/internal/model"
)

type testStore interface {
	Store
	ActiveLister
}

func newRedisStore(t *testing.T, retention time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, retention), mr
}

func stores(t *testing.T) map[string]testStore {
	rs, _ := newRedisStore(t, 0)
	return map[string]testStore{
		"redis":  rs,
		"memory": NewMemoryStore(),
	}
}

func TestStore_CreateAndGet(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := s.Create(ctx, "job-1", "proj-1", model.JobKindSeparation, "Separation queued"); err != nil {
				t.Fatalf("Create: %v", err)
			}

			job, err := s.Get(ctx, "job-1")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if job.State != model.JobStateQueued || job.Progress != 0 {
				t.Errorf("expected queued/0, got %s/%d", job.State, job.Progress)
			}
			if job.ProjectID != "proj-1" || job.Kind != model.JobKindSeparation {
				t.Errorf("unexpected job fields: %+v", job)
			}
			if job.Message != "Separation queued" {
				t.Errorf("unexpected message %q", job.Message)
			}
			if job.CreatedAt.IsZero() || job.UpdatedAt.IsZero() {
				t.Error("expected timestamps to be set")
			}
		})
	}
}

func TestStore_GetUnknown(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(context.Background(), "missing")
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
			err = s.Update(context.Background(), "missing", model.Running(10, "x"))
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound on update, got %v", err)
			}
		})
	}
}

func TestStore_PartialMerge(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_ = s.Create(ctx, "job-1", "proj-1", model.JobKindTranscription, "queued")

			if err := s.Update(ctx, "job-1", model.Running(35, "Building notes...")); err != nil {
				t.Fatalf("Update: %v", err)
			}
			progress := 40
			if err := s.Update(ctx, "job-1", model.JobUpdate{Progress: &progress}); err != nil {
				t.Fatalf("Update: %v", err)
			}

			job, _ := s.Get(ctx, "job-1")
			if job.State != model.JobStateRunning {
				t.Errorf("state should survive a progress-only update, got %s", job.State)
			}
			if job.Message != "Building notes..." {
				t.Errorf("message should survive a progress-only update, got %q", job.Message)
			}
			if job.Progress != 40 {
				t.Errorf("expected progress 40, got %d", job.Progress)
			}
		})
	}
}

func TestStore_ProgressInvariants(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_ = s.Create(ctx, "over", "p", model.JobKindSeparation, "")
			_ = s.Update(ctx, "over", model.Running(140, "x"))
			if job, _ := s.Get(ctx, "over"); job.Progress != 100 {
				t.Errorf("expected clamp to 100, got %d", job.Progress)
			}

			_ = s.Create(ctx, "under", "p", model.JobKindSeparation, "")
			_ = s.Update(ctx, "under", model.Running(-3, "x"))
			if job, _ := s.Get(ctx, "under"); job.Progress != 0 {
				t.Errorf("expected clamp to 0, got %d", job.Progress)
			}

			_ = s.Create(ctx, "ok", "p", model.JobKindSeparation, "")
			state := model.JobStateSucceeded
			_ = s.Update(ctx, "ok", model.JobUpdate{State: &state})
			if job, _ := s.Get(ctx, "ok"); job.Progress != 100 {
				t.Errorf("succeeded job must report 100, got %d", job.Progress)
			}

			_ = s.Create(ctx, "bad", "p", model.JobKindSeparation, "")
			_ = s.Update(ctx, "bad", model.Running(60, "x"))
			_ = s.Update(ctx, "bad", model.Failed("boom"))
			job, _ := s.Get(ctx, "bad")
			if job.Progress != 0 || job.State != model.JobStateFailed || job.Message != "boom" {
				t.Errorf("unexpected failed job: %+v", job)
			}
		})
	}
}

func TestStore_TerminalIsImmutable(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_ = s.Create(ctx, "job-1", "p", model.JobKindSeparation, "")
			_ = s.Update(ctx, "job-1", model.Succeeded("Stems ready (htdemucs)."))

			err := s.Update(ctx, "job-1", model.Failed("late"))
			if !errors.Is(err, ErrTerminal) {
				t.Fatalf("expected ErrTerminal, got %v", err)
			}
			job, _ := s.Get(ctx, "job-1")
			if job.State != model.JobStateSucceeded || job.Message != "Stems ready (htdemucs)." {
				t.Errorf("terminal job was modified: %+v", job)
			}
		})
	}
}

func TestStore_CreateResetsRecord(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_ = s.Create(ctx, "job-1", "p", model.JobKindSeparation, "")
			_ = s.Update(ctx, "job-1", model.Failed("boom"))
			_ = s.Create(ctx, "job-1", "p", model.JobKindSeparation, "again")

			job, _ := s.Get(ctx, "job-1")
			if job.State != model.JobStateQueued || job.Message != "again" {
				t.Errorf("expected fresh queued record, got %+v", job)
			}
		})
	}
}

func TestStore_Active(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_ = s.Create(ctx, "a", "p", model.JobKindSeparation, "")
			_ = s.Create(ctx, "b", "p", model.JobKindSeparation, "")
			_ = s.Update(ctx, "b", model.Succeeded("done"))

			jobs, err := s.Active(ctx)
			if err != nil {
				t.Fatalf("Active: %v", err)
			}
			if len(jobs) != 1 || jobs[0].ID != "a" {
				t.Errorf("expected only job a to be active, got %+v", jobs)
			}
		})
	}
}

func TestRedisStore_RetentionStartsAtTerminal(t *testing.T) {
	s, mr := newRedisStore(t, time.Hour)
	ctx := context.Background()
	_ = s.Create(ctx, "job-1", "p", model.JobKindSeparation, "")

	if ttl := mr.TTL(jobKey("job-1")); ttl != 0 {
		t.Errorf("live job should not expire, got ttl %v", ttl)
	}

	mr.FastForward(50 * time.Minute)
	if err := s.Update(ctx, "job-1", model.Running(40, "Separating... 40%")); err != nil {
		t.Fatalf("Update running: %v", err)
	}
	mr.FastForward(2 * time.Hour)

	if err := s.Update(ctx, "job-1", model.Succeeded("done")); err != nil {
		t.Fatalf("Update succeeded after retention window: %v", err)
	}
	job, err := s.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.State != model.JobStateSucceeded {
		t.Errorf("expected succeeded, got %s", job.State)
	}
	if ttl := mr.TTL(jobKey("job-1")); ttl != time.Hour {
		t.Errorf("expected 1h ttl on finished job, got %v", ttl)
	}

	mr.FastForward(2 * time.Hour)

	if _, err := s.Get(ctx, "job-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected expired job to be not found, got %v", err)
	}
}

func TestRedisStore_CreateClearsRetention(t *testing.T) {
	s, mr := newRedisStore(t, time.Hour)
	ctx := context.Background()
	_ = s.Create(ctx, "job-1", "p", model.JobKindSeparation, "")
	_ = s.Update(ctx, "job-1", model.Failed("boom"))

	_ = s.Create(ctx, "job-1", "p", model.JobKindSeparation, "")
	if ttl := mr.TTL(jobKey("job-1")); ttl != 0 {
		t.Errorf("recreated job should not expire, got ttl %v", ttl)
	}
}

func TestRedisStore_ActivePrunesMissing(t *testing.T) {
	s, mr := newRedisStore(t, 0)
	ctx := context.Background()
	_ = s.Create(ctx, "job-1", "p", model.JobKindSeparation, "")
	mr.Del(jobKey("job-1"))

	jobs, _ := s.Active(ctx)
	if len(jobs) != 0 {
		t.Errorf("expected missing job to be pruned, got %+v", jobs)
	}
	if ok, _ := mr.SIsMember(activeKey, "job-1"); ok {
		t.Error("expected missing id to be removed from the active set")
	}
}

type recordingNotifier struct {
	jobs []model.Job
}

func (n *recordingNotifier) JobUpdated(job *model.Job) {
	n.jobs = append(n.jobs, *job)
}

func TestObserved_NotifiesOnUpdate(t *testing.T) {
	ctx := context.Background()
	n := &recordingNotifier{}
	s := NewObserved(NewMemoryStore(), n)

	_ = s.Create(ctx, "job-1", "p", model.JobKindSeparation, "")
	_ = s.Update(ctx, "job-1", model.Running(5, "Running"))
	_ = s.Update(ctx, "job-1", model.Succeeded("done"))
	_ = s.Update(ctx, "job-1", model.Failed("ignored"))

	if len(n.jobs) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(n.jobs))
	}
	if n.jobs[1].State != model.JobStateSucceeded || n.jobs[1].Progress != 100 {
		t.Errorf("unexpected final notification: %+v", n.jobs[1])
	}
}

func TestWatchdog_FailsStaleJobs(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	s.now = func() time.Time { return base }
	_ = s.Create(ctx, "stale", "p", model.JobKindSeparation, "")
	_ = s.Update(ctx, "stale", model.Running(30, "Separating... 30%"))
	_ = s.Create(ctx, "done", "p", model.JobKindSeparation, "")
	_ = s.Update(ctx, "done", model.Succeeded("ok"))
	_ = s.Create(ctx, "waiting", "p", model.JobKindTranscription, "")

	s.now = func() time.Time { return base.Add(50 * time.Minute) }
	_ = s.Create(ctx, "fresh", "p", model.JobKindSeparation, "")

	w := NewWatchdog(s, s, 30*time.Minute, time.Minute)
	w.now = func() time.Time { return base.Add(55 * time.Minute) }

	n, err := w.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 stale job, got %d", n)
	}

	job, _ := s.Get(ctx, "stale")
	if job.State != model.JobStateFailed || job.Progress != 0 {
		t.Errorf("expected stale job failed, got %+v", job)
	}
	if job.Message != "Job timed out: no progress for 30m0s" {
		t.Errorf("unexpected message %q", job.Message)
	}
	if job, _ := s.Get(ctx, "fresh"); job.State != model.JobStateQueued {
		t.Errorf("fresh job should be untouched, got %s", job.State)
	}
	if job, _ := s.Get(ctx, "waiting"); job.State != model.JobStateQueued {
		t.Errorf("old queued job should stay queued, got %s", job.State)
	}
	if job, _ := s.Get(ctx, "done"); job.State != model.JobStateSucceeded {
		t.Errorf("terminal job should be untouched, got %s", job.State)
	}
}

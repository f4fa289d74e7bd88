package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stemtranscriber/api/internal/jobstore"
	"github.com/stemtranscriber/api/internal/model"
	"github.com/stemtranscriber/api/internal/workspace"
)

var (
	ErrProjectNotFound = errors.New("project not found")
	ErrNoUpload        = errors.New("no uploaded audio found")
	ErrStemNotFound    = errors.New("stem not found")
)

// Enqueuer is the part of *asynq.Client the dispatcher uses.
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// ProjectLookup reports whether a project is registered.
type ProjectLookup interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// DispatchOptions tunes how tasks are queued.
type DispatchOptions struct {
	Timeout   time.Duration
	MaxRetry  int
	Retention time.Duration
}

// DispatchService creates job records and queues the work behind them.
type DispatchService struct {
	store    jobstore.Store
	projects ProjectLookup
	layout   workspace.Layout
	queue    Enqueuer
	opts     DispatchOptions
}

func NewDispatchService(store jobstore.Store, projects ProjectLookup, layout workspace.Layout, queue Enqueuer, opts DispatchOptions) *DispatchService {
	if opts.Timeout <= 0 {
		opts.Timeout = time.Hour
	}
	if opts.Retention <= 0 {
		opts.Retention = 24 * time.Hour
	}
	return &DispatchService{
		store:    store,
		projects: projects,
		layout:   layout,
		queue:    queue,
		opts:     opts,
	}
}

// EnqueueSeparation queues stem separation of the project's upload.
func (s *DispatchService) EnqueueSeparation(ctx context.Context, projectID string) (string, error) {
	if err := s.requireProject(ctx, projectID); err != nil {
		return "", err
	}
	if _, ok := s.layout.FindOriginal(projectID); !ok {
		return "", ErrNoUpload
	}

	payload := model.SeparationJobPayload{ProjectID: projectID}
	return s.dispatch(ctx, projectID, model.JobKindSeparation, "Separation queued",
		TaskTypeSeparation, QueueSeparation, payload)
}

// EnqueueTranscription queues transcription of one stem.
func (s *DispatchService) EnqueueTranscription(ctx context.Context, projectID, stemName string, instrument model.Instrument) (string, error) {
	if err := s.requireProject(ctx, projectID); err != nil {
		return "", err
	}
	if !workspace.SafeName(stemName) {
		return "", fmt.Errorf("%w: %s", ErrStemNotFound, stemName)
	}
	if info, err := os.Stat(s.layout.StemPath(projectID, stemName)); err != nil || !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s", ErrStemNotFound, stemName)
	}

	payload := model.TranscriptionJobPayload{
		ProjectID:  projectID,
		StemName:   stemName,
		Instrument: instrument,
	}
	return s.dispatch(ctx, projectID, model.JobKindTranscription, fmt.Sprintf("Transcription queued (%s)", stemName),
		TaskTypeTranscription, QueueTranscription, payload)
}

// GetJob returns the job's status. Unknown ids yield state not_found.
func (s *DispatchService) GetJob(ctx context.Context, jobID string) (*model.JobStatusResponse, error) {
	job, err := s.store.Get(ctx, jobID)
	if errors.Is(err, jobstore.ErrNotFound) {
		return &model.JobStatusResponse{
			JobID:   jobID,
			State:   model.JobStateNotFound,
			Message: "Job not found",
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}

	return &model.JobStatusResponse{
		JobID:    job.ID,
		State:    job.State,
		Progress: job.Progress,
		Message:  job.Message,
	}, nil
}

func (s *DispatchService) dispatch(ctx context.Context, projectID string, kind model.JobKind, message, taskType, queue string, payload interface{}) (string, error) {
	jobID := uuid.New().String()

	task, err := newTask(taskType, jobID, payload)
	if err != nil {
		return "", fmt.Errorf("failed to create task: %w", err)
	}

	if err := s.store.Create(ctx, jobID, projectID, kind, message); err != nil {
		return "", fmt.Errorf("failed to save job: %w", err)
	}

	_, err = s.queue.Enqueue(task,
		asynq.TaskID(jobID),
		asynq.Queue(queue),
		asynq.MaxRetry(s.opts.MaxRetry),
		asynq.Timeout(s.opts.Timeout),
		asynq.Retention(s.opts.Retention),
	)
	if err != nil {
		if uerr := s.store.Update(context.WithoutCancel(ctx), jobID, model.Failed("Failed to enqueue job")); uerr != nil {
			log.Printf("Failed to mark job %s failed: %v", jobID, uerr)
		}
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}

	log.Printf("Queued %s job %s for project %s", kind, jobID, projectID)
	return jobID, nil
}

func (s *DispatchService) requireProject(ctx context.Context, projectID string) error {
	ok, err := s.projects.Exists(ctx, projectID)
	if err != nil {
		return fmt.Errorf("failed to look up project: %w", err)
	}
	if !ok {
		return ErrProjectNotFound
	}
	return nil
}

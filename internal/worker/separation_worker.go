package worker

import (
	"context"
	"fmt"
	"log"

	"github.com/hibiken/asynq"
	"github.com/stemtranscriber/api/internal/client"
	"github.com/stemtranscriber/api/internal/jobstore"
	"github.com/stemtranscriber/api/internal/model"
	"github.com/stemtranscriber/api/internal/service"
)

// Separator runs one separation job. *separation.Orchestrator implements it.
type Separator interface {
	Run(ctx context.Context, projectID, jobID string) ([]string, error)
}

// SeparationWorker processes separation jobs
type SeparationWorker struct {
	store     jobstore.Store
	separator Separator
	mirror    *client.Mirror
}

// NewSeparationWorker creates a new separation worker
func NewSeparationWorker(store jobstore.Store, separator Separator, mirror *client.Mirror) *SeparationWorker {
	return &SeparationWorker{
		store:     store,
		separator: separator,
		mirror:    mirror,
	}
}

// ProcessTask handles separation task processing
func (w *SeparationWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.SeparationJobPayload
	jobID, err := service.DecodeTask(t, &payload)
	if err != nil {
		if jobID != "" {
			failJob(ctx, w.store, jobID, "Invalid payload")
		}
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	if finished(ctx, w.store, jobID) {
		log.Printf("Separation job %s already finished, skipping", jobID)
		return nil
	}

	log.Printf("Starting separation job: %s", jobID)

	stems, err := w.separator.Run(ctx, payload.ProjectID, jobID)
	if err != nil {
		return fmt.Errorf("separation job %s: %w", jobID, err)
	}

	if len(stems) > 0 && w.mirror.Enabled() {
		urls := w.mirror.Files(ctx, payload.ProjectID, "stems", stems)
		log.Printf("Mirrored %d/%d stem(s) for project %s", len(urls), len(stems), payload.ProjectID)
	}

	return nil
}

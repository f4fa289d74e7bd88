package worker

import (
	"context"
	"errors"
	"log"

	"github.com/stemtranscriber/api/internal/jobstore"
	"github.com/stemtranscriber/api/internal/model"
)

// finished reports whether the job already reached a terminal state, which
// happens when asynq redelivers a task whose outcome was recorded.
func finished(ctx context.Context, store jobstore.Store, jobID string) bool {
	job, err := store.Get(ctx, jobID)
	if err != nil {
		if !errors.Is(err, jobstore.ErrNotFound) {
			log.Printf("Failed to load job %s: %v", jobID, err)
		}
		return false
	}
	return job.State.Terminal()
}

func failJob(ctx context.Context, store jobstore.Store, jobID, errMsg string) {
	if err := store.Update(context.WithoutCancel(ctx), jobID, model.Failed(errMsg)); err != nil {
		log.Printf("Failed to mark job %s failed: %v", jobID, err)
	}
}

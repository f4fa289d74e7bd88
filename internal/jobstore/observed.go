package jobstore

import (
	"context"
	"log"

	"github.com/stemtranscriber/api/internal/model"
)

// Notifier receives a fresh snapshot after every successful update.
type Notifier interface {
	JobUpdated(job *model.Job)
}

// Observed wraps a Store and pushes updates to a Notifier.
type Observed struct {
	Store
	notifier Notifier
}

func NewObserved(store Store, notifier Notifier) *Observed {
	return &Observed{Store: store, notifier: notifier}
}

func (o *Observed) Update(ctx context.Context, jobID string, u model.JobUpdate) error {
	if err := o.Store.Update(ctx, jobID, u); err != nil {
		return err
	}

	job, err := o.Store.Get(ctx, jobID)
	if err != nil {
		log.Printf("Failed to read job %s for notification: %v", jobID, err)
		return nil
	}
	o.notifier.JobUpdated(job)
	return nil
}

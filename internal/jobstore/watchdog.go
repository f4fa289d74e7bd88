package jobstore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/stemtranscriber/api/internal/model"
)

// Watchdog fails running jobs that have not been touched for a while. Queued
// jobs are left alone since they may simply be waiting behind other work.
type Watchdog struct {
	lister     ActiveLister
	store      Store
	staleAfter time.Duration
	interval   time.Duration
	now        func() time.Time
}

func NewWatchdog(lister ActiveLister, store Store, staleAfter, interval time.Duration) *Watchdog {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Watchdog{
		lister:     lister,
		store:      store,
		staleAfter: staleAfter,
		interval:   interval,
		now:        time.Now,
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := w.Sweep(ctx); err != nil {
				log.Printf("Watchdog sweep failed: %v", err)
			} else if n > 0 {
				log.Printf("Watchdog failed %d stale job(s)", n)
			}
		}
	}
}

// Sweep marks stale jobs failed and returns how many were marked.
func (w *Watchdog) Sweep(ctx context.Context) (int, error) {
	jobs, err := w.lister.Active(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := w.now().Add(-w.staleAfter)
	msg := fmt.Sprintf("Job timed out: no progress for %s", w.staleAfter)

	marked := 0
	for _, job := range jobs {
		if job.State != model.JobStateRunning || job.UpdatedAt.After(cutoff) {
			continue
		}
		err := w.store.Update(ctx, job.ID, model.Failed(msg))
		if errors.Is(err, ErrTerminal) || errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return marked, err
		}
		marked++
	}
	return marked, nil
}

package progress

import (
	"context"
	"fmt"
	"log"

	"github.com/stemtranscriber/api/internal/model"
)

// Updater is the subset of the job store a Translator writes to.
type Updater interface {
	Update(ctx context.Context, jobID string, u model.JobUpdate) error
}

// Translator rescales tool progress into the [lo,hi] slice of a job and writes
// it to the store, skipping values equal to the last one written.
type Translator struct {
	store Updater
	jobID string
	lo    int
	hi    int
	label string
	last  int
}

func NewTranslator(store Updater, jobID string, lo, hi int, label string) *Translator {
	return &Translator{
		store: store,
		jobID: jobID,
		lo:    lo,
		hi:    hi,
		label: label,
		last:  -1,
	}
}

// Feed handles one output line. It returns the scaled value and whether an
// update was emitted.
func (t *Translator) Feed(ctx context.Context, line string) (int, bool) {
	pct, ok := ParsePercent(line)
	if !ok {
		return 0, false
	}

	scaled := Scale(pct, t.lo, t.hi)
	if scaled == t.last {
		return scaled, false
	}
	t.last = scaled

	msg := fmt.Sprintf("%s... %d%%", t.label, pct)
	if err := t.store.Update(ctx, t.jobID, model.Running(scaled, msg)); err != nil {
		log.Printf("Failed to update progress for job %s: %v", t.jobID, err)
	}
	return scaled, true
}

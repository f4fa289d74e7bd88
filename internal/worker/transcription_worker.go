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
	"github.com/stemtranscriber/api/internal/transcribe"
)

// TranscriptionRunner runs one transcription job. *transcribe.Transcriber
// implements it.
type TranscriptionRunner interface {
	Run(ctx context.Context, req transcribe.Request) (*transcribe.Result, error)
}

// TranscriptionWorker processes transcription jobs
type TranscriptionWorker struct {
	store       jobstore.Store
	transcriber TranscriptionRunner
	mirror      *client.Mirror
}

// NewTranscriptionWorker creates a new transcription worker
func NewTranscriptionWorker(store jobstore.Store, transcriber TranscriptionRunner, mirror *client.Mirror) *TranscriptionWorker {
	return &TranscriptionWorker{
		store:       store,
		transcriber: transcriber,
		mirror:      mirror,
	}
}

// ProcessTask handles transcription task processing
func (w *TranscriptionWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.TranscriptionJobPayload
	jobID, err := service.DecodeTask(t, &payload)
	if err != nil {
		if jobID != "" {
			failJob(ctx, w.store, jobID, "Invalid payload")
		}
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	if finished(ctx, w.store, jobID) {
		log.Printf("Transcription job %s already finished, skipping", jobID)
		return nil
	}

	log.Printf("Starting transcription job: %s (%s, %s)", jobID, payload.StemName, payload.Instrument)

	res, err := w.transcriber.Run(ctx, transcribe.Request{
		ProjectID:  payload.ProjectID,
		JobID:      jobID,
		StemName:   payload.StemName,
		Instrument: payload.Instrument,
	})
	if err != nil {
		// already recorded on the job; retrying a failed job cannot change it
		return fmt.Errorf("transcription job %s: %v: %w", jobID, err, asynq.SkipRetry)
	}
	if res == nil {
		return nil
	}

	log.Printf("Transcription job %s completed: %d note(s)", jobID, len(res.Notes))
	if w.mirror.Enabled() {
		w.mirror.Files(ctx, payload.ProjectID, "transcriptions", []string{res.MIDIPath, res.MusicXMLPath})
	}
	return nil
}

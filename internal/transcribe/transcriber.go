// Package transcribe turns a monophonic stem into MIDI and MusicXML.
package transcribe

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/stemtranscriber/api/internal/jobstore"
	"github.com/stemtranscriber/api/internal/model"
	"github.com/stemtranscriber/api/internal/progress"
	"github.com/stemtranscriber/api/internal/workspace"
)

// Config holds the analysis parameters.
type Config struct {
	SampleRate          int
	FrameLength         int
	HopLength           int
	TrimTopDB           float64
	MinNoteSeconds      float64
	Velocity            int
	ConfidenceThreshold float64
}

// DefaultConfig matches the analysis settings the service ships with.
func DefaultConfig() Config {
	return Config{
		SampleRate:     22050,
		FrameLength:    2048,
		HopLength:      256,
		TrimTopDB:      35,
		MinNoteSeconds: 0.06,
		Velocity:       90,
	}
}

// Pitch detection reports into this slice of the job's progress.
const (
	pitchProgressLo = 15
	pitchProgressHi = 35
)

// trimFrameLength and trimHop are the RMS framing used for silence trimming.
const (
	trimFrameLength = 2048
	trimHop         = 512
)

// Request identifies one transcription job.
type Request struct {
	ProjectID  string
	JobID      string
	StemName   string
	Instrument model.Instrument
}

// Result lists the files written by a successful run.
type Result struct {
	MIDIPath     string
	MusicXMLPath string
	Notes        []model.Note
}

// Transcriber runs the pitch-to-note pipeline for a stem.
type Transcriber struct {
	store     jobstore.Store
	layout    workspace.Layout
	estimator PitchEstimator
	cfg       Config
}

// NewTranscriber creates a Transcriber. A nil estimator selects YIN.
func NewTranscriber(store jobstore.Store, layout workspace.Layout, estimator PitchEstimator, cfg Config) *Transcriber {
	def := DefaultConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.FrameLength <= 0 {
		cfg.FrameLength = def.FrameLength
	}
	if cfg.HopLength <= 0 {
		cfg.HopLength = def.HopLength
	}
	if cfg.Velocity <= 0 || cfg.Velocity > 127 {
		cfg.Velocity = def.Velocity
	}
	if estimator == nil {
		estimator = NewYIN(cfg.FrameLength, cfg.HopLength)
	}
	return &Transcriber{
		store:     store,
		layout:    layout,
		estimator: estimator,
		cfg:       cfg,
	}
}

// Run transcribes req.StemName. Expected failures (missing stem, no notes)
// are recorded on the job and return (nil, nil). Any other error is recorded
// and then returned.
func (t *Transcriber) Run(ctx context.Context, req Request) (*Result, error) {
	t.progress(ctx, req.JobID, 1, "Preparing transcription...")

	stemPath := t.layout.StemPath(req.ProjectID, req.StemName)
	if !workspace.SafeName(req.StemName) || !fileExists(stemPath) {
		t.fail(ctx, req.JobID, fmt.Sprintf("Stem not found: %s", req.StemName))
		return nil, nil
	}

	res, err := t.run(ctx, req, stemPath)
	if err != nil {
		t.fail(ctx, req.JobID, fmt.Sprintf("Transcription exception: %v", err))
		return nil, err
	}
	return res, nil
}

func (t *Transcriber) run(ctx context.Context, req Request, stemPath string) (*Result, error) {
	outDir := t.layout.TranscriptionsDir(req.ProjectID)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create transcriptions dir: %w", err)
	}

	t.progress(ctx, req.JobID, 5, "Loading audio...")

	samples, rate, err := LoadWAV(stemPath)
	if err != nil {
		return nil, err
	}
	samples = Resample(samples, rate, t.cfg.SampleRate)
	samples, offset := Trim(samples, t.cfg.TrimTopDB, trimFrameLength, trimHop)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.progress(ctx, req.JobID, pitchProgressLo, "Detecting pitch...")

	frames := t.estimate(ctx, req, samples)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.progress(ctx, req.JobID, pitchProgressHi, "Building notes...")

	midiFrames := FramesToMIDI(frames, t.cfg.ConfidenceThreshold)
	Smooth(midiFrames)
	hop := float64(t.cfg.HopLength) / float64(t.cfg.SampleRate)
	notes := Segment(midiFrames, hop, t.cfg.MinNoteSeconds)

	if len(notes) == 0 {
		t.fail(ctx, req.JobID, "No notes detected (try bass stem, or cleaner audio).")
		return nil, nil
	}
	Shift(notes, float64(offset)/float64(t.cfg.SampleRate))

	t.progress(ctx, req.JobID, 55, "Writing MIDI...")

	midiPath, xmlPath := t.layout.TranscriptionPaths(req.ProjectID, req.StemName)
	if err := WriteMIDI(midiPath, notes, req.Instrument, uint8(t.cfg.Velocity)); err != nil {
		return nil, err
	}

	t.progress(ctx, req.JobID, 75, "Converting to MusicXML...")

	if err := WriteMusicXML(midiPath, xmlPath, req.Instrument); err != nil {
		return nil, err
	}

	if err := t.store.Update(context.WithoutCancel(ctx), req.JobID, model.Succeeded("Transcription ready (MIDI + MusicXML).")); err != nil {
		return nil, fmt.Errorf("failed to mark job succeeded: %w", err)
	}
	log.Printf("Transcription job %s completed: %d note(s)", req.JobID, len(notes))

	return &Result{MIDIPath: midiPath, MusicXMLPath: xmlPath, Notes: notes}, nil
}

// estimate runs the pitch estimator, writing frame progress between
// pitchProgressLo and pitchProgressHi when the estimator can report it.
func (t *Transcriber) estimate(ctx context.Context, req Request, samples []float64) []Frame {
	r := RangeFor(req.Instrument)
	re, ok := t.estimator.(ReportingEstimator)
	if !ok {
		return t.estimator.Estimate(samples, t.cfg.SampleRate, r)
	}

	last := pitchProgressLo
	return re.EstimateWithProgress(samples, t.cfg.SampleRate, r, func(done, total int) {
		if total <= 0 {
			return
		}
		pct := done * 100 / total
		scaled := progress.Scale(pct, pitchProgressLo, pitchProgressHi)
		if scaled <= last || scaled >= pitchProgressHi {
			return
		}
		last = scaled
		t.progress(ctx, req.JobID, scaled, fmt.Sprintf("Detecting pitch... %d%%", pct))
	})
}

func (t *Transcriber) progress(ctx context.Context, jobID string, pct int, msg string) {
	if err := t.store.Update(ctx, jobID, model.Running(pct, msg)); err != nil {
		log.Printf("Failed to update progress: %v", err)
	}
}

func (t *Transcriber) fail(ctx context.Context, jobID, msg string) {
	log.Printf("Transcription job %s failed: %s", jobID, msg)
	if err := t.store.Update(context.WithoutCancel(ctx), jobID, model.Failed(msg)); err != nil {
		log.Printf("Failed to mark job as failed: %v", err)
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

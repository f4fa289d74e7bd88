package transcribe

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stemtranscriber/api/internal/jobstore"
	"github.com/stemtranscriber/api/internal/model"
	"github.com/stemtranscriber/api/internal/workspace"
)

func newTestTranscriber(t *testing.T, estimator PitchEstimator) (*Transcriber, *jobstore.MemoryStore, workspace.Layout) {
	t.Helper()
	layout := workspace.New(t.TempDir())
	if err := layout.EnsureProject("p1"); err != nil {
		t.Fatal(err)
	}
	store := jobstore.NewMemoryStore()
	_ = store.Create(context.Background(), "j1", "p1", model.JobKindTranscription, "Transcription queued (bass.wav)")
	return NewTranscriber(store, layout, estimator, DefaultConfig()), store, layout
}

func TestRun_StemNotFound(t *testing.T) {
	tr, store, _ := newTestTranscriber(t, nil)

	res, err := tr.Run(context.Background(), Request{ProjectID: "p1", JobID: "j1", StemName: "bass.wav", Instrument: model.InstrumentBass})
	if err != nil || res != nil {
		t.Fatalf("expected absorbed failure, got %v %v", res, err)
	}

	job, _ := store.Get(context.Background(), "j1")
	if job.State != model.JobStateFailed || job.Progress != 0 {
		t.Errorf("expected failed/0, got %s/%d", job.State, job.Progress)
	}
	if !strings.Contains(job.Message, "Stem not found") {
		t.Errorf("unexpected message %q", job.Message)
	}
}

func TestRun_RejectsPathInStemName(t *testing.T) {
	tr, store, _ := newTestTranscriber(t, nil)

	_, _ = tr.Run(context.Background(), Request{ProjectID: "p1", JobID: "j1", StemName: "../uploads/original.wav", Instrument: model.InstrumentBass})

	job, _ := store.Get(context.Background(), "j1")
	if !strings.HasPrefix(job.Message, "Stem not found") {
		t.Errorf("unexpected message %q", job.Message)
	}
}

func TestRun_SineToMIDIAndMusicXML(t *testing.T) {
	tr, store, layout := newTestTranscriber(t, nil)
	writeSine(t, layout.StemPath("p1", "bass.wav"), 44100, 1,
		sineSegment{hz: 0, seconds: 0.5},
		sineSegment{hz: 110, seconds: 1.0},
		sineSegment{hz: 0, seconds: 0.5},
	)

	res, err := tr.Run(context.Background(), Request{ProjectID: "p1", JobID: "j1", StemName: "bass.wav", Instrument: model.InstrumentBass})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res == nil {
		job, _ := store.Get(context.Background(), "j1")
		t.Fatalf("expected a result, job is %+v", job)
	}

	job, _ := store.Get(context.Background(), "j1")
	if job.State != model.JobStateSucceeded || job.Message != "Transcription ready (MIDI + MusicXML)." {
		t.Errorf("unexpected job %+v", job)
	}

	var a2 float64
	for _, n := range res.Notes {
		if n.Pitch == 45 {
			a2 += n.Duration()
			if n.Start < 0.3 {
				t.Errorf("note should be shifted past the leading silence, starts at %v", n.Start)
			}
		}
	}
	if a2 < 0.8 {
		t.Errorf("expected about a second of A2, got %v s in %+v", a2, res.Notes)
	}

	mid, xml := layout.TranscriptionPaths("p1", "bass.wav")
	if res.MIDIPath != mid || res.MusicXMLPath != xml {
		t.Errorf("unexpected output paths %+v", res)
	}
	for _, p := range []string{mid, xml} {
		if info, err := os.Stat(p); err != nil || info.Size() == 0 {
			t.Errorf("expected %s to be written: %v", p, err)
		}
	}
}

func TestRun_NoNotes(t *testing.T) {
	tr, store, layout := newTestTranscriber(t, nil)
	writeSine(t, layout.StemPath("p1", "bass.wav"), 22050, 1, sineSegment{hz: 0, seconds: 0.5})

	res, err := tr.Run(context.Background(), Request{ProjectID: "p1", JobID: "j1", StemName: "bass.wav", Instrument: model.InstrumentBass})
	if err != nil || res != nil {
		t.Fatalf("expected absorbed failure, got %v %v", res, err)
	}

	job, _ := store.Get(context.Background(), "j1")
	if job.Message != "No notes detected (try bass stem, or cleaner audio)." {
		t.Errorf("unexpected message %q", job.Message)
	}
}

type panicEstimator struct{}

func (panicEstimator) Estimate([]float64, int, Range) []Frame {
	panic("estimator must not run")
}

func TestRun_UnreadableAudioIsReportedAndReturned(t *testing.T) {
	tr, store, layout := newTestTranscriber(t, panicEstimator{})
	_ = os.WriteFile(layout.StemPath("p1", "bass.wav"), []byte("garbage"), 0o644)

	_, err := tr.Run(context.Background(), Request{ProjectID: "p1", JobID: "j1", StemName: "bass.wav", Instrument: model.InstrumentBass})
	if err == nil {
		t.Fatal("expected the error to be returned")
	}

	job, _ := store.Get(context.Background(), "j1")
	if job.State != model.JobStateFailed || !strings.HasPrefix(job.Message, "Transcription exception:") {
		t.Errorf("unexpected job %+v", job)
	}
}

type fixedEstimator struct {
	frames []Frame
}

func (f fixedEstimator) Estimate([]float64, int, Range) []Frame {
	return f.frames
}

func TestRun_CancelledContext(t *testing.T) {
	tr, store, layout := newTestTranscriber(t, fixedEstimator{})
	writeSine(t, layout.StemPath("p1", "bass.wav"), 22050, 1, sineSegment{hz: 110, seconds: 0.3})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tr.Run(ctx, Request{ProjectID: "p1", JobID: "j1", StemName: "bass.wav", Instrument: model.InstrumentBass})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	job, _ := store.Get(context.Background(), "j1")
	if job.State != model.JobStateFailed {
		t.Errorf("cancelled job should be failed, got %s", job.State)
	}
}

type steppedEstimator struct {
	store *jobstore.MemoryStore
	seen  []model.Job
}

func (s *steppedEstimator) Estimate(samples []float64, rate int, r Range) []Frame {
	return s.EstimateWithProgress(samples, rate, r, nil)
}

func (s *steppedEstimator) EstimateWithProgress(_ []float64, _ int, _ Range, report ProgressFunc) []Frame {
	for _, done := range []int{0, 1, 2, 3, 4} {
		report(done, 4)
		job, _ := s.store.Get(context.Background(), "j1")
		s.seen = append(s.seen, *job)
	}
	return nil
}

func TestRun_ReportsPitchProgress(t *testing.T) {
	est := &steppedEstimator{}
	tr, store, layout := newTestTranscriber(t, est)
	est.store = store
	writeSine(t, layout.StemPath("p1", "bass.wav"), 22050, 1, sineSegment{hz: 110, seconds: 0.3})

	_, _ = tr.Run(context.Background(), Request{ProjectID: "p1", JobID: "j1", StemName: "bass.wav", Instrument: model.InstrumentBass})

	var got []int
	for _, job := range est.seen {
		got = append(got, job.Progress)
	}
	want := []int{15, 20, 25, 30, 30}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if est.seen[1].Message != "Detecting pitch... 25%" {
		t.Errorf("unexpected message %q", est.seen[1].Message)
	}
}

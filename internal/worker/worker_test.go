package worker

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stemtranscriber/api/internal/client"
	"github.com/stemtranscriber/api/internal/jobstore"
	"github.com/stemtranscriber/api/internal/model"
	"github.com/stemtranscriber/api/internal/service"
	"github.com/stemtranscriber/api/internal/transcribe"
)

type fakeSeparator struct {
	calls int
	stems []string
	err   error
}

func (f *fakeSeparator) Run(ctx context.Context, projectID, jobID string) ([]string, error) {
	f.calls++
	return f.stems, f.err
}

type fakeTranscriber struct {
	calls int
	res   *transcribe.Result
	err   error
	last  transcribe.Request
}

func (f *fakeTranscriber) Run(ctx context.Context, req transcribe.Request) (*transcribe.Result, error) {
	f.calls++
	f.last = req
	return f.res, f.err
}

type uploads struct {
	keys []string
}

func (u *uploads) Upload(_ context.Context, key string, body io.Reader, _ string) (string, error) {
	io.Copy(io.Discard, body)
	u.keys = append(u.keys, key)
	return "https://cdn.test/" + key, nil
}

func (u *uploads) GetPublicURL(key string) string { return "https://cdn.test/" + key }

func task(t *testing.T, typ, jobID string, payload string) *asynq.Task {
	t.Helper()
	return asynq.NewTask(typ, []byte(`{"jobId":"`+jobID+`","payload":`+payload+`}`))
}

func TestSeparationWorker_RunsAndMirrors(t *testing.T) {
	ctx := context.Background()
	store := jobstore.NewMemoryStore()
	store.Create(ctx, "j1", "p1", model.JobKindSeparation, "Separation queued")

	dir := t.TempDir()
	stem := filepath.Join(dir, "bass.wav")
	os.WriteFile(stem, []byte("x"), 0o644)

	sep := &fakeSeparator{stems: []string{stem}}
	up := &uploads{}
	w := NewSeparationWorker(store, sep, client.NewMirror(up))

	if err := w.ProcessTask(ctx, task(t, service.TaskTypeSeparation, "j1", `{"projectId":"p1"}`)); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}
	if sep.calls != 1 {
		t.Errorf("expected one run, got %d", sep.calls)
	}
	if len(up.keys) != 1 || up.keys[0] != "projects/p1/stems/bass.wav" {
		t.Errorf("unexpected mirrored keys %v", up.keys)
	}
}

func TestSeparationWorker_SkipsFinishedJob(t *testing.T) {
	ctx := context.Background()
	store := jobstore.NewMemoryStore()
	store.Create(ctx, "j1", "p1", model.JobKindSeparation, "Separation queued")
	store.Update(ctx, "j1", model.Succeeded("Stems ready (htdemucs)."))

	sep := &fakeSeparator{}
	w := NewSeparationWorker(store, sep, nil)

	if err := w.ProcessTask(ctx, task(t, service.TaskTypeSeparation, "j1", `{"projectId":"p1"}`)); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}
	if sep.calls != 0 {
		t.Errorf("finished job must not run again")
	}
}

func TestSeparationWorker_InvalidPayload(t *testing.T) {
	ctx := context.Background()
	store := jobstore.NewMemoryStore()
	store.Create(ctx, "j1", "p1", model.JobKindSeparation, "Separation queued")

	w := NewSeparationWorker(store, &fakeSeparator{}, nil)
	err := w.ProcessTask(ctx, task(t, service.TaskTypeSeparation, "j1", `"not an object"`))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Errorf("expected SkipRetry, got %v", err)
	}

	job, _ := store.Get(ctx, "j1")
	if job.State != model.JobStateFailed || job.Message != "Invalid payload" {
		t.Errorf("unexpected job %+v", job)
	}
}

func TestTranscriptionWorker_PropagatesWithoutRetry(t *testing.T) {
	ctx := context.Background()
	store := jobstore.NewMemoryStore()
	store.Create(ctx, "j2", "p1", model.JobKindTranscription, "Transcription queued (bass.wav)")

	tr := &fakeTranscriber{err: errors.New("decoder exploded")}
	w := NewTranscriptionWorker(store, tr, nil)

	err := w.ProcessTask(ctx, task(t, service.TaskTypeTranscription, "j2", `{"projectId":"p1","stemName":"bass.wav","instrument":"bass"}`))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Errorf("expected SkipRetry, got %v", err)
	}
	if tr.last.StemName != "bass.wav" || tr.last.Instrument != model.InstrumentBass || tr.last.JobID != "j2" {
		t.Errorf("unexpected request %+v", tr.last)
	}
}

func TestTranscriptionWorker_MirrorsOutputs(t *testing.T) {
	ctx := context.Background()
	store := jobstore.NewMemoryStore()
	store.Create(ctx, "j3", "p1", model.JobKindTranscription, "Transcription queued (bass.wav)")

	dir := t.TempDir()
	mid := filepath.Join(dir, "bass.mid")
	xml := filepath.Join(dir, "bass.musicxml")
	os.WriteFile(mid, []byte("MThd"), 0o644)
	os.WriteFile(xml, []byte("<score-partwise/>"), 0o644)

	tr := &fakeTranscriber{res: &transcribe.Result{MIDIPath: mid, MusicXMLPath: xml}}
	up := &uploads{}
	w := NewTranscriptionWorker(store, tr, client.NewMirror(up))

	if err := w.ProcessTask(ctx, task(t, service.TaskTypeTranscription, "j3", `{"projectId":"p1","stemName":"bass.wav","instrument":"bass"}`)); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}
	want := []string{"projects/p1/transcriptions/bass.mid", "projects/p1/transcriptions/bass.musicxml"}
	if len(up.keys) != 2 || up.keys[0] != want[0] || up.keys[1] != want[1] {
		t.Errorf("unexpected mirrored keys %v", up.keys)
	}
}

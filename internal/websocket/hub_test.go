package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stemtranscriber/api/internal/model"
)

func newTestClient(h *Hub, jobID string) *Client {
	c := &Client{JobID: jobID, Send: make(chan []byte, 8)}
	h.Register(c)
	return c
}

func receive(t *testing.T, c *Client) map[string]interface{} {
	t.Helper()
	select {
	case data := <-c.Send:
		var out map[string]interface{}
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatalf("bad payload %s: %v", data, err)
		}
		return out
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return nil
}

func TestHub_JobUpdatedMapsStates(t *testing.T) {
	h := NewHub()
	go h.Run()

	c := newTestClient(h, "job-1")
	other := newTestClient(h, "job-2")

	h.JobUpdated(&model.Job{ID: "job-1", Kind: model.JobKindSeparation, State: model.JobStateRunning, Progress: 40, Message: "Separating... 50%"})
	msg := receive(t, c)
	if msg["type"] != model.WSMessageTypeProgress || msg["progress"].(float64) != 40 {
		t.Errorf("unexpected progress message %v", msg)
	}

	h.JobUpdated(&model.Job{ID: "job-1", Kind: model.JobKindSeparation, State: model.JobStateFailed, Message: "No uploaded audio"})
	msg = receive(t, c)
	if msg["type"] != model.WSMessageTypeError {
		t.Fatalf("expected error message, got %v", msg)
	}
	detail := msg["error"].(map[string]interface{})
	if detail["code"] != "SEPARATION_FAILED" || detail["message"] != "No uploaded audio" {
		t.Errorf("unexpected error detail %v", detail)
	}

	h.JobUpdated(&model.Job{ID: "job-1", Kind: model.JobKindTranscription, State: model.JobStateSucceeded, Progress: 100})
	msg = receive(t, c)
	if msg["type"] != model.WSMessageTypeComplete {
		t.Errorf("expected complete message, got %v", msg)
	}

	select {
	case data := <-other.Send:
		t.Errorf("client of another job received %s", data)
	default:
	}
}

func TestHub_InitialSnapshotGoesToNewClientOnly(t *testing.T) {
	h := NewHub()
	go h.Run()

	watcher := newTestClient(h, "job-1")
	newcomer := &Client{JobID: "job-1", Send: make(chan []byte, 8)}
	h.attach(newcomer, &model.Job{ID: "job-1", Kind: model.JobKindSeparation, State: model.JobStateRunning, Progress: 20})

	msg := receive(t, newcomer)
	if msg["type"] != model.WSMessageTypeProgress || msg["progress"].(float64) != 20 {
		t.Errorf("unexpected snapshot %v", msg)
	}

	h.JobUpdated(&model.Job{ID: "job-1", Kind: model.JobKindSeparation, State: model.JobStateRunning, Progress: 30})
	if msg := receive(t, watcher); msg["progress"].(float64) != 30 {
		t.Errorf("existing client should only see the live event, got %v", msg)
	}
	if msg := receive(t, newcomer); msg["progress"].(float64) != 30 {
		t.Errorf("expected live event after snapshot, got %v", msg)
	}
	select {
	case data := <-watcher.Send:
		t.Errorf("existing client received an extra message %s", data)
	default:
	}
}

func TestHub_UnregisterClosesSend(t *testing.T) {
	h := NewHub()
	go h.Run()

	c := newTestClient(h, "job-1")
	h.Unregister(c)

	select {
	case _, ok := <-c.Send:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("send channel was not closed")
	}
	if n := h.Subscribers("job-1"); n != 0 {
		t.Errorf("expected no subscribers, got %d", n)
	}

	// a second unregister must not panic on the closed channel
	h.Unregister(c)
}

type recordingListener struct {
	mu   sync.Mutex
	jobs []*model.Job
}

func (r *recordingListener) JobUpdated(job *model.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
}

func (r *recordingListener) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

func TestRelay_DeliversPublishedJobs(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	listener := &recordingListener{}
	relay := NewRelay(client, listener)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	pub := NewPublisher(client)
	job := &model.Job{ID: "job-9", ProjectID: "p1", State: model.JobStateRunning, Progress: 55, Message: "Writing MIDI..."}

	// the subscription is asynchronous, so publish until it lands
	deadline := time.Now().Add(2 * time.Second)
	for listener.count() == 0 && time.Now().Before(deadline) {
		pub.JobUpdated(job)
		time.Sleep(20 * time.Millisecond)
	}
	if listener.count() == 0 {
		t.Fatal("relay never delivered a job")
	}

	listener.mu.Lock()
	got := listener.jobs[0]
	listener.mu.Unlock()
	if got.ID != "job-9" || got.Progress != 55 || got.State != model.JobStateRunning {
		t.Errorf("unexpected relayed job %+v", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}

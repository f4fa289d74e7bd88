package service

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	TaskTypeSeparation    = "separation:process"
	TaskTypeTranscription = "transcription:process"

	QueueSeparation    = "separation"
	QueueTranscription = "transcription"
)

// TaskPayload is the envelope every queued task carries.
type TaskPayload struct {
	JobID   string          `json:"jobId"`
	Payload json.RawMessage `json:"payload"`
}

func newTask(taskType, jobID string, payload interface{}) (*asynq.Task, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	data, err := json.Marshal(TaskPayload{JobID: jobID, Payload: payloadBytes})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task: %w", err)
	}
	return asynq.NewTask(taskType, data), nil
}

// DecodeTask unpacks the envelope and its payload into v.
func DecodeTask(t *asynq.Task, v interface{}) (string, error) {
	var env TaskPayload
	if err := json.Unmarshal(t.Payload(), &env); err != nil {
		return "", fmt.Errorf("failed to unmarshal task payload: %w", err)
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return env.JobID, fmt.Errorf("failed to unmarshal %s payload: %w", t.Type(), err)
	}
	return env.JobID, nil
}

package model

import "time"

// Job represents a background job in the system
type Job struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	Kind      JobKind   `json:"kind,omitempty"`
	State     JobState  `json:"state"`
	Progress  int       `json:"progress"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// JobUpdate is a partial update. Nil fields are left untouched.
type JobUpdate struct {
	State    *JobState
	Progress *int
	Message  *string
}

// Running builds the update a worker sends while a job makes progress.
func Running(progress int, message string) JobUpdate {
	state := JobStateRunning
	return JobUpdate{State: &state, Progress: &progress, Message: &message}
}

// Succeeded builds the terminal success update.
func Succeeded(message string) JobUpdate {
	state := JobStateSucceeded
	progress := 100
	return JobUpdate{State: &state, Progress: &progress, Message: &message}
}

// Failed builds the terminal failure update.
func Failed(message string) JobUpdate {
	state := JobStateFailed
	progress := 0
	return JobUpdate{State: &state, Progress: &progress, Message: &message}
}

// SeparationJobPayload contains the data for a separation job
type SeparationJobPayload struct {
	ProjectID string `json:"projectId"`
}

// TranscriptionJobPayload contains the data for a transcription job
type TranscriptionJobPayload struct {
	ProjectID  string     `json:"projectId"`
	StemName   string     `json:"stemName"`
	Instrument Instrument `json:"instrument"`
}

// CreateJobResponse is returned when a job has been queued
type CreateJobResponse struct {
	JobID string   `json:"jobId"`
	State JobState `json:"state"`
}

// JobStatusResponse represents the status of a job
type JobStatusResponse struct {
	JobID    string   `json:"jobId"`
	State    JobState `json:"state"`
	Progress int      `json:"progress"`
	Message  string   `json:"message,omitempty"`
}

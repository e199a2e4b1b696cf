package models

import "time"

// JobStatus represents the current state of an asynchronous repair job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "in_progress"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// RepairJob tracks one requested strategy run for a host
type RepairJob struct {
	ID           string     `json:"id"`
	Host         string     `json:"host"`
	Strategy     string     `json:"strategy,omitempty"`
	Status       JobStatus  `json:"status"`
	DiagnosisID  string     `json:"diagnosis_id,omitempty"`
	HostState    HostState  `json:"host_state,omitempty"`
	Healthy      bool       `json:"healthy"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Duration returns the job execution duration
func (j *RepairJob) Duration() time.Duration {
	if j.StartedAt == nil {
		return 0
	}

	end := time.Now()
	if j.CompletedAt != nil {
		end = *j.CompletedAt
	}

	return end.Sub(*j.StartedAt)
}

// IsActive returns true if the job has not finished
func (j *RepairJob) IsActive() bool {
	return j.Status == JobStatusPending || j.Status == JobStatusRunning
}

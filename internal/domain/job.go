package domain

import (
	"encoding/json"
	"time"
)

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// JobTypeDeliverLeads is the only job type the pipeline runs.
const JobTypeDeliverLeads = "deliver_leads"

// JobPayload is what the producer enqueues and the worker decodes. Batch
// fields are zero for single-job users.
type JobPayload struct {
	RunID        string    `json:"runId"`
	IngestedAt   time.Time `json:"ingestedAt"`
	UserID       string    `json:"userId"`
	BatchIndex   int       `json:"batchIndex,omitempty"`
	BatchSize    int       `json:"batchSize,omitempty"`
	TotalBatches int       `json:"totalBatches,omitempty"`
}

func (p JobPayload) Marshal() ([]byte, error) { return json.Marshal(p) }

// Progress is upserted onto the job row as properties are processed and
// polled by the dashboard.
type Progress struct {
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	Status    string `json:"status"`
}

type Job struct {
	ID          string
	Type        string
	Payload     []byte
	Status      JobStatus
	Attempts    int
	MaxAttempts int
	LastError   *string
	RunAt       time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
	Progress    *Progress
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (j *Job) DecodePayload() (JobPayload, error) {
	var p JobPayload
	err := json.Unmarshal(j.Payload, &p)
	return p, err
}

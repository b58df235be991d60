package models

import "time"

// JobStatus is the lifecycle state of a queued job.
type JobStatus string

const (
	JobPending     JobStatus = "PENDING"
	JobProcessing  JobStatus = "PROCESSING"
	JobBlocked     JobStatus = "BLOCKED"
	JobCompleted   JobStatus = "COMPLETED"
	JobFailed      JobStatus = "FAILED"
	JobQuarantined JobStatus = "QUARANTINED"
)

// Job is one unit of pipeline work. Rows are append-only: status
// changes update the row, but jobs are never deleted so the table
// doubles as an audit log.
type Job struct {
	ID          int64      `json:"id"`
	JobType     string     `json:"job_type"`
	SessionID   string     `json:"session_id"`
	Status      JobStatus  `json:"status"`
	DependsOn   string     `json:"depends_on,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	LastError   *string    `json:"last_error,omitempty"`
}

// BlockedJob pairs a blocked job with the dependency holding it up,
// for the health endpoint.
type BlockedJob struct {
	Job       Job    `json:"job"`
	BlockedBy string `json:"blocked_by"`
}

// QueueHealth summarizes the queue for dashboard polling.
type QueueHealth struct {
	RecentFailed int          `json:"recent_failed"`
	Quarantined  int          `json:"quarantined"`
	Blocked      []BlockedJob `json:"blocked"`
}

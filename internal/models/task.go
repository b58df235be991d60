package models

import "time"

const (
	TaskOpen = "open"
	TaskDone = "done"
)

// Task is an operator follow-up item produced from validation
// discrepancies. Deduplicated by (TaskType, EntityID) while open.
type Task struct {
	ID          int64     `json:"id"`
	TaskType    string    `json:"task_type"`
	EntityID    string    `json:"entity_id"`
	Name        string    `json:"name,omitempty"`
	Title       string    `json:"title"`
	Notes       string    `json:"notes,omitempty"`
	Status      string    `json:"status"`
	Occurrences int       `json:"occurrences"`
	SessionID   string    `json:"session_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Severity levels for failure escalation.
const (
	SeverityWarning  = "Warning"
	SeverityCritical = "Critical"
)

package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventStageChanged        = "stage_changed"
	EventJobCompleted        = "job_completed"
	EventJobFailed           = "job_failed"
	EventQuarantineTriggered = "quarantine_triggered"
	EventTaskCreated         = "task_created"
)

// StageEventPayload describes a stage transition for event consumers.
type StageEventPayload struct {
	SessionID string    `json:"session_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	At        time.Time `json:"at"`
}

// JobEventPayload describes a job outcome.
type JobEventPayload struct {
	JobID     int64  `json:"job_id"`
	JobType   string `json:"job_type"`
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// QuarantineEventPayload describes a blocked promotion.
type QuarantineEventPayload struct {
	SessionID    string `json:"session_id"`
	Suite        string `json:"suite"`
	FailureCount int    `json:"failure_count"`
}

// TaskEventPayload announces a newly filed operator task. Occurrence
// bumps on existing tasks do not emit events.
type TaskEventPayload struct {
	TaskType  string `json:"task_type"`
	EntityID  string `json:"entity_id"`
	Title     string `json:"title"`
	SessionID string `json:"session_id"`
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
	Processed bool
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}

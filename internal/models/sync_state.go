package models

import "time"

// StepState is the per-step status shown on the dashboard, independent
// of the coarse workflow stage.
type StepState struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// SyncState is the single persisted record describing the active sync
// session. It is serialized as one JSON blob and rewritten in full on
// every mutation.
type SyncState struct {
	SessionID     string            `json:"session_id"`
	Stage         Stage             `json:"stage"`
	LastUpdated   time.Time         `json:"last_updated"`
	ErrorMessage  string            `json:"error_message,omitempty"`
	FailedAtStage Stage             `json:"failed_at_stage,omitempty"`
	Steps         map[int]StepState `json:"steps,omitempty"`
	Context       map[string]string `json:"context,omitempty"`
}

// NewSyncState returns an idle state with empty maps ready for merging.
func NewSyncState() *SyncState {
	return &SyncState{
		Stage:       StageIdle,
		LastUpdated: time.Now(),
		Steps:       make(map[int]StepState),
		Context:     make(map[string]string),
	}
}

// Clone returns a deep copy so callers can mutate without aliasing the
// cached state.
func (s *SyncState) Clone() *SyncState {
	if s == nil {
		return nil
	}
	out := *s
	out.Steps = make(map[int]StepState, len(s.Steps))
	for k, v := range s.Steps {
		out.Steps[k] = v
	}
	out.Context = make(map[string]string, len(s.Context))
	for k, v := range s.Context {
		out.Context[k] = v
	}
	return &out
}

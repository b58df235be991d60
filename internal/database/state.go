package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"erpsync/internal/models"
)

// LoadSyncState reads the singleton state blob. When no row exists yet
// an idle default is returned, so fresh deployments start cleanly.
func (db *DB) LoadSyncState(ctx context.Context) (*models.SyncState, error) {
	var raw string
	err := db.db.QueryRowContext(ctx, `SELECT state FROM sync_state WHERE id = 1`).Scan(&raw)
	if err == sql.ErrNoRows {
		return models.NewSyncState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sync state: %w", err)
	}

	var state models.SyncState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("failed to decode sync state: %w", err)
	}
	if state.Steps == nil {
		state.Steps = make(map[int]models.StepState)
	}
	if state.Context == nil {
		state.Context = make(map[string]string)
	}
	return &state, nil
}

// SaveSyncState re-serializes the full blob on every mutation.
func (db *DB) SaveSyncState(ctx context.Context, state *models.SyncState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode sync state: %w", err)
	}

	query := `INSERT INTO sync_state (id, state, updated_at) VALUES (1, ?, ?)
              ON CONFLICT(id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`
	if _, err := db.db.ExecContext(ctx, query, string(data), time.Now()); err != nil {
		return fmt.Errorf("failed to save sync state: %w", err)
	}
	return nil
}

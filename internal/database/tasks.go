package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"erpsync/internal/models"
)

const taskColumns = `id, task_type, entity_id, name, title, notes, status, occurrences, session_id, created_at, updated_at`

func (db *DB) CreateTask(ctx context.Context, task *models.Task) error {
	if task.Status == "" {
		task.Status = models.TaskOpen
	}
	if task.Occurrences == 0 {
		task.Occurrences = 1
	}

	query := `INSERT INTO tasks (task_type, entity_id, name, title, notes, status, occurrences, session_id, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now()
	result, err := db.db.ExecContext(ctx, query,
		task.TaskType,
		task.EntityID,
		task.Name,
		task.Title,
		task.Notes,
		task.Status,
		task.Occurrences,
		task.SessionID,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	task.ID = id
	task.CreatedAt = now
	task.UpdatedAt = now

	return nil
}

// FindOpenTaskByType returns the open task with the given dedup key,
// or nil when none exists.
func (db *DB) FindOpenTaskByType(ctx context.Context, taskType, entityID string) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
              WHERE task_type = ? AND entity_id = ? AND status = ?
              ORDER BY created_at ASC LIMIT 1`
	row := db.db.QueryRowContext(ctx, query, taskType, entityID, models.TaskOpen)

	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find open task: %w", err)
	}
	return task, nil
}

func (db *DB) UpdateTaskNotes(ctx context.Context, id int64, notes string) error {
	query := `UPDATE tasks SET notes = ?, updated_at = ? WHERE id = ?`
	_, err := db.db.ExecContext(ctx, query, notes, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update task notes: %w", err)
	}
	return nil
}

// IncrementOccurrence bumps the repeat counter on an open task and
// appends an occurrence line to its notes.
func (db *DB) IncrementOccurrence(ctx context.Context, id int64, occurrenceNote string) error {
	query := `UPDATE tasks SET occurrences = occurrences + 1,
                  notes = CASE WHEN ? = '' THEN notes ELSE notes || char(10) || ? END,
                  updated_at = ?
              WHERE id = ?`
	_, err := db.db.ExecContext(ctx, query, occurrenceNote, occurrenceNote, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to increment task occurrence: %w", err)
	}
	return nil
}

func (db *DB) CloseTask(ctx context.Context, id int64) error {
	query := `UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`
	_, err := db.db.ExecContext(ctx, query, models.TaskDone, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to close task: %w", err)
	}
	return nil
}

func (db *DB) GetOpenTasks(ctx context.Context) ([]models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE status = ? ORDER BY created_at DESC`
	rows, err := db.db.QueryContext(ctx, query, models.TaskOpen)
	if err != nil {
		return nil, fmt.Errorf("failed to get open tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

func scanTask(r rowScanner) (*models.Task, error) {
	var task models.Task
	var name, notes, sessionID sql.NullString
	err := r.Scan(
		&task.ID, &task.TaskType, &task.EntityID, &name, &task.Title, &notes,
		&task.Status, &task.Occurrences, &sessionID, &task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	task.Name = name.String
	task.Notes = notes.String
	task.SessionID = sessionID.String
	return &task, nil
}

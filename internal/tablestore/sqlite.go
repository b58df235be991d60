package tablestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// SQLiteStore persists tables generically in two relations: one row of
// headers per sheet and one JSON blob per data row. The schema stays
// fixed while sheet layouts change with the rule configuration.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS sheet_headers (
            sheet TEXT PRIMARY KEY,
            headers TEXT NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS sheet_rows (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            sheet TEXT NOT NULL,
            data TEXT NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_sheet_rows_sheet ON sheet_rows(sheet)`,
	}
	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return nil, fmt.Errorf("error executing query %s: %v", query, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) ReadTable(ctx context.Context, name string) (*Table, error) {
	var headersRaw string
	err := s.db.QueryRowContext(ctx, `SELECT headers FROM sheet_headers WHERE sheet = ?`, name).Scan(&headersRaw)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("table %q not found", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read headers for %s: %w", name, err)
	}

	table := &Table{Name: name, Headers: splitHeaders(headersRaw)}

	rows, err := s.db.QueryContext(ctx, `SELECT data FROM sheet_rows WHERE sheet = ? ORDER BY id ASC`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows for %s: %w", name, err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan row for %s: %w", name, err)
		}
		var row Row
		if err := json.Unmarshal([]byte(raw), &row); err != nil {
			return nil, fmt.Errorf("failed to decode row for %s: %w", name, err)
		}
		table.Rows = append(table.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return table, nil
}

func (s *SQLiteStore) WriteTable(ctx context.Context, table *Table) error {
	if table == nil || table.Name == "" {
		return fmt.Errorf("table name is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin write for %s: %w", table.Name, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sheet_headers (sheet, headers) VALUES (?, ?)
         ON CONFLICT(sheet) DO UPDATE SET headers = excluded.headers`,
		table.Name, joinHeaders(table.Headers))
	if err != nil {
		return fmt.Errorf("write headers for %s: %w", table.Name, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM sheet_rows WHERE sheet = ?`, table.Name); err != nil {
		return fmt.Errorf("clear rows for %s: %w", table.Name, err)
	}

	for _, row := range table.Rows {
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("encode row for %s: %w", table.Name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sheet_rows (sheet, data) VALUES (?, ?)`, table.Name, string(data)); err != nil {
			return fmt.Errorf("insert row for %s: %w", table.Name, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) AppendRows(ctx context.Context, name string, rows []Row) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sheet_headers WHERE sheet = ?`, name).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check table %s: %w", name, err)
	}
	if exists == 0 {
		return fmt.Errorf("table %q not found", name)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append for %s: %w", name, err)
	}
	defer tx.Rollback()

	for _, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("encode row for %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sheet_rows (sheet, data) VALUES (?, ?)`, name, string(data)); err != nil {
			return fmt.Errorf("append row for %s: %w", name, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) ClearTable(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sheet_rows WHERE sheet = ?`, name)
	if err != nil {
		return fmt.Errorf("clear table %s: %w", name, err)
	}
	return nil
}

func joinHeaders(headers []string) string {
	data, _ := json.Marshal(headers)
	return string(data)
}

func splitHeaders(raw string) []string {
	var headers []string
	if err := json.Unmarshal([]byte(raw), &headers); err != nil {
		return strings.Split(raw, "\t")
	}
	return headers
}

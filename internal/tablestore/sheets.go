package tablestore

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// SheetsStore reads and writes tables as tabs of one Google
// spreadsheet shared with the ERP operators. Writes are full-range
// overwrites so an interrupted sync can re-run the same write.
type SheetsStore struct {
	service       *sheets.Service
	spreadsheetID string
	retry         RetryPolicy
}

func NewSheetsStore(ctx context.Context, credentialsFile, spreadsheetID string, retry RetryPolicy) (*SheetsStore, error) {
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %v", err)
	}

	config, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %v", err)
	}

	client := config.Client(ctx)
	srv, err := sheets.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %v", err)
	}

	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 2 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}

	return &SheetsStore{
		service:       srv,
		spreadsheetID: spreadsheetID,
		retry:         retry,
	}, nil
}

// TestConnection reads the top-left cell of the spreadsheet.
func (s *SheetsStore) TestConnection(ctx context.Context) error {
	err := s.withRetry(ctx, func() error {
		_, err := s.service.Spreadsheets.Get(s.spreadsheetID).Context(ctx).Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("connection test failed: %v", err)
	}
	return nil
}

func (s *SheetsStore) ReadTable(ctx context.Context, name string) (*Table, error) {
	var resp *sheets.ValueRange
	err := s.withRetry(ctx, func() error {
		var err error
		resp, err = s.service.Spreadsheets.Values.Get(s.spreadsheetID, name).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", name, err)
	}

	if len(resp.Values) == 0 {
		return nil, fmt.Errorf("table %q not found", name)
	}

	headers := make([]string, 0, len(resp.Values[0]))
	for _, cell := range resp.Values[0] {
		headers = append(headers, strings.TrimSpace(fmt.Sprint(cell)))
	}

	table := &Table{Name: name, Headers: headers}
	for _, raw := range resp.Values[1:] {
		row := make(Row, len(headers))
		for i, header := range headers {
			if i < len(raw) {
				row[header] = fmt.Sprint(raw[i])
			} else {
				row[header] = ""
			}
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

func (s *SheetsStore) WriteTable(ctx context.Context, table *Table) error {
	if table == nil || table.Name == "" {
		return fmt.Errorf("table name is required")
	}

	values := make([][]interface{}, 0, len(table.Rows)+1)
	headerRow := make([]interface{}, 0, len(table.Headers))
	for _, h := range table.Headers {
		headerRow = append(headerRow, h)
	}
	values = append(values, headerRow)

	for _, row := range table.Rows {
		cells := make([]interface{}, 0, len(table.Headers))
		for _, h := range table.Headers {
			cells = append(cells, row[h])
		}
		values = append(values, cells)
	}

	// Clear first so shrinking tables leave no stale tail rows.
	err := s.withRetry(ctx, func() error {
		_, err := s.service.Spreadsheets.Values.Clear(s.spreadsheetID, table.Name, &sheets.ClearValuesRequest{}).Context(ctx).Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to clear sheet %s: %w", table.Name, err)
	}

	err = s.withRetry(ctx, func() error {
		_, err := s.service.Spreadsheets.Values.Update(s.spreadsheetID, table.Name+"!A1", &sheets.ValueRange{Values: values}).
			ValueInputOption("RAW").Context(ctx).Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to write sheet %s: %w", table.Name, err)
	}
	return nil
}

func (s *SheetsStore) AppendRows(ctx context.Context, name string, rows []Row) error {
	existing, err := s.ReadTable(ctx, name)
	if err != nil {
		return err
	}

	values := make([][]interface{}, 0, len(rows))
	for _, row := range rows {
		cells := make([]interface{}, 0, len(existing.Headers))
		for _, h := range existing.Headers {
			cells = append(cells, row[h])
		}
		values = append(values, cells)
	}

	err = s.withRetry(ctx, func() error {
		_, err := s.service.Spreadsheets.Values.Append(s.spreadsheetID, name, &sheets.ValueRange{Values: values}).
			ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to append to sheet %s: %w", name, err)
	}
	return nil
}

func (s *SheetsStore) ClearTable(ctx context.Context, name string) error {
	existing, err := s.ReadTable(ctx, name)
	if err != nil {
		return err
	}

	// Rewrite with only the header row.
	return s.WriteTable(ctx, &Table{Name: name, Headers: existing.Headers})
}

// withRetry retries quota and 5xx errors with exponential backoff;
// other errors fail immediately.
func (s *SheetsStore) withRetry(ctx context.Context, call func() error) error {
	var lastErr error
	for attempt := 1; attempt <= s.retry.MaxRetries; attempt++ {
		lastErr = call()
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.retry.NextDelay(attempt)):
		}
	}
	return lastErr
}

func isRetryable(err error) bool {
	if apiErr, ok := err.(*googleapi.Error); ok {
		return apiErr.Code == 429 || apiErr.Code >= 500
	}
	return false
}

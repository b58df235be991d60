package tablestore

import (
	"context"
	"fmt"
	"strings"
)

// Row is one record keyed by column name. Values are kept as strings
// the way they arrive from spreadsheet-style sources; typed parsing is
// the adapters' problem, not the store's.
type Row map[string]string

// Table is an in-memory snapshot of one named sheet: a header row
// defining columns plus data rows.
type Table struct {
	Name    string
	Headers []string
	Rows    []Row
}

// Store is the durable table store boundary. All workflow data that
// must survive process restarts is materialized as rows behind this
// interface.
type Store interface {
	// ReadTable loads a full snapshot of the named table.
	ReadTable(ctx context.Context, name string) (*Table, error)
	// WriteTable replaces the named table with the given snapshot.
	// The write is a full overwrite so re-running it is safe.
	WriteTable(ctx context.Context, table *Table) error
	// AppendRows adds rows to an existing table.
	AppendRows(ctx context.Context, name string, rows []Row) error
	// ClearTable removes all data rows, keeping the header.
	ClearTable(ctx context.Context, name string) error
}

// Index builds a key→row map over the given column. Keys are trimmed;
// rows with a blank key are skipped; on duplicate keys the first row
// wins, matching how the spreadsheets treat duplicate SKUs.
func (t *Table) Index(keyColumn string) map[string]Row {
	index := make(map[string]Row, len(t.Rows))
	for _, row := range t.Rows {
		key := strings.TrimSpace(row[keyColumn])
		if key == "" {
			continue
		}
		if _, seen := index[key]; seen {
			continue
		}
		index[key] = row
	}
	return index
}

// HasColumn reports whether the table declares the named header.
func (t *Table) HasColumn(name string) bool {
	for _, h := range t.Headers {
		if h == name {
			return true
		}
	}
	return false
}

// Promote copies the staging table over the master table in one
// overwrite write. Callers gate this behind the quarantine check; the
// copy itself is idempotent so a crashed promotion can simply be
// re-run.
func Promote(ctx context.Context, store Store, stagingName, masterName string) error {
	staging, err := store.ReadTable(ctx, stagingName)
	if err != nil {
		return fmt.Errorf("read staging table %s: %w", stagingName, err)
	}

	master := &Table{
		Name:    masterName,
		Headers: staging.Headers,
		Rows:    staging.Rows,
	}
	if err := store.WriteTable(ctx, master); err != nil {
		return fmt.Errorf("write master table %s: %w", masterName, err)
	}
	return nil
}

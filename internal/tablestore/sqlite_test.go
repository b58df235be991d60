package tablestore

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewSQLiteStore(db)
	require.NoError(t, err)
	return store
}

func TestSQLiteStore_WriteReadRoundtrip(t *testing.T) {
	store := setupSQLiteStore(t)
	ctx := context.Background()

	table := &Table{
		Name:    "products_staging",
		Headers: []string{"SKU", "Name", "Price"},
		Rows: []Row{
			{"SKU": "A-1", "Name": "Anvil", "Price": "10.00"},
			{"SKU": "B-2", "Name": "Bolt", "Price": "2.50"},
		},
	}
	require.NoError(t, store.WriteTable(ctx, table))

	got, err := store.ReadTable(ctx, "products_staging")
	require.NoError(t, err)
	assert.Equal(t, table.Headers, got.Headers)
	require.Len(t, got.Rows, 2)
	assert.Equal(t, "Anvil", got.Rows[0]["Name"])
	assert.Equal(t, "B-2", got.Rows[1]["SKU"])
}

func TestSQLiteStore_WriteIsFullOverwrite(t *testing.T) {
	store := setupSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, store.WriteTable(ctx, &Table{
		Name: "t", Headers: []string{"A"}, Rows: []Row{{"A": "1"}, {"A": "2"}},
	}))
	require.NoError(t, store.WriteTable(ctx, &Table{
		Name: "t", Headers: []string{"A", "B"}, Rows: []Row{{"A": "3", "B": "x"}},
	}))

	got, err := store.ReadTable(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, got.Headers)
	require.Len(t, got.Rows, 1)
	assert.Equal(t, "x", got.Rows[0]["B"])
}

func TestSQLiteStore_ReadMissingTable(t *testing.T) {
	store := setupSQLiteStore(t)
	_, err := store.ReadTable(context.Background(), "missing")
	assert.Error(t, err)
}

func TestSQLiteStore_AppendRows(t *testing.T) {
	store := setupSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, store.WriteTable(ctx, &Table{
		Name: "t", Headers: []string{"A"}, Rows: []Row{{"A": "1"}},
	}))
	require.NoError(t, store.AppendRows(ctx, "t", []Row{{"A": "2"}, {"A": "3"}}))

	got, err := store.ReadTable(ctx, "t")
	require.NoError(t, err)
	assert.Len(t, got.Rows, 3)
	assert.Equal(t, "3", got.Rows[2]["A"])

	assert.Error(t, store.AppendRows(ctx, "missing", []Row{{"A": "1"}}))
}

func TestSQLiteStore_ClearTableKeepsHeaders(t *testing.T) {
	store := setupSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, store.WriteTable(ctx, &Table{
		Name: "t", Headers: []string{"A"}, Rows: []Row{{"A": "1"}},
	}))
	require.NoError(t, store.ClearTable(ctx, "t"))

	got, err := store.ReadTable(ctx, "t")
	require.NoError(t, err)
	assert.Empty(t, got.Rows)
	assert.Equal(t, []string{"A"}, got.Headers)
}

package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"time"

	"erpsync/internal/database"
	"erpsync/internal/tablestore"
)

// load_table imports a vendor CSV into a named table of the sqlite
// table store. Operators run it to land inbox feeds by hand when the
// automated drop is missing:
//
//	go run scripts/load_table.go -csv products.csv -table products_inbox
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		csvPath   = flag.String("csv", "", "path to the CSV file")
		tableName = flag.String("table", "", "destination table name")
		dbPath    = flag.String("db", "./data/erpsync.db", "path to sqlite db")
	)
	flag.Parse()

	if *csvPath == "" || *tableName == "" {
		return fmt.Errorf("-csv and -table are required")
	}

	f, err := os.Open(*csvPath)
	if err != nil {
		return fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return fmt.Errorf("parse csv: %w", err)
	}
	if len(records) < 1 {
		return fmt.Errorf("csv has no header row")
	}

	headers := records[0]
	table := &tablestore.Table{Name: *tableName, Headers: headers}
	for _, record := range records[1:] {
		row := tablestore.Row{}
		for i, header := range headers {
			if i < len(record) {
				row[header] = record[i]
			}
		}
		table.Rows = append(table.Rows, row)
	}

	db, err := database.NewDB(*dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	store, err := tablestore.NewSQLiteStore(db.SQL())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := store.WriteTable(ctx, table); err != nil {
		return fmt.Errorf("write table: %w", err)
	}

	fmt.Printf("Loaded %d rows into %s\n", len(table.Rows), *tableName)
	return nil
}

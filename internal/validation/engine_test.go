package validation

import (
	"context"
	"testing"

	"erpsync/internal/rules"
	"erpsync/internal/tablestore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedStore(t *testing.T) tablestore.Store {
	t.Helper()
	store := tablestore.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.WriteTable(ctx, &tablestore.Table{
		Name:    "products_staging",
		Headers: []string{"SKU", "Name", "Price"},
		Rows: []tablestore.Row{
			{"SKU": "A-1", "Name": "Anvil", "Price": "10.00"},
			{"SKU": "B-2", "Name": "Bolt", "Price": "2.50"},
			{"SKU": "C-3", "Name": "Crate", "Price": "7.00"},
		},
	}))
	require.NoError(t, store.WriteTable(ctx, &tablestore.Table{
		Name:    "erp_snapshot",
		Headers: []string{"ItemCode", "UnitPrice", "Status"},
		Rows: []tablestore.Row{
			{"ItemCode": "A-1", "UnitPrice": "10.00", "Status": "active"},
			{"ItemCode": "B-2", "UnitPrice": "3.00", "Status": "active"},
			{"ItemCode": "D-4", "UnitPrice": "1.00", "Status": "discontinued"},
		},
	}))
	return store
}

func existenceRule() *rules.Rule {
	return &rules.Rule{
		Name:        "sku_in_erp",
		Suite:       "catalog",
		TestType:    rules.ExistenceCheck,
		Enabled:     true,
		SourceSheet: "products_staging",
		SourceKey:   "SKU",
		TargetSheet: "erp_snapshot",
		TargetKey:   "ItemCode",
	}
}

func TestRunSuite_ExistenceCheck_MissingKeyFails(t *testing.T) {
	engine := NewEngine(seedStore(t), nil)

	result, err := engine.RunSuite(context.Background(), "catalog", []*rules.Rule{existenceRule()})
	require.NoError(t, err)
	require.Len(t, result.Results, 1)

	r := result.Results[0]
	assert.Equal(t, StatusFailed, r.Status)
	require.Len(t, r.Discrepancies, 1)
	assert.Equal(t, "C-3", r.Discrepancies[0].Key)
	assert.Equal(t, "Crate", r.Discrepancies[0].Name)
}

func TestRunSuite_ExistenceCheck_Inverted(t *testing.T) {
	// Inverted: ERP keys must NOT appear on the storefront; the failing
	// rows are the ones present on both sides.
	rule := &rules.Rule{
		Name:         "erp_not_on_storefront",
		Suite:        "catalog",
		TestType:     rules.ExistenceCheck,
		Enabled:      true,
		SourceSheet:  "erp_snapshot",
		SourceKey:    "ItemCode",
		TargetSheet:  "products_staging",
		TargetKey:    "SKU",
		InvertResult: true,
	}
	engine := NewEngine(seedStore(t), nil)

	result, err := engine.RunSuite(context.Background(), "catalog", []*rules.Rule{rule})
	require.NoError(t, err)
	r := result.Results[0]
	assert.Equal(t, StatusFailed, r.Status)
	require.Len(t, r.Discrepancies, 2)
	assert.Equal(t, "A-1", r.Discrepancies[0].Key)
	assert.Equal(t, "B-2", r.Discrepancies[1].Key)
}

func TestRunSuite_ExistenceCheck_SourceFilter(t *testing.T) {
	rule := &rules.Rule{
		Name:         "discontinued_not_listed",
		Suite:        "catalog",
		TestType:     rules.ExistenceCheck,
		Enabled:      true,
		SourceSheet:  "erp_snapshot",
		SourceKey:    "ItemCode",
		TargetSheet:  "products_staging",
		TargetKey:    "SKU",
		InvertResult: true,
		SourceFilter: &rules.Filter{Column: "Status", Value: "discontinued"},
	}
	engine := NewEngine(seedStore(t), nil)

	result, err := engine.RunSuite(context.Background(), "catalog", []*rules.Rule{rule})
	require.NoError(t, err)
	// D-4 is discontinued but absent from the storefront, so nothing fails.
	assert.Equal(t, StatusPassed, result.Results[0].Status)
}

func TestRunSuite_ExistenceCheck_MissingFilterColumnErrors(t *testing.T) {
	rule := existenceRule()
	rule.SourceFilter = &rules.Filter{Column: "NoSuchColumn", Value: "x"}
	engine := NewEngine(seedStore(t), nil)

	result, err := engine.RunSuite(context.Background(), "catalog", []*rules.Rule{rule})
	require.NoError(t, err)
	assert.Equal(t, StatusError, result.Results[0].Status)
}

func TestRunSuite_FieldComparison_InnerJoin(t *testing.T) {
	rule := &rules.Rule{
		Name:          "price_match",
		Suite:         "catalog",
		TestType:      rules.FieldComparison,
		Enabled:       true,
		SheetA:        "products_staging",
		KeyA:          "SKU",
		SheetB:        "erp_snapshot",
		KeyB:          "ItemCode",
		CompareFields: [2]string{"Price", "UnitPrice"},
	}
	engine := NewEngine(seedStore(t), nil)

	result, err := engine.RunSuite(context.Background(), "catalog", []*rules.Rule{rule})
	require.NoError(t, err)

	r := result.Results[0]
	assert.Equal(t, StatusFailed, r.Status)
	// C-3 and D-4 exist on only one side: never compared. Only B-2
	// differs on the join.
	require.Len(t, r.Discrepancies, 1)
	assert.Equal(t, "B-2", r.Discrepancies[0].Key)
	assert.Contains(t, r.Discrepancies[0].Details, `Price="2.50"`)
	assert.Contains(t, r.Discrepancies[0].Details, `UnitPrice="3.00"`)
}

func TestRunSuite_RuleIsolation(t *testing.T) {
	// A rule referencing a key column that indexes to nothing must not
	// disturb its siblings.
	broken := existenceRule()
	broken.Name = "broken"
	broken.SourceKey = "NoSuchColumn"

	healthy := existenceRule()

	engine := NewEngine(seedStore(t), nil)
	result, err := engine.RunSuite(context.Background(), "catalog", []*rules.Rule{broken, healthy})
	require.NoError(t, err)
	require.Len(t, result.Results, 2)

	// The broken rule sees an empty source index and trivially passes;
	// the healthy one still reports its discrepancy.
	assert.Equal(t, StatusPassed, result.Results[0].Status)
	assert.Equal(t, StatusFailed, result.Results[1].Status)
}

func TestRunSuite_MissingTableFailsSuite(t *testing.T) {
	rule := existenceRule()
	rule.TargetSheet = "no_such_table"
	engine := NewEngine(seedStore(t), nil)

	_, err := engine.RunSuite(context.Background(), "catalog", []*rules.Rule{rule})
	assert.Error(t, err)
}

func TestRunSuite_EmptyRuleSet(t *testing.T) {
	engine := NewEngine(tablestore.NewMemoryStore(), nil)

	result, err := engine.RunSuite(context.Background(), "catalog", nil)
	require.NoError(t, err)
	assert.Empty(t, result.Results)
}

func TestRunSuite_AllPassing(t *testing.T) {
	store := tablestore.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.WriteTable(ctx, &tablestore.Table{
		Name:    "products_staging",
		Headers: []string{"SKU"},
		Rows:    []tablestore.Row{{"SKU": "A-1"}},
	}))
	require.NoError(t, store.WriteTable(ctx, &tablestore.Table{
		Name:    "erp_snapshot",
		Headers: []string{"ItemCode"},
		Rows:    []tablestore.Row{{"ItemCode": "A-1"}},
	}))

	engine := NewEngine(store, nil)
	result, err := engine.RunSuite(ctx, "catalog", []*rules.Rule{existenceRule()})
	require.NoError(t, err)
	assert.Equal(t, StatusPassed, result.Results[0].Status)
	assert.Empty(t, result.Results[0].Discrepancies)
}

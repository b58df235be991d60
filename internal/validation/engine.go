package validation

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"erpsync/internal/logging"
	"erpsync/internal/rules"
	"erpsync/internal/tablestore"

	"github.com/rs/zerolog"
)

// RuleStatus is the outcome of one rule's evaluation.
type RuleStatus string

const (
	StatusPassed  RuleStatus = "PASSED"
	StatusFailed  RuleStatus = "FAILED"
	StatusError   RuleStatus = "ERROR"
	StatusSkipped RuleStatus = "SKIPPED"
)

// Discrepancy is one failing row. Transient: consumed immediately by
// the orchestrator to build tasks, never persisted as-is.
type Discrepancy struct {
	Key     string
	Name    string
	Details string
	Data    tablestore.Row
}

// RuleResult is the evaluation of a single rule.
type RuleResult struct {
	Rule          *rules.Rule
	Status        RuleStatus
	Message       string
	Discrepancies []Discrepancy
}

// SuiteResult bundles all rule results of one suite run.
type SuiteResult struct {
	Suite   string
	Results []RuleResult
}

// nameColumns is the priority list probed for a human-readable display
// name on a failing row.
var nameColumns = []string{"Name", "name", "Title", "title", "Description", "description", "ProductName", "product_name"}

// Engine evaluates rule suites against a table store snapshot. It is a
// pure evaluator: it reads tables and returns results, creating no
// tasks and mutating nothing, so rules can be unit-tested against an
// in-memory store.
type Engine struct {
	store  tablestore.Store
	logger zerolog.Logger
}

func NewEngine(store tablestore.Store, logger *zerolog.Logger) *Engine {
	l := logging.Component(logger, "validation")
	return &Engine{store: store, logger: l}
}

// tableKey identifies one (table, keyColumn) lookup map.
type tableKey struct {
	sheet string
	key   string
}

// RunSuite evaluates every enabled rule of the suite. Each referenced
// (table, keyColumn) pair is loaded and indexed exactly once up front;
// rules sharing a table never re-scan it. A rule that errors is
// reported as ERROR without aborting its siblings.
func (e *Engine) RunSuite(ctx context.Context, suite string, ruleSet []*rules.Rule) (*SuiteResult, error) {
	result := &SuiteResult{Suite: suite}
	if len(ruleSet) == 0 {
		return result, nil
	}

	indexes, tables, err := e.preload(ctx, ruleSet)
	if err != nil {
		return nil, err
	}

	for _, rule := range ruleSet {
		result.Results = append(result.Results, e.evalRule(rule, indexes, tables))
	}

	return result, nil
}

// preload loads each distinct referenced table once and builds a
// key→row map per distinct (table, keyColumn) pair.
func (e *Engine) preload(ctx context.Context, ruleSet []*rules.Rule) (map[tableKey]map[string]tablestore.Row, map[string]*tablestore.Table, error) {
	pairs := make(map[tableKey]struct{})
	for _, rule := range ruleSet {
		switch rule.TestType {
		case rules.ExistenceCheck:
			pairs[tableKey{rule.SourceSheet, rule.SourceKey}] = struct{}{}
			pairs[tableKey{rule.TargetSheet, rule.TargetKey}] = struct{}{}
		case rules.FieldComparison:
			pairs[tableKey{rule.SheetA, rule.KeyA}] = struct{}{}
			pairs[tableKey{rule.SheetB, rule.KeyB}] = struct{}{}
		}
	}

	tables := make(map[string]*tablestore.Table)
	indexes := make(map[tableKey]map[string]tablestore.Row, len(pairs))

	for pair := range pairs {
		table, ok := tables[pair.sheet]
		if !ok {
			var err error
			table, err = e.store.ReadTable(ctx, pair.sheet)
			if err != nil {
				return nil, nil, fmt.Errorf("load table %s: %w", pair.sheet, err)
			}
			tables[pair.sheet] = table
		}
		indexes[pair] = table.Index(pair.key)
	}

	return indexes, tables, nil
}

// evalRule dispatches on the rule type, recovering from panics so one
// broken rule cannot take down the suite.
func (e *Engine) evalRule(rule *rules.Rule, indexes map[tableKey]map[string]tablestore.Row, tables map[string]*tablestore.Table) (result RuleResult) {
	result.Rule = rule

	defer func() {
		if r := recover(); r != nil {
			result.Status = StatusError
			result.Message = fmt.Sprintf("rule panicked: %v", r)
			result.Discrepancies = nil
			e.logger.Error().Str("rule", rule.Name).Interface("panic", r).Msg("rule evaluation panicked")
		}
	}()

	var discrepancies []Discrepancy
	var err error

	switch rule.TestType {
	case rules.ExistenceCheck:
		discrepancies, err = e.evalExistence(rule, indexes, tables)
	case rules.FieldComparison:
		discrepancies, err = e.evalComparison(rule, indexes)
	default:
		result.Status = StatusSkipped
		result.Message = fmt.Sprintf("unknown test_type %q", rule.TestType)
		return result
	}

	if err != nil {
		result.Status = StatusError
		result.Message = err.Error()
		e.logger.Error().Str("rule", rule.Name).Err(err).Msg("rule evaluation failed")
		return result
	}

	if len(discrepancies) > 0 {
		result.Status = StatusFailed
		result.Message = fmt.Sprintf("%d discrepancies", len(discrepancies))
		result.Discrepancies = discrepancies
	} else {
		result.Status = StatusPassed
	}
	return result
}

// evalExistence checks source keys against the target map. With
// InvertResult false the rule reads "source key must exist in target"
// and a missing key fails; with InvertResult true it reads "must NOT
// exist" and a present key fails.
func (e *Engine) evalExistence(rule *rules.Rule, indexes map[tableKey]map[string]tablestore.Row, tables map[string]*tablestore.Table) ([]Discrepancy, error) {
	source, ok := indexes[tableKey{rule.SourceSheet, rule.SourceKey}]
	if !ok {
		return nil, fmt.Errorf("source index %s/%s not loaded", rule.SourceSheet, rule.SourceKey)
	}
	target, ok := indexes[tableKey{rule.TargetSheet, rule.TargetKey}]
	if !ok {
		return nil, fmt.Errorf("target index %s/%s not loaded", rule.TargetSheet, rule.TargetKey)
	}

	sourceTable := tables[rule.SourceSheet]
	if rule.SourceFilter != nil && sourceTable != nil && !sourceTable.HasColumn(rule.SourceFilter.Column) {
		return nil, fmt.Errorf("source_filter column %q not present in %s", rule.SourceFilter.Column, rule.SourceSheet)
	}

	var discrepancies []Discrepancy
	for key, row := range source {
		if !matchFilter(rule.SourceFilter, row) {
			continue
		}

		_, exists := target[key]
		failed := exists
		if !rule.InvertResult {
			failed = !exists
		}
		if !failed {
			continue
		}

		details := fmt.Sprintf("key %q missing from %s", key, rule.TargetSheet)
		if rule.InvertResult {
			details = fmt.Sprintf("key %q unexpectedly present in %s", key, rule.TargetSheet)
		}

		discrepancies = append(discrepancies, Discrepancy{
			Key:     key,
			Name:    displayName(row),
			Details: details,
			Data:    row,
		})
	}

	sortDiscrepancies(discrepancies)
	return discrepancies, nil
}

// evalComparison compares two configured fields over the inner join of
// both key maps: keys present on only one side are never evaluated.
func (e *Engine) evalComparison(rule *rules.Rule, indexes map[tableKey]map[string]tablestore.Row) ([]Discrepancy, error) {
	sideA, ok := indexes[tableKey{rule.SheetA, rule.KeyA}]
	if !ok {
		return nil, fmt.Errorf("index %s/%s not loaded", rule.SheetA, rule.KeyA)
	}
	sideB, ok := indexes[tableKey{rule.SheetB, rule.KeyB}]
	if !ok {
		return nil, fmt.Errorf("index %s/%s not loaded", rule.SheetB, rule.KeyB)
	}

	fieldA, fieldB := rule.CompareFields[0], rule.CompareFields[1]

	var discrepancies []Discrepancy
	for key, rowA := range sideA {
		rowB, exists := sideB[key]
		if !exists {
			continue
		}
		if !matchFilter(rule.SourceFilter, rowA) {
			continue
		}

		valueA := strings.TrimSpace(rowA[fieldA])
		valueB := strings.TrimSpace(rowB[fieldB])
		if valueA == valueB {
			continue
		}

		discrepancies = append(discrepancies, Discrepancy{
			Key:     key,
			Name:    displayName(rowA),
			Details: fmt.Sprintf("%s=%q vs %s=%q", fieldA, valueA, fieldB, valueB),
			Data:    rowA,
		})
	}

	sortDiscrepancies(discrepancies)
	return discrepancies, nil
}

func matchFilter(filter *rules.Filter, row tablestore.Row) bool {
	if filter == nil {
		return true
	}
	return strings.TrimSpace(row[filter.Column]) == filter.Value
}

// sortDiscrepancies keeps map-iteration order out of results so runs
// are reproducible and summary previews stable.
func sortDiscrepancies(d []Discrepancy) {
	sort.Slice(d, func(i, j int) bool { return d[i].Key < d[j].Key })
}

// displayName probes common name-like columns for something an
// operator will recognize.
func displayName(row tablestore.Row) string {
	for _, col := range nameColumns {
		if v := strings.TrimSpace(row[col]); v != "" {
			return v
		}
	}
	return ""
}

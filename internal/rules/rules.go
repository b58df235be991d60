package rules

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// RuleType dispatches rule evaluation. Rules are loosely-typed records
// in configuration; the shape is validated once here at load time
// rather than re-checked per row.
type RuleType string

const (
	ExistenceCheck  RuleType = "EXISTENCE_CHECK"
	FieldComparison RuleType = "FIELD_COMPARISON"
)

// Filter restricts which source rows a rule considers. Exact match on
// one column.
type Filter struct {
	Column string `yaml:"column"`
	Value  string `yaml:"value"`
}

// Rule is one validation rule entry. Which fields are meaningful
// depends on TestType; Validate enforces the per-type shape.
type Rule struct {
	Name     string   `yaml:"-"`
	Suite    string   `yaml:"validation_suite"`
	TestType RuleType `yaml:"test_type"`
	Enabled  bool     `yaml:"enabled"`

	// EXISTENCE_CHECK fields.
	SourceSheet  string `yaml:"source_sheet"`
	SourceKey    string `yaml:"source_key"`
	TargetSheet  string `yaml:"target_sheet"`
	TargetKey    string `yaml:"target_key"`
	InvertResult bool   `yaml:"invert_result"`

	// FIELD_COMPARISON fields.
	SheetA        string    `yaml:"sheet_a"`
	KeyA          string    `yaml:"key_a"`
	SheetB        string    `yaml:"sheet_b"`
	KeyB          string    `yaml:"key_b"`
	CompareFields [2]string `yaml:"compare_fields,flow"`

	SourceFilter *Filter `yaml:"source_filter"`

	OnFailureTaskType   string `yaml:"on_failure_task_type"`
	OnFailureTitle      string `yaml:"on_failure_title"`
	OnFailureNotes      string `yaml:"on_failure_notes"`
	OnFailureQuarantine bool   `yaml:"on_failure_quarantine"`
}

// Validate checks the per-type shape. Called once on load.
func (r *Rule) Validate() error {
	switch r.TestType {
	case ExistenceCheck:
		if r.SourceSheet == "" || r.SourceKey == "" || r.TargetSheet == "" || r.TargetKey == "" {
			return fmt.Errorf("rule %s: existence check requires source_sheet, source_key, target_sheet, target_key", r.Name)
		}
	case FieldComparison:
		if r.SheetA == "" || r.KeyA == "" || r.SheetB == "" || r.KeyB == "" {
			return fmt.Errorf("rule %s: field comparison requires sheet_a, key_a, sheet_b, key_b", r.Name)
		}
		if r.CompareFields[0] == "" || r.CompareFields[1] == "" {
			return fmt.Errorf("rule %s: field comparison requires two compare_fields", r.Name)
		}
	default:
		return fmt.Errorf("rule %s: unknown test_type %q", r.Name, r.TestType)
	}

	if r.Suite == "" {
		return fmt.Errorf("rule %s: validation_suite is required", r.Name)
	}
	if r.SourceFilter != nil && r.SourceFilter.Column == "" {
		return fmt.Errorf("rule %s: source_filter requires a column", r.Name)
	}
	return nil
}

type rulesFile struct {
	Rules map[string]*Rule `yaml:"rules"`
}

// Load reads and validates the rule configuration file. Rules are
// read-only after load; the engine never mutates them.
func Load(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return Parse(data)
}

// Parse decodes rule entries keyed by name.
func Parse(data []byte) (*Set, error) {
	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}

	set := &Set{rules: make([]*Rule, 0, len(file.Rules))}
	for name, rule := range file.Rules {
		if rule == nil {
			return nil, fmt.Errorf("rule %s: empty definition", name)
		}
		rule.Name = name
		if err := rule.Validate(); err != nil {
			return nil, err
		}
		set.rules = append(set.rules, rule)
	}

	// YAML map order is not stable; evaluation order should be.
	sort.Slice(set.rules, func(i, j int) bool { return set.rules[i].Name < set.rules[j].Name })
	return set, nil
}

// Set is a loaded rule configuration. Loaded once per run and passed
// explicitly to the engine, never consulted as ambient global state.
type Set struct {
	rules []*Rule
}

// Suite returns the enabled rules of one validation suite.
func (s *Set) Suite(name string) []*Rule {
	var out []*Rule
	for _, r := range s.rules {
		if r.Suite == name && r.Enabled {
			out = append(out, r)
		}
	}
	return out
}

// All returns every loaded rule, enabled or not.
func (s *Set) All() []*Rule {
	return s.rules
}

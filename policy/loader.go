package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/reactmesh/core"
)

// RuleSetError is returned when a rule file cannot be loaded. The engine
// fails closed: the previously loaded rule set stays active.
type RuleSetError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *RuleSetError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("policy: rule set %s rejected: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("policy: rule set rejected: %v", e.Err)
}

// Unwrap returns the underlying cause.
func (e *RuleSetError) Unwrap() error { return e.Err }

// ruleFile is the on-disk YAML shape of a rule set.
type ruleFile struct {
	SpecVersion string   `yaml:"spec_version"`
	Defaults    Defaults `yaml:"defaults"`
	Rules       []Rule   `yaml:"rules"`
}

// RuleSet is an immutable, validated collection of rules plus defaults.
// Engines swap whole rule sets atomically; a set is never mutated after
// construction.
type RuleSet struct {
	SpecVersion string
	Defaults    Defaults
	Rules       []Rule

	// Version is a monotonically increasing counter assigned at swap time.
	Version int

	// Warnings lists rules skipped during load (e.g. malformed decision
	// values) for audit.
	Warnings []string
}

// EmptyRuleSet returns a rule set with no rules and permissive defaults:
// deny-list-only mode, fan-in all, no retry budget.
func EmptyRuleSet() *RuleSet {
	return &RuleSet{
		Defaults: Defaults{FanIn: core.FanInRule{Mode: core.FanInAll}},
	}
}

// Parse validates raw YAML into a RuleSet. Structural errors reject the
// whole set; a rule carrying a malformed decision is skipped with a warning
// rather than silently accepted.
func Parse(data []byte) (*RuleSet, error) {
	var rf ruleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, &RuleSetError{Err: err}
	}

	if rf.Defaults.Retry.MaxRetry < 0 {
		return nil, &RuleSetError{Err: fmt.Errorf("defaults.retry.max_retry must not be negative")}
	}
	if rf.Defaults.FanIn.Mode == "" {
		rf.Defaults.FanIn.Mode = core.FanInAll
	}
	if err := rf.Defaults.FanIn.Validate(); err != nil {
		return nil, &RuleSetError{Err: err}
	}

	rs := &RuleSet{SpecVersion: rf.SpecVersion, Defaults: rf.Defaults}
	seen := map[string]bool{}
	for i, rule := range rf.Rules {
		if rule.Name == "" {
			return nil, &RuleSetError{Err: fmt.Errorf("rule %d: missing name", i)}
		}
		if seen[rule.Name] {
			return nil, &RuleSetError{Err: fmt.Errorf("rule %q: duplicate name", rule.Name)}
		}
		seen[rule.Name] = true

		if d := rule.Then.Decision; d != nil {
			if err := d.Validate(); err != nil {
				rs.Warnings = append(rs.Warnings, fmt.Sprintf("rule %q skipped: %v", rule.Name, err))
				continue
			}
		}
		if f := rule.Then.FanIn; f != nil {
			if err := f.Validate(); err != nil {
				return nil, &RuleSetError{Err: fmt.Errorf("rule %q: %w", rule.Name, err)}
			}
		}
		if r := rule.Then.Retry; r != nil && r.MaxRetry < 0 {
			return nil, &RuleSetError{Err: fmt.Errorf("rule %q: max_retry must not be negative", rule.Name)}
		}

		rule.order = i
		rs.Rules = append(rs.Rules, rule)
	}
	return rs, nil
}

// ParseFile reads and parses a rule file from disk.
func ParseFile(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &RuleSetError{Path: path, Err: err}
	}
	rs, err := Parse(data)
	if err != nil {
		if re, ok := err.(*RuleSetError); ok {
			re.Path = path
		}
		return nil, err
	}
	return rs, nil
}

package policy

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/reactmesh/core"
)

// CapabilitySet is the allow/forbid capability delta carried by defaults
// and rule actions.
type CapabilitySet struct {
	Capabilities []string `yaml:"capabilities"`
}

// RetryPolicy bounds the retry loop for a session.
type RetryPolicy struct {
	MaxRetry   int `yaml:"max_retry" json:"max_retry"`
	BackoffSec int `yaml:"backoff_sec" json:"backoff_sec"`
}

// Defaults is the base policy applied before any rule deltas.
type Defaults struct {
	Retry  RetryPolicy    `yaml:"retry"`
	FanIn  core.FanInRule `yaml:"fan_in"`
	Allow  CapabilitySet  `yaml:"allow"`
	Forbid CapabilitySet  `yaml:"forbid"`
}

// Then is the action block of a rule: capability deltas, an optional forced
// decision, and fan-in / retry overrides.
type Then struct {
	Allow    *CapabilitySet  `yaml:"allow,omitempty"`
	Forbid   *CapabilitySet  `yaml:"forbid,omitempty"`
	Decision *core.Decision  `yaml:"decision,omitempty"`
	FanIn    *core.FanInRule `yaml:"fan_in,omitempty"`
	Retry    *RetryPolicy    `yaml:"retry,omitempty"`
}

// Rule is one declarative policy rule. Rules are immutable once loaded for
// a given evaluation; the rule set as a whole is hot-reloadable.
type Rule struct {
	Name     string               `yaml:"name"`
	Priority int                  `yaml:"priority"`
	When     map[string]Condition `yaml:"when"`
	Then     Then                 `yaml:"then"`

	// order is the declaration index within the file, used as the fixed
	// tie-break among equal priorities.
	order int
}

// Matches reports whether every condition of the rule's when block holds
// against the context. An empty when block matches everything.
func (r Rule) Matches(ctx *Context) bool {
	for field, cond := range r.When {
		value, ok := ctx.Get(field)
		if !cond.Matches(value, ok) {
			return false
		}
	}
	return true
}

// Condition is one predicate of the when block. A bare scalar means
// equality; a map form supports the comparison operators.
//
//	risk_level: high             # equality
//	retry_count: {gte: 2}        # numeric comparison
//	risk_level: {in: [mid, high]}# set membership
//	local_only: true             # boolean flag
//	issues: {contains: timeout}  # slice membership
//	command_class: {exists: true}
type Condition struct {
	Eq       any      `yaml:"eq,omitempty"`
	Ne       any      `yaml:"ne,omitempty"`
	Gt       *float64 `yaml:"gt,omitempty"`
	Gte      *float64 `yaml:"gte,omitempty"`
	Lt       *float64 `yaml:"lt,omitempty"`
	Lte      *float64 `yaml:"lte,omitempty"`
	In       []any    `yaml:"in,omitempty"`
	Contains any      `yaml:"contains,omitempty"`
	Exists   *bool    `yaml:"exists,omitempty"`

	scalar   any
	isScalar bool
}

// UnmarshalYAML accepts either a bare scalar (shorthand for eq) or the
// operator map form.
func (c *Condition) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode || node.Kind == yaml.SequenceNode {
		var v any
		if err := node.Decode(&v); err != nil {
			return err
		}
		c.scalar = v
		c.isScalar = true
		return nil
	}
	type plain Condition
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*c = Condition(p)
	return nil
}

// Matches evaluates the condition against a resolved context value. The
// present flag distinguishes a missing field from a zero value.
func (c Condition) Matches(value any, present bool) bool {
	if c.isScalar {
		return present && equal(value, c.scalar)
	}
	if c.Exists != nil {
		if *c.Exists != present {
			return false
		}
		// exists:false with an absent field needs no further checks
		if !present {
			return true
		}
	}
	if !present {
		return false
	}
	if c.Eq != nil && !equal(value, c.Eq) {
		return false
	}
	if c.Ne != nil && equal(value, c.Ne) {
		return false
	}
	if c.Gt != nil || c.Gte != nil || c.Lt != nil || c.Lte != nil {
		n, ok := toFloat(value)
		if !ok {
			return false
		}
		if c.Gt != nil && !(n > *c.Gt) {
			return false
		}
		if c.Gte != nil && !(n >= *c.Gte) {
			return false
		}
		if c.Lt != nil && !(n < *c.Lt) {
			return false
		}
		if c.Lte != nil && !(n <= *c.Lte) {
			return false
		}
	}
	if c.In != nil {
		found := false
		for _, candidate := range c.In {
			if equal(value, candidate) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if c.Contains != nil {
		if !sliceContains(value, c.Contains) {
			return false
		}
	}
	return true
}

// equal compares scalars with numeric coercion so YAML ints match Go ints
// and floats.
func equal(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func sliceContains(value, needle any) bool {
	switch s := value.(type) {
	case []string:
		for _, item := range s {
			if equal(item, needle) {
				return true
			}
		}
	case []any:
		for _, item := range s {
			if equal(item, needle) {
				return true
			}
		}
	}
	return false
}

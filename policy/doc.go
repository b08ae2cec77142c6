// Package policy implements the declarative, hot-reloadable policy layer
// that gates every dispatch and every state transition of the orchestration
// loop.
//
// A rule set is loaded from a YAML file, validated fail-closed, and swapped
// atomically behind a versioned pointer so an in-flight evaluation always
// reads a single consistent snapshot. Evaluation is a pure function of
// (context, rule set): the same input produces the same effective policy and
// rule hits on every call.
//
// Precedence: deny always wins over allow at the same or lower priority.
// When several matched rules force a decision, the highest priority wins;
// among equal priorities the rule declared first in the file wins. This
// tie-break is fixed and covered by tests.
package policy

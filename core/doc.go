// Package core provides the foundational domain types, message contracts and
// collaborator interfaces used by ReactMesh. It defines the core abstractions
// for:
//
//   - Task Contract messages (dispatch, result, decision, decision log)
//   - Task plans (DAG nodes with dependencies and fan-in rules)
//   - Compensation actions recorded for Saga-style rollback
//   - Pluggable collaborators (workers, planners, analyzers, execution store)
//
// The package intentionally keeps implementation concerns (persistence,
// scheduling, policy evaluation, concrete workers) out of scope, exposing
// small interfaces to enable custom backends and extensions. All exported
// identifiers include concise documentation to aid discoverability and
// external consumption.
package core

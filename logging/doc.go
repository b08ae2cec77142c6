// Package logging provides a minimal logging interface and adapters for ReactMesh.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the kernel components use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - NoOpLogger for silent operation (testing, minimal setups)
//   - ReactMeshLogger with kernel-specific helpers (dispatch, decision,
//     policy evaluation, compensation)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	mesh := reactmesh.New(func(o *reactmesh.Options) { o.Logger = logger })
//
// The design intentionally keeps the interface minimal to avoid vendor lock-in
// while supporting structured logging where available.
package logging

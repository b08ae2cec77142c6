// Package testutil contains helper builders and stub workers used across
// tests to reduce boilerplate when constructing core model objects (plans,
// candidates, task results) and scripting dispatch targets. These helpers
// are intentionally minimal and not intended for production usage.
package testutil

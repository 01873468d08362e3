// Package flows holds the multi-step engine operations as pure orchestrators.
//
// Each Run* function takes a dependency struct of narrow funcs and returns a
// result with a failure kind. The root package maps kinds to public errors,
// metrics and audit events.
//
// # What this package must NOT do
//
//   - Hold state between calls.
//   - Import authkit (import cycle).
package flows

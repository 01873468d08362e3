// Package internal holds helpers that are private to authkit.
//
// # Sub-packages
//
//   - flows: ordered orchestration for engine operations (renew)
//   - rate: Redis fixed-window attempt counters
//
// # What this package must NOT do
//
//   - Export types that appear in the public authkit API.
//   - Be imported by any package outside the authkit module.
package internal

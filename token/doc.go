// Package token defines the token records handled by authkit (access tokens,
// refresh tokens and one-time MFA codes), the [Scope] sum type, and the Token
// Store interfaces that persistence adapters implement.
//
// # Store contract
//
// Every store operation is single-row atomic and honours context
// cancellation. Missing rows are reported as [ErrNotFound]; backend failures
// wrap [ErrStoreUnavailable]. Filters carried by [Query] are applied by the
// store itself so that expired or unapproved tokens are never returned.
//
// # What this package must NOT do
//
//   - Import authkit or any adapter package.
//   - Perform I/O.
package token

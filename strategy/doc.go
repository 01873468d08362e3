// Package strategy validates presented credentials and mints new ones.
//
// A [Strategy] turns a raw token into a [user.Principal] and back. Three
// implementations ship with the module:
//
//   - [Database]: opaque tokens resolved through a [token.AccessStore].
//   - [JWT]: self-contained signed tokens. No store lookup; no MFA state.
//   - [Redis]: opaque tokens kept as Redis hashes with their scope and factor
//     state. Keys expire some time after the access lifetime so renew can
//     still read them.
//
// Both stateful strategies only resolve authorized reads for approved tokens.
//
// Invalid, expired or unknown tokens resolve to (nil, nil). A non-nil error
// always means the backing system failed.
package strategy

// Package middleware adapts authkit decisions to net/http.
//
// # Guards
//
//   - [Require] runs the authenticator's cached decision for a set of
//     requirements.
//   - [RequireActive], [RequireApproved], [RequireSuperuser] and [Optional]
//     are the common presets.
//   - [ClientIP] records the caller address for audit events.
//   - [CSRF] enforces the cookie transports' double-submit token.
//
// A rejected request is answered with the rejection's status and a
// {"detail": "<reason>"} body. The accepted decision is stored in the request
// context and read back with authkit.DecisionFromContext.
//
// # What this package must NOT do
//
//   - Read or validate credentials itself (backends do).
//   - Reveal which backend or token check failed.
package middleware

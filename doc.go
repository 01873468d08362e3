// Package authkit authenticates HTTP requests across a list of named
// backends and runs the login, logout, renew and MFA flows around them.
//
// A [Backend] pairs a [transport.Transport] (where the credential travels) with
// a [strategy.Strategy] (how it is minted and resolved). The [Authenticator]
// tries backends in order and applies per-call-site [Requirements]; the
// [Engine] built by [Builder] adds refresh tokens, renew and the OTP challenge.
//
// # Architecture boundaries
//
// Sub-packages (token, strategy, transport, refresh, otp, store/...) never
// import authkit. The middleware, httpapi and oauth layers sit on top of it.
// All flow orchestration that needs ordering guarantees lives under
// internal/flows.
//
// # What this package must NOT do
//
//   - Persist users. Principals come from a [user.Provider].
//   - Log raw tokens, refresh tokens or OTP codes.
//   - Tell a rejected client which backend or which token check failed.
package authkit

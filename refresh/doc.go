// Package refresh issues, validates and revokes long-lived refresh tokens.
//
// Raw tokens are handed to the client once and never persisted: stores see
// only [token.HashKey] of the raw value. Lifetime is independent of the access
// token's.
//
// The package does not know about access tokens or strategies. Renew policy
// (when to rotate, what to mint) belongs to the engine.
package refresh

// Package jwt signs and verifies the self-contained tokens authkit issues:
// stateless access tokens and OAuth2 state tokens.
//
// The [Manager] owns key material and algorithm pinning. Callers choose the
// claims type and the audience; the manager never decides what a token means.
package jwt

// Package oauth implements the OAuth2 authorization-code round trip on top of
// an authkit engine.
//
// Authorize signs a short-lived state JWT that embeds a random nonce and sets
// the same nonce in an HttpOnly cookie. Callback accepts the provider's
// redirect only when the state verifies and its nonce equals the cookie. On
// mismatch it answers 400 OAUTH_INVALID_STATE before any account is looked
// up, linked or created.
//
// Account linking stays with the application through [AccountLinker]; the
// principal it returns is logged in through a named authkit backend.
package oauth

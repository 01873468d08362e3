// Package httpapi mounts the authkit HTTP surface on a chi router.
//
// For every backend the router exposes POST /auth/{backend}/login and
// POST /auth/{backend}/logout. Shared routes are POST /auth/renew,
// POST /auth/mfa/send, POST /auth/mfa/validate and, per OAuth provider,
// GET /auth/oauth/{provider}/authorize and /callback.
//
// Logout, renew and the MFA routes are behind the cookie transports' CSRF
// check: a request carrying cookie credentials must echo the CSRF cookie in
// its header or it is refused with 403 csrf-mismatch.
//
// Errors are JSON objects of the form {"detail": "<code>"}.
package httpapi

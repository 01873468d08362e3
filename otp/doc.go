// Package otp issues and validates one-time MFA codes bound to an access token.
//
// Each access token carries a fixed set of factors (email, sms, authenticator)
// with a per-factor approval flag. [Manager.Send] creates at most one live code
// per (token, factor); [Manager.Validate] consumes it, approves the factor and
// recomputes the token scope: approved only once every configured factor is.
//
// Delivery is delegated to a [Notifier]. Authenticator-app codes are never
// stored; they are checked with TOTP against the principal's enrolled secret.
package otp

// Package transport carries credentials over HTTP.
//
// A [Transport] extracts a raw credential from a request and formats login and
// logout responses. It never talks to a token store; whether a credential is
// valid is a strategy concern.
package transport

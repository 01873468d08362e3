// Package user defines the authenticated principal and the narrow interfaces
// authkit uses to reach an external user store.
//
// # Architecture boundaries
//
// authkit never persists users. Implementations of [Provider] and
// [CredentialVerifier] live in the host application; [MapProvider] exists for
// tests and demos.
package user

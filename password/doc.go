// Package password hashes passwords with argon2id and provides [Directory],
// an in-memory credential verifier for the password login routes.
//
// Hashes use the PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// with salt and hash in unpadded base64.
//
// [Argon2.NeedsUpgrade] reports hashes made with weaker parameters, and
// [Directory.Verify] rehashes them after a successful check. Unknown usernames
// cost one hash verification like known ones.
//
// Plaintext passwords are never stored or logged.
package password

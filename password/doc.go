// Package password hashes and verifies account passwords.
//
// [Argon2] encodes hashes in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Password policy is not enforced here; callers hand in already-validated input.
package password

// Package password provides password hashing and verification for TeamSync.
//
// It implements Argon2id hashing using a PHC-like encoded string format and includes:
// - Configurable Argon2id parameters (explicit Config, optionally loaded from env)
// - Password policy validation
// - A Hasher that bounds how many slow hashes run at once
// - Verification of legacy bcrypt digests so imported accounts keep working
//
// Security notes:
// - Digests are treated as untrusted input during Verify and are validated accordingly.
// - A wrong password is never an error; only a structurally malformed digest is.
package password

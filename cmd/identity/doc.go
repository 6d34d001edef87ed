// Package identity implements TeamSync's credential store.
//
// Service owns the rules (validation, hashing before persistence, login and
// presence transitions); Store is the persistence boundary with Postgres and
// in-memory implementations. Raw passwords never cross the Store interface:
// only password.Digest values do.
package identity

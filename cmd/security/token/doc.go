// Package token signs and parses TeamSync session tokens.
//
// Tokens are HS256 JWTs keyed by a process-wide secret and carry
// {userId, iat, exp}. The claim names match tokens minted by the previous
// deployment so both can be verified during a migration window.
//
// Parse never touches storage; every failure is classified into exactly one
// Kind so callers can tell expired, tampered and garbage tokens apart.
package token

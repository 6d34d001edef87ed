// Package guard resolves an inbound credential into a Principal.
//
// Mandatory mode rejects with *UnauthenticatedError; optional mode degrades
// every failure to an anonymous Principal. Neither mode touches presence or
// any other persisted state: the only side effect is one identity lookup.
package guard

// Package session issues and verifies session tokens.
//
// A session token is a self-contained HS256 JWT asserting a user id, valid for
// a fixed TokenTTL from issuance. Nothing is persisted: there is no revocation
// list, so expiry is the only way a token stops working. Logging out changes
// presence only.
//
// Verification is pure and in-memory so it can run on every request.
package session

// Package security hashes and verifies login secrets and refresh tokens.
//
// Secret verification is padded to a configurable wall-clock floor so that a
// mismatch, a match and a malformed stored hash all take the same time.
package security

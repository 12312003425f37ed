// Package turnstile is the Go client of the turnstile session service.
//
// The service authenticates identities with a secret, issues short-lived
// access tokens and single-use refresh tokens, and tracks every refresh
// token as a server-side session that can be rotated, revoked or listed.
// HTTPClient implements Client against the service's JSON API.
package turnstile

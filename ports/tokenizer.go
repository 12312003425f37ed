package ports

import "github.com/layer-3/turnstile/core"

// Tokenizer converts between claim sets and signed token strings
type Tokenizer interface {
	// Encode signs claims of the given kind; ExpiresAt must already be set
	Encode(claims core.Claims) (string, error)

	// Decode verifies signature, expiry and kind without touching persisted state
	Decode(token string, expected core.TokenKind) (*core.Claims, error)
}

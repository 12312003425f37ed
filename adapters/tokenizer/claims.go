package tokenizer

import "github.com/golang-jwt/jwt/v5"

// tokenClaims is the JWT body shared by access and refresh tokens
type tokenClaims struct {
	jwt.RegisteredClaims
	Kind string `json:"knd"`
	Role string `json:"rol,omitempty"`
}

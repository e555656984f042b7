package i

import (
	"time"
)

// TokenDecoder verifies tokens issued by the identity service.
type TokenDecoder interface {
	// Decode validates signature, expiry and issuer, returning the claims.
	Decode(token string) (map[string]interface{}, error)
}

// Tokenizer also signs tokens. The server only decodes in production; signing
// is used to mint player tokens for local play and tests.
type Tokenizer interface {
	TokenDecoder
	Generate(claims map[string]interface{}, ttl time.Duration) (string, error)
}

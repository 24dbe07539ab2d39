package idp

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier validates signed tokens against a static key set. Verification is
// deterministic and local; nothing here retries or refreshes keys.
type Verifier struct {
	keys *KeySet
}

func NewVerifier(keys *KeySet) *Verifier {
	return &Verifier{keys: keys}
}

// Verify checks signature, expiry, audience and issuer and returns the token
// payload. Failure modes: ErrKeyNotFound when the header kid has no match in
// the key set, ErrTokenExpired, ErrInvalidClaims on audience/issuer mismatch,
// and ErrMalformedToken for anything else.
func (v *Verifier) Verify(tokenString, audience, issuer string) (map[string]any, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithAudience(audience),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	_, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		key, ok := v.keys.Lookup(kid)
		if !ok {
			return nil, ErrKeyNotFound
		}
		return key, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrKeyNotFound):
			return nil, ErrKeyNotFound
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenInvalidAudience), errors.Is(err, jwt.ErrTokenInvalidIssuer):
			return nil, ErrInvalidClaims
		default:
			return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
		}
	}
	return claims, nil
}

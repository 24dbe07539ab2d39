package idp

import (
	"encoding/json"
	"time"
)

// TokenResult bundles the verified claims of a token response with the raw
// envelope the IdP returned. Treated as immutable once constructed.
type TokenResult struct {
	AccessToken map[string]any
	IDToken     map[string]any
	Raw         map[string]any
}

// Subject returns the IdP's stable identifier for the authenticated identity.
func (t *TokenResult) Subject() string {
	s, _ := t.AccessToken["sub"].(string)
	return s
}

// ExpiresAt returns the access token's expiry instant.
func (t *TokenResult) ExpiresAt() time.Time {
	return time.Unix(claimInt64(t.AccessToken["exp"]), 0).UTC()
}

func (t *TokenResult) Expired() bool {
	return time.Now().After(t.ExpiresAt())
}

func (t *TokenResult) TokenType() string {
	s, _ := t.Raw["token_type"].(string)
	return s
}

func (t *TokenResult) AccessTokenValue() string {
	s, _ := t.Raw["access_token"].(string)
	return s
}

// AuthorizationHeader renders the value for an Authorization header, e.g.
// "Bearer eyJ...".
func (t *TokenResult) AuthorizationHeader() string {
	return t.TokenType() + " " + t.AccessTokenValue()
}

// claimInt64 coerces the numeric representations a claim can take after
// passing through encoding/json or the JWT library.
func claimInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	}
	return 0
}

package idp

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTokenResult_Accessors(t *testing.T) {
	exp := time.Now().Add(10 * time.Minute).Unix()
	result := &TokenResult{
		AccessToken: map[string]any{"sub": "auth|42", "exp": float64(exp)},
		IDToken:     map[string]any{"email": "a@b.test"},
		Raw:         map[string]any{"token_type": "Bearer", "access_token": "raw-jwt"},
	}

	assert.Equal(t, "auth|42", result.Subject())
	assert.Equal(t, time.Unix(exp, 0).UTC(), result.ExpiresAt())
	assert.False(t, result.Expired())
	assert.Equal(t, "Bearer raw-jwt", result.AuthorizationHeader())
}

func TestTokenResult_Expired(t *testing.T) {
	result := &TokenResult{
		AccessToken: map[string]any{"exp": float64(time.Now().Add(-time.Second).Unix())},
	}
	assert.True(t, result.Expired())
}

func TestClaimInt64_Coercions(t *testing.T) {
	assert.Equal(t, int64(7), claimInt64(float64(7)))
	assert.Equal(t, int64(7), claimInt64(int64(7)))
	assert.Equal(t, int64(7), claimInt64(7))
	assert.Equal(t, int64(7), claimInt64(json.Number("7")))
	assert.Equal(t, int64(0), claimInt64(nil))
	assert.Equal(t, int64(0), claimInt64("7"))
}

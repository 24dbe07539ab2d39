package entity

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/trnrg/zeapi-identity-go/internal/idp"
)

// Hashing parameters as recommended by the pbkdf2 docs.
const (
	hashIterations = 100_000
	hashLength     = 32
	saltLength     = 32
)

// CachedCredential caches a verified username/password login so repeated
// basic-auth requests avoid a round-trip to the IdP. At most one live row
// per username; rows are replaced, never updated in place. The row's
// lifetime is bound to the wrapped access token's expiry.
type CachedCredential struct {
	Username    string    `db:"username"`
	Hashed      []byte    `db:"hashed"`
	Salt        []byte    `db:"salt"`
	ExpiresAt   time.Time `db:"expires_at"`
	AccessToken []byte    `db:"access_token"`
	IDToken     []byte    `db:"id_token"`
	Result      []byte    `db:"result"`
}

// NewCachedCredential derives a cache row from a fresh token result, with a
// random salt and expiry equal to the access token's exp claim.
func NewCachedCredential(username, password string, result *idp.TokenResult) (*CachedCredential, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	access, err := json.Marshal(result.AccessToken)
	if err != nil {
		return nil, err
	}
	id, err := json.Marshal(result.IDToken)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(result.Raw)
	if err != nil {
		return nil, err
	}
	return &CachedCredential{
		Username:    username,
		Hashed:      hashPassword(password, salt),
		Salt:        salt,
		ExpiresAt:   result.ExpiresAt(),
		AccessToken: access,
		IDToken:     id,
		Result:      raw,
	}, nil
}

// Expired reports whether the row's lifetime is over at the given instant.
func (c *CachedCredential) Expired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}

// VerifyPassword checks a password against the stored hash in constant time.
func (c *CachedCredential) VerifyPassword(password string) bool {
	return hmac.Equal(hashPassword(password, c.Salt), c.Hashed)
}

// TokenResult reconstructs the cached token result.
func (c *CachedCredential) TokenResult() (*idp.TokenResult, error) {
	var access, id, raw map[string]any
	if err := json.Unmarshal(c.AccessToken, &access); err != nil {
		return nil, fmt.Errorf("decode cached access token: %w", err)
	}
	if err := json.Unmarshal(c.IDToken, &id); err != nil {
		return nil, fmt.Errorf("decode cached id token: %w", err)
	}
	if err := json.Unmarshal(c.Result, &raw); err != nil {
		return nil, fmt.Errorf("decode cached result: %w", err)
	}
	return &idp.TokenResult{AccessToken: access, IDToken: id, Raw: raw}, nil
}

func hashPassword(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, hashIterations, hashLength, sha256.New)
}

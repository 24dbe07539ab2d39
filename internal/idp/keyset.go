package idp

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
)

// JWK is one RSA public-key descriptor from the IdP's published key set.
// Certificate material (x5c/x5t) is carried but not used for verification.
type JWK struct {
	Kty string   `json:"kty"`
	Kid string   `json:"kid"`
	Use string   `json:"use"`
	Alg string   `json:"alg,omitempty"`
	N   string   `json:"n"`
	E   string   `json:"e"`
	X5c []string `json:"x5c,omitempty"`
	X5t string   `json:"x5t,omitempty"`
}

// KeySet is a static, pre-provisioned snapshot of the IdP's signing keys,
// indexed by kid. Rotation is handled by re-provisioning, not at runtime.
type KeySet struct {
	Keys []JWK `json:"keys"`
}

func ParseKeySet(data []byte) (*KeySet, error) {
	var ks KeySet
	if err := json.Unmarshal(data, &ks); err != nil {
		return nil, fmt.Errorf("parse key set: %w", err)
	}
	if len(ks.Keys) == 0 {
		return nil, fmt.Errorf("parse key set: no keys")
	}
	return &ks, nil
}

// LoadKeySet reads a JWKS document from disk.
func LoadKeySet(path string) (*KeySet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load key set: %w", err)
	}
	return ParseKeySet(data)
}

// Lookup returns the public key whose identifier matches kid.
func (ks *KeySet) Lookup(kid string) (*rsa.PublicKey, bool) {
	for _, k := range ks.Keys {
		if k.Kid != kid {
			continue
		}
		n, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			return nil, false
		}
		e, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			return nil, false
		}
		return &rsa.PublicKey{
			N: new(big.Int).SetBytes(n),
			E: int(new(big.Int).SetBytes(e).Int64()),
		}, true
	}
	return nil, false
}

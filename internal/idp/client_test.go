package idp

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testClientID = "client-1"
	testSecret   = "shh"
)

func testClient(srvURL string, ks *KeySet) *Client {
	return NewClient(Config{
		Domain:       srvURL,
		ClientID:     testClientID,
		ClientSecret: testSecret,
		APIAudience:  testAudience,
		Connection:   "Username-Password-Authentication",
	}, ks, zap.NewNop().Sugar())
}

// tokenEnvelope renders a signed token response the way the IdP does.
func tokenEnvelope(t *testing.T, key *rsa.PrivateKey, issuer, audience string, withIDToken bool) map[string]any {
	t.Helper()
	exp := float64(time.Now().Add(time.Hour).Unix())
	access := signToken(t, key, testKid, jwt.MapClaims{
		"sub": "auth|user-1", "aud": audience, "iss": issuer, "exp": exp,
	})
	envelope := map[string]any{
		"access_token": access,
		"token_type":   "Bearer",
		"expires_in":   float64(3600),
		"scope":        "openid",
	}
	if withIDToken {
		envelope["id_token"] = signToken(t, key, testKid, jwt.MapClaims{
			"sub": "auth|user-1", "aud": testClientID, "iss": issuer, "exp": exp,
			"email": "user1@example.test", "name": "User One",
		})
	}
	return envelope
}

func TestClient_PasswordGrant_Success(t *testing.T) {
	key, ks := testKeySet(t)
	var srv *httptest.Server
	var gotBody map[string]any
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/oauth/token", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(tokenEnvelope(t, key, srv.URL+"/", testAudience, true))
	}))
	defer srv.Close()

	client := testClient(srv.URL, ks)
	result, err := client.PasswordGrant(context.Background(), "alice", "pw1")

	require.NoError(t, err)
	assert.Equal(t, "password", gotBody["grant_type"])
	assert.Equal(t, "alice", gotBody["username"])
	assert.Equal(t, "pw1", gotBody["password"])
	assert.Equal(t, testAudience, gotBody["audience"])
	assert.Equal(t, "openid", gotBody["scope"])
	assert.Equal(t, "auth|user-1", result.Subject())
	assert.Equal(t, "user1@example.test", result.IDToken["email"])
	assert.False(t, result.Expired())
}

func TestClient_PasswordGrant_ReauthOn403(t *testing.T) {
	_, ks := testKeySet(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, ks).PasswordGrant(context.Background(), "alice", "bad")

	assert.ErrorIs(t, err, ErrReauthRequired)
}

func TestClient_PasswordGrant_RejectedCarriesBody(t *testing.T) {
	_, ks := testKeySet(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"too_many_attempts"}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, ks).PasswordGrant(context.Background(), "alice", "pw1")

	assert.ErrorIs(t, err, ErrRejected)
	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, http.StatusTooManyRequests, rejected.StatusCode)
	assert.JSONEq(t, `{"error":"too_many_attempts"}`, string(rejected.Body))
}

func TestClient_PasswordGrant_UnavailableOn500(t *testing.T) {
	_, ks := testKeySet(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, ks).PasswordGrant(context.Background(), "alice", "pw1")

	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClient_PasswordGrant_UnavailableOnTransportError(t *testing.T) {
	_, ks := testKeySet(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	_, err := testClient(srv.URL, ks).PasswordGrant(context.Background(), "alice", "pw1")

	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClient_ClientCredentialsGrant(t *testing.T) {
	key, ks := testKeySet(t)
	audience := "https://mgmt.example.test/"
	var srv *httptest.Server
	var gotBody map[string]any
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(tokenEnvelope(t, key, srv.URL+"/", audience, false))
	}))
	defer srv.Close()

	result, err := testClient(srv.URL, ks).ClientCredentialsGrant(context.Background(), audience)

	require.NoError(t, err)
	assert.Equal(t, "client_credentials", gotBody["grant_type"])
	assert.Equal(t, audience, gotBody["audience"])
	assert.Empty(t, result.IDToken)
	assert.Equal(t, "auth|user-1", result.Subject())
}

func TestClient_BearerTokenResult(t *testing.T) {
	key, ks := testKeySet(t)
	client := NewClient(Config{
		Domain:      "idp.example.test",
		APIAudience: testAudience,
	}, ks, zap.NewNop().Sugar())
	token := signToken(t, key, testKid, jwt.MapClaims{
		"sub": "auth|user-9", "aud": testAudience, "iss": "https://idp.example.test/",
		"exp": float64(time.Now().Add(time.Minute).Unix()),
	})

	result, err := client.BearerTokenResult(token)

	require.NoError(t, err)
	assert.Equal(t, "auth|user-9", result.Subject())
	assert.Equal(t, token, result.AccessTokenValue())

	_, err = client.BearerTokenResult("garbage")
	assert.True(t, errors.Is(err, ErrMalformedToken))
}

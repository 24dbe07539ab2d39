package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

type Config struct {
	Domain       string
	ClientID     string
	ClientSecret string
	APIAudience  string
	Connection   string
	JWKSPath     string
}

// ConfigFromEnv reads IdP settings from environment variables.
func ConfigFromEnv() Config {
	connection := os.Getenv("AUTH0_UP_CONNECTION_NAME")
	if connection == "" {
		connection = "Username-Password-Authentication"
	}
	return Config{
		Domain:       os.Getenv("AUTH0_DOMAIN"),
		ClientID:     os.Getenv("AUTH0_CLIENT_ID"),
		ClientSecret: os.Getenv("AUTH0_CLIENT_SECRET"),
		APIAudience:  os.Getenv("AUTH0_API_AUDIENCE"),
		Connection:   connection,
		JWKSPath:     os.Getenv("JWKS_PATH"),
	}
}

// Client talks to the OAuth2/OIDC identity provider. It holds the key set
// snapshot (via its Verifier) and an HTTP client, and is constructed once at
// process start and passed to every call site.
type Client struct {
	cfg      Config
	baseURL  string
	http     *http.Client
	verifier *Verifier
	log      *zap.SugaredLogger
}

func NewClient(cfg Config, keys *KeySet, log *zap.SugaredLogger) *Client {
	// Domain is usually a bare host; a full URL is accepted for local setups.
	base := cfg.Domain
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	return &Client{
		cfg:      cfg,
		baseURL:  strings.TrimSuffix(base, "/") + "/",
		http:     &http.Client{Timeout: 30 * time.Second},
		verifier: NewVerifier(keys),
		log:      log,
	}
}

// URL joins a path onto the IdP base URL.
func (c *Client) URL(path string) string { return c.baseURL + path }

// Issuer is the expected iss claim of tokens minted by this IdP.
func (c *Client) Issuer() string { return c.baseURL }

func (c *Client) Verifier() *Verifier { return c.verifier }

// PasswordGrant exchanges end-user credentials for a token result. A 403
// means the IdP wants an interactive re-login (ErrReauthRequired); other
// non-2xx statuses follow the shared classification.
func (c *Client) PasswordGrant(ctx context.Context, username, password string) (*TokenResult, error) {
	status, body, err := c.doJSON(ctx, http.MethodPost, c.URL("oauth/token"), map[string]any{
		"grant_type":    "password",
		"username":      username,
		"password":      password,
		"audience":      c.cfg.APIAudience,
		"client_id":     c.cfg.ClientID,
		"scope":         "openid",
		"client_secret": c.cfg.ClientSecret,
	}, "")
	if err != nil {
		return nil, err
	}
	if status == http.StatusForbidden {
		c.log.Infow("password grant requires interactive re-login", "username", username)
		return nil, fmt.Errorf("%w: %s", ErrReauthRequired, body)
	}
	if err := classifyStatus(status, body); err != nil {
		return nil, err
	}
	return c.tokenResult(body, c.cfg.APIAudience)
}

// ClientCredentialsGrant exchanges service credentials for a token result
// scoped to the given audience. The envelope carries no id_token.
func (c *Client) ClientCredentialsGrant(ctx context.Context, audience string) (*TokenResult, error) {
	status, body, err := c.doJSON(ctx, http.MethodPost, c.URL("oauth/token"), map[string]any{
		"grant_type":    "client_credentials",
		"client_id":     c.cfg.ClientID,
		"client_secret": c.cfg.ClientSecret,
		"audience":      audience,
	}, "")
	if err != nil {
		return nil, err
	}
	if err := classifyStatus(status, body); err != nil {
		return nil, err
	}
	return c.tokenResult(body, audience)
}

// BearerTokenResult wraps an already-issued access token from an
// Authorization header into a TokenResult, verifying it on the way.
func (c *Client) BearerTokenResult(token string) (*TokenResult, error) {
	claims, err := c.verifier.Verify(token, c.cfg.APIAudience, c.Issuer())
	if err != nil {
		return nil, err
	}
	return &TokenResult{
		AccessToken: claims,
		IDToken:     map[string]any{},
		Raw:         map[string]any{"access_token": token},
	}, nil
}

// tokenResult verifies the tokens in an IdP envelope and assembles a
// TokenResult. The access token is checked against the given audience, the
// id_token (when present) against the client ID.
func (c *Client) tokenResult(body []byte, audience string) (*TokenResult, error) {
	var envelope map[string]any
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: decode token response: %v", ErrMalformedToken, err)
	}
	accessToken, _ := envelope["access_token"].(string)
	if accessToken == "" {
		return nil, fmt.Errorf("%w: token response missing access_token", ErrMalformedToken)
	}
	accessClaims, err := c.verifier.Verify(accessToken, audience, c.Issuer())
	if err != nil {
		return nil, err
	}
	idClaims := map[string]any{}
	if idToken, ok := envelope["id_token"].(string); ok && idToken != "" {
		idClaims, err = c.verifier.Verify(idToken, c.cfg.ClientID, c.Issuer())
		if err != nil {
			return nil, err
		}
	}
	return &TokenResult{AccessToken: accessClaims, IDToken: idClaims, Raw: envelope}, nil
}

// doJSON issues one HTTP request with an optional JSON payload and optional
// Authorization header, returning status and body. Transport failures map to
// ErrUnavailable.
func (c *Client) doJSON(ctx context.Context, method, url string, payload any, authorization string) (int, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		reqBody = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	return resp.StatusCode, body, nil
}

package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// renewalMargin is how long before actual expiry the management token is
// proactively renewed.
const renewalMargin = 30 * time.Minute

// ManagementAPI holds one cached server-identity token for calling the IdP's
// administrative API and renews it ahead of expiry. Concurrent renewals are
// tolerated (worst case a redundant grant), so there is no locking here.
type ManagementAPI struct {
	client   *Client
	audience string
	usersURL string
	current  *TokenResult
	log      *zap.SugaredLogger
}

func NewManagementAPI(client *Client, log *zap.SugaredLogger) *ManagementAPI {
	return &ManagementAPI{
		client:   client,
		audience: client.URL("api/v2/"),
		usersURL: client.URL("api/v2/users"),
		log:      log,
	}
}

// AuthorizationHeader returns the header value for the current management
// token, acquiring or renewing it first when absent or expiring within the
// renewal margin.
func (m *ManagementAPI) AuthorizationHeader(ctx context.Context) (string, error) {
	if m.current == nil {
		if err := m.renew(ctx); err != nil {
			return "", err
		}
	} else if time.Now().Add(renewalMargin).After(m.current.ExpiresAt()) {
		m.log.Debugw("management token expires soon, renewing",
			"expires_at", m.current.ExpiresAt())
		if err := m.renew(ctx); err != nil {
			return "", err
		}
	}
	return m.current.AuthorizationHeader(), nil
}

func (m *ManagementAPI) renew(ctx context.Context) error {
	result, err := m.client.ClientCredentialsGrant(ctx, m.audience)
	if err != nil {
		m.log.Warnw("failed to get token for management api", "error", err)
		return err
	}
	m.current = result
	return nil
}

// GetUserInfo fetches the full profile for a subject. A missing sub field is
// backfilled from user_id to paste over the difference between the admin API
// response and an id_token.
func (m *ManagementAPI) GetUserInfo(ctx context.Context, subject string) (map[string]any, error) {
	header, err := m.AuthorizationHeader(ctx)
	if err != nil {
		return nil, err
	}
	status, body, err := m.client.doJSON(ctx, http.MethodGet,
		m.usersURL+"/"+url.PathEscape(subject), nil, header)
	if err != nil {
		return nil, err
	}
	if err := classifyStatus(status, body); err != nil {
		return nil, err
	}
	var info map[string]any
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	if _, ok := info["sub"]; !ok {
		info["sub"] = info["user_id"]
	}
	return info, nil
}

// CreateUser provisions a user in the IdP's username/password connection,
// storing the given profile as user_metadata.
func (m *ManagementAPI) CreateUser(ctx context.Context, email, password string, userMetadata map[string]any) (map[string]any, error) {
	header, err := m.AuthorizationHeader(ctx)
	if err != nil {
		return nil, err
	}
	status, body, err := m.client.doJSON(ctx, http.MethodPost, m.usersURL, map[string]any{
		"email":         email,
		"password":      password,
		"connection":    m.client.cfg.Connection,
		"user_metadata": userMetadata,
	}, header)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		m.log.Warnw("user creation rejected by identity provider",
			"status", status, "email", email, "response", string(body))
	}
	if err := classifyStatus(status, body); err != nil {
		return nil, err
	}
	var created map[string]any
	if err := json.Unmarshal(body, &created); err != nil {
		return nil, fmt.Errorf("decode created user: %w", err)
	}
	return created, nil
}

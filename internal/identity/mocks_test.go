package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/trnrg/zeapi-identity-go/internal/idp"
	"github.com/trnrg/zeapi-identity-go/internal/identity/entity"
	"github.com/trnrg/zeapi-identity-go/pkg/database"
)

// mockStore keeps everything in maps and ignores the session; the unit of
// work under test never touches a real database.
type mockStore struct {
	mappings map[string]*entity.Mapping
	users    map[int64]*entity.User
	creds    map[string]*entity.CachedCredential

	insertedUsers    []int64
	updatedUsers     []int64
	insertedMappings []entity.Mapping
	deletedCreds     []string
}

func newMockStore() *mockStore {
	return &mockStore{
		mappings: map[string]*entity.Mapping{},
		users:    map[int64]*entity.User{},
		creds:    map[string]*entity.CachedCredential{},
	}
}

func (m *mockStore) MappingBySubject(_ context.Context, _ *database.Session, subject string) (*entity.Mapping, error) {
	return m.mappings[subject], nil
}

func (m *mockStore) InsertMapping(_ context.Context, _ *database.Session, mp *entity.Mapping) error {
	m.mappings[mp.Subject] = mp
	m.insertedMappings = append(m.insertedMappings, *mp)
	return nil
}

func (m *mockStore) UserByID(_ context.Context, _ *database.Session, id int64) (*entity.User, error) {
	return m.users[id], nil
}

func (m *mockStore) UserByEmail(_ context.Context, _ *database.Session, email string) (*entity.User, error) {
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return nil, nil
}

func (m *mockStore) InsertUser(_ context.Context, _ *database.Session, u *entity.User) error {
	m.users[u.ID] = u
	m.insertedUsers = append(m.insertedUsers, u.ID)
	return nil
}

func (m *mockStore) UpdateUser(_ context.Context, _ *database.Session, u *entity.User) error {
	m.users[u.ID] = u
	m.updatedUsers = append(m.updatedUsers, u.ID)
	return nil
}

func (m *mockStore) CredentialByUsername(_ context.Context, _ *database.Session, username string) (*entity.CachedCredential, error) {
	return m.creds[username], nil
}

func (m *mockStore) PrunableCredentials(_ context.Context, _ *database.Session, now time.Time) ([]entity.CachedCredential, error) {
	var out []entity.CachedCredential
	for _, c := range m.creds {
		if c.Expired(now) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *mockStore) DeleteCredential(_ context.Context, _ *database.Session, username string) (bool, error) {
	if _, ok := m.creds[username]; !ok {
		return false, nil
	}
	delete(m.creds, username)
	m.deletedCreds = append(m.deletedCreds, username)
	return true, nil
}

func (m *mockStore) InsertCredential(_ context.Context, _ *database.Session, c *entity.CachedCredential) error {
	m.creds[c.Username] = c
	return nil
}

type mockProfiles struct {
	profiles map[string]map[string]any
	calls    int
	err      error
}

func (m *mockProfiles) GetUserInfo(_ context.Context, subject string) (map[string]any, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.profiles[subject]
	if !ok {
		return nil, fmt.Errorf("no such user: %s", subject)
	}
	return p, nil
}

type mockTokens struct {
	grantResult *idp.TokenResult
	grantErr    error
	grantCalls  int

	bearerResult *idp.TokenResult
	bearerErr    error
}

func (m *mockTokens) PasswordGrant(_ context.Context, _, _ string) (*idp.TokenResult, error) {
	m.grantCalls++
	return m.grantResult, m.grantErr
}

func (m *mockTokens) BearerTokenResult(_ string) (*idp.TokenResult, error) {
	return m.bearerResult, m.bearerErr
}

// grantResultFor builds a token result with verified-claim shapes: numeric
// claims come back from JWT parsing as float64.
func grantResultFor(subject, email, name string, ttl time.Duration) *idp.TokenResult {
	exp := float64(time.Now().Add(ttl).Unix())
	return &idp.TokenResult{
		AccessToken: map[string]any{"sub": subject, "exp": exp},
		IDToken:     map[string]any{"sub": subject, "email": email, "name": name, "exp": exp},
		Raw:         map[string]any{"token_type": "Bearer", "access_token": "grant-jwt", "expires_in": float64(ttl / time.Second)},
	}
}

package identity

import (
	"net/http"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/trnrg/zeapi-identity-go/internal/idp"
	"github.com/trnrg/zeapi-identity-go/internal/identity/entity"
	"github.com/trnrg/zeapi-identity-go/pkg/database"
)

// Method is one way of authenticating an inbound request. A nil user with a
// nil error means the method does not apply to this request and the next
// one should be tried.
type Method interface {
	TryAuthenticate(r *http.Request) (*entity.User, error)
}

// BasicAuth authenticates requests carrying an HTTP basic-auth header.
type BasicAuth struct {
	auth *Authenticator
	db   *sqlx.DB
	log  *zap.SugaredLogger
}

func NewBasicAuth(auth *Authenticator, db *sqlx.DB, log *zap.SugaredLogger) *BasicAuth {
	return &BasicAuth{auth: auth, db: db, log: log}
}

// AuthResult runs the password flow for a request, returning the user and
// the token result for callers that need the token envelope (the login
// endpoint). Requests without basic-auth credentials yield all nils.
func (b *BasicAuth) AuthResult(r *http.Request) (*entity.User, *idp.TokenResult, error) {
	username, password, ok := r.BasicAuth()
	if !ok {
		return nil, nil, nil
	}
	uw := database.NewUnitOfWork(b.db)
	user, result, err := b.auth.Authenticate(r.Context(), uw, username, password)
	if err != nil {
		b.log.Infow("basic auth failed", "username", username, "error", err)
		return nil, nil, err
	}
	return user, result, nil
}

func (b *BasicAuth) TryAuthenticate(r *http.Request) (*entity.User, error) {
	user, _, err := b.AuthResult(r)
	return user, err
}

// TokenResultSource verifies a raw bearer token into a token result.
type TokenResultSource interface {
	BearerTokenResult(token string) (*idp.TokenResult, error)
}

// BearerAuth authenticates requests carrying a bearer access token.
type BearerAuth struct {
	tokens     TokenResultSource
	reconciler *Reconciler
	db         *sqlx.DB
	log        *zap.SugaredLogger
}

func NewBearerAuth(tokens TokenResultSource, reconciler *Reconciler, db *sqlx.DB, log *zap.SugaredLogger) *BearerAuth {
	return &BearerAuth{tokens: tokens, reconciler: reconciler, db: db, log: log}
}

func (b *BearerAuth) TryAuthenticate(r *http.Request) (*entity.User, error) {
	token := BearerToken(r)
	if token == "" {
		return nil, nil
	}
	result, err := b.tokens.BearerTokenResult(token)
	if err != nil {
		return nil, err
	}
	uw := database.NewUnitOfWork(b.db)
	user, _, err := b.reconciler.Resolve(r.Context(), uw, result.Subject(), nil)
	return user, err
}

// BearerToken extracts the token from an Authorization header. The scheme
// match is case-insensitive and the header is split on the first space.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(strings.ToLower(header), "bearer") {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	return parts[1]
}

// RequestAuthenticator tries each authentication method in order and
// returns the first authenticated user. Methods that do not apply are
// skipped; a method that applies but fails aborts the chain.
type RequestAuthenticator struct {
	methods []Method
	log     *zap.SugaredLogger
}

func NewRequestAuthenticator(log *zap.SugaredLogger, methods ...Method) *RequestAuthenticator {
	return &RequestAuthenticator{methods: methods, log: log}
}

// Authenticate returns the user for the request, or (nil, nil) when no
// method produced one.
func (ra *RequestAuthenticator) Authenticate(r *http.Request) (*entity.User, error) {
	for _, m := range ra.methods {
		user, err := m.TryAuthenticate(r)
		if err != nil {
			return nil, err
		}
		if user != nil {
			return user, nil
		}
	}

	if r.Header.Get("Authorization") != "" {
		username, _, _ := r.BasicAuth()
		ra.log.Warnw("failed login", "username", username)
	}
	return nil, nil
}

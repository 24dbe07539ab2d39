package identity

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/trnrg/zeapi-identity-go/internal/idp"
	"github.com/trnrg/zeapi-identity-go/internal/identity/entity"
	"github.com/trnrg/zeapi-identity-go/pkg/database"
)

// TokenSource performs the IdP password grant.
type TokenSource interface {
	PasswordGrant(ctx context.Context, username, password string) (*idp.TokenResult, error)
}

// Authenticator orchestrates password-based login: credential-cache lookup,
// IdP password grant, cache write, then identity reconciliation.
type Authenticator struct {
	store      Store
	tokens     TokenSource
	reconciler *Reconciler
	log        *zap.SugaredLogger
}

func NewAuthenticator(store Store, tokens TokenSource, reconciler *Reconciler, log *zap.SugaredLogger) *Authenticator {
	return &Authenticator{store: store, tokens: tokens, reconciler: reconciler, log: log}
}

// Authenticate verifies a username/password pair and returns the resolved
// local user together with the token result backing the login.
func (a *Authenticator) Authenticate(ctx context.Context, uw *database.UnitOfWork, username, password string) (*entity.User, *idp.TokenResult, error) {
	result, err := a.cachedTokenResult(ctx, uw, username, password)
	if err != nil {
		return nil, nil, err
	}
	if result == nil {
		result, err = a.fetchAndCacheToken(ctx, uw, username, password)
		if err != nil {
			return nil, nil, err
		}
	}

	user, _, err := a.reconciler.Resolve(ctx, uw, result.Subject(), result.IDToken)
	if err != nil {
		return nil, nil, err
	}
	return user, result, nil
}

// cachedTokenResult returns the cached token for this username when the row
// is live and the password matches its hash. Any miss returns (nil, nil):
// expiry and hash mismatch both fall through to the IdP.
func (a *Authenticator) cachedTokenResult(ctx context.Context, uw *database.UnitOfWork, username, password string) (result *idp.TokenResult, err error) {
	scope := uw.Acquire()
	defer scope.Release(&err)

	cred, err := a.store.CredentialByUsername(ctx, scope.Session(), username)
	if err != nil || cred == nil {
		return nil, err
	}
	if cred.Expired(time.Now()) {
		a.log.Infow("cached credential expired", "username", username,
			"expires_at", cred.ExpiresAt)
		return nil, nil
	}
	if !cred.VerifyPassword(password) {
		a.log.Warnw("cached credential hash mismatch", "username", username)
		return nil, nil
	}
	return cred.TokenResult()
}

// fetchAndCacheToken performs the password grant and replaces the cache row
// for this username. Pruning of expired rows, eviction of the current row
// and the insert all happen inside one transactional scope.
func (a *Authenticator) fetchAndCacheToken(ctx context.Context, uw *database.UnitOfWork, username, password string) (result *idp.TokenResult, err error) {
	result, err = a.tokens.PasswordGrant(ctx, username, password)
	if err != nil {
		return nil, err
	}

	scope := uw.Acquire()
	defer scope.Release(&err)
	s := scope.Session()

	prunable, err := a.store.PrunableCredentials(ctx, s, time.Now())
	if err != nil {
		return nil, err
	}
	for i := range prunable {
		p := &prunable[i]
		a.log.Infow("pruning expired credential", "username", p.Username,
			"expires_at", p.ExpiresAt)
		if _, err = a.store.DeleteCredential(ctx, s, p.Username); err != nil {
			return nil, err
		}
	}
	if len(prunable) > 0 {
		if err = s.Commit(); err != nil {
			return nil, err
		}
	}

	// The cache is strictly single-entry-per-username: any current row is
	// evicted even if it has not expired yet.
	deleted, err := a.store.DeleteCredential(ctx, s, username)
	if err != nil {
		return nil, err
	}
	if deleted {
		a.log.Infow("forcefully expired cached credential", "username", username)
	}

	cred, err := entity.NewCachedCredential(username, password, result)
	if err != nil {
		return nil, err
	}
	if err = a.store.InsertCredential(ctx, s, cred); err != nil {
		return nil, err
	}
	if err = s.Commit(); err != nil {
		return nil, err
	}
	return result, nil
}

package identity

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/trnrg/zeapi-identity-go/internal/identity/entity"
	"github.com/trnrg/zeapi-identity-go/pkg/database"
	"github.com/trnrg/zeapi-identity-go/pkg/utilities"
)

// ProfileService fetches full user profiles from the IdP's management API.
type ProfileService interface {
	GetUserInfo(ctx context.Context, subject string) (map[string]any, error)
}

// Reconciler resolves an IdP subject to a local user, creating or updating
// records as needed. The same algorithm serves the password and bearer
// paths; the IdP is authoritative for profile data.
type Reconciler struct {
	store    Store
	profiles ProfileService
	log      *zap.SugaredLogger
}

func NewReconciler(store Store, profiles ProfileService, log *zap.SugaredLogger) *Reconciler {
	return &Reconciler{store: store, profiles: profiles, log: log}
}

// Resolve maps subject to a local user and returns it along with whether it
// was newly created. claims are the verified id_token claims when the caller
// has them (password path) and drive the profile refresh of an
// already-mapped user; they are not a full profile, so linking or creating a
// user always fetches one from the management API.
//
// Retrying after a partial failure is safe: the subject and email lookups
// make the flow idempotent.
func (r *Reconciler) Resolve(ctx context.Context, uw *database.UnitOfWork, subject string, claims map[string]any) (user *entity.User, isNew bool, err error) {
	scope := uw.Acquire()
	defer scope.Release(&err)
	s := scope.Session()

	mapping, err := r.store.MappingBySubject(ctx, s, subject)
	if err != nil {
		return nil, false, err
	}

	if mapping != nil {
		user, err = r.store.UserByID(ctx, s, mapping.UserID)
		if err != nil {
			return nil, false, err
		}
		if user == nil {
			return nil, false, fmt.Errorf("mapping for %s references missing user %d", subject, mapping.UserID)
		}
		if len(claims) > 0 {
			if err = r.refreshUser(ctx, s, user, claims); err != nil {
				return nil, false, err
			}
		}
		if err = s.Commit(); err != nil {
			return nil, false, err
		}
		return user, false, nil
	}

	profile, err := r.profiles.GetUserInfo(ctx, subject)
	if err != nil {
		return nil, false, err
	}
	r.log.Infow("no mapping for authenticated subject, fetched profile",
		"subject", subject)
	fields := entity.RelevantProfileFields(profile)
	email, _ := fields["email"].(string)
	if email == "" {
		return nil, false, fmt.Errorf("profile for subject %s carries no email", subject)
	}

	user, err = r.store.UserByEmail(ctx, s, email)
	if err != nil {
		return nil, false, err
	}

	if user != nil {
		// Pre-existing account without a mapping: refresh and link it.
		r.log.Warnw("user already existed, refreshed values and adding mapping",
			"email", email, "subject", subject)
		if err = r.refreshUser(ctx, s, user, profile); err != nil {
			return nil, false, err
		}
		if err = r.store.InsertMapping(ctx, s, &entity.Mapping{UserID: user.ID, Subject: subject}); err != nil {
			return nil, false, err
		}
		if err = s.Commit(); err != nil {
			return nil, false, err
		}
		return user, false, nil
	}

	user = entity.NewUserFromProfile(fields)
	user.ID = utilities.NewID()
	if err = r.store.InsertUser(ctx, s, user); err != nil {
		return nil, false, err
	}
	if err = r.store.InsertMapping(ctx, s, &entity.Mapping{UserID: user.ID, Subject: subject}); err != nil {
		return nil, false, err
	}
	if err = s.Commit(); err != nil {
		return nil, false, err
	}
	return user, true, nil
}

// refreshUser applies a field-by-field diff of the profile onto the user
// and persists only when something actually changed.
func (r *Reconciler) refreshUser(ctx context.Context, s *database.Session, user *entity.User, profile map[string]any) error {
	changed := user.ApplyProfile(entity.RelevantProfileFields(profile))
	if len(changed) == 0 {
		return nil
	}
	r.log.Infow("refreshing user from profile",
		"user_id", user.ID, "fields", changed)
	return r.store.UpdateUser(ctx, s, user)
}

package identity

import (
	"context"
	"time"

	"github.com/trnrg/zeapi-identity-go/internal/identity/entity"
	"github.com/trnrg/zeapi-identity-go/pkg/database"
)

// Store is the persistence port for users, subject mappings and cached
// credentials. All row operations run inside the caller's unit-of-work
// session. Lookups return (nil, nil) when no row matches.
type Store interface {
	MappingBySubject(ctx context.Context, s *database.Session, subject string) (*entity.Mapping, error)
	InsertMapping(ctx context.Context, s *database.Session, m *entity.Mapping) error

	UserByID(ctx context.Context, s *database.Session, id int64) (*entity.User, error)
	// UserByEmail matches email case-insensitively.
	UserByEmail(ctx context.Context, s *database.Session, email string) (*entity.User, error)
	InsertUser(ctx context.Context, s *database.Session, u *entity.User) error
	UpdateUser(ctx context.Context, s *database.Session, u *entity.User) error

	CredentialByUsername(ctx context.Context, s *database.Session, username string) (*entity.CachedCredential, error)
	// PrunableCredentials lists every row whose expiry is at or before now.
	PrunableCredentials(ctx context.Context, s *database.Session, now time.Time) ([]entity.CachedCredential, error)
	DeleteCredential(ctx context.Context, s *database.Session, username string) (bool, error)
	InsertCredential(ctx context.Context, s *database.Session, c *entity.CachedCredential) error
}

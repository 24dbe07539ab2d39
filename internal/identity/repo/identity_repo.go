package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/trnrg/zeapi-identity-go/internal/identity"
	"github.com/trnrg/zeapi-identity-go/internal/identity/entity"
	"github.com/trnrg/zeapi-identity-go/pkg/database"
)

var _ identity.Store = (*IdentityRepo)(nil)

// IdentityRepo provides data access for users, subject mappings and the
// credential cache. Row operations go through the caller's unit-of-work
// session so a whole login flow shares one transaction scope.
type IdentityRepo struct {
	db *sqlx.DB
}

func NewIdentityRepo(db *sqlx.DB) *IdentityRepo { return &IdentityRepo{db: db} }

// EnsureTables creates the identity tables if not exists (idempotent).
// This is a convenience for early development; prefer migrations in production.
func (r *IdentityRepo) EnsureTables(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS users (
  id BIGINT PRIMARY KEY,
  name TEXT NOT NULL,
  phone TEXT,
  email TEXT NOT NULL,
  locale TEXT,
  terms_accept BOOLEAN,
  terms_accept_at TIMESTAMPTZ,
  created TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email_lower ON users (lower(email));
CREATE TABLE IF NOT EXISTS idp_mapping (
  user_id BIGINT PRIMARY KEY REFERENCES users(id),
  subject TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_idp_mapping_subject ON idp_mapping(subject);
CREATE TABLE IF NOT EXISTS credential_cache (
  username TEXT PRIMARY KEY,
  hashed BYTEA,
  salt BYTEA,
  expires_at TIMESTAMPTZ,
  access_token JSONB,
  id_token JSONB,
  result JSONB
);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

func (r *IdentityRepo) MappingBySubject(ctx context.Context, s *database.Session, subject string) (*entity.Mapping, error) {
	const q = `SELECT user_id, subject FROM idp_mapping WHERE subject=$1`
	var m entity.Mapping
	if err := s.GetContext(ctx, &m, q, subject); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

func (r *IdentityRepo) InsertMapping(ctx context.Context, s *database.Session, m *entity.Mapping) error {
	const q = `INSERT INTO idp_mapping (user_id, subject) VALUES ($1, $2)`
	_, err := s.ExecContext(ctx, q, m.UserID, m.Subject)
	return err
}

func (r *IdentityRepo) UserByID(ctx context.Context, s *database.Session, id int64) (*entity.User, error) {
	const q = `SELECT id, name, phone, email, locale, terms_accept, terms_accept_at, created, updated
	  FROM users WHERE id=$1`
	var u entity.User
	if err := s.GetContext(ctx, &u, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (r *IdentityRepo) UserByEmail(ctx context.Context, s *database.Session, email string) (*entity.User, error) {
	const q = `SELECT id, name, phone, email, locale, terms_accept, terms_accept_at, created, updated
	  FROM users WHERE lower(email)=lower($1)`
	var u entity.User
	if err := s.GetContext(ctx, &u, q, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (r *IdentityRepo) InsertUser(ctx context.Context, s *database.Session, u *entity.User) error {
	const q = `INSERT INTO users (id, name, phone, email, locale, terms_accept, terms_accept_at)
	  VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.ExecContext(ctx, q,
		u.ID, u.Name, u.Phone, u.Email, u.Locale, u.TermsAccept, u.TermsAcceptAt)
	return err
}

func (r *IdentityRepo) UpdateUser(ctx context.Context, s *database.Session, u *entity.User) error {
	const q = `UPDATE users SET name=$2, phone=$3, email=$4, locale=$5,
	  terms_accept=$6, terms_accept_at=$7, updated=NOW() WHERE id=$1`
	_, err := s.ExecContext(ctx, q,
		u.ID, u.Name, u.Phone, u.Email, u.Locale, u.TermsAccept, u.TermsAcceptAt)
	return err
}

func (r *IdentityRepo) CredentialByUsername(ctx context.Context, s *database.Session, username string) (*entity.CachedCredential, error) {
	const q = `SELECT username, hashed, salt, expires_at, access_token, id_token, result
	  FROM credential_cache WHERE username=$1`
	var c entity.CachedCredential
	if err := s.GetContext(ctx, &c, q, username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (r *IdentityRepo) PrunableCredentials(ctx context.Context, s *database.Session, now time.Time) ([]entity.CachedCredential, error) {
	const q = `SELECT username, hashed, salt, expires_at, access_token, id_token, result
	  FROM credential_cache WHERE expires_at <= $1`
	var rows []entity.CachedCredential
	if err := s.SelectContext(ctx, &rows, q, now); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *IdentityRepo) DeleteCredential(ctx context.Context, s *database.Session, username string) (bool, error) {
	const q = `DELETE FROM credential_cache WHERE username=$1`
	res, err := s.ExecContext(ctx, q, username)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *IdentityRepo) InsertCredential(ctx context.Context, s *database.Session, c *entity.CachedCredential) error {
	// claim documents are carried as raw JSON; cast so pq's bytea encoding
	// does not fight the jsonb columns
	const q = `INSERT INTO credential_cache (username, hashed, salt, expires_at, access_token, id_token, result)
	  VALUES ($1, $2, $3, $4, $5::jsonb, $6::jsonb, $7::jsonb)`
	_, err := s.ExecContext(ctx, q,
		c.Username, c.Hashed, c.Salt, c.ExpiresAt,
		string(c.AccessToken), string(c.IDToken), string(c.Result))
	return err
}

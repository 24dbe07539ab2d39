package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// ErrDirtySession signals a programming error: a transactional scope was
// exited without committing pending writes. It must not be suppressed.
var ErrDirtySession = errors.New("dirty session: uncommitted changes at end of transactional scope")

// UnitOfWork is a request-scoped, reentrant transactional scope over a
// database. The first Acquire opens a Session; nested Acquires reuse it.
// There are no savepoints: all nested scopes see one flat transaction.
//
// A UnitOfWork is not safe for concurrent use; create one per request.
type UnitOfWork struct {
	db      *sqlx.DB
	session *Session
	nesting int
}

func NewUnitOfWork(db *sqlx.DB) *UnitOfWork {
	return &UnitOfWork{db: db}
}

// Acquire enters the transactional scope. The returned Scope must be
// released on every exit path:
//
//	scope := uw.Acquire()
//	defer scope.Release(&err)
func (u *UnitOfWork) Acquire() *Scope {
	if u.nesting == 0 {
		u.session = &Session{db: u.db}
	}
	u.nesting++
	return &Scope{uow: u, session: u.session}
}

// Scope is the guard value for one Acquire.
type Scope struct {
	uow      *UnitOfWork
	session  *Session
	released bool
}

func (sc *Scope) Session() *Session { return sc.session }

// Release exits the scope. Only the outermost release closes the session.
// If no error is propagating (*errp == nil) and the session still holds
// uncommitted writes, *errp is set to ErrDirtySession: every code path is
// required to commit before leaving the outermost scope. When an error is
// already in flight the dirty check is skipped and the session is simply
// rolled back.
func (sc *Scope) Release(errp *error) {
	if sc.released {
		return
	}
	sc.released = true

	u := sc.uow
	u.nesting--
	if u.nesting > 0 {
		return
	}

	s := u.session
	u.session = nil
	dirty := s.Dirty()
	pending := s.pending
	closeErr := s.close()

	if errp == nil || *errp != nil {
		return
	}
	if dirty {
		*errp = fmt.Errorf("%w: %d pending write(s)", ErrDirtySession, pending)
		return
	}
	if closeErr != nil {
		*errp = closeErr
	}
}

// Session is the shared transaction of one unit of work. A transaction is
// begun lazily on first use and a new one begins after each Commit, so a
// scope may contain several commit points. Writes issued through
// ExecContext are counted as pending until committed.
type Session struct {
	db      *sqlx.DB
	tx      *sqlx.Tx
	pending int
}

func (s *Session) begin(ctx context.Context) (*sqlx.Tx, error) {
	if s.tx == nil {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("begin tx: %w", err)
		}
		s.tx = tx
	}
	return s.tx, nil
}

// GetContext runs a single-row query inside the session transaction.
func (s *Session) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	return tx.GetContext(ctx, dest, query, args...)
}

// SelectContext runs a multi-row query inside the session transaction.
func (s *Session) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	return tx.SelectContext(ctx, dest, query, args...)
}

// ExecContext runs a statement inside the session transaction and marks the
// session dirty until the next Commit.
func (s *Session) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	s.pending++
	return res, nil
}

// Commit commits the current transaction, if any, and clears the pending
// counter. Subsequent operations begin a fresh transaction.
func (s *Session) Commit() error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.Commit()
	s.tx = nil
	s.pending = 0
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Dirty reports whether the session holds writes that were never committed.
func (s *Session) Dirty() bool { return s.pending > 0 }

func (s *Session) close() error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.Rollback()
	s.tx = nil
	s.pending = 0
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

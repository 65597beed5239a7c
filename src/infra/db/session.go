package db

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// sessionState tracks the unit-of-work lifecycle:
// created -> active -> {committed | rolled back} -> released.
// Released is terminal; a released session must never be reused.
type sessionState int

const (
	stateCreated sessionState = iota
	stateActive
	stateCommitted
	stateRolledBack
	stateReleased
)

func (s sessionState) String() string {
	switch s {
	case stateCreated:
		return "created"
	case stateActive:
		return "active"
	case stateCommitted:
		return "committed"
	case stateRolledBack:
		return "rolled_back"
	case stateReleased:
		return "released"
	default:
		return "unknown"
	}
}

// Session is one unit-of-work's exclusive use of a checked-out connection.
// A session belongs to a single logical operation: it must not be shared
// across concurrent goroutines. Release always returns the connection to
// the pool, whether the work committed, failed or was cancelled.
type Session struct {
	id     uuid.UUID
	engine *Engine
	conn   *pgxpool.Conn
	tx     pgx.Tx
	state  sessionState

	// invalid is set when a connection-level failure is observed; the
	// underlying connection is discarded on release instead of reused.
	invalid bool

	log         *slog.Logger
	releaseOnce sync.Once
}

func newSession(e *Engine, conn *pgxpool.Conn) *Session {
	id := uuid.New()
	return &Session{
		id:     id,
		engine: e,
		conn:   conn,
		state:  stateCreated,
		log:    e.log.With("session_id", id.String()),
	}
}

// ID returns the session's correlation ID, also attached to its log lines.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// State returns the lifecycle state name, for diagnostics.
func (s *Session) State() string {
	return s.state.String()
}

// usable guards every operation against reuse of a finished session.
func (s *Session) usable() error {
	switch {
	case s.state == stateReleased:
		return ErrSessionReleased
	case s.state == stateCommitted || s.state == stateRolledBack:
		return ErrSessionFinished
	case s.invalid:
		return &Error{Base: ErrConnectionLost, Message: "session invalidated by earlier failure"}
	}
	return nil
}

// querier routes through the open transaction when there is one.
func (s *Session) querier() interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
} {
	if s.tx != nil {
		return s.tx
	}
	return s.conn
}

// Exec executes a query that does not return rows.
func (s *Session) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if err := s.usable(); err != nil {
		return pgconn.CommandTag{}, err
	}
	s.touch()

	tag, err := s.querier().Exec(ctx, sql, args...)
	if err != nil {
		return tag, s.fail(err)
	}
	return tag, nil
}

// Query executes a query that returns rows. The caller must close the
// returned rows before issuing further operations on the session.
func (s *Session) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	s.touch()

	rows, err := s.querier().Query(ctx, sql, args...)
	if err != nil {
		return nil, s.fail(err)
	}
	return rows, nil
}

// QueryRow executes a query expected to return at most one row.
func (s *Session) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if err := s.usable(); err != nil {
		return errRow{err: err}
	}
	s.touch()

	return s.querier().QueryRow(ctx, sql, args...)
}

// Begin opens a transaction on the session's connection.
func (s *Session) Begin(ctx context.Context) error {
	if err := s.usable(); err != nil {
		return err
	}
	if s.tx != nil {
		return errors.New("transaction already open")
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return s.fail(err)
	}

	s.tx = tx
	s.state = stateActive
	return nil
}

// Commit commits the open transaction. A failed commit leaves the
// transaction rolled back server-side, and the session reflects that.
func (s *Session) Commit(ctx context.Context) error {
	if err := s.usable(); err != nil {
		return err
	}
	if s.tx == nil {
		return errors.New("commit: no open transaction")
	}

	err := s.tx.Commit(ctx)
	s.tx = nil
	if err != nil {
		s.state = stateRolledBack
		return s.fail(err)
	}

	s.state = stateCommitted
	return nil
}

// Rollback rolls back the open transaction. Rolling back an already-closed
// transaction is not an error.
func (s *Session) Rollback(ctx context.Context) error {
	if s.state == stateReleased {
		return ErrSessionReleased
	}
	if s.tx == nil {
		return errors.New("rollback: no open transaction")
	}

	err := s.tx.Rollback(ctx)
	s.tx = nil
	s.state = stateRolledBack
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return s.fail(err)
	}
	return nil
}

// Release returns the connection to the pool. It is idempotent, safe after
// caller cancellation (it uses its own bounded context for any pending
// rollback), and unconditional: release-on-cancellation and
// release-on-error behave identically.
func (s *Session) Release() {
	s.releaseOnce.Do(func() {
		if s.tx != nil {
			ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			if err := s.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
				s.log.Warn("rollback on release failed",
					"class", failureClass(err),
					"error", redactError(err),
				)
			}
			cancel()
			s.tx = nil
			s.state = stateRolledBack
		}

		if s.conn != nil {
			if s.invalid {
				// Dead connection: close it so the pool destroys it
				// rather than handing it to the next caller.
				ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
				_ = s.conn.Conn().Close(ctx)
				cancel()
			}
			s.conn.Release()
			s.conn = nil
		}

		s.state = stateReleased
	})
}

// touch marks the first query on a fresh session.
func (s *Session) touch() {
	if s.state == stateCreated {
		s.state = stateActive
	}
}

// fail inspects an operation error. Connection-level failures invalidate
// the session: pending work is rolled back (best effort on a dead link)
// and the caller gets a typed connection-lost error so it can decide
// whether the operation is safely retryable.
func (s *Session) fail(err error) error {
	lost := isConnectionLoss(err)
	if !lost && s.conn != nil && s.conn.Conn().IsClosed() {
		lost = true
	}
	if !lost {
		return err
	}

	s.invalid = true
	if s.tx != nil {
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		_ = s.tx.Rollback(ctx)
		cancel()
		s.tx = nil
		s.state = stateRolledBack
	}

	s.log.Warn("session connection lost", "class", failureClass(err))
	return newConnectionLostError(err)
}

// errRow lets QueryRow surface session guard errors through Scan, matching
// pgx.Row semantics.
type errRow struct {
	err error
}

func (r errRow) Scan(...any) error {
	return r.err
}

var _ pgx.Row = errRow{}

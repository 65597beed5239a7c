package db

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hiremebahamas/src/infra/logger"
)

// testSession builds a session without a live connection so the lifecycle
// guards can be exercised directly.
func testSession(state sessionState) *Session {
	return &Session{
		id:    uuid.New(),
		state: state,
		log:   logger.Discard(),
	}
}

func TestSessionStateNames(t *testing.T) {
	assert.Equal(t, "created", stateCreated.String())
	assert.Equal(t, "active", stateActive.String())
	assert.Equal(t, "committed", stateCommitted.String())
	assert.Equal(t, "rolled_back", stateRolledBack.String())
	assert.Equal(t, "released", stateReleased.String())
	assert.Equal(t, "unknown", sessionState(99).String())
}

func TestSessionReuseAfterRelease(t *testing.T) {
	ctx := context.Background()
	s := testSession(stateReleased)

	_, err := s.Exec(ctx, "SELECT 1")
	assert.ErrorIs(t, err, ErrSessionReleased)

	_, err = s.Query(ctx, "SELECT 1")
	assert.ErrorIs(t, err, ErrSessionReleased)

	err = s.QueryRow(ctx, "SELECT 1").Scan()
	assert.ErrorIs(t, err, ErrSessionReleased)

	assert.ErrorIs(t, s.Begin(ctx), ErrSessionReleased)
	assert.ErrorIs(t, s.Commit(ctx), ErrSessionReleased)
	assert.ErrorIs(t, s.Rollback(ctx), ErrSessionReleased)
}

func TestSessionFinishedIsNotReusable(t *testing.T) {
	ctx := context.Background()

	for _, state := range []sessionState{stateCommitted, stateRolledBack} {
		s := testSession(state)

		_, err := s.Exec(ctx, "SELECT 1")
		assert.ErrorIs(t, err, ErrSessionFinished, "state %s", state)
		assert.ErrorIs(t, s.Begin(ctx), ErrSessionFinished, "state %s", state)
	}
}

func TestSessionCommitWithoutTransaction(t *testing.T) {
	s := testSession(stateCreated)

	err := s.Commit(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no open transaction")

	err = s.Rollback(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no open transaction")
}

func TestSessionReleaseIsIdempotent(t *testing.T) {
	s := testSession(stateCreated)

	s.Release()
	s.Release() // must not panic or double-release

	assert.Equal(t, "released", s.State())
}

func TestSessionFailClassification(t *testing.T) {
	t.Run("connection loss invalidates the session", func(t *testing.T) {
		s := testSession(stateActive)

		err := s.fail(io.ErrUnexpectedEOF)
		assert.True(t, IsConnectionLost(err))
		assert.True(t, s.invalid)

		// Subsequent use is rejected without touching the connection.
		_, err = s.Exec(context.Background(), "SELECT 1")
		assert.ErrorIs(t, err, ErrConnectionLost)
	})

	t.Run("business errors pass through untouched", func(t *testing.T) {
		s := testSession(stateActive)

		wantErr := errors.New("duplicate key value violates unique constraint")
		err := s.fail(wantErr)
		assert.Equal(t, wantErr, err)
		assert.False(t, s.invalid)
	})
}

func TestSessionIDIsStable(t *testing.T) {
	s := testSession(stateCreated)
	assert.NotEqual(t, uuid.Nil, s.ID())
	assert.Equal(t, s.ID(), s.ID())
}

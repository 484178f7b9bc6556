// ABOUTME: Tests for the in-memory mock store
// ABOUTME: Verifies it honors the same lifecycle semantics as the SQLite store

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Compile-time check that MockStore satisfies the Store interface.
var _ Store = (*MockStore)(nil)

func TestMockStore_TransitionConditional(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	msg := testMessage("session-1", "user-1", RoleAssistant, StatusPending)
	msg.StreamID = "stream-1"
	require.NoError(t, store.CreateMessage(ctx, msg))

	ok, err := store.Transition(ctx, "stream-1", []MessageStatus{StatusPending}, StatusStreaming, Mutation{})
	require.NoError(t, err)
	assert.True(t, ok)

	// Second caller loses the race
	ok, err = store.Transition(ctx, "stream-1", []MessageStatus{StatusPending}, StatusStreaming, Mutation{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMockStore_CopiesOnRead(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	msg := testMessage("session-1", "user-1", RoleAssistant, StatusComplete)
	msg.ChildIDs = []string{"child-1"}
	require.NoError(t, store.CreateMessage(ctx, msg))

	got, err := store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	got.ChildIDs[0] = "mutated"
	got.Content = "mutated"

	again, err := store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"child-1"}, again.ChildIDs)
	assert.Empty(t, again.Content)
}

func TestMockStore_AppendPartialOnlyWhileStreaming(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	msg := testMessage("session-1", "user-1", RoleAssistant, StatusStreaming)
	msg.StreamID = "stream-1"
	require.NoError(t, store.CreateMessage(ctx, msg))

	ok, err := store.AppendPartial(ctx, "stream-1", "hello ")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = store.Transition(ctx, "stream-1", []MessageStatus{StatusStreaming}, StatusCancelled, Mutation{})
	require.NoError(t, err)

	ok, err = store.AppendPartial(ctx, "stream-1", "late")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := store.GetMessageByStream(ctx, "stream-1")
	require.NoError(t, err)
	assert.Equal(t, "hello ", got.Partial)
}

func TestMockStore_SessionLifecycle(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	session := testSession("user-1")
	require.NoError(t, store.CreateSession(ctx, session))
	assert.ErrorIs(t, store.CreateSession(ctx, session), ErrDuplicateSession)

	require.NoError(t, store.ApplyCompletion(ctx, session.ID, "answered", 50, 0.001, []string{"licence"}, time.Now().UTC()))
	require.NoError(t, store.UpdateSessionStatus(ctx, session.ID, SessionDeleted))

	sessions, err := store.ListSessions(ctx, "user-1", 0)
	require.NoError(t, err)
	assert.Empty(t, sessions)

	// Soft delete keeps the row readable by ID
	got, err := store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionDeleted, got.Status)
	assert.Equal(t, 1, got.MessageCount)
}

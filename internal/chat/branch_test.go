// ABOUTME: Tests for conversation branching
// ABOUTME: Regeneration forks, branch switching, and the trunk-union active view

package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dacosmicgiant/LawBuddy/internal/store"
)

// seedExchange creates one completed user/assistant pair on the trunk.
func seedExchange(t *testing.T, svc *Service, ownerID, chatID, question, answer string) (*store.Message, *store.Message) {
	t.Helper()
	ctx := context.Background()

	user, err := svc.CreatePending(ctx, ownerID, chatID, store.RoleUser, question)
	require.NoError(t, err)

	assistant, err := svc.CreatePending(ctx, ownerID, chatID, store.RoleAssistant, "")
	require.NoError(t, err)
	_, err = svc.BeginStreaming(ctx, assistant.StreamID)
	require.NoError(t, err)
	assistant, ok, err := svc.Complete(ctx, assistant.StreamID, answer, nil, nil)
	require.NoError(t, err)
	require.True(t, ok)

	return user, assistant
}

func TestRegenerate_AssistantFork(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()
	session := createTestChat(t, svc, "user-1")
	_, assistant := seedExchange(t, svc, "user-1", session.ID,
		"Helmet fine?", "The fine is Rs. 500.")

	regen, err := svc.Regenerate(ctx, "user-1", session.ID, assistant.ID, "")
	require.NoError(t, err)

	assert.Equal(t, 2, regen.Version)
	assert.Equal(t, assistant.ID, regen.ParentID)
	assert.Equal(t, store.StatusPending, regen.Status)
	assert.NotEmpty(t, regen.StreamID)
	require.NotNil(t, regen.LeaseExpires)
	require.NotNil(t, regen.Branch)
	assert.Equal(t, store.BranchRegeneration, regen.Branch.Reason)
	assert.True(t, regen.Branch.Active)
	assert.Equal(t, assistant.ID, regen.Branch.ParentMessageID)

	// The target gained a child link and an edit history entry
	target, err := svc.GetMessage(ctx, "user-1", assistant.ID)
	require.NoError(t, err)
	assert.Contains(t, target.ChildIDs, regen.ID)
	assert.Equal(t, []string{"The fine is Rs. 500."}, target.EditHistory)
}

func TestRegenerate_UserEdit(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()
	session := createTestChat(t, svc, "user-1")
	user, _ := seedExchange(t, svc, "user-1", session.ID,
		"Helmet fine?", "The fine is Rs. 500.")

	edited, err := svc.Regenerate(ctx, "user-1", session.ID, user.ID,
		"What is the helmet fine after the 2019 amendment?")
	require.NoError(t, err)

	assert.Equal(t, store.StatusComplete, edited.Status)
	assert.Equal(t, "What is the helmet fine after the 2019 amendment?", edited.Content)
	assert.Empty(t, edited.StreamID)
	require.NotNil(t, edited.Branch)
	assert.Equal(t, store.BranchEdit, edited.Branch.Reason)
}

func TestRegenerate_WrongChatOrOwner(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()
	session := createTestChat(t, svc, "user-1")
	other := createTestChat(t, svc, "user-1")
	_, assistant := seedExchange(t, svc, "user-1", session.ID, "q", "a")

	_, err := svc.Regenerate(ctx, "user-2", session.ID, assistant.ID, "")
	assert.ErrorIs(t, err, ErrNotFound)

	// Message exists but belongs to a different chat
	_, err = svc.Regenerate(ctx, "user-1", other.ID, assistant.ID, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegenerate_NonTerminalTarget(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()
	session := createTestChat(t, svc, "user-1")

	pending, err := svc.CreatePending(ctx, "user-1", session.ID, store.RoleAssistant, "")
	require.NoError(t, err)

	_, err = svc.Regenerate(ctx, "user-1", session.ID, pending.ID, "")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestFork_DeactivatesPreviousBranch(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()
	session := createTestChat(t, svc, "user-1")
	_, assistant := seedExchange(t, svc, "user-1", session.ID, "q", "a")

	first, err := svc.Regenerate(ctx, "user-1", session.ID, assistant.ID, "")
	require.NoError(t, err)
	second, err := svc.Regenerate(ctx, "user-1", session.ID, assistant.ID, "")
	require.NoError(t, err)
	assert.NotEqual(t, first.Branch.ID, second.Branch.ID)

	branches, err := svc.ListBranches(ctx, "user-1", session.ID)
	require.NoError(t, err)
	require.Len(t, branches, 2)

	active := 0
	for _, b := range branches {
		if b.Active {
			active++
			assert.Equal(t, second.Branch.ID, b.BranchID)
		}
	}
	assert.Equal(t, 1, active)
}

func TestSwitchBranch(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()
	session := createTestChat(t, svc, "user-1")
	_, assistant := seedExchange(t, svc, "user-1", session.ID, "q", "a")

	first, err := svc.Regenerate(ctx, "user-1", session.ID, assistant.ID, "")
	require.NoError(t, err)
	_, err = svc.Regenerate(ctx, "user-1", session.ID, assistant.ID, "")
	require.NoError(t, err)

	count, err := svc.SwitchBranch(ctx, "user-1", session.ID, first.Branch.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Idempotent
	count, err = svc.SwitchBranch(ctx, "user-1", session.ID, first.Branch.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := svc.GetMessage(ctx, "user-1", first.ID)
	require.NoError(t, err)
	assert.True(t, got.Branch.Active)
}

func TestSwitchBranch_UnknownLeavesActiveUntouched(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()
	session := createTestChat(t, svc, "user-1")
	_, assistant := seedExchange(t, svc, "user-1", session.ID, "q", "a")

	regen, err := svc.Regenerate(ctx, "user-1", session.ID, assistant.ID, "")
	require.NoError(t, err)

	_, err = svc.SwitchBranch(ctx, "user-1", session.ID, "no-such-branch")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := svc.GetMessage(ctx, "user-1", regen.ID)
	require.NoError(t, err)
	assert.True(t, got.Branch.Active)
}

func TestActiveMessages_TrunkUnionActiveBranch(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()
	session := createTestChat(t, svc, "user-1")
	user, assistant := seedExchange(t, svc, "user-1", session.ID,
		"Helmet fine?", "The fine is Rs. 500.")

	first, err := svc.Regenerate(ctx, "user-1", session.ID, assistant.ID, "")
	require.NoError(t, err)
	second, err := svc.Regenerate(ctx, "user-1", session.ID, assistant.ID, "")
	require.NoError(t, err)

	visible, err := svc.ActiveMessages(ctx, "user-1", session.ID)
	require.NoError(t, err)

	ids := make([]string, 0, len(visible))
	for _, msg := range visible {
		ids = append(ids, msg.ID)
	}
	// Trunk always visible, plus only the active (second) branch
	assert.Equal(t, []string{user.ID, assistant.ID, second.ID}, ids)
	assert.NotContains(t, ids, first.ID)

	// Switching back restores the first branch to the view
	_, err = svc.SwitchBranch(ctx, "user-1", session.ID, first.Branch.ID)
	require.NoError(t, err)
	visible, err = svc.ActiveMessages(ctx, "user-1", session.ID)
	require.NoError(t, err)
	ids = ids[:0]
	for _, msg := range visible {
		ids = append(ids, msg.ID)
	}
	assert.Equal(t, []string{user.ID, assistant.ID, first.ID}, ids)
}

func TestHistory_SkipsNonTerminal(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()
	session := createTestChat(t, svc, "user-1")
	seedExchange(t, svc, "user-1", session.ID,
		"Helmet fine?", "The fine is Rs. 500.")

	// A pending assistant reply must not leak into the prompt context
	_, err := svc.CreatePending(ctx, "user-1", session.ID, store.RoleAssistant, "")
	require.NoError(t, err)

	turns, err := svc.History(ctx, "user-1", session.ID)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, string(store.RoleUser), turns[0].Role)
	assert.Equal(t, "Helmet fine?", turns[0].Content)
	assert.Equal(t, string(store.RoleAssistant), turns[1].Role)
	assert.Equal(t, "The fine is Rs. 500.", turns[1].Content)
}

func TestCreatePending_InheritsActiveBranch(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()
	session := createTestChat(t, svc, "user-1")
	_, assistant := seedExchange(t, svc, "user-1", session.ID, "q", "a")

	regen, err := svc.Regenerate(ctx, "user-1", session.ID, assistant.ID, "")
	require.NoError(t, err)

	// A follow-up message lands on the currently active branch
	followUp, err := svc.CreatePending(ctx, "user-1", session.ID, store.RoleUser,
		"And for a repeat offence?")
	require.NoError(t, err)
	require.NotNil(t, followUp.Branch)
	assert.Equal(t, regen.Branch.ID, followUp.Branch.ID)
	assert.True(t, followUp.Branch.Active)
}

// ABOUTME: Branch manager for the conversation tree
// ABOUTME: Branch creation, regeneration forks, switching, and active-view selection

package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Dacosmicgiant/LawBuddy/internal/store"
)

// Fork deactivates the chat's current active branch and mints a new branch
// descriptor rooted at parentMessageID. It does not create a message; the
// caller attaches the descriptor to the messages it creates next.
func (s *Service) Fork(ctx context.Context, ownerID, chatID, parentMessageID string, reason store.BranchReason) (*store.Branch, error) {
	if _, err := s.requireLiveSession(ctx, ownerID, chatID); err != nil {
		return nil, err
	}

	if err := s.store.DeactivateBranches(ctx, chatID); err != nil {
		return nil, fmt.Errorf("deactivating branches: %w", err)
	}

	branch := &store.Branch{
		ID:              uuid.New().String(),
		ParentMessageID: parentMessageID,
		Reason:          reason,
		Active:          true,
		CreatedAt:       time.Now().UTC(),
	}
	s.logger.Debug("branch forked",
		"chat_id", chatID,
		"branch_id", branch.ID,
		"parent_message_id", parentMessageID,
		"reason", reason,
	)
	return branch, nil
}

// Regenerate forks a branch rooted at the target message and creates its
// successor: a new message with version+1, parented to the target, attached
// to the new branch. With newContent it is a user edit persisted COMPLETE;
// without it is an assistant regeneration starting PENDING with a fresh
// stream id for the orchestrator.
func (s *Service) Regenerate(ctx context.Context, ownerID, chatID, messageID, newContent string) (*store.Message, error) {
	target, err := s.GetMessage(ctx, ownerID, messageID)
	if err != nil {
		return nil, err
	}
	if target.ChatSessionID != chatID {
		return nil, ErrNotFound
	}
	// Forking at a message still being generated would orphan its stream.
	if target.Status == store.StatusPending || target.Status == store.StatusStreaming {
		return nil, ErrInvalidState
	}

	reason := store.BranchRegeneration
	if newContent != "" {
		reason = store.BranchEdit
	}
	branch, err := s.Fork(ctx, ownerID, chatID, target.ID, reason)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	msg := &store.Message{
		ID:            uuid.New().String(),
		ChatSessionID: chatID,
		OwnerID:       ownerID,
		Role:          target.Role,
		Version:       target.Version + 1,
		ParentID:      target.ID,
		ChildIDs:      []string{},
		EditHistory:   []string{},
		Branch:        branch,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if newContent != "" {
		msg.Status = store.StatusComplete
		msg.Content = newContent
		msg.Final = newContent
	} else {
		msg.Status = store.StatusPending
		msg.StreamID = uuid.New().String()
		lease := now.Add(initialLease)
		msg.LeaseExpires = &lease
	}

	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("creating regenerated message: %w", err)
	}
	if err := s.store.RecordEdit(ctx, target.ID, target.Content); err != nil {
		return nil, fmt.Errorf("recording edit history: %w", err)
	}
	if err := s.store.AppendChild(ctx, target.ID, msg.ID); err != nil {
		return nil, fmt.Errorf("linking child message: %w", err)
	}

	s.logger.Info("message regenerated",
		"chat_id", chatID,
		"parent_message_id", target.ID,
		"message_id", msg.ID,
		"version", msg.Version,
	)
	return msg, nil
}

// SwitchBranch activates branchID in the chat, deactivating every other
// branch first. Returns the number of messages on the branch. An unknown
// branch returns ErrNotFound and leaves the current active branch untouched.
// Repeated calls with the same branch are idempotent.
func (s *Service) SwitchBranch(ctx context.Context, ownerID, chatID, branchID string) (int, error) {
	if _, err := s.requireLiveSession(ctx, ownerID, chatID); err != nil {
		return 0, err
	}

	count, err := s.store.CountBranchMessages(ctx, chatID, branchID)
	if err != nil {
		return 0, fmt.Errorf("counting branch messages: %w", err)
	}
	if count == 0 {
		return 0, ErrNotFound
	}

	if err := s.store.DeactivateBranches(ctx, chatID); err != nil {
		return 0, fmt.Errorf("deactivating branches: %w", err)
	}
	activated, err := s.store.ActivateBranch(ctx, chatID, branchID)
	if err != nil {
		return 0, fmt.Errorf("activating branch: %w", err)
	}

	s.logger.Info("branch switched",
		"chat_id", chatID,
		"branch_id", branchID,
		"message_count", activated,
	)
	return activated, nil
}

// ListBranches returns a summary per distinct branch in the chat.
func (s *Service) ListBranches(ctx context.Context, ownerID, chatID string) ([]*store.BranchCount, error) {
	if _, err := s.GetSession(ctx, ownerID, chatID); err != nil {
		return nil, err
	}
	return s.store.ListBranchCounts(ctx, chatID)
}

// ActiveMessages returns the visible history: trunk messages (no branch
// descriptor) unioned with messages whose branch is active, in creation
// order. Trunk messages stay visible regardless of which branch is active.
func (s *Service) ActiveMessages(ctx context.Context, ownerID, chatID string) ([]*store.Message, error) {
	if _, err := s.GetSession(ctx, ownerID, chatID); err != nil {
		return nil, err
	}

	all, err := s.store.ListMessages(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}

	visible := make([]*store.Message, 0, len(all))
	for _, msg := range all {
		if msg.Branch == nil || msg.Branch.Active {
			visible = append(visible, msg)
		}
	}
	return visible, nil
}

// History converts the visible conversation into engine turns for prompt
// context, skipping non-terminal and failed messages.
func (s *Service) History(ctx context.Context, ownerID, chatID string) ([]Turn, error) {
	msgs, err := s.ActiveMessages(ctx, ownerID, chatID)
	if err != nil {
		return nil, err
	}

	turns := make([]Turn, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Status != store.StatusComplete || msg.Content == "" {
			continue
		}
		turns = append(turns, Turn{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	return turns, nil
}

// Turn is one prior exchange used as generation context.
type Turn struct {
	Role    string
	Content string
}

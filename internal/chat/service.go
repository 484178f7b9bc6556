// ABOUTME: Message lifecycle engine and chat session operations
// ABOUTME: Owns the per-message state machine and the store read/update contract

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Dacosmicgiant/LawBuddy/internal/store"
)

// previewLength bounds the session preview snippet.
const previewLength = 100

// initialLease bounds how long a freshly created assistant message may sit
// without an orchestrator heartbeat before the startup sweep reclaims it.
const initialLease = time.Minute

// Service implements the message lifecycle state machine and session CRUD
// against the document store. All state transitions go through conditional
// store updates, so racing callers resolve to exactly one winner and
// duplicate calls on terminal messages are silent no-ops.
type Service struct {
	store  store.Store
	logger *slog.Logger
}

// NewService creates a chat service. Pass nil logger for default.
func NewService(st store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  st,
		logger: logger.With("component", "chat"),
	}
}

// Store exposes the underlying store for collaborators that share it.
func (s *Service) Store() store.Store {
	return s.store
}

// CreateSession creates a new active chat session for a user.
func (s *Service) CreateSession(ctx context.Context, ownerID, title string) (*store.ChatSession, error) {
	if title == "" {
		title = "New conversation"
	}
	now := time.Now().UTC()
	session := &store.ChatSession{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Title:     title,
		Status:    store.SessionActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	s.logger.Info("session created", "session_id", session.ID, "owner_id", ownerID)
	return session, nil
}

// GetSession returns a session owned by the caller. Sessions owned by other
// users and missing sessions are indistinguishable.
func (s *Service) GetSession(ctx context.Context, ownerID, chatID string) (*store.ChatSession, error) {
	session, err := s.store.GetSession(ctx, chatID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if session.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return session, nil
}

// requireLiveSession loads an owned session and rejects deleted ones.
func (s *Service) requireLiveSession(ctx context.Context, ownerID, chatID string) (*store.ChatSession, error) {
	session, err := s.GetSession(ctx, ownerID, chatID)
	if err != nil {
		return nil, err
	}
	if session.Status == store.SessionDeleted {
		return nil, ErrChatDeleted
	}
	return session, nil
}

// ListSessions returns the caller's sessions, newest first.
func (s *Service) ListSessions(ctx context.Context, ownerID string, limit int) ([]*store.ChatSession, error) {
	return s.store.ListSessions(ctx, ownerID, limit)
}

// DeleteSession soft-deletes a session. The rows remain for history.
func (s *Service) DeleteSession(ctx context.Context, ownerID, chatID string) error {
	if _, err := s.GetSession(ctx, ownerID, chatID); err != nil {
		return err
	}
	return s.store.UpdateSessionStatus(ctx, chatID, store.SessionDeleted)
}

// ArchiveSession flips a session to archived.
func (s *Service) ArchiveSession(ctx context.Context, ownerID, chatID string) error {
	if _, err := s.GetSession(ctx, ownerID, chatID); err != nil {
		return err
	}
	return s.store.UpdateSessionStatus(ctx, chatID, store.SessionArchived)
}

// Stats aggregates across the caller's sessions.
func (s *Service) Stats(ctx context.Context, ownerID string) (*store.SessionStats, error) {
	return s.store.SessionStats(ctx, ownerID)
}

// CreatePending creates a message in a chat. User messages are persisted
// already COMPLETE with their content; assistant messages start PENDING with
// empty content and a fresh stream id for the orchestrator to drive. The new
// message carries the chat's active branch descriptor if one is set.
func (s *Service) CreatePending(ctx context.Context, ownerID, chatID string, role store.Role, seedContent string) (*store.Message, error) {
	if _, err := s.requireLiveSession(ctx, ownerID, chatID); err != nil {
		return nil, err
	}
	if role == store.RoleUser && seedContent == "" {
		return nil, ErrEmptyContent
	}

	branch, err := s.activeBranch(ctx, chatID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	msg := &store.Message{
		ID:            uuid.New().String(),
		ChatSessionID: chatID,
		OwnerID:       ownerID,
		Role:          role,
		Version:       1,
		ChildIDs:      []string{},
		EditHistory:   []string{},
		Branch:        branch,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	switch role {
	case store.RoleAssistant:
		msg.Status = store.StatusPending
		msg.StreamID = uuid.New().String()
		lease := now.Add(initialLease)
		msg.LeaseExpires = &lease
	default:
		msg.Status = store.StatusComplete
		msg.Content = seedContent
		msg.Final = seedContent
	}

	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("creating message: %w", err)
	}

	s.logger.Debug("message created",
		"message_id", msg.ID,
		"chat_id", chatID,
		"role", role,
		"status", msg.Status,
	)
	return msg, nil
}

// activeBranch returns a copy of the chat's active branch descriptor, or nil
// when only the trunk is in play.
func (s *Service) activeBranch(ctx context.Context, chatID string) (*store.Branch, error) {
	branches, err := s.store.ListBranchCounts(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("listing branches: %w", err)
	}
	for _, bc := range branches {
		if bc.Active {
			return &store.Branch{
				ID:              bc.BranchID,
				ParentMessageID: bc.ParentMessageID,
				Reason:          bc.Reason,
				Active:          true,
				CreatedAt:       bc.CreatedAt,
			}, nil
		}
	}
	return nil, nil
}

// GetMessage returns a message owned by the caller.
func (s *Service) GetMessage(ctx context.Context, ownerID, messageID string) (*store.Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading message: %w", err)
	}
	if msg.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return msg, nil
}

// GetStreamMessage returns the message a stream id belongs to, owned by the
// caller. Ownership mismatches collapse to ErrNotFound so a guessed stream id
// never confirms another user's data exists.
func (s *Service) GetStreamMessage(ctx context.Context, ownerID, streamID string) (*store.Message, error) {
	msg, err := s.store.GetMessageByStream(ctx, streamID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading stream message: %w", err)
	}
	if msg.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return msg, nil
}

// BeginStreaming moves a pending message to streaming. Returns false when
// the stream is unknown or already past pending; duplicate calls are no-ops.
func (s *Service) BeginStreaming(ctx context.Context, streamID string) (bool, error) {
	ok, err := s.store.Transition(ctx, streamID,
		[]store.MessageStatus{store.StatusPending}, store.StatusStreaming, store.Mutation{})
	if err != nil {
		return false, fmt.Errorf("beginning stream: %w", err)
	}
	return ok, nil
}

// AppendChunk appends a delta to the partial buffer and mirrors it into the
// display content. No-op when the stream is not STREAMING.
func (s *Service) AppendChunk(ctx context.Context, streamID, delta string) (bool, error) {
	ok, err := s.store.AppendPartial(ctx, streamID, delta)
	if err != nil {
		return false, fmt.Errorf("appending chunk: %w", err)
	}
	return ok, nil
}

// Complete finalizes a streaming message with its content and metadata, and
// folds the completion into the session aggregates. Returns the finalized
// message, or (nil, false, nil) when the stream had already terminated.
func (s *Service) Complete(ctx context.Context, streamID, finalContent string, metadata *store.GenerationMetadata, formatting *store.Formatting) (*store.Message, bool, error) {
	mut := store.Mutation{
		Content:      &finalContent,
		Final:        &finalContent,
		ClearPartial: true,
		ClearLease:   true,
		Metadata:     metadata,
		Formatting:   formatting,
	}
	ok, err := s.store.Transition(ctx, streamID,
		[]store.MessageStatus{store.StatusStreaming}, store.StatusComplete, mut)
	if err != nil {
		return nil, false, fmt.Errorf("completing stream: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	msg, err := s.store.GetMessageByStream(ctx, streamID)
	if err != nil {
		return nil, false, fmt.Errorf("reloading completed message: %w", err)
	}

	tokens := 0
	cost := 0.0
	if metadata != nil {
		tokens = metadata.TokenCount
		cost = metadata.CostEstimate
	}
	tags := DetectTopics(finalContent)
	if err := s.store.ApplyCompletion(ctx, msg.ChatSessionID, preview(finalContent), tokens, cost, tags, time.Now().UTC()); err != nil {
		// The message itself is final; aggregate drift is tolerable
		s.logger.Error("session aggregate update failed",
			"chat_id", msg.ChatSessionID, "error", err)
	}

	s.logger.Info("stream completed",
		"stream_id", streamID,
		"message_id", msg.ID,
		"tokens", tokens,
	)
	return msg, true, nil
}

// RecordUserCompletion folds an already-complete user message into the
// session aggregates so previews and topic tags track both sides of the
// conversation.
func (s *Service) RecordUserCompletion(ctx context.Context, msg *store.Message) error {
	tags := DetectTopics(msg.Content)
	return s.store.ApplyCompletion(ctx, msg.ChatSessionID, preview(msg.Content), 0, 0, tags, time.Now().UTC())
}

// Fail terminates a stream as FAILED with the reason prefixed to whatever
// content had accumulated. Idempotent on already-terminal streams.
func (s *Service) Fail(ctx context.Context, streamID, reason string) (bool, error) {
	return s.terminate(ctx, streamID, store.StatusFailed, reason)
}

// Cancel terminates a stream as CANCELLED, keeping the applied chunks with a
// cancellation notice prefix. Idempotent on already-terminal streams.
func (s *Service) Cancel(ctx context.Context, streamID, reason string) (bool, error) {
	return s.terminate(ctx, streamID, store.StatusCancelled, reason)
}

func (s *Service) terminate(ctx context.Context, streamID string, to store.MessageStatus, reason string) (bool, error) {
	notice := fmt.Sprintf("[%s] ", reason)
	mut := store.Mutation{
		PrefixNotice: &notice,
		ClearLease:   true,
	}
	ok, err := s.store.Transition(ctx, streamID,
		[]store.MessageStatus{store.StatusPending, store.StatusStreaming}, to, mut)
	if err != nil {
		return false, fmt.Errorf("terminating stream: %w", err)
	}
	if ok {
		s.logger.Info("stream terminated", "stream_id", streamID, "status", to, "reason", reason)
	}
	return ok, nil
}

// RenewLease extends the heartbeat lease on an in-flight stream.
func (s *Service) RenewLease(ctx context.Context, streamID string, until time.Time) error {
	return s.store.RenewLease(ctx, streamID, until)
}

// ReconcileOrphans fails every non-terminal message whose lease has expired.
// Run at startup to clean up streams orphaned by a process restart.
func (s *Service) ReconcileOrphans(ctx context.Context) (int, error) {
	orphans, err := s.store.ListExpiredStreaming(ctx, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("listing expired streams: %w", err)
	}

	failed := 0
	for _, msg := range orphans {
		ok, err := s.Fail(ctx, msg.StreamID, "Response interrupted by server restart")
		if err != nil {
			s.logger.Error("orphan reconciliation failed",
				"stream_id", msg.StreamID, "error", err)
			continue
		}
		if ok {
			failed++
		}
	}
	if failed > 0 {
		s.logger.Warn("orphaned streams reconciled", "count", failed)
	}
	return failed, nil
}

func preview(content string) string {
	runes := []rune(content)
	if len(runes) <= previewLength {
		return content
	}
	return string(runes[:previewLength])
}

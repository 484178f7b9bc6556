// ABOUTME: Websocket connection handling and command dispatch
// ABOUTME: One read loop per connection; every command resolves on the issuing connection

package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Dacosmicgiant/LawBuddy/internal/auth"
	"github.com/Dacosmicgiant/LawBuddy/internal/chat"
	"github.com/Dacosmicgiant/LawBuddy/internal/engine"
	"github.com/Dacosmicgiant/LawBuddy/internal/events"
	"github.com/Dacosmicgiant/LawBuddy/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browser clients connect from the app origin; token auth is the gate.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn wraps one websocket connection with a write lock so the hub and the
// read-loop acknowledgements never interleave frames.
type wsConn struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

// Send implements hub.Sender.
func (c *wsConn) Send(event events.Event) error {
	data, err := events.Encode(event)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	wsc := &wsConn{id: uuid.New().String(), conn: conn}
	s.hub.Register(wsc.id, identity.UserID, wsc)
	logger := s.logger.With("conn_id", wsc.id, "user_id", identity.UserID)
	logger.Info("websocket connected")

	defer func() {
		s.hub.Unregister(wsc.id)
		_ = conn.Close()
		logger.Info("websocket disconnected")
	}()

	_ = wsc.Send(events.ConnectionEstablished{
		ConnectionID: wsc.id,
		UserID:       identity.UserID,
		Timestamp:    time.Now().UTC(),
	})

	// Optional auto-join straight from the handshake URL
	if chatID := r.URL.Query().Get("chat_id"); chatID != "" {
		s.dispatch(r.Context(), logger, identity, wsc, &events.Command{
			Type:   events.CmdJoinChat,
			ChatID: chatID,
		})
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("websocket read error", "error", err)
			}
			return
		}

		cmd, err := events.ParseCommand(data)
		if err != nil {
			s.sendError(wsc, "bad_command", err.Error())
			continue
		}
		s.dispatch(r.Context(), logger, identity, wsc, cmd)
	}
}

// dispatch executes one client command. Each command produces exactly one
// terminal event on the issuing connection: a success acknowledgement, an
// error event, or (for cancel_stream) the room broadcast the issuer receives
// as a member.
func (s *Server) dispatch(ctx context.Context, logger *slog.Logger, identity *auth.Identity, wsc *wsConn, cmd *events.Command) {
	now := time.Now().UTC()

	switch cmd.Type {
	case events.CmdPing:
		_ = wsc.Send(events.Pong{Timestamp: now})

	case events.CmdJoinChat:
		if _, err := s.chat.GetSession(ctx, identity.UserID, cmd.ChatID); err != nil {
			s.sendCommandError(wsc, err)
			return
		}
		if err := s.hub.JoinRoom(cmd.ChatID, identity.UserID, wsc.id); err != nil {
			s.sendError(wsc, "internal", err.Error())
			return
		}
		_ = wsc.Send(events.JoinedChat{ChatID: cmd.ChatID, UserID: identity.UserID, Timestamp: now})

	case events.CmdLeaveChat:
		s.hub.LeaveRoom(cmd.ChatID, identity.UserID)
		_ = wsc.Send(events.LeftChat{ChatID: cmd.ChatID, UserID: identity.UserID, Timestamp: now})

	case events.CmdMessage:
		s.handleMessage(ctx, logger, identity, wsc, cmd)

	case events.CmdRegenerate:
		s.handleRegenerate(ctx, logger, identity, wsc, cmd)

	case events.CmdSwitchBranch:
		count, err := s.chat.SwitchBranch(ctx, identity.UserID, cmd.ChatID, cmd.BranchID)
		if err != nil {
			s.sendCommandError(wsc, err)
			return
		}
		switched := events.BranchSwitched{
			ChatID:       cmd.ChatID,
			BranchID:     cmd.BranchID,
			MessageCount: count,
			Timestamp:    now,
		}
		_ = wsc.Send(switched)
		s.hub.BroadcastToRoom(cmd.ChatID, switched, identity.UserID)

	case events.CmdListBranches:
		counts, err := s.chat.ListBranches(ctx, identity.UserID, cmd.ChatID)
		if err != nil {
			s.sendCommandError(wsc, err)
			return
		}
		branches := make([]events.BranchInfo, 0, len(counts))
		for _, bc := range counts {
			branches = append(branches, events.BranchInfoFromStore(bc))
		}
		_ = wsc.Send(events.BranchList{ChatID: cmd.ChatID, Branches: branches, Timestamp: now})

	case events.CmdCancelStream:
		// Cancellation is owner-only, like every other message operation.
		if _, err := s.chat.GetStreamMessage(ctx, identity.UserID, cmd.StreamID); err != nil {
			s.sendCommandError(wsc, err)
			return
		}
		ok, err := s.orch.Cancel(ctx, cmd.StreamID)
		if err != nil {
			s.sendCommandError(wsc, err)
			return
		}
		if !ok {
			s.sendError(wsc, "not_found", "no active stream")
			return
		}
		// The ai_stream_cancelled broadcast reaches the issuer as a room member.

	case events.CmdTyping:
		s.hub.SetTyping(cmd.ChatID, identity.UserID, cmd.Typing)
		s.hub.BroadcastToRoom(cmd.ChatID, events.TypingIndicator{
			ChatID:    cmd.ChatID,
			UserID:    identity.UserID,
			Typing:    cmd.Typing,
			Timestamp: now,
		}, identity.UserID)
	}
}

// handleMessage persists the user's message, fans it out, and starts the
// assistant's streaming reply.
func (s *Server) handleMessage(ctx context.Context, logger *slog.Logger, identity *auth.Identity, wsc *wsConn, cmd *events.Command) {
	now := time.Now().UTC()

	// Snapshot the history before the new message lands so the prompt and
	// context do not overlap.
	history, err := s.historyTurns(ctx, identity.UserID, cmd.ChatID)
	if err != nil {
		s.sendCommandError(wsc, err)
		return
	}

	userMsg, err := s.chat.CreatePending(ctx, identity.UserID, cmd.ChatID, store.RoleUser, cmd.Content)
	if err != nil {
		s.sendCommandError(wsc, err)
		return
	}
	if err := s.chat.RecordUserCompletion(ctx, userMsg); err != nil {
		logger.Error("failed to record user message aggregates", "error", err)
	}

	wire := events.MessageFromStore(userMsg)
	_ = wsc.Send(events.MessageSent{ChatID: cmd.ChatID, Message: wire, Timestamp: now})
	s.hub.BroadcastToRoom(cmd.ChatID, events.NewMessage{ChatID: cmd.ChatID, Message: wire, Timestamp: now}, identity.UserID)

	s.startReply(ctx, logger, identity.UserID, cmd.ChatID, cmd.Content, history)
}

// handleRegenerate forks a branch at the target message. Editing a user
// message creates the edited message and regenerates the reply; targeting an
// assistant message regenerates it in place on the new branch.
func (s *Server) handleRegenerate(ctx context.Context, logger *slog.Logger, identity *auth.Identity, wsc *wsConn, cmd *events.Command) {
	now := time.Now().UTC()

	prompt, history, err := s.contextBefore(ctx, identity.UserID, cmd.ChatID, cmd.MessageID)
	if err != nil {
		s.sendCommandError(wsc, err)
		return
	}

	msg, err := s.chat.Regenerate(ctx, identity.UserID, cmd.ChatID, cmd.MessageID, cmd.Content)
	if err != nil {
		s.sendCommandError(wsc, err)
		return
	}

	created := events.BranchCreated{
		ChatID: cmd.ChatID,
		Branch: events.BranchInfo{
			BranchID:        msg.Branch.ID,
			ParentMessageID: msg.Branch.ParentMessageID,
			Reason:          string(msg.Branch.Reason),
			Active:          true,
			MessageCount:    1,
			CreatedAt:       msg.Branch.CreatedAt,
		},
		Message:   events.MessageFromStore(msg),
		Timestamp: now,
	}
	_ = wsc.Send(created)
	s.hub.BroadcastToRoom(cmd.ChatID, created, identity.UserID)

	switch msg.Role {
	case store.RoleAssistant:
		s.startGeneration(logger, msg, engine.Request{Prompt: prompt, History: history})
	case store.RoleUser:
		// An edit replaces the question; the reply is regenerated from it.
		if err := s.chat.RecordUserCompletion(ctx, msg); err != nil {
			logger.Error("failed to record edited message aggregates", "error", err)
		}
		s.startReply(ctx, logger, identity.UserID, cmd.ChatID, msg.Content, history)
	}
}

// startReply creates the pending assistant message and launches generation.
func (s *Server) startReply(ctx context.Context, logger *slog.Logger, userID, chatID, prompt string, history []engine.Turn) {
	assistant, err := s.chat.CreatePending(ctx, userID, chatID, store.RoleAssistant, "")
	if err != nil {
		logger.Error("failed to create assistant message", "error", err)
		return
	}
	s.startGeneration(logger, assistant, engine.Request{Prompt: prompt, History: history})
}

func (s *Server) startGeneration(logger *slog.Logger, msg *store.Message, req engine.Request) {
	if err := s.orch.Start(msg, req); err != nil {
		// The orchestrator already failed the message and notified the room.
		logger.Warn("generation not started", "stream_id", msg.StreamID, "error", err)
	}
}

// historyTurns loads the visible conversation as bounded engine context.
func (s *Server) historyTurns(ctx context.Context, userID, chatID string) ([]engine.Turn, error) {
	turns, err := s.chat.History(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}
	out := make([]engine.Turn, len(turns))
	for i, t := range turns {
		out[i] = engine.Turn{Role: t.Role, Content: t.Content}
	}
	return engine.BuildHistory(out, s.cfg.HistoryWindow), nil
}

// contextBefore rebuilds the generation context leading up to a regeneration
// target: the prompt is the last user turn before the target, the history is
// everything before that.
func (s *Server) contextBefore(ctx context.Context, userID, chatID, messageID string) (string, []engine.Turn, error) {
	msgs, err := s.chat.ActiveMessages(ctx, userID, chatID)
	if err != nil {
		return "", nil, err
	}

	var turns []engine.Turn
	for _, m := range msgs {
		if m.ID == messageID {
			break
		}
		if m.Status != store.StatusComplete || m.Content == "" {
			continue
		}
		turns = append(turns, engine.Turn{Role: string(m.Role), Content: m.Content})
	}

	prompt := ""
	for len(turns) > 0 {
		last := turns[len(turns)-1]
		turns = turns[:len(turns)-1]
		if last.Role == string(store.RoleUser) {
			prompt = last.Content
			break
		}
	}
	return prompt, engine.BuildHistory(turns, s.cfg.HistoryWindow), nil
}

// sendCommandError maps a service error onto the wire error codes.
func (s *Server) sendCommandError(wsc *wsConn, err error) {
	switch {
	case errors.Is(err, chat.ErrNotFound):
		s.sendError(wsc, "not_found", "not found")
	case errors.Is(err, chat.ErrChatDeleted):
		s.sendError(wsc, "chat_deleted", "chat has been deleted")
	case errors.Is(err, chat.ErrInvalidState):
		s.sendError(wsc, "invalid_state", err.Error())
	case errors.Is(err, chat.ErrEmptyContent):
		s.sendError(wsc, "empty_content", "message content is required")
	case errors.Is(err, engine.ErrUnavailable):
		s.sendError(wsc, "engine_unavailable", "AI service is not configured")
	default:
		s.sendError(wsc, "internal", "internal error")
	}
}

func (s *Server) sendError(wsc *wsConn, code, message string) {
	_ = wsc.Send(events.Error{Code: code, Message: message, Timestamp: time.Now().UTC()})
}

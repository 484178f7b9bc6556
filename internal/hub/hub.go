// ABOUTME: In-memory connection registry and room fan-out for websocket clients
// ABOUTME: Tracks live connections, chat room membership, and delivers typed events

package hub

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Dacosmicgiant/LawBuddy/internal/events"
)

// ErrNotRegistered indicates a send to a connection the hub does not know.
var ErrNotRegistered = errors.New("connection not registered")

// Sender delivers one encoded event to a single client connection.
// Implementations must be safe for concurrent use.
type Sender interface {
	Send(event events.Event) error
}

type connection struct {
	id     string
	userID string
	sender Sender
	rooms  map[string]bool // chatIDs this connection has joined
}

// Hub is the connection registry and fan-out broadcaster. Rooms are keyed by
// chat ID and hold one connection per user: a user joining a chat from a
// second connection replaces the first in that room.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]*connection          // connID -> connection
	byUser map[string]map[string]bool      // userID -> connIDs
	rooms  map[string]map[string]string    // chatID -> userID -> connID
	typing map[string]map[string]time.Time // chatID -> userID -> started
	logger *slog.Logger
}

// New creates a hub. Pass nil logger for default.
func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		conns:  make(map[string]*connection),
		byUser: make(map[string]map[string]bool),
		rooms:  make(map[string]map[string]string),
		typing: make(map[string]map[string]time.Time),
		logger: logger.With("component", "hub"),
	}
}

// Register adds a live connection for a user.
func (h *Hub) Register(connID, userID string, sender Sender) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.conns[connID] = &connection{
		id:     connID,
		userID: userID,
		sender: sender,
		rooms:  make(map[string]bool),
	}
	if _, ok := h.byUser[userID]; !ok {
		h.byUser[userID] = make(map[string]bool)
	}
	h.byUser[userID][connID] = true

	h.logger.Debug("connection registered", "connection_id", connID, "user_id", userID)
}

// Unregister removes a connection and drops it from every room it joined.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unregisterLocked(connID)
}

func (h *Hub) unregisterLocked(connID string) {
	conn, ok := h.conns[connID]
	if !ok {
		return
	}
	delete(h.conns, connID)

	if userConns, ok := h.byUser[conn.userID]; ok {
		delete(userConns, connID)
		if len(userConns) == 0 {
			delete(h.byUser, conn.userID)
		}
	}

	for chatID := range conn.rooms {
		if room, ok := h.rooms[chatID]; ok {
			// Only remove if this room entry still points at this connection
			if room[conn.userID] == connID {
				delete(room, conn.userID)
				if len(room) == 0 {
					delete(h.rooms, chatID)
				}
			}
		}
	}

	h.logger.Debug("connection unregistered", "connection_id", connID, "user_id", conn.userID)
}

// JoinRoom adds a user's connection to a chat room.
func (h *Hub) JoinRoom(chatID, userID, connID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn, ok := h.conns[connID]
	if !ok {
		return ErrNotRegistered
	}

	if _, ok := h.rooms[chatID]; !ok {
		h.rooms[chatID] = make(map[string]string)
	}
	h.rooms[chatID][userID] = connID
	conn.rooms[chatID] = true

	h.logger.Debug("joined room", "chat_id", chatID, "user_id", userID)
	return nil
}

// LeaveRoom removes a user from a chat room.
func (h *Hub) LeaveRoom(chatID, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[chatID]
	if !ok {
		return
	}
	connID, ok := room[userID]
	if !ok {
		return
	}
	delete(room, userID)
	if len(room) == 0 {
		delete(h.rooms, chatID)
		delete(h.typing, chatID)
	}
	if conn, ok := h.conns[connID]; ok {
		delete(conn.rooms, chatID)
	}

	h.logger.Debug("left room", "chat_id", chatID, "user_id", userID)
}

// SendTo delivers an event to one connection. A failed send evicts the
// connection from the registry; the error is not returned to the caller
// beyond ErrNotRegistered for unknown connections.
func (h *Hub) SendTo(connID string, event events.Event) error {
	h.mu.RLock()
	conn, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return ErrNotRegistered
	}

	if err := conn.sender.Send(event); err != nil {
		h.logger.Debug("send failed, evicting connection",
			"connection_id", connID, "error", err)
		h.Unregister(connID)
	}
	return nil
}

// SendToUser delivers an event to every live connection of one user.
func (h *Hub) SendToUser(userID string, event events.Event) {
	h.mu.RLock()
	targets := make([]*connection, 0, 2)
	for connID := range h.byUser[userID] {
		if conn, ok := h.conns[connID]; ok {
			targets = append(targets, conn)
		}
	}
	h.mu.RUnlock()

	h.deliver(targets, event)
}

// BroadcastToRoom delivers an event to every user joined to a chat room,
// optionally excluding one user (typically the originator).
func (h *Hub) BroadcastToRoom(chatID string, event events.Event, excludeUserID string) {
	h.mu.RLock()
	room := h.rooms[chatID]
	targets := make([]*connection, 0, len(room))
	for userID, connID := range room {
		if excludeUserID != "" && userID == excludeUserID {
			continue
		}
		if conn, ok := h.conns[connID]; ok {
			targets = append(targets, conn)
		}
	}
	h.mu.RUnlock()

	h.deliver(targets, event)
}

// deliver sends outside the lock so one slow client cannot block the room.
// Dead connections are evicted rather than surfacing an error.
func (h *Hub) deliver(targets []*connection, event events.Event) {
	var dead []string
	for _, conn := range targets {
		if err := conn.sender.Send(event); err != nil {
			h.logger.Debug("broadcast send failed, evicting connection",
				"connection_id", conn.id, "error", err)
			dead = append(dead, conn.id)
		}
	}
	if len(dead) > 0 {
		h.mu.Lock()
		for _, connID := range dead {
			h.unregisterLocked(connID)
		}
		h.mu.Unlock()
	}
}

// SetTyping records advisory typing state for a user in a chat. There is no
// server-side expiry; clients send explicit start/stop.
func (h *Hub) SetTyping(chatID, userID string, typing bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if typing {
		if _, ok := h.typing[chatID]; !ok {
			h.typing[chatID] = make(map[string]time.Time)
		}
		h.typing[chatID][userID] = time.Now().UTC()
		return
	}

	if users, ok := h.typing[chatID]; ok {
		delete(users, userID)
		if len(users) == 0 {
			delete(h.typing, chatID)
		}
	}
}

// TypingUsers returns the users currently marked typing in a chat.
func (h *Hub) TypingUsers(chatID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	users := make([]string, 0, len(h.typing[chatID]))
	for userID := range h.typing[chatID] {
		users = append(users, userID)
	}
	return users
}

// Stats is a point-in-time snapshot of hub occupancy.
type Stats struct {
	Connections int            `json:"connections"`
	Users       int            `json:"users"`
	Rooms       int            `json:"rooms"`
	RoomSizes   map[string]int `json:"room_sizes"`
}

// Snapshot returns current hub occupancy.
func (h *Hub) Snapshot() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := Stats{
		Connections: len(h.conns),
		Users:       len(h.byUser),
		Rooms:       len(h.rooms),
		RoomSizes:   make(map[string]int, len(h.rooms)),
	}
	for chatID, room := range h.rooms {
		stats.RoomSizes[chatID] = len(room)
	}
	return stats
}

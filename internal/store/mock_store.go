// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	sessions map[string]*ChatSession // keyed by session ID
	messages map[string]*Message     // keyed by message ID
	byStream map[string]string       // keyed by stream ID -> message ID
	order    []string                // message IDs in insertion order
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		sessions: make(map[string]*ChatSession),
		messages: make(map[string]*Message),
		byStream: make(map[string]string),
	}
}

// CreateSession stores a new chat session.
func (m *MockStore) CreateSession(ctx context.Context, session *ChatSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[session.ID]; ok {
		return ErrDuplicateSession
	}

	// Make a copy to avoid external modification
	s := *session
	m.sessions[s.ID] = &s
	return nil
}

// GetSession retrieves a session by ID.
func (m *MockStore) GetSession(ctx context.Context, id string) (*ChatSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	s := *session
	return &s, nil
}

// ListSessions returns a user's non-deleted sessions, newest first.
func (m *MockStore) ListSessions(ctx context.Context, ownerID string, limit int) ([]*ChatSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	var sessions []*ChatSession
	for _, session := range m.sessions {
		if session.OwnerID != ownerID || session.Status == SessionDeleted {
			continue
		}
		s := *session
		sessions = append(sessions, &s)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	if len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

// UpdateSessionStatus flips a session's status.
func (m *MockStore) UpdateSessionStatus(ctx context.Context, id string, status SessionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	session.Status = status
	session.UpdatedAt = time.Now().UTC()
	return nil
}

// ApplyCompletion folds a completed message into the session aggregates.
func (m *MockStore) ApplyCompletion(ctx context.Context, sessionID string, preview string, tokens int, cost float64, tags []string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	session.Preview = preview
	session.MessageCount++
	session.TotalTokens += tokens
	session.TotalCost += cost
	session.TopicTags = unionTags(session.TopicTags, tags)
	t := at
	session.LastMessageAt = &t
	session.UpdatedAt = at
	return nil
}

// SessionStats aggregates across a user's non-deleted sessions.
func (m *MockStore) SessionStats(ctx context.Context, ownerID string) (*SessionStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &SessionStats{TopicCounts: make(map[string]int)}
	for _, session := range m.sessions {
		if session.OwnerID != ownerID || session.Status == SessionDeleted {
			continue
		}
		stats.TotalSessions++
		stats.TotalMessages += session.MessageCount
		stats.TotalTokens += session.TotalTokens
		stats.TotalCost += session.TotalCost
		for _, tag := range session.TopicTags {
			stats.TopicCounts[tag]++
		}
	}
	return stats, nil
}

// CreateMessage stores a new message.
func (m *MockStore) CreateMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := copyMessage(msg)
	m.messages[stored.ID] = stored
	m.order = append(m.order, stored.ID)
	if stored.StreamID != "" {
		m.byStream[stored.StreamID] = stored.ID
	}
	return nil
}

// GetMessage retrieves a message by ID.
func (m *MockStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyMessage(msg), nil
}

// GetMessageByStream retrieves the message owning a stream ID.
func (m *MockStore) GetMessageByStream(ctx context.Context, streamID string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byStream[streamID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyMessage(m.messages[id]), nil
}

// ListMessages returns all messages in a session in insertion order.
func (m *MockStore) ListMessages(ctx context.Context, sessionID string) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var msgs []*Message
	for _, id := range m.order {
		msg := m.messages[id]
		if msg.ChatSessionID == sessionID {
			msgs = append(msgs, copyMessage(msg))
		}
	}
	return msgs, nil
}

// Transition conditionally moves a message between lifecycle statuses.
func (m *MockStore) Transition(ctx context.Context, streamID string, from []MessageStatus, to MessageStatus, mut Mutation) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byStream[streamID]
	if !ok {
		return false, nil
	}
	msg := m.messages[id]

	matched := false
	for _, st := range from {
		if msg.Status == st {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}

	msg.Status = to
	if mut.Content != nil {
		msg.Content = *mut.Content
	}
	if mut.Final != nil {
		msg.Final = *mut.Final
	}
	if mut.ClearPartial {
		msg.Partial = ""
	}
	if mut.PrefixNotice != nil {
		msg.Content = *mut.PrefixNotice + msg.Content
	}
	if mut.Metadata != nil {
		md := *mut.Metadata
		msg.Metadata = &md
	}
	if mut.Formatting != nil {
		f := *mut.Formatting
		msg.Formatting = &f
	}
	if mut.ClearLease {
		msg.LeaseExpires = nil
	}
	msg.UpdatedAt = time.Now().UTC()
	return true, nil
}

// AppendPartial appends delta to a streaming message's buffer.
func (m *MockStore) AppendPartial(ctx context.Context, streamID string, delta string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byStream[streamID]
	if !ok {
		return false, nil
	}
	msg := m.messages[id]
	if msg.Status != StatusStreaming {
		return false, nil
	}
	msg.Partial += delta
	msg.Content = msg.Partial
	msg.UpdatedAt = time.Now().UTC()
	return true, nil
}

// AppendChild adds childID to the parent's child list.
func (m *MockStore) AppendChild(ctx context.Context, messageID, childID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[messageID]
	if !ok {
		return ErrNotFound
	}
	msg.ChildIDs = append(msg.ChildIDs, childID)
	msg.UpdatedAt = time.Now().UTC()
	return nil
}

// RecordEdit appends prior content to a message's edit history.
func (m *MockStore) RecordEdit(ctx context.Context, messageID string, priorContent string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[messageID]
	if !ok {
		return ErrNotFound
	}
	msg.EditHistory = append(msg.EditHistory, priorContent)
	msg.UpdatedAt = time.Now().UTC()
	return nil
}

// CountBranchMessages counts messages carrying branchID in a session.
func (m *MockStore) CountBranchMessages(ctx context.Context, sessionID, branchID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, msg := range m.messages {
		if msg.ChatSessionID == sessionID && msg.Branch != nil && msg.Branch.ID == branchID {
			n++
		}
	}
	return n, nil
}

// DeactivateBranches clears the active flag on every branch in a session.
func (m *MockStore) DeactivateBranches(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, msg := range m.messages {
		if msg.ChatSessionID == sessionID && msg.Branch != nil {
			msg.Branch.Active = false
		}
	}
	return nil
}

// ActivateBranch marks every message on a branch active.
func (m *MockStore) ActivateBranch(ctx context.Context, sessionID, branchID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, msg := range m.messages {
		if msg.ChatSessionID == sessionID && msg.Branch != nil && msg.Branch.ID == branchID {
			msg.Branch.Active = true
			n++
		}
	}
	return n, nil
}

// ListBranchCounts returns one entry per distinct branch in the session.
func (m *MockStore) ListBranchCounts(ctx context.Context, sessionID string) ([]*BranchCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byID := make(map[string]*BranchCount)
	for _, id := range m.order {
		msg := m.messages[id]
		if msg.ChatSessionID != sessionID || msg.Branch == nil {
			continue
		}
		bc, ok := byID[msg.Branch.ID]
		if !ok {
			bc = &BranchCount{
				BranchID:        msg.Branch.ID,
				ParentMessageID: msg.Branch.ParentMessageID,
				Reason:          msg.Branch.Reason,
				CreatedAt:       msg.Branch.CreatedAt,
			}
			byID[msg.Branch.ID] = bc
		}
		bc.MessageCount++
		if msg.Branch.Active {
			bc.Active = true
		}
	}

	branches := make([]*BranchCount, 0, len(byID))
	for _, bc := range byID {
		branches = append(branches, bc)
	}
	sort.Slice(branches, func(i, j int) bool {
		return branches[i].CreatedAt.Before(branches[j].CreatedAt)
	})
	return branches, nil
}

// RenewLease extends the heartbeat lease on an in-flight message.
func (m *MockStore) RenewLease(ctx context.Context, streamID string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byStream[streamID]
	if !ok {
		return nil
	}
	msg := m.messages[id]
	if msg.Status == StatusPending || msg.Status == StatusStreaming {
		t := until
		msg.LeaseExpires = &t
	}
	return nil
}

// ListExpiredStreaming finds non-terminal messages with a lapsed lease.
func (m *MockStore) ListExpiredStreaming(ctx context.Context, now time.Time) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var msgs []*Message
	for _, id := range m.order {
		msg := m.messages[id]
		if msg.Status != StatusPending && msg.Status != StatusStreaming {
			continue
		}
		if msg.LeaseExpires != nil && msg.LeaseExpires.Before(now) {
			msgs = append(msgs, copyMessage(msg))
		}
	}
	return msgs, nil
}

// Ping always succeeds for the mock.
func (m *MockStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for the mock.
func (m *MockStore) Close() error {
	return nil
}

func copyMessage(msg *Message) *Message {
	c := *msg
	c.ChildIDs = append([]string(nil), msg.ChildIDs...)
	c.EditHistory = append([]string(nil), msg.EditHistory...)
	if msg.Branch != nil {
		b := *msg.Branch
		c.Branch = &b
	}
	if msg.Metadata != nil {
		md := *msg.Metadata
		md.LegalSources = append([]string(nil), msg.Metadata.LegalSources...)
		c.Metadata = &md
	}
	if msg.Formatting != nil {
		f := *msg.Formatting
		f.Sections = append([]string(nil), msg.Formatting.Sections...)
		f.Citations = append([]string(nil), msg.Formatting.Citations...)
		c.Formatting = &f
	}
	if msg.LeaseExpires != nil {
		t := *msg.LeaseExpires
		c.LeaseExpires = &t
	}
	return &c
}

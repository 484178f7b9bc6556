// ABOUTME: Store interface and data types for LawBuddy chat persistence
// ABOUTME: Defines ChatSession, Message structs and the Store interface for document operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateSession is returned when trying to create a session that already exists
var ErrDuplicateSession = errors.New("chat session already exists")

// SessionStatus is the lifecycle state of a chat session
type SessionStatus string

const (
	SessionActive   SessionStatus = "active"
	SessionArchived SessionStatus = "archived"
	SessionDeleted  SessionStatus = "deleted"
)

// Role identifies the author of a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// MessageStatus is the state-machine position of a message.
// Legal transitions: pending -> streaming -> {complete, failed, cancelled},
// plus pending -> {failed, cancelled} before the first chunk. Terminal states
// never transition out.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusStreaming MessageStatus = "streaming"
	StatusComplete  MessageStatus = "complete"
	StatusFailed    MessageStatus = "failed"
	StatusCancelled MessageStatus = "cancelled"
)

// IsTerminal reports whether s permits no further transitions.
func (s MessageStatus) IsTerminal() bool {
	return s == StatusComplete || s == StatusFailed || s == StatusCancelled
}

// BranchReason records why a conversation branch was created
type BranchReason string

const (
	BranchRegeneration   BranchReason = "regeneration"
	BranchEdit           BranchReason = "edit"
	BranchExplicitChoice BranchReason = "explicit_choice"
)

// ChatSession represents one conversation with its aggregate metadata.
// Sessions are soft-deleted: the status flips to deleted but the row stays
// while messages reference it.
type ChatSession struct {
	ID            string
	OwnerID       string
	Title         string
	Preview       string
	Status        SessionStatus
	MessageCount  int
	TotalTokens   int
	TotalCost     float64
	TopicTags     []string
	LastMessageAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Branch describes the named divergent continuation a message belongs to.
// Messages without a branch descriptor are trunk messages and are always part
// of the visible history regardless of which branch is active.
type Branch struct {
	ID              string
	ParentMessageID string
	Reason          BranchReason
	Active          bool
	CreatedAt       time.Time
}

// GenerationMetadata is the accounting attached to a completed assistant message
type GenerationMetadata struct {
	Model             string   `json:"model"`
	TokenCount        int      `json:"token_count"`
	CostEstimate      float64  `json:"cost_estimate"`
	ProcessingSeconds float64  `json:"processing_seconds"`
	LegalSources      []string `json:"legal_sources,omitempty"`
	ConfidenceScore   float64  `json:"confidence_score"`
}

// Formatting describes the structure detected in a completed response
type Formatting struct {
	HasFormatting bool     `json:"has_formatting"`
	Sections      []string `json:"sections,omitempty"`
	Citations     []string `json:"citations,omitempty"`
}

// Message is one node in a conversation tree.
// Content is the display text; Partial accumulates streamed chunks and is
// mirrored into Content while streaming; Final holds the finalized text once
// the message completes.
type Message struct {
	ID            string
	ChatSessionID string
	OwnerID       string
	Role          Role
	Status        MessageStatus
	Content       string
	Partial       string
	Final         string
	Version       int
	ParentID      string
	ChildIDs      []string
	Branch        *Branch
	StreamID      string
	EditHistory   []string
	Metadata      *GenerationMetadata
	Formatting    *Formatting
	LeaseExpires  *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Mutation carries the field updates applied together with a status
// transition. Nil fields are left untouched.
type Mutation struct {
	Content      *string
	Final        *string
	ClearPartial bool
	Metadata     *GenerationMetadata
	Formatting   *Formatting
	// PrefixNotice is prepended to the current display content, used to record
	// a failure or cancellation reason.
	PrefixNotice *string
	ClearLease   bool
}

// BranchCount is a per-branch message tally used by branch listings
type BranchCount struct {
	BranchID        string
	ParentMessageID string
	Reason          BranchReason
	Active          bool
	CreatedAt       time.Time
	MessageCount    int
}

// SessionStats is the aggregate view over a user's sessions
type SessionStats struct {
	TotalSessions int
	TotalMessages int
	TotalTokens   int
	TotalCost     float64
	TopicCounts   map[string]int
}

// Store defines the document-store interface for sessions and messages.
// All lifecycle transitions are expressed as conditional updates so that
// concurrent callers racing on the same stream resolve to exactly one winner.
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, session *ChatSession) error
	GetSession(ctx context.Context, id string) (*ChatSession, error)
	ListSessions(ctx context.Context, ownerID string, limit int) ([]*ChatSession, error)
	UpdateSessionStatus(ctx context.Context, id string, status SessionStatus) error
	// ApplyCompletion folds one completed message into the session aggregates:
	// message count +1, token/cost accumulation, topic-tag union, preview
	// snippet, last-message timestamp.
	ApplyCompletion(ctx context.Context, sessionID string, preview string, tokens int, cost float64, tags []string, at time.Time) error
	SessionStats(ctx context.Context, ownerID string) (*SessionStats, error)

	// Messages
	CreateMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	GetMessageByStream(ctx context.Context, streamID string) (*Message, error)
	ListMessages(ctx context.Context, sessionID string) ([]*Message, error)

	// Transition atomically moves the message identified by streamID from one
	// of the from statuses to to, applying mut in the same update. Returns
	// false (no error) when no message matched, which is how duplicate or
	// late calls degrade to no-ops.
	Transition(ctx context.Context, streamID string, from []MessageStatus, to MessageStatus, mut Mutation) (bool, error)

	// AppendPartial appends delta to the partial buffer and mirrors it into
	// the display content. Only applies while the message is streaming.
	AppendPartial(ctx context.Context, streamID string, delta string) (bool, error)

	AppendChild(ctx context.Context, messageID, childID string) error
	RecordEdit(ctx context.Context, messageID string, priorContent string) error

	// Branches
	CountBranchMessages(ctx context.Context, sessionID, branchID string) (int, error)
	DeactivateBranches(ctx context.Context, sessionID string) error
	ActivateBranch(ctx context.Context, sessionID, branchID string) (int, error)
	ListBranchCounts(ctx context.Context, sessionID string) ([]*BranchCount, error)

	// Leases for in-flight generations
	RenewLease(ctx context.Context, streamID string, until time.Time) error
	ListExpiredStreaming(ctx context.Context, now time.Time) ([]*Message, error)

	// Ping verifies the backing store is reachable
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}

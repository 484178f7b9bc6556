// ABOUTME: Tagged-union wire events sent to websocket clients
// ABOUTME: One concrete struct per type discriminator with a flat JSON envelope

package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Dacosmicgiant/LawBuddy/internal/store"
)

// Event type discriminators
const (
	TypeConnectionEstablished = "connection_established"
	TypeJoinedChat            = "joined_chat"
	TypeLeftChat              = "left_chat"
	TypeMessageSent           = "message_sent"
	TypeNewMessage            = "new_message"
	TypeAIStreamStart         = "ai_stream_start"
	TypeAIStreamChunk         = "ai_stream_chunk"
	TypeAIStreamComplete      = "ai_stream_complete"
	TypeAIStreamError         = "ai_stream_error"
	TypeAIStreamCancelled     = "ai_stream_cancelled"
	TypeBranchCreated         = "branch_created"
	TypeBranchSwitched        = "branch_switched"
	TypeBranchList            = "branch_list"
	TypeTypingIndicator       = "typing_indicator"
	TypeSystemMessage         = "system_message"
	TypePong                  = "pong"
	TypeError                 = "error"
)

// Event is a server-to-client wire event. Each implementation corresponds to
// exactly one type discriminator.
type Event interface {
	EventType() string
}

// Message is the wire representation of a stored message.
type Message struct {
	ID            string                    `json:"id"`
	ChatSessionID string                    `json:"chat_session_id"`
	Role          string                    `json:"role"`
	Status        string                    `json:"status"`
	Content       string                    `json:"content"`
	Version       int                       `json:"version"`
	ParentID      string                    `json:"parent_id,omitempty"`
	ChildIDs      []string                  `json:"child_ids,omitempty"`
	BranchID      string                    `json:"branch_id,omitempty"`
	Metadata      *store.GenerationMetadata `json:"metadata,omitempty"`
	Formatting    *store.Formatting         `json:"formatting,omitempty"`
	CreatedAt     time.Time                 `json:"created_at"`
}

// MessageFromStore converts a stored message to its wire form.
func MessageFromStore(msg *store.Message) Message {
	wire := Message{
		ID:            msg.ID,
		ChatSessionID: msg.ChatSessionID,
		Role:          string(msg.Role),
		Status:        string(msg.Status),
		Content:       msg.Content,
		Version:       msg.Version,
		ParentID:      msg.ParentID,
		ChildIDs:      msg.ChildIDs,
		Metadata:      msg.Metadata,
		Formatting:    msg.Formatting,
		CreatedAt:     msg.CreatedAt,
	}
	if msg.Branch != nil {
		wire.BranchID = msg.Branch.ID
	}
	return wire
}

// BranchInfo is the wire representation of a conversation branch.
type BranchInfo struct {
	BranchID        string    `json:"branch_id"`
	ParentMessageID string    `json:"parent_message_id,omitempty"`
	Reason          string    `json:"reason"`
	Active          bool      `json:"active"`
	MessageCount    int       `json:"message_count"`
	CreatedAt       time.Time `json:"created_at"`
}

// BranchInfoFromStore converts a store branch count to its wire form.
func BranchInfoFromStore(bc *store.BranchCount) BranchInfo {
	return BranchInfo{
		BranchID:        bc.BranchID,
		ParentMessageID: bc.ParentMessageID,
		Reason:          string(bc.Reason),
		Active:          bc.Active,
		MessageCount:    bc.MessageCount,
		CreatedAt:       bc.CreatedAt,
	}
}

type ConnectionEstablished struct {
	ConnectionID string    `json:"connection_id"`
	UserID       string    `json:"user_id"`
	Timestamp    time.Time `json:"timestamp"`
}

func (ConnectionEstablished) EventType() string { return TypeConnectionEstablished }

type JoinedChat struct {
	ChatID    string    `json:"chat_id"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

func (JoinedChat) EventType() string { return TypeJoinedChat }

type LeftChat struct {
	ChatID    string    `json:"chat_id"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

func (LeftChat) EventType() string { return TypeLeftChat }

// MessageSent is the direct acknowledgement to the sender.
type MessageSent struct {
	ChatID    string    `json:"chat_id"`
	Message   Message   `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func (MessageSent) EventType() string { return TypeMessageSent }

// NewMessage is the room broadcast for a message someone else sent.
type NewMessage struct {
	ChatID    string    `json:"chat_id"`
	Message   Message   `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func (NewMessage) EventType() string { return TypeNewMessage }

type AIStreamStart struct {
	ChatID    string    `json:"chat_id"`
	StreamID  string    `json:"stream_id"`
	MessageID string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`
}

func (AIStreamStart) EventType() string { return TypeAIStreamStart }

// AIStreamChunk carries one delta plus the accumulated content so far.
type AIStreamChunk struct {
	ChatID     string    `json:"chat_id"`
	StreamID   string    `json:"stream_id"`
	MessageID  string    `json:"message_id"`
	Chunk      string    `json:"chunk"`
	Content    string    `json:"content"`
	ChunkIndex int       `json:"chunk_index"`
	Timestamp  time.Time `json:"timestamp"`
}

func (AIStreamChunk) EventType() string { return TypeAIStreamChunk }

type AIStreamComplete struct {
	ChatID    string    `json:"chat_id"`
	StreamID  string    `json:"stream_id"`
	Message   Message   `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func (AIStreamComplete) EventType() string { return TypeAIStreamComplete }

type AIStreamError struct {
	ChatID    string    `json:"chat_id"`
	StreamID  string    `json:"stream_id"`
	MessageID string    `json:"message_id"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

func (AIStreamError) EventType() string { return TypeAIStreamError }

type AIStreamCancelled struct {
	ChatID    string    `json:"chat_id"`
	StreamID  string    `json:"stream_id"`
	MessageID string    `json:"message_id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

func (AIStreamCancelled) EventType() string { return TypeAIStreamCancelled }

type BranchCreated struct {
	ChatID    string     `json:"chat_id"`
	Branch    BranchInfo `json:"branch"`
	Message   Message    `json:"message"`
	Timestamp time.Time  `json:"timestamp"`
}

func (BranchCreated) EventType() string { return TypeBranchCreated }

type BranchSwitched struct {
	ChatID       string    `json:"chat_id"`
	BranchID     string    `json:"branch_id"`
	MessageCount int       `json:"message_count"`
	Timestamp    time.Time `json:"timestamp"`
}

func (BranchSwitched) EventType() string { return TypeBranchSwitched }

type BranchList struct {
	ChatID    string       `json:"chat_id"`
	Branches  []BranchInfo `json:"branches"`
	Timestamp time.Time    `json:"timestamp"`
}

func (BranchList) EventType() string { return TypeBranchList }

type TypingIndicator struct {
	ChatID    string    `json:"chat_id"`
	UserID    string    `json:"user_id"`
	Typing    bool      `json:"typing"`
	Timestamp time.Time `json:"timestamp"`
}

func (TypingIndicator) EventType() string { return TypeTypingIndicator }

type SystemMessage struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

func (SystemMessage) EventType() string { return TypeSystemMessage }

type Pong struct {
	Timestamp time.Time `json:"timestamp"`
}

func (Pong) EventType() string { return TypePong }

// Error is the typed failure acknowledgement. Code is a stable machine
// identifier such as "not_found" or "invalid_state".
type Error struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func (Error) EventType() string { return TypeError }

// Encode marshals an event into its flat JSON envelope with the type key
// injected alongside the event's own fields.
func Encode(e Event) ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding %s event: %w", e.EventType(), err)
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("flattening %s event: %w", e.EventType(), err)
	}

	typeTag, err := json.Marshal(e.EventType())
	if err != nil {
		return nil, fmt.Errorf("encoding type tag: %w", err)
	}
	envelope["type"] = typeTag

	return json.Marshal(envelope)
}

// Decode parses a wire envelope back into its concrete event. Used by client
// tooling and tests; the server only encodes.
func Decode(data []byte) (Event, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decoding event envelope: %w", err)
	}

	var event Event
	switch probe.Type {
	case TypeConnectionEstablished:
		event = &ConnectionEstablished{}
	case TypeJoinedChat:
		event = &JoinedChat{}
	case TypeLeftChat:
		event = &LeftChat{}
	case TypeMessageSent:
		event = &MessageSent{}
	case TypeNewMessage:
		event = &NewMessage{}
	case TypeAIStreamStart:
		event = &AIStreamStart{}
	case TypeAIStreamChunk:
		event = &AIStreamChunk{}
	case TypeAIStreamComplete:
		event = &AIStreamComplete{}
	case TypeAIStreamError:
		event = &AIStreamError{}
	case TypeAIStreamCancelled:
		event = &AIStreamCancelled{}
	case TypeBranchCreated:
		event = &BranchCreated{}
	case TypeBranchSwitched:
		event = &BranchSwitched{}
	case TypeBranchList:
		event = &BranchList{}
	case TypeTypingIndicator:
		event = &TypingIndicator{}
	case TypeSystemMessage:
		event = &SystemMessage{}
	case TypePong:
		event = &Pong{}
	case TypeError:
		event = &Error{}
	default:
		return nil, fmt.Errorf("unknown event type %q", probe.Type)
	}

	if err := json.Unmarshal(data, event); err != nil {
		return nil, fmt.Errorf("decoding %s event: %w", probe.Type, err)
	}
	return event, nil
}

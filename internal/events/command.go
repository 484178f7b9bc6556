// ABOUTME: Inbound client command parsing for the websocket protocol
// ABOUTME: Validates the type discriminator and per-type required fields

package events

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Command type discriminators
const (
	CmdJoinChat     = "join_chat"
	CmdLeaveChat    = "leave_chat"
	CmdMessage      = "message"
	CmdRegenerate   = "regenerate"
	CmdSwitchBranch = "switch_branch"
	CmdListBranches = "list_branches"
	CmdCancelStream = "cancel_stream"
	CmdTyping       = "typing"
	CmdPing         = "ping"
)

// ErrUnknownCommand indicates an unrecognized type discriminator.
var ErrUnknownCommand = errors.New("unknown command type")

// Command is a client-to-server websocket message.
type Command struct {
	Type      string `json:"type"`
	ChatID    string `json:"chat_id,omitempty"`
	Content   string `json:"content,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	BranchID  string `json:"branch_id,omitempty"`
	StreamID  string `json:"stream_id,omitempty"`
	Typing    bool   `json:"typing,omitempty"`
}

// ParseCommand decodes and validates an inbound command frame.
func ParseCommand(data []byte) (*Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, fmt.Errorf("decoding command: %w", err)
	}

	switch cmd.Type {
	case CmdJoinChat, CmdLeaveChat, CmdListBranches, CmdTyping:
		if cmd.ChatID == "" {
			return nil, fmt.Errorf("%s command requires chat_id", cmd.Type)
		}
	case CmdMessage:
		if cmd.ChatID == "" {
			return nil, fmt.Errorf("message command requires chat_id")
		}
		if cmd.Content == "" {
			return nil, fmt.Errorf("message command requires content")
		}
	case CmdRegenerate:
		if cmd.ChatID == "" || cmd.MessageID == "" {
			return nil, fmt.Errorf("regenerate command requires chat_id and message_id")
		}
	case CmdSwitchBranch:
		if cmd.ChatID == "" || cmd.BranchID == "" {
			return nil, fmt.Errorf("switch_branch command requires chat_id and branch_id")
		}
	case CmdCancelStream:
		if cmd.StreamID == "" {
			return nil, fmt.Errorf("cancel_stream command requires stream_id")
		}
	case CmdPing:
		// no fields required
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type)
	}

	return &cmd, nil
}

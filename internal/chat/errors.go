// ABOUTME: Typed failures raised by the chat lifecycle and branch operations
// ABOUTME: Ownership mismatches collapse into not-found to avoid existence leaks

package chat

import "errors"

var (
	// ErrNotFound covers both absent resources and ownership mismatches so
	// callers cannot probe for other users' data.
	ErrNotFound = errors.New("chat not found")

	// ErrChatDeleted indicates an operation against a soft-deleted session.
	ErrChatDeleted = errors.New("chat has been deleted")

	// ErrInvalidState indicates an operation not legal for the message's
	// current status. Callers treating the operation as idempotent log and
	// swallow it.
	ErrInvalidState = errors.New("operation not valid for current message state")

	// ErrEmptyContent indicates a user message with no content.
	ErrEmptyContent = errors.New("message content must not be empty")
)

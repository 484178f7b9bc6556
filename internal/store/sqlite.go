// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides session/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS chat_sessions (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			title TEXT NOT NULL,
			preview TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'active',
			message_count INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			total_cost REAL NOT NULL DEFAULT 0,
			topic_tags TEXT NOT NULL DEFAULT '[]',
			last_message_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_owner
			ON chat_sessions(owner_id, status);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			chat_session_id TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			role TEXT NOT NULL,
			status TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			partial TEXT NOT NULL DEFAULT '',
			final TEXT NOT NULL DEFAULT '',
			version INTEGER NOT NULL DEFAULT 1,
			parent_id TEXT NOT NULL DEFAULT '',
			child_ids TEXT NOT NULL DEFAULT '[]',
			branch_id TEXT,
			branch_parent_id TEXT,
			branch_reason TEXT,
			branch_active INTEGER,
			branch_created_at DATETIME,
			stream_id TEXT,
			edit_history TEXT NOT NULL DEFAULT '[]',
			metadata TEXT,
			formatting TEXT,
			lease_expires_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			FOREIGN KEY (chat_session_id) REFERENCES chat_sessions(id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_session_created
			ON messages(chat_session_id, created_at);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_stream
			ON messages(stream_id) WHERE stream_id IS NOT NULL;

		CREATE INDEX IF NOT EXISTS idx_messages_branch
			ON messages(chat_session_id, branch_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Ping verifies the database connection is alive
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateSession inserts a new chat session
func (s *SQLiteStore) CreateSession(ctx context.Context, session *ChatSession) error {
	tags, err := json.Marshal(session.TopicTags)
	if err != nil {
		return fmt.Errorf("encoding topic tags: %w", err)
	}

	query := `
		INSERT INTO chat_sessions (
			id, owner_id, title, preview, status, message_count, total_tokens,
			total_cost, topic_tags, last_message_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		session.ID,
		session.OwnerID,
		session.Title,
		session.Preview,
		string(session.Status),
		session.MessageCount,
		session.TotalTokens,
		session.TotalCost,
		string(tags),
		nullableTime(session.LastMessageAt),
		session.CreatedAt.UTC().Format(time.RFC3339Nano),
		session.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return ErrDuplicateSession
		}
		return fmt.Errorf("inserting session: %w", err)
	}

	s.logger.Debug("session created", "session_id", session.ID, "owner_id", session.OwnerID)
	return nil
}

const sessionColumns = `id, owner_id, title, preview, status, message_count,
	total_tokens, total_cost, topic_tags, last_message_at, created_at, updated_at`

// GetSession retrieves a session by id
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*ChatSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM chat_sessions WHERE id = ?`
	row := s.db.QueryRowContext(ctx, query, id)
	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}
	return session, nil
}

// ListSessions returns a user's sessions, most recently updated first,
// excluding soft-deleted ones.
func (s *SQLiteStore) ListSessions(ctx context.Context, ownerID string, limit int) ([]*ChatSession, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + sessionColumns + `
		FROM chat_sessions
		WHERE owner_id = ? AND status != 'deleted'
		ORDER BY updated_at DESC
		LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*ChatSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// UpdateSessionStatus flips the session status (soft delete, archive)
func (s *SQLiteStore) UpdateSessionStatus(ctx context.Context, id string, status SessionStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chat_sessions SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("updating session status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ApplyCompletion folds one completed message into the session aggregates.
// The tag union is computed in Go; the read-modify-write is acceptable because
// the session row is only mutated by lifecycle operations that already target
// a single message.
func (s *SQLiteStore) ApplyCompletion(ctx context.Context, sessionID string, preview string, tokens int, cost float64, tags []string, at time.Time) error {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	merged := unionTags(session.TopicTags, tags)
	encoded, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("encoding topic tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE chat_sessions SET
			message_count = message_count + 1,
			total_tokens = total_tokens + ?,
			total_cost = total_cost + ?,
			topic_tags = ?,
			preview = ?,
			last_message_at = ?,
			updated_at = ?
		WHERE id = ?`,
		tokens, cost, string(encoded), preview,
		at.UTC().Format(time.RFC3339Nano),
		at.UTC().Format(time.RFC3339Nano),
		sessionID)
	if err != nil {
		return fmt.Errorf("applying completion: %w", err)
	}
	return nil
}

// SessionStats aggregates counts, token/cost sums, and topic tallies over a
// user's non-deleted sessions.
func (s *SQLiteStore) SessionStats(ctx context.Context, ownerID string) (*SessionStats, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(message_count), 0),
		       COALESCE(SUM(total_tokens), 0), COALESCE(SUM(total_cost), 0)
		FROM chat_sessions
		WHERE owner_id = ? AND status != 'deleted'`, ownerID)

	stats := &SessionStats{TopicCounts: make(map[string]int)}
	if err := row.Scan(&stats.TotalSessions, &stats.TotalMessages, &stats.TotalTokens, &stats.TotalCost); err != nil {
		return nil, fmt.Errorf("aggregating sessions: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT topic_tags FROM chat_sessions
		WHERE owner_id = ? AND status != 'deleted'`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying topic tags: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning topic tags: %w", err)
		}
		var tags []string
		if err := json.Unmarshal([]byte(raw), &tags); err != nil {
			continue
		}
		for _, t := range tags {
			stats.TopicCounts[t]++
		}
	}
	return stats, rows.Err()
}

const messageColumns = `id, chat_session_id, owner_id, role, status, content,
	partial, final, version, parent_id, child_ids, branch_id, branch_parent_id,
	branch_reason, branch_active, branch_created_at, stream_id, edit_history,
	metadata, formatting, lease_expires_at, created_at, updated_at`

// CreateMessage inserts a new message
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *Message) error {
	childIDs, err := json.Marshal(msg.ChildIDs)
	if err != nil {
		return fmt.Errorf("encoding child ids: %w", err)
	}
	editHistory, err := json.Marshal(msg.EditHistory)
	if err != nil {
		return fmt.Errorf("encoding edit history: %w", err)
	}
	metadata, err := marshalNullable(msg.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	formatting, err := marshalNullable(msg.Formatting)
	if err != nil {
		return fmt.Errorf("encoding formatting: %w", err)
	}

	var branchID, branchParent, branchReason any
	var branchActive any
	var branchCreated any
	if msg.Branch != nil {
		branchID = msg.Branch.ID
		branchParent = msg.Branch.ParentMessageID
		branchReason = string(msg.Branch.Reason)
		branchActive = boolToInt(msg.Branch.Active)
		branchCreated = msg.Branch.CreatedAt.UTC().Format(time.RFC3339Nano)
	}

	query := `
		INSERT INTO messages (` + messageColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		msg.ID,
		msg.ChatSessionID,
		msg.OwnerID,
		string(msg.Role),
		string(msg.Status),
		msg.Content,
		msg.Partial,
		msg.Final,
		msg.Version,
		msg.ParentID,
		string(childIDs),
		branchID,
		branchParent,
		branchReason,
		branchActive,
		branchCreated,
		nullableString(msg.StreamID),
		string(editHistory),
		metadata,
		formatting,
		nullableTime(msg.LeaseExpires),
		msg.CreatedAt.UTC().Format(time.RFC3339Nano),
		msg.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("message created",
		"message_id", msg.ID,
		"session_id", msg.ChatSessionID,
		"role", msg.Role,
		"status", msg.Status,
	)
	return nil
}

// GetMessage retrieves a message by id
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = ?`
	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", err)
	}
	return msg, nil
}

// GetMessageByStream retrieves the message owning a stream id
func (s *SQLiteStore) GetMessageByStream(ctx context.Context, streamID string) (*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE stream_id = ?`
	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, streamID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message by stream: %w", err)
	}
	return msg, nil
}

// ListMessages returns all messages in a session in creation order
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]*Message, error) {
	query := `SELECT ` + messageColumns + `
		FROM messages
		WHERE chat_session_id = ?
		ORDER BY created_at ASC, id ASC`
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// Transition atomically moves the message owning streamID from one of the
// from statuses to to, applying mut in the same statement. The conditional
// WHERE clause is what makes racing complete/cancel calls resolve to exactly
// one winner: the loser matches zero rows and returns false.
func (s *SQLiteStore) Transition(ctx context.Context, streamID string, from []MessageStatus, to MessageStatus, mut Mutation) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("transition requires at least one source status")
	}

	sets := []string{"status = ?", "updated_at = ?"}
	args := []any{string(to), time.Now().UTC().Format(time.RFC3339Nano)}

	if mut.Content != nil {
		sets = append(sets, "content = ?")
		args = append(args, *mut.Content)
	}
	if mut.Final != nil {
		sets = append(sets, "final = ?")
		args = append(args, *mut.Final)
	}
	if mut.ClearPartial {
		sets = append(sets, "partial = ''")
	}
	if mut.PrefixNotice != nil {
		sets = append(sets, "content = ? || content")
		args = append(args, *mut.PrefixNotice)
	}
	if mut.Metadata != nil {
		encoded, err := json.Marshal(mut.Metadata)
		if err != nil {
			return false, fmt.Errorf("encoding metadata: %w", err)
		}
		sets = append(sets, "metadata = ?")
		args = append(args, string(encoded))
	}
	if mut.Formatting != nil {
		encoded, err := json.Marshal(mut.Formatting)
		if err != nil {
			return false, fmt.Errorf("encoding formatting: %w", err)
		}
		sets = append(sets, "formatting = ?")
		args = append(args, string(encoded))
	}
	if mut.ClearLease {
		sets = append(sets, "lease_expires_at = NULL")
	}

	placeholders := make([]string, len(from))
	args = append(args, streamID)
	for i, st := range from {
		placeholders[i] = "?"
		args = append(args, string(st))
	}

	query := fmt.Sprintf(
		"UPDATE messages SET %s WHERE stream_id = ? AND status IN (%s)",
		strings.Join(sets, ", "),
		strings.Join(placeholders, ", "),
	)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("transitioning message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading rows affected: %w", err)
	}
	if n > 0 {
		s.logger.Debug("message transitioned", "stream_id", streamID, "to", to)
	}
	return n > 0, nil
}

// AppendPartial appends delta to the streaming buffer and mirrors it into the
// display content. Only streaming messages match, so late chunks after a
// terminal transition are silent no-ops.
func (s *SQLiteStore) AppendPartial(ctx context.Context, streamID string, delta string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET
			partial = partial || ?1,
			content = partial || ?1,
			updated_at = ?2
		WHERE stream_id = ?3 AND status = 'streaming'`,
		delta, time.Now().UTC().Format(time.RFC3339Nano), streamID)
	if err != nil {
		return false, fmt.Errorf("appending chunk: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading rows affected: %w", err)
	}
	return n > 0, nil
}

// AppendChild adds childID to the parent's child list
func (s *SQLiteStore) AppendChild(ctx context.Context, messageID, childID string) error {
	msg, err := s.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	children := append(msg.ChildIDs, childID)
	encoded, err := json.Marshal(children)
	if err != nil {
		return fmt.Errorf("encoding child ids: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE messages SET child_ids = ?, updated_at = ? WHERE id = ?`,
		string(encoded), time.Now().UTC().Format(time.RFC3339Nano), messageID)
	if err != nil {
		return fmt.Errorf("appending child: %w", err)
	}
	return nil
}

// RecordEdit appends the prior content of a message to its edit history
func (s *SQLiteStore) RecordEdit(ctx context.Context, messageID string, priorContent string) error {
	msg, err := s.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	history := append(msg.EditHistory, priorContent)
	encoded, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("encoding edit history: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE messages SET edit_history = ?, updated_at = ? WHERE id = ?`,
		string(encoded), time.Now().UTC().Format(time.RFC3339Nano), messageID)
	if err != nil {
		return fmt.Errorf("recording edit: %w", err)
	}
	return nil
}

// CountBranchMessages counts messages carrying branchID within a session
func (s *SQLiteStore) CountBranchMessages(ctx context.Context, sessionID, branchID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE chat_session_id = ? AND branch_id = ?`,
		sessionID, branchID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting branch messages: %w", err)
	}
	return n, nil
}

// DeactivateBranches clears the active flag on every branch in a session
func (s *SQLiteStore) DeactivateBranches(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET branch_active = 0, updated_at = ?
		 WHERE chat_session_id = ? AND branch_id IS NOT NULL`,
		time.Now().UTC().Format(time.RFC3339Nano), sessionID)
	if err != nil {
		return fmt.Errorf("deactivating branches: %w", err)
	}
	return nil
}

// ActivateBranch sets the active flag on every message carrying branchID.
// Returns how many messages were activated; zero means the branch does not
// exist in this session.
func (s *SQLiteStore) ActivateBranch(ctx context.Context, sessionID, branchID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET branch_active = 1, updated_at = ?
		 WHERE chat_session_id = ? AND branch_id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), sessionID, branchID)
	if err != nil {
		return 0, fmt.Errorf("activating branch: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading rows affected: %w", err)
	}
	return int(n), nil
}

// ListBranchCounts returns one row per distinct branch in the session
func (s *SQLiteStore) ListBranchCounts(ctx context.Context, sessionID string) ([]*BranchCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT branch_id, MIN(branch_parent_id), MIN(branch_reason),
		       MAX(branch_active), MIN(branch_created_at), COUNT(*)
		FROM messages
		WHERE chat_session_id = ? AND branch_id IS NOT NULL
		GROUP BY branch_id
		ORDER BY MIN(branch_created_at) ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying branches: %w", err)
	}
	defer rows.Close()

	var branches []*BranchCount
	for rows.Next() {
		bc := &BranchCount{}
		var reason, createdStr string
		var active int
		if err := rows.Scan(&bc.BranchID, &bc.ParentMessageID, &reason, &active, &createdStr, &bc.MessageCount); err != nil {
			return nil, fmt.Errorf("scanning branch row: %w", err)
		}
		bc.Reason = BranchReason(reason)
		bc.Active = active != 0
		bc.CreatedAt, err = parseWireTime(createdStr)
		if err != nil {
			return nil, fmt.Errorf("parsing branch timestamp: %w", err)
		}
		branches = append(branches, bc)
	}
	return branches, rows.Err()
}

// RenewLease extends the heartbeat lease on an in-flight message
func (s *SQLiteStore) RenewLease(ctx context.Context, streamID string, until time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET lease_expires_at = ?
		WHERE stream_id = ? AND status IN ('pending', 'streaming')`,
		until.UTC().Format(time.RFC3339Nano), streamID)
	if err != nil {
		return fmt.Errorf("renewing lease: %w", err)
	}
	return nil
}

// ListExpiredStreaming finds messages stuck in a non-terminal state whose
// lease has lapsed, typically after a process restart.
func (s *SQLiteStore) ListExpiredStreaming(ctx context.Context, now time.Time) ([]*Message, error) {
	query := `SELECT ` + messageColumns + `
		FROM messages
		WHERE status IN ('pending', 'streaming')
		  AND lease_expires_at IS NOT NULL
		  AND lease_expires_at < ?`
	rows, err := s.db.QueryContext(ctx, query, now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("querying expired streams: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// scanner abstracts *sql.Row and *sql.Rows for the shared scan helpers
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (*ChatSession, error) {
	session := &ChatSession{}
	var status, tagsRaw, createdStr, updatedStr string
	var lastMsgStr sql.NullString

	err := sc.Scan(
		&session.ID,
		&session.OwnerID,
		&session.Title,
		&session.Preview,
		&status,
		&session.MessageCount,
		&session.TotalTokens,
		&session.TotalCost,
		&tagsRaw,
		&lastMsgStr,
		&createdStr,
		&updatedStr,
	)
	if err != nil {
		return nil, err
	}

	session.Status = SessionStatus(status)
	if err := json.Unmarshal([]byte(tagsRaw), &session.TopicTags); err != nil {
		return nil, fmt.Errorf("decoding topic tags: %w", err)
	}
	if lastMsgStr.Valid {
		t, err := parseWireTime(lastMsgStr.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_message_at: %w", err)
		}
		session.LastMessageAt = &t
	}
	if session.CreatedAt, err = parseWireTime(createdStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if session.UpdatedAt, err = parseWireTime(updatedStr); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return session, nil
}

func scanMessage(sc scanner) (*Message, error) {
	msg := &Message{}
	var role, status, childIDsRaw, editHistoryRaw, createdStr, updatedStr string
	var branchID, branchParent, branchReason, branchCreated sql.NullString
	var branchActive sql.NullInt64
	var streamID, metadataRaw, formattingRaw, leaseStr sql.NullString

	err := sc.Scan(
		&msg.ID,
		&msg.ChatSessionID,
		&msg.OwnerID,
		&role,
		&status,
		&msg.Content,
		&msg.Partial,
		&msg.Final,
		&msg.Version,
		&msg.ParentID,
		&childIDsRaw,
		&branchID,
		&branchParent,
		&branchReason,
		&branchActive,
		&branchCreated,
		&streamID,
		&editHistoryRaw,
		&metadataRaw,
		&formattingRaw,
		&leaseStr,
		&createdStr,
		&updatedStr,
	)
	if err != nil {
		return nil, err
	}

	msg.Role = Role(role)
	msg.Status = MessageStatus(status)
	if err := json.Unmarshal([]byte(childIDsRaw), &msg.ChildIDs); err != nil {
		return nil, fmt.Errorf("decoding child ids: %w", err)
	}
	if err := json.Unmarshal([]byte(editHistoryRaw), &msg.EditHistory); err != nil {
		return nil, fmt.Errorf("decoding edit history: %w", err)
	}
	if branchID.Valid {
		branch := &Branch{
			ID:              branchID.String,
			ParentMessageID: branchParent.String,
			Reason:          BranchReason(branchReason.String),
			Active:          branchActive.Valid && branchActive.Int64 != 0,
		}
		if branchCreated.Valid {
			branch.CreatedAt, err = parseWireTime(branchCreated.String)
			if err != nil {
				return nil, fmt.Errorf("parsing branch created_at: %w", err)
			}
		}
		msg.Branch = branch
	}
	if streamID.Valid {
		msg.StreamID = streamID.String
	}
	if metadataRaw.Valid {
		msg.Metadata = &GenerationMetadata{}
		if err := json.Unmarshal([]byte(metadataRaw.String), msg.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata: %w", err)
		}
	}
	if formattingRaw.Valid {
		msg.Formatting = &Formatting{}
		if err := json.Unmarshal([]byte(formattingRaw.String), msg.Formatting); err != nil {
			return nil, fmt.Errorf("decoding formatting: %w", err)
		}
	}
	if leaseStr.Valid {
		t, err := parseWireTime(leaseStr.String)
		if err != nil {
			return nil, fmt.Errorf("parsing lease: %w", err)
		}
		msg.LeaseExpires = &t
	}
	if msg.CreatedAt, err = parseWireTime(createdStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if msg.UpdatedAt, err = parseWireTime(updatedStr); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return msg, nil
}

func parseWireTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		// rows written by older tooling may lack sub-second precision
		return time.Parse(time.RFC3339, s)
	}
	return t, nil
}

func unionTags(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	merged := make([]string, 0, len(existing)+len(incoming))
	for _, t := range existing {
		if !seen[t] {
			seen[t] = true
			merged = append(merged, t)
		}
	}
	for _, t := range incoming {
		if !seen[t] {
			seen[t] = true
			merged = append(merged, t)
		}
	}
	return merged
}

func marshalNullable(v any) (any, error) {
	switch val := v.(type) {
	case *GenerationMetadata:
		if val == nil {
			return nil, nil
		}
	case *Formatting:
		if val == nil {
			return nil, nil
		}
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

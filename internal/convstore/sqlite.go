package convstore

import (
	"database/sql"
	"fmt"
	"time"
	"unicode/utf8"

	_ "github.com/mattn/go-sqlite3"
)

// OpenDB opens the shared SQLite database with the settings every store
// in this process relies on: WAL for concurrent readers, a busy timeout
// instead of immediate SQLITE_BUSY errors, enforced foreign keys, and
// immediate transactions so that write transactions take the write lock
// up front rather than deadlocking on upgrade.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// Store is a SQLite-backed conversation store.
type Store struct {
	db *sql.DB
}

// New creates a conversation store on db, creating its schema if needed.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_owner ON conversations(owner_id, updated_at);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		sequence_number INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL,
		tool_invocations TEXT,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE,
		UNIQUE (conversation_id, sequence_number)
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, sequence_number);
	`

	_, err := s.db.Exec(schema)
	return err
}

// CreateConversation starts a new empty conversation for ownerID.
func (s *Store) CreateConversation(ownerID int64) (*Conversation, error) {
	now := time.Now().UTC()

	res, err := s.db.Exec(`
		INSERT INTO conversations (owner_id, created_at, updated_at)
		VALUES (?, ?, ?)
	`, ownerID, now, now)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("conversation id: %w", err)
	}

	return &Conversation{
		ID:        id,
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// AppendMessage appends one message to a conversation, allocating the
// next sequence number atomically. The ownership check, the sequence
// allocation, the insert, and the conversation timestamp refresh all
// happen in a single immediate transaction, so concurrent appenders to
// the same conversation can never produce duplicate or skipped sequence
// numbers. The UNIQUE(conversation_id, sequence_number) index is the
// backstop if they somehow try.
//
// toolInvocations is the JSON invocation summary for assistant messages;
// pass "" for messages that triggered no tools.
func (s *Store) AppendMessage(conversationID, ownerID int64, role, content, toolInvocations string) (*Message, error) {
	if content == "" {
		return nil, fmt.Errorf("%w: content must not be empty", ErrValidation)
	}
	if role != RoleUser && role != RoleAssistant {
		return nil, fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var convOwner int64
	err = tx.QueryRow(`SELECT owner_id FROM conversations WHERE id = ?`, conversationID).Scan(&convOwner)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if convOwner != ownerID {
		// Same outcome as a missing conversation; see ErrNotFound.
		return nil, ErrNotFound
	}

	var seq int
	err = tx.QueryRow(`
		SELECT COALESCE(MAX(sequence_number), -1) + 1
		FROM messages WHERE conversation_id = ?
	`, conversationID).Scan(&seq)
	if err != nil {
		return nil, fmt.Errorf("allocate sequence: %w", err)
	}

	now := time.Now().UTC()

	var inv any
	if toolInvocations != "" {
		inv = toolInvocations
	}

	res, err := tx.Exec(`
		INSERT INTO messages (conversation_id, role, content, sequence_number, created_at, tool_invocations)
		VALUES (?, ?, ?, ?, ?, ?)
	`, conversationID, role, content, seq, now, inv)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	msgID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("message id: %w", err)
	}

	if _, err := tx.Exec(`UPDATE conversations SET updated_at = ? WHERE id = ?`, now, conversationID); err != nil {
		return nil, fmt.Errorf("update conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return &Message{
		ID:              msgID,
		ConversationID:  conversationID,
		Role:            role,
		Content:         content,
		SequenceNumber:  seq,
		CreatedAt:       now,
		ToolInvocations: toolInvocations,
	}, nil
}

// checkOwner verifies the conversation exists and belongs to ownerID.
// Both failure cases collapse into ErrNotFound.
func (s *Store) checkOwner(conversationID, ownerID int64) error {
	var convOwner int64
	err := s.db.QueryRow(`SELECT owner_id FROM conversations WHERE id = ?`, conversationID).Scan(&convOwner)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	if convOwner != ownerID {
		return ErrNotFound
	}
	return nil
}

// RecentMessages returns the most recent limit messages of a conversation
// in ascending sequence order.
func (s *Store) RecentMessages(conversationID, ownerID int64, limit int) ([]Message, error) {
	if err := s.checkOwner(conversationID, ownerID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	// Select the newest window, then flip back to chronological order.
	rows, err := s.db.Query(`
		SELECT id, conversation_id, role, content, sequence_number, created_at, tool_invocations
		FROM (
			SELECT * FROM messages
			WHERE conversation_id = ?
			ORDER BY sequence_number DESC
			LIMIT ?
		)
		ORDER BY sequence_number ASC
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// Messages returns a page of a conversation's messages in ascending
// sequence order, plus the total message count.
func (s *Store) Messages(conversationID, ownerID int64, limit, offset int) ([]Message, int, error) {
	if err := s.checkOwner(conversationID, ownerID); err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(`
		SELECT id, conversation_id, role, content, sequence_number, created_at, tool_invocations
		FROM messages
		WHERE conversation_id = ?
		ORDER BY sequence_number ASC
		LIMIT ? OFFSET ?
	`, conversationID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}

	return msgs, total, nil
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var msgs []Message
	for rows.Next() {
		var m Message
		var inv sql.NullString
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.SequenceNumber, &m.CreatedAt, &inv); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if inv.Valid {
			m.ToolInvocations = inv.String
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// GetConversation loads one conversation header, owner-scoped.
func (s *Store) GetConversation(conversationID, ownerID int64) (*Conversation, error) {
	var c Conversation
	err := s.db.QueryRow(`
		SELECT id, owner_id, created_at, updated_at
		FROM conversations WHERE id = ?
	`, conversationID).Scan(&c.ID, &c.OwnerID, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if c.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return &c, nil
}

// ListConversations returns summaries of the owner's conversations,
// most recently active first.
func (s *Store) ListConversations(ownerID int64) ([]Summary, error) {
	rows, err := s.db.Query(`
		SELECT c.id, c.created_at, c.updated_at,
		       (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id),
		       (SELECT m.content FROM messages m
		        WHERE m.conversation_id = c.id
		        ORDER BY m.sequence_number DESC LIMIT 1)
		FROM conversations c
		WHERE c.owner_id = ?
		ORDER BY c.updated_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		var sum Summary
		var preview sql.NullString
		if err := rows.Scan(&sum.ID, &sum.CreatedAt, &sum.UpdatedAt, &sum.MessageCount, &preview); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		if preview.Valid {
			sum.LastMessagePreview = truncate(preview.String, 100)
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

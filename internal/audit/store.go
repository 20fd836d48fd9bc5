// Package audit records every tool invocation the agent attempts.
// Records are append-only: once written they are never deleted, the only
// mutation is a one-time fill of the message link, and a failed tool
// call is itself a valid, successfully logged record. This is the single
// source of truth for what the agent actually did.
package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Record is one tool invocation attempt, success or failure.
type Record struct {
	ID           int64          `json:"id"`
	OwnerID      int64          `json:"owner_id"`
	MessageID    *int64         `json:"message_id,omitempty"`
	ToolName     string         `json:"tool_name"`
	Inputs       map[string]any `json:"inputs"`
	Outputs      map[string]any `json:"outputs,omitempty"`
	Success      bool           `json:"success"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Entry is the input to Record. MessageID stays nil at record time when
// tools run before the assistant turn is committed (the normal case);
// LinkMessage fills it in once that message exists.
type Entry struct {
	OwnerID      int64
	MessageID    *int64
	ToolName     string
	Inputs       map[string]any
	Outputs      map[string]any
	Success      bool
	ErrorMessage string
}

// Store is a SQLite-backed audit log.
type Store struct {
	db *sql.DB
}

// New creates an audit store on db, creating its schema if needed.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tool_invocations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id INTEGER NOT NULL,
		message_id INTEGER,
		tool_name TEXT NOT NULL,
		inputs TEXT NOT NULL,
		outputs TEXT,
		success BOOLEAN NOT NULL,
		error_message TEXT,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tool_invocations_owner ON tool_invocations(owner_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_tool_invocations_tool ON tool_invocations(tool_name);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record appends one invocation record. A record with success=false must
// carry an error message; that is the only rejected shape.
func (s *Store) Record(e Entry) (*Record, error) {
	if !e.Success && e.ErrorMessage == "" {
		return nil, fmt.Errorf("audit: failed invocation requires an error message")
	}

	inputs, err := json.Marshal(e.Inputs)
	if err != nil {
		return nil, fmt.Errorf("marshal inputs: %w", err)
	}

	var outputs any
	if e.Outputs != nil {
		data, err := json.Marshal(e.Outputs)
		if err != nil {
			return nil, fmt.Errorf("marshal outputs: %w", err)
		}
		outputs = string(data)
	}

	var msgID any
	if e.MessageID != nil {
		msgID = *e.MessageID
	}

	var errMsg any
	if e.ErrorMessage != "" {
		errMsg = e.ErrorMessage
	}

	now := time.Now().UTC()

	res, err := s.db.Exec(`
		INSERT INTO tool_invocations (owner_id, message_id, tool_name, inputs, outputs, success, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.OwnerID, msgID, e.ToolName, string(inputs), outputs, e.Success, errMsg, now)
	if err != nil {
		return nil, fmt.Errorf("insert record: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("record id: %w", err)
	}

	return &Record{
		ID:           id,
		OwnerID:      e.OwnerID,
		MessageID:    e.MessageID,
		ToolName:     e.ToolName,
		Inputs:       e.Inputs,
		Outputs:      e.Outputs,
		Success:      e.Success,
		ErrorMessage: e.ErrorMessage,
		CreatedAt:    now,
	}, nil
}

// ListByOwner returns the owner's most recent invocation records,
// newest first. toolName narrows to one tool when non-empty.
func (s *Store) ListByOwner(ownerID int64, toolName string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `
		SELECT id, owner_id, message_id, tool_name, inputs, outputs, success, error_message, created_at
		FROM tool_invocations
		WHERE owner_id = ?`
	args := []any{ownerID}
	if toolName != "" {
		query += ` AND tool_name = ?`
		args = append(args, toolName)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var msgID sql.NullInt64
		var inputs string
		var outputs, errMsg sql.NullString

		if err := rows.Scan(&r.ID, &r.OwnerID, &msgID, &r.ToolName, &inputs, &outputs, &r.Success, &errMsg, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}

		if msgID.Valid {
			r.MessageID = &msgID.Int64
		}
		if err := json.Unmarshal([]byte(inputs), &r.Inputs); err != nil {
			return nil, fmt.Errorf("decode inputs: %w", err)
		}
		if outputs.Valid {
			if err := json.Unmarshal([]byte(outputs.String), &r.Outputs); err != nil {
				return nil, fmt.Errorf("decode outputs: %w", err)
			}
		}
		if errMsg.Valid {
			r.ErrorMessage = errMsg.String
		}

		records = append(records, r)
	}
	return records, rows.Err()
}

// LinkMessage sets message_id on the owner's records once the assistant
// message that triggered them has been persisted. Only unlinked records
// are touched; everything else about a record stays immutable.
func (s *Store) LinkMessage(ownerID, messageID int64, recordIDs []int64) error {
	if len(recordIDs) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(recordIDs)), ",")
	args := []any{messageID, ownerID}
	for _, id := range recordIDs {
		args = append(args, id)
	}

	_, err := s.db.Exec(`
		UPDATE tool_invocations SET message_id = ?
		WHERE owner_id = ? AND message_id IS NULL AND id IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return fmt.Errorf("link records: %w", err)
	}
	return nil
}

// Stats returns the owner's invocation counts grouped by tool, plus
// totals. Other owners' activity never shows up here.
func (s *Store) Stats(ownerID int64) (map[string]any, error) {
	stats := make(map[string]any)

	var total, failures int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM tool_invocations WHERE owner_id = ?`, ownerID).Scan(&total); err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM tool_invocations WHERE owner_id = ? AND success = FALSE`, ownerID).Scan(&failures); err != nil {
		return nil, fmt.Errorf("count failures: %w", err)
	}
	stats["total_calls"] = total
	stats["failed_calls"] = failures

	byTool := make(map[string]int)
	rows, err := s.db.Query(`SELECT tool_name, COUNT(*) FROM tool_invocations WHERE owner_id = ? GROUP BY tool_name`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("group by tool: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var count int
		if err := rows.Scan(&name, &count); err != nil {
			return nil, fmt.Errorf("scan tool count: %w", err)
		}
		byTool[name] = count
	}
	stats["by_tool"] = byTool

	return stats, rows.Err()
}

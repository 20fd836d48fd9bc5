// Package taskstore provides owner-scoped task persistence. It is the
// storage collaborator behind both the task tools and the REST task
// endpoints; every operation is bound to exactly one owner.
package taskstore

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Validation limits, matching the tool schemas.
const (
	MaxTitleLen       = 500
	MaxDescriptionLen = 5000
)

var (
	// ErrNotFound is returned when a task does not exist or belongs to
	// another owner. The cases are never distinguished.
	ErrNotFound = errors.New("task not found")

	// ErrValidation is returned for out-of-range fields.
	ErrValidation = errors.New("invalid task")
)

// Task is a single to-do item.
type Task struct {
	ID          int64     `json:"id"`
	OwnerID     int64     `json:"owner_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Completed   bool      `json:"completed"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Update describes a partial task update. Nil fields are left unchanged.
type Update struct {
	Title       *string
	Description *string
	Completed   *bool
}

// Store is a SQLite-backed task store.
type Store struct {
	db *sql.DB
}

// New creates a task store on db, creating its schema if needed.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id INTEGER NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		completed BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_owner ON tasks(owner_id, completed);
	`
	_, err := s.db.Exec(schema)
	return err
}

func validateTitle(title string) error {
	if strings.TrimSpace(title) == "" || len(title) > MaxTitleLen {
		return fmt.Errorf("%w: title must be between 1 and %d characters", ErrValidation, MaxTitleLen)
	}
	return nil
}

func validateDescription(desc string) error {
	if len(desc) > MaxDescriptionLen {
		return fmt.Errorf("%w: description must be less than %d characters", ErrValidation, MaxDescriptionLen)
	}
	return nil
}

// Create inserts a new task for ownerID.
func (s *Store) Create(ownerID int64, title, description string) (*Task, error) {
	if err := validateTitle(title); err != nil {
		return nil, err
	}
	if err := validateDescription(description); err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	var desc any
	if description != "" {
		desc = description
	}

	res, err := s.db.Exec(`
		INSERT INTO tasks (owner_id, title, description, completed, created_at, updated_at)
		VALUES (?, ?, ?, FALSE, ?, ?)
	`, ownerID, title, desc, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("task id: %w", err)
	}

	return &Task{
		ID:          id,
		OwnerID:     ownerID,
		Title:       title,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Get loads one task, owner-scoped.
func (s *Store) Get(id, ownerID int64) (*Task, error) {
	row := s.db.QueryRow(`
		SELECT id, owner_id, title, description, completed, created_at, updated_at
		FROM tasks WHERE id = ? AND owner_id = ?
	`, id, ownerID)
	return scanTask(row)
}

// List returns the owner's tasks in creation order. If completed is
// non-nil, only tasks with that completion state are returned.
func (s *Store) List(ownerID int64, completed *bool) ([]Task, error) {
	query := `
		SELECT id, owner_id, title, description, completed, created_at, updated_at
		FROM tasks WHERE owner_id = ?`
	args := []any{ownerID}
	if completed != nil {
		query += ` AND completed = ?`
		args = append(args, *completed)
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTaskRows(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// Apply updates a task's fields, owner-scoped. Returns the updated task.
func (s *Store) Apply(id, ownerID int64, u Update) (*Task, error) {
	if u.Title != nil {
		if err := validateTitle(*u.Title); err != nil {
			return nil, err
		}
	}
	if u.Description != nil {
		if err := validateDescription(*u.Description); err != nil {
			return nil, err
		}
	}

	task, err := s.Get(id, ownerID)
	if err != nil {
		return nil, err
	}

	if u.Title != nil {
		task.Title = *u.Title
	}
	if u.Description != nil {
		task.Description = *u.Description
	}
	if u.Completed != nil {
		task.Completed = *u.Completed
	}
	task.UpdatedAt = time.Now().UTC()

	var desc any
	if task.Description != "" {
		desc = task.Description
	}

	res, err := s.db.Exec(`
		UPDATE tasks SET title = ?, description = ?, completed = ?, updated_at = ?
		WHERE id = ? AND owner_id = ?
	`, task.Title, desc, task.Completed, task.UpdatedAt, id, ownerID)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}

	return task, nil
}

// Delete removes a task, owner-scoped. Deleting a task that does not
// exist (or is not yours) returns ErrNotFound.
func (s *Store) Delete(id, ownerID int64) error {
	res, err := s.db.Exec(`DELETE FROM tasks WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row *sql.Row) (*Task, error) {
	t, err := scanInto(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	return t, nil
}

func scanTaskRows(rows *sql.Rows) (*Task, error) {
	t, err := scanInto(rows)
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	return t, nil
}

func scanInto(r rowScanner) (*Task, error) {
	var t Task
	var desc sql.NullString
	if err := r.Scan(&t.ID, &t.OwnerID, &t.Title, &desc, &t.Completed, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	if desc.Valid {
		t.Description = desc.String
	}
	return &t, nil
}

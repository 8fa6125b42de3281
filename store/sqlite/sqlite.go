// Package sqlite provides a durable core.Store backed by SQLite via the
// cgo-free modernc.org/sqlite driver. The schema is embedded and applied on
// open; a partial unique index enforces the single-manager invariant at the
// database level so concurrent inserts cannot race past it.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agora-ai/agora/core"
)

//go:embed schema.sql
var schema string

// Store is a SQLite-backed core.Store.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) a database at path and applies the schema.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("db path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := applySchema(db); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// NewInMemory opens a fresh in-memory database, useful for tests.
func NewInMemory() (*Store, error) {
	db, err := sql.Open("sqlite", "file::memory:?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// A single connection keeps the shared in-memory database alive.
	db.SetMaxOpenConns(1)
	if err := applySchema(db); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const timeLayout = time.RFC3339Nano

func encodeTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func decodeTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func encodeTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return encodeTime(*t)
}

// CreateSession stores a new session.
func (s *Store) CreateSession(ctx context.Context, sess core.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, name, owner_id, active, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Name, sess.OwnerID, boolToInt(sess.Active), encodeTime(sess.CreatedAt), encodeTime(sess.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession returns a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (core.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, owner_id, active, created_at, updated_at FROM sessions WHERE id = ?`, id)
	return scanSession(row, id)
}

func scanSession(row *sql.Row, id string) (core.Session, error) {
	var sess core.Session
	var active int
	var created, updated string
	if err := row.Scan(&sess.ID, &sess.Name, &sess.OwnerID, &active, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Session{}, fmt.Errorf("session %s: %w", id, core.ErrNotFound)
		}
		return core.Session{}, fmt.Errorf("scan session: %w", err)
	}
	sess.Active = active != 0
	sess.CreatedAt = decodeTime(created)
	sess.UpdatedAt = decodeTime(updated)
	return sess, nil
}

// UpdateSession replaces a stored session.
func (s *Store) UpdateSession(ctx context.Context, sess core.Session) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET name = ?, owner_id = ?, active = ?, updated_at = ? WHERE id = ?`,
		sess.Name, sess.OwnerID, boolToInt(sess.Active), encodeTime(sess.UpdatedAt), sess.ID,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return requireRow(res, "session", sess.ID)
}

// DeleteSession removes a session; foreign keys cascade to memberships,
// messages and resolutions.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return requireRow(res, "session", id)
}

// CreatePersona stores a persona snapshot.
func (s *Store) CreatePersona(ctx context.Context, p core.AgentPersona) error {
	examples, err := json.Marshal(p.Examples)
	if err != nil {
		return fmt.Errorf("marshal examples: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO personas (id, name, role, personality, system_instructions, examples_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Role, p.Personality, p.SystemInstructions, string(examples), encodeTime(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert persona: %w", err)
	}
	return nil
}

// GetPersona returns a persona by id.
func (s *Store) GetPersona(ctx context.Context, id string) (core.AgentPersona, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, role, personality, system_instructions, examples_json, created_at
		 FROM personas WHERE id = ?`, id)

	var p core.AgentPersona
	var examples, created string
	if err := row.Scan(&p.ID, &p.Name, &p.Role, &p.Personality, &p.SystemInstructions, &examples, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.AgentPersona{}, fmt.Errorf("persona %s: %w", id, core.ErrNotFound)
		}
		return core.AgentPersona{}, fmt.Errorf("scan persona: %w", err)
	}
	if err := json.Unmarshal([]byte(examples), &p.Examples); err != nil {
		return core.AgentPersona{}, fmt.Errorf("unmarshal examples: %w", err)
	}
	p.CreatedAt = decodeTime(created)
	return p, nil
}

// ListPersonas returns all personas in creation order.
func (s *Store) ListPersonas(ctx context.Context) ([]core.AgentPersona, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, role, personality, system_instructions, examples_json, created_at
		 FROM personas ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list personas: %w", err)
	}
	defer rows.Close()

	var res []core.AgentPersona
	for rows.Next() {
		var p core.AgentPersona
		var examples, created string
		if err := rows.Scan(&p.ID, &p.Name, &p.Role, &p.Personality, &p.SystemInstructions, &examples, &created); err != nil {
			return nil, fmt.Errorf("scan persona: %w", err)
		}
		if err := json.Unmarshal([]byte(examples), &p.Examples); err != nil {
			return nil, fmt.Errorf("unmarshal examples: %w", err)
		}
		p.CreatedAt = decodeTime(created)
		res = append(res, p)
	}
	return res, rows.Err()
}

// AddSessionAgent inserts a membership. The partial unique index on
// (session_id) WHERE is_manager makes a second manager insert fail, which is
// surfaced as core.ErrDuplicateManager.
func (s *Store) AddSessionAgent(ctx context.Context, a core.SessionAgent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_agents (id, session_id, persona_id, is_manager, created_at) VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.SessionID, a.PersonaID, boolToInt(a.IsManager), encodeTime(a.CreatedAt),
	)
	if err != nil {
		// Only the manager index maps to ErrDuplicateManager; a unique
		// violation on the primary key stays a plain insert error.
		if isUniqueViolation(err) && strings.Contains(err.Error(), "session_agents.session_id") {
			return fmt.Errorf("session %s: %w", a.SessionID, core.ErrDuplicateManager)
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("session %s: %w", a.SessionID, core.ErrNotFound)
		}
		return fmt.Errorf("insert session agent: %w", err)
	}
	return nil
}

// RemoveSessionAgent deletes a membership.
func (s *Store) RemoveSessionAgent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM session_agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session agent: %w", err)
	}
	return requireRow(res, "session agent", id)
}

// GetSessionAgent returns a membership by id.
func (s *Store) GetSessionAgent(ctx context.Context, id string) (core.SessionAgent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, persona_id, is_manager, created_at FROM session_agents WHERE id = ?`, id)
	a, err := scanSessionAgent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.SessionAgent{}, fmt.Errorf("session agent %s: %w", id, core.ErrNotFound)
		}
		return core.SessionAgent{}, err
	}
	return a, nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanSessionAgent(row rowScanner) (core.SessionAgent, error) {
	var a core.SessionAgent
	var manager int
	var created string
	if err := row.Scan(&a.ID, &a.SessionID, &a.PersonaID, &manager, &created); err != nil {
		return core.SessionAgent{}, err
	}
	a.IsManager = manager != 0
	a.CreatedAt = decodeTime(created)
	return a, nil
}

// ListSessionAgents returns memberships in creation order.
func (s *Store) ListSessionAgents(ctx context.Context, sessionID string) ([]core.SessionAgent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, persona_id, is_manager, created_at FROM session_agents
		 WHERE session_id = ? ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session agents: %w", err)
	}
	defer rows.Close()

	var res []core.SessionAgent
	for rows.Next() {
		a, err := scanSessionAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session agent: %w", err)
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// FindManager returns the membership flagged as manager, or core.ErrNotFound.
func (s *Store) FindManager(ctx context.Context, sessionID string) (core.SessionAgent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, persona_id, is_manager, created_at FROM session_agents
		 WHERE session_id = ? AND is_manager = 1`, sessionID)
	a, err := scanSessionAgent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.SessionAgent{}, fmt.Errorf("manager for session %s: %w", sessionID, core.ErrNotFound)
		}
		return core.SessionAgent{}, err
	}
	return a, nil
}

// AppendMessage stores a message.
func (s *Store) AppendMessage(ctx context.Context, m core.Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, content, author_id, parent_id, recipient_id, private, seq, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, m.Content, m.AuthorID, m.ParentID, m.RecipientID, boolToInt(m.Private), m.Seq, encodeTime(m.CreatedAt),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("session %s: %w", m.SessionID, core.ErrNotFound)
		}
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// GetMessage returns a message by id.
func (s *Store) GetMessage(ctx context.Context, id string) (core.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, content, author_id, parent_id, recipient_id, private, seq, created_at
		 FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Message{}, fmt.Errorf("message %s: %w", id, core.ErrNotFound)
		}
		return core.Message{}, err
	}
	return m, nil
}

func scanMessage(row rowScanner) (core.Message, error) {
	var m core.Message
	var private int
	var created string
	if err := row.Scan(&m.ID, &m.SessionID, &m.Content, &m.AuthorID, &m.ParentID, &m.RecipientID, &private, &m.Seq, &created); err != nil {
		return core.Message{}, err
	}
	m.Private = private != 0
	m.CreatedAt = decodeTime(created)
	return m, nil
}

// ListMessages returns a session's messages in sequence order.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]core.Message, error) {
	return s.queryMessages(ctx,
		`SELECT id, session_id, content, author_id, parent_id, recipient_id, private, seq, created_at
		 FROM messages WHERE session_id = ? ORDER BY seq`, sessionID)
}

// ListReplies returns the children of a parent message in sequence order.
func (s *Store) ListReplies(ctx context.Context, parentID string) ([]core.Message, error) {
	return s.queryMessages(ctx,
		`SELECT id, session_id, content, author_id, parent_id, recipient_id, private, seq, created_at
		 FROM messages WHERE parent_id = ? ORDER BY seq`, parentID)
}

func (s *Store) queryMessages(ctx context.Context, query string, arg any) ([]core.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var res []core.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// CreateResolution stores a new resolution.
func (s *Store) CreateResolution(ctx context.Context, r core.Resolution) error {
	state, err := json.Marshal(r.State)
	if err != nil {
		return fmt.Errorf("marshal resolution state: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO resolutions (id, session_id, conflict_message_id, method, status, state_json,
		 resolved_by_id, result_message_id, failure_reason, created_at, updated_at, resolved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SessionID, r.ConflictMessageID, string(r.Method), string(r.Status), string(state),
		r.ResolvedByID, r.ResultMessageID, r.FailureReason,
		encodeTime(r.CreatedAt), encodeTime(r.UpdatedAt), encodeTimePtr(r.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("insert resolution: %w", err)
	}
	return nil
}

// GetResolution returns a resolution by id.
func (s *Store) GetResolution(ctx context.Context, id string) (core.Resolution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, conflict_message_id, method, status, state_json,
		 resolved_by_id, result_message_id, failure_reason, created_at, updated_at, resolved_at
		 FROM resolutions WHERE id = ?`, id)
	r, err := scanResolution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Resolution{}, fmt.Errorf("resolution %s: %w", id, core.ErrNotFound)
		}
		return core.Resolution{}, err
	}
	return r, nil
}

func scanResolution(row rowScanner) (core.Resolution, error) {
	var r core.Resolution
	var method, status, state, created, updated string
	var resolved sql.NullString
	if err := row.Scan(&r.ID, &r.SessionID, &r.ConflictMessageID, &method, &status, &state,
		&r.ResolvedByID, &r.ResultMessageID, &r.FailureReason, &created, &updated, &resolved); err != nil {
		return core.Resolution{}, err
	}
	r.Method = core.ResolutionMethod(method)
	r.Status = core.ResolutionStatus(status)
	if err := json.Unmarshal([]byte(state), &r.State); err != nil {
		return core.Resolution{}, fmt.Errorf("unmarshal resolution state: %w", err)
	}
	r.CreatedAt = decodeTime(created)
	r.UpdatedAt = decodeTime(updated)
	if resolved.Valid {
		t := decodeTime(resolved.String)
		r.ResolvedAt = &t
	}
	return r, nil
}

// UpdateResolution replaces a stored resolution.
func (s *Store) UpdateResolution(ctx context.Context, r core.Resolution) error {
	state, err := json.Marshal(r.State)
	if err != nil {
		return fmt.Errorf("marshal resolution state: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE resolutions SET status = ?, state_json = ?, resolved_by_id = ?, result_message_id = ?,
		 failure_reason = ?, updated_at = ?, resolved_at = ? WHERE id = ?`,
		string(r.Status), string(state), r.ResolvedByID, r.ResultMessageID,
		r.FailureReason, encodeTime(r.UpdatedAt), encodeTimePtr(r.ResolvedAt), r.ID,
	)
	if err != nil {
		return fmt.Errorf("update resolution: %w", err)
	}
	return requireRow(res, "resolution", r.ID)
}

// ListResolutions returns a session's resolutions in creation order.
func (s *Store) ListResolutions(ctx context.Context, sessionID string) ([]core.Resolution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, conflict_message_id, method, status, state_json,
		 resolved_by_id, result_message_id, failure_reason, created_at, updated_at, resolved_at
		 FROM resolutions WHERE session_id = ? ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list resolutions: %w", err)
	}
	defer rows.Close()

	var res []core.Resolution
	for rows.Next() {
		r, err := scanResolution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan resolution: %w", err)
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireRow(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", entity, id, core.ErrNotFound)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

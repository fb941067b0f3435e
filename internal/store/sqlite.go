package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/parley-dev/parley/internal/adapter"
	"github.com/parley-dev/parley/internal/id"
)

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	path        TEXT NOT NULL UNIQUE,
	created_at  TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS chats (
	id                  TEXT PRIMARY KEY,
	project_id          TEXT NOT NULL REFERENCES projects(id),
	adapter_id          TEXT NOT NULL,
	title               TEXT NOT NULL DEFAULT '',
	model               TEXT NOT NULL DEFAULT '',
	permission_mode     TEXT NOT NULL DEFAULT 'default',
	external_session_id TEXT NOT NULL DEFAULT '',
	worktree_path       TEXT NOT NULL DEFAULT '',
	worktree_branch     TEXT NOT NULL DEFAULT '',
	process_state       TEXT NOT NULL DEFAULT 'stopped',
	input_tokens        INTEGER NOT NULL DEFAULT 0,
	output_tokens       INTEGER NOT NULL DEFAULT 0,
	cost_usd            REAL NOT NULL DEFAULT 0,
	created_at          TIMESTAMP NOT NULL,
	updated_at          TIMESTAMP NOT NULL,
	archived_at         TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_chats_project ON chats(project_id);

CREATE TABLE IF NOT EXISTS messages (
	id          TEXT PRIMARY KEY,
	chat_id     TEXT NOT NULL REFERENCES chats(id),
	type        TEXT NOT NULL,
	blocks      TEXT NOT NULL,
	meta        TEXT NOT NULL DEFAULT '{}',
	created_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, created_at);

CREATE TABLE IF NOT EXISTS settings (
	key    TEXT PRIMARY KEY,
	value  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS mentions (
	chat_id     TEXT NOT NULL REFERENCES chats(id),
	value       TEXT NOT NULL,
	created_at  TIMESTAMP NOT NULL,
	PRIMARY KEY (chat_id, value)
);

CREATE TABLE IF NOT EXISTS modified_files (
	chat_id     TEXT NOT NULL REFERENCES chats(id),
	path        TEXT NOT NULL,
	created_at  TIMESTAMP NOT NULL,
	PRIMARY KEY (chat_id, path)
);

CREATE TABLE IF NOT EXISTS plan_files (
	chat_id     TEXT NOT NULL REFERENCES chats(id),
	path        TEXT NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMP NOT NULL,
	PRIMARY KEY (chat_id, path)
);

CREATE TABLE IF NOT EXISTS skill_files (
	chat_id     TEXT NOT NULL REFERENCES chats(id),
	name        TEXT NOT NULL,
	path        TEXT NOT NULL,
	created_at  TIMESTAMP NOT NULL,
	PRIMARY KEY (chat_id, name)
);
`

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path and runs
// migrations.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite handles one writer at a time; a single connection avoids
	// SQLITE_BUSY churn under concurrent chat activity.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) CreateProject(ctx context.Context, p *Project) error {
	if p.ID == "" {
		p.ID = id.NewUUID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, path, created_at) VALUES (?, ?, ?, ?)`,
		p.ID, p.Name, p.Path, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetProject(ctx context.Context, projectID string) (*Project, error) {
	var p Project
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, path, created_at FROM projects WHERE id = ?`, projectID).
		Scan(&p.ID, &p.Name, &p.Path, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return &p, nil
}

func (s *SQLiteStore) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, path, created_at FROM projects ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()
	var out []*Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Path, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) RemoveProjectWithChats(ctx context.Context, projectID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"mentions", "modified_files", "plan_files", "skill_files", "messages"} {
		q := fmt.Sprintf(`DELETE FROM %s WHERE chat_id IN (SELECT id FROM chats WHERE project_id = ?)`, table)
		if _, err := tx.ExecContext(ctx, q, projectID); err != nil {
			return fmt.Errorf("remove project chats: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE project_id = ?`, projectID); err != nil {
		return fmt.Errorf("remove project chats: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, projectID); err != nil {
		return fmt.Errorf("remove project: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) CreateChat(ctx context.Context, c *Chat) error {
	if c.ID == "" {
		c.ID = id.NewUUID()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.ProcessState == "" {
		c.ProcessState = ProcessStopped
	}
	if c.PermissionMode == "" {
		c.PermissionMode = adapter.ModeDefault
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chats (
			id, project_id, adapter_id, title, model, permission_mode,
			external_session_id, worktree_path, worktree_branch, process_state,
			input_tokens, output_tokens, cost_usd, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ProjectID, c.AdapterID, c.Title, c.Model, c.PermissionMode,
		c.ExternalSessionID, c.WorktreePath, c.WorktreeBranch, c.ProcessState,
		c.InputTokens, c.OutputTokens, c.CostUSD, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create chat: %w", err)
	}
	return nil
}

const chatColumns = `id, project_id, adapter_id, title, model, permission_mode,
	external_session_id, worktree_path, worktree_branch, process_state,
	input_tokens, output_tokens, cost_usd, created_at, updated_at, archived_at`

func scanChat(row interface{ Scan(...any) error }) (*Chat, error) {
	var c Chat
	var archived sql.NullTime
	err := row.Scan(&c.ID, &c.ProjectID, &c.AdapterID, &c.Title, &c.Model,
		&c.PermissionMode, &c.ExternalSessionID, &c.WorktreePath,
		&c.WorktreeBranch, &c.ProcessState, &c.InputTokens, &c.OutputTokens,
		&c.CostUSD, &c.CreatedAt, &c.UpdatedAt, &archived)
	if err != nil {
		return nil, err
	}
	if archived.Valid {
		t := archived.Time
		c.ArchivedAt = &t
	}
	return &c, nil
}

func (s *SQLiteStore) GetChat(ctx context.Context, chatID string) (*Chat, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+chatColumns+` FROM chats WHERE id = ?`, chatID)
	c, err := scanChat(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) UpdateChat(ctx context.Context, chatID string, upd ChatUpdate) (*Chat, error) {
	var sets []string
	var args []any
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if upd.Title != nil {
		add("title", *upd.Title)
	}
	if upd.AdapterID != nil {
		add("adapter_id", *upd.AdapterID)
	}
	if upd.Model != nil {
		add("model", *upd.Model)
	}
	if upd.PermissionMode != nil {
		add("permission_mode", *upd.PermissionMode)
	}
	if upd.ExternalSessionID != nil {
		add("external_session_id", *upd.ExternalSessionID)
	}
	if upd.WorktreePath != nil {
		add("worktree_path", *upd.WorktreePath)
	}
	if upd.WorktreeBranch != nil {
		add("worktree_branch", *upd.WorktreeBranch)
	}
	if upd.ProcessState != nil {
		add("process_state", *upd.ProcessState)
	}
	if upd.InputTokens != nil {
		add("input_tokens", *upd.InputTokens)
	}
	if upd.OutputTokens != nil {
		add("output_tokens", *upd.OutputTokens)
	}
	if upd.CostUSD != nil {
		add("cost_usd", *upd.CostUSD)
	}
	if len(sets) > 0 {
		add("updated_at", time.Now().UTC())
		args = append(args, chatID)
		q := `UPDATE chats SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
		res, err := s.db.ExecContext(ctx, q, args...)
		if err != nil {
			return nil, fmt.Errorf("update chat: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, ErrNotFound
		}
	}
	return s.GetChat(ctx, chatID)
}

func (s *SQLiteStore) ListChats(ctx context.Context, projectID string) ([]*Chat, error) {
	q := `SELECT ` + chatColumns + ` FROM chats`
	var args []any
	if projectID != "" {
		q += ` WHERE project_id = ?`
		args = append(args, projectID)
	}
	q += ` ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()
	var out []*Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ArchiveChat(ctx context.Context, chatID string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE chats SET archived_at = ?, updated_at = ? WHERE id = ?`,
		now, now, chatID)
	if err != nil {
		return fmt.Errorf("archive chat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteChat(ctx context.Context, chatID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, table := range []string{"mentions", "modified_files", "plan_files", "skill_files", "messages"} {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE chat_id = ?`, table), chatID); err != nil {
			return fmt.Errorf("delete chat: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, chatID); err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, m *ChatMessage) error {
	if m.ID == "" {
		m.ID = id.NewUUID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	blocks, err := json.Marshal(m.Blocks)
	if err != nil {
		return fmt.Errorf("marshal blocks: %w", err)
	}
	meta := []byte("{}")
	if len(m.Meta) > 0 {
		meta, err = json.Marshal(m.Meta)
		if err != nil {
			return fmt.Errorf("marshal meta: %w", err)
		}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, chat_id, type, blocks, meta, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.ChatID, m.Type, string(blocks), string(meta), m.CreatedAt)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, chatID string, limit int) ([]ChatMessage, error) {
	q := `SELECT id, chat_id, type, blocks, meta, created_at FROM messages WHERE chat_id = ?`
	var args []any = []any{chatID}
	if limit > 0 {
		// Most recent N, returned oldest first.
		q = `SELECT * FROM (` + q + ` ORDER BY created_at DESC, id DESC LIMIT ?) ORDER BY created_at, id`
		args = append(args, limit)
	} else {
		q += ` ORDER BY created_at, id`
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	var out []ChatMessage
	for rows.Next() {
		var m ChatMessage
		var blocks, meta string
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Type, &blocks, &meta, &m.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(blocks), &m.Blocks); err != nil {
			return nil, fmt.Errorf("unmarshal blocks: %w", err)
		}
		if meta != "" && meta != "{}" {
			if err := json.Unmarshal([]byte(meta), &m.Meta); err != nil {
				return nil, fmt.Errorf("unmarshal meta: %w", err)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteMessages(ctx context.Context, chatID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get setting: %w", err)
	}
	return v, nil
}

func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AddMention(ctx context.Context, chatID, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO mentions (chat_id, value, created_at) VALUES (?, ?, ?)`,
		chatID, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("add mention: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AddModifiedFile(ctx context.Context, chatID, path string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO modified_files (chat_id, path, created_at) VALUES (?, ?, ?)`,
		chatID, path, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("add modified file: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AddPlanFile(ctx context.Context, chatID, path, title string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO plan_files (chat_id, path, title, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(chat_id, path) DO UPDATE SET title = excluded.title`,
		chatID, path, title, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("add plan file: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AddSkillFile(ctx context.Context, chatID, name, path string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO skill_files (chat_id, name, path, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(chat_id, name) DO UPDATE SET path = excluded.path`,
		chatID, name, path, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("add skill file: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListPlanFiles(ctx context.Context, chatID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path FROM plan_files WHERE chat_id = ? ORDER BY created_at`, chatID)
	if err != nil {
		return nil, fmt.Errorf("list plan files: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

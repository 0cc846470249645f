// Package sqlstore implements ports.PersistenceBackend on SQLite or PostgreSQL.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/aretw0/blueflow/pkg/domain"
)

// Config holds database configuration.
type Config struct {
	// DSN is a sqlite:// or postgres:// URL.
	DSN string
	// MaxOpenConns bounds the pool. SQLite always uses one connection.
	MaxOpenConns int
}

func (c Config) withDefaults() Config {
	if c.DSN == "" {
		c.DSN = "sqlite://blueflow.db"
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 10
	}
	return c
}

// Store is a SQL-backed persistence backend. Safe for concurrent use.
type Store struct {
	db      *sql.DB
	dialect dialect
}

// Open connects to the database named by cfg.DSN and creates the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	cfg = cfg.withDefaults()
	d, dsn, err := parseDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}
	if d.name == sqliteDialect.name {
		dsn += "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", d.name, err)
	}
	if d.name == sqliteDialect.name {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	s := &Store{db: db, dialect: d}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Dialect returns "sqlite" or "postgres".
func (s *Store) Dialect() string { return s.dialect.name }

func (s *Store) initSchema(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, s.dialect.schema())
	return err
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.dialect.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.dialect.rebind(query), args...)
}

func (s *Store) LoadChatState(ctx context.Context, chatID int64) (*domain.ChatState, error) {
	st := domain.ChatState{ChatID: chatID}
	err := s.queryRow(ctx, `
		SELECT current_node_id, iteration, terminated, created_at, updated_at
		FROM chat_states WHERE chat_id = ?`, chatID,
	).Scan(&st.CurrentNodeID, &st.Iteration, &st.Terminated, &st.CreatedAt, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrChatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load chat state: %w", err)
	}
	return &st, nil
}

func (s *Store) SaveChatState(ctx context.Context, state *domain.ChatState) error {
	_, err := s.exec(ctx, `
		INSERT INTO chat_states (chat_id, current_node_id, iteration, terminated, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (chat_id) DO UPDATE SET
			current_node_id = excluded.current_node_id,
			iteration = excluded.iteration,
			terminated = excluded.terminated,
			updated_at = excluded.updated_at`,
		state.ChatID, state.CurrentNodeID, state.Iteration, state.Terminated,
		utc(state.CreatedAt), utc(state.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save chat state: %w", err)
	}
	return nil
}

func (s *Store) AppendMessage(ctx context.Context, msg *domain.Message) error {
	_, err := s.exec(ctx, `
		INSERT INTO messages (chat_id, platform_message_id, direction, body, node_id, iteration, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ChatID, msg.PlatformMessageID, string(msg.Direction), msg.Body, msg.NodeID, msg.Iteration, utc(msg.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

func (s *Store) SaveKVEntry(ctx context.Context, e *domain.KVEntry) error {
	_, err := s.exec(ctx, `
		INSERT INTO kv_entries (chat_id, node_id, key, iteration, value, attempt_no, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (chat_id, node_id, key, iteration) DO UPDATE SET
			value = excluded.value,
			attempt_no = excluded.attempt_no,
			created_at = excluded.created_at`,
		e.ChatID, e.NodeID, e.Key, e.Iteration, e.Value, e.AttemptNo, utc(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save kv entry: %w", err)
	}
	return nil
}

func (s *Store) LoadKVEntry(ctx context.Context, chatID int64, nodeID int, key string, iteration int) (*domain.KVEntry, error) {
	e := domain.KVEntry{ChatID: chatID, NodeID: nodeID, Key: key, Iteration: iteration}
	err := s.queryRow(ctx, `
		SELECT value, attempt_no, created_at FROM kv_entries
		WHERE chat_id = ? AND node_id = ? AND key = ? AND iteration = ?`,
		chatID, nodeID, key, iteration,
	).Scan(&e.Value, &e.AttemptNo, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load kv entry: %w", err)
	}
	return &e, nil
}

func (s *Store) LoadContext(ctx context.Context, chatID int64) (*domain.Context, error) {
	var (
		raw     string
		version int
	)
	err := s.queryRow(ctx, `SELECT value, version FROM contexts WHERE chat_id = ?`, chatID).Scan(&raw, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load context: %w", err)
	}
	c := &domain.Context{ChatID: chatID, Version: version, Value: make(map[string]any)}
	if err := json.Unmarshal([]byte(raw), &c.Value); err != nil {
		return nil, fmt.Errorf("failed to decode context: %w", err)
	}
	return c, nil
}

func (s *Store) SaveContext(ctx context.Context, c *domain.Context, expectedVersion int) error {
	value := c.Value
	if value == nil {
		value = map[string]any{}
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode context: %w", err)
	}
	now := utc(time.Now())

	var res sql.Result
	if expectedVersion == 0 {
		res, err = s.exec(ctx, `
			INSERT INTO contexts (chat_id, value, version, updated_at) VALUES (?, ?, 1, ?)
			ON CONFLICT (chat_id) DO NOTHING`,
			c.ChatID, string(raw), now)
	} else {
		res, err = s.exec(ctx, `
			UPDATE contexts SET value = ?, version = ?, updated_at = ?
			WHERE chat_id = ? AND version = ?`,
			string(raw), expectedVersion+1, now, c.ChatID, expectedVersion)
	}
	if err != nil {
		return fmt.Errorf("failed to save context: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save context: %w", err)
	}
	if n == 0 {
		return &domain.ContextConflictError{ChatID: c.ChatID, Expected: expectedVersion, Actual: s.contextVersion(ctx, c.ChatID)}
	}
	c.Version = expectedVersion + 1
	return nil
}

// contextVersion returns the stored version, 0 if none or on error.
func (s *Store) contextVersion(ctx context.Context, chatID int64) int {
	var v int
	if err := s.queryRow(ctx, `SELECT version FROM contexts WHERE chat_id = ?`, chatID).Scan(&v); err != nil {
		return 0
	}
	return v
}

func (s *Store) SaveAttachment(ctx context.Context, a *domain.Attachment) error {
	_, err := s.exec(ctx, `
		INSERT INTO attachments (chat_id, node_id, platform_file_id, storage_url, mime_type, size_bytes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ChatID, a.NodeID, a.PlatformFileID, a.StorageURL, a.MimeType, a.SizeBytes, utc(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save attachment: %w", err)
	}
	return nil
}

// Messages returns the message log of a chat in append order.
func (s *Store) Messages(ctx context.Context, chatID int64) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
		SELECT platform_message_id, direction, body, node_id, iteration, created_at
		FROM messages WHERE chat_id = ? ORDER BY id`), chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		m := domain.Message{ChatID: chatID}
		var dir string
		if err := rows.Scan(&m.PlatformMessageID, &dir, &m.Body, &m.NodeID, &m.Iteration, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Direction = domain.Direction(dir)
		out = append(out, m)
	}
	return out, rows.Err()
}

func utc(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	errorsmod "cosmossdk.io/errors"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"scrtgate/agent/internal/keylock"
	"scrtgate/agent/internal/types"
)

// Role tags a stored message with its author.
type Role string

const (
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
)

// Turn is one inbound message and the reply that was sent back.
type Turn struct {
	ID        int64
	UserID    string
	Message   string
	Response  string
	CreatedAt time.Time
}

// Message is a single role-tagged entry of a conversation.
type Message struct {
	TurnID    int64
	Role      Role
	Content   string
	CreatedAt time.Time
}

type Stats struct {
	Users     int64
	Turns     int64
	Convinced int64
}

// Store persists conversation turns and trading permissions in SQLite.
// Writes are committed before the call returns. Callers doing
// read-modify-write sequences for a user hold Lock(user) for the duration.
type Store struct {
	db    *sql.DB
	path  string
	locks *keylock.Locker
	log   *zap.Logger
	now   func() time.Time
}

// Open creates or opens the database at path and runs migrations.
func Open(path string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "" && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, errorsmod.Wrapf(types.ErrStorage, "create database directory: %v", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrStorage, "open database: %v", err)
	}
	// One connection: statements are short and never held across a chain or
	// model call, and deferred transactions upgrading to write on separate
	// connections fail with SQLITE_BUSY instead of waiting.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			log.Debug("sqlite pragma failed", zap.String("pragma", p), zap.Error(err))
		}
	}

	s := &Store{
		db:    db,
		path:  path,
		locks: keylock.New(),
		log:   log,
		now:   time.Now,
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	log.Debug("store opened", zap.String("path", path))
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS conversation_turns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS conversation_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			turn_id INTEGER NOT NULL REFERENCES conversation_turns(id),
			user_id TEXT NOT NULL,
			role TEXT NOT NULL CHECK (role IN ('human', 'assistant')),
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS trading_permissions (
			user_id TEXT PRIMARY KEY,
			convinced INTEGER NOT NULL DEFAULT 0,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_user ON conversation_turns(user_id, id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_user ON conversation_messages(user_id, id)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return errorsmod.Wrapf(types.ErrStorage, "migration failed: %v", err)
		}
	}
	return nil
}

// Lock serializes work for userID and returns the unlock func.
func (s *Store) Lock(userID string) func() {
	return s.locks.Lock(userID)
}

func checkUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return errorsmod.Wrap(types.ErrInvalidUser, "user id must not be empty")
	}
	return nil
}

// AppendTurn records message and response as one turn.
func (s *Store) AppendTurn(ctx context.Context, userID, message, response string) error {
	if err := checkUser(userID); err != nil {
		return err
	}
	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errorsmod.Wrapf(types.ErrStorage, "begin: %v", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"INSERT INTO conversation_turns (user_id, created_at) VALUES (?, ?)",
		userID, now,
	)
	if err != nil {
		return errorsmod.Wrapf(types.ErrStorage, "insert turn: %v", err)
	}
	turnID, err := res.LastInsertId()
	if err != nil {
		return errorsmod.Wrapf(types.ErrStorage, "turn id: %v", err)
	}

	for _, m := range []struct {
		role    Role
		content string
	}{{RoleHuman, message}, {RoleAssistant, response}} {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO conversation_messages (turn_id, user_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)",
			turnID, userID, string(m.role), m.content, now,
		); err != nil {
			return errorsmod.Wrapf(types.ErrStorage, "insert %s message: %v", m.role, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errorsmod.Wrapf(types.ErrStorage, "commit turn: %v", err)
	}
	s.log.Debug("turn stored", zap.String("user", userID), zap.Int64("turn", turnID))
	return nil
}

// History returns the user's turns oldest first.
func (s *Store) History(ctx context.Context, userID string) ([]Turn, error) {
	if err := checkUser(userID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.created_at,
			COALESCE(MAX(CASE WHEN m.role = 'human' THEN m.content END), ''),
			COALESCE(MAX(CASE WHEN m.role = 'assistant' THEN m.content END), '')
		FROM conversation_turns t
		JOIN conversation_messages m ON m.turn_id = t.id
		WHERE t.user_id = ?
		GROUP BY t.id
		ORDER BY t.id ASC`, userID)
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrStorage, "query history: %v", err)
	}
	defer rows.Close()

	turns := []Turn{}
	for rows.Next() {
		t := Turn{UserID: userID}
		if err := rows.Scan(&t.ID, &t.CreatedAt, &t.Message, &t.Response); err != nil {
			return nil, errorsmod.Wrapf(types.ErrStorage, "scan turn: %v", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errorsmod.Wrapf(types.ErrStorage, "read history: %v", err)
	}
	return turns, nil
}

// Messages returns the user's role-tagged messages in the order they were stored.
func (s *Store) Messages(ctx context.Context, userID string) ([]Message, error) {
	if err := checkUser(userID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT turn_id, role, content, created_at FROM conversation_messages WHERE user_id = ? ORDER BY id ASC",
		userID,
	)
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrStorage, "query messages: %v", err)
	}
	defer rows.Close()

	msgs := []Message{}
	for rows.Next() {
		var m Message
		var role string
		if err := rows.Scan(&m.TurnID, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, errorsmod.Wrapf(types.ErrStorage, "scan message: %v", err)
		}
		m.Role = Role(role)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errorsmod.Wrapf(types.ErrStorage, "read messages: %v", err)
	}
	return msgs, nil
}

// IsConvinced reports the stored permission flag. No record means false.
func (s *Store) IsConvinced(ctx context.Context, userID string) (bool, error) {
	if err := checkUser(userID); err != nil {
		return false, err
	}
	var convinced bool
	err := s.db.QueryRowContext(ctx,
		"SELECT convinced FROM trading_permissions WHERE user_id = ?", userID,
	).Scan(&convinced)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errorsmod.Wrapf(types.ErrStorage, "query permission: %v", err)
	}
	return convinced, nil
}

// SetConvinced flips the permission flag to true. changed is false when the
// flag was already set.
func (s *Store) SetConvinced(ctx context.Context, userID string) (bool, error) {
	if err := checkUser(userID); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO trading_permissions (user_id, convinced, updated_at) VALUES (?, 1, ?)
		ON CONFLICT(user_id) DO UPDATE SET convinced = 1, updated_at = excluded.updated_at
		WHERE trading_permissions.convinced = 0`,
		userID, s.now().UTC(),
	)
	if err != nil {
		return false, errorsmod.Wrapf(types.ErrStorage, "set permission: %v", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errorsmod.Wrapf(types.ErrStorage, "set permission: %v", err)
	}
	return n > 0, nil
}

// Stats summarizes what the store holds.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(DISTINCT user_id) FROM conversation_turns),
			(SELECT COUNT(*) FROM conversation_turns),
			(SELECT COUNT(*) FROM trading_permissions WHERE convinced = 1)`,
	).Scan(&st.Users, &st.Turns, &st.Convinced)
	if err != nil {
		return Stats{}, errorsmod.Wrapf(types.ErrStorage, "stats: %v", err)
	}
	return st, nil
}

func (s *Store) String() string {
	return fmt.Sprintf("sqlite(%s)", s.path)
}

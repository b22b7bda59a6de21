package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/liquidchat-server/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	last_seen     DATETIME,
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS conversations (
	id              TEXT PRIMARY KEY,
	participant_a   TEXT NOT NULL REFERENCES users(id),
	participant_b   TEXT NOT NULL REFERENCES users(id),
	pair_key        TEXT NOT NULL UNIQUE,
	last_message_at DATETIME NOT NULL,
	created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS global_messages (
	id         TEXT PRIMARY KEY,
	sender_id  TEXT NOT NULL REFERENCES users(id),
	content    TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS private_messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id),
	sender_id       TEXT NOT NULL REFERENCES users(id),
	content         TEXT NOT NULL,
	created_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_private_messages_conversation
	ON private_messages(conversation_id, created_at);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New opens (and if needed creates) the database at dbPath.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== UserDirectory implementation ====

// CreateUser inserts a new user with a fresh UUID.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, passwordHash string) (*store.User, error) {
	user := &store.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}

	query := `INSERT INTO users (id, username, password_hash, created_at) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, user.ID, user.Username, user.PasswordHash, user.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

// UserByID fetches a user by UUID.
func (s *SQLiteStore) UserByID(ctx context.Context, id string) (*store.User, error) {
	query := `SELECT id, username, password_hash, last_seen, created_at FROM users WHERE id = ?`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

// UserByUsername fetches a user by username.
func (s *SQLiteStore) UserByUsername(ctx context.Context, username string) (*store.User, error) {
	query := `SELECT id, username, password_hash, last_seen, created_at FROM users WHERE username = ?`
	return s.scanUser(s.db.QueryRowContext(ctx, query, username))
}

// TouchLastSeen records when a user's last session went away.
func (s *SQLiteStore) TouchLastSeen(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE users SET last_seen = ? WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, query, at.UTC(), id); err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}
	return nil
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*store.User, error) {
	var user store.User
	var lastSeen sql.NullTime
	err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &lastSeen, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	if lastSeen.Valid {
		user.LastSeen = &lastSeen.Time
	}
	return &user, nil
}

// ==== ConversationDirectory implementation ====

// pairKey gives both orderings of a user pair the same key.
func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

// Conversation fetches a conversation by UUID.
func (s *SQLiteStore) Conversation(ctx context.Context, id string) (*store.Conversation, error) {
	query := `SELECT id, participant_a, participant_b, last_message_at, created_at
		FROM conversations WHERE id = ?`
	return s.scanConversation(s.db.QueryRowContext(ctx, query, id))
}

// EnsureConversation returns the pair's conversation, creating it on first contact.
func (s *SQLiteStore) EnsureConversation(ctx context.Context, userA, userB string) (*store.Conversation, error) {
	if userA == userB {
		return nil, fmt.Errorf("conversation requires two distinct users")
	}

	key := pairKey(userA, userB)
	query := `SELECT id, participant_a, participant_b, last_message_at, created_at
		FROM conversations WHERE pair_key = ?`
	conv, err := s.scanConversation(s.db.QueryRowContext(ctx, query, key))
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	conv = &store.Conversation{
		ID:            uuid.NewString(),
		ParticipantA:  userA,
		ParticipantB:  userB,
		LastMessageAt: now,
		CreatedAt:     now,
	}
	insert := `INSERT INTO conversations (id, participant_a, participant_b, pair_key, last_message_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, insert, conv.ID, conv.ParticipantA, conv.ParticipantB, key, conv.LastMessageAt, conv.CreatedAt); err != nil {
		// Lost a race with a concurrent first message for the same pair.
		existing, selErr := s.scanConversation(s.db.QueryRowContext(ctx, query, key))
		if selErr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	return conv, nil
}

// ConversationsFor lists the conversations a user participates in.
func (s *SQLiteStore) ConversationsFor(ctx context.Context, userID string) ([]store.Conversation, error) {
	query := `SELECT id, participant_a, participant_b, last_message_at, created_at
		FROM conversations
		WHERE participant_a = ? OR participant_b = ?
		ORDER BY last_message_at DESC`
	rows, err := s.db.QueryContext(ctx, query, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var convs []store.Conversation
	for rows.Next() {
		var conv store.Conversation
		if err := rows.Scan(&conv.ID, &conv.ParticipantA, &conv.ParticipantB, &conv.LastMessageAt, &conv.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

func (s *SQLiteStore) scanConversation(row *sql.Row) (*store.Conversation, error) {
	var conv store.Conversation
	err := row.Scan(&conv.ID, &conv.ParticipantA, &conv.ParticipantB, &conv.LastMessageAt, &conv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	return &conv, nil
}

// ==== MessageStore implementation ====

// AppendGlobal durably appends a broadcast-room message.
func (s *SQLiteStore) AppendGlobal(ctx context.Context, msg *store.GlobalMessage) error {
	query := `INSERT INTO global_messages (id, sender_id, content, created_at) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, msg.ID, msg.SenderID, msg.Content, msg.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("insert global message: %w", err)
	}
	return nil
}

// AppendPrivate durably appends a conversation message and bumps the
// conversation's last-message timestamp in one transaction.
func (s *SQLiteStore) AppendPrivate(ctx context.Context, msg *store.PrivateMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	insert := `INSERT INTO private_messages (id, conversation_id, sender_id, content, created_at)
		VALUES (?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insert, msg.ID, msg.ConversationID, msg.SenderID, msg.Content, msg.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("insert private message: %w", err)
	}

	bump := `UPDATE conversations SET last_message_at = ? WHERE id = ?`
	if _, err := tx.ExecContext(ctx, bump, msg.CreatedAt.UTC(), msg.ConversationID); err != nil {
		return fmt.Errorf("bump conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/deskchat/deskchat-server/internal/store"
)

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	username      TEXT NOT NULL UNIQUE,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	is_admin      BOOLEAN NOT NULL DEFAULT 0,
	verified      BOOLEAN NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS chat_messages (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	user_pk       INTEGER NOT NULL REFERENCES users(id),
	message       TEXT NOT NULL,
	is_from_admin BOOLEAN NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_chat_messages_user_pk ON chat_messages(user_pk, id);

CREATE TABLE IF NOT EXISTS email_verifications (
	token      TEXT PRIMARY KEY,
	user_id    INTEGER NOT NULL REFERENCES users(id),
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== UserStore implementation ====

// CreateUser creates an unverified account.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, email, passwordHash string) (*store.User, error) {
	query := `
		INSERT INTO users (username, email, password_hash, is_admin, verified)
		VALUES (?, ?, ?, 0, 0)
	`
	result, err := s.db.ExecContext(ctx, query, username, email, passwordHash)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by primary key.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*store.User, error) {
	return s.getUser(ctx, `WHERE id = ?`, id)
}

// GetUserByEmail retrieves a user by email.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	return s.getUser(ctx, `WHERE email = ?`, email)
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	return s.getUser(ctx, `WHERE username = ?`, username)
}

func (s *SQLiteStore) getUser(ctx context.Context, where string, arg any) (*store.User, error) {
	query := `
		SELECT id, username, email, password_hash, is_admin, verified, created_at
		FROM users
	` + where

	var user store.User
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.IsAdmin,
		&user.Verified,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrUserNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}

	return &user, nil
}

// SetUserAdmin flips the admin flag. Admins are provisioned out of band,
// there is no HTTP surface for this.
func (s *SQLiteStore) SetUserAdmin(ctx context.Context, userID int64, isAdmin bool) error {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET is_admin = ? WHERE id = ?`, isAdmin, userID)
	if err != nil {
		return fmt.Errorf("update admin flag: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return store.ErrUserNotFound
	}
	return nil
}

// CreateVerification stores an email verification token for a user.
func (s *SQLiteStore) CreateVerification(ctx context.Context, userID int64, token string) error {
	query := `INSERT INTO email_verifications (token, user_id) VALUES (?, ?)`
	if _, err := s.db.ExecContext(ctx, query, token, userID); err != nil {
		return fmt.Errorf("insert verification: %w", err)
	}
	return nil
}

// ConsumeVerification spends a verification token and marks the owning
// account verified.
func (s *SQLiteStore) ConsumeVerification(ctx context.Context, token string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var userID int64
	err = tx.QueryRowContext(ctx, `SELECT user_id FROM email_verifications WHERE token = ?`, token).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrTokenNotFound
		}
		return 0, fmt.Errorf("query verification: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM email_verifications WHERE token = ?`, token); err != nil {
		return 0, fmt.Errorf("delete verification: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE users SET verified = 1 WHERE id = ?`, userID); err != nil {
		return 0, fmt.Errorf("mark verified: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return userID, nil
}

// ==== ChatStore implementation ====

// AppendMessage persists one message under the given customer thread.
func (s *SQLiteStore) AppendMessage(ctx context.Context, userPK int64, message string, isFromAdmin bool) (*store.ChatMessage, error) {
	// Mirror the FK check so a missing user surfaces as ErrUserNotFound
	// rather than a driver constraint error.
	if _, err := s.GetUserByID(ctx, userPK); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO chat_messages (user_pk, message, is_from_admin)
		VALUES (?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, userPK, message, isFromAdmin)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	var msg store.ChatMessage
	err = s.db.QueryRowContext(ctx, `
		SELECT id, user_pk, message, is_from_admin, created_at
		FROM chat_messages
		WHERE id = ?
	`, id).Scan(&msg.ID, &msg.UserPK, &msg.Message, &msg.IsFromAdmin, &msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("read back message: %w", err)
	}

	return &msg, nil
}

// ListMessagesByUser returns one customer's thread in creation order.
func (s *SQLiteStore) ListMessagesByUser(ctx context.Context, userPK int64) ([]*store.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_pk, message, is_from_admin, created_at
		FROM chat_messages
		WHERE user_pk = ?
		ORDER BY id
	`, userPK)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.ChatMessage
	for rows.Next() {
		var msg store.ChatMessage
		if err := rows.Scan(&msg.ID, &msg.UserPK, &msg.Message, &msg.IsFromAdmin, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return messages, nil
}

// ListConversations returns every verified customer's thread.
func (s *SQLiteStore) ListConversations(ctx context.Context) ([]*store.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.username, u.email, u.password_hash, u.is_admin, u.verified, u.created_at,
		       m.id, m.user_pk, m.message, m.is_from_admin, m.created_at
		FROM chat_messages m
		JOIN users u ON u.id = m.user_pk
		WHERE u.verified = 1
		ORDER BY m.user_pk, m.id
	`)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var (
		conversations []*store.Conversation
		current       *store.Conversation
	)
	for rows.Next() {
		var (
			user store.User
			msg  store.ChatMessage
		)
		err := rows.Scan(
			&user.ID, &user.Username, &user.Email, &user.PasswordHash,
			&user.IsAdmin, &user.Verified, &user.CreatedAt,
			&msg.ID, &msg.UserPK, &msg.Message, &msg.IsFromAdmin, &msg.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}

		if current == nil || current.User.ID != user.ID {
			current = &store.Conversation{User: &user}
			conversations = append(conversations, current)
		}
		current.Messages = append(current.Messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}

	return conversations, nil
}

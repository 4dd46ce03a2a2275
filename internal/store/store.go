package store

import (
	"context"
	"errors"
	"time"
)

// ErrUserNotFound is returned when a participant id or email resolves to nothing.
var ErrUserNotFound = errors.New("user not found")

// ErrTokenNotFound is returned when an email verification token is unknown or spent.
var ErrTokenNotFound = errors.New("verification token not found")

// User represents a registered account.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	IsAdmin      bool
	Verified     bool // email verification state
	CreatedAt    time.Time
}

// ChatMessage is a persisted support-chat message. UserPK is the customer
// the thread belongs to, which is not necessarily the sender: admin replies
// are stored under the customer they answer.
type ChatMessage struct {
	ID          int64
	UserPK      int64
	Message     string
	IsFromAdmin bool
	CreatedAt   time.Time
}

// Conversation groups one customer's thread for the admin overview.
type Conversation struct {
	User     *User
	Messages []*ChatMessage
}

// UserStore handles account persistence.
type UserStore interface {
	// CreateUser creates an unverified account.
	CreateUser(ctx context.Context, username, email, passwordHash string) (*User, error)

	// GetUserByID retrieves a user by primary key.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// GetUserByEmail retrieves a user by email.
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// CreateVerification stores an email verification token for a user.
	CreateVerification(ctx context.Context, userID int64, token string) error

	// ConsumeVerification spends a verification token and marks the owning
	// account verified. Returns the verified user's id.
	ConsumeVerification(ctx context.Context, token string) (int64, error)
}

// ChatStore handles chat message persistence. Appends are safe under
// concurrent writers; messages are immutable once written.
type ChatStore interface {
	// AppendMessage persists one message under the given customer thread.
	// Fails with ErrUserNotFound when userPK does not exist.
	AppendMessage(ctx context.Context, userPK int64, message string, isFromAdmin bool) (*ChatMessage, error)

	// ListMessagesByUser returns one customer's thread in creation order.
	ListMessagesByUser(ctx context.Context, userPK int64) ([]*ChatMessage, error)

	// ListConversations returns every verified customer's thread, grouped
	// per customer, messages in creation order.
	ListConversations(ctx context.Context) ([]*Conversation, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	ChatStore

	// Close closes the underlying database connection.
	Close() error
}

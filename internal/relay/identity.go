package relay

import (
	"context"
	"errors"

	"github.com/deskchat/deskchat-server/internal/store"
)

// Identity is the resolved role of a participant at connect time. The role
// is fixed for the lifetime of the connection.
type Identity struct {
	Exists  bool
	IsAdmin bool
}

// IdentityResolver maps a participant id to its role. Implementations that
// fail, and participants that do not exist, are treated by sessions as
// non-admin customers.
type IdentityResolver interface {
	ResolveRole(ctx context.Context, userPK int64) (Identity, error)
}

// StoreResolver resolves roles against the user store.
type StoreResolver struct {
	users store.UserStore
}

// NewStoreResolver builds a resolver backed by the given user store.
func NewStoreResolver(users store.UserStore) *StoreResolver {
	return &StoreResolver{users: users}
}

// ResolveRole looks the participant up. An unknown id is not an error,
// it resolves to a non-existent identity.
func (r *StoreResolver) ResolveRole(ctx context.Context, userPK int64) (Identity, error) {
	user, err := r.users.GetUserByID(ctx, userPK)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return Identity{}, nil
		}
		return Identity{}, err
	}
	return Identity{Exists: true, IsAdmin: user.IsAdmin}, nil
}

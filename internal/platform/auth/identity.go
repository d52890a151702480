package auth

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	firebaseauth "firebase.google.com/go/v4/auth"
)

// Roles recognised on admin accounts. Custom claims carry them as strings.
const (
	RoleUser  = "user"
	RoleStaff = "staff"
	RoleAdmin = "admin"
)

// ErrUserLoaderUnavailable means the identity has no way to fetch its user record.
var ErrUserLoaderUnavailable = errors.New("auth: user loader not configured")

// UserLoader resolves the Firebase profile behind a UID.
type UserLoader func(ctx context.Context, uid string) (*firebaseauth.UserRecord, error)

// Identity is the authenticated caller, as decoded from a Firebase ID token.
type Identity struct {
	UID   string
	Email string
	Roles []string

	token *firebaseauth.Token

	loadUser UserLoader
	loadOnce sync.Once
	user     *firebaseauth.UserRecord
	loadErr  error
}

// Token returns the decoded Firebase ID token backing this identity.
func (i *Identity) Token() *firebaseauth.Token {
	if i == nil {
		return nil
	}
	return i.token
}

// HasRole reports whether the caller holds the given role, ignoring case.
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = strings.TrimSpace(role)
	if role == "" {
		return false
	}
	return slices.ContainsFunc(i.Roles, func(held string) bool {
		return strings.EqualFold(held, role)
	})
}

// HasAnyRole reports whether the caller holds at least one of the roles.
func (i *Identity) HasAnyRole(roles ...string) bool {
	return slices.ContainsFunc(roles, i.HasRole)
}

// User fetches the Firebase user profile through the attached loader. The
// lookup runs once; later calls return the memoised record or error.
func (i *Identity) User(ctx context.Context) (*firebaseauth.UserRecord, error) {
	if i == nil || i.loadUser == nil {
		return nil, ErrUserLoaderUnavailable
	}
	i.loadOnce.Do(func() {
		i.user, i.loadErr = i.loadUser(ctx, i.UID)
	})
	return i.user, i.loadErr
}

type identityCtxKey struct{}

// WithIdentity attaches the identity to the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, identity)
}

// IdentityFromContext recovers the identity stored by WithIdentity, if any.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityCtxKey{}).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

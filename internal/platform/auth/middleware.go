package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/atelier-sucre/api/internal/platform/httpx"
)

const (
	roleClaim     = "role"
	emailClaim    = "email"
	fallbackRole  = RoleUser
	verifyTimeout = 5 * time.Second
)

var (
	// ErrTokenExpired marks a Firebase ID token past its expiry.
	ErrTokenExpired = errors.New("auth: firebase id token expired")
	// ErrTokenInvalid covers every other verification failure.
	ErrTokenInvalid = errors.New("auth: firebase id token invalid")
)

// TokenVerifier checks Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// UserGetter reads Firebase user records.
type UserGetter interface {
	GetUser(ctx context.Context, uid string) (*firebaseauth.UserRecord, error)
}

// Authenticator wires Firebase token verification into HTTP middleware. It
// guards the back-office surface: the `role` custom claim decides whether a
// staff member may reach the admin routes.
type Authenticator struct {
	verifier TokenVerifier
	users    UserGetter
	timeout  time.Duration
}

// Option adjusts an Authenticator.
type Option func(*Authenticator)

// WithUserGetter lets identities lazily load their Firebase user record.
func WithUserGetter(getter UserGetter) Option {
	return func(a *Authenticator) { a.users = getter }
}

// WithVerificationTimeout bounds token verification and user lookups.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAuthenticator builds the middleware-facing Firebase authenticator.
func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{verifier: verifier, timeout: verifyTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// roleSet is a normalised allow-list of roles. Empty means any role passes.
type roleSet map[string]struct{}

func newRoleSet(roles []string) roleSet {
	set := make(roleSet, len(roles))
	for _, role := range roles {
		if normalised := normaliseRole(role); normalised != "" {
			set[normalised] = struct{}{}
		}
	}
	return set
}

func (s roleSet) permits(roles []string) bool {
	if len(s) == 0 {
		return true
	}
	for _, role := range roles {
		if _, ok := s[normaliseRole(role)]; ok {
			return true
		}
	}
	return false
}

// RequireFirebaseAuth rejects requests whose bearer token is absent, bad, or
// held by a caller outside the allowed roles.
func (a *Authenticator) RequireFirebaseAuth(allowedRoles ...string) func(http.Handler) http.Handler {
	allowed := newRoleSet(allowedRoles)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, authErr := a.authenticate(r)
			if authErr != nil {
				httpx.WriteError(r.Context(), w, *authErr)
				return
			}
			if !allowed.permits(identity.Roles) {
				httpx.WriteError(r.Context(), w, httpx.NewError("insufficient_role", "identity does not have required role", http.StatusUnauthorized))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// authenticate verifies the request's bearer token and builds the identity.
// The returned httpx.Error is nil on success.
func (a *Authenticator) authenticate(r *http.Request) (*Identity, *httpx.Error) {
	tokenStr, ok := extractBearerToken(r.Header.Get("Authorization"))
	if !ok {
		return nil, authError("unauthenticated", "authorization header missing or invalid")
	}
	if a == nil || a.verifier == nil {
		return nil, authError("unauthenticated", "authorization service unavailable")
	}

	ctx, cancel := a.boundContext(r.Context())
	if cancel != nil {
		defer cancel()
	}

	token, err := a.verifier.VerifyIDToken(ctx, tokenStr)
	if err != nil {
		return nil, verificationError(err)
	}

	identity := &Identity{
		UID:   token.UID,
		Email: claimAsString(token.Claims, emailClaim),
		Roles: rolesFromClaims(token.Claims, roleClaim),
		token: token,
	}
	if len(identity.Roles) == 0 {
		identity.Roles = []string{fallbackRole}
	}
	if a.users != nil {
		identity.loadUser = a.boundUserLoader(identity.UID)
	}
	return identity, nil
}

// boundUserLoader fetches user records with the authenticator's timeout,
// defaulting to the authenticated UID when none is given.
func (a *Authenticator) boundUserLoader(defaultUID string) UserLoader {
	return func(ctx context.Context, uid string) (*firebaseauth.UserRecord, error) {
		if uid == "" {
			uid = defaultUID
		}
		ctx, cancel := a.boundContext(ctx)
		if cancel != nil {
			defer cancel()
		}
		return a.users.GetUser(ctx, uid)
	}
}

func (a *Authenticator) boundContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a == nil || a.timeout <= 0 {
		return ctx, nil
	}
	return context.WithTimeout(ctx, a.timeout)
}

// rolesFromClaims accepts the two shapes Firebase custom claims decode to:
// a single role string or a JSON array of them.
func rolesFromClaims(claims map[string]any, key string) []string {
	switch v := claims[key].(type) {
	case string:
		if role := normaliseRole(v); role != "" {
			return []string{role}
		}
		return nil
	case []any:
		var out []string
		seen := make(map[string]struct{}, len(v))
		for _, value := range v {
			str, ok := value.(string)
			if !ok {
				continue
			}
			role := normaliseRole(str)
			if role == "" {
				continue
			}
			if _, dup := seen[role]; dup {
				continue
			}
			seen[role] = struct{}{}
			out = append(out, role)
		}
		return out
	default:
		return nil
	}
}

func claimAsString(claims map[string]any, key string) string {
	if str, ok := claims[key].(string); ok {
		return strings.TrimSpace(str)
	}
	return ""
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

func extractBearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func authError(code, message string) *httpx.Error {
	err := httpx.NewError(code, message, http.StatusUnauthorized)
	return &err
}

func verificationError(err error) *httpx.Error {
	switch {
	case errors.Is(err, ErrTokenExpired), firebaseauth.IsIDTokenExpired(err):
		return authError("token_expired", "firebase id token expired")
	case errors.Is(err, ErrTokenInvalid), firebaseauth.IsIDTokenInvalid(err):
		return authError("invalid_token", "firebase id token invalid")
	default:
		return authError("invalid_token", "firebase id token verification failed")
	}
}

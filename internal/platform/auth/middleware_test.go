package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
)

type stubTokenVerifier struct {
	token    *firebaseauth.Token
	err      error
	received string
}

func (s *stubTokenVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

type stubUserGetter struct {
	record  *firebaseauth.UserRecord
	calls   int
	lastUID string
}

func (s *stubUserGetter) GetUser(ctx context.Context, uid string) (*firebaseauth.UserRecord, error) {
	s.calls++
	s.lastUID = uid
	return s.record, nil
}

func staffToken(uid, email string, roles ...interface{}) *firebaseauth.Token {
	return &firebaseauth.Token{
		UID: uid,
		Claims: map[string]interface{}{
			"role":  roles,
			"email": email,
		},
	}
}

func serveWithAuth(t *testing.T, authn *Authenticator, bearer string, allowed []string, next http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	if next == nil {
		next = func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }
	}
	handler := authn.RequireFirebaseAuth(allowed...)(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if bearer != "" {
		req.Header.Set("Authorization", bearer)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body, got %q: %v", rr.Body.String(), err)
	}
	code, _ := body["error"].(string)
	return code
}

func TestRequireFirebaseAuth_AllowsValidToken(t *testing.T) {
	verifier := &stubTokenVerifier{token: staffToken("uid-123", "pauline@atelier-sucre.fr", "staff", "admin")}
	userGetter := &stubUserGetter{record: &firebaseauth.UserRecord{
		UserInfo: &firebaseauth.UserInfo{UID: "uid-123", Email: "pauline@atelier-sucre.fr"},
	}}

	authn := NewAuthenticator(verifier, WithUserGetter(userGetter))

	handlerCalled := false
	rr := serveWithAuth(t, authn, "Bearer token-value", []string{RoleStaff}, func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true

		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("expected identity in context")
		}
		if identity.UID != "uid-123" {
			t.Fatalf("unexpected uid: %s", identity.UID)
		}
		if !identity.HasAnyRole(RoleStaff) {
			t.Fatalf("expected staff role, got %v", identity.Roles)
		}
		if identity.Email != "pauline@atelier-sucre.fr" {
			t.Fatalf("unexpected email %s", identity.Email)
		}

		// The user loader must be lazy and memoised.
		loaded, err := identity.User(r.Context())
		if err != nil {
			t.Fatalf("unexpected user load error: %v", err)
		}
		loadedAgain, err := identity.User(r.Context())
		if err != nil {
			t.Fatalf("unexpected second user load error: %v", err)
		}
		if loaded != loadedAgain {
			t.Fatalf("expected cached user record")
		}

		w.WriteHeader(http.StatusNoContent)
	})

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rr.Code)
	}
	if !handlerCalled {
		t.Fatalf("expected handler to be called")
	}
	if verifier.received != "token-value" {
		t.Fatalf("expected verifier to receive token-value, got %s", verifier.received)
	}
	if userGetter.calls != 1 || userGetter.lastUID != "uid-123" {
		t.Fatalf("expected single user fetch for uid-123, got %d calls for %q", userGetter.calls, userGetter.lastUID)
	}
}

func TestRequireFirebaseAuth_ExpiredToken(t *testing.T) {
	authn := NewAuthenticator(&stubTokenVerifier{err: ErrTokenExpired})

	rr := serveWithAuth(t, authn, "Bearer expired-token", []string{RoleUser}, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not execute on expired token")
	})

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != "token_expired" {
		t.Fatalf("expected token_expired error, got %v", code)
	}
}

func TestRequireFirebaseAuth_RejectsBadAuthorizationHeaders(t *testing.T) {
	cases := map[string]string{
		"missing header":  "",
		"wrong scheme":    "Basic dXNlcjpwYXNz",
		"scheme only":     "Bearer ",
		"no scheme token": "just-a-token",
	}

	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			authn := NewAuthenticator(&stubTokenVerifier{token: staffToken("uid-1", "", "staff")})
			rr := serveWithAuth(t, authn, header, nil, func(w http.ResponseWriter, r *http.Request) {
				t.Fatalf("handler should not execute without a bearer token")
			})
			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rr.Code)
			}
			if code := errorCode(t, rr); code != "unauthenticated" {
				t.Fatalf("expected unauthenticated error, got %v", code)
			}
		})
	}
}

func TestRequireFirebaseAuth_RejectsInsufficientRole(t *testing.T) {
	verifier := &stubTokenVerifier{token: staffToken("uid-789", "livreur@atelier-sucre.fr", "user")}
	authn := NewAuthenticator(verifier)

	rr := serveWithAuth(t, authn, "Bearer token", []string{RoleAdmin}, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not execute without the admin role")
	})

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != "insufficient_role" {
		t.Fatalf("expected insufficient_role error, got %v", code)
	}
}

func TestRequireFirebaseAuth_MissingRoleUsesFallback(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{
		UID:    "uid-456",
		Claims: map[string]interface{}{},
	}}
	authn := NewAuthenticator(verifier)

	rr := serveWithAuth(t, authn, "Bearer missing-role-token", nil, func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("expected identity in context")
		}
		if len(identity.Roles) != 1 || identity.Roles[0] != RoleUser {
			t.Fatalf("expected fallback role %q, got %v", RoleUser, identity.Roles)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
}

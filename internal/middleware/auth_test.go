package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mmeshcher/renthome-system/internal/model"
)

func testUser() *model.User {
	return &model.User{
		ID:    42,
		Phone: "13812345678",
		Role:  model.UserRoleAdmin,
	}
}

func TestAuthMiddleware_WithValidToken(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	token, err := m.IssueAccessToken(testUser())
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		identity, ok := GetIdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("identity not in context")
		}
		if identity.UserID != 42 {
			t.Fatalf("user id from context = %d, want 42", identity.UserID)
		}
		if identity.Role != model.UserRoleAdmin {
			t.Fatalf("role from context = %s, want admin", identity.Role)
		}
	})

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	handler := m.Middleware(next)
	handler.ServeHTTP(httptest.NewRecorder(), r)

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
}

func TestAuthMiddleware_WithoutToken(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)

	handler := m.Middleware(next)
	handler.ServeHTTP(w, r)

	res := w.Result()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_WrongSecret(t *testing.T) {
	issuer := NewAuthMiddleware("secret-one")
	verifier := NewAuthMiddleware("secret-two")

	token, err := issuer.IssueAccessToken(testUser())
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	handler := verifier.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	}))
	handler.ServeHTTP(w, r)

	res := w.Result()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestRequireAdmin_ForbidsUserRole(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	user := testUser()
	user.Role = model.UserRoleUser
	token, err := m.IssueAccessToken(user)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/houses", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	handler := m.Middleware(m.RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})))
	handler.ServeHTTP(w, r)

	res := w.Result()
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusForbidden)
	}
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	token, expires, err := m.IssueRefreshToken(testUser())
	if err != nil {
		t.Fatalf("issue refresh token: %v", err)
	}
	if !expires.After(time.Now().Add(6 * 24 * time.Hour)) {
		t.Fatalf("refresh token expires too early: %v", expires)
	}

	claims, err := m.ParseToken(token)
	if err != nil {
		t.Fatalf("parse refresh token: %v", err)
	}
	if claims.Subject != "42" {
		t.Fatalf("subject = %q, want 42", claims.Subject)
	}
	if claims.Phone != "13812345678" {
		t.Fatalf("phone = %q, want 13812345678", claims.Phone)
	}
}

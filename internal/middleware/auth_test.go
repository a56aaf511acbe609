package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mmeshcher/beeper-shop-system/internal/model"
	"github.com/mmeshcher/beeper-shop-system/internal/service"
)

type stubAuthenticator struct {
	user        *model.User
	userErr     error
	operator    *model.Operator
	operatorErr error
}

func (s *stubAuthenticator) AuthenticateUser(ctx context.Context, identifier, password string) (*model.User, error) {
	return s.user, s.userErr
}

func (s *stubAuthenticator) AuthenticateOperator(ctx context.Context, username, password string) (*model.Operator, error) {
	return s.operator, s.operatorErr
}

func TestUserAuth_ValidCredentials(t *testing.T) {
	m := NewAuthMiddleware(&stubAuthenticator{
		user: &model.User{ID: 42, Username: "buyer"},
	})

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		u, ok := GetUserFromContext(r.Context())
		if !ok {
			t.Fatalf("user not in context")
		}
		if u.ID != 42 {
			t.Fatalf("user id from context = %d, want 42", u.ID)
		}
	})

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.SetBasicAuth("buyer", "secret")

	m.UserAuth(next).ServeHTTP(httptest.NewRecorder(), r)

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
}

func TestUserAuth_MissingCredentials(t *testing.T) {
	m := NewAuthMiddleware(&stubAuthenticator{})

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)

	m.UserAuth(next).ServeHTTP(w, r)

	res := w.Result()
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q, want application/json", ct)
	}
}

func TestUserAuth_InvalidCredentials(t *testing.T) {
	m := NewAuthMiddleware(&stubAuthenticator{
		userErr: service.ErrInvalidCredentials,
	})

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.SetBasicAuth("buyer", "wrong")

	m.UserAuth(next).ServeHTTP(w, r)

	res := w.Result()
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestOperatorAuth_ValidCredentials(t *testing.T) {
	m := NewAuthMiddleware(&stubAuthenticator{
		operator: &model.Operator{ID: 7, Username: "admin"},
	})

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		op, ok := GetOperatorFromContext(r.Context())
		if !ok {
			t.Fatalf("operator not in context")
		}
		if op.Username != "admin" {
			t.Fatalf("operator username = %q, want admin", op.Username)
		}
	})

	r := httptest.NewRequest(http.MethodGet, "/ops", nil)
	r.SetBasicAuth("admin", "op_password123")

	m.OperatorAuth(next).ServeHTTP(httptest.NewRecorder(), r)

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
}

func TestOperatorAuth_UserCredentialsDoNotGrantOperatorAccess(t *testing.T) {
	// Учётные записи покупателей и операторов независимы: корректный логин
	// покупателя не проходит проверку оператора.
	m := NewAuthMiddleware(&stubAuthenticator{
		user:        &model.User{ID: 1, Username: "buyer"},
		operatorErr: service.ErrInvalidCredentials,
	})

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/ops", nil)
	r.SetBasicAuth("buyer", "secret")

	m.OperatorAuth(next).ServeHTTP(w, r)

	res := w.Result()
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestUserAuth_StorageError(t *testing.T) {
	m := NewAuthMiddleware(&stubAuthenticator{
		userErr: context.DeadlineExceeded,
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.SetBasicAuth("buyer", "secret")

	m.UserAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})).ServeHTTP(w, r)

	res := w.Result()
	defer res.Body.Close()
	if res.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusInternalServerError)
	}
}

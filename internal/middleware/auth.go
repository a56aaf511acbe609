// Package middleware содержит HTTP middleware магазина биперов.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mmeshcher/beeper-shop-system/internal/model"
	"github.com/mmeshcher/beeper-shop-system/internal/service"
)

type contextKey string

const (
	userKey     contextKey = "user"
	operatorKey contextKey = "operator"
)

// Authenticator описывает проверку учётных данных обоих типов принципалов.
type Authenticator interface {
	AuthenticateUser(ctx context.Context, identifier, password string) (*model.User, error)
	AuthenticateOperator(ctx context.Context, username, password string) (*model.Operator, error)
}

// AuthMiddleware выполняет проверку HTTP Basic Authentication для покупателей
// и операторов.
type AuthMiddleware struct {
	auth Authenticator
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware.
func NewAuthMiddleware(a Authenticator) *AuthMiddleware {
	return &AuthMiddleware{auth: a}
}

// UserAuth проверяет учётные данные покупателя из заголовка Authorization и
// добавляет пользователя в контекст запроса.
func (a *AuthMiddleware) UserAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		login, password, ok := r.BasicAuth()
		if !ok || login == "" || password == "" {
			writeAuthError(w, http.StatusUnauthorized, "Authentication required. Please provide username and password.")
			return
		}

		u, err := a.auth.AuthenticateUser(r.Context(), login, password)
		if err != nil {
			if errors.Is(err, service.ErrInvalidCredentials) {
				writeAuthError(w, http.StatusUnauthorized, "Invalid credentials.")
				return
			}
			writeAuthError(w, http.StatusInternalServerError, "Internal server error.")
			return
		}

		ctx := context.WithValue(r.Context(), userKey, u)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OperatorAuth проверяет учётные данные оператора из заголовка Authorization и
// добавляет оператора в контекст запроса.
func (a *AuthMiddleware) OperatorAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		login, password, ok := r.BasicAuth()
		if !ok || login == "" || password == "" {
			writeAuthError(w, http.StatusUnauthorized, "Operator authentication required. Please provide username and password.")
			return
		}

		op, err := a.auth.AuthenticateOperator(r.Context(), login, password)
		if err != nil {
			if errors.Is(err, service.ErrInvalidCredentials) {
				writeAuthError(w, http.StatusUnauthorized, "Invalid operator credentials.")
				return
			}
			writeAuthError(w, http.StatusInternalServerError, "Internal server error.")
			return
		}

		ctx := context.WithValue(r.Context(), operatorKey, op)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// GetUserFromContext извлекает аутентифицированного покупателя из контекста запроса.
func GetUserFromContext(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(userKey).(*model.User)
	return u, ok
}

// GetOperatorFromContext извлекает аутентифицированного оператора из контекста запроса.
func GetOperatorFromContext(ctx context.Context) (*model.Operator, bool) {
	op, ok := ctx.Value(operatorKey).(*model.Operator)
	return op, ok
}

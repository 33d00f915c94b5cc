// Package middleware содержит HTTP middleware сервиса доставки воды.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/mmeshcher/water-delivery-system/internal/model"
	"github.com/mmeshcher/water-delivery-system/internal/token"
)

type contextKey string

const principalKey contextKey = "principal"

// UserProvider возвращает пользователя по внутреннему идентификатору.
type UserProvider interface {
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
}

// AuthMiddleware выполняет проверку bearer-токена и резолвит субъекта запроса.
type AuthMiddleware struct {
	tokens *token.Manager
	users  UserProvider
}

// NewAuthMiddleware создаёт middleware аутентификации с указанным менеджером
// токенов и источником пользователей.
func NewAuthMiddleware(tokens *token.Manager, users UserProvider) *AuthMiddleware {
	return &AuthMiddleware{
		tokens: tokens,
		users:  users,
	}
}

// Middleware проверяет заголовок Authorization и добавляет субъекта в
// контекст запроса. Роль берётся из актуальной записи пользователя, поэтому
// смена роли действует сразу, без повторного входа.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		userID, err := a.tokens.Parse(parts[1])
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		user, err := a.users.GetUserByID(r.Context(), userID)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		p := model.Principal{UserID: user.ID, Role: user.Role}
		ctx := context.WithValue(r.Context(), principalKey, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRoles пропускает запрос, только если роль субъекта входит в набор
// разрешённых.
func RequireRoles(allowed ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := GetPrincipalFromContext(r.Context())
			if !ok {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}

			for _, role := range allowed {
				if p.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}

			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}
}

// GetPrincipalFromContext извлекает субъекта запроса из контекста.
func GetPrincipalFromContext(ctx context.Context) (model.Principal, bool) {
	p, ok := ctx.Value(principalKey).(model.Principal)
	return p, ok
}

// WithPrincipal возвращает контекст с установленным субъектом запроса.
// Используется в тестах обработчиков.
func WithPrincipal(ctx context.Context, p model.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

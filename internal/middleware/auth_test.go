package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mmeshcher/water-delivery-system/internal/model"
	"github.com/mmeshcher/water-delivery-system/internal/repository"
	"github.com/mmeshcher/water-delivery-system/internal/token"
)

type stubUsers struct {
	users map[int64]*model.User
}

func (s *stubUsers) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return u, nil
}

func principalHandler(t *testing.T, got *model.Principal) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := GetPrincipalFromContext(r.Context())
		if !ok {
			t.Fatalf("principal missing in context")
		}
		*got = p
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware(t *testing.T) {
	tokens := token.NewManager("test-secret", 60)
	users := &stubUsers{users: map[int64]*model.User{
		7: {ID: 7, TelegramID: "777", Role: model.RoleCourier},
	}}
	auth := NewAuthMiddleware(tokens, users)

	signed, err := tokens.Issue(7, model.RoleClient)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	var got model.Principal
	handler := auth.Middleware(principalHandler(t, &got))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+signed)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got.UserID != 7 {
		t.Fatalf("UserID = %d, want 7", got.UserID)
	}
	// Роль берётся из записи пользователя, а не из токена.
	if got.Role != model.RoleCourier {
		t.Fatalf("Role = %s, want courier", got.Role)
	}
}

func TestAuthMiddleware_Unauthorized(t *testing.T) {
	tokens := token.NewManager("test-secret", 60)
	users := &stubUsers{users: map[int64]*model.User{}}
	auth := NewAuthMiddleware(tokens, users)

	orphan, err := tokens.Issue(42, model.RoleClient)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	foreign, err := token.NewManager("another-secret", 60).Issue(7, model.RoleClient)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	tests := []struct {
		name   string
		header string
	}{
		{name: "no header", header: ""},
		{name: "not bearer", header: "Basic abc"},
		{name: "garbage token", header: "Bearer not-a-token"},
		{name: "wrong secret", header: "Bearer " + foreign},
		{name: "unknown user", header: "Bearer " + orphan},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatalf("next handler must not be reached")
			}))

			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)

			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", w.Code)
			}
		})
	}
}

func TestRequireRoles(t *testing.T) {
	tests := []struct {
		name      string
		principal *model.Principal
		wantCode  int
	}{
		{name: "operator allowed", principal: &model.Principal{UserID: 1, Role: model.RoleOperator}, wantCode: http.StatusOK},
		{name: "courier allowed", principal: &model.Principal{UserID: 2, Role: model.RoleCourier}, wantCode: http.StatusOK},
		{name: "client forbidden", principal: &model.Principal{UserID: 3, Role: model.RoleClient}, wantCode: http.StatusForbidden},
		{name: "no principal", principal: nil, wantCode: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := RequireRoles(model.RoleOperator, model.RoleCourier)(
				http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusOK)
				}))

			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.principal != nil {
				r = r.WithContext(WithPrincipal(r.Context(), *tt.principal))
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)

			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
		})
	}
}

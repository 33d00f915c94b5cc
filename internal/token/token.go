// Package token выпускает и проверяет токены доступа.
package token

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dgrijalva/jwt-go"

	"github.com/mmeshcher/water-delivery-system/internal/apperr"
	"github.com/mmeshcher/water-delivery-system/internal/model"
)

// TypeBearer — тип выпускаемых токенов для ответа на запрос входа.
const TypeBearer = "bearer"

// Claims описывает полезную нагрузку токена доступа.
type Claims struct {
	Role string `json:"role"`
	jwt.StandardClaims
}

// Manager выпускает и проверяет подписанные токены с общим секретом.
type Manager struct {
	secret   []byte
	lifetime time.Duration
}

// NewManager создаёт менеджер токенов с указанным секретом и временем жизни в минутах.
func NewManager(secret string, lifetimeMinutes int) *Manager {
	return &Manager{
		secret:   []byte(secret),
		lifetime: time.Duration(lifetimeMinutes) * time.Minute,
	}
}

// Issue выпускает подписанный HS256-токен для указанного пользователя.
// Роль в токене носит справочный характер: при проверке запроса роль
// перечитывается из базы.
func (m *Manager) Issue(userID int64, role model.Role) (string, error) {
	claims := &Claims{
		Role: string(role),
		StandardClaims: jwt.StandardClaims{
			Subject:   strconv.FormatInt(userID, 10),
			ExpiresAt: time.Now().Add(m.lifetime).Unix(),
		},
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}

// Parse проверяет подпись и срок действия токена и возвращает идентификатор субъекта.
func (m *Manager) Parse(tokenString string) (int64, error) {
	claims := &Claims{}

	t, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !t.Valid {
		return 0, fmt.Errorf("%w: invalid token", apperr.ErrAuthentication)
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, fmt.Errorf("%w: bad token subject", apperr.ErrAuthentication)
	}

	return userID, nil
}
